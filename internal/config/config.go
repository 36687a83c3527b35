// Package config loads the service's configuration: a YAML file given on the
// command line (server, openstack, bibigrid, forc, metadata_server, redis,
// production) plus a set of secret/auth environment variables that are
// deliberately kept out of the YAML file.
package config

import (
	"fmt"
	"os"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// ServerConfig is the `server:` YAML block.
type ServerConfig struct {
	Host        string `yaml:"host"`
	Port        int    `yaml:"port"`
	Threads     int    `yaml:"threads"`
	UseSSL      bool   `yaml:"use_ssl"`
	CertFile    string `yaml:"certfile"`
	CACertsPath string `yaml:"ca_certs_path"`
}

// OpenStackConfig is the `openstack:` YAML block.
type OpenStackConfig struct {
	GatewayIP              string `yaml:"gateway_ip"`
	InternalGatewayIP      string `yaml:"internal_gateway_ip"`
	Network                string `yaml:"network"`
	CloudSite              string `yaml:"cloud_site"`
	SSHPortCalculation     string `yaml:"ssh_port_calculation"`
	UDPPortCalculation     string `yaml:"udp_port_calculation"`
	GatewaySecurityGroupID string `yaml:"gateway_security_group_id"`
	ForcSecurityGroupID    string `yaml:"forc_security_group_id"`
	ComputeAPIVersion      string `yaml:"compute_api_version"`
}

// BibigridConfig is the `bibigrid:` YAML block. When Activated is false the
// cluster subsystem is inert: RPC operations return BackendNotFound.
type BibigridConfig struct {
	Activated             bool     `yaml:"activated"`
	Host                  string   `yaml:"host"`
	Port                  int      `yaml:"port"`
	HTTPS                 bool     `yaml:"https"`
	Modes                 []string `yaml:"modes"`
	SubNetwork            string   `yaml:"sub_network"`
	UseMasterWithPublicIP bool     `yaml:"use_master_with_public_ip"`
	LocalDNSLookup        bool     `yaml:"localDnsLookup"`
	AnsibleGalaxyRoles    []string `yaml:"ansibleGalaxyRoles"`
}

// ForcConfig is the `forc:` YAML block.
type ForcConfig struct {
	Activated               bool   `yaml:"activated"`
	ForcBackendURL          string `yaml:"forc_backend_url"`
	ForcAccessURL           string `yaml:"forc_access_url"`
	GithubPlaybooksRepo     string `yaml:"github_playbooks_repo"`
	UpdateTemplatesSchedule string `yaml:"update_templates_schedule"`
}

// MetadataServerConfig is the `metadata_server:` YAML block.
type MetadataServerConfig struct {
	Activated bool   `yaml:"activated"`
	Host      string `yaml:"host"`
	Port      int    `yaml:"port"`
	UseHTTPS  bool   `yaml:"use_https"`
}

// RedisConfig is the `redis:` YAML block, backing the KV state store.
type RedisConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// YAMLConfig is the full shape of the on-disk YAML configuration file.
type YAMLConfig struct {
	Server         ServerConfig         `yaml:"server"`
	OpenStack      OpenStackConfig      `yaml:"openstack"`
	Bibigrid       BibigridConfig       `yaml:"bibigrid"`
	Forc           ForcConfig           `yaml:"forc"`
	MetadataServer MetadataServerConfig `yaml:"metadata_server"`
	Redis          RedisConfig          `yaml:"redis"`
	Production     bool                 `yaml:"production"`
}

// EnvConfig holds the secret and auth values deliberately not stored in the
// YAML file; see spec.md §6 "Environment variables".
type EnvConfig struct {
	OSAuthURL                  string `env:"OS_AUTH_URL,required"`
	UseApplicationCredentials  bool   `env:"USE_APPLICATION_CREDENTIALS" envDefault:"false"`
	OSApplicationCredentialID  string `env:"OS_APPLICATION_CREDENTIAL_ID"`
	OSApplicationCredentialKey string `env:"OS_APPLICATION_CREDENTIAL_SECRET"`
	OSUsername                 string `env:"OS_USERNAME"`
	OSPassword                 string `env:"OS_PASSWORD"`
	OSProjectName              string `env:"OS_PROJECT_NAME"`
	OSProjectID                string `env:"OS_PROJECT_ID"`
	OSUserDomainName           string `env:"OS_USER_DOMAIN_NAME"`
	OSProjectDomainID          string `env:"OS_PROJECT_DOMAIN_ID"`
	ForcAPIKey                 string `env:"FORC_API_KEY"`
	MetadataWriteToken         string `env:"METADATA_WRITE_TOKEN"`
	LogLevel                   string `env:"LOG_LEVEL" envDefault:"info"`
	LogFile                    string `env:"LOG_FILE"`
	LogMaxBytes                int    `env:"LOG_MAX_BATES" envDefault:"10485760"`
	LogBackupCount              int   `env:"LOG_BACKUP_COUNT" envDefault:"5"`
	OTLPEndpoint               string `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
}

// Config is the fully assembled, validated configuration used by the rest of
// the service.
type Config struct {
	YAML YAMLConfig
	Env  EnvConfig
}

// Load reads the YAML file at path and overlays the environment-variable
// configuration described in spec.md §6.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file %s: %w", path, err)
	}

	var y YAMLConfig
	if err := yaml.Unmarshal(data, &y); err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}

	var e EnvConfig
	if err := env.Parse(&e); err != nil {
		return nil, fmt.Errorf("parsing environment configuration: %w", err)
	}

	cfg := &Config{YAML: y, Env: e}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Env.UseApplicationCredentials {
		if c.Env.OSApplicationCredentialID == "" || c.Env.OSApplicationCredentialKey == "" {
			return fmt.Errorf("USE_APPLICATION_CREDENTIALS=true requires OS_APPLICATION_CREDENTIAL_ID and OS_APPLICATION_CREDENTIAL_SECRET")
		}
	} else if c.Env.OSUsername == "" || c.Env.OSPassword == "" || c.Env.OSProjectName == "" {
		return fmt.Errorf("password auth requires OS_USERNAME, OS_PASSWORD and OS_PROJECT_NAME")
	}
	if c.YAML.Server.Port == 0 {
		return fmt.Errorf("server.port must be set")
	}
	return nil
}

// ListenAddr returns the host:port the RPC server should listen on.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.YAML.Server.Host, c.YAML.Server.Port)
}
