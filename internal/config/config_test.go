package config

import (
	"os"
	"path/filepath"
	"testing"
)

const sampleYAML = `
server:
  host: 0.0.0.0
  port: 6000
  threads: 16
  use_ssl: false
openstack:
  gateway_ip: 10.0.0.1
  network: internal
  cloud_site: bibi
  ssh_port_calculation: "30000 + x + y * 256"
  udp_port_calculation: "30000 + x + y * 256"
  gateway_security_group_id: gw-sg
bibigrid:
  activated: true
  host: bibigrid.example.org
  port: 443
  https: true
  sub_network: sub-1
forc:
  activated: true
  forc_backend_url: https://forc.example.org
  forc_access_url: https://forc.example.org
metadata_server:
  activated: true
  host: metadata.example.org
  port: 9000
redis:
  host: localhost
  port: 6379
production: false
`

func writeTempYAML(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yml")
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("writing temp config: %v", err)
	}
	return path
}

func withEnv(t *testing.T, kv map[string]string) {
	t.Helper()
	for k, v := range kv {
		t.Setenv(k, v)
	}
}

func TestLoadParsesYAMLAndEnv(t *testing.T) {
	path := writeTempYAML(t, sampleYAML)
	withEnv(t, map[string]string{
		"OS_AUTH_URL":     "https://keystone.example.org/v3",
		"OS_USERNAME":     "svc",
		"OS_PASSWORD":     "secret",
		"OS_PROJECT_NAME": "proj",
	})

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.YAML.Server.Port != 6000 {
		t.Errorf("Server.Port = %d, want 6000", cfg.YAML.Server.Port)
	}
	if cfg.YAML.OpenStack.SSHPortCalculation != "30000 + x + y * 256" {
		t.Errorf("unexpected ssh_port_calculation: %q", cfg.YAML.OpenStack.SSHPortCalculation)
	}
	if !cfg.YAML.Bibigrid.Activated {
		t.Error("expected bibigrid.activated == true")
	}
	if cfg.Env.OSUsername != "svc" {
		t.Errorf("Env.OSUsername = %q, want svc", cfg.Env.OSUsername)
	}
	if cfg.Env.LogLevel != "info" {
		t.Errorf("Env.LogLevel default = %q, want info", cfg.Env.LogLevel)
	}
	if got := cfg.ListenAddr(); got != "0.0.0.0:6000" {
		t.Errorf("ListenAddr() = %q, want 0.0.0.0:6000", got)
	}
}

func TestLoadRejectsIncompleteAuth(t *testing.T) {
	path := writeTempYAML(t, sampleYAML)
	withEnv(t, map[string]string{
		"OS_AUTH_URL": "https://keystone.example.org/v3",
	})

	if _, err := Load(path); err == nil {
		t.Fatal("expected an error when neither application credentials nor password auth is fully configured")
	}
}

func TestLoadAcceptsApplicationCredentials(t *testing.T) {
	path := writeTempYAML(t, sampleYAML)
	withEnv(t, map[string]string{
		"OS_AUTH_URL":                   "https://keystone.example.org/v3",
		"USE_APPLICATION_CREDENTIALS":   "true",
		"OS_APPLICATION_CREDENTIAL_ID":  "cred-id",
		"OS_APPLICATION_CREDENTIAL_SECRET": "cred-secret",
	})

	if _, err := Load(path); err != nil {
		t.Fatalf("Load() error: %v", err)
	}
}
