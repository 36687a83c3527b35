package rpcservice

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/deNBI/simplevm-portal/internal/apperr"
	"github.com/deNBI/simplevm-portal/internal/playbook"
)

const sshProbeTimeout = 5 * time.Second

// CreateAndDeployPlaybookInput is the caller-facing input to
// CreateAndDeployPlaybook. Unlike playbook.CreateAndDeployInput, it carries
// no port/ip/cloud_site or template version: those are computed server-side,
// mirroring original_source's VirtualMachineHandler.create_and_deploy_playbook
// rather than pushing them onto the RPC caller.
type CreateAndDeployPlaybookInput struct {
	VMID              string
	PublicKey         string
	TemplateName      string
	CreateOnlyBackend bool
	CondaPkgs         []playbook.CondaPackage
	AptPkgs           []string
	BaseURL           string
	SiteSpecific      bool
}

// CreateAndDeployPlaybook computes the VM's ssh port and gateway ip, probes
// SSH reachability, resolves the template's catalog-allowed version, then
// materialises the playbook files and spawns the runner
// (internal/playbook.Supervisor), flipping the PipelineRecord's status to
// BUILD. Grounded on original_source's
// VirtualMachineHandler.create_and_deploy_playbook, which computes port/ip
// from get_vm_ports and the gateway ip, netcats the port before deploying,
// and resolves the version via ForcConnector.template.get_template_version_for.
//
// Returns 0 on success and -1 if the template catalog's update lock never
// clears in time, matching ForcConnector.create_and_deploy_playbook's
// return convention; the runner's PID stays internal to playbook.Active.
func (s *Service) CreateAndDeployPlaybook(ctx context.Context, in CreateAndDeployPlaybookInput) (int, error) {
	server, err := s.openstack.GetServer(ctx, in.VMID)
	if err != nil {
		return -1, err
	}

	calculated, err := s.ports.Calculate(server.FixedIPv4)
	if err != nil {
		return -1, err
	}

	ip := s.cfg.GatewayIP
	if s.cfg.InternalGatewayIP != "" {
		ip = s.cfg.InternalGatewayIP
	}

	if !probeTCP(ip, calculated.SSHPort) {
		return -1, apperr.NewWithID(apperr.KindResourceNotAvailable, "vm is not yet reachable over ssh", in.VMID)
	}

	version := s.catalog.GetTemplateVersionFor(in.TemplateName)

	pid, err := s.playbooks.CreateAndDeploy(ctx, playbook.CreateAndDeployInput{
		VMID:              in.VMID,
		PublicKey:         in.PublicKey,
		TemplateName:      in.TemplateName,
		TemplateVersion:   version,
		CreateOnlyBackend: in.CreateOnlyBackend,
		CondaPkgs:         in.CondaPkgs,
		AptPkgs:           in.AptPkgs,
		BaseURL:           in.BaseURL,
		IP:                ip,
		Port:              calculated.SSHPort,
		CloudSite:         s.cfg.CloudSite,
		SiteSpecific:      in.SiteSpecific,
	})
	if err != nil {
		return pid, err
	}
	return 0, nil
}

func probeTCP(host string, port int) bool {
	conn, err := net.DialTimeout("tcp", fmt.Sprintf("%s:%d", host, port), sshProbeTimeout)
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}

// PlaybookLogs is the response shape of GetPlaybookLogs.
type PlaybookLogs struct {
	ReturnCode int
	Stdout     string
	Stderr     string
}

// GetPlaybookLogs fetches and clears a VM's playbook logs, per the "any
// --GetLogs--> (absent, record removed)" transition (spec.md §4.6).
func (s *Service) GetPlaybookLogs(ctx context.Context, vmID string) (PlaybookLogs, error) {
	rc, stdout, stderr, err := s.playbooks.GetLogs(ctx, vmID)
	if err != nil {
		return PlaybookLogs{}, err
	}
	return PlaybookLogs{ReturnCode: rc, Stdout: stdout, Stderr: stderr}, nil
}

// HasForc reports whether Forc serves templateName at version. Always false
// when the Forc subsystem is inactive.
func (s *Service) HasForc(ctx context.Context, templateName, version string) bool {
	if s.forc == nil {
		return false
	}
	return s.forc.HasTemplateVersion(ctx, templateName, version)
}

// GetForcAccessUrl returns the externally reachable Forc URL from config.
func (s *Service) GetForcAccessUrl(_ context.Context) string {
	return s.cfg.ForcAccessURL
}

// GetForcBackendUrl returns the internal Forc backend URL from config.
func (s *Service) GetForcBackendUrl(_ context.Context) string {
	return s.cfg.ForcBackendURL
}

// GetAllowedTemplates returns the Template Catalog's currently published
// templateName -> sortedDescVersions snapshot.
func (s *Service) GetAllowedTemplates(_ context.Context) map[string][]string {
	return s.catalog.AllowedVersions()
}
