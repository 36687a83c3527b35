package rpcservice

import (
	"context"

	"github.com/deNBI/simplevm-portal/internal/secgroup"
)

// DeleteSecurityGroupRule removes one rule.
func (s *Service) DeleteSecurityGroupRule(ctx context.Context, ruleID string) error {
	return s.openstack.DeleteSecurityGroupRule(ctx, ruleID)
}

// RemoveSecurityGroupsFromServer detaches a set of security groups (by
// name) from a server.
func (s *Service) RemoveSecurityGroupsFromServer(ctx context.Context, vmID string, names []string) error {
	for _, name := range names {
		if err := s.openstack.RemoveSecurityGroupFromServer(ctx, vmID, name); err != nil {
			return err
		}
	}
	return nil
}

// AddDefaultSecurityGroupsToServer attaches the default SSH group
// (creating it if needed) to a server.
func (s *Service) AddDefaultSecurityGroupsToServer(ctx context.Context, vmID string) error {
	sg, err := s.secgroup.GetOrCreateDefaultSSH(ctx)
	if err != nil {
		return err
	}
	return s.openstack.AddSecurityGroupToServer(ctx, vmID, sg.Name)
}

// OpenPortRangeForVmInProjectInput is the input to OpenPortRangeForVmInProject.
type OpenPortRangeForVmInProjectInput struct {
	VMID          string
	VMSGName      string
	ProjectSGName string
	ProjectSGID   string
	Start, Stop   int
	EtherType     string
	Protocol      string
}

// OpenPortRangeForVmInProject attaches the VM's and project's security
// groups to the server, then opens one port range scoped to the project
// group, returning the new rule's id.
func (s *Service) OpenPortRangeForVmInProject(ctx context.Context, in OpenPortRangeForVmInProjectInput) (string, error) {
	return s.secgroup.OpenPortRange(ctx, in.VMID, in.VMSGName, in.ProjectSGName, in.ProjectSGID, in.Start, in.Stop, in.EtherType, in.Protocol)
}

// AddResearchEnvironmentSecurityGroup creates (if needed) and attaches the
// research-environment security group described by meta.
func (s *Service) AddResearchEnvironmentSecurityGroup(ctx context.Context, vmID string, meta secgroup.ResearchEnvMeta) error {
	sg, err := s.secgroup.GetOrCreateResearchEnv(ctx, meta)
	if err != nil {
		return err
	}
	if sg.Name == "" {
		return nil
	}
	return s.openstack.AddSecurityGroupToServer(ctx, vmID, sg.Name)
}

// AddProjectSecurityGroupToServer creates (if needed) and attaches the
// per-project security group to a server.
func (s *Service) AddProjectSecurityGroupToServer(ctx context.Context, vmID, projectName, projectID string) error {
	sg, err := s.secgroup.GetOrCreateProject(ctx, projectName, projectID)
	if err != nil {
		return err
	}
	return s.openstack.AddSecurityGroupToServer(ctx, vmID, sg.Name)
}

// AddUdpSecurityGroup creates (if needed) and attaches the `{vmName}_udp`
// security group to a server.
func (s *Service) AddUdpSecurityGroup(ctx context.Context, vmID, vmName, projectSGID string, udpPort int) error {
	sg, err := s.secgroup.GetOrCreateUDP(ctx, vmName, projectSGID, udpPort)
	if err != nil {
		return err
	}
	return s.openstack.AddSecurityGroupToServer(ctx, vmID, sg.Name)
}

// GetSecurityGroupIdByName resolves a security group's id by name.
func (s *Service) GetSecurityGroupIdByName(ctx context.Context, name string) (string, error) {
	return s.openstack.GetSecurityGroupIDByName(ctx, name)
}
