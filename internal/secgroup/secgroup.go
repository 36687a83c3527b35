// Package secgroup implements the Security Group Resolver (spec.md §4.3):
// idempotent, race-safe lookup/creation of the five classes of security
// group the VM Lifecycle Orchestrator needs, and the deletion policy invoked
// from DeleteServer.
package secgroup

import (
	"context"
	"fmt"
	"strings"

	"github.com/deNBI/simplevm-portal/internal/apperr"
	"github.com/deNBI/simplevm-portal/internal/openstackclient"
)

const defaultSSHGroupName = "defaultSimpleVM"

// Backend is the subset of openstackclient.Client the resolver depends on.
type Backend interface {
	CreateSecurityGroup(ctx context.Context, opts openstackclient.CreateSecurityGroupOpts) (openstackclient.SecurityGroup, error)
	GetSecurityGroupByName(ctx context.Context, name string) (openstackclient.SecurityGroup, error)
	DeleteSecurityGroup(ctx context.Context, id string) error
	CreateSecurityGroupRule(ctx context.Context, opts openstackclient.CreateSecurityGroupRuleOpts) (openstackclient.SecurityGroupRule, error)
	AddSecurityGroupToServer(ctx context.Context, serverID, sgName string) error
	RemoveSecurityGroupFromServer(ctx context.Context, serverID, sgName string) error
	GetServers(ctx context.Context) ([]openstackclient.Server, error)
}

// NetworkPortLister is the subset of network queries InUse needs; kept
// separate from Backend so tests can stub it independently.
type NetworkPortLister interface {
	PortsReferencingSecurityGroup(ctx context.Context, sgID string) (int, error)
	LoadBalancersReferencingSecurityGroup(ctx context.Context, sgID string) (int, error)
}

// ResearchEnvMeta is the subset of TemplateMetadata (spec.md §3) the
// research-env security group needs.
type ResearchEnvMeta struct {
	SecurityGroupName string
	Description       string
	Direction         string
	Protocol          string
	Port              int
	NeedsForcSupport  bool
}

// Resolver is the Security Group Resolver.
type Resolver struct {
	backend            Backend
	ports              NetworkPortLister
	gatewaySGID        string
	forcSGID           string
	projectLocks       *nameLock
}

// New builds a Resolver. gatewaySecurityGroupID and forcSecurityGroupID come
// from config.OpenStackConfig.
func New(backend Backend, ports NetworkPortLister, gatewaySecurityGroupID, forcSecurityGroupID string) *Resolver {
	return &Resolver{
		backend:      backend,
		ports:        ports,
		gatewaySGID:  gatewaySecurityGroupID,
		forcSGID:     forcSecurityGroupID,
		projectLocks: newNameLock(),
	}
}

func getOrCreate(ctx context.Context, backend Backend, name, description string) (openstackclient.SecurityGroup, bool, error) {
	sg, err := backend.GetSecurityGroupByName(ctx, name)
	if err == nil {
		return sg, false, nil
	}
	if !apperr.Is(err, apperr.KindSecurityGroupNotFound) {
		return openstackclient.SecurityGroup{}, false, err
	}
	sg, err = backend.CreateSecurityGroup(ctx, openstackclient.CreateSecurityGroupOpts{Name: name, Description: description})
	if err != nil {
		return openstackclient.SecurityGroup{}, false, err
	}
	return sg, true, nil
}

// GetOrCreateDefaultSSH creates defaultSimpleVM with ingress TCP/22 from the
// configured gateway group, for both IPv4 and IPv6, if it doesn't exist yet.
func (r *Resolver) GetOrCreateDefaultSSH(ctx context.Context) (openstackclient.SecurityGroup, error) {
	sg, created, err := getOrCreate(ctx, r.backend, defaultSSHGroupName, "default SSH access for simplevm-portal instances")
	if err != nil {
		return openstackclient.SecurityGroup{}, err
	}
	if !created {
		return sg, nil
	}
	for _, etherType := range []string{"IPv4", "IPv6"} {
		_, err := r.backend.CreateSecurityGroupRule(ctx, openstackclient.CreateSecurityGroupRuleOpts{
			SecurityGroupID: sg.ID,
			Direction:       "ingress",
			EtherType:       etherType,
			Protocol:        "tcp",
			PortRangeMin:    22,
			PortRangeMax:    22,
			RemoteGroupID:   r.gatewaySGID,
		})
		if err != nil {
			return openstackclient.SecurityGroup{}, err
		}
	}
	return sg, nil
}

// GetOrCreateProject returns the per-project security group, creating it
// (with an intra-project SSH rule) under a per-name lock so two concurrent
// VM starts in the same project don't race.
func (r *Resolver) GetOrCreateProject(ctx context.Context, projectName, projectID string) (openstackclient.SecurityGroup, error) {
	name := fmt.Sprintf("%s_%s", projectName, projectID)

	unlock := r.projectLocks.Lock(name)
	defer unlock()

	sg, created, err := getOrCreate(ctx, r.backend, name, "intra-project SSH for "+projectName)
	if err != nil {
		return openstackclient.SecurityGroup{}, err
	}
	if !created {
		return sg, nil
	}
	_, err = r.backend.CreateSecurityGroupRule(ctx, openstackclient.CreateSecurityGroupRuleOpts{
		SecurityGroupID: sg.ID,
		Direction:       "ingress",
		EtherType:       "IPv4",
		Protocol:        "tcp",
		PortRangeMin:    22,
		PortRangeMax:    22,
		RemoteGroupID:   sg.ID,
	})
	if err != nil {
		return openstackclient.SecurityGroup{}, err
	}
	return sg, nil
}

// GetOrCreateVM returns the per-VM security group, named after the VM's
// openstackId, with no rules initially.
func (r *Resolver) GetOrCreateVM(ctx context.Context, vmID string) (openstackclient.SecurityGroup, error) {
	sg, _, err := getOrCreate(ctx, r.backend, vmID, "per-VM security group "+vmID)
	return sg, err
}

// GetOrCreateResearchEnv returns the research-environment security group
// described by meta, or a zero SecurityGroup when meta.NeedsForcSupport is
// false (the template doesn't need one).
func (r *Resolver) GetOrCreateResearchEnv(ctx context.Context, meta ResearchEnvMeta) (openstackclient.SecurityGroup, error) {
	if !meta.NeedsForcSupport {
		return openstackclient.SecurityGroup{}, nil
	}
	sg, created, err := getOrCreate(ctx, r.backend, meta.SecurityGroupName, meta.Description)
	if err != nil {
		return openstackclient.SecurityGroup{}, err
	}
	if !created {
		return sg, nil
	}
	_, err = r.backend.CreateSecurityGroupRule(ctx, openstackclient.CreateSecurityGroupRuleOpts{
		SecurityGroupID: sg.ID,
		Direction:       meta.Direction,
		EtherType:       "IPv4",
		Protocol:        meta.Protocol,
		PortRangeMin:    meta.Port,
		PortRangeMax:    meta.Port,
		RemoteGroupID:   r.forcSGID,
	})
	if err != nil {
		return openstackclient.SecurityGroup{}, err
	}
	return sg, nil
}

// GetOrCreateUDP returns the `{vmName}_udp` security group, creating it with
// one ingress UDP rule scoped to udpPort from the project group if it
// doesn't exist yet (spec.md §3's SecurityGroup data model).
func (r *Resolver) GetOrCreateUDP(ctx context.Context, vmName, projectSGID string, udpPort int) (openstackclient.SecurityGroup, error) {
	name := vmName + "_udp"
	sg, created, err := getOrCreate(ctx, r.backend, name, "UDP access for "+vmName)
	if err != nil {
		return openstackclient.SecurityGroup{}, err
	}
	if !created {
		return sg, nil
	}
	_, err = r.backend.CreateSecurityGroupRule(ctx, openstackclient.CreateSecurityGroupRuleOpts{
		SecurityGroupID: sg.ID,
		Direction:       "ingress",
		EtherType:       "IPv4",
		Protocol:        "udp",
		PortRangeMin:    udpPort,
		PortRangeMax:    udpPort,
		RemoteGroupID:   projectSGID,
	})
	if err != nil {
		return openstackclient.SecurityGroup{}, err
	}
	return sg, nil
}

// OpenPortRange attaches the VM's and project's security groups to the
// server if not already attached, then adds one ingress rule to the VM
// group scoped to the project group, and returns the new rule's id.
func (r *Resolver) OpenPortRange(ctx context.Context, serverID, vmSGName, projectSGName, projectSGID string, start, stop int, etherType, protocol string) (string, error) {
	if etherType != "IPv4" && etherType != "IPv6" {
		return "", apperr.NewWithID(apperr.KindValidation, "ethertype must be IPv4 or IPv6", etherType)
	}

	if err := r.backend.AddSecurityGroupToServer(ctx, serverID, vmSGName); err != nil {
		return "", err
	}
	if err := r.backend.AddSecurityGroupToServer(ctx, serverID, projectSGName); err != nil {
		return "", err
	}

	vmSG, err := r.backend.GetSecurityGroupByName(ctx, vmSGName)
	if err != nil {
		return "", err
	}

	rule, err := r.backend.CreateSecurityGroupRule(ctx, openstackclient.CreateSecurityGroupRuleOpts{
		SecurityGroupID: vmSG.ID,
		Direction:       "ingress",
		EtherType:       etherType,
		Protocol:        protocol,
		PortRangeMin:    start,
		PortRangeMax:    stop,
		RemoteGroupID:   projectSGID,
	})
	if err != nil {
		return "", err
	}
	return rule.ID, nil
}

// InUse reports whether a security group is still referenced by any server,
// port, or load balancer.
func (r *Resolver) InUse(ctx context.Context, sgID string) (bool, error) {
	servers, err := r.backend.GetServers(ctx)
	if err != nil {
		return false, err
	}
	for _, s := range servers {
		for _, attached := range s.SecurityGroups {
			if attached == sgID {
				return true, nil
			}
		}
	}

	if r.ports == nil {
		return false, nil
	}
	portCount, err := r.ports.PortsReferencingSecurityGroup(ctx, sgID)
	if err != nil {
		return false, err
	}
	if portCount > 0 {
		return true, nil
	}
	lbCount, err := r.ports.LoadBalancersReferencingSecurityGroup(ctx, sgID)
	if err != nil {
		return false, err
	}
	return lbCount > 0, nil
}

// DeleteAttached implements the deletion policy invoked from DeleteServer
// (spec.md §4.3): for each attached group, detach, then delete iff it's not
// the default group, not a bibigrid master's group, and not in use.
func (r *Resolver) DeleteAttached(ctx context.Context, serverID, serverName string, attachedSGNames []string, nameToID func(name string) (string, error)) error {
	for _, name := range attachedSGNames {
		if err := r.backend.RemoveSecurityGroupFromServer(ctx, serverID, name); err != nil {
			return err
		}

		if name == defaultSSHGroupName {
			continue
		}
		if strings.Contains(name, "bibigrid") && strings.Contains(serverName, "master") {
			continue
		}

		id, err := nameToID(name)
		if err != nil {
			return err
		}
		inUse, err := r.InUse(ctx, id)
		if err != nil {
			return err
		}
		if inUse {
			continue
		}
		if err := r.backend.DeleteSecurityGroup(ctx, id); err != nil {
			return err
		}
	}
	return nil
}
