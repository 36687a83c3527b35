package rpcservice

import (
	"context"

	"github.com/deNBI/simplevm-portal/internal/apperr"
	"github.com/deNBI/simplevm-portal/internal/images"
	"github.com/deNBI/simplevm-portal/internal/openstackclient"
	"github.com/deNBI/simplevm-portal/internal/orchestrator"
)

// resolveServerSnapshot fills Server.Image/Server.Flavor from
// FlavorID/ImageID for the list-style operations that fetch servers
// directly from openstack rather than through the orchestrator (which
// already resolves these itself in GetServer). Left zero-valued on a
// resolution failure rather than failing the whole call, per spec.md §8's
// "embedded flavor.name/image.name populated" invariant.
func (s *Service) resolveServerSnapshot(ctx context.Context, server openstackclient.Server) openstackclient.Server {
	if server.ImageID != "" {
		if img, err := s.images.Get(ctx, server.ImageID, images.Options{IgnoreNotActive: true, IgnoreNotFound: true}); err == nil && img != nil {
			server.Image = *img
		}
	}
	if server.FlavorID != "" {
		if flavor, err := s.openstack.GetFlavor(ctx, server.FlavorID); err == nil {
			server.Flavor = flavor
		}
	}
	return server
}

func (s *Service) resolveServerSnapshots(ctx context.Context, servers []openstackclient.Server) []openstackclient.Server {
	for i := range servers {
		servers[i] = s.resolveServerSnapshot(ctx, servers[i])
	}
	return servers
}

// StartServer provisions a VM with a caller-supplied public key.
func (s *Service) StartServer(ctx context.Context, in orchestrator.StartServerInput) (string, error) {
	return s.orchestrator.StartServer(ctx, in)
}

// StartServerWithCustomKey provisions a VM with a backend-generated keypair,
// returning the private key exactly once.
func (s *Service) StartServerWithCustomKey(ctx context.Context, in orchestrator.StartServerInput) (vmID, privateKey string, err error) {
	return s.orchestrator.StartServerWithCustomKey(ctx, in)
}

// GetServer fetches a VM. Per spec.md §7's user-visible behavior, a
// nonexistent VM yields a synthetic Server{VMState: "NOT_FOUND"} instead of
// an error, so a poller can distinguish "not yet created" from "call failed".
func (s *Service) GetServer(ctx context.Context, vmID string) (openstackclient.Server, error) {
	server, err := s.orchestrator.GetServer(ctx, vmID, s.ports)
	if apperr.Is(err, apperr.KindServerNotFound) {
		return openstackclient.Server{ID: vmID, VMState: "NOT_FOUND"}, nil
	}
	return server, err
}

// GetServerByUniqueName scans all servers for one matching name exactly.
func (s *Service) GetServerByUniqueName(ctx context.Context, name string) (openstackclient.Server, error) {
	all, err := s.openstack.GetServers(ctx)
	if err != nil {
		return openstackclient.Server{}, err
	}
	for _, srv := range all {
		if srv.Name == name {
			return s.resolveServerSnapshot(ctx, srv), nil
		}
	}
	return openstackclient.Server{}, apperr.NewWithID(apperr.KindServerNotFound, "no server with that name", name)
}

// GetServers lists all servers visible to the current project, each with
// its image/flavor resolved into an embedded snapshot (spec.md §4.8, §8).
func (s *Service) GetServers(ctx context.Context) ([]openstackclient.Server, error) {
	all, err := s.openstack.GetServers(ctx)
	if err != nil {
		return nil, err
	}
	return s.resolveServerSnapshots(ctx, all), nil
}

// GetServersByIds fetches several servers, skipping ones that no longer
// exist, mirroring GetVolumesByIds' tolerance (spec.md §6).
func (s *Service) GetServersByIds(ctx context.Context, ids []string) ([]openstackclient.Server, error) {
	out := make([]openstackclient.Server, 0, len(ids))
	for _, id := range ids {
		srv, err := s.openstack.GetServer(ctx, id)
		if apperr.Is(err, apperr.KindServerNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, s.resolveServerSnapshot(ctx, srv))
	}
	return out, nil
}

// bibigridIDMetadataKey is the metadata key add_cluster_machine tags worker
// servers with, carried over from original_source/openstack_connector.
const bibigridIDMetadataKey = "bibigrid-id"

// GetServersByBibigridId returns every server tagged as belonging to the
// given bibigrid cluster.
func (s *Service) GetServersByBibigridId(ctx context.Context, clusterID string) ([]openstackclient.Server, error) {
	all, err := s.openstack.GetServers(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]openstackclient.Server, 0, len(all))
	for _, srv := range all {
		if srv.Metadata[bibigridIDMetadataKey] == clusterID {
			out = append(out, s.resolveServerSnapshot(ctx, srv))
		}
	}
	return out, nil
}

// GetServerConsole requests a remote console for a server.
func (s *Service) GetServerConsole(ctx context.Context, vmID, consoleType string) (openstackclient.Console, error) {
	return s.openstack.GetServerConsole(ctx, vmID, consoleType)
}

// StopServer issues a graceful stop.
func (s *Service) StopServer(ctx context.Context, vmID string) error {
	return s.openstack.StopServer(ctx, vmID)
}

// RebootSoftServer issues a soft reboot.
func (s *Service) RebootSoftServer(ctx context.Context, vmID string) error {
	return s.openstack.RebootServer(ctx, vmID, false)
}

// RebootHardServer issues a hard reboot.
func (s *Service) RebootHardServer(ctx context.Context, vmID string) error {
	return s.openstack.RebootServer(ctx, vmID, true)
}

// ResumeServer starts a stopped server.
func (s *Service) ResumeServer(ctx context.Context, vmID string) error {
	return s.openstack.ResumeServer(ctx, vmID)
}

// RescueServer puts the server into rescue mode.
func (s *Service) RescueServer(ctx context.Context, vmID, adminPass string) error {
	return s.openstack.RescueServer(ctx, vmID, adminPass)
}

// UnrescueServer exits rescue mode.
func (s *Service) UnrescueServer(ctx context.Context, vmID string) error {
	return s.openstack.UnrescueServer(ctx, vmID)
}

// DeleteServer runs the VM Lifecycle Orchestrator's deletion policy: refuse
// during an in-flight snapshot, detach/delete security groups, force-delete.
func (s *Service) DeleteServer(ctx context.Context, vmID string) error {
	return s.orchestrator.DeleteServer(ctx, vmID, s.sgIDLookup(ctx))
}

// ExistServer reports whether a VM currently exists.
func (s *Service) ExistServer(ctx context.Context, vmID string) (bool, error) {
	_, err := s.openstack.GetServer(ctx, vmID)
	if apperr.Is(err, apperr.KindServerNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// VmPorts is the (sshPort, udpPort) pair GetVmPorts returns.
type VmPorts struct {
	Port int
	UDP  int
}

// GetVmPorts calculates the VM's forwarded ssh/udp ports from its fixed IP.
func (s *Service) GetVmPorts(ctx context.Context, vmID string) (VmPorts, error) {
	srv, err := s.openstack.GetServer(ctx, vmID)
	if err != nil {
		return VmPorts{}, err
	}
	calculated, err := s.ports.Calculate(srv.FixedIPv4)
	if err != nil {
		return VmPorts{}, err
	}
	return VmPorts{Port: calculated.SSHPort, UDP: calculated.UDPPort}, nil
}

// SetServerMetadata sets the given metadata keys on a server; keys not
// named in meta are left as they are.
func (s *Service) SetServerMetadata(ctx context.Context, vmID string, meta map[string]string) error {
	return s.openstack.SetServerMetadata(ctx, vmID, meta)
}

// AddMetadataToServer merges additional metadata keys onto a server.
func (s *Service) AddMetadataToServer(ctx context.Context, vmID string, meta map[string]string) error {
	return s.openstack.AddMetadataToServer(ctx, vmID, meta)
}
