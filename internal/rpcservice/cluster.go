package rpcservice

import (
	"context"
	"fmt"

	"github.com/deNBI/simplevm-portal/internal/apperr"
	"github.com/deNBI/simplevm-portal/internal/bibigrid"
	"github.com/deNBI/simplevm-portal/internal/images"
	"github.com/deNBI/simplevm-portal/internal/openstackclient"
	"github.com/deNBI/simplevm-portal/internal/userdata"
)

func (s *Service) requireBibigrid() error {
	if s.bibigrid == nil {
		return apperr.New(apperr.KindBackendNotFound, "bibigrid is not activated")
	}
	return nil
}

// IsBibigridAvailable reports whether Bibigrid is reachable; always false
// when the subsystem is inert.
func (s *Service) IsBibigridAvailable(ctx context.Context) bool {
	if s.bibigrid == nil {
		return false
	}
	return s.bibigrid.IsAvailable(ctx)
}

// GetClusterSupportedUbuntuOsVersions forwards to Bibigrid's node
// requirements.
func (s *Service) GetClusterSupportedUbuntuOsVersions(ctx context.Context) ([]string, error) {
	if err := s.requireBibigrid(); err != nil {
		return nil, err
	}
	return s.bibigrid.GetSupportedUbuntuVersions(ctx)
}

// GetClusterInfo forwards to Bibigrid's cluster topology endpoint.
func (s *Service) GetClusterInfo(ctx context.Context, clusterID string) (bibigrid.Info, error) {
	if err := s.requireBibigrid(); err != nil {
		return bibigrid.Info{}, err
	}
	return s.bibigrid.GetClusterInfo(ctx, clusterID)
}

// GetClusterLog forwards to Bibigrid's provisioning log endpoint.
func (s *Service) GetClusterLog(ctx context.Context, clusterID string) (string, error) {
	if err := s.requireBibigrid(); err != nil {
		return "", err
	}
	return s.bibigrid.GetClusterLog(ctx, clusterID)
}

// GetClusterState forwards to Bibigrid's state endpoint.
func (s *Service) GetClusterState(ctx context.Context, clusterID string) (bibigrid.State, error) {
	if err := s.requireBibigrid(); err != nil {
		return bibigrid.State{}, err
	}
	return s.bibigrid.GetClusterState(ctx, clusterID)
}

// StartCluster forwards a cluster configuration to Bibigrid.
func (s *Service) StartCluster(ctx context.Context, cfg bibigrid.CreateClusterRequest) (string, error) {
	if err := s.requireBibigrid(); err != nil {
		return "", err
	}
	return s.bibigrid.CreateCluster(ctx, cfg)
}

// TerminateCluster forwards a termination request to Bibigrid.
func (s *Service) TerminateCluster(ctx context.Context, clusterID string) error {
	if err := s.requireBibigrid(); err != nil {
		return err
	}
	return s.bibigrid.TerminateCluster(ctx, clusterID)
}

// AddClusterMachineInput is the input to AddClusterMachine. Unlike the other
// cluster operations this is not a Bibigrid HTTP forward: bibigrid's own
// scale-up flow creates the worker directly against OpenStack and tags it
// with the cluster's id, grounded on original_source's
// openstack_connector.add_cluster_machine.
type AddClusterMachineInput struct {
	ClusterID       string
	ClusterUser     string
	ClusterGroupIDs []string
	ImageName       string
	FlavorName      string
	Name            string
	KeyName         string
	BatchIdx        int
	WorkerIdx       int
}

// AddClusterMachine boots one additional worker into an existing bibigrid
// cluster, tagged with the bibigrid-id metadata key GetServersByBibigridId
// filters on.
func (s *Service) AddClusterMachine(ctx context.Context, in AddClusterMachineInput) (string, error) {
	img, err := s.images.Get(ctx, in.ImageName, images.Options{ReplaceInactive: true})
	if err != nil {
		return "", err
	}
	flavor, err := s.openstack.GetFlavorByName(ctx, in.FlavorName)
	if err != nil {
		return "", err
	}
	network, err := s.openstack.GetNetworkByName(ctx, s.cfg.NetworkName)
	if err != nil {
		return "", err
	}

	metadata := map[string]string{
		bibigridIDMetadataKey: in.ClusterID,
		"user":                in.ClusterUser,
		"worker-batch":        fmt.Sprintf("%d", in.BatchIdx),
		"name":                in.Name,
		"worker-index":        fmt.Sprintf("%d", in.WorkerIdx),
	}

	server, err := s.openstack.CreateServer(ctx, openstackclient.CreateServerOpts{
		Name:           in.Name,
		ImageID:        img.ID,
		FlavorID:       flavor.ID,
		NetworkID:      network.ID,
		SecurityGroups: in.ClusterGroupIDs,
		KeyName:        in.KeyName,
		UserData:       userdata.Compose(userdata.Input{}),
		Metadata:       metadata,
	})
	if err != nil {
		return "", err
	}
	return server.ID, nil
}
