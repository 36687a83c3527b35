package rpcservice

import (
	"context"

	"github.com/deNBI/simplevm-portal/internal/images"
	"github.com/deNBI/simplevm-portal/internal/openstackclient"
)

// GetImages returns every active, tagged image (spec.md §6).
func (s *Service) GetImages(ctx context.Context) ([]openstackclient.Image, error) {
	return s.images.List(ctx)
}

// GetImage resolves nameOrID, honoring the caller's tolerance for an
// inactive image; a missing image is always an error here (ReplaceNotFound
// is reserved for the Orchestrator's own VM-start path).
func (s *Service) GetImage(ctx context.Context, nameOrID string, ignoreNotActive bool) (openstackclient.Image, error) {
	img, err := s.images.Get(ctx, nameOrID, images.Options{IgnoreNotActive: ignoreNotActive})
	if err != nil {
		return openstackclient.Image{}, err
	}
	return *img, nil
}

// GetPublicImages returns tagged, active public images.
func (s *Service) GetPublicImages(ctx context.Context) ([]openstackclient.Image, error) {
	return s.images.ListPublic(ctx)
}

// GetPrivateImages returns tagged, active private images.
func (s *Service) GetPrivateImages(ctx context.Context) ([]openstackclient.Image, error) {
	return s.images.ListPrivate(ctx)
}

// GetFlavors lists all flavors visible to the current project.
func (s *Service) GetFlavors(ctx context.Context) ([]openstackclient.Flavor, error) {
	return s.openstack.GetFlavors(ctx)
}

// DeleteImage removes an image.
func (s *Service) DeleteImage(ctx context.Context, imageID string) error {
	return s.openstack.DeleteImage(ctx, imageID)
}

// CreateSnapshotInput is the input to CreateSnapshot (spec.md §6).
type CreateSnapshotInput struct {
	VMID        string
	Name        string
	Username    string
	BaseTags    []string
	Description string
}

// CreateSnapshot snapshots a running VM into a new glance image whose
// metadata holds each of the caller's base tags as a key with value "true",
// plus the username and description.
func (s *Service) CreateSnapshot(ctx context.Context, in CreateSnapshotInput) (string, error) {
	metadata := make(map[string]string, len(in.BaseTags)+2)
	for _, tag := range in.BaseTags {
		metadata[tag] = "true"
	}
	metadata["username"] = in.Username
	metadata["description"] = in.Description
	return s.openstack.CreateImageFromServer(ctx, in.VMID, in.Name, metadata)
}
