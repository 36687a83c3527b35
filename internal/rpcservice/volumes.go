package rpcservice

import (
	"context"

	"github.com/deNBI/simplevm-portal/internal/openstackclient"
)

// GetVolume fetches a volume by id.
func (s *Service) GetVolume(ctx context.Context, volID string) (openstackclient.Volume, error) {
	return s.openstack.GetVolume(ctx, volID)
}

// GetVolumesByIds fetches several volumes, silently skipping any that no
// longer exist.
func (s *Service) GetVolumesByIds(ctx context.Context, ids []string) ([]openstackclient.Volume, error) {
	return s.openstack.GetVolumesByIDs(ctx, ids)
}

// CreateVolume creates a plain cinder volume.
func (s *Service) CreateVolume(ctx context.Context, name string, sizeGB int, meta map[string]string) (openstackclient.Volume, error) {
	return s.openstack.CreateVolume(ctx, openstackclient.CreateVolumeOpts{Name: name, SizeGB: sizeGB, Metadata: meta})
}

// CreateVolumeBySourceVolume clones a volume from an existing source volume.
func (s *Service) CreateVolumeBySourceVolume(ctx context.Context, name string, sizeGB int, meta map[string]string, sourceVolID string) (openstackclient.Volume, error) {
	return s.openstack.CreateVolume(ctx, openstackclient.CreateVolumeOpts{Name: name, SizeGB: sizeGB, Metadata: meta, SourceVolID: sourceVolID})
}

// CreateVolumeByVolumeSnap creates a volume from a volume snapshot.
func (s *Service) CreateVolumeByVolumeSnap(ctx context.Context, name string, sizeGB int, meta map[string]string, snapshotID string) (openstackclient.Volume, error) {
	return s.openstack.CreateVolume(ctx, openstackclient.CreateVolumeOpts{Name: name, SizeGB: sizeGB, Metadata: meta, SnapshotID: snapshotID})
}

// ResizeVolume extends a volume to a larger size.
func (s *Service) ResizeVolume(ctx context.Context, volID string, newGB int) error {
	return s.openstack.ResizeVolume(ctx, volID, newGB)
}

// AttachVolumeToServer attaches a volume to a server, returning the device
// path nova assigned.
func (s *Service) AttachVolumeToServer(ctx context.Context, vmID, volID string) (string, error) {
	return s.openstack.AttachVolumeToServer(ctx, vmID, volID)
}

// DetachVolume detaches a volume from a server.
func (s *Service) DetachVolume(ctx context.Context, volID, vmID string) error {
	return s.openstack.DetachVolume(ctx, vmID, volID)
}

// DeleteVolume deletes a volume.
func (s *Service) DeleteVolume(ctx context.Context, volID string) error {
	return s.openstack.DeleteVolume(ctx, volID)
}

// CreateVolumeSnapshot snapshots a volume.
func (s *Service) CreateVolumeSnapshot(ctx context.Context, volID, name, description string) (openstackclient.VolumeSnapshot, error) {
	return s.openstack.CreateVolumeSnapshot(ctx, volID, name, description)
}

// GetVolumeSnapshot fetches a volume snapshot by id.
func (s *Service) GetVolumeSnapshot(ctx context.Context, id string) (openstackclient.VolumeSnapshot, error) {
	return s.openstack.GetVolumeSnapshot(ctx, id)
}

// DeleteVolumeSnapshot deletes a volume snapshot.
func (s *Service) DeleteVolumeSnapshot(ctx context.Context, id string) error {
	return s.openstack.DeleteVolumeSnapshot(ctx, id)
}
