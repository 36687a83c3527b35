package openstackclient

import (
	"context"
	"errors"

	"github.com/gophercloud/gophercloud"
	"github.com/gophercloud/gophercloud/openstack/blockstorage/v3/snapshots"
	"github.com/gophercloud/gophercloud/openstack/blockstorage/v3/volumes"
	"github.com/gophercloud/gophercloud/openstack/compute/v2/extensions/volumeattach"

	"github.com/deNBI/simplevm-portal/internal/apperr"
)

// CreateVolumeOpts is the common shape for the three volume-creation
// variants the RPC facade exposes (plain, from-source-volume, from-snapshot).
type CreateVolumeOpts struct {
	Name       string
	SizeGB     int
	Metadata   map[string]string
	SourceVolID string
	SnapshotID  string
}

// CreateVolume creates a cinder volume, optionally cloned from a source
// volume or snapshot depending on which id is populated.
func (c *Client) CreateVolume(ctx context.Context, opts CreateVolumeOpts) (Volume, error) {
	createOpts := volumes.CreateOpts{
		Name:       opts.Name,
		Size:       opts.SizeGB,
		Metadata:   opts.Metadata,
		SourceVolID: opts.SourceVolID,
		SnapshotID:  opts.SnapshotID,
	}
	v, err := volumes.Create(ctx, c.Volume, createOpts, nil).Extract()
	if err != nil {
		return Volume{}, apperr.Wrap(err, apperr.KindDefault, "creating volume")
	}
	return fromGophercloudVolume(v), nil
}

// GetVolume fetches a volume by id.
func (c *Client) GetVolume(ctx context.Context, id string) (Volume, error) {
	v, err := volumes.Get(ctx, c.Volume, id).Extract()
	if err != nil {
		return Volume{}, mapVolumeErr(err, id)
	}
	return fromGophercloudVolume(v), nil
}

// GetVolumesByIDs fetches several volumes, skipping ones that no longer
// exist rather than failing the whole batch.
func (c *Client) GetVolumesByIDs(ctx context.Context, ids []string) ([]Volume, error) {
	out := make([]Volume, 0, len(ids))
	for _, id := range ids {
		v, err := c.GetVolume(ctx, id)
		if apperr.Is(err, apperr.KindVolumeNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// ResizeVolume extends a volume to a larger size.
func (c *Client) ResizeVolume(ctx context.Context, id string, newGB int) error {
	err := volumes.ExtendSize(ctx, c.Volume, id, volumes.ExtendSizeOpts{NewSize: newGB}).ExtractErr()
	return mapVolumeErr(err, id)
}

// DeleteVolume deletes a volume.
func (c *Client) DeleteVolume(ctx context.Context, id string) error {
	return mapVolumeErr(volumes.Delete(ctx, c.Volume, id, volumes.DeleteOpts{}).ExtractErr(), id)
}

// AttachVolumeToServer attaches a volume and returns the device path nova
// assigned.
func (c *Client) AttachVolumeToServer(ctx context.Context, serverID, volumeID string) (string, error) {
	att, err := volumeattach.Create(ctx, c.Compute, serverID, volumeattach.CreateOpts{
		VolumeID: volumeID,
	}).Extract()
	if err != nil {
		return "", apperr.Wrap(err, apperr.KindDefault, "attaching volume")
	}
	return att.Device, nil
}

// DetachVolume detaches a volume from a server.
func (c *Client) DetachVolume(ctx context.Context, serverID, volumeID string) error {
	err := volumeattach.Delete(ctx, c.Compute, serverID, volumeID).ExtractErr()
	return mapVolumeErr(err, volumeID)
}

// CreateVolumeSnapshot snapshots a volume.
func (c *Client) CreateVolumeSnapshot(ctx context.Context, volumeID, name, description string) (VolumeSnapshot, error) {
	snap, err := snapshots.Create(ctx, c.Volume, snapshots.CreateOpts{
		VolumeID:    volumeID,
		Name:        name,
		Description: description,
	}).Extract()
	if err != nil {
		return VolumeSnapshot{}, apperr.Wrap(err, apperr.KindDefault, "creating volume snapshot")
	}
	return VolumeSnapshot{ID: snap.ID, Name: snap.Name, VolumeID: snap.VolumeID, Status: snap.Status}, nil
}

// GetVolumeSnapshot fetches a volume snapshot by id.
func (c *Client) GetVolumeSnapshot(ctx context.Context, id string) (VolumeSnapshot, error) {
	snap, err := snapshots.Get(ctx, c.Volume, id).Extract()
	if err != nil {
		var notFound gophercloud.ErrDefault404
		if errors.As(err, &notFound) {
			return VolumeSnapshot{}, apperr.NewWithID(apperr.KindSnapshotNotFound, "volume snapshot not found", id)
		}
		return VolumeSnapshot{}, apperr.Wrap(err, apperr.KindDefault, "fetching volume snapshot")
	}
	return VolumeSnapshot{ID: snap.ID, Name: snap.Name, VolumeID: snap.VolumeID, Status: snap.Status}, nil
}

// DeleteVolumeSnapshot deletes a volume snapshot.
func (c *Client) DeleteVolumeSnapshot(ctx context.Context, id string) error {
	if err := snapshots.Delete(ctx, c.Volume, id).ExtractErr(); err != nil {
		var notFound gophercloud.ErrDefault404
		if errors.As(err, &notFound) {
			return apperr.NewWithID(apperr.KindSnapshotNotFound, "volume snapshot not found", id)
		}
		return apperr.Wrap(err, apperr.KindDefault, "deleting volume snapshot")
	}
	return nil
}

func fromGophercloudVolume(v *volumes.Volume) Volume {
	return Volume{
		ID:     v.ID,
		Name:   v.Name,
		SizeGB: v.Size,
		Status: v.Status,
	}
}

func mapVolumeErr(err error, id string) error {
	if err == nil {
		return nil
	}
	var notFound gophercloud.ErrDefault404
	if errors.As(err, &notFound) {
		return apperr.NewWithID(apperr.KindVolumeNotFound, "volume not found", id)
	}
	return apperr.Wrap(err, apperr.KindDefault, "openstack volume request failed")
}
