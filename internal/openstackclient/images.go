package openstackclient

import (
	"context"
	"errors"

	"github.com/gophercloud/gophercloud"
	"github.com/gophercloud/gophercloud/openstack/imageservice/v2/images"

	"github.com/deNBI/simplevm-portal/internal/apperr"
)

// GetImage fetches an image by id.
func (c *Client) GetImage(ctx context.Context, id string) (Image, error) {
	img, err := images.Get(ctx, c.Image, id).Extract()
	if err != nil {
		var notFound gophercloud.ErrDefault404
		if errors.As(err, &notFound) {
			return Image{}, apperr.NewWithID(apperr.KindImageNotFound, "image not found", id)
		}
		return Image{}, apperr.Wrap(err, apperr.KindDefault, "fetching image")
	}
	return fromGophercloudImage(img), nil
}

// GetImageByName resolves an image by its human name, since glance may
// return more than one image sharing a name and the resolver needs the
// single best match (caller decides tie-breaking).
func (c *Client) GetImageByName(ctx context.Context, name string) ([]Image, error) {
	pages, err := images.List(c.Image, images.ListOpts{Name: name}).AllPages(ctx)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.KindDefault, "listing images by name")
	}
	all, err := images.ExtractImages(pages)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.KindDefault, "extracting images")
	}
	out := make([]Image, 0, len(all))
	for _, img := range all {
		out = append(out, fromGophercloudImage(&img))
	}
	return out, nil
}

// ListImages lists images, optionally restricted by visibility, as used by
// ListPublic/ListPrivate/List in internal/images.
func (c *Client) ListImages(ctx context.Context, visibility string) ([]Image, error) {
	opts := images.ListOpts{}
	if visibility != "" {
		opts.Visibility = images.ImageVisibility(visibility)
	}
	pages, err := images.List(c.Image, opts).AllPages(ctx)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.KindDefault, "listing images")
	}
	all, err := images.ExtractImages(pages)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.KindDefault, "extracting images")
	}
	out := make([]Image, 0, len(all))
	for _, img := range all {
		out = append(out, fromGophercloudImage(&img))
	}
	return out, nil
}

// DeleteImage removes an image.
func (c *Client) DeleteImage(ctx context.Context, id string) error {
	if err := images.Delete(ctx, c.Image, id).ExtractErr(); err != nil {
		var notFound gophercloud.ErrDefault404
		if errors.As(err, &notFound) {
			return apperr.NewWithID(apperr.KindImageNotFound, "image not found", id)
		}
		return apperr.Wrap(err, apperr.KindDefault, "deleting image")
	}
	return nil
}

func fromGophercloudImage(img *images.Image) Image {
	osVersion, _ := img.Properties["os_version"].(string)
	osDistro, _ := img.Properties["os_distro"].(string)
	slurmType, _ := img.Properties["slurm_type"].(string)
	tags := make([]string, len(img.Tags))
	copy(tags, img.Tags)
	return Image{
		ID:        img.ID,
		Name:      img.Name,
		Status:    string(img.Status),
		OSVersion: osVersion,
		OSDistro:  osDistro,
		SlurmType: slurmType,
		Tags:      tags,
		MinRAMMB:  img.MinRAM,
		MinDiskGB: img.MinDiskGigabytes,
		CreatedAt: img.CreatedAt,
	}
}
