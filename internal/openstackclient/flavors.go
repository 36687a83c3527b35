package openstackclient

import (
	"context"

	"github.com/gophercloud/gophercloud/openstack/compute/v2/flavors"

	"github.com/deNBI/simplevm-portal/internal/apperr"
)

// GetFlavors lists all flavors visible to the current project.
func (c *Client) GetFlavors(ctx context.Context) ([]Flavor, error) {
	pages, err := flavors.ListDetail(c.Compute, flavors.ListOpts{}).AllPages(ctx)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.KindDefault, "listing flavors")
	}
	all, err := flavors.ExtractFlavors(pages)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.KindDefault, "extracting flavors")
	}
	out := make([]Flavor, 0, len(all))
	for _, f := range all {
		out = append(out, Flavor{ID: f.ID, Name: f.Name, VCPUs: f.VCPUs, RAMMB: f.RAM, DiskGB: f.Disk})
	}
	return out, nil
}

// GetFlavor resolves a flavor by id, the supplemented Flavor Resolver
// restored from original_source/openstack_connector (see SPEC_FULL.md).
func (c *Client) GetFlavor(ctx context.Context, id string) (Flavor, error) {
	f, err := flavors.Get(ctx, c.Compute, id).Extract()
	if err != nil {
		return Flavor{}, apperr.NewWithID(apperr.KindFlavorNotFound, "flavor not found", id)
	}
	return Flavor{ID: f.ID, Name: f.Name, VCPUs: f.VCPUs, RAMMB: f.RAM, DiskGB: f.Disk}, nil
}

// GetFlavorByName resolves a flavor by its human name, falling back through
// the full flavor list since gophercloud has no server-side name filter for
// every deployment's nova-api-extensions set.
func (c *Client) GetFlavorByName(ctx context.Context, name string) (Flavor, error) {
	all, err := c.GetFlavors(ctx)
	if err != nil {
		return Flavor{}, err
	}
	for _, f := range all {
		if f.Name == name {
			return f, nil
		}
	}
	return Flavor{}, apperr.NewWithID(apperr.KindFlavorNotFound, "flavor not found", name)
}
