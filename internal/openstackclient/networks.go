package openstackclient

import (
	"context"

	"github.com/gophercloud/gophercloud/openstack/networking/v2/networks"

	"github.com/deNBI/simplevm-portal/internal/apperr"
)

// GetNetwork resolves a network by id, the supplemented Network Resolver
// restored from original_source/openstack_connector (see SPEC_FULL.md).
func (c *Client) GetNetwork(ctx context.Context, id string) (Network, error) {
	n, err := networks.Get(ctx, c.Network, id).Extract()
	if err != nil {
		return Network{}, apperr.NewWithID(apperr.KindBackendNotFound, "network not found", id)
	}
	return Network{ID: n.ID, Name: n.Name}, nil
}

// GetNetworkByName resolves a network by its human name.
func (c *Client) GetNetworkByName(ctx context.Context, name string) (Network, error) {
	pages, err := networks.List(c.Network, networks.ListOpts{Name: name}).AllPages(ctx)
	if err != nil {
		return Network{}, apperr.Wrap(err, apperr.KindDefault, "listing networks")
	}
	all, err := networks.ExtractNetworks(pages)
	if err != nil {
		return Network{}, apperr.Wrap(err, apperr.KindDefault, "extracting networks")
	}
	if len(all) == 0 {
		return Network{}, apperr.NewWithID(apperr.KindBackendNotFound, "network not found", name)
	}
	return Network{ID: all[0].ID, Name: all[0].Name}, nil
}
