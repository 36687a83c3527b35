// Package openstackclient adapts gophercloud's per-service clients into the
// typed domain operations the rest of simplevm-portal depends on: servers,
// flavors, images, volumes, security groups, keypairs, and networks. It is
// the sole place gophercloud types are allowed to leak into; every other
// package talks to *Client through plain Go structs.
package openstackclient

import (
	"github.com/gophercloud/gophercloud"
	"github.com/gophercloud/gophercloud/openstack"
)

// Client bundles the per-service gophercloud clients used across the
// adapters in this package.
type Client struct {
	Provider *gophercloud.ProviderClient
	Compute  *gophercloud.ServiceClient
	Volume   *gophercloud.ServiceClient
	Image    *gophercloud.ServiceClient
	Network  *gophercloud.ServiceClient

	computeAPIVersion string
}

// New builds a Client from an already-authenticated provider.
func New(provider *gophercloud.ProviderClient, region, computeAPIVersion string) (*Client, error) {
	eo := gophercloud.EndpointOpts{Region: region}

	compute, err := openstack.NewComputeV2(provider, eo)
	if err != nil {
		return nil, err
	}
	volume, err := openstack.NewBlockStorageV3(provider, eo)
	if err != nil {
		return nil, err
	}
	image, err := openstack.NewImageServiceV2(provider, eo)
	if err != nil {
		return nil, err
	}
	network, err := openstack.NewNetworkV2(provider, eo)
	if err != nil {
		return nil, err
	}

	return &Client{
		Provider:          provider,
		Compute:           compute,
		Volume:            volume,
		Image:             image,
		Network:           network,
		computeAPIVersion: computeAPIVersion,
	}, nil
}
