package openstackclient

import (
	"context"

	"github.com/gophercloud/gophercloud/openstack/loadbalancer/v2/loadbalancers"
	"github.com/gophercloud/gophercloud/openstack/networking/v2/ports"

	"github.com/deNBI/simplevm-portal/internal/apperr"
)

// PortsReferencingSecurityGroup counts neutron ports whose security_groups
// list includes sgID, satisfying internal/secgroup.NetworkPortLister.
func (c *Client) PortsReferencingSecurityGroup(ctx context.Context, sgID string) (int, error) {
	pages, err := ports.List(c.Network, ports.ListOpts{SecurityGroups: []string{sgID}}).AllPages(ctx)
	if err != nil {
		return 0, apperr.Wrap(err, apperr.KindDefault, "listing ports by security group")
	}
	all, err := ports.ExtractPorts(pages)
	if err != nil {
		return 0, apperr.Wrap(err, apperr.KindDefault, "extracting ports")
	}
	return len(all), nil
}

// LoadBalancersReferencingSecurityGroup counts octavia load balancers whose
// VIP port lists sgID among its security groups. It reads each VIP port's
// own security group list, so a VIP port counted here is also counted by
// PortsReferencingSecurityGroup; a VIP port that cannot be fetched is
// skipped.
func (c *Client) LoadBalancersReferencingSecurityGroup(ctx context.Context, sgID string) (int, error) {
	pages, err := loadbalancers.List(c.Network, loadbalancers.ListOpts{}).AllPages(ctx)
	if err != nil {
		return 0, apperr.Wrap(err, apperr.KindDefault, "listing load balancers")
	}
	all, err := loadbalancers.ExtractLoadBalancers(pages)
	if err != nil {
		return 0, apperr.Wrap(err, apperr.KindDefault, "extracting load balancers")
	}

	count := 0
	for _, lb := range all {
		if lb.VipPortID == "" {
			continue
		}
		port, err := ports.Get(ctx, c.Network, lb.VipPortID).Extract()
		if err != nil {
			continue
		}
		for _, sg := range port.SecurityGroups {
			if sg == sgID {
				count++
				break
			}
		}
	}
	return count, nil
}
