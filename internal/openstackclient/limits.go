package openstackclient

import (
	"context"

	"github.com/gophercloud/gophercloud/openstack/compute/v2/extensions/limits"

	"github.com/deNBI/simplevm-portal/internal/apperr"
)

// GetLimits fetches the project's nova quota/usage snapshot, the
// supplemented quota passthrough restored from original_source (SPEC_FULL.md).
func (c *Client) GetLimits(ctx context.Context) (Limits, error) {
	l, err := limits.Get(ctx, c.Compute, limits.GetOpts{}).Extract()
	if err != nil {
		return Limits{}, apperr.Wrap(err, apperr.KindDefault, "fetching limits")
	}
	abs := l.Absolute
	return Limits{
		MaxTotalInstances:        abs.MaxTotalInstances,
		TotalInstancesUsed:       abs.TotalInstancesUsed,
		MaxTotalCores:            abs.MaxTotalCores,
		TotalCoresUsed:           abs.TotalCoresUsed,
		MaxTotalRAMSize:          abs.MaxTotalRAMSize,
		TotalRAMUsed:             abs.TotalRAMUsed,
	}, nil
}
