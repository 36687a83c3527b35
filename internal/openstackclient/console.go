package openstackclient

import (
	"context"

	"github.com/gophercloud/gophercloud/openstack/compute/v2/extensions/remoteconsoles"

	"github.com/deNBI/simplevm-portal/internal/apperr"
)

// Console is the VNC/console passthrough restored from
// original_source/openstack_connector (see SPEC_FULL.md).
type Console struct {
	Type     string
	Protocol string
	URL      string
}

// GetServerConsole requests a remote console of the given type (vnc, spice,
// serial) for a server.
func (c *Client) GetServerConsole(ctx context.Context, serverID, consoleType string) (Console, error) {
	out, err := remoteconsoles.Create(ctx, c.Compute, serverID, remoteconsoles.CreateOpts{
		Protocol: remoteconsoles.ConsoleProtocolVNC,
		Type:     remoteconsoles.ConsoleType(consoleType),
	}).Extract()
	if err != nil {
		return Console{}, apperr.NewWithID(apperr.KindServerNotFound, "server console unavailable", serverID)
	}
	return Console{Type: string(out.Type), Protocol: string(out.Protocol), URL: out.URL}, nil
}
