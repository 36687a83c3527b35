package openstackclient

import (
	"context"
	"errors"

	"github.com/gophercloud/gophercloud"
	"github.com/gophercloud/gophercloud/openstack/compute/v2/extensions/keypairs"
	"github.com/gophercloud/gophercloud/openstack/compute/v2/servers"

	"github.com/deNBI/simplevm-portal/internal/apperr"
)

// CreateServerOpts is the input to CreateServer, already resolved by the
// orchestrator (image id, flavor id, security group names, userdata bytes).
type CreateServerOpts struct {
	Name             string
	ImageID          string
	FlavorID         string
	NetworkID        string
	SecurityGroups   []string
	KeyName          string
	UserData         []byte
	Metadata         map[string]string
}

// CreateServer boots a new nova server.
func (c *Client) CreateServer(ctx context.Context, opts CreateServerOpts) (Server, error) {
	createOpts := servers.CreateOpts{
		Name:           opts.Name,
		ImageRef:       opts.ImageID,
		FlavorRef:      opts.FlavorID,
		SecurityGroups: opts.SecurityGroups,
		UserData:       opts.UserData,
		Metadata:       opts.Metadata,
		Networks:       []servers.Network{{UUID: opts.NetworkID}},
	}

	var result *servers.Server
	var err error
	if opts.KeyName != "" {
		withKey := keypairs.CreateOptsExt{
			CreateOptsBuilder: createOpts,
			KeyName:           opts.KeyName,
		}
		result, err = servers.Create(ctx, c.Compute, withKey, nil).Extract()
	} else {
		result, err = servers.Create(ctx, c.Compute, createOpts, nil).Extract()
	}
	if err != nil {
		return Server{}, mapServerErr(err, opts.Name)
	}
	return fromGophercloudServer(result), nil
}

// GetServer fetches a server by its openstack id.
func (c *Client) GetServer(ctx context.Context, id string) (Server, error) {
	srv, err := servers.Get(ctx, c.Compute, id).Extract()
	if err != nil {
		return Server{}, mapServerErr(err, id)
	}
	return fromGophercloudServer(srv), nil
}

// GetServers lists all servers visible to the current project.
func (c *Client) GetServers(ctx context.Context) ([]Server, error) {
	pages, err := servers.List(c.Compute, servers.ListOpts{}).AllPages(ctx)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.KindDefault, "listing servers")
	}
	all, err := servers.ExtractServers(pages)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.KindDefault, "extracting servers")
	}
	out := make([]Server, 0, len(all))
	for i := range all {
		out = append(out, fromGophercloudServer(&all[i]))
	}
	return out, nil
}

// DeleteServer force-deletes a server.
func (c *Client) DeleteServer(ctx context.Context, id string) error {
	if err := servers.ForceDelete(ctx, c.Compute, id).ExtractErr(); err != nil {
		return mapServerErr(err, id)
	}
	return nil
}

// StopServer issues a graceful stop.
func (c *Client) StopServer(ctx context.Context, id string) error {
	if err := servers.Stop(ctx, c.Compute, id).ExtractErr(); err != nil {
		return mapServerErr(err, id)
	}
	return nil
}

// RebootServer issues a soft or hard reboot.
func (c *Client) RebootServer(ctx context.Context, id string, hard bool) error {
	rebootType := servers.SoftReboot
	if hard {
		rebootType = servers.HardReboot
	}
	err := servers.Reboot(ctx, c.Compute, id, servers.RebootOpts{Type: rebootType}).ExtractErr()
	if err != nil {
		return mapServerErr(err, id)
	}
	return nil
}

// ResumeServer starts a stopped server (nova's start action).
func (c *Client) ResumeServer(ctx context.Context, id string) error {
	return mapServerErr(servers.Start(ctx, c.Compute, id).ExtractErr(), id)
}

// RescueServer puts the server into rescue mode.
func (c *Client) RescueServer(ctx context.Context, id, adminPass string) error {
	_, err := servers.Rescue(ctx, c.Compute, id, servers.RescueOpts{AdminPass: adminPass}).Extract()
	return mapServerErr(err, id)
}

// UnrescueServer exits rescue mode.
func (c *Client) UnrescueServer(ctx context.Context, id string) error {
	return mapServerErr(servers.Unrescue(ctx, c.Compute, id).ExtractErr(), id)
}

// SetServerMetadata sets the given metadata keys on the server; keys not
// named in meta are left as they are.
func (c *Client) SetServerMetadata(ctx context.Context, id string, meta map[string]string) error {
	_, err := servers.UpdateMetadata(ctx, c.Compute, id, servers.MetadataOpts(toAnyMap(meta))).Extract()
	return mapServerErr(err, id)
}

// AddMetadataToServer merges additional metadata keys onto the server.
func (c *Client) AddMetadataToServer(ctx context.Context, id string, meta map[string]string) error {
	return c.SetServerMetadata(ctx, id, meta)
}

// CreateImageFromServer snapshots a running server into a new glance image,
// backing the CreateSnapshot RPC operation (spec.md §6).
func (c *Client) CreateImageFromServer(ctx context.Context, serverID, name string, metadata map[string]string) (string, error) {
	imageID, err := servers.CreateImage(ctx, c.Compute, serverID, servers.CreateImageOpts{
		Name:     name,
		Metadata: metadata,
	}).ExtractImageID()
	if err != nil {
		return "", mapServerErr(err, serverID)
	}
	return imageID, nil
}

func toAnyMap(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func fromGophercloudServer(s *servers.Server) Server {
	fixed, floating := extractAddresses(s.Addresses)
	sgNames := make([]string, 0, len(s.SecurityGroups))
	for _, sg := range s.SecurityGroups {
		if name, ok := sg["name"].(string); ok {
			sgNames = append(sgNames, name)
		}
	}
	return Server{
		ID:             s.ID,
		Name:           s.Name,
		VMState:        s.Status,
		TaskState:      derefString(s.TaskState),
		FixedIPv4:      fixed,
		FloatingIPv4:   floating,
		Metadata:       s.Metadata,
		SecurityGroups: sgNames,
		FlavorID:       flavorID(s.Flavor),
		ImageID:        imageID(s.Image),
		KeyName:        s.KeyName,
		CreatedAt:      s.Created,
	}
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func flavorID(flavor map[string]any) string {
	if id, ok := flavor["id"].(string); ok {
		return id
	}
	return ""
}

func imageID(image map[string]any) string {
	if id, ok := image["id"].(string); ok {
		return id
	}
	return ""
}

func extractAddresses(addresses map[string]any) (fixed, floating string) {
	for _, raw := range addresses {
		entries, ok := raw.([]any)
		if !ok {
			continue
		}
		for _, e := range entries {
			entry, ok := e.(map[string]any)
			if !ok {
				continue
			}
			addr, _ := entry["addr"].(string)
			kind, _ := entry["OS-EXT-IPS:type"].(string)
			switch kind {
			case "fixed":
				fixed = addr
			case "floating":
				floating = addr
			}
		}
	}
	return fixed, floating
}

func mapServerErr(err error, id string) error {
	if err == nil {
		return nil
	}
	var notFound gophercloud.ErrDefault404
	if errors.As(err, &notFound) {
		return apperr.NewWithID(apperr.KindServerNotFound, "server not found", id)
	}
	var conflict gophercloud.ErrDefault409
	if errors.As(err, &conflict) {
		return apperr.Wrap(err, apperr.KindOpenStackConflict, "server operation conflicts with current state")
	}
	return apperr.Wrap(err, apperr.KindDefault, "openstack compute request failed")
}
