package platform

import (
	"context"
	"fmt"

	"github.com/gophercloud/gophercloud"
	"github.com/gophercloud/gophercloud/openstack"

	"github.com/deNBI/simplevm-portal/internal/config"
)

// NewOpenStackProvider authenticates against Keystone using either
// application credentials or username/password, per spec.md §6's
// environment variable table.
func NewOpenStackProvider(ctx context.Context, env config.EnvConfig) (*gophercloud.ProviderClient, error) {
	ao := gophercloud.AuthOptions{
		IdentityEndpoint: env.OSAuthURL,
		AllowReauth:      true,
	}

	if env.UseApplicationCredentials {
		ao.ApplicationCredentialID = env.OSApplicationCredentialID
		ao.ApplicationCredentialSecret = env.OSApplicationCredentialKey
	} else {
		ao.Username = env.OSUsername
		ao.Password = env.OSPassword
		ao.TenantName = env.OSProjectName
		ao.TenantID = env.OSProjectID
		ao.DomainName = env.OSUserDomainName
	}

	provider, err := openstack.NewClient(env.OSAuthURL)
	if err != nil {
		return nil, fmt.Errorf("building openstack client: %w", err)
	}
	if err := openstack.Authenticate(provider, ao); err != nil {
		return nil, fmt.Errorf("authenticating against %s: %w", env.OSAuthURL, err)
	}
	_ = ctx
	return provider, nil
}
