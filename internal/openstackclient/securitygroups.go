package openstackclient

import (
	"context"
	"errors"

	"github.com/gophercloud/gophercloud"
	secgroups "github.com/gophercloud/gophercloud/openstack/networking/v2/extensions/security/groups"
	secrules "github.com/gophercloud/gophercloud/openstack/networking/v2/extensions/security/rules"

	"github.com/deNBI/simplevm-portal/internal/apperr"
)

// CreateSecurityGroupOpts is the input to CreateSecurityGroup.
type CreateSecurityGroupOpts struct {
	Name        string
	Description string
}

// CreateSecurityGroup creates an (initially ruleless) neutron security group.
func (c *Client) CreateSecurityGroup(ctx context.Context, opts CreateSecurityGroupOpts) (SecurityGroup, error) {
	sg, err := secgroups.Create(ctx, c.Network, secgroups.CreateOpts{
		Name:        opts.Name,
		Description: opts.Description,
	}).Extract()
	if err != nil {
		return SecurityGroup{}, apperr.Wrap(err, apperr.KindDefault, "creating security group")
	}
	return fromGophercloudSecGroup(sg), nil
}

// GetSecurityGroupByName returns the security group with the given name, or
// a KindSecurityGroupNotFound error. Names are unique by Resolver convention
// (spec.md §4.3) even though neutron itself does not enforce it.
func (c *Client) GetSecurityGroupByName(ctx context.Context, name string) (SecurityGroup, error) {
	pages, err := secgroups.List(c.Network, secgroups.ListOpts{Name: name}).AllPages(ctx)
	if err != nil {
		return SecurityGroup{}, apperr.Wrap(err, apperr.KindDefault, "listing security groups")
	}
	all, err := secgroups.ExtractGroups(pages)
	if err != nil {
		return SecurityGroup{}, apperr.Wrap(err, apperr.KindDefault, "extracting security groups")
	}
	if len(all) == 0 {
		return SecurityGroup{}, apperr.NewWithID(apperr.KindSecurityGroupNotFound, "security group not found", name)
	}
	return fromGophercloudSecGroup(&all[0]), nil
}

// GetSecurityGroupIDByName resolves just the id, as exposed directly over
// the RPC facade (GetSecurityGroupIdByName).
func (c *Client) GetSecurityGroupIDByName(ctx context.Context, name string) (string, error) {
	sg, err := c.GetSecurityGroupByName(ctx, name)
	if err != nil {
		return "", err
	}
	return sg.ID, nil
}

// DeleteSecurityGroup removes a security group.
func (c *Client) DeleteSecurityGroup(ctx context.Context, id string) error {
	if err := secgroups.Delete(ctx, c.Network, id).ExtractErr(); err != nil {
		var notFound gophercloud.ErrDefault404
		if errors.As(err, &notFound) {
			return nil // already gone: deletion is idempotent
		}
		return apperr.Wrap(err, apperr.KindDefault, "deleting security group")
	}
	return nil
}

// CreateSecurityGroupRuleOpts is the input to CreateSecurityGroupRule.
type CreateSecurityGroupRuleOpts struct {
	SecurityGroupID string
	Direction       string
	EtherType       string
	Protocol        string
	PortRangeMin    int
	PortRangeMax    int
	RemoteGroupID   string
	RemoteIPPrefix  string
}

// CreateSecurityGroupRule adds one rule to a security group.
func (c *Client) CreateSecurityGroupRule(ctx context.Context, opts CreateSecurityGroupRuleOpts) (SecurityGroupRule, error) {
	rule, err := secrules.Create(ctx, c.Network, secrules.CreateOpts{
		SecGroupID:     opts.SecurityGroupID,
		Direction:      secrules.RuleDirection(opts.Direction),
		EtherType:      secrules.RuleEtherType(opts.EtherType),
		Protocol:       secrules.RuleProtocol(opts.Protocol),
		PortRangeMin:   opts.PortRangeMin,
		PortRangeMax:   opts.PortRangeMax,
		RemoteGroupID:  opts.RemoteGroupID,
		RemoteIPPrefix: opts.RemoteIPPrefix,
	}).Extract()
	if err != nil {
		return SecurityGroupRule{}, apperr.Wrap(err, apperr.KindDefault, "creating security group rule")
	}
	return SecurityGroupRule{
		ID:             rule.ID,
		Direction:      rule.Direction,
		EtherType:      rule.EtherType,
		Protocol:       rule.Protocol,
		PortRangeMin:   rule.PortRangeMin,
		PortRangeMax:   rule.PortRangeMax,
		RemoteGroupID:  rule.RemoteGroupID,
		RemoteIPPrefix: rule.RemoteIPPrefix,
	}, nil
}

// DeleteSecurityGroupRule removes one rule.
func (c *Client) DeleteSecurityGroupRule(ctx context.Context, ruleID string) error {
	if err := secrules.Delete(ctx, c.Network, ruleID).ExtractErr(); err != nil {
		var notFound gophercloud.ErrDefault404
		if errors.As(err, &notFound) {
			return nil
		}
		return apperr.Wrap(err, apperr.KindDefault, "deleting security group rule")
	}
	return nil
}

// AddSecurityGroupToServer attaches a security group (by name, as nova's
// API expects) to a server.
func (c *Client) AddSecurityGroupToServer(ctx context.Context, serverID, sgName string) error {
	err := secgroups.AddServer(ctx, c.Compute, serverID, sgName).ExtractErr()
	if err != nil {
		var conflict gophercloud.ErrDefault409
		if errors.As(err, &conflict) {
			return nil // already attached
		}
		return apperr.Wrap(err, apperr.KindDefault, "attaching security group to server")
	}
	return nil
}

// RemoveSecurityGroupFromServer detaches a security group from a server.
func (c *Client) RemoveSecurityGroupFromServer(ctx context.Context, serverID, sgName string) error {
	err := secgroups.RemoveServer(ctx, c.Compute, serverID, sgName).ExtractErr()
	if err != nil {
		var notFound gophercloud.ErrDefault404
		if errors.As(err, &notFound) {
			return nil
		}
		return apperr.Wrap(err, apperr.KindDefault, "removing security group from server")
	}
	return nil
}

func fromGophercloudSecGroup(sg *secgroups.SecGroup) SecurityGroup {
	rules := make([]SecurityGroupRule, 0, len(sg.Rules))
	for _, r := range sg.Rules {
		rules = append(rules, SecurityGroupRule{
			ID:             r.ID,
			Direction:      r.Direction,
			EtherType:      r.EtherType,
			Protocol:       r.Protocol,
			PortRangeMin:   r.PortRangeMin,
			PortRangeMax:   r.PortRangeMax,
			RemoteGroupID:  r.RemoteGroupID,
			RemoteIPPrefix: r.RemoteIPPrefix,
		})
	}
	return SecurityGroup{
		ID:          sg.ID,
		Name:        sg.Name,
		Description: sg.Description,
		Rules:       rules,
	}
}
