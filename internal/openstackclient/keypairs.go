package openstackclient

import (
	"context"
	"errors"

	"github.com/gophercloud/gophercloud"
	"github.com/gophercloud/gophercloud/openstack/compute/v2/extensions/keypairs"

	"github.com/deNBI/simplevm-portal/internal/apperr"
)

// ImportKeypair imports a caller-supplied public key under name.
func (c *Client) ImportKeypair(ctx context.Context, name, publicKey string) (Keypair, error) {
	kp, err := keypairs.Create(ctx, c.Compute, keypairs.CreateOpts{
		Name:      name,
		PublicKey: publicKey,
	}).Extract()
	if err != nil {
		return Keypair{}, apperr.Wrap(err, apperr.KindDefault, "importing keypair")
	}
	return Keypair{Name: kp.Name, PublicKey: kp.PublicKey}, nil
}

// CreateKeypair asks the backend to generate a fresh keypair, returning the
// private key material exactly once (StartServerWithCustomKey, spec.md §4.8).
func (c *Client) CreateKeypair(ctx context.Context, name string) (Keypair, error) {
	kp, err := keypairs.Create(ctx, c.Compute, keypairs.CreateOpts{Name: name}).Extract()
	if err != nil {
		return Keypair{}, apperr.Wrap(err, apperr.KindDefault, "creating keypair")
	}
	return Keypair{Name: kp.Name, PublicKey: kp.PublicKey, PrivateKey: kp.PrivateKey}, nil
}

// GetKeypairPublicKeyByName resolves a keypair's public key material.
func (c *Client) GetKeypairPublicKeyByName(ctx context.Context, name string) (string, error) {
	kp, err := keypairs.Get(ctx, c.Compute, name, keypairs.GetOpts{}).Extract()
	if err != nil {
		var notFound gophercloud.ErrDefault404
		if errors.As(err, &notFound) {
			return "", apperr.NewWithID(apperr.KindValidation, "keypair not found", name)
		}
		return "", apperr.Wrap(err, apperr.KindDefault, "fetching keypair")
	}
	return kp.PublicKey, nil
}

// DeleteKeypair deletes a keypair. Called immediately after server creation
// since simplevm-portal never reuses a named keypair across VMs (spec.md §3).
func (c *Client) DeleteKeypair(ctx context.Context, name string) error {
	if err := keypairs.Delete(ctx, c.Compute, name, keypairs.DeleteOpts{}).ExtractErr(); err != nil {
		var notFound gophercloud.ErrDefault404
		if errors.As(err, &notFound) {
			return nil
		}
		return apperr.Wrap(err, apperr.KindDefault, "deleting keypair")
	}
	return nil
}
