package rpcservice

import "context"

// ImportKeypair imports a caller-supplied public key under name.
func (s *Service) ImportKeypair(ctx context.Context, name, publicKey string) error {
	_, err := s.openstack.ImportKeypair(ctx, name, publicKey)
	return err
}

// GetKeypairPublicKeyByName resolves a keypair's public key material.
func (s *Service) GetKeypairPublicKeyByName(ctx context.Context, name string) (string, error) {
	return s.openstack.GetKeypairPublicKeyByName(ctx, name)
}

// DeleteKeypair deletes a keypair.
func (s *Service) DeleteKeypair(ctx context.Context, name string) error {
	return s.openstack.DeleteKeypair(ctx, name)
}
