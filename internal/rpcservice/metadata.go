package rpcservice

import (
	"context"

	"github.com/deNBI/simplevm-portal/internal/apperr"
)

// IsMetadataServerAvailable reports whether the metadata sidecar answers its
// health check. Always false when the subsystem is inactive.
func (s *Service) IsMetadataServerAvailable(ctx context.Context) bool {
	if s.metadata == nil {
		return false
	}
	return s.metadata.IsAvailable(ctx)
}

// SetMetadataServerData registers meta under a VM's fixed IP, so the booting
// VM can poll it back from the sidecar.
func (s *Service) SetMetadataServerData(ctx context.Context, ip string, meta map[string]any) error {
	if s.metadata == nil {
		return apperr.New(apperr.KindBackendNotFound, "metadata sidecar is not activated")
	}
	return s.metadata.SetData(ctx, ip, meta)
}

// RemoveMetadataServerData clears a VM's registered metadata, e.g. on
// DeleteServer.
func (s *Service) RemoveMetadataServerData(ctx context.Context, ip string) error {
	if s.metadata == nil {
		return apperr.New(apperr.KindBackendNotFound, "metadata sidecar is not activated")
	}
	return s.metadata.RemoveData(ctx, ip)
}
