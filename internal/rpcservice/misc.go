package rpcservice

import (
	"context"

	"github.com/deNBI/simplevm-portal/internal/openstackclient"
)

// GetGatewayIp returns the configured gateway IP new VMs route through.
func (s *Service) GetGatewayIp(_ context.Context) string {
	return s.cfg.GatewayIP
}

// CalculationValues is the response shape of GetCalculationValues.
type CalculationValues struct {
	SSHPortCalculation string
	UDPPortCalculation string
}

// GetCalculationValues returns the configured port-calculation formulas the
// portal frontend mirrors client-side.
func (s *Service) GetCalculationValues(_ context.Context) CalculationValues {
	return CalculationValues{
		SSHPortCalculation: s.cfg.SSHPortCalculation,
		UDPPortCalculation: s.cfg.UDPPortCalculation,
	}
}

// GetLimits fetches the current project's compute limits (instances, cores,
// RAM, each with its usage); volume quotas are not fetched, so the volume
// fields of the result stay zero.
func (s *Service) GetLimits(ctx context.Context) (openstackclient.Limits, error) {
	return s.openstack.GetLimits(ctx)
}
