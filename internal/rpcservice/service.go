// Package rpcservice is the Public RPC Facade (spec.md §6): a typed Go
// interface enumerating every operation the portal frontend and its
// collaborators call, composing the Orchestrator, the four Resolvers, the
// Playbook Supervisor, the Template Catalog, and the three outbound HTTP
// clients behind one surface. internal/rpctransport dispatches wire frames
// to these methods by name; this package owns none of the framing itself.
package rpcservice

import (
	"context"
	"log/slog"

	"github.com/deNBI/simplevm-portal/internal/bibigrid"
	"github.com/deNBI/simplevm-portal/internal/forc"
	"github.com/deNBI/simplevm-portal/internal/images"
	"github.com/deNBI/simplevm-portal/internal/kvstore"
	"github.com/deNBI/simplevm-portal/internal/metadataclient"
	"github.com/deNBI/simplevm-portal/internal/openstackclient"
	"github.com/deNBI/simplevm-portal/internal/orchestrator"
	"github.com/deNBI/simplevm-portal/internal/playbook"
	"github.com/deNBI/simplevm-portal/internal/portcalc"
	"github.com/deNBI/simplevm-portal/internal/secgroup"
	"github.com/deNBI/simplevm-portal/internal/templatecatalog"
)

// StaticConfig is the subset of configuration the facade answers directly
// (GetGatewayIp, GetCalculationValues, GetForcAccessUrl/GetForcBackendUrl)
// rather than forwarding to a collaborator.
type StaticConfig struct {
	GatewayIP         string
	InternalGatewayIP string
	CloudSite         string
	SSHPortCalculation string
	UDPPortCalculation string
	ForcAccessURL      string
	ForcBackendURL     string
	NetworkName        string
}

// Service is the Public RPC Facade. Every exported method corresponds to one
// operation in spec.md §6's RPC surface.
type Service struct {
	openstack    *openstackclient.Client
	orchestrator *orchestrator.Orchestrator
	secgroup     *secgroup.Resolver
	images       *images.Resolver
	playbooks    *playbook.Supervisor
	catalog      *templatecatalog.Catalog
	ports        *portcalc.Calculator
	store        kvstore.Store

	bibigrid *bibigrid.Client // nil when bibigrid.activated is false
	forc     *forc.Client     // nil when forc.activated is false
	metadata *metadataclient.Client // nil when metadata_server.activated is false

	cfg    StaticConfig
	logger *slog.Logger
}

// New builds the facade. Any of bibigridClient/forcClient/metadataClient may
// be nil, meaning the corresponding subsystem is inert per its YAML
// `activated` flag (spec.md §6); operations that forward to it return
// apperr.KindBackendNotFound instead of panicking.
func New(
	osClient *openstackclient.Client,
	orch *orchestrator.Orchestrator,
	sgResolver *secgroup.Resolver,
	imgResolver *images.Resolver,
	playbooks *playbook.Supervisor,
	catalog *templatecatalog.Catalog,
	ports *portcalc.Calculator,
	store kvstore.Store,
	bibigridClient *bibigrid.Client,
	forcClient *forc.Client,
	metadataClient *metadataclient.Client,
	cfg StaticConfig,
	logger *slog.Logger,
) *Service {
	return &Service{
		openstack:    osClient,
		orchestrator: orch,
		secgroup:     sgResolver,
		images:       imgResolver,
		playbooks:    playbooks,
		catalog:      catalog,
		ports:        ports,
		store:        store,
		bibigrid:     bibigridClient,
		forc:         forcClient,
		metadata:     metadataClient,
		cfg:          cfg,
		logger:       logger,
	}
}

// sgIDLookup adapts GetSecurityGroupIDByName to the signature
// orchestrator.DeleteServer expects.
func (s *Service) sgIDLookup(ctx context.Context) func(name string) (string, error) {
	return func(name string) (string, error) {
		return s.openstack.GetSecurityGroupIDByName(ctx, name)
	}
}
