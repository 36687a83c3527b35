// Package app wires every collaborator package into one running process:
// the RPC facade (internal/rpcservice) dispatched over the framed listener
// (internal/rpctransport), the Template Catalog's background refresh loop,
// the ambient health/metrics HTTP side-channel (internal/httpserver), and
// the SIGTERM playbook teardown hook (internal/shutdown).
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/deNBI/simplevm-portal/internal/bibigrid"
	"github.com/deNBI/simplevm-portal/internal/config"
	"github.com/deNBI/simplevm-portal/internal/forc"
	"github.com/deNBI/simplevm-portal/internal/httpserver"
	"github.com/deNBI/simplevm-portal/internal/images"
	"github.com/deNBI/simplevm-portal/internal/kvstore"
	"github.com/deNBI/simplevm-portal/internal/metadataclient"
	"github.com/deNBI/simplevm-portal/internal/openstackclient"
	"github.com/deNBI/simplevm-portal/internal/orchestrator"
	"github.com/deNBI/simplevm-portal/internal/platform"
	"github.com/deNBI/simplevm-portal/internal/playbook"
	"github.com/deNBI/simplevm-portal/internal/portcalc"
	"github.com/deNBI/simplevm-portal/internal/rpcservice"
	"github.com/deNBI/simplevm-portal/internal/rpctransport"
	"github.com/deNBI/simplevm-portal/internal/secgroup"
	"github.com/deNBI/simplevm-portal/internal/shutdown"
	"github.com/deNBI/simplevm-portal/internal/telemetry"
	"github.com/deNBI/simplevm-portal/internal/templatecatalog"
)

// scratchRoot and runnerPath have no corresponding `server:`/`openstack:` YAML
// field (config.go's schema stops at the blocks spec.md §6 documents); they
// are operational paths baked into the deployment image, not something an
// operator tunes per environment.
const (
	scratchRoot = "/var/lib/simplevm-portal/playbook-scratch"
	playsDir    = "/var/lib/simplevm-portal/plays"
	runnerPath  = "/usr/bin/ansible-playbook"
)

// catalogRefreshInterval is the Template Catalog's background refresh
// period (spec.md §4.7 default: every 12h).
const catalogRefreshInterval = 12 * time.Hour

// Run reads cfg, connects to every backing collaborator, and serves the RPC
// facade until ctx is cancelled.
func Run(ctx context.Context, cfg *config.Config) error {
	logger := telemetry.NewLogger(cfg.Env.LogLevel, cfg.Env.LogFile)
	slog.SetDefault(logger)

	logger.Info("starting simplevm-portal", "listen", cfg.ListenAddr())

	shutdownTracer, err := telemetry.InitTracer(ctx, cfg.Env.OTLPEndpoint, "simplevm-portal")
	if err != nil {
		return fmt.Errorf("initializing tracer: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracer(shutdownCtx); err != nil {
			logger.Error("shutting down tracer", "error", err)
		}
	}()

	metricsReg := telemetry.NewRegistry(telemetry.All()...)

	rdb, err := platform.NewRedisClient(ctx, cfg.YAML.Redis.Host, cfg.YAML.Redis.Port)
	if err != nil {
		return fmt.Errorf("connecting to redis: %w", err)
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			logger.Error("closing redis", "error", err)
		}
	}()
	store := kvstore.New(rdb)

	provider, err := platform.NewOpenStackProvider(ctx, cfg.Env)
	if err != nil {
		return fmt.Errorf("authenticating against openstack: %w", err)
	}
	osClient, err := openstackclient.New(provider, "", cfg.YAML.OpenStack.ComputeAPIVersion)
	if err != nil {
		return fmt.Errorf("building openstack client: %w", err)
	}

	ports, err := portcalc.New(cfg.YAML.OpenStack.SSHPortCalculation, cfg.YAML.OpenStack.UDPPortCalculation)
	if err != nil {
		return fmt.Errorf("building port calculator: %w", err)
	}

	imgResolver := images.New(osClient)
	sgResolver := secgroup.New(osClient, osClient, cfg.YAML.OpenStack.GatewaySecurityGroupID, cfg.YAML.OpenStack.ForcSecurityGroupID)
	orch := orchestrator.New(osClient, imgResolver, sgResolver, store, cfg.YAML.OpenStack.GatewayIP)

	for _, dir := range []string{scratchRoot, playsDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("preparing directory %s: %w", dir, err)
		}
	}

	insecure := !cfg.YAML.Production

	var bibigridClient *bibigrid.Client
	if cfg.YAML.Bibigrid.Activated {
		bibigridClient = bibigrid.New(bibigrid.Config{
			Activated:             cfg.YAML.Bibigrid.Activated,
			Host:                  cfg.YAML.Bibigrid.Host,
			Port:                  cfg.YAML.Bibigrid.Port,
			HTTPS:                 cfg.YAML.Bibigrid.HTTPS,
			Modes:                 cfg.YAML.Bibigrid.Modes,
			SubNetwork:            cfg.YAML.Bibigrid.SubNetwork,
			UseMasterWithPublicIP: cfg.YAML.Bibigrid.UseMasterWithPublicIP,
			LocalDNSLookup:        cfg.YAML.Bibigrid.LocalDNSLookup,
			AnsibleGalaxyRoles:    cfg.YAML.Bibigrid.AnsibleGalaxyRoles,
		}, insecure)
		logger.Info("bibigrid cluster support enabled", "host", cfg.YAML.Bibigrid.Host)
	}

	var forcClient *forc.Client
	var forcProbe templatecatalog.ForcProbe = noopForcProbe{}
	if cfg.YAML.Forc.Activated {
		forcClient = forc.New(forc.Config{
			Activated:               cfg.YAML.Forc.Activated,
			BackendURL:              cfg.YAML.Forc.ForcBackendURL,
			AccessURL:               cfg.YAML.Forc.ForcAccessURL,
			GithubPlaybooksRepo:     cfg.YAML.Forc.GithubPlaybooksRepo,
			UpdateTemplatesSchedule: cfg.YAML.Forc.UpdateTemplatesSchedule,
		}, cfg.Env.ForcAPIKey, insecure)
		forcProbe = forcClient
		logger.Info("forc research-environment support enabled", "backend", cfg.YAML.Forc.ForcBackendURL)
	}

	var metadataClient *metadataclient.Client
	if cfg.YAML.MetadataServer.Activated {
		metadataClient = metadataclient.New(metadataclient.Config{
			Activated: cfg.YAML.MetadataServer.Activated,
			Host:      cfg.YAML.MetadataServer.Host,
			Port:      cfg.YAML.MetadataServer.Port,
			UseHTTPS:  cfg.YAML.MetadataServer.UseHTTPS,
		}, cfg.Env.MetadataWriteToken, insecure)
		logger.Info("metadata sidecar support enabled", "host", cfg.YAML.MetadataServer.Host)
	}

	// The Playbook Supervisor needs the Template Catalog's lock (to defer
	// materialising playbook files during a refresh) and the Catalog needs
	// the Supervisor's active-pipeline count (to defer a refresh while any
	// playbook is in flight) — a genuine cycle. lockRef is handed to the
	// Supervisor before the Catalog exists and is pointed at the real
	// Catalog immediately after construction, before Run starts serving.
	lockRef := &catalogLockRef{}
	supervisor := playbook.New(store, playbook.ExecRunner{}, lockRef, scratchRoot, runnerPath, logger)
	catalog := templatecatalog.New(cfg.YAML.Forc.GithubPlaybooksRepo, playsDir, supervisor, forcProbe, logger)
	lockRef.catalog = catalog
	go catalog.Run(ctx, catalogRefreshInterval)

	svc := rpcservice.New(
		osClient,
		orch,
		sgResolver,
		imgResolver,
		supervisor,
		catalog,
		ports,
		store,
		bibigridClient,
		forcClient,
		metadataClient,
		rpcservice.StaticConfig{
			GatewayIP:          cfg.YAML.OpenStack.GatewayIP,
			InternalGatewayIP:  cfg.YAML.OpenStack.InternalGatewayIP,
			CloudSite:          cfg.YAML.OpenStack.CloudSite,
			SSHPortCalculation: cfg.YAML.OpenStack.SSHPortCalculation,
			UDPPortCalculation: cfg.YAML.OpenStack.UDPPortCalculation,
			ForcAccessURL:      cfg.YAML.Forc.ForcAccessURL,
			ForcBackendURL:     cfg.YAML.Forc.ForcBackendURL,
			NetworkName:        cfg.YAML.OpenStack.Network,
		},
		logger,
	)

	router := buildRouter(svc)

	tlsCfg, err := rpctransport.BuildTLSConfig(cfg.YAML.Server)
	if err != nil {
		return fmt.Errorf("building rpc tls config: %w", err)
	}
	rpcSrv, err := rpctransport.Listen(cfg.ListenAddr(), tlsCfg, router, logger)
	if err != nil {
		return fmt.Errorf("opening rpc listener: %w", err)
	}

	healthSrv := httpserver.NewServer(logger, rdb, metricsReg)
	ambientAddr := ambientListenAddr(cfg.YAML.Server.Host)
	httpSrv := &http.Server{
		Addr:         ambientAddr,
		Handler:      healthSrv,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	teardown := shutdown.New(supervisor, store, orch, osClient, logger)

	errCh := make(chan error, 2)
	go func() {
		logger.Info("rpc server listening", "addr", rpcSrv.Addr().String())
		errCh <- rpcSrv.Serve(ctx)
	}()
	go func() {
		logger.Info("ambient http server listening", "addr", ambientAddr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("ambient http server: %w", err)
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			logger.Error("server exited unexpectedly", "error", err)
		}
	}

	teardown.Run(context.Background())

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = rpcSrv.Close()
	return httpSrv.Shutdown(shutdownCtx)
}

// ambientListenAddr derives the health/metrics side-channel's address from
// the RPC server's configured host, on the fixed port 9090 whatever the RPC
// port is.
func ambientListenAddr(host string) string {
	if host == "" {
		host = "0.0.0.0"
	}
	return fmt.Sprintf("%s:%d", host, 9090)
}

// catalogLockRef forwards Locked to a *templatecatalog.Catalog set after
// construction, breaking the Supervisor/Catalog constructor cycle.
type catalogLockRef struct {
	catalog *templatecatalog.Catalog
}

func (l *catalogLockRef) Locked(ctx context.Context) bool {
	return l.catalog.Locked(ctx)
}

// noopForcProbe stands in for templatecatalog.ForcProbe when the forc
// subsystem is inactive; *forc.Client isn't nil-safe, so a real Client can't
// be left as a typed-nil ForcProbe.
type noopForcProbe struct{}

func (noopForcProbe) HasTemplateVersion(_ context.Context, _, _ string) bool { return false }
