// Package shutdown implements the playbook shutdown hook (spec.md §4.6,
// §5, §8 scenario 6): on SIGTERM, every VM with an active playbook has its
// backend keypair and the VM itself deleted, its runner terminated, and its
// logs stashed to pb_logs_{vmId}, before the process exits non-zero.
package shutdown

import (
	"context"
	"log/slog"

	"github.com/deNBI/simplevm-portal/internal/kvstore"
)

// Backend is the subset of openstackclient.Client the shutdown hook needs.
type Backend interface {
	DeleteKeypair(ctx context.Context, name string) error
	GetSecurityGroupIDByName(ctx context.Context, name string) (string, error)
}

// Deleter is the subset of orchestrator.Orchestrator the shutdown hook
// needs, kept separate so tests can stub it without standing up a full
// Orchestrator.
type Deleter interface {
	DeleteServer(ctx context.Context, vmID string, sgIDLookup func(name string) (string, error)) error
}

// Supervisor is the subset of playbook.Supervisor the shutdown hook needs,
// kept separate so tests can stub it without spawning real runner
// processes.
type Supervisor interface {
	ActiveVMIDs() []string
	Stop(ctx context.Context, vmID string) error
}

// Hook walks every VM the Playbook Supervisor still considers active and
// tears it down. It shares the Supervisor and the KV store with the rest
// of the service (spec.md §5: "no cycles if the service object owns
// both"), rather than owning a private copy of either.
type Hook struct {
	supervisor   Supervisor
	store        kvstore.Store
	orchestrator Deleter
	openstack    Backend
	logger       *slog.Logger
}

// New builds a shutdown Hook. supervisor is typically
// *playbook.Supervisor, orch *orchestrator.Orchestrator, and osClient
// *openstackclient.Client.
func New(supervisor Supervisor, store kvstore.Store, orch Deleter, osClient Backend, logger *slog.Logger) *Hook {
	return &Hook{supervisor: supervisor, store: store, orchestrator: orch, openstack: osClient, logger: logger}
}

// Run executes the shutdown sequence for every active playbook. Individual
// cleanup failures are logged and not re-raised, per spec.md §7's
// propagation policy for this hook ("best-effort cleanup").
func (h *Hook) Run(ctx context.Context) {
	ids := h.supervisor.ActiveVMIDs()
	h.logger.Info("shutdown hook: tearing down active playbooks", "count", len(ids))

	for _, vmID := range ids {
		h.teardown(ctx, vmID)
	}
}

func (h *Hook) teardown(ctx context.Context, vmID string) {
	rec, err := h.store.Get(ctx, vmID)
	if err != nil {
		h.logger.Error("shutdown hook: reading pipeline record", "vm_id", vmID, "error", err)
	} else if rec.Name != "" {
		if err := h.openstack.DeleteKeypair(ctx, rec.Name); err != nil {
			h.logger.Error("shutdown hook: deleting keypair", "vm_id", vmID, "keypair", rec.Name, "error", err)
		}
	}

	sgIDLookup := func(name string) (string, error) {
		return h.openstack.GetSecurityGroupIDByName(ctx, name)
	}
	if err := h.orchestrator.DeleteServer(ctx, vmID, sgIDLookup); err != nil {
		h.logger.Error("shutdown hook: deleting server", "vm_id", vmID, "error", err)
	}

	if err := h.supervisor.Stop(ctx, vmID); err != nil {
		h.logger.Error("shutdown hook: stopping playbook runner", "vm_id", vmID, "error", err)
	}
}
