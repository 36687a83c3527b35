// Package playbook implements the Playbook Supervisor (spec.md §4.6): a
// per-VM state machine driving PREPARE → BUILD → (SUCCESS|FAILED), owning
// the scratch directory, the runner subprocess, and the logs.
package playbook

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/deNBI/simplevm-portal/internal/apperr"
	"github.com/deNBI/simplevm-portal/internal/kvstore"
)

const (
	catalogLockPollInterval = time.Minute
	catalogLockTimeout      = 5 * time.Minute
	sshProbeTimeout         = 5 * time.Second
)

// CatalogLockChecker reports whether the Template Catalog's update lock
// (internal/templatecatalog) is currently held. CreateAndDeploy polls it
// before materialising playbook files, per spec.md §4.6/§5.
type CatalogLockChecker interface {
	Locked(ctx context.Context) bool
}

// Active is the in-memory record of one running/completed playbook,
// mirroring the fields of the Playbook entity in spec.md §3.
type Active struct {
	VMID              string
	TemplateName      string
	TemplateVersion   string
	CreateOnlyBackend bool
	CondaPkgs         []CondaPackage
	AptPkgs           []string
	PublicKey         string
	IP                string
	Port              int
	CloudSite         string
	BaseURL           string
	ScratchDir        string
	StdoutPath        string
	StderrPath        string
	RunnerPID         int
	ReturnCode        int

	proc Process
}

// Supervisor owns the in-memory activePlaybooks map and drives the
// per-VM state machine.
type Supervisor struct {
	store       kvstore.Store
	runner      Runner
	catalogLock CatalogLockChecker
	scratchRoot string
	runnerPath  string
	logger      *slog.Logger

	mu     sync.Mutex
	active map[string]*Active
}

// New builds a Supervisor. scratchRoot is the parent directory new scratch
// directories are created under; runnerPath is the ansible-playbook binary.
func New(store kvstore.Store, runner Runner, catalogLock CatalogLockChecker, scratchRoot, runnerPath string, logger *slog.Logger) *Supervisor {
	return &Supervisor{
		store:       store,
		runner:      runner,
		catalogLock: catalogLock,
		scratchRoot: scratchRoot,
		runnerPath:  runnerPath,
		logger:      logger,
		active:      make(map[string]*Active),
	}
}

// SetWaitForPlaybook records a fresh PipelineRecord in state PREPARE, the
// entry point of the state machine before CreateAndDeploy is invoked.
func (s *Supervisor) SetWaitForPlaybook(ctx context.Context, vmID, privateKey, name string) error {
	return s.store.Put(ctx, vmID, kvstore.Record{PrivateKey: privateKey, Name: name, Status: kvstore.StatusPrepare})
}

// CreateAndDeployInput is the input to CreateAndDeploy (spec.md §4.6).
type CreateAndDeployInput struct {
	VMID              string
	PublicKey         string
	TemplateName      string
	TemplateVersion   string
	CreateOnlyBackend bool
	CondaPkgs         []CondaPackage
	AptPkgs           []string
	BaseURL           string
	IP                string
	Port              int
	CloudSite         string
	SiteSpecific      bool // whether a {template}-{cloudSite}.yml variant exists
}

// CreateAndDeploy materialises the playbook files, spawns the runner, and
// flips the VM's KV status to BUILD. The caller is responsible for having
// already confirmed SSH reachability (spec.md §4.6 note).
//
// Returns the runner's PID, or -1 if the template catalog's update lock
// never cleared within catalogLockTimeout (in which case status is set to
// FAILED).
func (s *Supervisor) CreateAndDeploy(ctx context.Context, in CreateAndDeployInput) (int, error) {
	rec, err := s.store.Get(ctx, in.VMID)
	if err != nil {
		return -1, err
	}

	if s.catalogLock != nil {
		deadline := time.Now().Add(catalogLockTimeout)
		for s.catalogLock.Locked(ctx) {
			if time.Now().After(deadline) {
				_ = s.store.SetStatus(ctx, in.VMID, kvstore.StatusFailed)
				return -1, apperr.NewWithID(apperr.KindDefault, "template catalog update lock did not clear in time", in.VMID)
			}
			select {
			case <-ctx.Done():
				return -1, ctx.Err()
			case <-time.After(catalogLockPollInterval):
			}
		}
	}

	scratchDir, err := os.MkdirTemp(s.scratchRoot, "playbook-"+sanitize(in.VMID)+"-")
	if err != nil {
		return -1, apperr.Wrap(err, apperr.KindDefault, "allocating scratch directory")
	}

	privateKeyPath := filepath.Join(scratchDir, "private_key")
	if err := os.WriteFile(privateKeyPath, []byte(rec.PrivateKey), 0o600); err != nil {
		return -1, apperr.Wrap(err, apperr.KindDefault, "writing private key")
	}

	asm := newAssembly(scratchDir)
	if err := asm.addCondaPackages(in.CondaPkgs); err != nil {
		return -1, apperr.Wrap(err, apperr.KindDefault, "materialising conda packages")
	}
	if err := asm.addAptPackages(in.AptPkgs); err != nil {
		return -1, apperr.Wrap(err, apperr.KindDefault, "materialising apt packages")
	}
	if err := asm.addResearchEnvironment(in.TemplateName, in.TemplateVersion, in.BaseURL, in.CreateOnlyBackend, in.SiteSpecific, in.CloudSite); err != nil {
		return -1, apperr.Wrap(err, apperr.KindDefault, "materialising research environment template")
	}
	if err := asm.addChangeKey(in.PublicKey); err != nil {
		return -1, apperr.Wrap(err, apperr.KindDefault, "materialising change-key task")
	}
	if err := asm.writeGenericPlaybook(); err != nil {
		return -1, apperr.Wrap(err, apperr.KindDefault, "writing generic playbook")
	}
	if err := writeInventory(scratchDir, in.IP, in.Port, privateKeyPath); err != nil {
		return -1, apperr.Wrap(err, apperr.KindDefault, "writing inventory")
	}

	stdoutPath := filepath.Join(scratchDir, "log_stdout")
	stderrPath := filepath.Join(scratchDir, "log_stderr")
	stdout, err := os.Create(stdoutPath)
	if err != nil {
		return -1, apperr.Wrap(err, apperr.KindDefault, "creating stdout log")
	}
	defer stdout.Close()
	stderr, err := os.Create(stderrPath)
	if err != nil {
		return -1, apperr.Wrap(err, apperr.KindDefault, "creating stderr log")
	}
	defer stderr.Close()

	args := []string{"-v", "-i", filepath.Join(scratchDir, "inventory"), filepath.Join(scratchDir, genericPlaybookFile)}
	proc, err := s.runner.Start(ctx, s.runnerPath, args, stdout, stderr)
	if err != nil {
		return -1, apperr.Wrap(err, apperr.KindDefault, "spawning playbook runner")
	}

	active := &Active{
		VMID:              in.VMID,
		TemplateName:      in.TemplateName,
		TemplateVersion:   in.TemplateVersion,
		CreateOnlyBackend: in.CreateOnlyBackend,
		CondaPkgs:         in.CondaPkgs,
		AptPkgs:           in.AptPkgs,
		PublicKey:         in.PublicKey,
		IP:                in.IP,
		Port:              in.Port,
		CloudSite:         in.CloudSite,
		BaseURL:           in.BaseURL,
		ScratchDir:        scratchDir,
		StdoutPath:        stdoutPath,
		StderrPath:        stderrPath,
		RunnerPID:         proc.PID(),
		ReturnCode:        -1,
		proc:              proc,
	}

	s.mu.Lock()
	s.active[in.VMID] = active
	s.mu.Unlock()

	if err := s.store.SetStatus(ctx, in.VMID, kvstore.StatusBuild); err != nil {
		return -1, err
	}

	s.logger.Info("playbook started", "vm_id", in.VMID, "pid", active.RunnerPID, "template", in.TemplateName)
	return active.RunnerPID, nil
}

// CheckStatus polls the runner process for the given VM and persists
// SUCCESS/FAILED to KV once it exits. Returns the current kvstore.Status.
func (s *Supervisor) CheckStatus(ctx context.Context, vmID string) (kvstore.Status, error) {
	s.mu.Lock()
	active, ok := s.active[vmID]
	s.mu.Unlock()
	if !ok {
		return s.store.GetStatus(ctx, vmID)
	}

	done, exitCode := active.proc.Poll()
	if !done {
		return kvstore.StatusBuild, nil
	}

	active.ReturnCode = exitCode
	status := kvstore.StatusSuccess
	if exitCode != 0 {
		status = kvstore.StatusFailed
	}
	if err := s.store.SetStatus(ctx, vmID, status); err != nil {
		return "", err
	}
	s.logger.Info("playbook finished", "vm_id", vmID, "exit_code", exitCode, "status", status)
	return status, nil
}

// GetLogs returns the return code and stdout/stderr for vmID and removes the
// record, per the "any --GetLogs--> (absent, record removed)" transition.
// For an in-memory playbook it reads the runner's log files; otherwise it
// reads the logs stashed under pb_logs_{vmId}.
func (s *Supervisor) GetLogs(ctx context.Context, vmID string) (int, string, string, error) {
	s.mu.Lock()
	active, ok := s.active[vmID]
	s.mu.Unlock()

	if !ok {
		logs, err := s.store.GetStashedLogs(ctx, vmID)
		if err != nil {
			return 0, "", "", err
		}
		_ = s.store.Delete(ctx, vmID)
		return logs.ReturnCode, logs.Stdout, logs.Stderr, nil
	}

	stdout, stderr, err := readLogs(active.StdoutPath, active.StderrPath)
	if err != nil {
		return 0, "", "", apperr.Wrap(err, apperr.KindDefault, "reading playbook logs")
	}

	s.mu.Lock()
	delete(s.active, vmID)
	s.mu.Unlock()
	_ = os.RemoveAll(active.ScratchDir)
	_ = s.store.Delete(ctx, vmID)

	return active.ReturnCode, stdout, stderr, nil
}

// Stop terminates a running playbook, stashes its logs under
// pb_logs_{vmId}, and removes the record. Used by the shutdown hook.
func (s *Supervisor) Stop(ctx context.Context, vmID string) error {
	s.mu.Lock()
	active, ok := s.active[vmID]
	if ok {
		delete(s.active, vmID)
	}
	s.mu.Unlock()

	if !ok {
		return apperr.NewWithID(apperr.KindPlaybookNotFound, "no active playbook", vmID)
	}

	if err := active.proc.Terminate(); err != nil {
		s.logger.Warn("terminating playbook runner", "vm_id", vmID, "error", err)
	}

	stdout, stderr, err := readLogs(active.StdoutPath, active.StderrPath)
	if err != nil {
		return apperr.Wrap(err, apperr.KindDefault, "reading playbook logs on stop")
	}
	if err := s.store.StashLogs(ctx, vmID, kvstore.Logs{ReturnCode: active.ReturnCode, Stdout: stdout, Stderr: stderr}); err != nil {
		return err
	}
	_ = os.RemoveAll(active.ScratchDir)
	return s.store.Delete(ctx, vmID)
}

// ActiveVMIDs returns the ids of all VMs with an in-memory Playbook,
// used by the shutdown hook to walk every active pipeline.
func (s *Supervisor) ActiveVMIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.active))
	for id := range s.active {
		ids = append(ids, id)
	}
	return ids
}

// ActiveCount implements templatecatalog.ActivePipelineCounter: the number
// of in-memory playbooks, each held from CreateAndDeploy until GetLogs or
// Stop removes it. A playbook that has finished but whose logs were not yet
// fetched is counted; a KV record still in PREPARE, with no playbook
// started for it, is not.
func (s *Supervisor) ActiveCount(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active), nil
}

func readLogs(stdoutPath, stderrPath string) (string, string, error) {
	stdout, err := os.ReadFile(stdoutPath)
	if err != nil {
		return "", "", err
	}
	stderr, err := os.ReadFile(stderrPath)
	if err != nil {
		return "", "", err
	}
	return string(stdout), string(stderr), nil
}

func sanitize(id string) string {
	return fmt.Sprintf("%.40s", id)
}
