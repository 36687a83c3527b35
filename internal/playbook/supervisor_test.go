package playbook

import (
	"context"
	"io"
	"log/slog"
	"os"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/deNBI/simplevm-portal/internal/kvstore"
)

type fakeProcess struct {
	pid      int
	done     bool
	exitCode int
	terminated bool
}

func (p *fakeProcess) Poll() (bool, int)  { return p.done, p.exitCode }
func (p *fakeProcess) PID() int           { return p.pid }
func (p *fakeProcess) Terminate() error   { p.terminated = true; return nil }

type fakeRunner struct {
	proc *fakeProcess
}

func (r *fakeRunner) Start(_ context.Context, _ string, _ []string, stdout, stderr *os.File) (Process, error) {
	stdout.WriteString("hello from playbook\n")
	stderr.WriteString("")
	return r.proc, nil
}

func newTestStore(t *testing.T) kvstore.Store {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("starting miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return kvstore.New(rdb)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestCreateAndDeployFlipsStatusToBuild(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	proc := &fakeProcess{pid: 4242}
	runner := &fakeRunner{proc: proc}

	sup := New(store, runner, nil, t.TempDir(), "/usr/local/bin/ansible-playbook", testLogger())

	if err := sup.SetWaitForPlaybook(ctx, "vm-1", "priv-key-contents", "alice-01"); err != nil {
		t.Fatalf("SetWaitForPlaybook: %v", err)
	}

	pid, err := sup.CreateAndDeploy(ctx, CreateAndDeployInput{
		VMID:      "vm-1",
		PublicKey: "ssh-ed25519 AAAA",
		IP:        "10.0.0.5",
		Port:      22,
	})
	if err != nil {
		t.Fatalf("CreateAndDeploy: %v", err)
	}
	if pid != 4242 {
		t.Errorf("pid = %d, want 4242", pid)
	}

	status, err := store.GetStatus(ctx, "vm-1")
	if err != nil {
		t.Fatalf("GetStatus: %v", err)
	}
	if status != kvstore.StatusBuild {
		t.Errorf("status = %q, want BUILD", status)
	}
}

func TestCheckStatusTransitionsToSuccessOnCleanExit(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	proc := &fakeProcess{pid: 1}
	runner := &fakeRunner{proc: proc}
	sup := New(store, runner, nil, t.TempDir(), "/bin/true", testLogger())

	_ = sup.SetWaitForPlaybook(ctx, "vm-2", "key", "bob")
	if _, err := sup.CreateAndDeploy(ctx, CreateAndDeployInput{VMID: "vm-2", IP: "10.0.0.6", Port: 22}); err != nil {
		t.Fatalf("CreateAndDeploy: %v", err)
	}

	status, err := sup.CheckStatus(ctx, "vm-2")
	if err != nil {
		t.Fatalf("CheckStatus while running: %v", err)
	}
	if status != kvstore.StatusBuild {
		t.Errorf("status while running = %q, want BUILD", status)
	}

	proc.done = true
	proc.exitCode = 0
	status, err = sup.CheckStatus(ctx, "vm-2")
	if err != nil {
		t.Fatalf("CheckStatus after exit: %v", err)
	}
	if status != kvstore.StatusSuccess {
		t.Errorf("status after clean exit = %q, want SUCCESS", status)
	}
}

func TestCheckStatusTransitionsToFailedOnNonZeroExit(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	proc := &fakeProcess{pid: 1, done: true, exitCode: 2}
	runner := &fakeRunner{proc: proc}
	sup := New(store, runner, nil, t.TempDir(), "/bin/false", testLogger())

	_ = sup.SetWaitForPlaybook(ctx, "vm-3", "key", "carol")
	if _, err := sup.CreateAndDeploy(ctx, CreateAndDeployInput{VMID: "vm-3", IP: "10.0.0.7", Port: 22}); err != nil {
		t.Fatalf("CreateAndDeploy: %v", err)
	}

	status, err := sup.CheckStatus(ctx, "vm-3")
	if err != nil {
		t.Fatalf("CheckStatus: %v", err)
	}
	if status != kvstore.StatusFailed {
		t.Errorf("status = %q, want FAILED", status)
	}
}

func TestStopStashesLogsAndRemovesRecord(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	proc := &fakeProcess{pid: 1}
	runner := &fakeRunner{proc: proc}
	sup := New(store, runner, nil, t.TempDir(), "/bin/true", testLogger())

	_ = sup.SetWaitForPlaybook(ctx, "vm-4", "key", "dave")
	if _, err := sup.CreateAndDeploy(ctx, CreateAndDeployInput{VMID: "vm-4", IP: "10.0.0.8", Port: 22}); err != nil {
		t.Fatalf("CreateAndDeploy: %v", err)
	}

	if err := sup.Stop(ctx, "vm-4"); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if !proc.terminated {
		t.Error("expected process to be terminated")
	}

	logs, err := store.GetStashedLogs(ctx, "vm-4")
	if err != nil {
		t.Fatalf("GetStashedLogs: %v", err)
	}
	if logs.Stdout == "" {
		t.Error("expected stashed stdout to contain the playbook's output")
	}

	exists, _ := store.Exists(ctx, "vm-4")
	if exists {
		t.Error("PipelineRecord should be removed after Stop")
	}
}
