package shutdown

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/deNBI/simplevm-portal/internal/kvstore"
)

type fakeSupervisor struct {
	ids       []string
	stopped   []string
	stopErr   map[string]error
}

func (f *fakeSupervisor) ActiveVMIDs() []string { return f.ids }

func (f *fakeSupervisor) Stop(_ context.Context, vmID string) error {
	f.stopped = append(f.stopped, vmID)
	if err, ok := f.stopErr[vmID]; ok {
		return err
	}
	return nil
}

type fakeDeleter struct {
	deleted []string
	err     error
}

func (f *fakeDeleter) DeleteServer(_ context.Context, vmID string, _ func(name string) (string, error)) error {
	f.deleted = append(f.deleted, vmID)
	return f.err
}

type fakeBackend struct {
	deletedKeypairs []string
}

func (f *fakeBackend) DeleteKeypair(_ context.Context, name string) error {
	f.deletedKeypairs = append(f.deletedKeypairs, name)
	return nil
}

func (f *fakeBackend) GetSecurityGroupIDByName(_ context.Context, name string) (string, error) {
	return name + "-id", nil
}

type fakeStore struct {
	records map[string]kvstore.Record
}

func (f *fakeStore) Put(_ context.Context, vmID string, rec kvstore.Record) error {
	f.records[vmID] = rec
	return nil
}
func (f *fakeStore) SetStatus(_ context.Context, vmID string, status kvstore.Status) error {
	rec := f.records[vmID]
	rec.Status = status
	f.records[vmID] = rec
	return nil
}
func (f *fakeStore) GetStatus(_ context.Context, vmID string) (kvstore.Status, error) {
	return f.records[vmID].Status, nil
}
func (f *fakeStore) Get(_ context.Context, vmID string) (kvstore.Record, error) {
	return f.records[vmID], nil
}
func (f *fakeStore) Exists(_ context.Context, vmID string) (bool, error) {
	_, ok := f.records[vmID]
	return ok, nil
}
func (f *fakeStore) Delete(_ context.Context, vmID string) error {
	delete(f.records, vmID)
	return nil
}
func (f *fakeStore) StashLogs(_ context.Context, _ string, _ kvstore.Logs) error { return nil }
func (f *fakeStore) GetStashedLogs(_ context.Context, _ string) (kvstore.Logs, error) {
	return kvstore.Logs{}, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRunTearsDownEveryActiveVM(t *testing.T) {
	sup := &fakeSupervisor{ids: []string{"v1", "v2"}}
	del := &fakeDeleter{}
	backend := &fakeBackend{}
	store := &fakeStore{records: map[string]kvstore.Record{
		"v1": {Name: "keypair-v1"},
		"v2": {Name: "keypair-v2"},
	}}

	hook := New(sup, store, del, backend, testLogger())
	hook.Run(context.Background())

	if len(backend.deletedKeypairs) != 2 {
		t.Fatalf("expected 2 keypairs deleted, got %v", backend.deletedKeypairs)
	}
	if len(del.deleted) != 2 {
		t.Fatalf("expected 2 servers deleted, got %v", del.deleted)
	}
	if len(sup.stopped) != 2 {
		t.Fatalf("expected 2 playbooks stopped, got %v", sup.stopped)
	}
}

func TestRunContinuesAfterIndividualFailure(t *testing.T) {
	sup := &fakeSupervisor{ids: []string{"v1", "v2"}}
	del := &fakeDeleter{err: errBoom}
	backend := &fakeBackend{}
	store := &fakeStore{records: map[string]kvstore.Record{}}

	hook := New(sup, store, del, backend, testLogger())
	hook.Run(context.Background())

	if len(sup.stopped) != 2 {
		t.Fatalf("expected Stop called for both VMs despite DeleteServer failing, got %v", sup.stopped)
	}
}

func TestRunSkipsKeypairDeleteWhenRecordMissing(t *testing.T) {
	sup := &fakeSupervisor{ids: []string{"v1"}}
	del := &fakeDeleter{}
	backend := &fakeBackend{}
	store := &fakeStore{records: map[string]kvstore.Record{}}

	hook := New(sup, store, del, backend, testLogger())
	hook.Run(context.Background())

	if len(backend.deletedKeypairs) != 0 {
		t.Fatalf("expected no keypair deletion for a missing record, got %v", backend.deletedKeypairs)
	}
}

type boomErr struct{}

func (boomErr) Error() string { return "boom" }

var errBoom = boomErr{}
