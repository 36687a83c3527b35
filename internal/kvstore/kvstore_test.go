package kvstore

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/deNBI/simplevm-portal/internal/apperr"
)

func newTestStore(t *testing.T) *RedisStore {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("starting miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return New(rdb)
}

func TestPutThenGetStatusIsReadYourWrites(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	if err := store.Put(ctx, "vm-1", Record{PrivateKey: "priv", Name: "alice-01", Status: StatusPrepare}); err != nil {
		t.Fatalf("Put: %v", err)
	}

	status, err := store.GetStatus(ctx, "vm-1")
	if err != nil {
		t.Fatalf("GetStatus: %v", err)
	}
	if status != StatusPrepare {
		t.Errorf("GetStatus = %q, want PREPARE", status)
	}
}

func TestSetStatusTransitions(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	_ = store.Put(ctx, "vm-2", Record{PrivateKey: "priv", Name: "bob", Status: StatusPrepare})
	if err := store.SetStatus(ctx, "vm-2", StatusBuild); err != nil {
		t.Fatalf("SetStatus: %v", err)
	}

	rec, err := store.Get(ctx, "vm-2")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if rec.Status != StatusBuild {
		t.Errorf("Status = %q, want BUILD", rec.Status)
	}
	// Fields untouched by SetStatus survive.
	if rec.Name != "bob" {
		t.Errorf("Name = %q, want bob", rec.Name)
	}
}

func TestExistsAndDelete(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	exists, err := store.Exists(ctx, "vm-3")
	if err != nil || exists {
		t.Fatalf("Exists on absent key = (%v, %v), want (false, nil)", exists, err)
	}

	_ = store.Put(ctx, "vm-3", Record{Status: StatusPrepare})
	exists, err = store.Exists(ctx, "vm-3")
	if err != nil || !exists {
		t.Fatalf("Exists after Put = (%v, %v), want (true, nil)", exists, err)
	}

	if err := store.Delete(ctx, "vm-3"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	exists, _ = store.Exists(ctx, "vm-3")
	if exists {
		t.Error("Exists after Delete should be false")
	}
}

func TestGetStatusOnMissingKeyIsPlaybookNotFound(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	_, err := store.GetStatus(ctx, "does-not-exist")
	if !apperr.Is(err, apperr.KindPlaybookNotFound) {
		t.Fatalf("expected KindPlaybookNotFound, got %v", err)
	}
}

func TestStashLogsAndRetrieve(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	logs := Logs{ReturnCode: 1, Stdout: "out", Stderr: "err"}
	if err := store.StashLogs(ctx, "vm-4", logs); err != nil {
		t.Fatalf("StashLogs: %v", err)
	}

	got, err := store.GetStashedLogs(ctx, "vm-4")
	if err != nil {
		t.Fatalf("GetStashedLogs: %v", err)
	}
	if got != logs {
		t.Errorf("GetStashedLogs = %+v, want %+v", got, logs)
	}
}
