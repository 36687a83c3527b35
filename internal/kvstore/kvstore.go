// Package kvstore implements the KV State Store (spec.md §4.1): durable,
// multi-worker-visible storage of PipelineRecords, plus the namespace used
// by stashed playbook logs. Built on redis, the natural fit for this kind
// of small, high-churn, cross-process shared state.
package kvstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/deNBI/simplevm-portal/internal/apperr"
)

// Status is the playbook pipeline status stored alongside each
// PipelineRecord, per spec.md §3.
type Status string

const (
	StatusPrepare Status = "PREPARE"
	StatusBuild   Status = "BUILD"
	StatusSuccess Status = "SUCCESS"
	StatusFailed  Status = "FAILED"
)

// Record is the PipelineRecord of spec.md §3, keyed by openstackId.
type Record struct {
	PrivateKey string `redis:"key"`
	Name       string `redis:"name"`
	Status     Status `redis:"status"`
}

// Logs is the stashed-log shape written under pb_logs_{vmId} (spec.md §6).
type Logs struct {
	ReturnCode int    `redis:"returncode"`
	Stdout     string `redis:"stdout"`
	Stderr     string `redis:"stderr"`
}

const logsKeyPrefix = "pb_logs_"

// Store is the KV State Store interface the Playbook Supervisor and the
// shutdown hook depend on.
type Store interface {
	Put(ctx context.Context, vmID string, rec Record) error
	SetStatus(ctx context.Context, vmID string, status Status) error
	GetStatus(ctx context.Context, vmID string) (Status, error)
	Get(ctx context.Context, vmID string) (Record, error)
	Exists(ctx context.Context, vmID string) (bool, error)
	Delete(ctx context.Context, vmID string) error
	StashLogs(ctx context.Context, vmID string, logs Logs) error
	GetStashedLogs(ctx context.Context, vmID string) (Logs, error)
}

// RedisStore is the redis-backed Store implementation.
type RedisStore struct {
	rdb *redis.Client
}

// New creates a RedisStore.
func New(rdb *redis.Client) *RedisStore {
	return &RedisStore{rdb: rdb}
}

func (s *RedisStore) transient(err error) error {
	return apperr.Wrap(err, apperr.KindDefault, "kv store unavailable")
}

// Put stores a PipelineRecord. A successful Put followed by GetStatus on the
// same key observes the written value (read-your-writes is guaranteed by
// redis's own single-key consistency).
func (s *RedisStore) Put(ctx context.Context, vmID string, rec Record) error {
	err := s.rdb.HSet(ctx, vmID, map[string]any{
		"key":    rec.PrivateKey,
		"name":   rec.Name,
		"status": string(rec.Status),
	}).Err()
	if err != nil {
		return s.transient(err)
	}
	return nil
}

func (s *RedisStore) SetStatus(ctx context.Context, vmID string, status Status) error {
	if err := s.rdb.HSet(ctx, vmID, "status", string(status)).Err(); err != nil {
		return s.transient(err)
	}
	return nil
}

func (s *RedisStore) GetStatus(ctx context.Context, vmID string) (Status, error) {
	v, err := s.rdb.HGet(ctx, vmID, "status").Result()
	if errors.Is(err, redis.Nil) {
		return "", apperr.NewWithID(apperr.KindPlaybookNotFound, "no pipeline record", vmID)
	}
	if err != nil {
		return "", s.transient(err)
	}
	return Status(v), nil
}

func (s *RedisStore) Get(ctx context.Context, vmID string) (Record, error) {
	m, err := s.rdb.HGetAll(ctx, vmID).Result()
	if err != nil {
		return Record{}, s.transient(err)
	}
	if len(m) == 0 {
		return Record{}, apperr.NewWithID(apperr.KindPlaybookNotFound, "no pipeline record", vmID)
	}
	return Record{
		PrivateKey: m["key"],
		Name:       m["name"],
		Status:     Status(m["status"]),
	}, nil
}

func (s *RedisStore) Exists(ctx context.Context, vmID string) (bool, error) {
	n, err := s.rdb.Exists(ctx, vmID).Result()
	if err != nil {
		return false, s.transient(err)
	}
	return n > 0, nil
}

func (s *RedisStore) Delete(ctx context.Context, vmID string) error {
	if err := s.rdb.Del(ctx, vmID).Err(); err != nil {
		return s.transient(err)
	}
	return nil
}

func (s *RedisStore) StashLogs(ctx context.Context, vmID string, logs Logs) error {
	err := s.rdb.HSet(ctx, logsKeyPrefix+vmID, map[string]any{
		"returncode": logs.ReturnCode,
		"stdout":     logs.Stdout,
		"stderr":     logs.Stderr,
	}).Err()
	if err != nil {
		return s.transient(err)
	}
	return nil
}

func (s *RedisStore) GetStashedLogs(ctx context.Context, vmID string) (Logs, error) {
	m, err := s.rdb.HGetAll(ctx, logsKeyPrefix+vmID).Result()
	if err != nil {
		return Logs{}, s.transient(err)
	}
	if len(m) == 0 {
		return Logs{}, apperr.NewWithID(apperr.KindPlaybookNotFound, "no stashed logs", vmID)
	}
	var rc int
	_, _ = fmt.Sscanf(m["returncode"], "%d", &rc)
	return Logs{
		ReturnCode: rc,
		Stdout:     m["stdout"],
		Stderr:     m["stderr"],
	}, nil
}
