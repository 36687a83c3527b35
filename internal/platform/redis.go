package platform

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// NewRedisClient connects to the redis instance backing the KV state store
// (spec.md §4.1, §6 `redis: {host, port}`).
func NewRedisClient(ctx context.Context, host string, port int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr: fmt.Sprintf("%s:%d", host, port),
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("pinging redis at %s:%d: %w", host, port, err)
	}
	return client, nil
}
