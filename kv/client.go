// Package kv constructs the shared redis client.
//
// Queues, progress records, and rate-limit counters all live in the same
// redis instance; components receive a *redis.Client and own their key
// namespaces.
package kv

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/voicepipe/voicepipe/config"
	"github.com/voicepipe/voicepipe/errors"
)

// NewClient builds a redis client from configuration and verifies
// connectivity with a ping.
func NewClient(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, errors.Wrapf(err, "failed to connect to redis at %s:%d", cfg.Host, cfg.Port)
	}

	return client, nil
}
