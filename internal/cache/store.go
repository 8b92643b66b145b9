// Package cache is the Redis access layer: minimal client interfaces, the
// go-redis adapter implementing them, cache key naming, and typed helpers
// for the objects the platform keeps hot (teams, tasks, config, game state,
// attack data, flags, sessions).
package cache

import (
	"context"
	"errors"
	"time"
)

// ErrMiss is returned by Get when the key does not exist.
var ErrMiss = errors.New("cache: miss")

// Store is the key/value, list, hash and stream surface the platform needs.
// Production uses GoRedisAdapter; tests use an in-memory fake.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	// Set with ttl <= 0 stores without expiry.
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
	Exists(ctx context.Context, key string) (bool, error)

	// List operations back the job queue.
	LPush(ctx context.Context, key string, value string) error
	BRPopLPush(ctx context.Context, src, dst string, timeout time.Duration) (string, error)
	LRem(ctx context.Context, key string, count int64, value string) error
	LLen(ctx context.Context, key string) (int64, error)

	// Hash operations back per-round tracking records.
	HSet(ctx context.Context, key string, fields map[string]string) error
	HGetAll(ctx context.Context, key string) (map[string]string, error)

	// Stream operations back the capped per-round action stream.
	XAdd(ctx context.Context, stream string, maxLen int64, fields map[string]string) error
	XRange(ctx context.Context, stream string) ([]map[string]string, error)
	XLen(ctx context.Context, stream string) (int64, error)

	Expire(ctx context.Context, key string, ttl time.Duration) error
}

// PubSub is the publish/subscribe surface used by the coordinator and the
// events bus.
type PubSub interface {
	Publish(ctx context.Context, channel, payload string) error
	// Subscribe returns after the subscription is established, so a
	// publisher racing the caller cannot drop messages.
	Subscribe(ctx context.Context, channel string) (Subscription, error)
}

// Subscription is one active channel subscription.
type Subscription interface {
	// Messages is closed when the subscription ends.
	Messages() <-chan string
	Close() error
}
