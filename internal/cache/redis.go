package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// GoRedisAdapter implements Store and PubSub over a go-redis client.
type GoRedisAdapter struct {
	client *redis.Client
}

// NewGoRedisAdapter connects and pings before returning.
func NewGoRedisAdapter(ctx context.Context, addr, password string, db int) (*GoRedisAdapter, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	return &GoRedisAdapter{client: client}, nil
}

func (a *GoRedisAdapter) Close() error { return a.client.Close() }

func (a *GoRedisAdapter) Get(ctx context.Context, key string) (string, error) {
	v, err := a.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrMiss
	}
	return v, err
}

func (a *GoRedisAdapter) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if ttl < 0 {
		ttl = 0
	}
	return a.client.Set(ctx, key, value, ttl).Err()
}

func (a *GoRedisAdapter) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return a.client.Del(ctx, keys...).Err()
}

func (a *GoRedisAdapter) Exists(ctx context.Context, key string) (bool, error) {
	n, err := a.client.Exists(ctx, key).Result()
	return n > 0, err
}

func (a *GoRedisAdapter) LPush(ctx context.Context, key, value string) error {
	return a.client.LPush(ctx, key, value).Err()
}

func (a *GoRedisAdapter) BRPopLPush(ctx context.Context, src, dst string, timeout time.Duration) (string, error) {
	v, err := a.client.BRPopLPush(ctx, src, dst, timeout).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrMiss
	}
	return v, err
}

func (a *GoRedisAdapter) LRem(ctx context.Context, key string, count int64, value string) error {
	return a.client.LRem(ctx, key, count, value).Err()
}

func (a *GoRedisAdapter) LLen(ctx context.Context, key string) (int64, error) {
	return a.client.LLen(ctx, key).Result()
}

func (a *GoRedisAdapter) HSet(ctx context.Context, key string, fields map[string]string) error {
	args := make([]interface{}, 0, len(fields)*2)
	for k, v := range fields {
		args = append(args, k, v)
	}
	return a.client.HSet(ctx, key, args...).Err()
}

func (a *GoRedisAdapter) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	return a.client.HGetAll(ctx, key).Result()
}

func (a *GoRedisAdapter) XAdd(ctx context.Context, stream string, maxLen int64, fields map[string]string) error {
	values := make(map[string]interface{}, len(fields))
	for k, v := range fields {
		values[k] = v
	}
	return a.client.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		MaxLen: maxLen,
		Approx: true,
		Values: values,
	}).Err()
}

func (a *GoRedisAdapter) XRange(ctx context.Context, stream string) ([]map[string]string, error) {
	msgs, err := a.client.XRange(ctx, stream, "-", "+").Result()
	if err != nil {
		return nil, err
	}
	out := make([]map[string]string, 0, len(msgs))
	for _, m := range msgs {
		fields := make(map[string]string, len(m.Values))
		for k, v := range m.Values {
			if s, ok := v.(string); ok {
				fields[k] = s
			} else {
				fields[k] = fmt.Sprint(v)
			}
		}
		out = append(out, fields)
	}
	return out, nil
}

func (a *GoRedisAdapter) XLen(ctx context.Context, stream string) (int64, error) {
	return a.client.XLen(ctx, stream).Result()
}

func (a *GoRedisAdapter) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return a.client.Expire(ctx, key, ttl).Err()
}

func (a *GoRedisAdapter) Publish(ctx context.Context, channel, payload string) error {
	return a.client.Publish(ctx, channel, payload).Err()
}

func (a *GoRedisAdapter) Subscribe(ctx context.Context, channel string) (Subscription, error) {
	ps := a.client.Subscribe(ctx, channel)
	// Forces the SUBSCRIBE round-trip so the caller never misses a publish
	// that happens right after Subscribe returns.
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("subscribe %s: %w", channel, err)
	}
	sub := &redisSubscription{ps: ps, out: make(chan string, 64)}
	go sub.pump()
	return sub, nil
}

type redisSubscription struct {
	ps  *redis.PubSub
	out chan string
}

func (s *redisSubscription) pump() {
	defer close(s.out)
	for msg := range s.ps.Channel() {
		s.out <- msg.Payload
	}
}

func (s *redisSubscription) Messages() <-chan string { return s.out }

func (s *redisSubscription) Close() error { return s.ps.Close() }
