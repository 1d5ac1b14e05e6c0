// Package kvstore wraps the external key/value store (Redis) behind the
// typed operations the gateway's core components need: get, set with a
// TTL, exists, and atomic increments. get+set is deliberately not atomic
// as a pair — see Store's doc comment.
package kvstore

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrNotFound is returned by Get when the key is absent.
var ErrNotFound = errors.New("kvstore: key not found")

// Store is the typed adapter every core component depends on instead of
// talking to Redis directly.
//
// incr and incr_float are atomic across concurrent callers (Redis
// guarantees this server-side). get+set is NOT atomic as a pair — two
// callers can race a read-modify-write cycle. That's deliberate: the
// token-bucket limiter relies on last-writer-wins semantics rather than
// paying for a round trip that serializes every bucket update.
type Store interface {
	// Get reads a string value. Returns ErrNotFound if the key is absent.
	Get(ctx context.Context, key string) (string, error)
	// Set writes value unconditionally, resetting the TTL. A zero ttl
	// means no expiry.
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	// Exists reports whether key is currently present.
	Exists(ctx context.Context, key string) (bool, error)
	// Incr atomically increments key by 1, treating an absent key as 0,
	// and returns the new value.
	Incr(ctx context.Context, key string) (int64, error)
	// IncrFloat atomically adds delta to key, treating an absent key as
	// 0, and returns the new value.
	IncrFloat(ctx context.Context, key string, delta float64) (float64, error)
}

// Redis is a Store backed by a *redis.Client. One client is constructed
// at process startup and shared by every caller; Redis is dialed lazily
// per command and reuses its own internal connection pool.
type Redis struct {
	client *redis.Client
}

// New wraps an existing Redis client.
func New(client *redis.Client) *Redis {
	return &Redis{client: client}
}

// NewClient builds a *redis.Client for addr (host:port), for callers that
// just want the default pool settings used at startup.
func NewClient(addr string) *redis.Client {
	return redis.NewClient(&redis.Options{Addr: addr})
}

func (r *Redis) Get(ctx context.Context, key string) (string, error) {
	val, err := r.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return val, nil
}

func (r *Redis) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return r.client.Set(ctx, key, value, ttl).Err()
}

func (r *Redis) Exists(ctx context.Context, key string) (bool, error) {
	n, err := r.client.Exists(ctx, key).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *Redis) Incr(ctx context.Context, key string) (int64, error) {
	return r.client.Incr(ctx, key).Result()
}

func (r *Redis) IncrFloat(ctx context.Context, key string, delta float64) (float64, error) {
	return r.client.IncrByFloat(ctx, key, delta).Result()
}
