// Package ratelimit implements the per-client token-bucket admission
// decision (spec component C3). Bucket state lives in the shared KV
// store, not in process memory, so admission decisions are consistent
// (to the extent the KV store's get/set contract allows — see
// Limiter's doc comment below) across every gateway instance.
package ratelimit

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/froggu-tantei/apigateway/clock"
	"github.com/froggu-tantei/apigateway/kvstore"
	"github.com/froggu-tantei/apigateway/plans"
)

// bucketTTLDuration is the inactivity expiry for a bucket key, refreshed
// on every write.
const bucketTTLDuration = 3600 * time.Second

// bucket is the JSON-serialized rate-limit state for one client key.
type bucket struct {
	Tokens     float64 `json:"tokens"`
	LastRefill float64 `json:"last_refill"` // seconds since epoch
}

// Limiter performs token-bucket admission decisions against a shared KV
// store.
//
// Limiter does not lock. Two concurrent admissions for the same key can
// race the read-modify-write cycle below: both may observe the same
// pre-state and both write back, so one decrement can be lost, or a late
// writer can observe a stale refill. This is accepted per spec — it is
// "optimistic under-counting of consumption": a lost decrement lets a
// request through without charging it, while the stored token count
// still never exceeds plan capacity.
//
// A stronger-consistency variant could replace this get/set pair with a
// single round-trip Lua script performing the whole read-modify-write
// atomically server-side, eliminating the lost-update anomaly. That
// variant is not implemented here: the spec treats it as optional, and
// the relaxed behavior above is the documented baseline.
type Limiter struct {
	store   kvstore.Store
	clock   clock.Clock
	metrics MetricsSink
}

// MetricsSink is the subset of the metrics recorder the limiter needs:
// one atomic increment per admission decision, keyed by plan and
// outcome. Kept as a narrow interface so ratelimit never imports the
// full gateway metrics package back (spec.md §9's cyclic-dependency
// rule: the limiter calls the recorder, never the other way around).
type MetricsSink interface {
	RecordPlanDecision(ctx context.Context, plan string, allowed bool)
}

// New builds a Limiter over store, using clk for elapsed-time
// arithmetic and sink for the plan allowed/blocked counters.
func New(store kvstore.Store, clk clock.Clock, sink MetricsSink) *Limiter {
	return &Limiter{store: store, clock: clk, metrics: sink}
}

// Admit decides whether key may proceed under plan, consuming
// tokensRequired tokens on success. tokensRequired <= 0 always admits,
// but still refreshes the bucket's refill state. A newly observed key is
// admitted unconditionally on its first request.
func (l *Limiter) Admit(ctx context.Context, key string, plan plans.Plan, tokensRequired int) (bool, error) {
	nowSeconds := float64(l.clock.Now().UnixNano()) / 1e9

	b, err := l.load(ctx, key, plan, nowSeconds)
	if err != nil {
		return false, err
	}

	elapsed := nowSeconds - b.LastRefill
	if elapsed < 0 {
		elapsed = 0 // clock regression: treat as no time passed
	}

	replenished := math.Floor(elapsed * plan.RefillRate)
	b.Tokens = math.Min(float64(plan.Capacity), b.Tokens+replenished)
	b.LastRefill = nowSeconds

	allowed := tokensRequired <= 0 || b.Tokens >= float64(tokensRequired)
	if allowed && tokensRequired > 0 {
		b.Tokens -= float64(tokensRequired)
	}

	if err := l.persist(ctx, key, b); err != nil {
		return false, err
	}

	if l.metrics != nil {
		l.metrics.RecordPlanDecision(ctx, plan.Name, allowed)
	}

	return allowed, nil
}

// load reads the bucket for key, initializing it at full capacity if
// absent.
func (l *Limiter) load(ctx context.Context, key string, plan plans.Plan, now float64) (bucket, error) {
	raw, err := l.store.Get(ctx, key)
	if err == kvstore.ErrNotFound {
		return bucket{Tokens: float64(plan.Capacity), LastRefill: now}, nil
	}
	if err != nil {
		return bucket{}, fmt.Errorf("ratelimit: load bucket %s: %w", key, err)
	}

	var b bucket
	if err := json.Unmarshal([]byte(raw), &b); err != nil {
		return bucket{}, fmt.Errorf("ratelimit: decode bucket %s: %w", key, err)
	}
	return b, nil
}

// persist writes the bucket back with the fixed 3600s TTL, refreshing it
// on every write per spec.
func (l *Limiter) persist(ctx context.Context, key string, b bucket) error {
	raw, err := json.Marshal(b)
	if err != nil {
		return fmt.Errorf("ratelimit: encode bucket %s: %w", key, err)
	}
	if err := l.store.Set(ctx, key, string(raw), bucketTTLDuration); err != nil {
		return fmt.Errorf("ratelimit: persist bucket %s: %w", key, err)
	}
	return nil
}
