package ratelimit

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/froggu-tantei/apigateway/clock"
	"github.com/froggu-tantei/apigateway/kvstore"
	"github.com/froggu-tantei/apigateway/plans"
)

type noopSink struct{}

func (noopSink) RecordPlanDecision(context.Context, string, bool) {}

type countingSink struct {
	allowed map[string]int
	blocked map[string]int
}

func newCountingSink() *countingSink {
	return &countingSink{allowed: map[string]int{}, blocked: map[string]int{}}
}

func (s *countingSink) RecordPlanDecision(_ context.Context, plan string, allowed bool) {
	if allowed {
		s.allowed[plan]++
	} else {
		s.blocked[plan]++
	}
}

func newTestLimiter(t *testing.T, fc *clock.Fake, sink MetricsSink) *Limiter {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	store := kvstore.New(client)
	return New(store, fc, sink)
}

// Scenario 1 from spec.md §8: cold basic user, capacity 5.
func TestColdBasicUserSixthRequestDenied(t *testing.T) {
	fc := clock.NewFake(time.Unix(0, 0))
	sink := newCountingSink()
	limiter := newTestLimiter(t, fc, sink)
	basic, _ := plans.Default().Lookup("basic")
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		allowed, err := limiter.Admit(ctx, "basic_user_0:bucket", basic, 1)
		if err != nil {
			t.Fatalf("admit %d: %v", i, err)
		}
		if !allowed {
			t.Fatalf("request %d expected to be admitted", i)
		}
	}

	allowed, err := limiter.Admit(ctx, "basic_user_0:bucket", basic, 1)
	if err != nil {
		t.Fatalf("admit 6th: %v", err)
	}
	if allowed {
		t.Error("6th request expected to be denied")
	}

	if sink.allowed["basic"] != 5 {
		t.Errorf("expected 5 allowed, got %d", sink.allowed["basic"])
	}
	if sink.blocked["basic"] != 1 {
		t.Errorf("expected 1 blocked, got %d", sink.blocked["basic"])
	}
}

// Scenario 2 from spec.md §8: refill after draining.
func TestRefillAfterDraining(t *testing.T) {
	fc := clock.NewFake(time.Unix(0, 0))
	limiter := newTestLimiter(t, fc, noopSink{})
	basic, _ := plans.Default().Lookup("basic") // capacity 5, rate 1/s
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if allowed, _ := limiter.Admit(ctx, "k", basic, 1); !allowed {
			t.Fatalf("drain request %d should be allowed", i)
		}
	}

	fc.Advance(3 * time.Second)

	for i := 0; i < 3; i++ {
		allowed, err := limiter.Admit(ctx, "k", basic, 1)
		if err != nil {
			t.Fatalf("admit: %v", err)
		}
		if !allowed {
			t.Fatalf("post-refill request %d should be allowed", i)
		}
	}

	allowed, err := limiter.Admit(ctx, "k", basic, 1)
	if err != nil {
		t.Fatalf("admit: %v", err)
	}
	if allowed {
		t.Error("4th post-refill request should be denied")
	}
}

// P1: tokens always stay within [0, capacity].
func TestTokensStayWithinCapacity(t *testing.T) {
	fc := clock.NewFake(time.Unix(0, 0))
	limiter := newTestLimiter(t, fc, noopSink{})
	basic, _ := plans.Default().Lookup("basic")
	ctx := context.Background()

	for i := 0; i < 50; i++ {
		_, err := limiter.Admit(ctx, "p1", basic, 1)
		if err != nil {
			t.Fatalf("admit %d: %v", i, err)
		}
		raw, err := limiter.store.Get(ctx, "p1")
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		var b bucket
		if err := json.Unmarshal([]byte(raw), &b); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if b.Tokens < 0 || b.Tokens > float64(basic.Capacity) {
			t.Fatalf("tokens out of range: %v", b.Tokens)
		}
		fc.Advance(200 * time.Millisecond)
	}
}

func TestZeroOrNegativeTokensRequiredAlwaysAdmits(t *testing.T) {
	fc := clock.NewFake(time.Unix(0, 0))
	limiter := newTestLimiter(t, fc, noopSink{})
	basic, _ := plans.Default().Lookup("basic")
	ctx := context.Background()

	// Drain the bucket fully first.
	for i := 0; i < 5; i++ {
		limiter.Admit(ctx, "zero", basic, 1)
	}

	allowed, err := limiter.Admit(ctx, "zero", basic, 0)
	if err != nil {
		t.Fatalf("admit: %v", err)
	}
	if !allowed {
		t.Error("zero tokens required should always admit")
	}

	allowed, err = limiter.Admit(ctx, "zero", basic, -1)
	if err != nil {
		t.Fatalf("admit: %v", err)
	}
	if !allowed {
		t.Error("negative tokens required should always admit")
	}
}

func TestNewBucketAdmittedRegardlessOfHistory(t *testing.T) {
	fc := clock.NewFake(time.Unix(1_000_000, 0))
	limiter := newTestLimiter(t, fc, noopSink{})
	premium, _ := plans.Default().Lookup("premium")
	ctx := context.Background()

	allowed, err := limiter.Admit(ctx, "fresh", premium, 1)
	if err != nil {
		t.Fatalf("admit: %v", err)
	}
	if !allowed {
		t.Error("first request on a new bucket should always be admitted")
	}
}

func TestClockRegressionTreatedAsZeroElapsed(t *testing.T) {
	fc := clock.NewFake(time.Unix(100, 0))
	limiter := newTestLimiter(t, fc, noopSink{})
	basic, _ := plans.Default().Lookup("basic")
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		limiter.Admit(ctx, "regress", basic, 1)
	}

	// Clock goes backwards.
	fc.Set(time.Unix(50, 0))

	allowed, err := limiter.Admit(ctx, "regress", basic, 1)
	if err != nil {
		t.Fatalf("admit: %v", err)
	}
	if allowed {
		t.Error("a drained bucket should still deny when the clock regresses (no negative refill)")
	}
}

// Sub-second elapsed time must not be truncated away: five requests spaced
// 200ms apart drain a capacity-5/rate-1 bucket, and a sixth at t=1.0s (only
// 200ms after the last) must still be denied, since floor(0.2*1) == 0.
func TestSubSecondElapsedDoesNotOverRefill(t *testing.T) {
	fc := clock.NewFake(time.Unix(0, 0))
	limiter := newTestLimiter(t, fc, noopSink{})
	basic, _ := plans.Default().Lookup("basic") // capacity 5, rate 1/s
	ctx := context.Background()

	for i, ms := range []int{0, 200, 400, 600, 800} {
		fc.Set(time.Unix(0, 0).Add(time.Duration(ms) * time.Millisecond))
		allowed, err := limiter.Admit(ctx, "sub_second", basic, 1)
		if err != nil {
			t.Fatalf("admit %d: %v", i, err)
		}
		if !allowed {
			t.Fatalf("request %d at t=%dms expected to be admitted", i, ms)
		}
	}

	fc.Set(time.Unix(1, 0))
	allowed, err := limiter.Admit(ctx, "sub_second", basic, 1)
	if err != nil {
		t.Fatalf("admit at t=1.0s: %v", err)
	}
	if allowed {
		t.Error("request at t=1.0s should be denied: only 200ms elapsed since the last refill, floor(0.2*1)=0")
	}
}

// P3: over any window, successful admissions <= capacity + floor(window*rate).
func TestAdmissionsBoundedByCapacityPlusRefill(t *testing.T) {
	fc := clock.NewFake(time.Unix(0, 0))
	limiter := newTestLimiter(t, fc, noopSink{})
	basic, _ := plans.Default().Lookup("basic") // capacity 5, rate 1/s
	ctx := context.Background()

	window := 10 * time.Second
	end := fc.Now().Add(window)
	successes := 0
	for fc.Now().Before(end) {
		allowed, err := limiter.Admit(ctx, "p3", basic, 1)
		if err != nil {
			t.Fatalf("admit: %v", err)
		}
		if allowed {
			successes++
		}
		fc.Advance(100 * time.Millisecond)
	}

	bound := basic.Capacity + int(window.Seconds())*int(basic.RefillRate)
	if successes > bound {
		t.Errorf("expected at most %d successes in window, got %d", bound, successes)
	}
}
