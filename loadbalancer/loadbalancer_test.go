package loadbalancer

import (
	"context"
	"errors"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/froggu-tantei/apigateway/kvstore"
)

func newTestSelector(t *testing.T, instances map[string][]string) *Selector {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return New(kvstore.New(client), instances)
}

// Scenario 3 from spec.md §8: round-robin across 2 instances.
func TestRoundRobinAcrossTwoInstances(t *testing.T) {
	sel := newTestSelector(t, map[string][]string{"light": {"http://u1", "http://u2"}})
	ctx := context.Background()

	counts := map[int]int{}
	for i := 0; i < 4; i++ {
		idx, _, err := sel.Pick(ctx, "light")
		if err != nil {
			t.Fatalf("pick: %v", err)
		}
		counts[idx]++
	}

	if counts[0] != 2 || counts[1] != 2 {
		t.Errorf("expected {0:2, 1:2}, got %v", counts)
	}
}

func TestFirstPickLandsOnIndexOne(t *testing.T) {
	sel := newTestSelector(t, map[string][]string{"light": {"http://u1", "http://u2"}})
	idx, url, err := sel.Pick(context.Background(), "light")
	if err != nil {
		t.Fatalf("pick: %v", err)
	}
	if idx != 1 {
		t.Errorf("expected first pick at index 1 (pre-increment), got %d", idx)
	}
	if url != "http://u2" {
		t.Errorf("expected http://u2, got %s", url)
	}
}

func TestUnknownServiceFails(t *testing.T) {
	sel := newTestSelector(t, map[string][]string{"light": {"http://u1"}})
	_, _, err := sel.Pick(context.Background(), "medium")

	var unknown ErrUnknownService
	if !errors.As(err, &unknown) {
		t.Fatalf("expected ErrUnknownService, got %v", err)
	}
}

// P4: fairness — every instance picked floor(m/n) or ceil(m/n) times.
func TestRoundRobinFairnessOverManyPicks(t *testing.T) {
	sel := newTestSelector(t, map[string][]string{"svc": {"a", "b", "c"}})
	ctx := context.Background()

	const m = 100
	counts := map[int]int{}
	for i := 0; i < m; i++ {
		idx, _, err := sel.Pick(ctx, "svc")
		if err != nil {
			t.Fatalf("pick: %v", err)
		}
		counts[idx]++
	}

	n := 3
	lo, hi := m/n, (m+n-1)/n
	for idx, c := range counts {
		if c < lo || c > hi {
			t.Errorf("instance %d picked %d times, expected between %d and %d", idx, c, lo, hi)
		}
	}
}
