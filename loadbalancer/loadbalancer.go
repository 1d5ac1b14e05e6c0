// Package loadbalancer implements the per-service round-robin instance
// selector (spec component C4): a monotonic counter in the shared KV
// store, modulo the current instance count.
package loadbalancer

import (
	"context"
	"fmt"

	"github.com/froggu-tantei/apigateway/kvstore"
)

// ErrUnknownService is returned by Pick for a service name with no
// registered instances.
type ErrUnknownService struct {
	Service string
}

func (e ErrUnknownService) Error() string {
	return fmt.Sprintf("loadbalancer: unknown service %q", e.Service)
}

// Selector picks the next backend instance for a service class.
// Instance lists are static at construction — dynamic reconfiguration is
// out of scope per spec.md §4.4.
type Selector struct {
	store     kvstore.Store
	instances map[string][]string
}

// New builds a Selector over the given service registry.
func New(store kvstore.Store, instances map[string][]string) *Selector {
	return &Selector{store: store, instances: instances}
}

// Pick atomically increments the service's counter and returns the
// index and URL it selects. The counter starts implicit at 0, so the
// very first pick for a service lands on index 1 mod len(urls) — this
// off-by-one is deliberate (a consequence of pre-incrementing an absent
// counter) and must not be "fixed"; see spec.md §9.
func (s *Selector) Pick(ctx context.Context, service string) (int, string, error) {
	urls, ok := s.instances[service]
	if !ok || len(urls) == 0 {
		return 0, "", ErrUnknownService{Service: service}
	}

	n, err := s.store.Incr(ctx, fmt.Sprintf("lb:%s:counter", service))
	if err != nil {
		return 0, "", fmt.Errorf("loadbalancer: incr counter for %s: %w", service, err)
	}

	idx := int(n % int64(len(urls)))
	return idx, urls[idx], nil
}

// Services reports the known service names, for validating
// GET /request/{service}'s path parameter before touching the limiter.
func (s *Selector) Services() map[string][]string {
	return s.instances
}
