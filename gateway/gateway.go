// Package gateway implements the Pipeline: the orchestration layer
// (spec component C6) that ties plan resolution, admission, backend
// selection, the outbound fetch, metrics recording, and the detached
// audit write into the single proxy operation behind GET /request.
package gateway

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/froggu-tantei/apigateway/backend"
	"github.com/froggu-tantei/apigateway/kvstore"
	"github.com/froggu-tantei/apigateway/loadbalancer"
	"github.com/froggu-tantei/apigateway/plans"
	"github.com/froggu-tantei/apigateway/ratelimit"
)

// defaultPlan is used when a principal has never chosen one.
const defaultPlan = "basic"

// premiumSurrogatePrefix classifies synthetic client ids (used by load
// simulation, never by authenticated traffic) without a KV lookup.
const premiumSurrogatePrefix = "premium_"

// ErrUnknownService is returned by Proxy when the requested service
// class has no registered instances.
type ErrUnknownService struct {
	Service string
}

func (e ErrUnknownService) Error() string {
	return fmt.Sprintf("gateway: unknown service %q", e.Service)
}

// ErrRateLimited is returned by Proxy when the admission check denies
// the request. The caller (the HTTP handler) maps this to a 429.
var ErrRateLimited = fmt.Errorf("gateway: rate limited")

// Metrics is the narrow slice of the metrics recorder the pipeline
// drives. Kept separate from ratelimit.MetricsSink so the pipeline can
// record service/instance/status counters the limiter never touches.
type Metrics interface {
	RecordBlockedStatus(ctx context.Context)
	RecordInstance(ctx context.Context, service string, idx int)
	RecordCompletion(ctx context.Context, service string, status int, latencySeconds float64)
}

// AuditLog is the sink for the detached, best-effort audit write fired
// after step 7. A nil AuditLog disables step 7a entirely.
type AuditLog interface {
	Record(ctx context.Context, clientID, plan, service string, status int, latencySeconds float64) error
}

// Pipeline orchestrates one proxied request end to end.
type Pipeline struct {
	store    kvstore.Store
	plans    *plans.Registry
	limiter  *ratelimit.Limiter
	selector *loadbalancer.Selector
	client   *backend.Client
	metrics  Metrics
	audit    AuditLog
	clk      clockNow
}

// clockNow is the minimal timing interface the pipeline needs for
// latency measurement; ratelimit.Limiter owns the injected clock used
// for bucket refill math, so the pipeline only needs Now().
type clockNow interface {
	Now() time.Time
}

// New builds a Pipeline. audit may be nil if the audit log collaborator
// isn't wired (e.g. Postgres isn't configured for this deployment).
func New(store kvstore.Store, registry *plans.Registry, limiter *ratelimit.Limiter, selector *loadbalancer.Selector, client *backend.Client, metrics Metrics, audit AuditLog, clk clockNow) *Pipeline {
	return &Pipeline{
		store:    store,
		plans:    registry,
		limiter:  limiter,
		selector: selector,
		client:   client,
		metrics:  metrics,
		audit:    audit,
		clk:      clk,
	}
}

// Proxy runs the full pipeline from spec.md §4.6: plan resolution,
// admission, backend selection, the outbound fetch, and metrics
// recording, followed by a detached best-effort audit write.
//
// Step ordering is contractual. A denial records metrics:status:429 and
// metrics:plan:<plan>:blocked (via the limiter's MetricsSink) and
// returns ErrRateLimited without ever reaching backend selection.
// Tokens charged on a step that later fails (e.g. the backend GET
// errors) are never refunded — the limiter charges for the attempt, not
// the outcome.
func (p *Pipeline) Proxy(ctx context.Context, service, clientHeader, principal string) (int, []byte, error) {
	services := p.selector.Services()
	if _, ok := services[service]; !ok {
		return 0, nil, ErrUnknownService{Service: service}
	}

	clientID := clientHeader
	if clientID == "" {
		clientID = principal
	}

	plan, err := p.resolvePlan(ctx, clientID, principal)
	if err != nil {
		return 0, nil, fmt.Errorf("gateway: resolve plan: %w", err)
	}

	allowed, err := p.limiter.Admit(ctx, clientID+":bucket", plan, 1)
	if err != nil {
		return 0, nil, fmt.Errorf("gateway: admit: %w", err)
	}
	if !allowed {
		if p.metrics != nil {
			p.metrics.RecordBlockedStatus(ctx)
		}
		return 0, nil, ErrRateLimited
	}

	idx, url, err := p.selector.Pick(ctx, service)
	if err != nil {
		return 0, nil, fmt.Errorf("gateway: pick instance: %w", err)
	}
	if p.metrics != nil {
		p.metrics.RecordInstance(ctx, service, idx)
	}

	t0 := p.clk.Now()
	status, body, getErr := p.client.Get(ctx, url)

	if getErr != nil && ctx.Err() != nil {
		// The inbound request was cancelled (or its deadline passed):
		// the outbound GET aborted as a side effect, not a genuine
		// backend failure. Admission/instance metrics already recorded
		// above stand, but completion status, latency, and the audit
		// row are all skipped rather than recorded against a request
		// nobody is waiting on, per spec.md §5.
		return 0, nil, ctx.Err()
	}

	latency := p.clk.Now().Sub(t0).Seconds()

	if getErr != nil {
		// Backend connection failures are reported to the caller as 500
		// and still recorded, per spec.md §4.6's failure semantics.
		status = 500
	}

	if p.metrics != nil {
		p.metrics.RecordCompletion(ctx, service, status, latency)
	}

	p.recordAudit(clientID, plan.Name, service, status, latency)

	if getErr != nil {
		return 500, nil, nil
	}
	return status, body, nil
}

// resolvePlan implements spec.md §4.6 step 3: a request made on the
// caller's own behalf reads its stored plan assignment (defaulting to
// basic); a request bearing a surrogate client id is classified by
// prefix instead of touching the KV store.
func (p *Pipeline) resolvePlan(ctx context.Context, clientID, principal string) (plans.Plan, error) {
	var name string
	if clientID == principal {
		raw, err := p.store.Get(ctx, fmt.Sprintf("user:%s:plan", principal))
		if err == kvstore.ErrNotFound {
			name = defaultPlan
		} else if err != nil {
			return plans.Plan{}, err
		} else {
			name = raw
		}
	} else if strings.HasPrefix(clientID, premiumSurrogatePrefix) {
		name = "premium"
	} else {
		name = defaultPlan
	}

	plan, err := p.plans.Lookup(name)
	if err != nil {
		// An unrecognized stored plan name falls back to basic rather
		// than failing the request outright.
		return p.plans.Lookup(defaultPlan)
	}
	return plan, nil
}

// recordAudit fires the audit write detached from the request's
// context, per SPEC_FULL.md §4.6 step 7a / §5: a canceled inbound
// request must not also cancel the audit row.
func (p *Pipeline) recordAudit(clientID, plan, service string, status int, latencySeconds float64) {
	if p.audit == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := p.audit.Record(ctx, clientID, plan, service, status, latencySeconds); err != nil {
			log.Printf("gateway: audit write failed: %v", err)
		}
	}()
}
