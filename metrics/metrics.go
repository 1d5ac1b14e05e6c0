// Package metrics records gateway decision counters in the shared KV
// store (component C5) and aggregates/resets them into a structured
// report (component C9). The recorder only ever increments; it performs
// no read-modify-write of its own, so its counters can never lose an
// update under concurrency.
package metrics

import (
	"context"
	"fmt"
	"log"
	"strconv"

	"github.com/froggu-tantei/apigateway/kvstore"
)

func logMetricWriteError(key string, err error) {
	log.Printf("metrics: failed to write %s: %v", key, err)
}

// trackedStatusCodes are the HTTP status codes the report always
// includes, even when their count is zero.
var trackedStatusCodes = []string{"200", "400", "429", "500"}

// Recorder increments gateway metric counters. It never reads a value
// back to decide what to write — every operation here is a single
// atomic KV incr, never a read-modify-write, so it cannot call back into
// the limiter or the pipeline and create the cyclic dependency spec.md
// §9 warns against.
type Recorder struct {
	store kvstore.Store
}

// New builds a Recorder over store.
func New(store kvstore.Store) *Recorder {
	return &Recorder{store: store}
}

// RecordPlanDecision implements ratelimit.MetricsSink: one allowed/
// blocked counter per plan.
func (r *Recorder) RecordPlanDecision(ctx context.Context, plan string, allowed bool) {
	outcome := "blocked"
	if allowed {
		outcome = "allowed"
	}
	r.incr(ctx, fmt.Sprintf("metrics:plan:%s:%s", plan, outcome))
}

// RecordBlockedStatus increments the 429 status counter for a
// rate-limited request.
func (r *Recorder) RecordBlockedStatus(ctx context.Context) {
	r.incr(ctx, "metrics:status:429")
}

// RecordInstance increments the per-instance pick counter for a
// round-robin selection.
func (r *Recorder) RecordInstance(ctx context.Context, service string, idx int) {
	r.incr(ctx, fmt.Sprintf("metrics:instance:%s-%d", service, idx))
}

// RecordCompletion records a finished proxied request: one service
// counter, one status counter, and a latency sample.
func (r *Recorder) RecordCompletion(ctx context.Context, service string, status int, latencySeconds float64) {
	r.incr(ctx, fmt.Sprintf("metrics:service:%s", service))
	r.incr(ctx, fmt.Sprintf("metrics:status:%d", status))
	r.incr(ctx, fmt.Sprintf("metrics:latency:count:%s", service))
	r.incrFloat(ctx, fmt.Sprintf("metrics:latency:sum:%s", service), latencySeconds)
}

func (r *Recorder) incr(ctx context.Context, key string) {
	// Metric-write failures are logged and swallowed: spec.md §7 forbids
	// failing an already-admitted, already-served request over a metrics
	// write.
	if _, err := r.store.Incr(ctx, key); err != nil {
		logMetricWriteError(key, err)
	}
}

func (r *Recorder) incrFloat(ctx context.Context, key string, delta float64) {
	if _, err := r.store.IncrFloat(ctx, key, delta); err != nil {
		logMetricWriteError(key, err)
	}
}

// Report is the structured shape returned by GET /metrics.
type Report struct {
	Plans     map[string]PlanCounts `json:"plans"`
	Services  map[string]int64      `json:"services"`
	Status    map[string]int64      `json:"status"`
	Latency   map[string]float64    `json:"latency"`
	Instances map[string]int64      `json:"instances"`
}

// PlanCounts is the allowed/blocked pair for one plan.
type PlanCounts struct {
	Allowed int64 `json:"allowed"`
	Blocked int64 `json:"blocked"`
}

// Reader aggregates raw KV counters into a Report and can reset them to
// zero. It needs to know the plan names, service names, and instance
// counts up front since the KV store has no "list keys matching a
// prefix" primitive it can rely on in production (SCAN is avoided to
// keep the adapter contract in §4.2 minimal).
type Reader struct {
	store     kvstore.Store
	planNames []string
	services  map[string]int // service -> instance count
}

// NewReader builds a Reader that knows about planNames and the given
// service registry (service name -> number of instances).
func NewReader(store kvstore.Store, planNames []string, services map[string]int) *Reader {
	return &Reader{store: store, planNames: planNames, services: services}
}

// Read aggregates the current counters into a Report. Never-incremented
// keys read as zero, matching spec.md §6.1's "0.0 if count == 0" rule
// for latency.
func (r *Reader) Read(ctx context.Context) (Report, error) {
	report := Report{
		Plans:     map[string]PlanCounts{},
		Services:  map[string]int64{},
		Status:    map[string]int64{},
		Latency:   map[string]float64{},
		Instances: map[string]int64{},
	}

	for _, plan := range r.planNames {
		allowed, err := r.readInt(ctx, fmt.Sprintf("metrics:plan:%s:allowed", plan))
		if err != nil {
			return Report{}, err
		}
		blocked, err := r.readInt(ctx, fmt.Sprintf("metrics:plan:%s:blocked", plan))
		if err != nil {
			return Report{}, err
		}
		report.Plans[plan] = PlanCounts{Allowed: allowed, Blocked: blocked}
	}

	for _, code := range trackedStatusCodes {
		v, err := r.readInt(ctx, fmt.Sprintf("metrics:status:%s", code))
		if err != nil {
			return Report{}, err
		}
		report.Status[code] = v
	}

	for service, n := range r.services {
		v, err := r.readInt(ctx, fmt.Sprintf("metrics:service:%s", service))
		if err != nil {
			return Report{}, err
		}
		report.Services[service] = v

		count, err := r.readInt(ctx, fmt.Sprintf("metrics:latency:count:%s", service))
		if err != nil {
			return Report{}, err
		}
		sum, err := r.readFloat(ctx, fmt.Sprintf("metrics:latency:sum:%s", service))
		if err != nil {
			return Report{}, err
		}
		if count == 0 {
			report.Latency[service] = 0.0
		} else {
			report.Latency[service] = sum / float64(count)
		}

		for idx := 0; idx < n; idx++ {
			key := fmt.Sprintf("%s-%d", service, idx)
			v, err := r.readInt(ctx, fmt.Sprintf("metrics:instance:%s", key))
			if err != nil {
				return Report{}, err
			}
			report.Instances[key] = v
		}
	}

	return report, nil
}

// Clear resets every tracked counter to zero. It is idempotent: clearing
// twice in a row leaves identical state (P6).
func (r *Reader) Clear(ctx context.Context) error {
	keys := r.allKeys()
	for _, key := range keys {
		if err := r.store.Set(ctx, key, "0", 0); err != nil {
			return fmt.Errorf("metrics: clear %s: %w", key, err)
		}
	}
	return nil
}

func (r *Reader) allKeys() []string {
	var keys []string
	for _, plan := range r.planNames {
		keys = append(keys,
			fmt.Sprintf("metrics:plan:%s:allowed", plan),
			fmt.Sprintf("metrics:plan:%s:blocked", plan),
		)
	}
	for _, code := range trackedStatusCodes {
		keys = append(keys, fmt.Sprintf("metrics:status:%s", code))
	}
	for service, n := range r.services {
		keys = append(keys,
			fmt.Sprintf("metrics:service:%s", service),
			fmt.Sprintf("metrics:latency:count:%s", service),
			fmt.Sprintf("metrics:latency:sum:%s", service),
		)
		for idx := 0; idx < n; idx++ {
			keys = append(keys, fmt.Sprintf("metrics:instance:%s-%d", service, idx))
		}
	}
	return keys
}

func (r *Reader) readInt(ctx context.Context, key string) (int64, error) {
	raw, err := r.store.Get(ctx, key)
	if err == kvstore.ErrNotFound {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("metrics: read %s: %w", key, err)
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("metrics: parse %s: %w", key, err)
	}
	return v, nil
}

func (r *Reader) readFloat(ctx context.Context, key string) (float64, error) {
	raw, err := r.store.Get(ctx, key)
	if err == kvstore.ErrNotFound {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("metrics: read %s: %w", key, err)
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("metrics: parse %s: %w", key, err)
	}
	return v, nil
}
