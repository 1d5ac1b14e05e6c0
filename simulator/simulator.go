// Package simulator drives synthetic traffic against a running gateway
// (SPEC_FULL.md §9's traffic generator). It is a shallow HTTP client of
// the gateway, not a component the gateway imports: it authenticates
// once as a real account, then issues concurrent GET /request/{service}
// calls carrying surrogate X-Client-ID values (basic_N, premium_N) so
// C3's rate limiter and C4's load balancer see many distinct clients
// without needing one registered account per client.
package simulator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

// Config describes one simulation run.
type Config struct {
	BaseURL  string
	Username string
	Password string

	Services          []string
	ClientsPerPlan    int
	RequestsPerClient int
	Concurrency       int
}

// Result tallies the outcome of one run.
type Result struct {
	Requests int64
	Allowed  int64
	Denied   int64
	Errors   int64

	StatusCounts map[int]int64
}

// Runner owns the authenticated HTTP client used for a simulation run.
type Runner struct {
	cfg    Config
	client *http.Client
	token  string

	mu           sync.Mutex
	statusCounts map[int]int64
}

// New builds a Runner for cfg. It does not contact the gateway until Run.
func New(cfg Config) *Runner {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 10
	}
	return &Runner{
		cfg:          cfg,
		client:       &http.Client{Timeout: 10 * time.Second},
		statusCounts: make(map[int]int64),
	}
}

// Run authenticates, then fans out
// len(Services)*ClientsPerPlan*2*RequestsPerClient requests (basic and
// premium surrogate clients, for each configured service) at up to
// Concurrency in flight at once.
func (r *Runner) Run(ctx context.Context) (Result, error) {
	if err := r.authenticate(ctx); err != nil {
		return Result{}, fmt.Errorf("simulator: authenticate: %w", err)
	}

	var result Result
	sem := make(chan struct{}, r.cfg.Concurrency)
	var wg sync.WaitGroup

	clientIDs := r.clientIDs()
	for _, service := range r.cfg.Services {
		for _, clientID := range clientIDs {
			for i := 0; i < r.cfg.RequestsPerClient; i++ {
				wg.Add(1)
				sem <- struct{}{}
				go func(service, clientID string) {
					defer wg.Done()
					defer func() { <-sem }()
					r.fire(ctx, service, clientID, &result)
				}(service, clientID)
			}
		}
	}
	wg.Wait()

	r.mu.Lock()
	result.StatusCounts = r.statusCounts
	r.mu.Unlock()
	return result, nil
}

// clientIDs builds the surrogate client population: basic_0..N-1 and
// premium_0..N-1, classified by prefix on the gateway side (spec.md
// §4.6 step 2's X-Client-ID convention).
func (r *Runner) clientIDs() []string {
	ids := make([]string, 0, r.cfg.ClientsPerPlan*2)
	for i := 0; i < r.cfg.ClientsPerPlan; i++ {
		ids = append(ids, fmt.Sprintf("basic_%d", i))
	}
	for i := 0; i < r.cfg.ClientsPerPlan; i++ {
		ids = append(ids, fmt.Sprintf("premium_%d", i))
	}
	return ids
}

func (r *Runner) fire(ctx context.Context, service, clientID string, result *Result) {
	atomic.AddInt64(&result.Requests, 1)

	url := fmt.Sprintf("%s/request/%s", r.cfg.BaseURL, service)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		atomic.AddInt64(&result.Errors, 1)
		return
	}
	req.Header.Set("Authorization", "Bearer "+r.token)
	req.Header.Set("X-Client-ID", clientID)

	resp, err := r.client.Do(req)
	if err != nil {
		atomic.AddInt64(&result.Errors, 1)
		return
	}
	defer resp.Body.Close()

	r.mu.Lock()
	r.statusCounts[resp.StatusCode]++
	r.mu.Unlock()

	switch resp.StatusCode {
	case http.StatusTooManyRequests:
		atomic.AddInt64(&result.Denied, 1)
	case http.StatusOK:
		atomic.AddInt64(&result.Allowed, 1)
	default:
		atomic.AddInt64(&result.Errors, 1)
	}
}

// authenticate registers (tolerating "already exists") then logs in,
// caching the bearer token for every request this run issues.
func (r *Runner) authenticate(ctx context.Context) error {
	registerBody, _ := json.Marshal(map[string]string{
		"username": r.cfg.Username,
		"password": r.cfg.Password,
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.cfg.BaseURL+"/register", bytes.NewReader(registerBody))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := r.client.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	// 409 (already registered) is expected on repeat runs; anything
	// else unexpected still falls through to the login attempt, which
	// will surface the real failure.

	loginBody, _ := json.Marshal(map[string]string{
		"username": r.cfg.Username,
		"password": r.cfg.Password,
	})
	req, err = http.NewRequestWithContext(ctx, http.MethodPost, r.cfg.BaseURL+"/login", bytes.NewReader(loginBody))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err = r.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("login failed with status %d", resp.StatusCode)
	}

	var body struct {
		Data struct {
			AccessToken string `json:"access_token"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return fmt.Errorf("decoding login response: %w", err)
	}
	if body.Data.AccessToken == "" {
		return fmt.Errorf("login response carried no access token")
	}
	r.token = body.Data.AccessToken
	return nil
}
