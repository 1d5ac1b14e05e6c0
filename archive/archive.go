// Package archive implements the Metrics Archiver (SPEC_FULL.md §4.11):
// a background ticker that periodically snapshots the metrics report to
// a storage.FileStorage backend. It never resets the live counters —
// POST /metrics/clear remains the only reset path.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/froggu-tantei/apigateway/metrics"
	"github.com/froggu-tantei/apigateway/storage"
)

// DefaultInterval matches SPEC_FULL.md §4.11's "every 5 minutes" default.
const DefaultInterval = 5 * time.Minute

// snapshot is the JSON shape written to storage on each tick.
type snapshot struct {
	TakenAt time.Time      `json:"taken_at"`
	Report  metrics.Report `json:"report"`
}

// Archiver owns the ticker goroutine. Grounded on
// middleware/ratelimiter.go's cleanup-goroutine shape: a
// context.WithCancel pair plus a done channel the caller can wait on.
type Archiver struct {
	reader   *metrics.Reader
	store    storage.FileStorage
	interval time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// New builds an Archiver. interval <= 0 uses DefaultInterval.
func New(reader *metrics.Reader, store storage.FileStorage, interval time.Duration) *Archiver {
	if interval <= 0 {
		interval = DefaultInterval
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Archiver{
		reader:   reader,
		store:    store,
		interval: interval,
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
}

// Start runs the archiver's ticker loop in its own goroutine. Call
// Close to stop it.
func (a *Archiver) Start() {
	go a.run()
}

// Close stops the ticker loop and waits for it to exit, or reports a
// timeout error if it doesn't within a second.
func (a *Archiver) Close() error {
	a.cancel()
	select {
	case <-a.done:
		return nil
	case <-time.After(time.Second):
		return fmt.Errorf("archive: archiver did not stop in time")
	}
}

func (a *Archiver) run() {
	defer close(a.done)
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			a.snapshotOnce()
		case <-a.ctx.Done():
			return
		}
	}
}

// snapshotOnce reads the current report and writes it to storage.
// Failures are logged and skipped — the next tick tries again.
func (a *Archiver) snapshotOnce() {
	report, err := a.reader.Read(a.ctx)
	if err != nil {
		log.Printf("archive: read metrics: %v", err)
		return
	}

	body, err := json.Marshal(snapshot{TakenAt: time.Now(), Report: report})
	if err != nil {
		log.Printf("archive: marshal snapshot: %v", err)
		return
	}

	filename := fmt.Sprintf("metrics-%d.json", time.Now().Unix())
	if _, err := a.store.Store(bytes.NewReader(body), filename); err != nil {
		log.Printf("archive: store snapshot: %v", err)
	}
}
