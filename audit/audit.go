// Package audit implements the Audit Log collaborator (SPEC_FULL.md
// §4.10): an append-only record of completed proxied requests, written
// to Postgres from a detached goroutine so a slow or unreachable
// database never delays or fails the HTTP response it describes.
package audit

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Record is one row of the audit_log table. Never mutated once written.
type Record struct {
	ID             uuid.UUID
	ClientID       string
	Plan           string
	Service        string
	Status         int
	LatencySeconds float64
}

// Log appends Records to Postgres via a pooled connection.
type Log struct {
	pool *pgxpool.Pool
}

// New wraps an existing pool. Callers are expected to have already
// verified connectivity (Ping) at startup.
func New(pool *pgxpool.Pool) *Log {
	return &Log{pool: pool}
}

// EnsureSchema creates the audit_log table if it doesn't already exist.
// Safe to call on every startup.
func (l *Log) EnsureSchema(ctx context.Context) error {
	_, err := l.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS audit_log (
			id uuid PRIMARY KEY,
			client_id text NOT NULL,
			plan text NOT NULL,
			service text NOT NULL,
			status int NOT NULL,
			latency_seconds double precision NOT NULL,
			recorded_at timestamptz NOT NULL DEFAULT now()
		)
	`)
	if err != nil {
		return fmt.Errorf("audit: ensure schema: %w", err)
	}
	return nil
}

// Record satisfies gateway.AuditLog: it inserts one append-only row.
// recorded_at is stamped server-side by Postgres's default, not by the
// caller's clock, so it reflects when the write actually landed.
func (l *Log) Record(ctx context.Context, clientID, plan, service string, status int, latencySeconds float64) error {
	_, err := l.pool.Exec(ctx, `
		INSERT INTO audit_log (id, client_id, plan, service, status, latency_seconds)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, uuid.New(), clientID, plan, service, status, latencySeconds)
	if err != nil {
		return fmt.Errorf("audit: insert record: %w", err)
	}
	return nil
}
