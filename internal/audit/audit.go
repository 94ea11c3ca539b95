// Package audit is the durable AuditLog archive: a Postgres-backed sink
// for append-only decision records, independent of the TTL-bounded
// working set the primary store (Redis or in-memory) retains. It is the
// system of record during the retention window, not an extension of it
// (§3's audit-archive Non-goal only excludes retention beyond that
// window).
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"

	"github.com/bouncer/broker/internal/circuitbreaker"
	"github.com/bouncer/broker/internal/model"
)

// Archiver is the durable sink interface, grounded on the teacher's
// internal/reputation.ReputationWallet shape: a *sql.DB wrapped by a
// small domain-specific surface rather than exposed directly.
type Archiver interface {
	Append(ctx context.Context, entry *model.AuditLog) error
	Query(ctx context.Context, filter Filter) ([]*model.AuditLog, error)
	Close() error
}

// Filter is the history/stats RPC's filter set, taken from
// original_source/src/mcp_history.py: source, account_id, action,
// status, and a lookback window in hours.
type Filter struct {
	Source    string
	AccountID string
	Action    string
	Status    string
	Hours     int
	Limit     int
	Offset    int
}

// Store is the Postgres-backed Archiver. Every query runs through a
// circuit breaker so a stalled or unreachable database trips open instead
// of stacking timeouts behind the history/stats RPC tools.
type Store struct {
	db      *sql.DB
	breaker *circuitbreaker.CircuitBreaker
}

// NewStore opens a Postgres connection pool against dsn. breaker may be
// nil, in which case a default-configured one is used. NewStore creates no
// tables: the audit_log table must already exist before first use.
func NewStore(dsn string, breaker *circuitbreaker.CircuitBreaker) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("audit: open: %w", err)
	}
	if breaker == nil {
		breaker = circuitbreaker.New(circuitbreaker.DefaultConfig("postgres"))
	}
	return &Store{db: db, breaker: breaker}, nil
}

// Append inserts one audit row. Details is stored as JSONB.
func (s *Store) Append(ctx context.Context, entry *model.AuditLog) error {
	details, err := json.Marshal(entry.Details)
	if err != nil {
		return fmt.Errorf("audit: marshal details: %w", err)
	}
	_, err = s.breaker.Execute(func() (interface{}, error) {
		return s.db.ExecContext(ctx, `
			INSERT INTO audit_log (id, request_id, action, actor, details, created_at)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (id) DO NOTHING`,
			entry.ID, entry.RequestID, entry.Action, entry.Actor, details, entry.CreatedAt)
	})
	if err != nil {
		return fmt.Errorf("audit: insert: %w", err)
	}
	return nil
}

// Query runs a filtered, paginated lookup over the archive, backing the
// history/stats RPC tools.
func (s *Store) Query(ctx context.Context, filter Filter) ([]*model.AuditLog, error) {
	query, args := buildQuery(filter)
	result, err := s.breaker.Execute(func() (interface{}, error) {
		rows, err := s.db.QueryContext(ctx, query, args...)
		if err != nil {
			return nil, fmt.Errorf("audit: query: %w", err)
		}
		defer rows.Close()

		var out []*model.AuditLog
		for rows.Next() {
			entry := &model.AuditLog{}
			var raw []byte
			if err := rows.Scan(&entry.ID, &entry.RequestID, &entry.Action, &entry.Actor, &raw, &entry.CreatedAt); err != nil {
				return nil, fmt.Errorf("audit: scan: %w", err)
			}
			if len(raw) > 0 {
				if err := json.Unmarshal(raw, &entry.Details); err != nil {
					return nil, fmt.Errorf("audit: unmarshal details: %w", err)
				}
			}
			out = append(out, entry)
		}
		return out, rows.Err()
	})
	if err != nil {
		return nil, err
	}
	out, _ := result.([]*model.AuditLog)
	return out, nil
}

// Close releases the connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// buildQuery composes the parameterized SELECT for Query, kept as a pure
// function so it can be unit tested without a live database.
func buildQuery(filter Filter) (string, []interface{}) {
	var b strings.Builder
	b.WriteString("SELECT id, request_id, action, actor, details, created_at FROM audit_log WHERE 1=1")
	var args []interface{}
	n := 0
	next := func() int {
		n++
		return n
	}

	if filter.Source != "" {
		args = append(args, filter.Source)
		fmt.Fprintf(&b, " AND actor = $%d", next())
	}
	if filter.AccountID != "" {
		args = append(args, filter.AccountID)
		fmt.Fprintf(&b, " AND details->>'account_id' = $%d", next())
	}
	if filter.Action != "" {
		args = append(args, filter.Action)
		fmt.Fprintf(&b, " AND action = $%d", next())
	}
	if filter.Status != "" {
		args = append(args, filter.Status)
		fmt.Fprintf(&b, " AND details->>'status' = $%d", next())
	}
	if filter.Hours > 0 {
		args = append(args, time.Now().Add(-time.Duration(filter.Hours)*time.Hour))
		fmt.Fprintf(&b, " AND created_at >= $%d", next())
	}

	b.WriteString(" ORDER BY created_at DESC")

	limit := filter.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	args = append(args, limit)
	fmt.Fprintf(&b, " LIMIT $%d", next())

	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		fmt.Fprintf(&b, " OFFSET $%d", next())
	}

	return b.String(), args
}
