// Package storage provides the embedded relational store backing the
// audit log and meter durable rollup tables named in the gateway's §6
// persisted-state contract, grounded on the teacher pack's
// Aureuma-si/apps/ReleaseParty/backend/internal/store.Open
// (database/sql over modernc.org/sqlite, WAL mode, migrate-on-open).
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/toolgateway/gatekeeper/internal/domain/audit"
	"github.com/toolgateway/gatekeeper/internal/domain/meter"
)

// conn is the shared embedded-sqlite handle behind AuditStore and
// MeterStore. A single open connection is held (matching the teacher's
// SetMaxOpenConns(1)): sqlite serializes writers anyway, and the audit
// recorder already serializes its own Append calls.
type conn struct {
	db *sql.DB
}

// Close releases the underlying database handle. AuditStore and MeterStore
// share one conn, so closing either one closes both.
func (c *conn) Close() error {
	if c == nil || c.db == nil {
		return nil
	}
	return c.db.Close()
}

// AuditStore implements audit.Store over the shared sqlite connection.
type AuditStore struct {
	*conn
}

// MeterStore implements meter.Store over the same shared sqlite connection.
type MeterStore struct {
	*conn
}

// Open creates (if needed) and migrates the sqlite database at path,
// returning the audit and meter adapters over the shared connection.
func Open(path string) (*AuditStore, *MeterStore, error) {
	if path == "" {
		return nil, nil, fmt.Errorf("storage: db path required")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, nil, fmt.Errorf("storage: create db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, nil, fmt.Errorf("storage: open: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(5 * time.Minute)

	c := &conn{db: db}
	if err := c.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	return &AuditStore{conn: c}, &MeterStore{conn: c}, nil
}

func (c *conn) migrate(ctx context.Context) error {
	stmts := []string{
		`PRAGMA journal_mode=WAL;`,
		`CREATE TABLE IF NOT EXISTS audit_log (
			id TEXT PRIMARY KEY,
			timestamp TEXT NOT NULL,
			consumer_id TEXT NOT NULL,
			api_key_id TEXT NOT NULL,
			server_id TEXT NOT NULL,
			tool TEXT NOT NULL,
			args TEXT NOT NULL,
			response TEXT NOT NULL,
			latency_ms INTEGER NOT NULL,
			status TEXT NOT NULL,
			error TEXT NOT NULL,
			prev_hash TEXT NOT NULL,
			hash TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_audit_log_timestamp ON audit_log(timestamp);`,
		`CREATE INDEX IF NOT EXISTS idx_audit_log_consumer_id ON audit_log(consumer_id);`,
		`CREATE INDEX IF NOT EXISTS idx_audit_log_server_id ON audit_log(server_id);`,
		`CREATE INDEX IF NOT EXISTS idx_audit_log_status ON audit_log(status);`,
		`CREATE INDEX IF NOT EXISTS idx_audit_log_tool ON audit_log(tool);`,
		`CREATE TABLE IF NOT EXISTS meter (
			consumer_id TEXT NOT NULL,
			server_id TEXT NOT NULL,
			tool TEXT NOT NULL,
			period_key TEXT NOT NULL,
			calls INTEGER NOT NULL DEFAULT 0,
			successes INTEGER NOT NULL DEFAULT 0,
			denials INTEGER NOT NULL DEFAULT 0,
			rate_limits INTEGER NOT NULL DEFAULT 0,
			errors INTEGER NOT NULL DEFAULT 0,
			total_latency_ms INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (consumer_id, server_id, tool, period_key)
		);`,
	}
	for _, stmt := range stmts {
		if _, err := c.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("storage: migrate: %w", err)
		}
	}
	return nil
}

// LastHash implements audit.Store.
func (s *AuditStore) LastHash(ctx context.Context) (string, error) {
	var hash string
	err := s.db.QueryRowContext(ctx,
		`SELECT hash FROM audit_log ORDER BY rowid DESC LIMIT 1`,
	).Scan(&hash)
	if err == sql.ErrNoRows {
		return audit.GenesisHash, nil
	}
	if err != nil {
		return "", fmt.Errorf("storage: last hash: %w", err)
	}
	return hash, nil
}

// Append implements audit.Store.
func (s *AuditStore) Append(ctx context.Context, e audit.Entry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_log
			(id, timestamp, consumer_id, api_key_id, server_id, tool, args, response, latency_ms, status, error, prev_hash, hash)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Timestamp.UTC().Format(time.RFC3339Nano), e.ConsumerID, e.CredentialID, e.ServerID, e.Tool,
		e.Args, e.Response, e.LatencyMS, string(e.Status), e.Detail, e.PrevHash, e.Hash,
	)
	if err != nil {
		return fmt.Errorf("storage: append audit entry: %w", err)
	}
	return nil
}

// Query implements audit.Store.
func (s *AuditStore) Query(ctx context.Context, filter audit.Filter) ([]audit.Entry, error) {
	where := "WHERE 1=1"
	var args []interface{}
	if filter.ConsumerID != "" {
		where += " AND consumer_id = ?"
		args = append(args, filter.ConsumerID)
	}
	if filter.ServerID != "" {
		where += " AND server_id = ?"
		args = append(args, filter.ServerID)
	}
	if filter.Tool != "" {
		where += " AND tool = ?"
		args = append(args, filter.Tool)
	}
	if filter.Status != "" {
		where += " AND status = ?"
		args = append(args, string(filter.Status))
	}
	if !filter.Since.IsZero() {
		where += " AND timestamp >= ?"
		args = append(args, filter.Since.UTC().Format(time.RFC3339Nano))
	}
	if !filter.Until.IsZero() {
		where += " AND timestamp <= ?"
		args = append(args, filter.Until.UTC().Format(time.RFC3339Nano))
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(
		`SELECT id, timestamp, consumer_id, api_key_id, server_id, tool, args, response, latency_ms, status, error, prev_hash, hash
		 FROM audit_log %s ORDER BY timestamp DESC LIMIT ?`, where), args...)
	if err != nil {
		return nil, fmt.Errorf("storage: query audit log: %w", err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

// All implements audit.Store.
func (s *AuditStore) All(ctx context.Context) ([]audit.Entry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, timestamp, consumer_id, api_key_id, server_id, tool, args, response, latency_ms, status, error, prev_hash, hash
		 FROM audit_log ORDER BY rowid ASC`)
	if err != nil {
		return nil, fmt.Errorf("storage: read chain: %w", err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

func scanEntries(rows *sql.Rows) ([]audit.Entry, error) {
	var out []audit.Entry
	for rows.Next() {
		var e audit.Entry
		var ts, status string
		if err := rows.Scan(&e.ID, &ts, &e.ConsumerID, &e.CredentialID, &e.ServerID, &e.Tool,
			&e.Args, &e.Response, &e.LatencyMS, &status, &e.Detail, &e.PrevHash, &e.Hash); err != nil {
			return nil, fmt.Errorf("storage: scan audit entry: %w", err)
		}
		parsed, err := time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return nil, fmt.Errorf("storage: parse timestamp: %w", err)
		}
		e.Timestamp = parsed
		e.Status = audit.Status(status)
		out = append(out, e)
	}
	return out, rows.Err()
}

// Stats implements audit.Store.
func (s *AuditStore) Stats(ctx context.Context) (audit.Stats, error) {
	stats := audit.Stats{ByStatus: make(map[audit.Status]int)}

	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM audit_log`).Scan(&stats.Total); err != nil {
		return audit.Stats{}, fmt.Errorf("storage: count: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM audit_log GROUP BY status`)
	if err != nil {
		return audit.Stats{}, fmt.Errorf("storage: by-status: %w", err)
	}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			rows.Close()
			return audit.Stats{}, fmt.Errorf("storage: scan by-status: %w", err)
		}
		stats.ByStatus[audit.Status(status)] = count
	}
	rows.Close()

	var oldest, newest sql.NullString
	_ = s.db.QueryRowContext(ctx, `SELECT MIN(timestamp), MAX(timestamp) FROM audit_log`).Scan(&oldest, &newest)
	if oldest.Valid {
		stats.OldestEntry, _ = time.Parse(time.RFC3339Nano, oldest.String)
	}
	if newest.Valid {
		stats.NewestEntry, _ = time.Parse(time.RFC3339Nano, newest.String)
	}

	entries, err := s.All(ctx)
	if err != nil {
		return audit.Stats{}, err
	}
	broken := audit.VerifyChain(entries)
	stats.ChainValid = broken == -1
	stats.FirstBroken = broken
	return stats, nil
}

// Upsert implements meter.Store.
func (s *MeterStore) Upsert(ctx context.Context, delta meter.Bucket) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO meter (consumer_id, server_id, tool, period_key, calls, successes, denials, rate_limits, errors, total_latency_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(consumer_id, server_id, tool, period_key) DO UPDATE SET
			calls = calls + excluded.calls,
			successes = successes + excluded.successes,
			denials = denials + excluded.denials,
			rate_limits = rate_limits + excluded.rate_limits,
			errors = errors + excluded.errors,
			total_latency_ms = total_latency_ms + excluded.total_latency_ms`,
		delta.ConsumerID, delta.ServerID, delta.Tool, delta.Period,
		delta.Calls, delta.Successes, delta.Denials, delta.RateLimits, delta.Errors, delta.TotalLatencyMS,
	)
	if err != nil {
		return fmt.Errorf("storage: upsert meter bucket: %w", err)
	}
	return nil
}

// Query implements meter.Store.
func (s *MeterStore) Query(ctx context.Context, q meter.Query) ([]meter.Bucket, error) {
	where := "WHERE 1=1"
	var args []interface{}
	if q.ConsumerID != "" {
		where += " AND consumer_id = ?"
		args = append(args, q.ConsumerID)
	}
	if q.ServerID != "" {
		where += " AND server_id = ?"
		args = append(args, q.ServerID)
	}
	if q.Tool != "" {
		where += " AND tool = ?"
		args = append(args, q.Tool)
	}
	if q.Since != "" {
		where += " AND period_key >= ?"
		args = append(args, q.Since)
	}
	if q.Until != "" {
		where += " AND period_key <= ?"
		args = append(args, q.Until)
	}

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(
		`SELECT consumer_id, server_id, tool, period_key, calls, successes, denials, rate_limits, errors, total_latency_ms
		 FROM meter %s`, where), args...)
	if err != nil {
		return nil, fmt.Errorf("storage: query meter: %w", err)
	}
	defer rows.Close()

	var out []meter.Bucket
	for rows.Next() {
		var b meter.Bucket
		if err := rows.Scan(&b.ConsumerID, &b.ServerID, &b.Tool, &b.Period,
			&b.Calls, &b.Successes, &b.Denials, &b.RateLimits, &b.Errors, &b.TotalLatencyMS); err != nil {
			return nil, fmt.Errorf("storage: scan meter bucket: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

var (
	_ audit.Store = (*AuditStore)(nil)
	_ meter.Store = (*MeterStore)(nil)
)
