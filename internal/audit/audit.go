// Package audit records every tool call (never its arguments or results) in
// SQLite.
package audit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/RobinCoderZhao/mlit-dpf-mcp/pkg/apperr"
	"github.com/RobinCoderZhao/mlit-dpf-mcp/pkg/mcpserver"
	"github.com/RobinCoderZhao/mlit-dpf-mcp/pkg/storage"
)

// Schema is the SQLite schema for the audit log.
const Schema = `
CREATE TABLE IF NOT EXISTS tool_calls (
    id          TEXT PRIMARY KEY,
    tool        TEXT NOT NULL,
    started_at  TIMESTAMP NOT NULL,
    duration_ms INTEGER NOT NULL,
    outcome     TEXT NOT NULL,
    error_kind  TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_tool_calls_started ON tool_calls(started_at);
CREATE INDEX IF NOT EXISTS idx_tool_calls_tool ON tool_calls(tool);
`

// Outcome of a recorded call.
type Outcome string

const (
	OutcomeOK        Outcome = "ok"
	OutcomeError     Outcome = "error"
	OutcomeCancelled Outcome = "cancelled"
)

// writeTimeout bounds one audit insert.
const writeTimeout = 2 * time.Second

// Entry is one recorded tool call.
type Entry struct {
	ID        string
	Tool      string
	StartedAt time.Time
	Duration  time.Duration
	Outcome   Outcome
	ErrorKind apperr.Kind
}

// Recorder persists entries.
type Recorder interface {
	Record(ctx context.Context, e Entry) error
}

// Store provides audit log persistence.
type Store struct {
	db *storage.DB
}

// Open opens the database at dsn and initializes the schema.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := storage.Open(ctx, dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(ctx, Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create audit schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Record inserts e. Entries with a duplicate id are ignored.
func (s *Store) Record(ctx context.Context, e Entry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO tool_calls (id, tool, started_at, duration_ms, outcome, error_kind)
		VALUES (?, ?, ?, ?, ?, ?)
	`, e.ID, e.Tool, e.StartedAt.UTC(), e.Duration.Milliseconds(), string(e.Outcome), string(e.ErrorKind))
	if err != nil {
		return fmt.Errorf("record tool call %s: %w", e.ID, err)
	}
	return nil
}

// Recent returns up to limit entries, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tool, started_at, duration_ms, outcome, error_kind
		FROM tool_calls ORDER BY started_at DESC, id LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query tool calls: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e          Entry
			durationMS int64
			outcome    string
			kind       string
		)
		if err := rows.Scan(&e.ID, &e.Tool, &e.StartedAt, &durationMS, &outcome, &kind); err != nil {
			return nil, fmt.Errorf("scan tool call: %w", err)
		}
		e.Duration = time.Duration(durationMS) * time.Millisecond
		e.Outcome = Outcome(outcome)
		e.ErrorKind = apperr.Kind(kind)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Middleware records every tools/call through rec. Write failures are
// logged and never change the response.
func Middleware(rec Recorder, logger *slog.Logger) mcpserver.Middleware {
	return func(next mcpserver.HandlerFunc) mcpserver.HandlerFunc {
		return func(ctx context.Context, req *mcpserver.JSONRPCRequest) *mcpserver.JSONRPCResponse {
			if req.Method != "tools/call" {
				return next(ctx, req)
			}

			id := mcpserver.CallID(ctx)
			if id == "" {
				id = uuid.NewString()
				ctx = mcpserver.WithCallID(ctx, id)
			}
			start := time.Now()
			resp := next(ctx, req)

			e := Entry{
				ID:        id,
				Tool:      mcpserver.ToolName(req),
				StartedAt: start,
				Duration:  time.Since(start),
			}
			e.Outcome, e.ErrorKind = classify(ctx, resp)

			wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), writeTimeout)
			defer cancel()
			if err := rec.Record(wctx, e); err != nil {
				logger.Warn("audit write failed", "call_id", id, "tool", e.Tool, "error", err)
			}
			return resp
		}
	}
}

func classify(ctx context.Context, resp *mcpserver.JSONRPCResponse) (Outcome, apperr.Kind) {
	if ctx.Err() != nil {
		return OutcomeCancelled, ""
	}
	if resp == nil || resp.Error != nil {
		return OutcomeError, apperr.KindInternal
	}
	if result, ok := resp.Result.(*mcpserver.ToolCallResult); ok && result.IsError {
		return OutcomeError, result.ErrorKind()
	}
	return OutcomeOK, ""
}
