// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package audit

import (
	"context"
	"fmt"
	"log/slog"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/cafelua/agentd/lib/clock"
	"github.com/cafelua/agentd/lib/ipc"
	"github.com/cafelua/agentd/lib/sqlitepool"
)

const schema = `
CREATE TABLE IF NOT EXISTS audit_events (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	timestamp    TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%f', 'now')),
	request_id   TEXT NOT NULL,
	event_type   TEXT NOT NULL,
	tool_name    TEXT,
	tool_call_id TEXT,
	tier         INTEGER,
	success      INTEGER,
	payload      TEXT
);
CREATE INDEX IF NOT EXISTS idx_audit_timestamp ON audit_events(timestamp);
CREATE INDEX IF NOT EXISTS idx_audit_request_id ON audit_events(request_id);
CREATE INDEX IF NOT EXISTS idx_audit_event_type ON audit_events(event_type);
CREATE INDEX IF NOT EXISTS idx_audit_tool_name ON audit_events(tool_name);
`

// Config holds the parameters for opening a Store.
type Config struct {
	// Path is the SQLite database file. Required.
	Path string

	// Clock stamps inserted events. Required.
	Clock clock.Clock

	// Logger receives best-effort insert failures. Nil discards them.
	Logger *slog.Logger
}

// Store is the audit event table. Safe for concurrent use; all access
// is serialized through a single connection.
type Store struct {
	pool   *sqlitepool.Pool
	clock  clock.Clock
	logger *slog.Logger
}

// Open opens or creates the audit database at cfg.Path.
func Open(cfg Config) (*Store, error) {
	if cfg.Clock == nil {
		return nil, fmt.Errorf("audit: Clock is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	pool, err := sqlitepool.Open(sqlitepool.Config{
		Path:     cfg.Path,
		PoolSize: 1,
		Logger:   logger,
		OnConnect: func(conn *sqlite.Conn) error {
			return sqlitex.ExecuteScript(conn, schema, nil)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("audit: %w", err)
	}

	// Take once so schema errors surface here rather than on the first
	// best-effort insert.
	if err := pool.With(context.Background(), func(*sqlite.Conn) error { return nil }); err != nil {
		pool.Close()
		return nil, fmt.Errorf("audit: initializing %s: %w", cfg.Path, err)
	}

	return &Store{pool: pool, clock: cfg.Clock, logger: logger}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.pool.Close()
}

// Insert stores record and returns its ID. Records whose kind is not
// audited are ignored and return ID 0 with no error.
func (s *Store) Insert(ctx context.Context, record Record) (int64, error) {
	if !record.Kind.Audited() {
		return 0, nil
	}

	timestamp := s.clock.Now().UTC().Format(TimestampLayout)
	var payload any
	if record.Payload != nil {
		payload = string(record.Payload)
	}

	var id int64
	err := s.pool.With(ctx, func(conn *sqlite.Conn) error {
		err := sqlitex.Execute(conn, `
			INSERT INTO audit_events
				(timestamp, request_id, event_type, tool_name, tool_call_id, tier, success, payload)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			&sqlitex.ExecOptions{
				Args: []any{
					timestamp,
					record.RequestID,
					record.Kind.String(),
					nullableText(record.ToolName),
					nullableText(record.ToolCallID),
					nullableInt(record.Tier),
					nullableBool(record.Success),
					payload,
				},
			})
		if err != nil {
			return err
		}
		id = conn.LastInsertRowID()
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("audit: inserting %s event: %w", record.Kind, err)
	}
	return id, nil
}

// Observe audits a worker message if its type is in the audited set.
// Failures are logged and never returned.
func (s *Store) Observe(ctx context.Context, message ipc.Message) {
	record, ok, err := RecordFromMessage(message)
	if err != nil {
		s.logger.Warn("audit payload shaping failed",
			"type", message.Type(),
			"request_id", message.RequestID(),
			"error", err,
		)
		return
	}
	if !ok {
		return
	}
	if _, err := s.Insert(ctx, record); err != nil {
		s.logger.Warn("audit insert failed",
			"event_type", record.Kind.String(),
			"request_id", record.RequestID,
			"error", err,
		)
	}
}

// RecordDecision audits an outgoing approval response as an
// approval_decision event. Failures are logged and never returned.
func (s *Store) RecordDecision(ctx context.Context, response ipc.ApprovalResponse) {
	record, err := DecisionRecord(response)
	if err == nil {
		_, err = s.Insert(ctx, record)
	}
	if err != nil {
		s.logger.Warn("audit approval decision failed",
			"request_id", response.RequestID,
			"error", err,
		)
	}
}

func nullableText(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func nullableInt(value *int64) any {
	if value == nil {
		return nil
	}
	return *value
}

func nullableBool(value *bool) any {
	if value == nil {
		return nil
	}
	if *value {
		return int64(1)
	}
	return int64(0)
}
