// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

const (
	// DefaultQueryLimit applies when Filter.Limit is not positive.
	DefaultQueryLimit = 100

	// MaxQueryLimit caps Filter.Limit regardless of the requested
	// value.
	MaxQueryLimit = 1000
)

// Filter selects audit events. Empty string fields impose no
// constraint; supplied fields combine with AND. From and To bound the
// timestamp inclusively and compare as strings, so a bare date such as
// "2026-03-01" works as a lower bound.
type Filter struct {
	RequestID string
	EventType string
	ToolName  string
	From      string
	To        string

	// Limit is the maximum number of events returned. Values <= 0
	// mean DefaultQueryLimit; values above MaxQueryLimit are capped.
	Limit int

	// Offset skips that many of the newest matching events.
	Offset int
}

func (f Filter) effectiveLimit() int {
	switch {
	case f.Limit <= 0:
		return DefaultQueryLimit
	case f.Limit > MaxQueryLimit:
		return MaxQueryLimit
	default:
		return f.Limit
	}
}

// where renders the filter predicates. beforeID > 0 adds an upper
// bound on id, used by Export for keyset paging.
func (f Filter) where(beforeID int64) (string, []any) {
	var clauses []string
	var args []any
	add := func(clause string, arg any) {
		clauses = append(clauses, clause)
		args = append(args, arg)
	}
	if f.RequestID != "" {
		add("request_id = ?", f.RequestID)
	}
	if f.EventType != "" {
		add("event_type = ?", f.EventType)
	}
	if f.ToolName != "" {
		add("tool_name = ?", f.ToolName)
	}
	if f.From != "" {
		add("timestamp >= ?", f.From)
	}
	if f.To != "" {
		add("timestamp <= ?", f.To)
	}
	if beforeID > 0 {
		add("id < ?", beforeID)
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

// Query returns the events matching filter, newest first.
func (s *Store) Query(ctx context.Context, filter Filter) ([]Event, error) {
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}
	where, args := filter.where(0)
	query := `SELECT id, timestamp, request_id, event_type, tool_name, tool_call_id, tier, success, payload
		FROM audit_events` + where + ` ORDER BY id DESC LIMIT ? OFFSET ?`
	args = append(args, filter.effectiveLimit(), offset)

	events, err := s.selectEvents(ctx, query, args)
	if err != nil {
		return nil, fmt.Errorf("audit: query: %w", err)
	}
	return events, nil
}

func (s *Store) selectEvents(ctx context.Context, query string, args []any) ([]Event, error) {
	events := []Event{}
	err := s.pool.With(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, query, &sqlitex.ExecOptions{
			Args: args,
			ResultFunc: func(stmt *sqlite.Stmt) error {
				events = append(events, scanEvent(stmt))
				return nil
			},
		})
	})
	if err != nil {
		return nil, err
	}
	return events, nil
}

func scanEvent(stmt *sqlite.Stmt) Event {
	event := Event{
		ID:         stmt.ColumnInt64(0),
		Timestamp:  stmt.ColumnText(1),
		RequestID:  stmt.ColumnText(2),
		EventType:  stmt.ColumnText(3),
		ToolName:   stmt.ColumnText(4),
		ToolCallID: stmt.ColumnText(5),
	}
	if !stmt.ColumnIsNull(6) {
		tier := stmt.ColumnInt64(6)
		event.Tier = &tier
	}
	if !stmt.ColumnIsNull(7) {
		success := stmt.ColumnInt64(7) != 0
		event.Success = &success
	}
	if !stmt.ColumnIsNull(8) {
		event.Payload = json.RawMessage(stmt.ColumnText(8))
	}
	return event
}

// Count is one row of a grouped count.
type Count struct {
	Key   string `json:"key"`
	Count int64  `json:"count"`
}

// Stats aggregates the whole audit table.
type Stats struct {
	TotalEvents int64   `json:"total_events"`
	ByEventType []Count `json:"by_event_type"`
	// ByToolName excludes events without a tool name.
	ByToolName []Count `json:"by_tool_name"`
	// TotalCost sums the cost field of usage payloads.
	TotalCost float64 `json:"total_cost"`
}

// EventTypeCount returns the count for one event type, or 0.
func (s Stats) EventTypeCount(eventType string) int64 {
	return lookup(s.ByEventType, eventType)
}

// ToolNameCount returns the count for one tool name, or 0.
func (s Stats) ToolNameCount(toolName string) int64 {
	return lookup(s.ByToolName, toolName)
}

func lookup(counts []Count, key string) int64 {
	for _, count := range counts {
		if count.Key == key {
			return count.Count
		}
	}
	return 0
}

// Stats computes totals over every stored event inside one read
// transaction.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	stats := Stats{ByEventType: []Count{}, ByToolName: []Count{}}
	err := s.pool.With(ctx, func(conn *sqlite.Conn) (err error) {
		defer sqlitex.Transaction(conn)(&err)

		err = sqlitex.Execute(conn, `SELECT COUNT(*) FROM audit_events`, &sqlitex.ExecOptions{
			ResultFunc: func(stmt *sqlite.Stmt) error {
				stats.TotalEvents = stmt.ColumnInt64(0)
				return nil
			},
		})
		if err != nil {
			return fmt.Errorf("counting events: %w", err)
		}

		err = sqlitex.Execute(conn, `
			SELECT event_type, COUNT(*) FROM audit_events
			GROUP BY event_type ORDER BY event_type`,
			&sqlitex.ExecOptions{ResultFunc: appendCount(&stats.ByEventType)})
		if err != nil {
			return fmt.Errorf("grouping by event type: %w", err)
		}

		err = sqlitex.Execute(conn, `
			SELECT tool_name, COUNT(*) FROM audit_events
			WHERE tool_name IS NOT NULL
			GROUP BY tool_name ORDER BY tool_name`,
			&sqlitex.ExecOptions{ResultFunc: appendCount(&stats.ByToolName)})
		if err != nil {
			return fmt.Errorf("grouping by tool name: %w", err)
		}

		err = sqlitex.Execute(conn, `
			SELECT COALESCE(SUM(json_extract(payload, '$.cost')), 0.0)
			FROM audit_events WHERE event_type = ?`,
			&sqlitex.ExecOptions{
				Args: []any{KindUsage.String()},
				ResultFunc: func(stmt *sqlite.Stmt) error {
					stats.TotalCost = stmt.ColumnFloat(0)
					return nil
				},
			})
		if err != nil {
			return fmt.Errorf("summing cost: %w", err)
		}
		return nil
	})
	if err != nil {
		return Stats{}, fmt.Errorf("audit: stats: %w", err)
	}
	return stats, nil
}

func appendCount(counts *[]Count) func(*sqlite.Stmt) error {
	return func(stmt *sqlite.Stmt) error {
		*counts = append(*counts, Count{Key: stmt.ColumnText(0), Count: stmt.ColumnInt64(1)})
		return nil
	}
}
