// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sqlitepool_test

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/cafelua/agentd/lib/sqlitepool"
)

func openTestPool(t *testing.T, poolSize int, onConnect func(*sqlite.Conn) error) *sqlitepool.Pool {
	t.Helper()
	pool, err := sqlitepool.Open(sqlitepool.Config{
		Path:      filepath.Join(t.TempDir(), "nested", "test.db"),
		PoolSize:  poolSize,
		OnConnect: onConnect,
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { pool.Close() })
	return pool
}

func TestOpenAppliesWAL(t *testing.T) {
	t.Parallel()

	pool := openTestPool(t, 0, nil)

	var journalMode string
	err := pool.With(context.Background(), func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, "PRAGMA journal_mode", &sqlitex.ExecOptions{
			ResultFunc: func(stmt *sqlite.Stmt) error {
				journalMode = stmt.ColumnText(0)
				return nil
			},
		})
	})
	if err != nil {
		t.Fatalf("PRAGMA journal_mode: %v", err)
	}
	if journalMode != "wal" {
		t.Errorf("journal_mode = %q, want %q", journalMode, "wal")
	}
}

func TestOpenRequiresPath(t *testing.T) {
	t.Parallel()

	if _, err := sqlitepool.Open(sqlitepool.Config{}); err == nil {
		t.Fatal("Open with empty Path succeeded")
	}
}

func TestOnConnectCreatesSchema(t *testing.T) {
	t.Parallel()

	pool := openTestPool(t, 1, func(conn *sqlite.Conn) error {
		return sqlitex.ExecuteScript(conn, `
			CREATE TABLE IF NOT EXISTS rows (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				value TEXT NOT NULL
			);
		`, nil)
	})

	err := pool.With(context.Background(), func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, "INSERT INTO rows (value) VALUES (?)", &sqlitex.ExecOptions{
			Args: []any{"hello"},
		})
	})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
}

func TestSingleConnectionSerializesWriters(t *testing.T) {
	t.Parallel()

	pool := openTestPool(t, 1, func(conn *sqlite.Conn) error {
		return sqlitex.ExecuteScript(conn, `
			CREATE TABLE IF NOT EXISTS counter (n INTEGER NOT NULL);
			INSERT INTO counter (n) SELECT 0 WHERE NOT EXISTS (SELECT 1 FROM counter);
		`, nil)
	})

	const writers = 16
	var wait sync.WaitGroup
	errs := make(chan error, writers)
	for range writers {
		wait.Add(1)
		go func() {
			defer wait.Done()
			errs <- pool.With(context.Background(), func(conn *sqlite.Conn) error {
				return sqlitex.Execute(conn, "UPDATE counter SET n = n + 1", nil)
			})
		}()
	}
	wait.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("update: %v", err)
		}
	}

	var count int
	err := pool.With(context.Background(), func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, "SELECT n FROM counter", &sqlitex.ExecOptions{
			ResultFunc: func(stmt *sqlite.Stmt) error {
				count = stmt.ColumnInt(0)
				return nil
			},
		})
	})
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if count != writers {
		t.Errorf("counter = %d, want %d", count, writers)
	}
}

func TestTakeAfterClose(t *testing.T) {
	t.Parallel()

	pool, err := sqlitepool.Open(sqlitepool.Config{Path: filepath.Join(t.TempDir(), "closed.db")})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := pool.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := pool.Take(context.Background()); err == nil {
		t.Fatal("Take after Close succeeded")
	}
}
