// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package sqlitepool opens SQLite databases with agentd's standard
// connection settings.
//
// It wraps zombiezen.com/go/sqlite's sqlitex.Pool and applies, to every
// connection, WAL journaling, NORMAL synchronous mode and a busy
// timeout. An OnConnect hook runs after the pragmas so that stores can
// create their schema on first use.
//
// The pool size defaults to one connection. SQLite admits a single
// writer, and the audit store relies on the pool as its one access
// point: Take blocks while another goroutine holds the connection, so
// concurrent inserts and queries queue rather than race. Callers that
// only read may ask for more connections.
//
//	pool, err := sqlitepool.Open(sqlitepool.Config{
//	    Path:   "/home/user/.cafelua/audit.db",
//	    Logger: logger,
//	    OnConnect: func(conn *sqlite.Conn) error {
//	        return sqlitex.ExecuteScript(conn, schema, nil)
//	    },
//	})
//
// Stores write SQL directly with sqlitex.Execute; there is no query
// builder.
package sqlitepool
