// Copyright 2026 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

// Package sqlitepool provides the SQLite connection pool used by the
// relay daemon's durable store.
//
// It wraps zombiezen.com/go/sqlite with relay-appropriate defaults:
// WAL journal mode so sync reads never block envelope writes, NORMAL
// synchronous for process-crash durability without fsync-per-commit
// overhead, and a busy timeout so concurrent room writers queue instead
// of failing with SQLITE_BUSY.
//
// The pool is built on zombiezen's sqlitex.Pool. Callers [Pool.Take] a
// connection, perform work, and [Pool.Put] it back. Connections are NOT
// safe for concurrent use — each goroutine must hold its own connection
// for the duration of its work.
//
// The package is intentionally thin: it applies standard pragmas and
// exposes the underlying zombiezen types directly. The store writes
// SQL with sqlitex.Execute and manages its own transactions; there is
// no query-builder layer on top.
package sqlitepool
