// Copyright 2026 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides shared test helpers for Loom packages.
//
// [RequireReceive], [RequireSend], and [RequireClosed] encapsulate the
// timeout safety valve pattern (select with time.After fallback) so
// that individual tests do not need direct time.After calls. These are
// the only place in the test suite where real wall-clock timeouts are
// used; everything else goes through lib/clock.
//
// [UniqueID] generates monotonically increasing identifiers for test
// disambiguation. Use it instead of time.Now() when tests need unique
// workspace IDs, document IDs, or room names.
//
// All helpers call t.Fatalf on failure rather than returning errors,
// since test setup failures are not recoverable.
//
// This package has no Loom-internal dependencies.
package testutil
