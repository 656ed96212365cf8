// Copyright 2026 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

package testutil

import (
	"fmt"
	"sync/atomic"
)

var uniqueCounter atomic.Uint64

// UniqueID returns a string of the form "prefix-N" where N is a
// monotonically increasing integer. Use this instead of time.Now()
// when tests need unique workspace IDs, document IDs, or room names
// that must be distinguishable within a shared relay.
//
//	workspaceID := testutil.UniqueID("ws")  // "ws-1", "ws-2", ...
func UniqueID(prefix string) string {
	return fmt.Sprintf("%s-%d", prefix, uniqueCounter.Add(1))
}
