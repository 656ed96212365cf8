// Copyright 2026 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import "time"

// Clock abstracts time operations for testability. Production code
// injects Real(); tests inject Fake() with deterministic time control.
//
// Every production function that calls time.Now or time.After should
// accept a Clock parameter (or be a method on a struct with a Clock
// field) instead of calling the time package directly. The interface
// carries only the operations the timeout and timestamping paths use.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// After returns a channel that receives the current time after
	// duration d elapses. Equivalent to time.After. If d <= 0, the
	// channel receives immediately.
	After(d time.Duration) <-chan time.Time
}
