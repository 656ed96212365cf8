// Copyright 2026 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock provides an injectable time abstraction for testability.
//
// Production code accepts a Clock parameter instead of calling time.Now
// or time.After directly. Real() provides standard library behavior;
// Fake() provides a deterministic clock that advances only when Advance
// is called.
//
// The session's sync-request timeout is the main consumer: tests advance
// a FakeClock past the deadline instead of sleeping five real seconds.
//
// When a goroutine registers a timer on a FakeClock via After, use
// WaitForTimers to block until the registration has happened before
// calling Advance. This removes the race between timer registration and
// time advancement.
package clock
