// Copyright 2026 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

// Package relay implements the Loom relay daemon: the untrusted
// rendezvous point that forwards sealed envelopes between workspace
// members and, for rooms that opt in, stores them durably.
//
// The relay is zero-trust by construction. It never holds a workspace
// secret or a derived key; every document payload it routes or stores
// is a sealed envelope it cannot open. The only credential it checks is
// the per-room HMAC auth token, and even that it merely compares — the
// first token presented for a room becomes the room's token, and later
// joins must match it ([roomauth.Registry]).
//
// One TCP listener accepts connections; each connection gets a serve
// goroutine that multiplexes frames for any number of rooms. Durable
// storage ([Store]) keeps one replaceable state snapshot plus an
// append-only update log per document, zstd-compressed at rest.
package relay
