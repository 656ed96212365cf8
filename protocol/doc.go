// Copyright 2026 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

// Package protocol defines the wire format spoken between a Loom client
// session and the relay daemon.
//
// Each frame is a 5-byte header (1 byte type + 4 byte big-endian
// payload length) followed by a deterministically encoded CBOR body.
// Frames from multiple rooms are multiplexed over a single connection,
// so every room-scoped body carries its room identifier explicitly.
//
// The relay never inspects envelope bytes beyond routing and storage:
// encrypted state and update payloads are opaque at this layer.
package protocol
