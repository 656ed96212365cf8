// Copyright 2026 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec provides Loom's standard CBOR encoding.
//
// Encoding uses Core Deterministic Encoding (RFC 8949 §4.2): sorted map
// keys, smallest integer encoding, no indefinite-length items. The same
// logical data always produces identical bytes. This matters for Loom's
// wire protocol — relay and clients on different platforms must agree
// byte-for-byte on frame payloads — and for persisted permission
// entries, where stable bytes make change detection trivial.
//
// Decoding accepts standard CBOR and silently ignores unknown fields
// for forward compatibility.
package codec
