// Copyright 2026 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

// Package scopekey derives symmetric keys from a workspace secret, one
// key per scope. A scope is one specific purpose — the workspace
// metadata room, a single document, an address store — so that
// compromise of one scope's key does not expose the others.
//
// Derivation is deterministic and platform independent: two devices
// holding the same secret and requesting the same scope always obtain
// bit-identical keys. This is the compatibility contract the relay
// admission protocol and the envelope codec both depend on; nothing
// else lets independently launched clients converge on the same room
// token without ever exchanging key material.
//
// Low-entropy passwords go through PBKDF2-HMAC-SHA256 with a
// scope-derived salt; high-entropy raw keys go through HKDF-SHA256
// with a scope-derived info string. Both are intentionally cheap to
// recompute for raw keys and intentionally expensive for passwords,
// so results are memoized per Deriver.
package scopekey
