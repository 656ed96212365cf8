// Copyright 2026 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

package roomauth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"

	"github.com/loom-foundation/loom/lib/scopekey"
)

// tokenContext domain-separates room admission tokens from any other
// MAC computed under the same scope key.
const tokenContext = "room-auth:"

// Close reasons accompanying the relay's policy-violation close
// (protocol.CloseCodePolicyViolation). These strings are a wire
// contract with every deployed client; do not rename.
const (
	// ReasonTokenMismatch: a token was presented but does not match
	// the room's registered token.
	ReasonTokenMismatch = "auth_token_mismatch"

	// ReasonTokenRequired: the room has a registered token and the
	// connection presented none.
	ReasonTokenRequired = "room_requires_auth"
)

// ComputeToken computes the admission token for a room under a scope
// key: base64(HMAC-SHA256(key, "room-auth:" + roomID)). Deterministic
// per (key, roomID) pair. The scope key must be the workspace's or
// document's long-lived scope key, never a transient per-session key —
// otherwise two clients sharing only the invite-derived secret would
// compute different tokens and the second one in would be locked out.
func ComputeToken(key [scopekey.KeySize]byte, roomID string) string {
	mac := hmac.New(sha256.New, key[:])
	mac.Write([]byte(tokenContext))
	mac.Write([]byte(roomID))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
