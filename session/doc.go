// Copyright 2026 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

// Package session implements the client side of the relay protocol:
// one connection to a relay, joined to the workspace room and to
// per-document rooms, with every document payload sealed before it
// leaves the process.
//
// A session holds the workspace secret only as [scopekey.Material];
// per-scope keys are derived on demand and the relay never sees
// plaintext. A session opened without a secret runs in ephemeral mode:
// it joins open rooms without auth tokens and refuses every persistence
// operation, which is the degraded behavior for a member who received a
// workspace link without its secret.
//
// Sessions do not reconnect on their own. An auth rejection in
// particular ([ErrAuthRejected]) is terminal: retrying with the same
// token would be refused identically, and a tight retry loop against a
// relay once melted a deployment's logs. The caller decides when to
// dial again; a fresh Connect re-registers every room and token exactly
// as the first one did.
package session
