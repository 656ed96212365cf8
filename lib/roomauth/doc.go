// Copyright 2026 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

// Package roomauth implements the room admission protocol between
// clients and the zero-trust relay.
//
// A client proves possession of a workspace's scope key by presenting
// a deterministic token: HMAC-SHA256 of the room ID under the scope
// key, base64-encoded. The relay never sees the key — the token is a
// one-way function of it — yet every client holding the same key
// computes the same token for the same room, so independently launched
// clients converge on admission without coordinating.
//
// The relay side is a first-write-wins registry: the first token
// presented for a room is stored and enforced for the room's lifetime.
// A later client with a different token is rejected (and a malicious
// late client cannot re-register the room); a token-less join of a
// claimed room is likewise rejected. Comparison is timing-safe.
//
// Leaking a token does not disclose the key, but it does allow
// impersonating a member's admission to that one room. Tokens gate
// access only; confidentiality is the envelope codec's job.
package roomauth
