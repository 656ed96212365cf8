// Copyright 2026 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

// Package envelope provides authenticated encryption for the opaque
// payloads that cross the relay boundary: replicated document state
// snapshots, individual update deltas, and structured records stored
// at rest under a narrower scope key.
//
// The wire format is nonce(12 bytes) || ciphertext, sealed with
// ChaCha20-Poly1305 under a 256-bit scope key. Seal generates a fresh
// random nonce on every call; Open is the exact inverse and fails
// closed — tampering, truncation, or a wrong key all produce the same
// ErrDecryptionFailed, never partial plaintext and never a hint about
// which check failed.
//
// For text-based channels, SealToString and OpenFromString wrap the
// binary format in standard base64. The base64 handling lives here so
// callers pass []byte in and get []byte out at every boundary.
package envelope
