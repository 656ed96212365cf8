// Copyright 2026 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

// Package invite packages a workspace secret into a shareable invite
// string and unpacks it on the receiving device.
//
// The secret is encrypted with age's scrypt recipient under an invite
// passphrase, base64-encoded, and prefixed with "loom-invite:" so
// pasted strings are recognizable. The passphrase travels out of band
// (spoken, messaged separately); the invite string itself is safe to
// send over any channel, including through the relay.
package invite
