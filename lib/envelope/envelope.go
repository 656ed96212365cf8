// Copyright 2026 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

package envelope

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"

	"github.com/loom-foundation/loom/lib/scopekey"
)

// NonceSize is the size of the random nonce prepended to every
// envelope. Part of the wire format.
const NonceSize = chacha20poly1305.NonceSize

// Overhead is the number of bytes an envelope adds on top of the
// plaintext: the nonce plus the Poly1305 authentication tag.
const Overhead = NonceSize + chacha20poly1305.Overhead

// ErrDecryptionFailed is returned by Open for every failure mode:
// truncated input, authentication tag mismatch, wrong key. One generic
// error by design — distinguishing the causes would hand an attacker
// an oracle. Data that fails to open is "not ours or not yet
// readable", never retried with the same key.
var ErrDecryptionFailed = errors.New("envelope: decryption failed")

// Seal encrypts plaintext under the scope key and returns
// nonce || ciphertext. A fresh random nonce is generated on every
// call; nonces are never reused for a given key.
func Seal(key [scopekey.KeySize]byte, plaintext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(key[:])
	if err != nil {
		return nil, fmt.Errorf("envelope: creating cipher: %w", err)
	}

	sealed := make([]byte, NonceSize, NonceSize+len(plaintext)+chacha20poly1305.Overhead)
	if _, err := rand.Read(sealed[:NonceSize]); err != nil {
		return nil, fmt.Errorf("envelope: generating nonce: %w", err)
	}

	return aead.Seal(sealed, sealed[:NonceSize], plaintext, nil), nil
}

// Open decrypts an envelope produced by Seal with the same key.
// Returns ErrDecryptionFailed on any tampering, truncation, or key
// mismatch — never partial plaintext.
func Open(key [scopekey.KeySize]byte, sealed []byte) ([]byte, error) {
	if len(sealed) < Overhead {
		return nil, ErrDecryptionFailed
	}

	aead, err := chacha20poly1305.New(key[:])
	if err != nil {
		return nil, fmt.Errorf("envelope: creating cipher: %w", err)
	}

	plaintext, err := aead.Open(nil, sealed[:NonceSize], sealed[NonceSize:], nil)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	return plaintext, nil
}

// SealToString seals plaintext and encodes the envelope as standard
// base64 for text-based transports and JSON state fields.
func SealToString(key [scopekey.KeySize]byte, plaintext []byte) (string, error) {
	sealed, err := Seal(key, plaintext)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// OpenFromString decodes a base64 envelope and opens it. Malformed
// base64 is reported as ErrDecryptionFailed like every other failure.
func OpenFromString(key [scopekey.KeySize]byte, encoded string) ([]byte, error) {
	sealed, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	return Open(key, sealed)
}
