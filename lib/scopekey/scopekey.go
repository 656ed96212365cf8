// Copyright 2026 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

package scopekey

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/zeebo/blake3"
	"golang.org/x/crypto/hkdf"
	"golang.org/x/crypto/pbkdf2"

	"github.com/loom-foundation/loom/lib/secret"
)

// KeySize is the size of every derived scope key in bytes (256 bits).
const KeySize = 32

// pbkdf2Iterations is the PBKDF2 work factor for password-derived
// keys. Changing this breaks key agreement with every existing client,
// so it is part of the wire compatibility contract, not a tunable.
const pbkdf2Iterations = 100_000

// saltPrefix domain-separates Loom's key derivation from any other use
// of the same secret material. The full salt (PBKDF2) or info string
// (HKDF) is saltPrefix + scopeID.
const saltPrefix = "workspace-"

// ErrNoSecret is returned when key derivation is requested but no
// secret material is available. This is a recoverable state, not a
// failure: a device that joined through a bare invite may not have
// received the workspace secret yet. Callers should degrade to an
// unauthenticated session and retry once the secret arrives.
var ErrNoSecret = errors.New("scopekey: no secret material available")

// Scope identifier constructors. Scope IDs are stable strings that
// feed the derivation salt; the prefixes keep key domains disjoint.

// WorkspaceScope returns the scope ID for a workspace's metadata room.
func WorkspaceScope(workspaceID string) string { return "workspace:" + workspaceID }

// DocumentScope returns the scope ID for a single document.
func DocumentScope(documentID string) string { return "document:" + documentID }

// Material is workspace secret material plus what kind of material it
// is. Passwords take the expensive PBKDF2 path; raw keys take the
// cheap HKDF path. The distinction is fixed at construction because it
// changes the derived bytes — a password and a raw key with identical
// bytes produce different scope keys.
type Material struct {
	buffer      *secret.Buffer
	highEntropy bool
}

// Password wraps a low-entropy passphrase as derivation material.
func Password(buffer *secret.Buffer) *Material {
	return &Material{buffer: buffer}
}

// RawKey wraps high-entropy key bytes as derivation material.
func RawKey(buffer *secret.Buffer) *Material {
	return &Material{buffer: buffer, highEntropy: true}
}

// fingerprint identifies the secret material by content for cache
// keying. BLAKE3 here is an identity hash, not a derivation step — the
// derived keys never depend on it.
func (m *Material) fingerprint() [32]byte {
	return blake3.Sum256(m.buffer.Bytes())
}

// cacheKey identifies one memoized derivation result.
type cacheKey struct {
	secretID [32]byte
	scopeID  string
}

// Deriver derives and memoizes scope keys. It is an owned object with
// a defined lifecycle, not a package global, so one process can run
// multiple workspace sessions with independent caches and tear each
// down cleanly.
//
// Deriver is safe for concurrent use. Derivations are serialized, so
// two goroutines requesting the same uncached scope do not both pay
// the PBKDF2 cost.
type Deriver struct {
	mu    sync.Mutex
	cache map[cacheKey][KeySize]byte
}

// NewDeriver creates an empty Deriver.
func NewDeriver() *Deriver {
	return &Deriver{cache: make(map[cacheKey][KeySize]byte)}
}

// Derive returns the scope key for (material, scopeID). The result is
// deterministic: identical inputs yield identical keys on every
// platform. Results are cached by (secret fingerprint, scopeID).
//
// Returns ErrNoSecret if material is nil. PBKDF2 derivation is
// CPU-expensive by design; ctx is checked before the work starts so
// cancelled callers do not pay for it.
func (d *Deriver) Derive(ctx context.Context, material *Material, scopeID string) ([KeySize]byte, error) {
	var key [KeySize]byte

	if material == nil || material.buffer == nil {
		return key, ErrNoSecret
	}
	if scopeID == "" {
		return key, fmt.Errorf("scopekey: scope ID is required")
	}
	if err := ctx.Err(); err != nil {
		return key, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	entry := cacheKey{secretID: material.fingerprint(), scopeID: scopeID}
	if cached, ok := d.cache[entry]; ok {
		return cached, nil
	}

	derived, err := deriveUncached(material, scopeID)
	if err != nil {
		return key, err
	}

	d.cache[entry] = derived
	return derived, nil
}

// Invalidate drops every cached key derived from the given material.
// Call this when a member's effective secret changes (for example
// after an ownership-transfer re-key).
func (d *Deriver) Invalidate(material *Material) {
	if material == nil || material.buffer == nil {
		return
	}
	secretID := material.fingerprint()

	d.mu.Lock()
	defer d.mu.Unlock()
	for entry := range d.cache {
		if entry.secretID == secretID {
			delete(d.cache, entry)
		}
	}
}

// Close zeros and drops all cached keys. The Deriver must not be used
// afterwards.
func (d *Deriver) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for entry := range d.cache {
		d.cache[entry] = [KeySize]byte{}
		delete(d.cache, entry)
	}
	d.cache = nil
}

// deriveUncached performs the actual key derivation.
func deriveUncached(material *Material, scopeID string) ([KeySize]byte, error) {
	var key [KeySize]byte
	domain := []byte(saltPrefix + scopeID)

	if material.highEntropy {
		reader := hkdf.New(sha256.New, material.buffer.Bytes(), nil, domain)
		if _, err := io.ReadFull(reader, key[:]); err != nil {
			return key, fmt.Errorf("scopekey: HKDF expand: %w", err)
		}
		return key, nil
	}

	derived := pbkdf2.Key(material.buffer.Bytes(), domain, pbkdf2Iterations, KeySize, sha256.New)
	copy(key[:], derived)
	secret.Zero(derived)
	return key, nil
}
