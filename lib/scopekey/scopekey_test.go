// Copyright 2026 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

package scopekey

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"testing"

	"github.com/loom-foundation/loom/lib/secret"
)

func passwordMaterial(t *testing.T, passphrase string) *Material {
	t.Helper()
	buffer, err := secret.NewFromString(passphrase)
	if err != nil {
		t.Fatalf("NewFromString: %v", err)
	}
	t.Cleanup(func() { buffer.Close() })
	return Password(buffer)
}

func rawKeyMaterial(t *testing.T) *Material {
	t.Helper()
	raw := make([]byte, KeySize)
	if _, err := rand.Read(raw); err != nil {
		t.Fatalf("rand.Read: %v", err)
	}
	buffer, err := secret.NewFromBytes(raw)
	if err != nil {
		t.Fatalf("NewFromBytes: %v", err)
	}
	t.Cleanup(func() { buffer.Close() })
	return RawKey(buffer)
}

func TestDeriveDeterministic(t *testing.T) {
	ctx := context.Background()

	// Two independent derivers with independently constructed but
	// equal material must agree bit-for-bit. This is the contract
	// heterogeneous clients depend on.
	first := NewDeriver()
	second := NewDeriver()
	defer first.Close()
	defer second.Close()

	scopeID := WorkspaceScope("ws-42")

	keyA, err := first.Derive(ctx, passwordMaterial(t, "correct horse"), scopeID)
	if err != nil {
		t.Fatalf("Derive: %v", err)
	}
	keyB, err := second.Derive(ctx, passwordMaterial(t, "correct horse"), scopeID)
	if err != nil {
		t.Fatalf("Derive: %v", err)
	}
	if keyA != keyB {
		t.Error("same secret and scope produced different keys across derivers")
	}
}

func TestDeriveKnownVector(t *testing.T) {
	// Pin the password derivation so an accidental change to the
	// KDF, iteration count, or salt construction fails loudly
	// instead of silently locking every existing workspace out.
	// PBKDF2-HMAC-SHA256("swordfish", "workspace-workspace:alpha", 100000, 32).
	ctx := context.Background()
	deriver := NewDeriver()
	defer deriver.Close()

	key, err := deriver.Derive(ctx, passwordMaterial(t, "swordfish"), WorkspaceScope("alpha"))
	if err != nil {
		t.Fatalf("Derive: %v", err)
	}

	want, err := hex.DecodeString("6073bac651cce7e22eec2f34ae5f7f531867e7638e081b58b07078aec32d2d10")
	if err != nil {
		t.Fatalf("decoding expected vector: %v", err)
	}
	if !bytes.Equal(key[:], want) {
		t.Errorf("derived key = %x, want %x", key[:], want)
	}
}

func TestScopeSeparation(t *testing.T) {
	ctx := context.Background()
	deriver := NewDeriver()
	defer deriver.Close()

	material := passwordMaterial(t, "shared secret")

	workspaceKey, err := deriver.Derive(ctx, material, WorkspaceScope("ws-1"))
	if err != nil {
		t.Fatalf("Derive workspace: %v", err)
	}
	documentKey, err := deriver.Derive(ctx, material, DocumentScope("ws-1"))
	if err != nil {
		t.Fatalf("Derive document: %v", err)
	}
	if workspaceKey == documentKey {
		t.Error("different scopes produced the same key")
	}
}

func TestRawKeyPathDiffersFromPasswordPath(t *testing.T) {
	ctx := context.Background()
	deriver := NewDeriver()
	defer deriver.Close()

	raw := make([]byte, KeySize)
	copy(raw, "0123456789abcdef0123456789abcdef")

	passwordBuffer, err := secret.NewFromString(string(raw))
	if err != nil {
		t.Fatalf("NewFromString: %v", err)
	}
	defer passwordBuffer.Close()
	rawBuffer, err := secret.NewFromBytes(raw)
	if err != nil {
		t.Fatalf("NewFromBytes: %v", err)
	}
	defer rawBuffer.Close()

	fromPassword, err := deriver.Derive(ctx, Password(passwordBuffer), DocumentScope("d"))
	if err != nil {
		t.Fatalf("Derive password: %v", err)
	}
	fromRaw, err := deriver.Derive(ctx, RawKey(rawBuffer), DocumentScope("d"))
	if err != nil {
		t.Fatalf("Derive raw: %v", err)
	}
	if fromPassword == fromRaw {
		t.Error("password and raw-key paths must not collide on identical bytes")
	}
}

func TestDeriveNoSecret(t *testing.T) {
	deriver := NewDeriver()
	defer deriver.Close()

	_, err := deriver.Derive(context.Background(), nil, WorkspaceScope("ws"))
	if !errors.Is(err, ErrNoSecret) {
		t.Errorf("Derive(nil material): got %v, want ErrNoSecret", err)
	}
}

func TestDeriveCancelledContext(t *testing.T) {
	deriver := NewDeriver()
	defer deriver.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := deriver.Derive(ctx, passwordMaterial(t, "pw"), WorkspaceScope("ws"))
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Derive with cancelled ctx: got %v, want context.Canceled", err)
	}
}

func TestCacheHit(t *testing.T) {
	ctx := context.Background()
	deriver := NewDeriver()
	defer deriver.Close()

	material := rawKeyMaterial(t)

	first, err := deriver.Derive(ctx, material, DocumentScope("doc-1"))
	if err != nil {
		t.Fatalf("Derive: %v", err)
	}
	second, err := deriver.Derive(ctx, material, DocumentScope("doc-1"))
	if err != nil {
		t.Fatalf("Derive cached: %v", err)
	}
	if first != second {
		t.Error("cache returned a different key")
	}
	if len(deriver.cache) != 1 {
		t.Errorf("cache size = %d, want 1", len(deriver.cache))
	}
}

func TestInvalidate(t *testing.T) {
	ctx := context.Background()
	deriver := NewDeriver()
	defer deriver.Close()

	material := rawKeyMaterial(t)
	other := rawKeyMaterial(t)

	if _, err := deriver.Derive(ctx, material, DocumentScope("doc-1")); err != nil {
		t.Fatalf("Derive: %v", err)
	}
	if _, err := deriver.Derive(ctx, other, DocumentScope("doc-1")); err != nil {
		t.Fatalf("Derive: %v", err)
	}

	deriver.Invalidate(material)
	if len(deriver.cache) != 1 {
		t.Errorf("cache size after Invalidate = %d, want 1 (other material's entry)", len(deriver.cache))
	}
}
