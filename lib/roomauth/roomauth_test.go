// Copyright 2026 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

package roomauth

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"testing"

	"github.com/loom-foundation/loom/lib/scopekey"
)

func randomKey(t *testing.T) [scopekey.KeySize]byte {
	t.Helper()
	var key [scopekey.KeySize]byte
	if _, err := rand.Read(key[:]); err != nil {
		t.Fatalf("rand.Read: %v", err)
	}
	return key
}

func TestTokenAgreement(t *testing.T) {
	key := randomKey(t)

	// Same key, same room: identical tokens, every time. This is
	// what lets two clients that only share the invite secret agree
	// on admission.
	if ComputeToken(key, "room-1") != ComputeToken(key, "room-1") {
		t.Error("same inputs produced different tokens")
	}
}

func TestTokenSeparation(t *testing.T) {
	// Random keys, not fixed vectors: any pair of distinct keys or
	// rooms must produce distinct tokens.
	for i := 0; i < 32; i++ {
		keyA := randomKey(t)
		keyB := randomKey(t)

		if ComputeToken(keyA, "room-1") == ComputeToken(keyB, "room-1") {
			t.Fatal("distinct keys produced the same token")
		}
		if ComputeToken(keyA, "room-1") == ComputeToken(keyA, "room-2") {
			t.Fatal("distinct rooms produced the same token")
		}
	}
}

func TestTokenFormat(t *testing.T) {
	raw, err := base64.StdEncoding.DecodeString(ComputeToken(randomKey(t), "room-1"))
	if err != nil {
		t.Fatalf("token is not valid base64: %v", err)
	}
	if len(raw) != 32 {
		t.Errorf("decoded token length = %d, want 32 (HMAC-SHA256)", len(raw))
	}
}

func TestFirstWriteWins(t *testing.T) {
	registry := NewRegistry()
	tokenA := ComputeToken(randomKey(t), "room-1")
	tokenB := ComputeToken(randomKey(t), "room-1")

	// First presented token registers and admits.
	if err := registry.Admit("room-1", tokenA); err != nil {
		t.Fatalf("first Admit: %v", err)
	}
	if !registry.Registered("room-1") {
		t.Fatal("room not registered after first admit")
	}

	// Same token again: admitted.
	if err := registry.Admit("room-1", tokenA); err != nil {
		t.Errorf("Admit with matching token: %v", err)
	}

	// Different token: rejected, registration unchanged.
	if err := registry.Admit("room-1", tokenB); !errors.Is(err, ErrTokenMismatch) {
		t.Errorf("Admit with different token: got %v, want ErrTokenMismatch", err)
	}
	if err := registry.Admit("room-1", tokenA); err != nil {
		t.Errorf("original token still admitted after mismatch attempt: %v", err)
	}
}

func TestTokenRequired(t *testing.T) {
	registry := NewRegistry()
	token := ComputeToken(randomKey(t), "room-1")

	if err := registry.Admit("room-1", token); err != nil {
		t.Fatalf("Admit: %v", err)
	}
	if err := registry.Admit("room-1", ""); !errors.Is(err, ErrTokenRequired) {
		t.Errorf("token-less join of claimed room: got %v, want ErrTokenRequired", err)
	}
}

func TestOpenRoomAdmitsWithoutToken(t *testing.T) {
	registry := NewRegistry()

	// A fresh room with no registration admits token-less joins and
	// stays unregistered.
	if err := registry.Admit("room-1", ""); err != nil {
		t.Fatalf("token-less join of fresh room: %v", err)
	}
	if registry.Registered("room-1") {
		t.Error("token-less join must not register the room")
	}
}

func TestClear(t *testing.T) {
	registry := NewRegistry()
	tokenA := ComputeToken(randomKey(t), "room-1")
	tokenB := ComputeToken(randomKey(t), "room-1")

	if err := registry.Admit("room-1", tokenA); err != nil {
		t.Fatalf("Admit: %v", err)
	}
	registry.Clear("room-1")

	// After teardown the room is fresh: a new token can claim it.
	if err := registry.Admit("room-1", tokenB); err != nil {
		t.Errorf("Admit after Clear: %v", err)
	}
}
