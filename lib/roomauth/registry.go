// Copyright 2026 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

package roomauth

import (
	"crypto/subtle"
	"errors"
	"sync"
)

// Errors returned by Registry.Admit. The relay maps these onto a
// policy-violation close with the matching reason string.
var (
	ErrTokenMismatch = errors.New("roomauth: presented token does not match registered token")
	ErrTokenRequired = errors.New("roomauth: room requires an auth token")
)

// Registry is the relay-side admission table: roomID -> token,
// first-write-wins. Whichever token arrives first for a room wins for
// the table's lifetime. This is intentional — it prevents a late,
// malicious client from re-registering a different token — but it also
// means all legitimate clients must share the same derivation, or the
// losing client is locked out until the room is cleared.
//
// Registry is safe for concurrent use.
type Registry struct {
	mu     sync.Mutex
	tokens map[string]string
}

// NewRegistry creates an empty admission table.
func NewRegistry() *Registry {
	return &Registry{tokens: make(map[string]string)}
}

// Admit decides whether a connection presenting token may join roomID.
//
//   - Fresh room, token presented: register the token, admit.
//   - Fresh room, no token: admit (the room stays open until some
//     client registers a token).
//   - Registered room, matching token: admit.
//   - Registered room, different token: ErrTokenMismatch.
//   - Registered room, no token: ErrTokenRequired.
//
// Token comparison is constant-time.
func (r *Registry) Admit(roomID, token string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	registered, exists := r.tokens[roomID]
	if !exists {
		if token != "" {
			r.tokens[roomID] = token
		}
		return nil
	}

	if token == "" {
		return ErrTokenRequired
	}
	if subtle.ConstantTimeCompare([]byte(registered), []byte(token)) != 1 {
		return ErrTokenMismatch
	}
	return nil
}

// Registered reports whether a token has been registered for roomID.
func (r *Registry) Registered(roomID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, exists := r.tokens[roomID]
	return exists
}

// Clear removes the registration for roomID. Used on room teardown;
// this is the only recovery path for a legitimate client locked out by
// a divergent registration.
func (r *Registry) Clear(roomID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tokens, roomID)
}
