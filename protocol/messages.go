// Copyright 2026 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

package protocol

// Close codes. 4403 mirrors the policy-violation range used by
// WebSocket-era deployments; clients key auth handling off it.
const (
	// CloseCodeNormal is a clean shutdown.
	CloseCodeNormal = 1000

	// CloseCodePolicyViolation is sent when room admission fails. The
	// accompanying reason distinguishes a token mismatch from a missing
	// token.
	CloseCodePolicyViolation = 4403
)

// Profile is the joining member's display identity, relayed verbatim to
// peers. Never authenticated — trust in a room comes from the auth
// token, not the profile.
type Profile struct {
	Name  string `cbor:"name" json:"name"`
	Color string `cbor:"color,omitempty" json:"color,omitempty"`
}

// Join requests membership in a room. AuthToken is the HMAC room token;
// empty means an unauthenticated join, which only an unregistered room
// admits.
type Join struct {
	RoomID    string  `cbor:"roomId" json:"roomId"`
	Profile   Profile `cbor:"profile" json:"profile"`
	AuthToken string  `cbor:"authToken,omitempty" json:"authToken,omitempty"`
}

// Joined acknowledges a successful join.
type Joined struct {
	RoomID string `cbor:"roomId" json:"roomId"`

	// Peers is the number of other connections in the room at join
	// time.
	Peers int `cbor:"peers" json:"peers"`

	// Persisted reports whether durable storage is already enabled for
	// the room.
	Persisted bool `cbor:"persisted" json:"persisted"`
}

// EnablePersistence opts a room into durable storage.
type EnablePersistence struct {
	RoomID string `cbor:"roomId" json:"roomId"`
}

// PersistenceEnabled acknowledges persistence activation. Idempotent:
// re-enabling an already-persistent room acknowledges again.
type PersistenceEnabled struct {
	RoomID string `cbor:"roomId" json:"roomId"`
}

// Store carries one sealed envelope for durable storage. Exactly one of
// EncryptedState and EncryptedUpdate is set: a state snapshot replaces
// the previous snapshot, an update appends to the document's update
// log.
type Store struct {
	RoomID string `cbor:"roomId" json:"roomId"`
	DocID  string `cbor:"id" json:"id"`

	EncryptedState  []byte `cbor:"encryptedState,omitempty" json:"encryptedState,omitempty"`
	EncryptedUpdate []byte `cbor:"encryptedUpdate,omitempty" json:"encryptedUpdate,omitempty"`
}

// SyncRequest asks for everything the relay holds for one document.
// RequestID correlates the response; the relay echoes it back verbatim.
type SyncRequest struct {
	RoomID    string `cbor:"roomId" json:"roomId"`
	DocID     string `cbor:"id" json:"id"`
	RequestID string `cbor:"requestId" json:"requestId"`
}

// SyncResponse answers a SyncRequest. A document with nothing stored
// produces a response with no state and no updates — the response is
// always sent, so the requester never waits on an absent reply for a
// reachable relay.
type SyncResponse struct {
	RoomID    string `cbor:"roomId" json:"roomId"`
	DocID     string `cbor:"id" json:"id"`
	RequestID string `cbor:"requestId" json:"requestId"`

	EncryptedState   []byte   `cbor:"encryptedState,omitempty" json:"encryptedState,omitempty"`
	EncryptedUpdates [][]byte `cbor:"encryptedUpdates,omitempty" json:"encryptedUpdates,omitempty"`
}

// Close announces connection termination.
type Close struct {
	Code   int    `cbor:"code" json:"code"`
	Reason string `cbor:"reason,omitempty" json:"reason,omitempty"`
}

// ErrorInfo reports a non-fatal protocol error, such as a store for a
// room the connection never joined.
type ErrorInfo struct {
	Code    string `cbor:"code" json:"code"`
	Message string `cbor:"message" json:"message"`
}
