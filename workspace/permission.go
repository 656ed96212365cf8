// Copyright 2026 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

package workspace

import (
	"errors"
	"fmt"
)

// Permission is a member's access level within a workspace.
type Permission string

// Permission levels, lowest to highest.
const (
	PermissionViewer Permission = "viewer"
	PermissionEditor Permission = "editor"
	PermissionOwner  Permission = "owner"
)

// Valid reports whether p is one of the three defined levels.
func (p Permission) Valid() bool {
	switch p {
	case PermissionViewer, PermissionEditor, PermissionOwner:
		return true
	}
	return false
}

// PendingDemotion records another owner's request to lower this
// member's permission. It sits on the member's own entry until the
// member explicitly accepts or declines — there is no timeout and no
// silent application, since this protects the workspace founder from
// being demoted without consent.
type PendingDemotion struct {
	// RequestedPermission is the level the requester wants this
	// member lowered to.
	RequestedPermission Permission `json:"requestedPermission" cbor:"requestedPermission"`

	// RequestedByName is the display name of the requesting owner,
	// for the consent prompt.
	RequestedByName string `json:"requestedByName" cbor:"requestedByName"`

	// RequestedAt is the request time in Unix milliseconds. Also the
	// deduplication key for surfacing the request at most once per
	// session.
	RequestedAt int64 `json:"requestedAt" cbor:"requestedAt"`
}

// PermissionEntry is one member's record in the workspace's replicated
// permission map. The field names are a persisted-state contract —
// the audit log and every deployed client read these exact names, so
// renaming any of them is a migration.
type PermissionEntry struct {
	// Permission is the member's access level.
	Permission Permission `json:"permission" cbor:"permission"`

	// PermissionUpdatedAt is when this entry was last written, in
	// Unix milliseconds. Compared against the local cache's
	// PermissionSetAt by the race guard.
	PermissionUpdatedAt int64 `json:"permissionUpdatedAt" cbor:"permissionUpdatedAt"`

	// PendingDemotion is a not-yet-consented demotion request, if
	// any.
	PendingDemotion *PendingDemotion `json:"pendingDemotion,omitempty" cbor:"pendingDemotion,omitempty"`
}

// LocalState is a device's cached view of its own permission.
type LocalState struct {
	// MyPermission is the cached permission level. Empty until the
	// first replicated entry (or local privileged action) sets it.
	MyPermission Permission

	// PermissionSetAt is the Unix-millisecond time of the last LOCAL
	// privileged action that set MyPermission — re-joining through a
	// higher-permission invite, accepting a demotion. It is never
	// set by replication. Zero means no local privileged action has
	// occurred.
	PermissionSetAt int64
}

// Roster is a snapshot of the workspace's replicated permission map,
// keyed by member public key.
type Roster map[string]PermissionEntry

// Errors returned by the membership workflows.
var (
	ErrSoleMember    = errors.New("workspace: sole member may not leave, only delete the workspace")
	ErrLastOwner     = errors.New("workspace: last owner may not leave before transferring ownership")
	ErrNotOwner      = errors.New("workspace: operation requires owner permission")
	ErrUnknownMember = errors.New("workspace: member not present in roster")
	ErrStateLagging  = errors.New("workspace: local cached permission disagrees with replicated entry, retry with force")
	ErrNoPending     = errors.New("workspace: no pending demotion to act on")
)

// TransferOwnership returns the entry that makes target an owner,
// written as of now (Unix milliseconds). The caller replicates the
// returned entry into the map; the transferring owner is then expected
// to demote themselves or leave. from must currently be an owner in
// the roster and target must exist.
func TransferOwnership(roster Roster, from, target string, now int64) (PermissionEntry, error) {
	fromEntry, ok := roster[from]
	if !ok {
		return PermissionEntry{}, fmt.Errorf("%w: %s", ErrUnknownMember, from)
	}
	if fromEntry.Permission != PermissionOwner {
		return PermissionEntry{}, ErrNotOwner
	}
	targetEntry, ok := roster[target]
	if !ok {
		return PermissionEntry{}, fmt.Errorf("%w: %s", ErrUnknownMember, target)
	}

	targetEntry.Permission = PermissionOwner
	targetEntry.PermissionUpdatedAt = now
	targetEntry.PendingDemotion = nil
	return targetEntry, nil
}

// RequestDemotion returns the entry that places a pending demotion
// request on target's record. The target keeps their current
// permission until they accept. from must be an owner.
func RequestDemotion(roster Roster, from, target string, requested Permission, requestedByName string, now int64) (PermissionEntry, error) {
	fromEntry, ok := roster[from]
	if !ok {
		return PermissionEntry{}, fmt.Errorf("%w: %s", ErrUnknownMember, from)
	}
	if fromEntry.Permission != PermissionOwner {
		return PermissionEntry{}, ErrNotOwner
	}
	targetEntry, ok := roster[target]
	if !ok {
		return PermissionEntry{}, fmt.Errorf("%w: %s", ErrUnknownMember, target)
	}
	if !requested.Valid() {
		return PermissionEntry{}, fmt.Errorf("workspace: invalid requested permission %q", requested)
	}

	targetEntry.PendingDemotion = &PendingDemotion{
		RequestedPermission: requested,
		RequestedByName:     requestedByName,
		RequestedAt:         now,
	}
	return targetEntry, nil
}
