// Copyright 2026 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

package workspace

// Outcome classifies what a reconciliation pass did with a remote
// entry.
type Outcome int

const (
	// OutcomeAdopted: no permission was cached locally, so the
	// remote value was adopted unconditionally (first sync). No
	// notification — there was no prior value to transition from.
	OutcomeAdopted Outcome = iota

	// OutcomeNoChange: the remote permission equals the cached one.
	OutcomeNoChange

	// OutcomeRejectedStale: the race guard rejected the remote entry
	// because it predates a local privileged action. Intentionally
	// silent — logged for diagnostics, never surfaced as an error.
	OutcomeRejectedStale

	// OutcomeApplied: the cached permission changed to the remote
	// value. Exactly one notification per such transition.
	OutcomeApplied
)

// String returns the outcome name for logging.
func (o Outcome) String() string {
	switch o {
	case OutcomeAdopted:
		return "adopted"
	case OutcomeNoChange:
		return "no_change"
	case OutcomeRejectedStale:
		return "rejected_stale"
	case OutcomeApplied:
		return "applied"
	}
	return "unknown"
}

// Reconcile merges one remote permission entry into the local cached
// state and reports what happened. Pure: no I/O, no clocks, no hidden
// state — the event plumbing lives in Reconciler.
//
// The rules, in order:
//
//  1. No local permission cached: adopt the remote value.
//  2. Remote equals local: no-op (idempotent under replay).
//  3. A local privileged action is recorded (PermissionSetAt > 0) and
//     the remote write predates it: reject. The remote value is stale
//     relative to something this device just did; applying it would
//     clobber the local upgrade during the window before the device's
//     own replication write lands.
//  4. Otherwise: apply the remote value.
//
// Ties in rule 3 go to the remote side: a remote write stamped exactly
// at PermissionSetAt is applied, not rejected.
func Reconcile(local LocalState, remote PermissionEntry) (LocalState, Outcome) {
	if local.MyPermission == "" {
		local.MyPermission = remote.Permission
		return local, OutcomeAdopted
	}

	if remote.Permission == local.MyPermission {
		return local, OutcomeNoChange
	}

	if local.PermissionSetAt > 0 && remote.PermissionUpdatedAt < local.PermissionSetAt {
		return local, OutcomeRejectedStale
	}

	local.MyPermission = remote.Permission
	return local, OutcomeApplied
}
