// Copyright 2026 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

package workspace

import (
	"fmt"
	"log/slog"
	"sync"
)

// NotificationKind distinguishes the two user-facing events the
// reconciler can emit.
type NotificationKind int

const (
	// NotificationPermissionChanged: the member's effective
	// permission transitioned to a new value. Emitted at most once
	// per distinct transition.
	NotificationPermissionChanged NotificationKind = iota

	// NotificationDemotionRequested: another owner requested this
	// member's demotion. Actionable — the member must call
	// AcceptDemotion or DeclineDemotion. Emitted at most once per
	// request (keyed by the request's RequestedAt) per session.
	NotificationDemotionRequested
)

// Notification is a user-facing event produced by a reconciliation
// pass. UI consumers translate these into messages; the reconciler
// itself never blocks on them.
type Notification struct {
	WorkspaceID string
	Kind        NotificationKind

	// Permission is the new level for PermissionChanged
	// notifications.
	Permission Permission

	// Demotion carries the request for DemotionRequested
	// notifications.
	Demotion *PendingDemotion
}

// workspaceTracker is the per-workspace reconciliation state.
type workspaceTracker struct {
	local LocalState

	// lastEntry is the most recent replicated entry observed for the
	// local identity. Basis for the accept/decline write-backs.
	lastEntry PermissionEntry

	// surfacedDemotions records which demotion requests (by
	// RequestedAt) have already produced a notification this
	// session.
	surfacedDemotions map[int64]bool

	subscribers    map[int]func(Notification)
	nextSubscriber int
}

// Reconciler merges replicated permission entries for the local
// identity into locally cached state, one tracker per workspace.
// Passes are serialized: each ApplyRemote runs the rules to completion
// before the next begins, which is what guarantees notifications fire
// at most once per transition. Subscriber callbacks are invoked after
// the pass completes, outside the lock, so a callback may safely call
// back into the reconciler.
type Reconciler struct {
	mu         sync.Mutex
	logger     *slog.Logger
	workspaces map[string]*workspaceTracker
	closed     bool
}

// NewReconciler creates a Reconciler. If logger is nil, slog.Default()
// is used.
func NewReconciler(logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{
		logger:     logger,
		workspaces: make(map[string]*workspaceTracker),
	}
}

// trackerLocked returns the tracker for workspaceID, creating it on
// first use. Must be called with r.mu held.
func (r *Reconciler) trackerLocked(workspaceID string) *workspaceTracker {
	tracker, ok := r.workspaces[workspaceID]
	if !ok {
		tracker = &workspaceTracker{
			surfacedDemotions: make(map[int64]bool),
			subscribers:       make(map[int]func(Notification)),
		}
		r.workspaces[workspaceID] = tracker
	}
	return tracker
}

// OnPermissionChange subscribes to notifications for one workspace.
// The returned function unsubscribes; calling it more than once is
// harmless.
func (r *Reconciler) OnPermissionChange(workspaceID string, fn func(Notification)) (unsubscribe func()) {
	r.mu.Lock()
	defer r.mu.Unlock()

	tracker := r.trackerLocked(workspaceID)
	id := tracker.nextSubscriber
	tracker.nextSubscriber++
	tracker.subscribers[id] = fn

	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		delete(tracker.subscribers, id)
	}
}

// Local returns the cached local state for a workspace.
func (r *Reconciler) Local(workspaceID string) LocalState {
	r.mu.Lock()
	defer r.mu.Unlock()
	if tracker, ok := r.workspaces[workspaceID]; ok {
		return tracker.local
	}
	return LocalState{}
}

// SetLocal records a local privileged action: the member's permission
// was set on this device (for example by re-joining through a
// higher-permission invite) at the given Unix-millisecond time. This
// is the only writer of PermissionSetAt — replication never touches
// it.
func (r *Reconciler) SetLocal(workspaceID string, permission Permission, at int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	tracker := r.trackerLocked(workspaceID)
	tracker.local.MyPermission = permission
	tracker.local.PermissionSetAt = at
}

// ApplyRemote runs one reconciliation pass for a replicated entry
// observed on the local identity's record. Safe to call from any
// goroutine; passes are serialized.
func (r *Reconciler) ApplyRemote(workspaceID string, remote PermissionEntry) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	tracker := r.trackerLocked(workspaceID)

	newLocal, outcome := Reconcile(tracker.local, remote)
	tracker.local = newLocal
	tracker.lastEntry = remote

	var pending []Notification
	if outcome == OutcomeApplied {
		pending = append(pending, Notification{
			WorkspaceID: workspaceID,
			Kind:        NotificationPermissionChanged,
			Permission:  newLocal.MyPermission,
		})
	}

	if remote.PendingDemotion != nil && !tracker.surfacedDemotions[remote.PendingDemotion.RequestedAt] {
		tracker.surfacedDemotions[remote.PendingDemotion.RequestedAt] = true
		demotion := *remote.PendingDemotion
		pending = append(pending, Notification{
			WorkspaceID: workspaceID,
			Kind:        NotificationDemotionRequested,
			Demotion:    &demotion,
		})
	}

	subscribers := make([]func(Notification), 0, len(tracker.subscribers))
	for _, fn := range tracker.subscribers {
		subscribers = append(subscribers, fn)
	}
	r.mu.Unlock()

	if outcome == OutcomeRejectedStale {
		r.logger.Debug("stale replicated permission rejected",
			"workspace_id", workspaceID,
			"remote_permission", remote.Permission,
			"remote_updated_at", remote.PermissionUpdatedAt,
		)
	}

	for _, notification := range pending {
		for _, fn := range subscribers {
			fn(notification)
		}
	}
}

// AcceptDemotion consents to the pending demotion request: the
// requested permission becomes the member's cached permission as a
// local privileged action (stamped at now, Unix milliseconds), and the
// returned entry — requested permission applied, pending marker
// cleared — must be replicated by the caller so the rest of the
// workspace observes the consent.
func (r *Reconciler) AcceptDemotion(workspaceID string, now int64) (PermissionEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	tracker, ok := r.workspaces[workspaceID]
	if !ok || tracker.lastEntry.PendingDemotion == nil {
		return PermissionEntry{}, ErrNoPending
	}

	requested := tracker.lastEntry.PendingDemotion.RequestedPermission
	tracker.local.MyPermission = requested
	tracker.local.PermissionSetAt = now

	entry := tracker.lastEntry
	entry.Permission = requested
	entry.PermissionUpdatedAt = now
	entry.PendingDemotion = nil
	tracker.lastEntry = entry
	return entry, nil
}

// DeclineDemotion refuses the pending demotion request. The cached
// permission is unchanged; the returned entry — pending marker
// cleared, permission untouched — must be replicated by the caller.
func (r *Reconciler) DeclineDemotion(workspaceID string, now int64) (PermissionEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	tracker, ok := r.workspaces[workspaceID]
	if !ok || tracker.lastEntry.PendingDemotion == nil {
		return PermissionEntry{}, ErrNoPending
	}

	entry := tracker.lastEntry
	entry.PermissionUpdatedAt = now
	entry.PendingDemotion = nil
	tracker.lastEntry = entry
	return entry, nil
}

// Leave validates that the local member may leave the workspace given
// the current replicated roster, and detaches the workspace's tracker
// on success.
//
// Rules:
//   - A workspace with exactly one member may not be left, only
//     deleted.
//   - The last owner may not leave before transferring ownership.
//   - If the local cached permission disagrees with the member's own
//     replicated entry, leave fails with ErrStateLagging unless force
//     is set. This is the ownership-transfer race: the transferring
//     owner's self-demotion may be blocked from the local cache by
//     the race guard, so the caller must use force for that specific
//     sequence instead of waiting on the reconciler.
func (r *Reconciler) Leave(workspaceID, selfKey string, roster Roster, force bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	selfEntry, ok := roster[selfKey]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownMember, selfKey)
	}
	if len(roster) <= 1 {
		return ErrSoleMember
	}

	anotherOwner := false
	for key, entry := range roster {
		if key != selfKey && entry.Permission == PermissionOwner {
			anotherOwner = true
			break
		}
	}

	tracker, tracked := r.workspaces[workspaceID]
	localPermission := selfEntry.Permission
	if tracked && tracker.local.MyPermission != "" {
		localPermission = tracker.local.MyPermission
	}

	if (selfEntry.Permission == PermissionOwner || localPermission == PermissionOwner) && !anotherOwner {
		return ErrLastOwner
	}

	if !force && localPermission != selfEntry.Permission {
		return ErrStateLagging
	}

	delete(r.workspaces, workspaceID)
	return nil
}

// Close detaches the reconciler. After Close, no rule is re-applied
// for any workspace: ApplyRemote and SetLocal become no-ops and no
// further notifications are emitted.
func (r *Reconciler) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	r.workspaces = make(map[string]*workspaceTracker)
}
