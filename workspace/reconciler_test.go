// Copyright 2026 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

package workspace

import (
	"errors"
	"testing"
)

// collect subscribes to a workspace and returns a pointer to the slice
// of notifications received so far.
func collect(t *testing.T, r *Reconciler, workspaceID string) *[]Notification {
	t.Helper()
	var got []Notification
	unsubscribe := r.OnPermissionChange(workspaceID, func(n Notification) {
		got = append(got, n)
	})
	t.Cleanup(unsubscribe)
	return &got
}

func TestReconcilerNotifiesOncePerTransition(t *testing.T) {
	r := NewReconciler(nil)
	got := collect(t, r, "ws1")

	// First sync adopts silently.
	r.ApplyRemote("ws1", PermissionEntry{Permission: PermissionViewer, PermissionUpdatedAt: 10})
	if len(*got) != 0 {
		t.Fatalf("first sync produced %d notifications, want 0", len(*got))
	}

	// viewer -> editor: one notification.
	r.ApplyRemote("ws1", PermissionEntry{Permission: PermissionEditor, PermissionUpdatedAt: 20})
	// Replays of the same value: silent.
	r.ApplyRemote("ws1", PermissionEntry{Permission: PermissionEditor, PermissionUpdatedAt: 20})
	r.ApplyRemote("ws1", PermissionEntry{Permission: PermissionEditor, PermissionUpdatedAt: 30})

	if len(*got) != 1 {
		t.Fatalf("got %d notifications, want exactly 1", len(*got))
	}
	n := (*got)[0]
	if n.Kind != NotificationPermissionChanged || n.Permission != PermissionEditor {
		t.Errorf("notification = %+v, want permission-changed to editor", n)
	}
	if n.WorkspaceID != "ws1" {
		t.Errorf("WorkspaceID = %q, want ws1", n.WorkspaceID)
	}
}

func TestReconcilerStaleRejectionIsIdempotent(t *testing.T) {
	r := NewReconciler(nil)
	got := collect(t, r, "ws1")

	r.ApplyRemote("ws1", PermissionEntry{Permission: PermissionViewer, PermissionUpdatedAt: 10})
	r.SetLocal("ws1", PermissionOwner, 1000)

	// A stale write replayed many times: never applied, never notified,
	// and the cache ends exactly where it started.
	stale := PermissionEntry{Permission: PermissionViewer, PermissionUpdatedAt: 500}
	for i := 0; i < 5; i++ {
		r.ApplyRemote("ws1", stale)
	}

	local := r.Local("ws1")
	if local.MyPermission != PermissionOwner {
		t.Errorf("MyPermission = %q, want owner", local.MyPermission)
	}
	if local.PermissionSetAt != 1000 {
		t.Errorf("PermissionSetAt = %d, want 1000", local.PermissionSetAt)
	}
	if len(*got) != 0 {
		t.Errorf("stale replays produced %d notifications, want 0", len(*got))
	}
}

func TestReconcilerWorkspacesAreIndependent(t *testing.T) {
	r := NewReconciler(nil)
	got1 := collect(t, r, "ws1")
	got2 := collect(t, r, "ws2")

	r.ApplyRemote("ws1", PermissionEntry{Permission: PermissionViewer, PermissionUpdatedAt: 10})
	r.ApplyRemote("ws1", PermissionEntry{Permission: PermissionEditor, PermissionUpdatedAt: 20})

	if len(*got1) != 1 {
		t.Errorf("ws1 got %d notifications, want 1", len(*got1))
	}
	if len(*got2) != 0 {
		t.Errorf("ws2 got %d notifications, want 0", len(*got2))
	}
	if p := r.Local("ws2").MyPermission; p != "" {
		t.Errorf("ws2 permission = %q, want empty", p)
	}
}

func TestReconcilerUnsubscribe(t *testing.T) {
	r := NewReconciler(nil)
	var got []Notification
	unsubscribe := r.OnPermissionChange("ws1", func(n Notification) {
		got = append(got, n)
	})

	r.ApplyRemote("ws1", PermissionEntry{Permission: PermissionViewer, PermissionUpdatedAt: 10})
	unsubscribe()
	unsubscribe() // second call is harmless
	r.ApplyRemote("ws1", PermissionEntry{Permission: PermissionEditor, PermissionUpdatedAt: 20})

	if len(got) != 0 {
		t.Errorf("got %d notifications after unsubscribe, want 0", len(got))
	}
}

func TestReconcilerDemotionSurfacedOnce(t *testing.T) {
	r := NewReconciler(nil)
	got := collect(t, r, "ws1")

	entry := PermissionEntry{
		Permission:          PermissionOwner,
		PermissionUpdatedAt: 10,
		PendingDemotion: &PendingDemotion{
			RequestedPermission: PermissionEditor,
			RequestedByName:     "Ada",
			RequestedAt:         40,
		},
	}
	r.ApplyRemote("ws1", entry)
	r.ApplyRemote("ws1", entry) // replay: already surfaced

	demotions := 0
	for _, n := range *got {
		if n.Kind == NotificationDemotionRequested {
			demotions++
			if n.Demotion == nil || n.Demotion.RequestedPermission != PermissionEditor || n.Demotion.RequestedByName != "Ada" {
				t.Errorf("demotion notification = %+v", n.Demotion)
			}
		}
	}
	if demotions != 1 {
		t.Fatalf("demotion surfaced %d times, want 1", demotions)
	}

	// A distinct request (new RequestedAt) surfaces again.
	entry.PendingDemotion = &PendingDemotion{
		RequestedPermission: PermissionViewer,
		RequestedByName:     "Ada",
		RequestedAt:         90,
	}
	r.ApplyRemote("ws1", entry)

	demotions = 0
	for _, n := range *got {
		if n.Kind == NotificationDemotionRequested {
			demotions++
		}
	}
	if demotions != 2 {
		t.Errorf("after second request, surfaced %d times, want 2", demotions)
	}
}

func TestReconcilerAcceptDemotion(t *testing.T) {
	r := NewReconciler(nil)

	r.ApplyRemote("ws1", PermissionEntry{
		Permission:          PermissionOwner,
		PermissionUpdatedAt: 10,
		PendingDemotion: &PendingDemotion{
			RequestedPermission: PermissionEditor,
			RequestedByName:     "Ada",
			RequestedAt:         40,
		},
	})

	entry, err := r.AcceptDemotion("ws1", 100)
	if err != nil {
		t.Fatalf("AcceptDemotion: %v", err)
	}
	if entry.Permission != PermissionEditor {
		t.Errorf("entry.Permission = %q, want editor", entry.Permission)
	}
	if entry.PermissionUpdatedAt != 100 {
		t.Errorf("entry.PermissionUpdatedAt = %d, want 100", entry.PermissionUpdatedAt)
	}
	if entry.PendingDemotion != nil {
		t.Errorf("entry.PendingDemotion = %+v, want cleared", entry.PendingDemotion)
	}

	// Accepting counts as a local privileged action.
	local := r.Local("ws1")
	if local.MyPermission != PermissionEditor {
		t.Errorf("MyPermission = %q, want editor", local.MyPermission)
	}
	if local.PermissionSetAt != 100 {
		t.Errorf("PermissionSetAt = %d, want 100", local.PermissionSetAt)
	}

	// The request is consumed.
	if _, err := r.AcceptDemotion("ws1", 200); !errors.Is(err, ErrNoPending) {
		t.Errorf("second accept err = %v, want ErrNoPending", err)
	}
}

func TestReconcilerDeclineDemotion(t *testing.T) {
	r := NewReconciler(nil)

	r.ApplyRemote("ws1", PermissionEntry{
		Permission:          PermissionOwner,
		PermissionUpdatedAt: 10,
		PendingDemotion: &PendingDemotion{
			RequestedPermission: PermissionViewer,
			RequestedByName:     "Ada",
			RequestedAt:         40,
		},
	})

	entry, err := r.DeclineDemotion("ws1", 100)
	if err != nil {
		t.Fatalf("DeclineDemotion: %v", err)
	}
	if entry.Permission != PermissionOwner {
		t.Errorf("entry.Permission = %q, want owner unchanged", entry.Permission)
	}
	if entry.PendingDemotion != nil {
		t.Errorf("entry.PendingDemotion = %+v, want cleared", entry.PendingDemotion)
	}
	if p := r.Local("ws1").MyPermission; p != PermissionOwner {
		t.Errorf("MyPermission = %q, want owner", p)
	}
}

func TestReconcilerDemotionWithoutPending(t *testing.T) {
	r := NewReconciler(nil)
	if _, err := r.AcceptDemotion("ws1", 1); !errors.Is(err, ErrNoPending) {
		t.Errorf("AcceptDemotion err = %v, want ErrNoPending", err)
	}
	if _, err := r.DeclineDemotion("ws1", 1); !errors.Is(err, ErrNoPending) {
		t.Errorf("DeclineDemotion err = %v, want ErrNoPending", err)
	}
}

func TestTransferOwnership(t *testing.T) {
	roster := Roster{
		"alice": {Permission: PermissionOwner, PermissionUpdatedAt: 10},
		"bob":   {Permission: PermissionEditor, PermissionUpdatedAt: 10},
	}

	entry, err := TransferOwnership(roster, "alice", "bob", 50)
	if err != nil {
		t.Fatalf("TransferOwnership: %v", err)
	}
	if entry.Permission != PermissionOwner || entry.PermissionUpdatedAt != 50 {
		t.Errorf("entry = %+v, want owner at 50", entry)
	}

	if _, err := TransferOwnership(roster, "bob", "alice", 50); !errors.Is(err, ErrNotOwner) {
		t.Errorf("non-owner transfer err = %v, want ErrNotOwner", err)
	}
	if _, err := TransferOwnership(roster, "alice", "carol", 50); !errors.Is(err, ErrUnknownMember) {
		t.Errorf("unknown target err = %v, want ErrUnknownMember", err)
	}
}

func TestRequestDemotion(t *testing.T) {
	roster := Roster{
		"alice": {Permission: PermissionOwner, PermissionUpdatedAt: 10},
		"bob":   {Permission: PermissionOwner, PermissionUpdatedAt: 10},
	}

	entry, err := RequestDemotion(roster, "alice", "bob", PermissionEditor, "Alice", 60)
	if err != nil {
		t.Fatalf("RequestDemotion: %v", err)
	}
	// The target keeps their permission until they consent.
	if entry.Permission != PermissionOwner {
		t.Errorf("entry.Permission = %q, want owner until accepted", entry.Permission)
	}
	if entry.PendingDemotion == nil {
		t.Fatal("entry.PendingDemotion = nil, want request marker")
	}
	if entry.PendingDemotion.RequestedPermission != PermissionEditor ||
		entry.PendingDemotion.RequestedByName != "Alice" ||
		entry.PendingDemotion.RequestedAt != 60 {
		t.Errorf("PendingDemotion = %+v", entry.PendingDemotion)
	}

	if _, err := RequestDemotion(roster, "alice", "bob", "admin", "Alice", 60); err == nil {
		t.Error("invalid requested permission accepted")
	}
}

func TestReconcilerLeaveRules(t *testing.T) {
	t.Run("sole member", func(t *testing.T) {
		r := NewReconciler(nil)
		roster := Roster{"alice": {Permission: PermissionOwner}}
		if err := r.Leave("ws1", "alice", roster, false); !errors.Is(err, ErrSoleMember) {
			t.Errorf("err = %v, want ErrSoleMember", err)
		}
	})

	t.Run("last owner", func(t *testing.T) {
		r := NewReconciler(nil)
		roster := Roster{
			"alice": {Permission: PermissionOwner},
			"bob":   {Permission: PermissionEditor},
		}
		if err := r.Leave("ws1", "alice", roster, false); !errors.Is(err, ErrLastOwner) {
			t.Errorf("err = %v, want ErrLastOwner", err)
		}
	})

	t.Run("unknown member", func(t *testing.T) {
		r := NewReconciler(nil)
		roster := Roster{"bob": {Permission: PermissionOwner}}
		if err := r.Leave("ws1", "alice", roster, false); !errors.Is(err, ErrUnknownMember) {
			t.Errorf("err = %v, want ErrUnknownMember", err)
		}
	})

	t.Run("non-owner leaves freely", func(t *testing.T) {
		r := NewReconciler(nil)
		r.ApplyRemote("ws1", PermissionEntry{Permission: PermissionEditor, PermissionUpdatedAt: 10})
		roster := Roster{
			"alice": {Permission: PermissionEditor, PermissionUpdatedAt: 10},
			"bob":   {Permission: PermissionOwner},
		}
		if err := r.Leave("ws1", "alice", roster, false); err != nil {
			t.Errorf("err = %v, want nil", err)
		}
	})
}

func TestReconcilerOwnershipTransferThenLeave(t *testing.T) {
	// Full transfer sequence from the transferring owner's point of
	// view. Alice promotes Bob, demotes herself, and leaves. Her
	// self-demotion write carries a timestamp from before her local
	// PermissionSetAt, so the race guard blocks it from her cache and
	// the replicated roster disagrees with her cached permission:
	// leave requires force.
	r := NewReconciler(nil)

	r.ApplyRemote("ws1", PermissionEntry{Permission: PermissionOwner, PermissionUpdatedAt: 10})
	r.SetLocal("ws1", PermissionOwner, 1000)

	roster := Roster{
		"alice": {Permission: PermissionOwner, PermissionUpdatedAt: 10},
		"bob":   {Permission: PermissionEditor, PermissionUpdatedAt: 10},
	}

	bobEntry, err := TransferOwnership(roster, "alice", "bob", 500)
	if err != nil {
		t.Fatalf("TransferOwnership: %v", err)
	}
	roster["bob"] = bobEntry

	// Alice's self-demotion as it lands in the replicated map.
	roster["alice"] = PermissionEntry{Permission: PermissionEditor, PermissionUpdatedAt: 500}
	r.ApplyRemote("ws1", roster["alice"])

	// The guard held: her cache still says owner.
	if p := r.Local("ws1").MyPermission; p != PermissionOwner {
		t.Fatalf("MyPermission = %q, want owner (guard should reject the 500 write)", p)
	}

	if err := r.Leave("ws1", "alice", roster, false); !errors.Is(err, ErrStateLagging) {
		t.Fatalf("unforced leave err = %v, want ErrStateLagging", err)
	}
	if err := r.Leave("ws1", "alice", roster, true); err != nil {
		t.Fatalf("forced leave err = %v, want nil", err)
	}

	// The tracker is gone.
	if p := r.Local("ws1").MyPermission; p != "" {
		t.Errorf("post-leave permission = %q, want empty", p)
	}
}

func TestReconcilerClose(t *testing.T) {
	r := NewReconciler(nil)
	got := collect(t, r, "ws1")

	r.ApplyRemote("ws1", PermissionEntry{Permission: PermissionViewer, PermissionUpdatedAt: 10})
	r.Close()

	r.ApplyRemote("ws1", PermissionEntry{Permission: PermissionEditor, PermissionUpdatedAt: 20})
	r.SetLocal("ws1", PermissionOwner, 100)

	if len(*got) != 0 {
		t.Errorf("got %d notifications after Close, want 0", len(*got))
	}
	if p := r.Local("ws1").MyPermission; p != "" {
		t.Errorf("permission after Close = %q, want empty", p)
	}
}
