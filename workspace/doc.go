// Copyright 2026 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

// Package workspace implements the replicated permission model for a
// Loom workspace and the reconciler that merges replicated permission
// entries into each device's locally cached view.
//
// Every member has one PermissionEntry in the workspace's replicated
// map, keyed by their public key. Any member can observe all entries,
// but a device only applies writes to its own entry, and only through
// the reconciler's anti-regression rules. The central rule is the race
// guard: a remote update is applied only if its permissionUpdatedAt is
// not older than the cache's permissionSetAt, which is set exclusively
// by local privileged actions (such as re-joining through a
// higher-permission invite). Without the guard, a stale replicated
// write could clobber an upgrade the member just performed locally,
// during the window before their own replication write catches up.
//
// The reconciliation rules themselves are a pure function
// ([Reconcile]) so they can be tested without any event plumbing; the
// [Reconciler] owns the per-workspace state, the subscription surface,
// and the two consent-gated workflows built on top: founder demotion
// (a pending demotion request must be explicitly accepted or declined,
// never applied automatically) and ownership transfer (including the
// forced leave needed when the race guard leaves the local cache
// lagging behind the replicated map).
package workspace
