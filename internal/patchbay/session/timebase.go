/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package session

import (
	"fmt"
	"sync"

	"github.com/friendsincode/patchbay/internal/patchbay"
)

// Timebase tracks which client, if any, holds the transport master role.
// The core does not arbitrate competing takeover requests beyond
// first-wins; richer policy is deferred per spec §9.
type Timebase struct {
	mu     sync.Mutex
	master string
}

// NewTimebase creates a vacant timebase role tracker.
func NewTimebase() *Timebase { return &Timebase{} }

// Acquire succeeds only if the role is currently vacant or already held
// by client.
func (t *Timebase) Acquire(client string) error {
	const op = "session.AcquireTimebase"
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.master != "" && t.master != client {
		return patchbay.NewError(op, patchbay.KindInvalidState, fmt.Errorf("timebase already held by %q", t.master))
	}
	t.master = client
	return nil
}

// Release relinquishes the role if held by client; a no-op otherwise.
func (t *Timebase) Release(client string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.master == client {
		t.master = ""
	}
	return nil
}

// ReleaseIfHeld relinquishes the role if client holds it and leaves it
// untouched otherwise; used on deactivate and client death.
func (t *Timebase) ReleaseIfHeld(client string) { _ = t.Release(client) }

// Master returns the current timebase master, if any.
func (t *Timebase) Master() (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.master, t.master != ""
}
