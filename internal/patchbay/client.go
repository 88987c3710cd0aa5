/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package patchbay

import "context"

// State is a client session's lifecycle state.
type State int

const (
	Registered State = iota
	Active
	Dying
	Dead
)

func (s State) String() string {
	switch s {
	case Registered:
		return "registered"
	case Active:
		return "active"
	case Dying:
		return "dying"
	case Dead:
		return "dead"
	default:
		return "unknown"
	}
}

// Client is the in-process stand-in for the client control/realtime
// channel described in spec §6: wire encoding is out of scope, so the
// cycle driver and session manager talk to clients through this interface
// directly. Implementations satisfy it either with a test fake or with an
// adapter over an external transport (see internal/audiodriver).
type Client interface {
	// Name is the client's registered name, used as its node identity in
	// the client-level graph.
	Name() string

	// RunProcess runs one cycle's worth of processing. It must return
	// before ctx's deadline; the driver treats context.DeadlineExceeded
	// (and any other error) as an overrun for this cycle.
	RunProcess(ctx context.Context, nframes int) error
}

// Notifiable is implemented by clients that want notifications from the
// session manager, which calls Notify with "sample_rate_changed" on
// Activate and "overrun" from HandleOverrun. The driver never calls it
// directly, but the manager calls it synchronously, so an overrun
// notification runs on the cycle goroutine via driver.Hooks.Overrun.
type Notifiable interface {
	Notify(event string, payload map[string]any)
}

// Shutdownable is implemented by clients with a shutdown handler, which
// session.Manager.MarkLost runs before tearing the client down. When the
// driver's ClientLost hook triggers MarkLost, it runs on the cycle goroutine.
type Shutdownable interface {
	Shutdown(reason error)
}
