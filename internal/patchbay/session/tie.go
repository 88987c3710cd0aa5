/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package session

import (
	"fmt"
	"sync"

	"github.com/friendsincode/patchbay/internal/patchbay"
	"github.com/friendsincode/patchbay/internal/patchbay/port"
)

// TieTable tracks same-client input-to-output shortcuts. Ports are
// globally unique, so a single flat map keyed by the tied input port
// serves every client's table at once; Connect/lookup in terms of a
// specific client is just a matter of checking port ownership.
type TieTable struct {
	mu    sync.Mutex
	byIn  map[patchbay.PortID]patchbay.PortID
	byOut map[patchbay.PortID]patchbay.PortID
}

// NewTieTable creates an empty tie table.
func NewTieTable() *TieTable {
	return &TieTable{
		byIn:  make(map[patchbay.PortID]patchbay.PortID),
		byOut: make(map[patchbay.PortID]patchbay.PortID),
	}
}

// Tie records that data arriving at in should be copied directly to out
// once the owning client's callback returns. Both ports must belong to
// the same client, in must be an input port, and out must be an output
// port.
func (t *TieTable) Tie(in, out port.Port) error {
	const op = "session.Tie"
	if in.Client != out.Client {
		return patchbay.NewError(op, patchbay.KindInvalidState, fmt.Errorf("%s and %s belong to different clients", in.FQName(), out.FQName()))
	}
	if !in.Flags.Has(patchbay.IsInput) {
		return patchbay.NewError(op, patchbay.KindWrongDirection, fmt.Errorf("%s is not an input port", in.FQName()))
	}
	if !out.Flags.Has(patchbay.IsOutput) {
		return patchbay.NewError(op, patchbay.KindWrongDirection, fmt.Errorf("%s is not an output port", out.FQName()))
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.byIn[in.ID] = out.ID
	t.byOut[out.ID] = in.ID
	return nil
}

// Untie removes the tie whose output side is out. The source repository's
// untie operation takes a single port; this implementation follows the
// interpretation recorded in DESIGN.md that the argument names the tied
// output side, and is idempotent: untying an output with no tie is a
// no-op, never an error.
func (t *TieTable) Untie(out patchbay.PortID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	in, ok := t.byOut[out]
	if !ok {
		return
	}
	delete(t.byOut, out)
	delete(t.byIn, in)
}

// DropPort removes any tie touching id, on port unregistration.
func (t *TieTable) DropPort(id patchbay.PortID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if out, ok := t.byIn[id]; ok {
		delete(t.byIn, id)
		delete(t.byOut, out)
	}
	if in, ok := t.byOut[id]; ok {
		delete(t.byOut, id)
		delete(t.byIn, in)
	}
}

// DropClient removes every tie belonging to client, on client death.
// Ties are keyed by port identity rather than client name, so the caller
// is expected to have already unregistered the client's ports (which
// calls DropPort for each); this is a defensive no-op sweep kept cheap
// since the maps are typically already empty for that client by then.
func (t *TieTable) DropClient(_ string) {}

// Snapshot returns a defensive copy of the tied-input-to-tied-output map,
// for the compiler to embed in the published Snapshot.
func (t *TieTable) Snapshot() map[patchbay.PortID]patchbay.PortID {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[patchbay.PortID]patchbay.PortID, len(t.byIn))
	for k, v := range t.byIn {
		out[k] = v
	}
	return out
}
