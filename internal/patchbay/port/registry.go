/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package port implements the name-indexed directory of ports: owners,
// types, flags, latency metadata, and the monitor/lock bits the session
// manager mutates. The registry is owned exclusively by the control
// domain; the realtime driver never imports this package, only the
// compiled snapshot types it contributes to.
package port

import (
	"fmt"
	"regexp"
	"sync"

	"github.com/friendsincode/patchbay/internal/patchbay"
)

// Port is one registered port. Callers outside this package only ever see
// copies returned by Registry methods, never the live struct.
type Port struct {
	ID          patchbay.PortID
	Client      string
	ShortName   string
	Type        string
	Flags       patchbay.Flags
	Latency     int
	MonitorReq  int
	LockedBy    string // client name holding the lock, "" if unlocked
	BufferBytes int    // per-cycle buffer size for non-builtin types
}

// FQName returns "<client>:<short-name>".
func (p Port) FQName() string { return p.Client + ":" + p.ShortName }

type slot struct {
	port    Port
	gen     uint32
	live    bool
}

// Registry is the control domain's port directory. Exported methods are
// safe for concurrent use; the session manager's single mutator is the
// only intended caller of the mutating ones, but the lock makes that a
// discipline, not a requirement.
type Registry struct {
	mu sync.RWMutex

	slots       []slot
	byFQN       map[string]patchbay.PortID
	byClient    map[string]map[string]patchbay.PortID // client -> short name -> id
	freeIndexes []uint32

	version uint64
}

// NewRegistry creates an empty port registry.
func NewRegistry() *Registry {
	return &Registry{
		byFQN:    make(map[string]patchbay.PortID),
		byClient: make(map[string]map[string]patchbay.PortID),
	}
}

// Version returns a monotonically increasing counter bumped on every
// registration, removal, rename, latency change, and monitor change; lock
// changes do not bump it.
func (r *Registry) Version() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.version
}

// Register creates a port owned by client. flags must set exactly one of
// IsInput/IsOutput.
func (r *Registry) Register(client, shortName, typ string, flags patchbay.Flags, bufferBytes int) (patchbay.PortID, error) {
	const op = "port.Register"
	if shortName == "" {
		return patchbay.PortID{}, patchbay.NewError(op, patchbay.KindInvalidState, fmt.Errorf("short name must not be empty"))
	}
	hasIn := flags.Has(patchbay.IsInput)
	hasOut := flags.Has(patchbay.IsOutput)
	if hasIn == hasOut {
		return patchbay.PortID{}, patchbay.NewError(op, patchbay.KindInvalidState, fmt.Errorf("exactly one of IsInput/IsOutput must be set"))
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, taken := r.byClient[client][shortName]; taken {
		return patchbay.PortID{}, patchbay.NewError(op, patchbay.KindDuplicate, fmt.Errorf("port %s:%s already registered", client, shortName))
	}
	fqn := client + ":" + shortName
	if _, taken := r.byFQN[fqn]; taken {
		return patchbay.PortID{}, patchbay.NewError(op, patchbay.KindDuplicate, fmt.Errorf("port %s already registered", fqn))
	}

	id := r.allocSlot()
	p := Port{
		ID:          id,
		Client:      client,
		ShortName:   shortName,
		Type:        typ,
		Flags:       flags,
		BufferBytes: bufferBytes,
	}
	r.slots[id.Index].port = p

	r.byFQN[fqn] = id
	if r.byClient[client] == nil {
		r.byClient[client] = make(map[string]patchbay.PortID)
	}
	r.byClient[client][shortName] = id

	r.version++
	return id, nil
}

// Unregister removes a port and all state tracking it. It does not touch
// connections; the caller removes incident connections itself
// (session.Manager calls conn.Set.DisconnectAll).
func (r *Registry) Unregister(id patchbay.PortID) error {
	const op = "port.Unregister"
	r.mu.Lock()
	defer r.mu.Unlock()

	s, err := r.live(id)
	if err != nil {
		return patchbay.NewError(op, patchbay.KindNotFound, err)
	}

	delete(r.byFQN, s.port.FQName())
	if m := r.byClient[s.port.Client]; m != nil {
		delete(m, s.port.ShortName)
		if len(m) == 0 {
			delete(r.byClient, s.port.Client)
		}
	}

	r.slots[id.Index].live = false
	r.freeIndexes = append(r.freeIndexes, id.Index)
	r.version++
	return nil
}

// UnregisterClient removes every port owned by client, e.g. on client death.
func (r *Registry) UnregisterClient(client string) []patchbay.PortID {
	r.mu.Lock()
	ids := make([]patchbay.PortID, 0, len(r.byClient[client]))
	for _, id := range r.byClient[client] {
		ids = append(ids, id)
	}
	r.mu.Unlock()

	for _, id := range ids {
		_ = r.Unregister(id)
	}
	return ids
}

// Lookup resolves a fully qualified "client:short" name.
func (r *Registry) Lookup(fqn string) (Port, error) {
	const op = "port.Lookup"
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byFQN[fqn]
	if !ok {
		return Port{}, patchbay.NewError(op, patchbay.KindNotFound, fmt.Errorf("no such port %q", fqn))
	}
	return r.slots[id.Index].port, nil
}

// Get returns the current state of a port by identity.
func (r *Registry) Get(id patchbay.PortID) (Port, error) {
	const op = "port.Get"
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, err := r.live(id)
	if err != nil {
		return Port{}, patchbay.NewError(op, patchbay.KindNotFound, err)
	}
	return s.port, nil
}

// Enumerate returns ports whose fully qualified name matches namePattern,
// whose type matches typePattern (either may be nil to match everything),
// and whose flags include every bit in flagMask (0 matches everything).
// Grounded on jack_get_ports's two-regex-plus-flag-mask signature.
func (r *Registry) Enumerate(namePattern, typePattern *regexp.Regexp, flagMask patchbay.Flags) []Port {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Port
	for i := range r.slots {
		s := &r.slots[i]
		if !s.live {
			continue
		}
		if namePattern != nil && !namePattern.MatchString(s.port.FQName()) {
			continue
		}
		if typePattern != nil && !typePattern.MatchString(s.port.Type) {
			continue
		}
		if flagMask != 0 && !s.port.Flags.Has(flagMask) {
			continue
		}
		out = append(out, s.port)
	}
	return out
}

// Rename changes a port's short name, atomically failing if the new
// fully qualified name collides with an existing port.
func (r *Registry) Rename(id patchbay.PortID, newShortName string) error {
	const op = "port.Rename"
	if newShortName == "" {
		return patchbay.NewError(op, patchbay.KindInvalidState, fmt.Errorf("short name must not be empty"))
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	s, err := r.live(id)
	if err != nil {
		return patchbay.NewError(op, patchbay.KindNotFound, err)
	}
	if newShortName == s.port.ShortName {
		return nil
	}

	newFQN := s.port.Client + ":" + newShortName
	if _, taken := r.byFQN[newFQN]; taken {
		return patchbay.NewError(op, patchbay.KindDuplicate, fmt.Errorf("port %s already registered", newFQN))
	}

	oldFQN := s.port.FQName()
	delete(r.byFQN, oldFQN)
	delete(r.byClient[s.port.Client], s.port.ShortName)

	s.port.ShortName = newShortName
	r.byFQN[newFQN] = id
	r.byClient[s.port.Client][newShortName] = id
	r.version++
	return nil
}

// SetLatency sets the port's declared latency in frames.
func (r *Registry) SetLatency(id patchbay.PortID, frames int) error {
	const op = "port.SetLatency"
	r.mu.Lock()
	defer r.mu.Unlock()
	s, err := r.live(id)
	if err != nil {
		return patchbay.NewError(op, patchbay.KindNotFound, err)
	}
	s.port.Latency = frames
	r.version++
	return nil
}

// RequestMonitor implements the counted monitor operation: on increments,
// off decrements, floored at zero. Effective only on CanMonitor ports.
func (r *Registry) RequestMonitor(id patchbay.PortID, on bool) error {
	const op = "port.RequestMonitor"
	r.mu.Lock()
	defer r.mu.Unlock()
	s, err := r.live(id)
	if err != nil {
		return patchbay.NewError(op, patchbay.KindNotFound, err)
	}
	if !s.port.Flags.Has(patchbay.CanMonitor) {
		return nil
	}
	if on {
		s.port.MonitorReq++
	} else if s.port.MonitorReq > 0 {
		s.port.MonitorReq--
	}
	r.version++
	return nil
}

// EnsureMonitor implements the absolute monitor operation: on forces the
// count to at least 1, off forces it to 0.
func (r *Registry) EnsureMonitor(id patchbay.PortID, on bool) error {
	const op = "port.EnsureMonitor"
	r.mu.Lock()
	defer r.mu.Unlock()
	s, err := r.live(id)
	if err != nil {
		return patchbay.NewError(op, patchbay.KindNotFound, err)
	}
	if !s.port.Flags.Has(patchbay.CanMonitor) {
		return nil
	}
	if on {
		if s.port.MonitorReq < 1 {
			s.port.MonitorReq = 1
		}
	} else {
		s.port.MonitorReq = 0
	}
	r.version++
	return nil
}

// Lock marks id as locked by client. Locking is idempotent for the same
// owner; it fails with Locked if another client already holds it.
func (r *Registry) Lock(id patchbay.PortID, client string) error {
	const op = "port.Lock"
	r.mu.Lock()
	defer r.mu.Unlock()
	s, err := r.live(id)
	if err != nil {
		return patchbay.NewError(op, patchbay.KindNotFound, err)
	}
	if s.port.LockedBy != "" && s.port.LockedBy != client {
		return patchbay.NewError(op, patchbay.KindLocked, fmt.Errorf("port %s locked by %s", s.port.FQName(), s.port.LockedBy))
	}
	s.port.LockedBy = client
	return nil
}

// Unlock clears the lock if held by client.
func (r *Registry) Unlock(id patchbay.PortID, client string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if i := int(id.Index); i >= 0 && i < len(r.slots) && r.slots[i].live && r.slots[i].gen == id.Generation {
		if r.slots[i].port.LockedBy == client {
			r.slots[i].port.LockedBy = ""
		}
	}
}

// UnlockAll clears every lock held by client, e.g. on client death.
func (r *Registry) UnlockAll(client string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.slots {
		if r.slots[i].live && r.slots[i].port.LockedBy == client {
			r.slots[i].port.LockedBy = ""
		}
	}
}

// IsLockedByOther reports whether id is locked by a client other than caller.
func (r *Registry) IsLockedByOther(id patchbay.PortID, caller string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	i := int(id.Index)
	if i < 0 || i >= len(r.slots) || !r.slots[i].live || r.slots[i].gen != id.Generation {
		return false
	}
	locked := r.slots[i].port.LockedBy
	return locked != "" && locked != caller
}

// Snapshot returns a defensive copy of every live port, for the compiler
// to consume without holding the registry lock across compilation.
func (r *Registry) Snapshot() []Port {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Port, 0, len(r.slots))
	for i := range r.slots {
		if r.slots[i].live {
			out = append(out, r.slots[i].port)
		}
	}
	return out
}

func (r *Registry) allocSlot() patchbay.PortID {
	if n := len(r.freeIndexes); n > 0 {
		idx := r.freeIndexes[n-1]
		r.freeIndexes = r.freeIndexes[:n-1]
		r.slots[idx].gen++
		r.slots[idx].live = true
		return patchbay.PortID{Index: idx, Generation: r.slots[idx].gen}
	}
	idx := uint32(len(r.slots))
	r.slots = append(r.slots, slot{live: true, gen: 1})
	return patchbay.PortID{Index: idx, Generation: 1}
}

func (r *Registry) live(id patchbay.PortID) (*slot, error) {
	i := int(id.Index)
	if i < 0 || i >= len(r.slots) {
		return nil, fmt.Errorf("no such port %s", id)
	}
	s := &r.slots[i]
	if !s.live || s.gen != id.Generation {
		return nil, fmt.Errorf("no such port %s", id)
	}
	return s, nil
}
