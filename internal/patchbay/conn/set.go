/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package conn implements the directed edges between ports: connect,
// disconnect, fan-in/fan-out enumeration, and the WouldCycle check a
// proposed connection must pass before installation.
//
// Cycle detection treats each client as a single opaque scheduling node
// (spec §3 invariant 3: "a client is opaque; its inputs may feed its
// outputs"). Collapsing connections to client-to-client edges already
// encodes that assumption — a direct port-level pseudo-edge table is
// unnecessary once nodes are clients rather than ports, and a connection
// whose source and destination are owned by the same client surfaces as
// a self-loop, which Kahn's algorithm rejects the same way it rejects any
// other cycle.
package conn

import (
	"fmt"
	"sync"

	"github.com/friendsincode/patchbay/internal/patchbay"
	"github.com/friendsincode/patchbay/internal/patchbay/graph"
	"github.com/friendsincode/patchbay/internal/patchbay/port"
)

// Connection is an ordered pair of port identities: source output port to
// destination input port.
type Connection struct {
	Src patchbay.PortID
	Dst patchbay.PortID
}

type key struct{ src, dst patchbay.PortID }

// Set is the control domain's connection directory.
type Set struct {
	mu       sync.RWMutex
	registry *port.Registry

	edges   map[key]struct{}
	bySrc   map[patchbay.PortID][]patchbay.PortID
	byDst   map[patchbay.PortID][]patchbay.PortID
	version uint64
}

// NewSet creates an empty connection set bound to registry for endpoint
// validation.
func NewSet(registry *port.Registry) *Set {
	return &Set{
		registry: registry,
		edges:    make(map[key]struct{}),
		bySrc:    make(map[patchbay.PortID][]patchbay.PortID),
		byDst:    make(map[patchbay.PortID][]patchbay.PortID),
	}
}

// Version returns a monotonically increasing counter bumped on every
// mutation.
func (s *Set) Version() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

// Connect installs an edge from src to dst on behalf of caller (the
// client name requesting the connection, used for the lock check).
func (s *Set) Connect(src, dst patchbay.PortID, caller string) error {
	const op = "conn.Connect"

	srcPort, err := s.registry.Get(src)
	if err != nil {
		return patchbay.NewError(op, patchbay.KindNotFound, fmt.Errorf("source port: %w", err))
	}
	dstPort, err := s.registry.Get(dst)
	if err != nil {
		return patchbay.NewError(op, patchbay.KindNotFound, fmt.Errorf("destination port: %w", err))
	}

	if !srcPort.Flags.Has(patchbay.IsOutput) || !dstPort.Flags.Has(patchbay.IsInput) {
		return patchbay.NewError(op, patchbay.KindWrongDirection, fmt.Errorf("%s -> %s", srcPort.FQName(), dstPort.FQName()))
	}
	if srcPort.Type != dstPort.Type {
		return patchbay.NewError(op, patchbay.KindTypeMismatch, fmt.Errorf("%s is %q, %s is %q", srcPort.FQName(), srcPort.Type, dstPort.FQName(), dstPort.Type))
	}
	if s.registry.IsLockedByOther(src, caller) || s.registry.IsLockedByOther(dst, caller) {
		return patchbay.NewError(op, patchbay.KindLocked, fmt.Errorf("%s or %s is locked", srcPort.FQName(), dstPort.FQName()))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	k := key{src, dst}
	if _, exists := s.edges[k]; exists {
		return patchbay.NewError(op, patchbay.KindDuplicate, fmt.Errorf("%s -> %s already connected", srcPort.FQName(), dstPort.FQName()))
	}

	if err := s.wouldCycleLocked(srcPort.Client, dstPort.Client); err != nil {
		return patchbay.NewError(op, patchbay.KindWouldCycle, err)
	}

	s.edges[k] = struct{}{}
	s.bySrc[src] = append(s.bySrc[src], dst)
	s.byDst[dst] = append(s.byDst[dst], src)
	s.version++
	return nil
}

// ConnectByName resolves src/dst fully qualified names and connects them.
func (s *Set) ConnectByName(srcFQN, dstFQN, caller string) error {
	const op = "conn.ConnectByName"
	srcPort, err := s.registry.Lookup(srcFQN)
	if err != nil {
		return patchbay.NewError(op, patchbay.KindNotFound, err)
	}
	dstPort, err := s.registry.Lookup(dstFQN)
	if err != nil {
		return patchbay.NewError(op, patchbay.KindNotFound, err)
	}
	return s.Connect(srcPort.ID, dstPort.ID, caller)
}

// Disconnect removes an edge. Fails with NotFound only, per spec §4.2.
func (s *Set) Disconnect(src, dst patchbay.PortID) error {
	const op = "conn.Disconnect"
	s.mu.Lock()
	defer s.mu.Unlock()

	k := key{src, dst}
	if _, exists := s.edges[k]; !exists {
		return patchbay.NewError(op, patchbay.KindNotFound, fmt.Errorf("no connection %s -> %s", src, dst))
	}
	delete(s.edges, k)
	s.bySrc[src] = removePort(s.bySrc[src], dst)
	s.byDst[dst] = removePort(s.byDst[dst], src)
	s.version++
	return nil
}

// DisconnectByName resolves names and disconnects them.
func (s *Set) DisconnectByName(srcFQN, dstFQN string) error {
	const op = "conn.DisconnectByName"
	srcPort, err := s.registry.Lookup(srcFQN)
	if err != nil {
		return patchbay.NewError(op, patchbay.KindNotFound, err)
	}
	dstPort, err := s.registry.Lookup(dstFQN)
	if err != nil {
		return patchbay.NewError(op, patchbay.KindNotFound, err)
	}
	return s.Disconnect(srcPort.ID, dstPort.ID)
}

// DisconnectAll removes every connection touching id, e.g. on unregister.
func (s *Set) DisconnectAll(id patchbay.PortID) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, dst := range append([]patchbay.PortID(nil), s.bySrc[id]...) {
		delete(s.edges, key{id, dst})
		s.byDst[dst] = removePort(s.byDst[dst], id)
	}
	for _, src := range append([]patchbay.PortID(nil), s.byDst[id]...) {
		delete(s.edges, key{src, id})
		s.bySrc[src] = removePort(s.bySrc[src], id)
	}
	delete(s.bySrc, id)
	delete(s.byDst, id)
	s.version++
}

// Enumerate returns every connection touching id, as either source or
// destination.
func (s *Set) Enumerate(id patchbay.PortID) []Connection {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Connection
	for _, dst := range s.bySrc[id] {
		out = append(out, Connection{Src: id, Dst: dst})
	}
	for _, src := range s.byDst[id] {
		out = append(out, Connection{Src: src, Dst: id})
	}
	return out
}

// Sources returns the source ports feeding into dst, in no particular
// order; used by the compiler to build the routing table.
func (s *Set) Sources(dst patchbay.PortID) []patchbay.PortID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]patchbay.PortID(nil), s.byDst[dst]...)
}

// Connected reports whether a directed edge src->dst exists.
func (s *Set) Connected(src, dst patchbay.PortID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.edges[key{src, dst}]
	return ok
}

// ConnectedEither reports whether a or b are connected in either direction.
func (s *Set) ConnectedEither(a, b patchbay.PortID) bool {
	return s.Connected(a, b) || s.Connected(b, a)
}

// Snapshot returns every connection currently installed.
func (s *Set) Snapshot() []Connection {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Connection, 0, len(s.edges))
	for k := range s.edges {
		out = append(out, Connection{Src: k.src, Dst: k.dst})
	}
	return out
}

// wouldCycleLocked checks whether adding an edge srcClient->dstClient to
// the current client-level graph would introduce a cycle. Must be called
// with s.mu held.
func (s *Set) wouldCycleLocked(srcClient, dstClient string) error {
	nodeSet := map[string]struct{}{srcClient: {}, dstClient: {}}
	edges := make(map[string][]string)

	for k := range s.edges {
		sp, err := s.registry.Get(k.src)
		if err != nil {
			continue
		}
		dp, err := s.registry.Get(k.dst)
		if err != nil {
			continue
		}
		nodeSet[sp.Client] = struct{}{}
		nodeSet[dp.Client] = struct{}{}
		edges[sp.Client] = append(edges[sp.Client], dp.Client)
	}
	edges[srcClient] = append(edges[srcClient], dstClient)

	nodes := make([]string, 0, len(nodeSet))
	for n := range nodeSet {
		nodes = append(nodes, n)
	}

	if _, err := graph.TopoSort(nodes, edges); err != nil {
		return fmt.Errorf("connecting %s -> %s would cycle back through client %s", srcClient, dstClient, srcClient)
	}
	return nil
}

func removePort(ids []patchbay.PortID, target patchbay.PortID) []patchbay.PortID {
	for i, id := range ids {
		if id == target {
			return append(ids[:i], ids[i+1:]...)
		}
	}
	return ids
}
