/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package session implements the client session manager: state
// transitions, the single mutator queue for graph mutations, lock/monitor
// bookkeeping, tie resolution bookkeeping, and notification dispatch. The realtime driver only ever calls back into this package
// through the small hooks it was constructed with (see driver.Hooks); it
// never imports this package directly.
package session

import (
	"fmt"
	"regexp"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"github.com/friendsincode/patchbay/internal/events"
	"github.com/friendsincode/patchbay/internal/logging"
	"github.com/friendsincode/patchbay/internal/patchbay"
	"github.com/friendsincode/patchbay/internal/patchbay/compiler"
	"github.com/friendsincode/patchbay/internal/patchbay/conn"
	"github.com/friendsincode/patchbay/internal/patchbay/port"
)

type clientEntry struct {
	id     patchbay.ClientID
	client patchbay.Client
	state  patchbay.State
}

// Manager is the single mutator for every graph mutation: port
// registration, connection changes, client lifecycle, locks, monitors,
// and ties. mu guards the client table and is held across every
// recompile, so compiles run one at a time and each sees the mutations
// made before it. The registry, connection set, and tie table guard their
// own state with their own locks; mutating them does not take mu.
type Manager struct {
	mu sync.Mutex

	registry *port.Registry
	conns    *conn.Set
	comp     *compiler.Compiler
	bus      *events.Bus

	clients   map[string]*clientEntry
	nextIndex uint32

	ties *TieTable

	timebase *Timebase

	logger zerolog.Logger
}

// New creates a session manager wired to the given registry, connection
// set, and compiler, publishing notifications on bus. Logging is disabled
// until SetLogger is called; engine.New does this for every production
// Manager.
func New(registry *port.Registry, conns *conn.Set, comp *compiler.Compiler, bus *events.Bus) *Manager {
	return &Manager{
		registry: registry,
		conns:    conns,
		comp:     comp,
		bus:      bus,
		clients:  make(map[string]*clientEntry),
		ties:     NewTieTable(),
		timebase: NewTimebase(),
		logger:   zerolog.Nop(),
	}
}

// SetLogger attaches a logger, tagged with the control domain and the
// session component, for client lifecycle and recompile-rejection events.
func (m *Manager) SetLogger(logger zerolog.Logger) {
	m.logger = logging.WithComponent(logger, logging.DomainControl, "session")
}

// RegisterClient admits a new client session in the Registered state.
func (m *Manager) RegisterClient(name string, client patchbay.Client) (patchbay.ClientID, error) {
	const op = "session.RegisterClient"
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.clients[name]; exists {
		return patchbay.ClientID{}, patchbay.NewError(op, patchbay.KindDuplicate, fmt.Errorf("client %q already registered", name))
	}

	m.nextIndex++
	id := patchbay.ClientID{Index: m.nextIndex, Generation: 1}
	m.clients[name] = &clientEntry{id: id, client: client, state: patchbay.Registered}
	m.logger.Debug().Str("client", name).Uint32("index", id.Index).Msg("client registered")
	return id, nil
}

// Activate moves a client from Registered to Active, making it eligible
// for scheduling starting at the next compile. Per the supplemented
// self-registration-echo behavior, the client immediately receives a
// one-shot sample_rate_changed notification so it has a current value
// without racing the next broadcast.
func (m *Manager) Activate(name string, sampleRate int) error {
	const op = "session.Activate"
	m.mu.Lock()
	entry, err := m.requireState(op, name, patchbay.Registered)
	if err != nil {
		m.mu.Unlock()
		return err
	}
	entry.state = patchbay.Active
	m.mu.Unlock()

	if err := m.recompile(); err != nil {
		return err
	}
	m.publish(events.EventClientActivated, events.Payload{"client": name})
	m.notify(name, "sample_rate_changed", map[string]any{"sample_rate": sampleRate})
	return nil
}

// Deactivate excludes a client from scheduling without destroying its
// ports; it takes effect at the next compile boundary.
func (m *Manager) Deactivate(name string) error {
	const op = "session.Deactivate"
	m.mu.Lock()
	entry, err := m.requireState(op, name, patchbay.Active)
	if err != nil {
		m.mu.Unlock()
		return err
	}
	entry.state = patchbay.Registered
	m.mu.Unlock()

	m.timebase.ReleaseIfHeld(name)
	if err := m.recompile(); err != nil {
		return err
	}
	m.publish(events.EventClientDeactivated, events.Payload{"client": name})
	return nil
}

// Close tears a client down cleanly: unregisters its ports (which
// disconnects incident connections), releases its locks and timebase
// role, and removes it from scheduling.
func (m *Manager) Close(name string) error {
	return m.terminate(name, nil)
}

// MarkLost is called by the driver's ClientLost hook when a client misses
// too many consecutive deadlines. It runs the client's shutdown handler,
// if any, before tearing it down the same way Close does.
func (m *Manager) MarkLost(name string, reason error) error {
	m.mu.Lock()
	entry, ok := m.clients[name]
	if ok {
		entry.state = patchbay.Dying
	}
	m.mu.Unlock()
	if !ok {
		return nil
	}

	if sd, ok := entry.client.(patchbay.Shutdownable); ok {
		sd.Shutdown(reason)
	}
	m.publish(events.EventClientLost, events.Payload{"client": name, "reason": reason.Error()})
	return m.terminate(name, reason)
}

func (m *Manager) terminate(name string, reason error) error {
	m.mu.Lock()
	_, ok := m.clients[name]
	if !ok {
		m.mu.Unlock()
		return nil
	}
	delete(m.clients, name)
	m.mu.Unlock()

	for _, id := range m.registry.UnregisterClient(name) {
		m.conns.DisconnectAll(id)
		m.ties.DropPort(id)
	}
	m.registry.UnlockAll(name)
	m.ties.DropClient(name)
	m.timebase.ReleaseIfHeld(name)

	if err := m.recompile(); err != nil {
		return err
	}
	m.publish(events.EventClientShutdown, events.Payload{"client": name})
	return nil
}

// RegisterPort registers a port owned by client.
func (m *Manager) RegisterPort(client, shortName, typ string, flags patchbay.Flags, bufferBytes int) (patchbay.PortID, error) {
	const op = "session.RegisterPort"
	m.mu.Lock()
	if _, ok := m.clients[client]; !ok {
		m.mu.Unlock()
		return patchbay.PortID{}, patchbay.NewError(op, patchbay.KindNotFound, fmt.Errorf("unknown client %q", client))
	}
	m.mu.Unlock()

	id, err := m.registry.Register(client, shortName, typ, flags, bufferBytes)
	if err != nil {
		return patchbay.PortID{}, err
	}
	if err := m.recompile(); err != nil {
		return id, err
	}
	p, _ := m.registry.Get(id)
	m.publish(events.EventPortRegistered, events.Payload{"port": p.FQName()})
	return id, nil
}

// UnregisterPort removes a port and anything connected to it.
func (m *Manager) UnregisterPort(id patchbay.PortID) error {
	p, err := m.registry.Get(id)
	if err != nil {
		return err
	}
	if err := m.registry.Unregister(id); err != nil {
		return err
	}
	m.conns.DisconnectAll(id)
	m.ties.DropPort(id)
	if err := m.recompile(); err != nil {
		return err
	}
	m.publish(events.EventPortUnregistered, events.Payload{"port": p.FQName()})
	return nil
}

// Connect installs a connection on behalf of caller.
func (m *Manager) Connect(src, dst patchbay.PortID, caller string) error {
	if err := m.conns.Connect(src, dst, caller); err != nil {
		return err
	}
	return m.recompile()
}

// ConnectByName resolves names and installs a connection.
func (m *Manager) ConnectByName(srcFQN, dstFQN, caller string) error {
	if err := m.conns.ConnectByName(srcFQN, dstFQN, caller); err != nil {
		return err
	}
	return m.recompile()
}

// Disconnect removes a connection.
func (m *Manager) Disconnect(src, dst patchbay.PortID) error {
	if err := m.conns.Disconnect(src, dst); err != nil {
		return err
	}
	return m.recompile()
}

// DisconnectByName resolves names and removes a connection.
func (m *Manager) DisconnectByName(srcFQN, dstFQN string) error {
	if err := m.conns.DisconnectByName(srcFQN, dstFQN); err != nil {
		return err
	}
	return m.recompile()
}

// SetLatency sets a port's declared latency and invalidates the cached
// latency table by forcing a recompile.
func (m *Manager) SetLatency(id patchbay.PortID, frames int) error {
	if err := m.registry.SetLatency(id, frames); err != nil {
		return err
	}
	return m.recompile()
}

// Tie installs a same-client input-to-output shortcut by fully qualified
// port name and forces a recompile so the driver picks it up.
func (m *Manager) Tie(inFQN, outFQN string) error {
	in, err := m.registry.Lookup(inFQN)
	if err != nil {
		return err
	}
	out, err := m.registry.Lookup(outFQN)
	if err != nil {
		return err
	}
	if err := m.ties.Tie(in, out); err != nil {
		return err
	}
	return m.recompile()
}

// Untie removes the tie whose output side is out, per the idempotent
// untie semantics recorded in DESIGN.md.
func (m *Manager) Untie(out patchbay.PortID) error {
	m.ties.Untie(out)
	return m.recompile()
}

// AcquireTimebase and ReleaseTimebase delegate to the timebase role
// tracker; see timebase.go.
func (m *Manager) AcquireTimebase(client string) error {
	if err := m.timebase.Acquire(client); err != nil {
		return err
	}
	m.publish(events.EventTimebaseAcquired, events.Payload{"client": client})
	return nil
}

func (m *Manager) ReleaseTimebase(client string) error {
	if err := m.timebase.Release(client); err != nil {
		return err
	}
	m.publish(events.EventTimebaseReleased, events.Payload{"client": client})
	return nil
}

// TimebaseMaster returns the current timebase master, if any.
func (m *Manager) TimebaseMaster() (string, bool) { return m.timebase.Master() }

// RequestMonitor and EnsureMonitor delegate to the registry; see
// port.Registry for the counted-vs-absolute distinction.
func (m *Manager) RequestMonitor(id patchbay.PortID, on bool) error { return m.registry.RequestMonitor(id, on) }
func (m *Manager) EnsureMonitor(id patchbay.PortID, on bool) error  { return m.registry.EnsureMonitor(id, on) }

// Lock and Unlock delegate to the registry.
func (m *Manager) Lock(id patchbay.PortID, client string) error { return m.registry.Lock(id, client) }
func (m *Manager) Unlock(id patchbay.PortID, client string)     { m.registry.Unlock(id, client) }

// Enumerate exposes the registry's pattern-based port lookup.
func (m *Manager) Enumerate(namePattern, typePattern *regexp.Regexp, flagMask patchbay.Flags) []port.Port {
	return m.registry.Enumerate(namePattern, typePattern, flagMask)
}

// ClientState returns the current lifecycle state of a client.
func (m *Manager) ClientState(name string) (patchbay.State, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.clients[name]
	if !ok {
		return patchbay.Dead, false
	}
	return entry.state, true
}

// HandleOverrun is wired to driver.Hooks.Overrun. It logs the overrun,
// publishes EventOverrun, and calls the client's Notify synchronously on
// the calling goroutine, which is the cycle goroutine when the driver
// calls it; no separate notification goroutine is involved.
func (m *Manager) HandleOverrun(client string) {
	m.logger.Warn().Str("client", client).Msg("client overran its cycle deadline")
	m.publish(events.EventOverrun, events.Payload{"client": client})
	m.notify(client, "overrun", nil)
}

// HandleClientLost is wired to driver.Hooks.ClientLost. It runs MarkLost
// synchronously, so the client's shutdown handler, its teardown, and the
// recompile run on the calling goroutine.
func (m *Manager) HandleClientLost(client string) {
	m.logger.Error().Str("client", client).Msg("client lost after consecutive overruns")
	_ = m.MarkLost(client, fmt.Errorf("exceeded consecutive overrun limit"))
}

func (m *Manager) recompile() error {
	m.mu.Lock()
	active := make(map[string]patchbay.Client, len(m.clients))
	indexOf := make(map[string]uint32, len(m.clients))
	for name, entry := range m.clients {
		if entry.state == patchbay.Active {
			active[name] = entry.client
			indexOf[name] = entry.id.Index
		}
	}

	// graph.TopoSort breaks ties by position in the node slice it is
	// given, so registration order has to be computed here: active is a
	// map and Go randomizes its iteration order.
	order := make([]string, 0, len(active))
	for name := range active {
		order = append(order, name)
	}
	sort.Slice(order, func(i, j int) bool { return indexOf[order[i]] < indexOf[order[j]] })

	ties := m.ties.Snapshot()
	_, err := m.comp.Compile(active, order, ties)
	m.mu.Unlock()
	if err != nil {
		m.logger.Warn().Err(err).Msg("recompile rejected")
		return err
	}
	m.publish(events.EventGraphReordered, nil)
	return nil
}

func (m *Manager) requireState(op, name string, want patchbay.State) (*clientEntry, error) {
	entry, ok := m.clients[name]
	if !ok {
		return nil, patchbay.NewError(op, patchbay.KindNotFound, fmt.Errorf("unknown client %q", name))
	}
	if entry.state != want {
		return nil, patchbay.NewError(op, patchbay.KindInvalidState, fmt.Errorf("client %q is %s, want %s", name, entry.state, want))
	}
	return entry, nil
}

func (m *Manager) publish(eventType events.EventType, payload events.Payload) {
	if m.bus != nil {
		m.bus.Publish(eventType, payload)
	}
}

func (m *Manager) notify(client, event string, payload map[string]any) {
	m.mu.Lock()
	entry, ok := m.clients[client]
	m.mu.Unlock()
	if !ok {
		return
	}
	if n, ok := entry.client.(patchbay.Notifiable); ok {
		n.Notify(event, payload)
	}
}
