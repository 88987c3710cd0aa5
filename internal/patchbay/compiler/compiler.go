/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package compiler turns the current registry and connection set into an
// immutable Snapshot: an ordered run-list, a per-input-port routing table,
// and a latency table. It is the only bridge between the control domain
// (which owns the registry and connection set) and the realtime domain
// (which reads only the published Snapshot).
package compiler

import (
	"fmt"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/friendsincode/patchbay/internal/logging"
	"github.com/friendsincode/patchbay/internal/patchbay"
	"github.com/friendsincode/patchbay/internal/patchbay/buffer"
	"github.com/friendsincode/patchbay/internal/patchbay/conn"
	"github.com/friendsincode/patchbay/internal/patchbay/graph"
	"github.com/friendsincode/patchbay/internal/patchbay/port"
)

// RoutingKind describes how an input port's buffer is provisioned for a cycle.
type RoutingKind int

const (
	Zero RoutingKind = iota
	Alias
	Sum
)

// Routing is the compiled decision for one input port.
type Routing struct {
	Kind    RoutingKind
	Alias   patchbay.PortID   // valid when Kind == Alias
	Sources []patchbay.PortID // valid when Kind == Sum
}

// ClientPlan is one run-list entry.
type ClientPlan struct {
	Name    string
	Client  patchbay.Client
	Inputs  []patchbay.PortID
	Outputs []patchbay.PortID
}

// Snapshot is the immutable, atomically published result of one compile.
type Snapshot struct {
	Generation uint64
	RunList    []ClientPlan
	Routing    map[patchbay.PortID]Routing
	Ties       map[patchbay.PortID]patchbay.PortID // tied input port -> tied output port
	Latency    map[patchbay.PortID]int
	Pool       *buffer.Pool

	// WarmOutputs and WarmScratch list the ports this generation's
	// RunList/Routing first touch. The realtime driver allocates them on
	// its own thread on the cycle it first observes this Generation,
	// before calling Pool.Output/Pool.Scratch for real: Compile runs on
	// the control-domain mutator and must not call into Pool itself.
	WarmOutputs []patchbay.PortID
	WarmScratch []patchbay.PortID
}

// ScratchDestinations returns the input ports this snapshot sums into,
// for the driver to zero at cycle start.
func (s *Snapshot) ScratchDestinations() []patchbay.PortID {
	var out []patchbay.PortID
	for dst, r := range s.Routing {
		if r.Kind == Sum {
			out = append(out, dst)
		}
	}
	return out
}

// Compiler owns the published Snapshot pointer and the generation counter.
type Compiler struct {
	registry *port.Registry
	conns    *conn.Set
	pool     *buffer.Pool

	current atomic.Pointer[Snapshot]
	gen     uint64

	onCompile func(outcome string)
	logger    zerolog.Logger
}

// New creates a Compiler reading from registry and conns. pool is handed
// to every Snapshot it publishes; the driver allocates buffers from it.
// Logging is disabled until SetLogger is called.
func New(registry *port.Registry, conns *conn.Set, pool *buffer.Pool) *Compiler {
	return &Compiler{registry: registry, conns: conns, pool: pool, logger: zerolog.Nop()}
}

// SetLogger attaches a logger, tagged with the control domain and the
// compiler component, for rejected-compile diagnostics.
func (c *Compiler) SetLogger(logger zerolog.Logger) {
	c.logger = logging.WithComponent(logger, logging.DomainControl, "compiler")
}

// OnCompile registers a callback invoked with "ok" or "rejected" after
// every Compile call, for metrics.
func (c *Compiler) OnCompile(fn func(outcome string)) { c.onCompile = fn }

// Load returns the currently published snapshot, or nil before the first
// successful compile. Safe to call from the realtime domain.
func (c *Compiler) Load() *Snapshot { return c.current.Load() }

// Compile rebuilds the run-list, routing table, and latency table from the
// current registry/connection-set state for the given set of active
// clients plus their declared ties, and atomically publishes the result.
// registrationOrder lists the same client names active also holds, in
// client registration order: graph.TopoSort breaks ties by the position
// of a name in the slice it is given, so the caller (session.Manager,
// which alone knows registration order) must supply it instead of this
// function deriving an order by ranging over active, which Go randomizes.
// On a cycle (graph.ErrCycle) the previous snapshot is retained unchanged
// and an error is returned describing the rejected mutation.
func (c *Compiler) Compile(active map[string]patchbay.Client, registrationOrder []string, ties map[patchbay.PortID]patchbay.PortID) (*Snapshot, error) {
	const op = "compiler.Compile"

	ports := c.registry.Snapshot()
	portByID := make(map[patchbay.PortID]port.Port, len(ports))
	ownerOf := make(map[patchbay.PortID]string, len(ports))
	for _, p := range ports {
		portByID[p.ID] = p
		ownerOf[p.ID] = p.Client
	}

	nodes := registrationOrder

	connections := c.conns.Snapshot()
	edges := make(map[string][]string)
	for _, edge := range connections {
		srcOwner, srcOK := ownerOf[edge.Src]
		dstOwner, dstOK := ownerOf[edge.Dst]
		if !srcOK || !dstOK {
			continue
		}
		if _, ok := active[srcOwner]; !ok {
			continue
		}
		if _, ok := active[dstOwner]; !ok {
			continue
		}
		edges[srcOwner] = append(edges[srcOwner], dstOwner)
	}

	order, err := graph.TopoSort(nodes, edges)
	if err != nil {
		c.logger.Warn().Err(err).Msg("compile rejected: cycle in active client graph")
		c.reportOutcome("rejected")
		return nil, patchbay.NewError(op, patchbay.KindWouldCycle, err)
	}

	routing := make(map[patchbay.PortID]Routing)
	var warmOutputs, warmScratch []patchbay.PortID
	for _, p := range ports {
		if _, ok := active[p.Client]; !ok {
			continue
		}
		if !p.Flags.Has(patchbay.IsInput) {
			continue
		}

		var sources []patchbay.PortID
		for _, src := range c.conns.Sources(p.ID) {
			owner, ok := ownerOf[src]
			if !ok {
				continue
			}
			if _, ok := active[owner]; !ok {
				continue
			}
			sources = append(sources, src)
		}

		switch len(sources) {
		case 0:
			routing[p.ID] = Routing{Kind: Zero}
		case 1:
			routing[p.ID] = Routing{Kind: Alias, Alias: sources[0]}
		default:
			if p.Type != patchbay.BuiltinAudioType {
				c.logger.Warn().Str("port", p.FQName()).Str("type", p.Type).Int("sources", len(sources)).
					Msg("compile rejected: fan-in on a non-builtin port type")
				c.reportOutcome("rejected")
				return nil, patchbay.NewError(op, patchbay.KindInvalidState,
					fmt.Errorf("port %s has %d inbound connections but type %q has no defined mix semantics", p.FQName(), len(sources), p.Type))
			}
			routing[p.ID] = Routing{Kind: Sum, Sources: sources}
			warmScratch = append(warmScratch, p.ID)
		}
	}

	runList := make([]ClientPlan, 0, len(order))
	for _, name := range order {
		plan := ClientPlan{Name: name, Client: active[name]}
		for _, p := range ports {
			if p.Client != name {
				continue
			}
			if p.Flags.Has(patchbay.IsInput) {
				plan.Inputs = append(plan.Inputs, p.ID)
			} else {
				plan.Outputs = append(plan.Outputs, p.ID)
				warmOutputs = append(warmOutputs, p.ID)
			}
		}
		runList = append(runList, plan)
	}

	latency := computeLatency(ports, connections, ties, ownerOf)

	c.gen++
	snap := &Snapshot{
		Generation:  c.gen,
		RunList:     runList,
		Routing:     routing,
		Ties:        ties,
		Latency:     latency,
		Pool:        c.pool,
		WarmOutputs: warmOutputs,
		WarmScratch: warmScratch,
	}
	c.current.Store(snap)
	c.reportOutcome("ok")
	return snap, nil
}

func (c *Compiler) reportOutcome(outcome string) {
	if c.onCompile != nil {
		c.onCompile(outcome)
	}
}
