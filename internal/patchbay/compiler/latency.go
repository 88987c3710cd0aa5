/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package compiler

import (
	"github.com/friendsincode/patchbay/internal/patchbay"
	"github.com/friendsincode/patchbay/internal/patchbay/conn"
	"github.com/friendsincode/patchbay/internal/patchbay/port"
)

// computeLatency implements §4.8: total latency of a port is the maximum,
// over every path from that port to any terminal port, of the sum of
// declared per-port latencies along the path (including both endpoints).
//
// Paths follow two kinds of forward edge: a real connection (source output
// to destination input), and a same-client pseudo-edge from an input port
// to an output port standing in for the client's opaque internal
// processing (spec §3 invariant 3). A terminal port is a dead end for
// both: per invariant 4 it carries no pseudo-edge in either role, and its
// total latency is defined as simply its own declared latency regardless
// of anything wired downstream of it.
func computeLatency(ports []port.Port, connections []conn.Connection, ties map[patchbay.PortID]patchbay.PortID, ownerOf map[patchbay.PortID]string) map[patchbay.PortID]int {
	byID := make(map[patchbay.PortID]port.Port, len(ports))
	for _, p := range ports {
		byID[p.ID] = p
	}

	successors := make(map[patchbay.PortID][]patchbay.PortID)
	for _, c := range connections {
		successors[c.Src] = append(successors[c.Src], c.Dst)
	}

	byClient := make(map[string][]port.Port)
	for _, p := range ports {
		byClient[p.Client] = append(byClient[p.Client], p)
	}
	for _, clientPorts := range byClient {
		var ins, outs []port.Port
		for _, p := range clientPorts {
			if p.Flags.Has(patchbay.IsTerminal) {
				continue
			}
			if p.Flags.Has(patchbay.IsInput) {
				ins = append(ins, p)
			} else {
				outs = append(outs, p)
			}
		}
		for _, in := range ins {
			for _, out := range outs {
				successors[in.ID] = append(successors[in.ID], out.ID)
			}
		}
	}

	memo := make(map[patchbay.PortID]int, len(ports))
	visiting := make(map[patchbay.PortID]bool, len(ports))

	var resolve func(id patchbay.PortID) int
	resolve = func(id patchbay.PortID) int {
		if v, ok := memo[id]; ok {
			return v
		}
		p := byID[id]
		if p.Flags.Has(patchbay.IsTerminal) {
			memo[id] = p.Latency
			return p.Latency
		}
		if visiting[id] {
			// Defensive only: the client-level graph is verified acyclic
			// before compilation reaches this point, so a port-level cycle
			// should be unreachable.
			return p.Latency
		}
		visiting[id] = true

		best := 0
		for _, succ := range successors[id] {
			if v := resolve(succ); v > best {
				best = v
			}
		}
		total := p.Latency + best
		memo[id] = total
		visiting[id] = false
		return total
	}

	out := make(map[patchbay.PortID]int, len(ports))
	for _, p := range ports {
		out[p.ID] = resolve(p.ID)
	}
	return out
}
