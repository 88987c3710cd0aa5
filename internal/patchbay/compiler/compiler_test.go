/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package compiler

import (
	"context"
	"testing"

	"github.com/friendsincode/patchbay/internal/patchbay"
	"github.com/friendsincode/patchbay/internal/patchbay/buffer"
	"github.com/friendsincode/patchbay/internal/patchbay/conn"
	"github.com/friendsincode/patchbay/internal/patchbay/port"
)

type noopClient struct{ name string }

func (c noopClient) Name() string                                    { return c.name }
func (c noopClient) RunProcess(ctx context.Context, nframes int) error { return nil }

// activeSet returns both the map Compile's active argument expects and the
// names in the order given, standing in for the registration order
// session.Manager computes from clientEntry.id.Index.
func activeSet(names ...string) (map[string]patchbay.Client, []string) {
	m := make(map[string]patchbay.Client, len(names))
	for _, n := range names {
		m[n] = noopClient{n}
	}
	order := append([]string(nil), names...)
	return m, order
}

func TestCompileOrdersProducerBeforeConsumer(t *testing.T) {
	reg := port.NewRegistry()
	conns := conn.NewSet(reg)
	pool := buffer.NewPool(4)
	comp := New(reg, conns, pool)

	aOut, _ := reg.Register("A", "out", patchbay.BuiltinAudioType, patchbay.IsOutput, 0)
	bIn, _ := reg.Register("B", "in", patchbay.BuiltinAudioType, patchbay.IsInput, 0)
	conns.Connect(aOut, bIn, "A")

	active, order := activeSet("B", "A")
	snap, err := comp.Compile(active, order, nil)
	if err != nil {
		t.Fatalf("Compile failed: %v", err)
	}
	if len(snap.RunList) != 2 || snap.RunList[0].Name != "A" || snap.RunList[1].Name != "B" {
		t.Fatalf("RunList = %+v, want [A B]", snap.RunList)
	}
}

// TestCompileOrdersUnconnectedClientsByRegistrationOrder is the
// compiler-level counterpart to kahn_test.go's
// TestTopoSortBreaksTiesByRegistrationOrder: with no edges between two
// clients at all, graph.TopoSort has nothing to order by but the position
// of each name in the slice Compile was given, so the run-list must land
// in exactly that order, unchanged, across repeated compiles.
func TestCompileOrdersUnconnectedClientsByRegistrationOrder(t *testing.T) {
	reg := port.NewRegistry()
	conns := conn.NewSet(reg)
	pool := buffer.NewPool(4)
	comp := New(reg, conns, pool)

	reg.Register("Z", "out", patchbay.BuiltinAudioType, patchbay.IsOutput, 0)
	reg.Register("A", "out", patchbay.BuiltinAudioType, patchbay.IsOutput, 0)

	active, order := activeSet("Z", "A")
	for i := 0; i < 3; i++ {
		snap, err := comp.Compile(active, order, nil)
		if err != nil {
			t.Fatalf("Compile #%d failed: %v", i, err)
		}
		if len(snap.RunList) != 2 || snap.RunList[0].Name != "Z" || snap.RunList[1].Name != "A" {
			t.Fatalf("compile #%d: RunList = %+v, want [Z A] (registration order)", i, snap.RunList)
		}
	}
}

// TestCompileNeverReceivesACycle checks that the connection set's own
// WouldCycle guard is sufficient to keep every compile the compiler ever
// sees acyclic: B->A is refused up front, so a second compile after the
// refused attempt still succeeds and simply advances the generation.
func TestCompileNeverReceivesACycle(t *testing.T) {
	reg := port.NewRegistry()
	conns := conn.NewSet(reg)
	pool := buffer.NewPool(4)
	comp := New(reg, conns, pool)

	aOut, _ := reg.Register("A", "out", patchbay.BuiltinAudioType, patchbay.IsOutput, 0)
	aIn, _ := reg.Register("A", "in", patchbay.BuiltinAudioType, patchbay.IsInput, 0)
	bOut, _ := reg.Register("B", "out", patchbay.BuiltinAudioType, patchbay.IsOutput, 0)
	bIn, _ := reg.Register("B", "in", patchbay.BuiltinAudioType, patchbay.IsInput, 0)
	conns.Connect(aOut, bIn, "A")

	active, order := activeSet("A", "B")
	first, err := comp.Compile(active, order, nil)
	if err != nil {
		t.Fatalf("first Compile failed: %v", err)
	}

	if err := conns.Connect(bOut, aIn, "B"); !patchbay.IsKind(err, patchbay.KindWouldCycle) {
		t.Fatalf("expected the connection set to refuse B->A, got %v", err)
	}

	second, err := comp.Compile(active, order, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if second.Generation != first.Generation+1 {
		t.Fatalf("Generation = %d, want %d", second.Generation, first.Generation+1)
	}
	if comp.Load() != second {
		t.Fatalf("expected Load() to return the latest snapshot")
	}
}

func TestCompileRejectsNonBuiltinFanIn(t *testing.T) {
	reg := port.NewRegistry()
	conns := conn.NewSet(reg)
	pool := buffer.NewPool(4)
	comp := New(reg, conns, pool)

	aOut, _ := reg.Register("A", "out", "8 bit raw midi", patchbay.IsOutput, 4)
	bOut, _ := reg.Register("B", "out", "8 bit raw midi", patchbay.IsOutput, 4)
	cIn, _ := reg.Register("C", "in", "8 bit raw midi", patchbay.IsInput, 4)
	conns.Connect(aOut, cIn, "A")
	conns.Connect(bOut, cIn, "B")

	active, order := activeSet("A", "B", "C")
	if _, err := comp.Compile(active, order, nil); !patchbay.IsKind(err, patchbay.KindInvalidState) {
		t.Fatalf("expected KindInvalidState for non-builtin fan-in, got %v", err)
	}
	if comp.Load() != nil {
		t.Fatalf("expected no snapshot published after a rejected compile")
	}
}

func TestCompileRoutingZeroAliasSum(t *testing.T) {
	reg := port.NewRegistry()
	conns := conn.NewSet(reg)
	pool := buffer.NewPool(4)
	comp := New(reg, conns, pool)

	aOut, _ := reg.Register("A", "out", patchbay.BuiltinAudioType, patchbay.IsOutput, 0)
	bOut, _ := reg.Register("B", "out", patchbay.BuiltinAudioType, patchbay.IsOutput, 0)
	zeroIn, _ := reg.Register("Z", "in", patchbay.BuiltinAudioType, patchbay.IsInput, 0)
	aliasIn, _ := reg.Register("Y", "in", patchbay.BuiltinAudioType, patchbay.IsInput, 0)
	sumIn, _ := reg.Register("X", "in", patchbay.BuiltinAudioType, patchbay.IsInput, 0)
	conns.Connect(aOut, aliasIn, "A")
	conns.Connect(aOut, sumIn, "A")
	conns.Connect(bOut, sumIn, "B")

	active, order := activeSet("A", "B", "X", "Y", "Z")
	snap, err := comp.Compile(active, order, nil)
	if err != nil {
		t.Fatalf("Compile failed: %v", err)
	}
	if snap.Routing[zeroIn].Kind != Zero {
		t.Fatalf("expected Zero routing for unconnected input")
	}
	if snap.Routing[aliasIn].Kind != Alias || snap.Routing[aliasIn].Alias != aOut {
		t.Fatalf("expected Alias routing to A:out, got %+v", snap.Routing[aliasIn])
	}
	if snap.Routing[sumIn].Kind != Sum || len(snap.Routing[sumIn].Sources) != 2 {
		t.Fatalf("expected Sum routing with 2 sources, got %+v", snap.Routing[sumIn])
	}
}

// TestLatencyPropagationMatchesWorkedExample is scenario 6: a chain
// A:in(64) -> A:out(0) -> B:in(0) -> B:out(128) -> OUT:in(32, terminal)
// must total 224 frames at A:in.
func TestLatencyPropagationMatchesWorkedExample(t *testing.T) {
	reg := port.NewRegistry()
	conns := conn.NewSet(reg)
	pool := buffer.NewPool(4)
	comp := New(reg, conns, pool)

	aIn, _ := reg.Register("A", "in", patchbay.BuiltinAudioType, patchbay.IsInput, 0)
	aOut, _ := reg.Register("A", "out", patchbay.BuiltinAudioType, patchbay.IsOutput, 0)
	bIn, _ := reg.Register("B", "in", patchbay.BuiltinAudioType, patchbay.IsInput, 0)
	bOut, _ := reg.Register("B", "out", patchbay.BuiltinAudioType, patchbay.IsOutput, 0)
	outIn, _ := reg.Register("OUT", "in", patchbay.BuiltinAudioType, patchbay.IsInput|patchbay.IsTerminal, 0)

	reg.SetLatency(aIn, 64)
	reg.SetLatency(aOut, 0)
	reg.SetLatency(bIn, 0)
	reg.SetLatency(bOut, 128)
	reg.SetLatency(outIn, 32)

	conns.Connect(aOut, bIn, "A")
	conns.Connect(bOut, outIn, "B")

	active, order := activeSet("A", "B", "OUT")
	snap, err := comp.Compile(active, order, nil)
	if err != nil {
		t.Fatalf("Compile failed: %v", err)
	}
	if got := snap.Latency[aIn]; got != 224 {
		t.Fatalf("total_latency(A:in) = %d, want 224", got)
	}
	if got := snap.Latency[outIn]; got != 32 {
		t.Fatalf("total_latency(OUT:in) = %d, want 32 (terminal = own declared latency)", got)
	}
}
