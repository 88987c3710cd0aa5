/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package driver

import (
	"context"
	"errors"
	"testing"

	"github.com/friendsincode/patchbay/internal/patchbay"
	"github.com/friendsincode/patchbay/internal/patchbay/buffer"
	"github.com/friendsincode/patchbay/internal/patchbay/compiler"
	"github.com/friendsincode/patchbay/internal/patchbay/conn"
	"github.com/friendsincode/patchbay/internal/patchbay/port"
)

// scriptedClient runs an arbitrary function against the shared pool each
// cycle, standing in for a real client's process callback.
type scriptedClient struct {
	name string
	run  func(pool *buffer.Pool) error
}

func (c *scriptedClient) Name() string { return c.name }
func (c *scriptedClient) RunProcess(ctx context.Context, nframes int) error {
	return c.run(nil)
}

func writer(pool *buffer.Pool, out patchbay.PortID, values []float32) func(*buffer.Pool) error {
	return func(*buffer.Pool) error {
		copy(pool.Output(out), values)
		return nil
	}
}

// TestCycleFanInSum is scenario 3: two producers feeding one consumer's
// input must see the exact elementwise sum of both outputs.
func TestCycleFanInSum(t *testing.T) {
	reg := port.NewRegistry()
	conns := conn.NewSet(reg)
	pool := buffer.NewPool(4)
	comp := compiler.New(reg, conns, pool)

	aOut, _ := reg.Register("A", "out", patchbay.BuiltinAudioType, patchbay.IsOutput, 0)
	bOut, _ := reg.Register("B", "out", patchbay.BuiltinAudioType, patchbay.IsOutput, 0)
	cIn, _ := reg.Register("C", "in", patchbay.BuiltinAudioType, patchbay.IsInput, 0)
	conns.Connect(aOut, cIn, "A")
	conns.Connect(bOut, cIn, "B")

	var seen []float32
	a := &scriptedClient{name: "A", run: writer(pool, aOut, []float32{1, 1, 1, 1})}
	b := &scriptedClient{name: "B", run: writer(pool, bOut, []float32{2.5, -0.5, 0, 4})}
	c := &scriptedClient{name: "C", run: func(*buffer.Pool) error {
		seen = append([]float32(nil), pool.Scratch(cIn)...)
		return nil
	}}

	active := map[string]patchbay.Client{"A": a, "B": b, "C": c}
	if _, err := comp.Compile(active, []string{"A", "B", "C"}, nil); err != nil {
		t.Fatalf("Compile failed: %v", err)
	}

	d := New(comp, nil, 0, 1, Hooks{})
	d.RunCycle(context.Background(), 4)

	want := []float32{3.5, 0.5, 1, 5}
	if len(seen) != len(want) {
		t.Fatalf("seen = %v, want %v", seen, want)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Fatalf("seen = %v, want %v", seen, want)
		}
	}
}

// TestCycleTiePassesThroughExternalInputRegardlessOfOwnWrite is scenario
// 4: a client that ties its input straight to its output must emit
// whatever arrived on the input, even if its own process callback wrote
// something else to that output port.
func TestCycleTiePassesThroughExternalInputRegardlessOfOwnWrite(t *testing.T) {
	reg := port.NewRegistry()
	conns := conn.NewSet(reg)
	pool := buffer.NewPool(4)
	comp := compiler.New(reg, conns, pool)

	yOut, _ := reg.Register("Y", "out", patchbay.BuiltinAudioType, patchbay.IsOutput, 0)
	xIn, _ := reg.Register("X", "in", patchbay.BuiltinAudioType, patchbay.IsInput, 0)
	xOut, _ := reg.Register("X", "out", patchbay.BuiltinAudioType, patchbay.IsOutput, 0)
	zIn, _ := reg.Register("Z", "in", patchbay.BuiltinAudioType, patchbay.IsInput, 0)
	conns.Connect(yOut, xIn, "Y")
	conns.Connect(xOut, zIn, "X")

	y := &scriptedClient{name: "Y", run: writer(pool, yOut, []float32{7, 7, 7, 7})}
	x := &scriptedClient{name: "X", run: writer(pool, xOut, []float32{9, 9, 9, 9})}
	var seen []float32
	z := &scriptedClient{name: "Z", run: func(*buffer.Pool) error {
		seen = append([]float32(nil), pool.Output(xOut)...)
		return nil
	}}

	active := map[string]patchbay.Client{"Y": y, "X": x, "Z": z}
	ties := map[patchbay.PortID]patchbay.PortID{xIn: xOut}
	if _, err := comp.Compile(active, []string{"Y", "X", "Z"}, ties); err != nil {
		t.Fatalf("Compile failed: %v", err)
	}

	d := New(comp, nil, 0, 1, Hooks{})
	d.RunCycle(context.Background(), 4)

	want := []float32{7, 7, 7, 7}
	for i := range want {
		if seen[i] != want[i] {
			t.Fatalf("seen = %v, want %v (tie should override X's own write)", seen, want)
		}
	}
}

// TestCycleOverrunZeroesOutputAndFiresHookButChainContinues is scenario 5:
// a client that errors out mid-chain reports zeros downstream, an Overrun
// hook fires, and the rest of the run-list still executes that cycle.
func TestCycleOverrunZeroesOutputAndFiresHookButChainContinues(t *testing.T) {
	reg := port.NewRegistry()
	conns := conn.NewSet(reg)
	pool := buffer.NewPool(4)
	comp := compiler.New(reg, conns, pool)

	aOut, _ := reg.Register("A", "out", patchbay.BuiltinAudioType, patchbay.IsOutput, 0)
	yIn, _ := reg.Register("Y", "in", patchbay.BuiltinAudioType, patchbay.IsInput, 0)
	yOut, _ := reg.Register("Y", "out", patchbay.BuiltinAudioType, patchbay.IsOutput, 0)
	zIn, _ := reg.Register("Z", "in", patchbay.BuiltinAudioType, patchbay.IsInput, 0)
	conns.Connect(aOut, yIn, "A")
	conns.Connect(yOut, zIn, "Y")

	a := &scriptedClient{name: "A", run: writer(pool, aOut, []float32{1, 2, 3, 4})}
	overran := errors.New("deadline exceeded")
	y := &scriptedClient{name: "Y", run: func(*buffer.Pool) error {
		copy(pool.Output(yOut), []float32{9, 9, 9, 9}) // written, but must be zeroed after the error
		return overran
	}}
	var zRan bool
	var seen []float32
	z := &scriptedClient{name: "Z", run: func(*buffer.Pool) error {
		zRan = true
		seen = append([]float32(nil), pool.Output(yOut)...)
		return nil
	}}

	active := map[string]patchbay.Client{"A": a, "Y": y, "Z": z}
	if _, err := comp.Compile(active, []string{"A", "Y", "Z"}, nil); err != nil {
		t.Fatalf("Compile failed: %v", err)
	}

	var overrunClient string
	var lostClient string
	hooks := Hooks{
		Overrun:    func(name string) { overrunClient = name },
		ClientLost: func(name string) { lostClient = name },
	}
	d := New(comp, nil, 0, 3, hooks)
	d.RunCycle(context.Background(), 4)

	if overrunClient != "Y" {
		t.Fatalf("overrunClient = %q, want Y", overrunClient)
	}
	if lostClient != "" {
		t.Fatalf("lostClient = %q, want empty (one overrun is below the 3-strike threshold)", lostClient)
	}
	if !zRan {
		t.Fatalf("expected Z to still run despite Y's overrun")
	}
	for i, v := range seen {
		if v != 0 {
			t.Fatalf("seen[%d] = %v, want 0 after Y's overrun", i, v)
		}
	}
}

// TestCycleClientLostAfterConsecutiveOverruns verifies the maxOverrunsLost
// streak threshold fires ClientLost on the second consecutive overrun and
// not on the first.
func TestCycleClientLostAfterConsecutiveOverruns(t *testing.T) {
	reg := port.NewRegistry()
	conns := conn.NewSet(reg)
	pool := buffer.NewPool(4)
	comp := compiler.New(reg, conns, pool)

	reg.Register("A", "out", patchbay.BuiltinAudioType, patchbay.IsOutput, 0)
	failing := &scriptedClient{name: "A", run: func(*buffer.Pool) error { return errors.New("boom") }}

	active := map[string]patchbay.Client{"A": failing}
	if _, err := comp.Compile(active, []string{"A"}, nil); err != nil {
		t.Fatalf("Compile failed: %v", err)
	}

	var lostCount int
	hooks := Hooks{ClientLost: func(string) { lostCount++ }}
	d := New(comp, nil, 0, 2, hooks)

	d.RunCycle(context.Background(), 4)
	if lostCount != 0 {
		t.Fatalf("expected no ClientLost after 1 overrun, got %d", lostCount)
	}
	d.RunCycle(context.Background(), 4)
	if lostCount != 1 {
		t.Fatalf("expected ClientLost after 2 consecutive overruns, got %d", lostCount)
	}
}
