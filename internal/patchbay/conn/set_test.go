/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package conn

import (
	"testing"

	"github.com/friendsincode/patchbay/internal/patchbay"
	"github.com/friendsincode/patchbay/internal/patchbay/port"
)

func newRig() (*port.Registry, *Set) {
	r := port.NewRegistry()
	return r, NewSet(r)
}

// TestConnectSelfLoopWouldCycle is scenario 1 from the testable-properties
// list: a client wiring its own output back to its own input must be
// rejected, since the client node is treated as opaque and a same-client
// edge is a self-loop in the client-level graph.
func TestConnectSelfLoopWouldCycle(t *testing.T) {
	r, s := newRig()
	out, _ := r.Register("A", "out", patchbay.BuiltinAudioType, patchbay.IsOutput, 0)
	in, _ := r.Register("A", "in", patchbay.BuiltinAudioType, patchbay.IsInput, 0)

	if err := s.Connect(out, in, "A"); !patchbay.IsKind(err, patchbay.KindWouldCycle) {
		t.Fatalf("expected KindWouldCycle, got %v", err)
	}
}

// TestConnectTwoClientCycle is scenario 2: A->B then B->A must be rejected
// on the second connection once it would close the loop.
func TestConnectTwoClientCycle(t *testing.T) {
	r, s := newRig()
	aOut, _ := r.Register("A", "out", patchbay.BuiltinAudioType, patchbay.IsOutput, 0)
	aIn, _ := r.Register("A", "in", patchbay.BuiltinAudioType, patchbay.IsInput, 0)
	bOut, _ := r.Register("B", "out", patchbay.BuiltinAudioType, patchbay.IsOutput, 0)
	bIn, _ := r.Register("B", "in", patchbay.BuiltinAudioType, patchbay.IsInput, 0)

	if err := s.Connect(aOut, bIn, "A"); err != nil {
		t.Fatalf("A->B should succeed: %v", err)
	}
	if err := s.Connect(bOut, aIn, "B"); !patchbay.IsKind(err, patchbay.KindWouldCycle) {
		t.Fatalf("expected KindWouldCycle for B->A, got %v", err)
	}
}

func TestConnectWrongDirectionRejected(t *testing.T) {
	r, s := newRig()
	aOut, _ := r.Register("A", "out", patchbay.BuiltinAudioType, patchbay.IsOutput, 0)
	bOut, _ := r.Register("B", "out", patchbay.BuiltinAudioType, patchbay.IsOutput, 0)

	if err := s.Connect(aOut, bOut, "A"); !patchbay.IsKind(err, patchbay.KindWrongDirection) {
		t.Fatalf("expected KindWrongDirection, got %v", err)
	}
}

func TestConnectTypeMismatchRejected(t *testing.T) {
	r, s := newRig()
	aOut, _ := r.Register("A", "out", patchbay.BuiltinAudioType, patchbay.IsOutput, 0)
	bIn, _ := r.Register("B", "in", "8 bit raw midi", patchbay.IsInput, 0)

	if err := s.Connect(aOut, bIn, "A"); !patchbay.IsKind(err, patchbay.KindTypeMismatch) {
		t.Fatalf("expected KindTypeMismatch, got %v", err)
	}
}

func TestConnectDuplicateRejected(t *testing.T) {
	r, s := newRig()
	aOut, _ := r.Register("A", "out", patchbay.BuiltinAudioType, patchbay.IsOutput, 0)
	bIn, _ := r.Register("B", "in", patchbay.BuiltinAudioType, patchbay.IsInput, 0)

	if err := s.Connect(aOut, bIn, "A"); err != nil {
		t.Fatalf("first connect failed: %v", err)
	}
	if err := s.Connect(aOut, bIn, "A"); !patchbay.IsKind(err, patchbay.KindDuplicate) {
		t.Fatalf("expected KindDuplicate, got %v", err)
	}
}

func TestConnectLockedPortRejectsOtherCaller(t *testing.T) {
	r, s := newRig()
	aOut, _ := r.Register("A", "out", patchbay.BuiltinAudioType, patchbay.IsOutput, 0)
	bIn, _ := r.Register("B", "in", patchbay.BuiltinAudioType, patchbay.IsInput, 0)
	r.Lock(bIn, "B")

	if err := s.Connect(aOut, bIn, "A"); !patchbay.IsKind(err, patchbay.KindLocked) {
		t.Fatalf("expected KindLocked, got %v", err)
	}
}

func TestDisconnectAllOnPortRemoval(t *testing.T) {
	r, s := newRig()
	aOut, _ := r.Register("A", "out", patchbay.BuiltinAudioType, patchbay.IsOutput, 0)
	bIn, _ := r.Register("B", "in", patchbay.BuiltinAudioType, patchbay.IsInput, 0)
	s.Connect(aOut, bIn, "A")

	s.DisconnectAll(aOut)
	if s.Connected(aOut, bIn) {
		t.Fatalf("expected connection removed after DisconnectAll")
	}
	if len(s.Sources(bIn)) != 0 {
		t.Fatalf("expected no sources left for bIn")
	}
}

func TestConnectedEither(t *testing.T) {
	r, s := newRig()
	aOut, _ := r.Register("A", "out", patchbay.BuiltinAudioType, patchbay.IsOutput, 0)
	bIn, _ := r.Register("B", "in", patchbay.BuiltinAudioType, patchbay.IsInput, 0)
	s.Connect(aOut, bIn, "A")

	if !s.ConnectedEither(bIn, aOut) {
		t.Fatalf("expected ConnectedEither true regardless of argument order")
	}
}
