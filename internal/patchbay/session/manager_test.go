/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package session

import (
	"context"
	"testing"
	"time"

	"github.com/friendsincode/patchbay/internal/events"
	"github.com/friendsincode/patchbay/internal/patchbay"
	"github.com/friendsincode/patchbay/internal/patchbay/buffer"
	"github.com/friendsincode/patchbay/internal/patchbay/compiler"
	"github.com/friendsincode/patchbay/internal/patchbay/conn"
	"github.com/friendsincode/patchbay/internal/patchbay/port"
)

type fakeClient struct {
	name      string
	notified  []string
	shutdowns []error
}

func (c *fakeClient) Name() string                                    { return c.name }
func (c *fakeClient) RunProcess(ctx context.Context, nframes int) error { return nil }
func (c *fakeClient) Notify(event string, payload map[string]any)     { c.notified = append(c.notified, event) }
func (c *fakeClient) Shutdown(reason error)                            { c.shutdowns = append(c.shutdowns, reason) }

func newManager() *Manager {
	reg := port.NewRegistry()
	conns := conn.NewSet(reg)
	pool := buffer.NewPool(4)
	comp := compiler.New(reg, conns, pool)
	return New(reg, conns, comp, events.NewBus())
}

func TestRegisterClientRejectsDuplicateName(t *testing.T) {
	m := newManager()
	if _, err := m.RegisterClient("A", &fakeClient{name: "A"}); err != nil {
		t.Fatalf("first RegisterClient failed: %v", err)
	}
	if _, err := m.RegisterClient("A", &fakeClient{name: "A"}); !patchbay.IsKind(err, patchbay.KindDuplicate) {
		t.Fatalf("expected KindDuplicate, got %v", err)
	}
}

func TestActivateRequiresRegisteredState(t *testing.T) {
	m := newManager()
	if err := m.Activate("ghost", 48000); !patchbay.IsKind(err, patchbay.KindNotFound) {
		t.Fatalf("expected KindNotFound, got %v", err)
	}

	m.RegisterClient("A", &fakeClient{name: "A"})
	if err := m.Activate("A", 48000); err != nil {
		t.Fatalf("Activate failed: %v", err)
	}
	if err := m.Activate("A", 48000); !patchbay.IsKind(err, patchbay.KindInvalidState) {
		t.Fatalf("expected KindInvalidState re-activating an already-active client, got %v", err)
	}
}

func TestActivateDeliversOneShotSampleRateNotification(t *testing.T) {
	m := newManager()
	client := &fakeClient{name: "A"}
	m.RegisterClient("A", client)
	if err := m.Activate("A", 44100); err != nil {
		t.Fatalf("Activate failed: %v", err)
	}
	found := false
	for _, n := range client.notified {
		if n == "sample_rate_changed" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a sample_rate_changed notification, got %v", client.notified)
	}
}

func TestActivatePublishesEventOnBus(t *testing.T) {
	m := newManager()
	sub := m.bus.Subscribe(events.EventClientActivated)
	m.RegisterClient("A", &fakeClient{name: "A"})
	m.Activate("A", 48000)

	select {
	case payload := <-sub:
		if payload["client"] != "A" {
			t.Fatalf("payload = %v, want client=A", payload)
		}
	case <-time.After(time.Second):
		t.Fatalf("expected EventClientActivated to be published")
	}
}

func TestCloseUnregistersPortsAndReleasesLocks(t *testing.T) {
	m := newManager()
	m.RegisterClient("A", &fakeClient{name: "A"})
	m.Activate("A", 48000)
	id, err := m.RegisterPort("A", "out", patchbay.BuiltinAudioType, patchbay.IsOutput, 0)
	if err != nil {
		t.Fatalf("RegisterPort failed: %v", err)
	}
	m.Lock(id, "A")
	m.RegisterClient("B", &fakeClient{name: "B"})
	bID, err := m.RegisterPort("B", "in", patchbay.BuiltinAudioType, patchbay.IsInput, 0)
	if err != nil {
		t.Fatalf("RegisterPort failed: %v", err)
	}
	if err := m.Lock(bID, "A"); err != nil {
		t.Fatalf("Lock failed: %v", err)
	}

	if err := m.Close("A"); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if m.registry.IsLockedByOther(bID, "B") {
		t.Fatalf("expected A's lock on B:in released after Close")
	}
	if _, found := m.ClientState("A"); found {
		t.Fatalf("expected client removed after Close")
	}
	if _, err := m.registry.Get(id); !patchbay.IsKind(err, patchbay.KindNotFound) {
		t.Fatalf("expected the port gone after Close, got %v", err)
	}
}

func TestMarkLostRunsShutdownHandlerBeforeTerminating(t *testing.T) {
	m := newManager()
	client := &fakeClient{name: "A"}
	m.RegisterClient("A", client)
	m.Activate("A", 48000)

	if err := m.MarkLost("A", patchbay.NewError("test", patchbay.KindOverrun, nil)); err != nil {
		t.Fatalf("MarkLost failed: %v", err)
	}
	if len(client.shutdowns) != 1 {
		t.Fatalf("expected exactly one Shutdown call, got %d", len(client.shutdowns))
	}
	if _, found := m.ClientState("A"); found {
		t.Fatalf("expected client removed after MarkLost")
	}
}

func TestTieAndUntieThroughManager(t *testing.T) {
	m := newManager()
	m.RegisterClient("X", &fakeClient{name: "X"})
	m.Activate("X", 48000)
	m.RegisterPort("X", "in", patchbay.BuiltinAudioType, patchbay.IsInput, 0)
	m.RegisterPort("X", "out", patchbay.BuiltinAudioType, patchbay.IsOutput, 0)

	if err := m.Tie("X:in", "X:out"); err != nil {
		t.Fatalf("Tie failed: %v", err)
	}
	out, _ := m.registry.Lookup("X:out")
	if err := m.Untie(out.ID); err != nil {
		t.Fatalf("Untie failed: %v", err)
	}
}

func TestAcquireTimebaseIsExclusive(t *testing.T) {
	m := newManager()
	if err := m.AcquireTimebase("A"); err != nil {
		t.Fatalf("AcquireTimebase failed: %v", err)
	}
	if err := m.AcquireTimebase("B"); err == nil {
		t.Fatalf("expected B to be refused while A holds the timebase role")
	}
	master, held := m.TimebaseMaster()
	if !held || master != "A" {
		t.Fatalf("TimebaseMaster() = (%q, %v), want (A, true)", master, held)
	}
}

func TestDeactivateReleasesTimebaseRole(t *testing.T) {
	m := newManager()
	m.RegisterClient("A", &fakeClient{name: "A"})
	m.Activate("A", 48000)
	m.AcquireTimebase("A")

	if err := m.Deactivate("A"); err != nil {
		t.Fatalf("Deactivate failed: %v", err)
	}
	if _, held := m.TimebaseMaster(); held {
		t.Fatalf("expected timebase role released on deactivate")
	}
}
