package notify

import (
	"testing"
	"time"

	"github.com/friendsincode/patchbay/internal/events"
	"github.com/rs/zerolog"
)

func TestNewBusFallsBackWhenNATSUnavailable(t *testing.T) {
	cfg := DefaultConfig()
	cfg.URL = "nats://127.0.0.1:1" // nothing listens here
	cfg.Timeout = 100 * time.Millisecond
	cfg.MaxReconnects = 0

	bus, err := NewBus(cfg, "test-node", zerolog.Nop())
	if err != nil {
		t.Fatalf("NewBus returned error: %v", err)
	}
	if !bus.useFallback {
		t.Fatal("expected bus to fall back to local-only delivery")
	}

	sub := bus.Subscribe(events.EventPortRegistered)
	bus.Publish(events.EventPortRegistered, events.Payload{"port": "synth:out_1"})

	select {
	case payload := <-sub:
		if payload["port"] != "synth:out_1" {
			t.Fatalf("unexpected payload: %v", payload)
		}
	case <-time.After(time.Second):
		t.Fatal("expected locally published event to be delivered")
	}
}

func TestSubjectForUsesConfiguredPrefix(t *testing.T) {
	bus := &Bus{subject: "patchbay.events"}
	got := bus.subjectFor(events.EventOverrun)
	want := "patchbay.events.overrun"
	if got != want {
		t.Fatalf("subjectFor() = %q, want %q", got, want)
	}
}

func TestMarshalUnmarshalEnvelopeRoundTrip(t *testing.T) {
	data, err := marshalEnvelope(events.EventClientLost, events.Payload{"client": "mixer"}, "node-a")
	if err != nil {
		t.Fatalf("marshalEnvelope: %v", err)
	}
	e, err := unmarshalEnvelope(data)
	if err != nil {
		t.Fatalf("unmarshalEnvelope: %v", err)
	}
	if e.EventType != events.EventClientLost || e.NodeID != "node-a" || e.Payload["client"] != "mixer" {
		t.Fatalf("unexpected envelope: %+v", e)
	}
}
