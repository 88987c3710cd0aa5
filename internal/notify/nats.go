/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package notify mirrors control-domain notifications onto NATS subjects
// for out-of-process monitors. There is no persisted session state anywhere
// in this design, so unlike a work queue this is plain publish/subscribe:
// a monitor that isn't listening when an event fires simply misses it.
package notify

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/friendsincode/patchbay/internal/events"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// Bus implements a NATS-backed mirror of the in-process event bus. Every
// Publish call lands on the in-process fallback bus first so local
// subscribers are unaffected by NATS availability, then best-effort
// fans out to NATS for external monitors.
type Bus struct {
	conn   *nats.Conn
	logger zerolog.Logger
	local  *events.Bus
	nodeID string
	subject string

	mu          sync.Mutex
	natsSubs    map[events.EventType]*nats.Subscription
	useFallback bool
	failCount   int
	maxFails    int
}

// Config contains NATS connection configuration.
type Config struct {
	URL     string
	Subject string // subject prefix; per-event-type subjects are Subject + "." + eventType

	MaxReconnects int
	ReconnectWait time.Duration
	Timeout       time.Duration

	MaxFailures int
}

// DefaultConfig returns default NATS configuration.
func DefaultConfig() Config {
	return Config{
		URL:           "nats://127.0.0.1:4222",
		Subject:       "patchbay.events",
		MaxReconnects: -1,
		ReconnectWait: 2 * time.Second,
		Timeout:       5 * time.Second,
		MaxFailures:   5,
	}
}

// NewBus connects to NATS and returns a Bus. If the connection cannot be
// established, it returns a Bus that only ever delivers locally; the
// process keeps running without external notification fanout.
func NewBus(cfg Config, nodeID string, logger zerolog.Logger) (*Bus, error) {
	if nodeID == "" {
		nodeID = generateNodeID()
	}

	b := &Bus{
		logger:   logger,
		local:    events.NewBus(),
		nodeID:   nodeID,
		subject:  cfg.Subject,
		maxFails: cfg.MaxFailures,
		natsSubs: make(map[events.EventType]*nats.Subscription),
	}

	opts := []nats.Option{
		nats.Name(fmt.Sprintf("patchbay-%s", nodeID)),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.Timeout(cfg.Timeout),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			if err != nil {
				logger.Warn().Err(err).Msg("nats disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info().Str("url", nc.ConnectedUrl()).Msg("nats reconnected")
		}),
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		logger.Warn().Err(err).Msg("nats connection failed, notifications stay local only")
		b.useFallback = true
		return b, nil
	}

	b.conn = conn
	logger.Info().Str("url", cfg.URL).Str("subject", cfg.Subject).Msg("notify bus connected to nats")
	return b, nil
}

// Subscribe registers a subscriber for an event type, listening both to
// locally published events and to events mirrored in from other nodes.
func (b *Bus) Subscribe(eventType events.EventType) events.Subscriber {
	sub := b.local.Subscribe(eventType)

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.useFallback {
		return sub
	}
	if _, exists := b.natsSubs[eventType]; exists {
		return sub
	}

	subject := b.subjectFor(eventType)
	natsSub, err := b.conn.Subscribe(subject, func(msg *nats.Msg) {
		envelope, err := unmarshalEnvelope(msg.Data)
		if err != nil {
			b.logger.Error().Err(err).Msg("failed to unmarshal notify envelope")
			return
		}
		if envelope.NodeID == b.nodeID {
			return
		}
		b.local.Publish(eventType, envelope.Payload)
	})
	if err != nil {
		b.logger.Error().Err(err).Str("subject", subject).Msg("failed to subscribe on nats")
		b.recordFailure()
		return sub
	}
	b.natsSubs[eventType] = natsSub
	return sub
}

// Publish delivers payload to local subscribers immediately and mirrors it
// to NATS for other nodes' monitors on a best-effort basis.
func (b *Bus) Publish(eventType events.EventType, payload events.Payload) {
	b.local.Publish(eventType, payload)

	b.mu.Lock()
	fallback := b.useFallback
	b.mu.Unlock()
	if fallback {
		return
	}

	data, err := marshalEnvelope(eventType, payload, b.nodeID)
	if err != nil {
		b.logger.Error().Err(err).Msg("failed to marshal notify envelope")
		return
	}

	if err := b.conn.Publish(b.subjectFor(eventType), data); err != nil {
		b.logger.Error().Err(err).Str("event_type", string(eventType)).Msg("failed to publish to nats")
		b.recordFailure()
		return
	}

	b.mu.Lock()
	b.failCount = 0
	b.mu.Unlock()
}

// Unsubscribe removes the subscriber from the local bus.
func (b *Bus) Unsubscribe(eventType events.EventType, sub events.Subscriber) {
	b.local.Unsubscribe(eventType, sub)
}

// Close drains the NATS connection.
func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.conn != nil {
		b.conn.Drain()
	}
	return nil
}

func (b *Bus) subjectFor(eventType events.EventType) string {
	return fmt.Sprintf("%s.%s", b.subject, eventType)
}

// recordFailure implements a simple circuit breaker: after enough
// consecutive publish/subscribe failures, give up on NATS for the rest of
// the process lifetime rather than retrying on every cycle tick.
func (b *Bus) recordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failCount++
	if b.failCount >= b.maxFails && !b.useFallback {
		b.logger.Warn().Int("fail_count", b.failCount).Msg("nats failure threshold reached, disabling external notify")
		b.useFallback = true
		if b.conn != nil {
			b.conn.Close()
		}
	}
}

// envelope is the wire format of a mirrored event.
type envelope struct {
	EventType events.EventType `json:"event_type"`
	Payload   events.Payload   `json:"payload"`
	Timestamp time.Time        `json:"timestamp"`
	NodeID    string           `json:"node_id"`
	MessageID string           `json:"message_id"`
}

func marshalEnvelope(eventType events.EventType, payload events.Payload, nodeID string) ([]byte, error) {
	e := envelope{
		EventType: eventType,
		Payload:   payload,
		Timestamp: time.Now(),
		NodeID:    nodeID,
		MessageID: uuid.New().String(),
	}
	return json.Marshal(e)
}

func unmarshalEnvelope(data []byte) (*envelope, error) {
	var e envelope
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("unmarshal notify envelope: %w", err)
	}
	return &e, nil
}

func generateNodeID() string {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	return fmt.Sprintf("%s-%s", hostname, uuid.New().String()[:8])
}
