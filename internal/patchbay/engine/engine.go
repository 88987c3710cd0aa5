/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package engine wires the port registry, connection set, buffer pool,
// graph compiler, cycle driver, and session manager into the single
// object cmd/patchbayd constructs and runs.
package engine

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/patchbay/internal/config"
	"github.com/friendsincode/patchbay/internal/events"
	"github.com/friendsincode/patchbay/internal/patchbay/buffer"
	"github.com/friendsincode/patchbay/internal/patchbay/compiler"
	"github.com/friendsincode/patchbay/internal/patchbay/conn"
	"github.com/friendsincode/patchbay/internal/patchbay/driver"
	"github.com/friendsincode/patchbay/internal/patchbay/port"
	"github.com/friendsincode/patchbay/internal/patchbay/session"
	"github.com/friendsincode/patchbay/internal/telemetry"
)

// Engine composes every core subsystem named in spec §2.
type Engine struct {
	Registry *port.Registry
	Conns    *conn.Set
	Pool     *buffer.Pool
	Compiler *compiler.Compiler
	Manager  *session.Manager
	Driver   *driver.Driver
	Bus      *events.Bus

	source periodSourceCloser
}

type periodSourceCloser interface {
	Stop()
}

// SourceFactory builds the realtime clock given the pool and compiler the
// engine just constructed. internal/audiodriver.Device needs both to read
// and write its own ports, so the engine hands them over at construction
// time instead of asking the caller to build a source up front.
type SourceFactory func(pool *buffer.Pool, comp *compiler.Compiler) driver.PeriodSource

// New builds an Engine from cfg. If newSource is nil, the engine picks a
// source itself: FreewheelSource when cfg.Freewheel is set, otherwise a
// TickerSource paced to cfg.PeriodDuration. Passing a non-nil newSource lets
// the caller wire in internal/audiodriver.Device as the realtime clock
// when a network audio boundary stands in for a local sound card; if that
// source also satisfies periodSourceCloser, Run stops it on exit the same
// way it stops a TickerSource. logger is attached to the compiler, session
// manager, and cycle driver, each under its own domain/component fields;
// the zero value disables logging for all three.
func New(cfg *config.Config, bus *events.Bus, newSource SourceFactory, logger zerolog.Logger) *Engine {
	reg := port.NewRegistry()
	conns := conn.NewSet(reg)
	pool := buffer.NewPool(cfg.PeriodFrames)
	comp := compiler.New(reg, conns, pool)
	comp.SetLogger(logger)
	comp.OnCompile(func(outcome string) {
		telemetry.GraphCompiles.WithLabelValues(outcome).Inc()
	})

	mgr := session.New(reg, conns, comp, bus)
	mgr.SetLogger(logger)

	var source driver.PeriodSource
	var closer periodSourceCloser
	switch {
	case newSource != nil:
		source = newSource(pool, comp)
		if c, ok := source.(periodSourceCloser); ok {
			closer = c
		}
	case cfg.Freewheel:
		source = driver.NewFreewheelSource(cfg.PeriodFrames)
	default:
		ts := driver.NewTickerSource(cfg.PeriodDuration(), cfg.PeriodFrames)
		source = ts
		closer = ts
	}

	hooks := driver.Hooks{
		Overrun:    mgr.HandleOverrun,
		ClientLost: mgr.HandleClientLost,
		CycleDone: func(d time.Duration) {
			telemetry.CycleDuration.Observe(d.Seconds())
		},
	}
	drv := driver.New(comp, source, cfg.SoftDeadline(), cfg.MaxOverrunsLost, hooks)
	drv.SetLogger(logger)

	return &Engine{
		Registry: reg,
		Conns:    conns,
		Pool:     pool,
		Compiler: comp,
		Manager:  mgr,
		Driver:   drv,
		Bus:      bus,
		source:   closer,
	}
}

// Run drives the realtime loop until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	defer func() {
		if e.source != nil {
			e.source.Stop()
		}
	}()
	err := e.Driver.Run(ctx)
	if ctx.Err() != nil {
		return nil
	}
	return err
}
