/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package driver

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/patchbay/internal/logging"
	"github.com/friendsincode/patchbay/internal/patchbay"
	"github.com/friendsincode/patchbay/internal/patchbay/buffer"
	"github.com/friendsincode/patchbay/internal/patchbay/compiler"
)

// Hooks lets the control domain observe realtime-domain events without the
// driver importing anything from the control domain itself. Every hook is
// called from the cycle goroutine and must not block; callers that need to
// do non-trivial work should hand off to a channel.
type Hooks struct {
	Overrun     func(client string)
	ClientLost  func(client string)
	CycleDone   func(duration time.Duration)
}

// Driver is the realtime cycle engine described in spec §4.5. It reads
// only the compiler's published Snapshot and a PeriodSource; it never
// touches the port registry or connection set.
type Driver struct {
	compiler        *compiler.Compiler
	source          PeriodSource
	softDeadline    time.Duration
	maxOverrunsLost int
	hooks           Hooks

	frameCounter atomic.Uint64
	lastGen      uint64

	mu            sync.Mutex
	overrunStreak map[string]int

	logger zerolog.Logger
}

// New creates a Driver that pulls periods from source and processes
// clients under softDeadline per cycle. A client that misses
// maxOverrunsLost consecutive deadlines is reported via hooks.ClientLost.
// Logging is disabled until SetLogger is called.
func New(comp *compiler.Compiler, source PeriodSource, softDeadline time.Duration, maxOverrunsLost int, hooks Hooks) *Driver {
	return &Driver{
		compiler:        comp,
		source:          source,
		softDeadline:    softDeadline,
		maxOverrunsLost: maxOverrunsLost,
		hooks:           hooks,
		overrunStreak:   make(map[string]int),
		logger:          zerolog.Nop(),
	}
}

// SetLogger attaches a logger, tagged with the realtime domain and the
// driver component, for generation-change diagnostics. Only
// called off the cycle goroutine, before Run starts.
func (d *Driver) SetLogger(logger zerolog.Logger) {
	d.logger = logging.WithComponent(logger, logging.DomainRealtime, "driver")
}

// FrameCounter returns the total frames processed so far. Safe to read
// concurrently from the control domain (used as the non-timebase default
// transport position).
func (d *Driver) FrameCounter() uint64 { return d.frameCounter.Load() }

// Run drives cycles until ctx is cancelled or the period source errors.
func (d *Driver) Run(ctx context.Context) error {
	for {
		nframes, err := d.source.NextPeriod(ctx)
		if err != nil {
			return err
		}
		d.RunCycle(ctx, nframes)
	}
}

// RunCycle executes exactly one cycle against the currently published
// snapshot. Run calls this once per period; tests and freewheel-style
// offline harnesses call it directly.
func (d *Driver) RunCycle(ctx context.Context, nframes int) {
	start := time.Now()
	snap := d.compiler.Load()
	if snap == nil {
		d.frameCounter.Add(uint64(nframes))
		return
	}
	pool := snap.Pool

	if snap.Generation != d.lastGen {
		// First cycle on a new compile: touch the ports the control
		// domain marked as newly active here, on the realtime thread,
		// so the RunProcess loop below never takes the lazy-allocation
		// path in Pool.Output/Pool.Scratch itself.
		for _, id := range snap.WarmOutputs {
			pool.Output(id)
		}
		for _, id := range snap.WarmScratch {
			pool.Scratch(id)
		}
		d.logger.Debug().Uint64("generation", snap.Generation).
			Int("warm_outputs", len(snap.WarmOutputs)).Int("warm_scratch", len(snap.WarmScratch)).
			Msg("adopted new snapshot generation")
		d.lastGen = snap.Generation
	}

	pool.PrepareCycle(snap.ScratchDestinations())

	pending := make(map[patchbay.PortID]int)
	consumersOf := make(map[patchbay.PortID][]patchbay.PortID)
	for dst, r := range snap.Routing {
		if r.Kind == compiler.Sum {
			pending[dst] = len(r.Sources)
			for _, src := range r.Sources {
				consumersOf[src] = append(consumersOf[src], dst)
			}
		}
	}

	for _, plan := range snap.RunList {
		cctx, cancel := context.WithTimeout(ctx, d.softDeadline)
		err := plan.Client.RunProcess(cctx, nframes)
		cancel()

		if err != nil {
			d.recordOverrun(plan.Name)
			for _, outID := range plan.Outputs {
				buf := pool.Output(outID)
				for i := range buf {
					buf[i] = 0
				}
			}
		} else {
			d.clearOverrun(plan.Name)
		}

		for _, outID := range plan.Outputs {
			for _, dst := range consumersOf[outID] {
				pending[dst]--
				if pending[dst] == 0 {
					r := snap.Routing[dst]
					scratch := pool.Scratch(dst)
					for _, src := range r.Sources {
						buffer.Sum(scratch, pool.Output(src))
					}
				}
			}
		}

		for _, inID := range plan.Inputs {
			tiedOut, tied := snap.Ties[inID]
			if !tied {
				continue
			}
			src := InputBuffer(pool, snap, inID)
			dst := pool.Output(tiedOut)
			copy(dst, src)
		}
	}

	d.frameCounter.Add(uint64(nframes))
	if d.hooks.CycleDone != nil {
		d.hooks.CycleDone(time.Since(start))
	}
}

// InputBuffer resolves the memory an input port's callback sees, per the
// routing decision computed at compile time. The tie-copy step above is
// one caller; a real out-of-process Client adapter (see
// internal/audiodriver) that needs to read its own unaliased input is
// another, since the Client interface itself carries no buffer handle.
func InputBuffer(pool *buffer.Pool, snap *compiler.Snapshot, id patchbay.PortID) []float32 {
	r, ok := snap.Routing[id]
	if !ok {
		return pool.Zero()
	}
	switch r.Kind {
	case compiler.Alias:
		return pool.Output(r.Alias)
	case compiler.Sum:
		return pool.Scratch(id)
	default:
		return pool.Zero()
	}
}

func (d *Driver) recordOverrun(client string) {
	d.mu.Lock()
	d.overrunStreak[client]++
	streak := d.overrunStreak[client]
	d.mu.Unlock()

	if d.hooks.Overrun != nil {
		d.hooks.Overrun(client)
	}
	if streak >= d.maxOverrunsLost && d.hooks.ClientLost != nil {
		d.hooks.ClientLost(client)
	}
}

func (d *Driver) clearOverrun(client string) {
	d.mu.Lock()
	delete(d.overrunStreak, client)
	d.mu.Unlock()
}
