/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package buffer manages the fixed-size audio buffers behind each live
// output port, plus the scratch buffers reserved for summing fan-in
// destinations. Buffer addresses are stable across cycles (reused, never
// reallocated mid-cycle) and only change in response to a buffer-size
// change applied between cycles.
package buffer

import (
	"sync"

	"github.com/friendsincode/patchbay/internal/patchbay"
)

// Pool owns every per-output-port buffer and every fan-in scratch buffer.
// Buffers are allocated lazily, on the first call that needs one (Output,
// Scratch, or PrepareCycle for a missing scratch buffer). The driver makes
// those first calls for each new snapshot generation's WarmOutputs and
// WarmScratch on the cycle goroutine, before any client runs. Every call
// takes the pool mutex.
type Pool struct {
	mu           sync.Mutex
	periodFrames int

	outputs map[patchbay.PortID][]float32
	scratch map[patchbay.PortID][]float32
	zero    []float32
}

// NewPool creates a pool sized for periodFrames frames per cycle.
func NewPool(periodFrames int) *Pool {
	return &Pool{
		periodFrames: periodFrames,
		outputs:      make(map[patchbay.PortID][]float32),
		scratch:      make(map[patchbay.PortID][]float32),
		zero:         make([]float32, periodFrames),
	}
}

// PeriodFrames returns the frame count every buffer in the pool is sized for.
func (p *Pool) PeriodFrames() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.periodFrames
}

// SetPeriodFrames applies a buffer-size change: every existing buffer is
// discarded and reallocated lazily on next access. Must only be called
// between cycles.
func (p *Pool) SetPeriodFrames(n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if n == p.periodFrames {
		return
	}
	p.periodFrames = n
	p.outputs = make(map[patchbay.PortID][]float32)
	p.scratch = make(map[patchbay.PortID][]float32)
	p.zero = make([]float32, n)
}

// Output returns the write buffer bound to an output port for this cycle,
// allocating it on first use.
func (p *Pool) Output(id patchbay.PortID) []float32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	buf, ok := p.outputs[id]
	if !ok {
		buf = make([]float32, p.periodFrames)
		p.outputs[id] = buf
	}
	return buf
}

// Scratch returns the sum-buffer reserved for the fan-in destination dst,
// allocating it on first use. Callers must zero it at cycle start via
// PrepareCycle before accumulating into it.
func (p *Pool) Scratch(dst patchbay.PortID) []float32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	buf, ok := p.scratch[dst]
	if !ok {
		buf = make([]float32, p.periodFrames)
		p.scratch[dst] = buf
	}
	return buf
}

// Zero returns the shared all-zero buffer handed to input ports with no
// inbound connections. Callers must never write to it.
func (p *Pool) Zero() []float32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.zero
}

// PrepareCycle zeroes every scratch buffer named in dests, readying them
// for this cycle's accumulation.
func (p *Pool) PrepareCycle(dests []patchbay.PortID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, dst := range dests {
		buf, ok := p.scratch[dst]
		if !ok {
			buf = make([]float32, p.periodFrames)
			p.scratch[dst] = buf
		}
		for i := range buf {
			buf[i] = 0
		}
	}
}

// ReleasePort drops the output and scratch buffers for a port that no
// longer exists, so a churning graph doesn't leak memory.
func (p *Pool) ReleasePort(id patchbay.PortID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.outputs, id)
	delete(p.scratch, id)
}

// Sum adds src element-wise into dst. Both must be the same length.
func Sum(dst, src []float32) {
	for i := range dst {
		dst[i] += src[i]
	}
}
