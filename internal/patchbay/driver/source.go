/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package driver implements the realtime cycle engine: on each hardware
// period it walks the compiled run-list, hands each client its port
// buffers, waits for completion under a deadline, and resolves ties and
// fan-in mixes. Nothing here locks on control-domain state or consults the
// registry or connection set directly. RunCycle does allocate: it builds
// its fan-in bookkeeping maps afresh every cycle, and on the first cycle of
// a new snapshot generation it lets the pool allocate the warm buffers.
package driver

import (
	"context"
	"time"
)

// PeriodSource abstracts the hardware clock driving the realtime loop.
// NextPeriod blocks until the next period is ready to run and returns the
// frame count for that period.
type PeriodSource interface {
	NextPeriod(ctx context.Context) (frames int, err error)
}

// TickerSource paces periods with a time.Ticker, standing in for a
// hardware clock in development and in the test suite.
type TickerSource struct {
	ticker       *time.Ticker
	periodFrames int
}

// NewTickerSource creates a source that fires every period duration,
// each time reporting periodFrames frames.
func NewTickerSource(period time.Duration, periodFrames int) *TickerSource {
	return &TickerSource{ticker: time.NewTicker(period), periodFrames: periodFrames}
}

// NextPeriod waits for the next tick or ctx cancellation.
func (s *TickerSource) NextPeriod(ctx context.Context) (int, error) {
	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	case <-s.ticker.C:
		return s.periodFrames, nil
	}
}

// Stop releases the underlying ticker.
func (s *TickerSource) Stop() { s.ticker.Stop() }

// FreewheelSource drives the graph as fast as possible with no delay
// between periods, standing in for JACK's freewheel mode (offline
// rendering, benchmarking): jack_set_freewheel is a real, documented
// entrypoint in the original client API this behavior is grounded on.
type FreewheelSource struct {
	periodFrames int
}

// NewFreewheelSource creates a source with no pacing at all.
func NewFreewheelSource(periodFrames int) *FreewheelSource {
	return &FreewheelSource{periodFrames: periodFrames}
}

// NextPeriod returns immediately unless ctx is already done.
func (s *FreewheelSource) NextPeriod(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return s.periodFrames, nil
}
