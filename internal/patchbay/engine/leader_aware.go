/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package engine

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/patchbay/internal/leadership"
)

// LeaderAware wraps an Engine so its realtime cycle driver only runs while
// this instance holds the leadership lease: exactly one instance may ever
// call a client's RunProcess at a time, the rest keep their graph state
// warm as standbys and take over if the lease lapses.
type LeaderAware struct {
	engine   *Engine
	election *leadership.Election
	logger   zerolog.Logger

	ctx        context.Context
	cancelFunc context.CancelFunc
	running    bool
}

// NewLeaderAware creates a leader-aware wrapper around eng.
func NewLeaderAware(eng *Engine, election *leadership.Election, logger zerolog.Logger) *LeaderAware {
	return &LeaderAware{
		engine:   eng,
		election: election,
		logger:   logger.With().Str("component", "leader_aware_engine").Logger(),
	}
}

// Start begins the leadership campaign and starts driving cycles as soon
// as (and only while) this instance is leader.
func (la *LeaderAware) Start(ctx context.Context) error {
	la.ctx = ctx
	if err := la.election.Start(ctx); err != nil {
		return err
	}
	go la.monitor()
	return nil
}

// Stop halts the driver if running and releases leadership.
func (la *LeaderAware) Stop() error {
	if la.running && la.cancelFunc != nil {
		la.cancelFunc()
		la.running = false
	}
	return la.election.Stop()
}

// IsLeader reports whether this instance currently drives the engine.
func (la *LeaderAware) IsLeader() bool { return la.election.IsLeader() }

func (la *LeaderAware) monitor() {
	leaderCh := la.election.LeaderCh()

	if la.election.IsLeader() {
		la.startEngine()
	}

	for {
		select {
		case <-la.ctx.Done():
			return
		case isLeader := <-leaderCh:
			if isLeader {
				la.logger.Info().Msg("became leader, starting realtime engine")
				la.startEngine()
			} else {
				la.logger.Warn().Msg("lost leadership, stopping realtime engine")
				la.stopEngine()
			}
		}
	}
}

func (la *LeaderAware) startEngine() {
	if la.running {
		return
	}
	ctx, cancel := context.WithCancel(la.ctx)
	la.cancelFunc = cancel
	la.running = true

	go func() {
		if err := la.engine.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			la.logger.Error().Err(err).Msg("engine loop exited with error")
		}
		la.running = false
	}()
}

func (la *LeaderAware) stopEngine() {
	if !la.running {
		return
	}
	if la.cancelFunc != nil {
		la.cancelFunc()
		la.cancelFunc = nil
	}
	time.Sleep(100 * time.Millisecond)
	la.running = false
}
