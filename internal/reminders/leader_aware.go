/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package reminders

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"
)

// Runner is a background loop that runs until its context is cancelled.
type Runner interface {
	Run(ctx context.Context) error
}

// Elector reports leadership changes. *leadership.Election satisfies it.
type Elector interface {
	Start(ctx context.Context) error
	Stop() error
	IsLeader() bool
	LeaderCh() <-chan bool
}

// LeaderAware wraps a runner and only runs it while this instance is the leader.
type LeaderAware struct {
	runner   Runner
	election Elector
	logger   zerolog.Logger

	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	running bool
	done    chan struct{}
}

// NewLeaderAware creates a leader-aware wrapper.
func NewLeaderAware(runner Runner, election Elector, logger zerolog.Logger) *LeaderAware {
	return &LeaderAware{
		runner:   runner,
		election: election,
		logger:   logger.With().Str("component", "leader_aware_reminders").Logger(),
	}
}

// Start begins monitoring leadership status and manages the runner lifecycle.
func (l *LeaderAware) Start(ctx context.Context) error {
	l.mu.Lock()
	l.ctx = ctx
	l.mu.Unlock()

	l.logger.Info().Msg("starting leader-aware reminder worker")

	if err := l.election.Start(ctx); err != nil {
		return err
	}

	go l.monitorLeadership(ctx)
	return nil
}

// Stop stops the runner if it is running and releases leadership.
func (l *LeaderAware) Stop() error {
	l.logger.Info().Msg("stopping leader-aware reminder worker")
	l.stopRunner()
	return l.election.Stop()
}

// Running reports whether the wrapped runner is active.
func (l *LeaderAware) Running() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.running
}

// IsLeader returns whether this instance is the leader.
func (l *LeaderAware) IsLeader() bool {
	return l.election.IsLeader()
}

func (l *LeaderAware) monitorLeadership(ctx context.Context) {
	leaderCh := l.election.LeaderCh()

	if l.election.IsLeader() {
		l.startRunner()
	}

	for {
		select {
		case <-ctx.Done():
			l.stopRunner()
			return
		case isLeader := <-leaderCh:
			if isLeader {
				l.logger.Info().Msg("became leader, starting reminder worker")
				l.startRunner()
			} else {
				l.logger.Warn().Msg("lost leadership, stopping reminder worker")
				l.stopRunner()
			}
		}
	}
}

func (l *LeaderAware) startRunner() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.running {
		return
	}

	ctx, cancel := context.WithCancel(l.ctx)
	done := make(chan struct{})
	l.cancel = cancel
	l.done = done
	l.running = true

	go func() {
		defer close(done)
		if err := l.runner.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			l.logger.Error().Err(err).Msg("reminder worker error")
		}
		l.mu.Lock()
		if l.done == done {
			l.running = false
		}
		l.mu.Unlock()
	}()
}

// stopRunner cancels the runner and waits for it to return.
func (l *LeaderAware) stopRunner() {
	l.mu.Lock()
	cancel, done := l.cancel, l.done
	l.cancel, l.done = nil, nil
	l.running = false
	l.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}
