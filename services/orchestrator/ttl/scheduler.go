// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package ttl runs periodic expiry sweeps and supplies the clock that expiry
// checks compare against.
package ttl

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// DefaultSweepInterval is the fixed interval of the pending confirmation sweep.
const DefaultSweepInterval = time.Minute

// =============================================================================
// Interfaces
// =============================================================================

// Sweeper removes expired entries from a store.
//
// # Description
//
// Sweep is the store's public expiry operation. It must be safe to call
// concurrently with the store's other operations and must not rely on being
// called at any particular cadence.
type Sweeper interface {
	Sweep(ctx context.Context) (SweepResult, error)
}

// SweepResult reports one sweep pass.
type SweepResult struct {
	Expired   int
	Removed   int
	StartTime time.Time
	EndTime   time.Time
}

// DurationMs returns the pass duration in milliseconds.
func (r SweepResult) DurationMs() int64 {
	return r.EndTime.Sub(r.StartTime).Milliseconds()
}

// SweepObserver is notified after every pass. Optional.
type SweepObserver func(name string, result SweepResult, err error)

// =============================================================================
// Scheduler
// =============================================================================

// SchedulerConfig configures a Scheduler.
type SchedulerConfig struct {
	// Name labels logs and observer calls.
	Name string

	// Interval between passes. The first pass runs immediately on Start.
	Interval time.Duration
}

// DefaultSchedulerConfig returns the one-minute confirmation sweep config.
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		Name:     "confirmations",
		Interval: DefaultSweepInterval,
	}
}

// Scheduler runs a Sweeper on a ticker in its own goroutine.
//
// # Description
//
// Start launches the loop; Stop ends it and waits for the goroutine to
// exit. RunNow performs a pass synchronously on the caller's goroutine.
// The scheduler never touches the store except through Sweep.
//
// # Thread Safety
//
// All methods are safe for concurrent use.
type Scheduler struct {
	sweeper  Sweeper
	config   SchedulerConfig
	observer SweepObserver

	mu      sync.Mutex
	running bool
	done    chan struct{}
	exited  chan struct{}
}

// NewScheduler creates a stopped Scheduler.
//
// # Inputs
//
//   - sweeper: The store to sweep. Must not be nil.
//   - config: Interval and name. Non-positive interval selects the default.
//   - observer: Optional callback after each pass.
func NewScheduler(sweeper Sweeper, config SchedulerConfig, observer SweepObserver) *Scheduler {
	if sweeper == nil {
		panic("NewScheduler: sweeper must not be nil")
	}
	if config.Interval <= 0 {
		config.Interval = DefaultSweepInterval
	}
	if config.Name == "" {
		config.Name = "sweep"
	}
	return &Scheduler{
		sweeper:  sweeper,
		config:   config,
		observer: observer,
	}
}

// Start launches the sweep loop. Returns an error if already running.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("scheduler %s is already running", s.config.Name)
	}
	s.running = true
	s.done = make(chan struct{})
	s.exited = make(chan struct{})
	done, exited := s.done, s.exited
	s.mu.Unlock()

	slog.Info("sweep scheduler starting",
		"name", s.config.Name,
		"interval", s.config.Interval.String(),
	)

	go s.runLoop(ctx, done, exited)
	return nil
}

// Stop ends the loop and waits for it to exit. Safe to call when stopped.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	close(s.done)
	s.running = false
	exited := s.exited
	s.mu.Unlock()

	<-exited
	slog.Info("sweep scheduler stopped", "name", s.config.Name)
	return nil
}

// Running reports whether the loop is active.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// RunNow performs one pass immediately.
func (s *Scheduler) RunNow(ctx context.Context) (SweepResult, error) {
	return s.execute(ctx)
}

// Wait blocks until the loop exits, either through Stop or because the
// context passed to Start was cancelled. Returns nil. Used by errgroup.
func (s *Scheduler) Wait() error {
	s.mu.Lock()
	exited := s.exited
	s.mu.Unlock()
	if exited != nil {
		<-exited
	}
	return nil
}

func (s *Scheduler) runLoop(ctx context.Context, done <-chan struct{}, exited chan<- struct{}) {
	defer close(exited)

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	s.execute(ctx)

	for {
		select {
		case <-ctx.Done():
			s.mu.Lock()
			if s.done == done {
				s.running = false
			}
			s.mu.Unlock()
			slog.Info("sweep scheduler stopped (context cancelled)", "name", s.config.Name)
			return
		case <-done:
			return
		case <-ticker.C:
			s.execute(ctx)
		}
	}
}

func (s *Scheduler) execute(ctx context.Context) (SweepResult, error) {
	start := time.Now()
	result, err := s.sweeper.Sweep(ctx)
	if result.StartTime.IsZero() {
		result.StartTime = start
	}
	if result.EndTime.IsZero() {
		result.EndTime = time.Now()
	}

	switch {
	case err != nil:
		slog.Error("sweep failed", "name", s.config.Name, "error", err)
	case result.Removed > 0:
		slog.Info("sweep completed",
			"name", s.config.Name,
			"expired", result.Expired,
			"removed", result.Removed,
			"duration_ms", result.DurationMs(),
		)
	default:
		slog.Debug("sweep completed (nothing to remove)", "name", s.config.Name)
	}

	if s.observer != nil {
		s.observer(s.config.Name, result, err)
	}
	return result, err
}
