// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package scheduler is the thin glue that drives internal/pool through
// repeated loop iterations: a single goroutine, one context for the whole
// run, a command channel, and a ticker for the expire/runahead sweep —
// the "(external) scheduler" box from spec.md §2's overview diagram, given
// just enough body here to exercise the kernel end-to-end (SPEC_FULL.md
// §5). Grounded on the teacher's internal/daemon/runner.Runner select/
// ticker drain loop (runner.go's WaitForDrain) for the select-over-channel-
// and-ticker shape; the ordered-phase commit discipline is new, driven
// directly by spec.md §5's ordering guarantees.
package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/cylc/cylc-scheduler/internal/cycle"
	"github.com/cylc/cylc-scheduler/internal/metrics"
	"github.com/cylc/cylc-scheduler/internal/pool"
	"github.com/cylc/cylc-scheduler/internal/tracing"
)

// Command is a single externally-triggered mutation to apply on the next
// loop iteration (hold/release/remove/trigger/set-outputs/stop/reload —
// the CLI surface of spec.md §6). The network/RPC dispatch that would
// produce these in a full system is out of scope per spec.md §1; cmd/
// cylc-scheduler calls Submit directly, in-process.
type Command func(p *pool.Pool) error

// Scheduler owns the single cooperative event loop over one Pool.
type Scheduler struct {
	Pool     *pool.Pool
	Log      *slog.Logger
	Tracing  *tracing.Provider
	SweepEvery time.Duration

	commands  chan Command
	stopMode  *pool.StopMode
	done      chan struct{}
}

// New builds a Scheduler over an already-constructed Pool (the caller is
// responsible for having run restart/upgrade via internal/db and
// internal/pool's restart path before this point).
func New(p *pool.Pool, log *slog.Logger, tp *tracing.Provider) *Scheduler {
	if log == nil {
		log = slog.Default()
	}
	return &Scheduler{
		Pool:       p,
		Log:        log,
		Tracing:    tp,
		SweepEvery: 10 * time.Second,
		commands:   make(chan Command, 64),
		done:       make(chan struct{}),
	}
}

// Submit enqueues a command for the next loop iteration. Safe to call from
// any goroutine; the loop itself remains single-threaded.
func (s *Scheduler) Submit(cmd Command) {
	select {
	case s.commands <- cmd:
	case <-s.done:
	}
}

// RequestStop marks the scheduler to shut down once CanStop(mode) holds,
// checked at the top of every iteration.
func (s *Scheduler) RequestStop(mode pool.StopMode) {
	s.stopMode = &mode
}

// Run is the cooperative event loop. It suspends only at the three points
// spec.md §5 names for the core itself: awaiting the next command,
// waiting for the sweep ticker, and (implicitly, via ctx) awaiting
// shutdown. It returns when the context is cancelled or the pool reaches
// a stoppable state after RequestStop.
func (s *Scheduler) Run(ctx context.Context) error {
	defer close(s.done)

	ticker := time.NewTicker(s.SweepEvery)
	defer ticker.Stop()

	for {
		if s.stopMode != nil && s.Pool.CanStop(*s.stopMode) {
			if *s.stopMode != pool.StopModeClean {
				s.Pool.WarnStopOrphans()
			}
			s.Log.Info("scheduler stopping", "mode", *s.stopMode)
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()

		case cmd := <-s.commands:
			if err := s.runIteration(ctx, func() error { return cmd(s.Pool) }); err != nil {
				s.Log.Error("command failed", "error", err)
			}

		case now := <-ticker.C:
			if err := s.runIteration(ctx, func() error { return s.sweep(now) }); err != nil {
				s.Log.Error("sweep failed", "error", err)
			}
		}
	}
}

// sweep runs the per-iteration housekeeping spec.md §4.5.6 implies happens
// "once per loop iteration": expire waiting tasks, release runahead tasks
// within the current limit, release queued work, and log a stall. The
// runahead limit itself is not recomputed here.
func (s *Scheduler) sweep(now time.Time) error {
	s.Pool.SetExpiredTasks(now)
	s.Pool.ReleaseRunaheadTasks()

	active := make(map[string]int)
	for _, t := range s.Pool.MainTasks() {
		if t.Status.IsActive() || t.WaitingOnJobPrep {
			active[t.Def.Name()]++
		}
	}
	s.Pool.ReleaseQueuedTasks(active)

	if s.Pool.IsStalled() {
		metrics.RecordStall()
		s.Pool.LogIncompleteTasks()
		s.Pool.LogUnsatisfiedPrereqs()
	}
	return nil
}

// runIteration wraps one loop iteration in a trace span and the ordered
// commit discipline spec.md §5 requires: state changes (the phase fn) →
// DB staging (implicit — pool methods stage as they mutate) → data-store
// deltas (out of scope, external projection) → commit at end of
// iteration. The single ExecuteQueuedItems-backed commit is
// internal/db.Manager.ProcessQueuedOps, called here so every command or
// sweep is its own atomic transaction.
func (s *Scheduler) runIteration(ctx context.Context, phase func() error) error {
	limit := ""
	if s.Pool.RunaheadLimitPoint != nil {
		limit = s.Pool.RunaheadLimitPoint.String()
	}
	ctx, end := s.Tracing.StartIteration(ctx, limit)
	defer end()

	stateCtx, endState := s.Tracing.StartPhase(ctx, "state_changes")
	err := phase()
	endState(err)
	if err != nil {
		return err
	}

	_, endCommit := s.Tracing.StartPhase(stateCtx, "commit")
	s.Pool.StageSnapshot()
	commitErr := s.Pool.DB.ProcessQueuedOps(ctx)
	endCommit(commitErr)
	if commitErr != nil {
		return commitErr
	}

	metrics.SetPoolSize(len(s.Pool.MainTasks()), hiddenCount(s.Pool))
	s.recordRunaheadLimit()
	return nil
}

// recordRunaheadLimit exports the runahead limit point relative to the
// workflow's initial point: a cycle-count difference under integer
// cycling, seconds under datetime cycling.
func (s *Scheduler) recordRunaheadLimit() {
	lp := s.Pool.RunaheadLimitPoint
	if lp == nil {
		return
	}
	switch v := lp.(type) {
	case cycle.IntegerPoint:
		rel := float64(v)
		if ip, ok := s.Pool.Cfg.InitialPoint.(cycle.IntegerPoint); ok {
			rel = float64(v - ip)
		}
		metrics.SetRunaheadLimit(rel)
	case cycle.DateTimePoint:
		if ip, ok := s.Pool.Cfg.InitialPoint.(cycle.DateTimePoint); ok {
			metrics.SetRunaheadLimit(v.Time.Sub(ip.Time).Seconds())
		}
	}
}

func hiddenCount(p *pool.Pool) int {
	n := 0
	for _, byName := range p.Hidden {
		n += len(byName)
	}
	return n
}
