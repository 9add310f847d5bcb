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

package pool

import (
	"github.com/cylc/cylc-scheduler/internal/cycle"
	"github.com/cylc/cylc-scheduler/internal/db"
	cylclog "github.com/cylc/cylc-scheduler/internal/log"
)

// StopMode distinguishes the urgency levels a stop command carries —
// spec.md §4.5.7's hold/stop/stall section.
type StopMode int

const (
	// StopModeClean waits for active tasks to finish normally.
	StopModeClean StopMode = iota
	// StopModeNow kills active tasks immediately but runs their event
	// handlers.
	StopModeNow
	// StopModeNowNow kills active tasks and skips their event handlers.
	StopModeNowNow
)

// HoldTasks marks every named proxy held, both in the pool and in the
// persisted tasks_to_hold set so the hold survives a restart.
func (p *Pool) HoldTasks(proxies []*Proxy) {
	for _, t := range proxies {
		t.IsHeld = true
		p.TasksToHold[t.Def.Name()+"."+t.Point.String()] = struct{}{}
		p.DB.PutInsertTaskEvents(t.Def.Name(), t.Point.String(), t.SubmitNum, "held", "request")
	}
	p.persistTasksToHold()
}

// ReleaseHeldTasks clears the held flag on every named proxy and, if it
// is now otherwise ready, queues it for release.
func (p *Pool) ReleaseHeldTasks(proxies []*Proxy) {
	for _, t := range proxies {
		t.IsHeld = false
		delete(p.TasksToHold, t.Def.Name()+"."+t.Point.String())
		p.DB.PutInsertTaskEvents(t.Def.Name(), t.Point.String(), t.SubmitNum, "released", "request")
		if t.PrereqsSatisfied() && !t.IsRunahead {
			p.Queues.Push(t)
		}
	}
	p.persistTasksToHold()
}

// ReleaseHoldPoint clears the workflow hold point and the held flag on
// every task that was held only because of it.
func (p *Pool) ReleaseHoldPoint() {
	p.HoldPoint = nil
	for _, t := range p.AllTasks() {
		id := t.Def.Name() + "." + t.Point.String()
		if _, explicit := p.TasksToHold[id]; explicit {
			continue
		}
		if t.IsHeld {
			t.IsHeld = false
			if t.PrereqsSatisfied() && !t.IsRunahead {
				p.Queues.Push(t)
			}
		}
	}
	p.DB.DeleteWorkflowParams("hold_cycle_point")
}

// SetHoldPoint holds every current and future task beyond point.
func (p *Pool) SetHoldPoint(point cycle.Point) {
	p.HoldPoint = point
	for _, t := range p.AllTasks() {
		if t.Point.Compare(point) > 0 {
			t.IsHeld = true
		}
	}
	p.DB.PutWorkflowParams("hold_cycle_point", point.String())
}

// SetStopPoint moves the workflow stop point. Lowering it clamps the
// runahead limit and marks waiting tasks past the new stop point as
// runahead, so they are not released; their in-flight jobs, if any, are
// left running.
func (p *Pool) SetStopPoint(point cycle.Point) {
	p.Cfg.StopPoint = point
	p.DB.PutWorkflowParams("stop_cycle_point", point.String())
	if p.RunaheadLimitPoint != nil && p.RunaheadLimitPoint.Compare(point) > 0 {
		p.RunaheadLimitPoint = point
	}
	for _, t := range p.MainTasks() {
		if t.Status == StatusWaiting && t.Point.Compare(point) > 0 {
			t.IsRunahead = true
		}
	}
}

// SetStopTask records a task to watch: once that task is removed as
// complete, StopTaskFinished is set and the scheduler may drain.
func (p *Pool) SetStopTask(id string) {
	p.StopTaskID = id
	p.StopTaskFinished = false
	p.DB.PutWorkflowParams("stop_task", id)
}

// persistTasksToHold re-serialises the explicit-hold set to the
// tasks_to_hold table.
func (p *Pool) persistTasksToHold() {
	held := make([]db.HeldTask, 0, len(p.TasksToHold))
	for _, t := range p.AllTasks() {
		id := t.Def.Name() + "." + t.Point.String()
		if _, ok := p.TasksToHold[id]; ok {
			held = append(held, db.HeldTask{Name: t.Def.Name(), Cycle: t.Point.String()})
		}
	}
	p.DB.PutTasksToHold(held)
}

// CanStop reports whether the workflow may proceed to shut down under the
// given mode: REQUEST_NOW_NOW always may; otherwise it may not while any
// task is active without having had its kill explicitly accepted as
// failed, or while any task has a timeout timer (TimeoutTimer) set —
// task_pool.py's can_stop.
func (p *Pool) CanStop(mode StopMode) bool {
	if mode == StopModeNowNow {
		return true
	}
	for _, t := range p.AllTasks() {
		if t.Status.IsActive() && !t.KillFailed {
			return false
		}
		if t.TimeoutTimer != nil {
			return false
		}
	}
	return true
}

// IsStalled reports whether the workflow has no path forward: no task is
// active or ready-and-waiting, and either some finished task is missing a
// required output, or some hidden-pool task (at or before the stop point)
// still has an unsatisfied prerequisite. Whether another task could still
// satisfy it is not checked — task_pool.py's is_stalled.
func (p *Pool) IsStalled() bool {
	for _, t := range p.MainTasks() {
		if t.Status.IsActive() || (!t.IsHeld && !t.IsRunahead && t.PrereqsSatisfied() && !t.Status.IsFinal()) {
			return false
		}
	}

	for _, t := range p.MainTasks() {
		if t.Status.IsFinal() && len(t.Outputs.Incomplete(t.Def.RequiredOutputs())) > 0 {
			return true
		}
	}
	for _, t := range p.hiddenBeforeStop() {
		if !t.PrereqsSatisfied() {
			return true
		}
	}
	return false
}

func (p *Pool) hiddenBeforeStop() []*Proxy {
	var out []*Proxy
	for _, byName := range p.Hidden {
		for _, t := range byName {
			if p.Cfg.StopPoint == nil || t.Point.Compare(p.Cfg.StopPoint) <= 0 {
				out = append(out, t)
			}
		}
	}
	return out
}

// CheckAbortOnTaskFails reports whether the workflow should abort because
// an unexpected task failure occurred and abort-on-failure is configured;
// callers consult this after every SpawnOnOutput("failed", ...) call.
func (p *Pool) CheckAbortOnTaskFails(abortOnFailure bool) bool {
	return abortOnFailure && p.AbortTaskFailed
}

// WarnStopOrphans logs every still-active task an immediate stop is about
// to orphan (its job keeps running on the platform with no scheduler left
// to see it finish) — task_pool.py's warn_stop_orphans, called by the
// scheduler loop when a stop with --now urgency is granted. This is a
// diagnostic-only pass; it does not mutate the pool.
func (p *Pool) WarnStopOrphans() {
	for _, t := range p.MainTasks() {
		if t.Status.IsActive() {
			p.Log.Warn("active task orphaned at stop",
				cylclog.String(cylclog.TaskKey, t.Def.Name()),
				cylclog.String(cylclog.PointKey, t.Point.String()),
				cylclog.String("status", string(t.Status)))
		}
	}
}
