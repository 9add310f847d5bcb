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
	"time"

	"github.com/cylc/cylc-scheduler/internal/cycle"
	"github.com/cylc/cylc-scheduler/internal/flow"
	cylclog "github.com/cylc/cylc-scheduler/internal/log"
)

// RemoveTasks removes every named proxy from the pool outright (not
// conditioned on completeness), used by the "remove" command — task_pool.py's
// remove_tasks.
func (p *Pool) RemoveTasks(proxies []*Proxy) {
	for _, t := range proxies {
		p.remove(t, "removed by request")
	}
	p.ComputeRunahead(true)
}

// RemoveTasksFromFlows drops the given flow numbers from each proxy's flow
// membership without touching its membership in other flows; a task left
// belonging to no flow at all, and not currently active, is removed
// outright (invariant: an empty flow set never propagates) — the
// flow-scoped form of the "remove" command.
func (p *Pool) RemoveTasksFromFlows(proxies []*Proxy, nums []int) {
	for _, t := range proxies {
		changed := false
		for _, n := range nums {
			if t.FlowNums.Contains(n) {
				delete(t.FlowNums, n)
				changed = true
			}
		}
		if !changed {
			continue
		}
		if len(t.FlowNums) == 0 && !t.Status.IsActive() {
			p.remove(t, "removed by request (flow)")
			continue
		}
		p.stageStateUpdate(t)
	}
	p.ComputeRunahead(true)
}

// ForceTriggerFlowOption selects how force-triggered tasks are assigned to
// flows, mirroring the --flow CLI grammar's mutually exclusive tokens.
type ForceTriggerFlowOption struct {
	All  bool
	New  bool
	None bool
	Nums []int
}

// resolve turns the option into a concrete flow.Nums set, using mgr to
// allocate a new flow number if New is set.
func (o ForceTriggerFlowOption) resolve(mgr *flow.Mgr, activeFlows flow.Nums, meta string) (flow.Nums, error) {
	switch {
	case o.None:
		return flow.Nums{}, nil
	case o.New:
		return flow.NewNums(mgr.GetFlow(nil, meta)), nil
	case o.All:
		return activeFlows, nil
	default:
		out := make(flow.Nums, len(o.Nums))
		for _, n := range o.Nums {
			fn := n
			out[mgr.GetFlow(&fn, meta)] = struct{}{}
		}
		return out, nil
	}
}

// ForceTriggerTasks implements the "trigger" command: tasks already in the
// pool are reset to waiting and released immediately regardless of
// prerequisites (unless already active); tasks not yet in the pool are
// spawned as manual submissions, optionally parked flow-wait. Grounded on
// task_pool.py's force_trigger_tasks.
func (p *Pool) ForceTriggerTasks(defs []TaskDef, points []string, opt ForceTriggerFlowOption, flowWait bool, meta string) error {
	activeFlows := p.activeFlowNums()
	flowNums, err := opt.resolve(p.Flow, activeFlows, meta)
	if err != nil {
		return err
	}

	for i, def := range defs {
		point := points[i]
		if existing, ok := p.GetTaskByID(def.Name(), point); ok {
			if existing.Status.IsActive() {
				p.Log.Warn("ignoring trigger - already active",
					cylclog.String(cylclog.TaskKey, def.Name()),
					cylclog.String(cylclog.PointKey, point))
				continue
			}
			existing.IsManualSubmit = true
			existing.Status = StatusWaiting
			existing.MergeFlowsInPlace(flowNums)
			p.stageStateUpdate(existing)
			if existing.IsRunahead {
				existing.IsRunahead = false
			}
			p.Queues.Push(existing)
			continue
		}

		pt, err := cycle.ParsePoint(point, p.Cfg.CyclePointFormat)
		if err != nil {
			return err
		}
		itask := p.SpawnTask(def, pt, flowNums, true, true, flowWait)
		if itask == nil {
			continue
		}
		p.AddToPool(itask, true)
		p.Queues.Push(itask)
	}
	return nil
}

// MergeFlowsInPlace is a thin wrapper used when the caller already holds
// the proxy and only needs the flow-number union applied without the full
// MergeFlows state-machine (the task is being reset to waiting anyway).
func (t *Proxy) MergeFlowsInPlace(flowNums flow.Nums) {
	t.FlowNums = t.FlowNums.Union(flowNums)
}

func (p *Pool) activeFlowNums() flow.Nums {
	out := flow.Nums{}
	for _, t := range p.AllTasks() {
		for n := range t.FlowNums {
			out[n] = struct{}{}
		}
	}
	return out
}

// StopFlow removes flowNum from every task's flow membership across both
// pools, deleting any task left with no flow membership that is not
// currently active — task_pool.py's stop_flow.
func (p *Pool) StopFlow(flowNum int) {
	for _, t := range p.AllTasks() {
		if !t.FlowNums.Contains(flowNum) {
			continue
		}
		delete(t.FlowNums, flowNum)
		if len(t.FlowNums) == 0 && !t.Status.IsActive() {
			p.remove(t, "stopped flow exhausted")
			continue
		}
		p.stageStateUpdate(t)
	}
}

// SetExpiredTasks scans every waiting, unheld main-pool task with an
// expiration offset and expires any whose wall-clock deadline has passed.
// now is injected so the scan is deterministic in tests — task_pool.py's
// set_expired_tasks / _set_expired_task.
func (p *Pool) SetExpiredTasks(now time.Time) {
	for _, t := range p.MainTasks() {
		p.setExpiredTask(t, now)
	}
}

func (p *Pool) setExpiredTask(t *Proxy, now time.Time) bool {
	if t.Status != StatusWaiting || t.IsHeld {
		return false
	}
	offset, ok := t.Def.ExpirationOffset()
	if !ok {
		return false
	}
	if t.ExpireTime == nil {
		expiresAt := t.Point.Add(offset)
		dt, isDateTime := expiresAt.(cycle.DateTimePoint)
		if !isDateTime {
			// Expiration is a wall-clock concept; integer cycling has no
			// calendar mapping to compare against, so it never expires.
			return false
		}
		deadline := dt.Time
		t.ExpireTime = &deadline
	}
	if now.Before(*t.ExpireTime) {
		return false
	}

	t.Status = StatusExpired
	t.IsHeld = false
	t.Outputs.SetCompleted(OutputExpired, "Task expired (skipping job).")
	p.stageStateUpdate(t)
	p.stageOutputUpdate(t)
	p.Log.Warn("task expired (skipping job)",
		cylclog.String(cylclog.TaskKey, t.Def.Name()),
		cylclog.String(cylclog.PointKey, t.Point.String()))
	p.remove(t, "expired")
	return true
}

// LogIncompleteTasks logs every finished-but-incomplete task currently
// retained in the main pool — task_pool.py's log_incomplete_tasks, called
// at shutdown to summarise why tasks were held back from removal.
func (p *Pool) LogIncompleteTasks() {
	for _, t := range p.MainTasks() {
		if !t.Status.IsFinal() {
			continue
		}
		incomplete := t.Outputs.Incomplete(t.Def.RequiredOutputs())
		if len(incomplete) == 0 {
			continue
		}
		p.Log.Warn("finished with incomplete outputs",
			cylclog.String(cylclog.TaskKey, t.Def.Name()),
			cylclog.String(cylclog.PointKey, t.Point.String()),
			cylclog.Attr("missing", incomplete))
	}
}

// LogUnsatisfiedPrereqs logs every hidden-pool task's unsatisfied
// prerequisites — task_pool.py's log_unsatisfied_prereqs, called alongside
// LogIncompleteTasks at shutdown and stall diagnostics.
func (p *Pool) LogUnsatisfiedPrereqs() {
	for _, byName := range p.Hidden {
		for _, t := range byName {
			unsatisfied := t.UnsatisfiedPrereqs()
			if len(unsatisfied) == 0 {
				continue
			}
			keys := make([]string, 0, len(unsatisfied))
			for _, k := range unsatisfied {
				keys = append(keys, k.String())
			}
			p.Log.Warn("unsatisfied prerequisites",
				cylclog.String(cylclog.TaskKey, t.Def.Name()),
				cylclog.String(cylclog.PointKey, t.Point.String()),
				cylclog.Attr("prereqs", keys))
		}
	}
}
