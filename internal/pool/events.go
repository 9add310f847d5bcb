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
	"encoding/json"

	"github.com/cylc/cylc-scheduler/internal/flow"
	cylclog "github.com/cylc/cylc-scheduler/internal/log"
	"github.com/cylc/cylc-scheduler/internal/metrics"
)

// SpawnOnOutput processes one completed output of itask: it records the
// output, fires absolute-output bookkeeping, and spawns or satisfies every
// downstream child named in the graph for that output. forced is set by
// ForceSpawnChildren and by manual set-outputs commands, which must drive
// children even when the parent task is not itself in the pool — grounded
// on task_pool.py's spawn_on_output.
func (p *Pool) SpawnOnOutput(itask *Proxy, output string, forced bool) {
	message := output
	itask.Outputs.SetCompleted(output, message)
	p.stageOutputUpdate(itask)

	if output == OutputFailed {
		if _, expected := p.ExpectedFailedTasks[itask.Def.Name()+"."+itask.Point.String()]; !expected {
			p.AbortTaskFailed = true
		}
	}

	var suicide []*Proxy
	for _, child := range itask.GraphChildren(output) {
		if child.IsAbsolute {
			// The done-set is keyed by the producing task's name and
			// output, not the child's: "this output of this task name has
			// occurred" is what an absolute trigger on any instance of
			// child.Name checks against, regardless of cycle point.
			key := itask.Def.Name() + "|" + output
			p.AbsOutputsDone[key] = struct{}{}
			p.DB.PutInsertAbsOutput(itask.Point.String(), itask.Def.Name(), output)
			p.satisfyAllInstances(child.Name, output, itask.Point.String())
			continue
		}

		childPoint := child.Point
		if childPoint == nil {
			childPoint = itask.Point
		}

		existing, ok := p.GetTaskByID(child.Name, childPoint.String())
		if ok {
			p.MergeFlows(existing, itask.FlowNums)
			p.satisfyOne(existing, itask.Point.String(), itask.Def.Name(), output)
			// Move from hidden to main if that was the last unsatisfied
			// prerequisite.
			p.AddToPool(existing, false)
		} else {
			// Spawn only if the parent belongs to a flow (so it can spawn
			// children, or the spawn is forced) and is not parked waiting
			// for an upcoming flow merge.
			if (len(itask.FlowNums) == 0 && !forced) || itask.FlowWait {
				continue
			}
			// child def must be resolvable by the caller's task-def
			// registry; callers that only have names (rather than defs)
			// resolve it via AllDefs.
			childDef := p.findDef(child.Name)
			if childDef == nil {
				continue
			}
			itaskChild := p.SpawnTask(childDef, childPoint, itask.FlowNums, false, false, false)
			if itaskChild == nil {
				continue
			}
			p.satisfyOne(itaskChild, itask.Point.String(), itask.Def.Name(), output)
			p.AddToPool(itaskChild, true)
			existing = itaskChild
		}

		if existing.SuicidePrereqsSatisfied() {
			suicide = append(suicide, existing)
			continue
		}

		if existing.IsRunahead && p.RunaheadLimitPoint != nil && existing.Point.Compare(p.RunaheadLimitPoint) <= 0 {
			existing.IsRunahead = false
			p.Queues.Push(existing)
		} else if existing.PrereqsSatisfied() && !existing.IsRunahead {
			p.Queues.Push(existing)
		}
	}

	for _, c := range suicide {
		msg := "suicide"
		if c.Status.IsActive() && !c.IsHeld {
			msg += " while active"
		}
		p.remove(c, msg)
	}

	if !forced && isTerminalOutput(output) {
		p.RemoveIfComplete(itask)
	}
}

func isTerminalOutput(output string) bool {
	switch output {
	case OutputSucceeded, OutputFailed, OutputExpired:
		return true
	}
	return false
}

// findDef looks a task definition up by name in AllDefs.
func (p *Pool) findDef(name string) TaskDef {
	for _, d := range p.AllDefs {
		if d.Name() == name {
			return d
		}
	}
	return nil
}

// satisfyOne marks prerequisites — normal and suicide — of child matching
// (parentPoint, parentName, output) as satisfied.
func (p *Pool) satisfyOne(child *Proxy, parentPoint, parentName, output string) {
	for _, list := range [][]*Prerequisite{child.Prereqs, child.SuicidePrereqs} {
		for _, pr := range list {
			if pr.IsSatisfied() {
				continue
			}
			if pr.Key.Point.String() == parentPoint && pr.Key.Name == parentName && pr.Key.Output == output {
				pr.Satisfied = satisfiedNaturally
			}
		}
	}
}

// satisfyAllInstances re-applies the absolute-outputs-done set to every
// pool instance of childName, so an absolute trigger satisfied after a
// downstream instance was already spawned still takes effect.
func (p *Pool) satisfyAllInstances(childName, output, parentPoint string) {
	_ = output
	_ = parentPoint
	for _, t := range p.AllTasks() {
		if t.Def.Name() != childName || !t.Def.HasAbsoluteTriggers() {
			continue
		}
		if t.ForceSatisfyAbsolute(p.AbsOutputsDone) {
			p.AddToPool(t, false)
		}
	}
}

// stageOutputUpdate re-serialises itask's completed label -> message map
// and queues the full-replace write, matching cylc-flow's
// re-serialise-on-every-event persistence of task_outputs.
func (p *Pool) stageOutputUpdate(itask *Proxy) {
	b, _ := json.Marshal(itask.Outputs.CompletedMap())
	p.DB.PutUpdateTaskOutputs(itask.Point.String(), itask.Def.Name(), itask.FlowNums.Slice(), string(b))
}

// decodeOutputsJSON parses a task_outputs column value back into the
// label -> message map stageOutputUpdate writes. Rows written by earlier
// releases stored a bare list of labels; those decode with each label
// standing in as its own message.
func decodeOutputsJSON(raw string) map[string]string {
	out := map[string]string{}
	if json.Unmarshal([]byte(raw), &out) == nil {
		return out
	}
	var labels []string
	if json.Unmarshal([]byte(raw), &labels) == nil {
		for _, label := range labels {
			out[label] = label
		}
	}
	return out
}

// SpawnOnAllOutputs replays every already-completed output of itask
// through SpawnOnOutput, so downstream tasks added to a flow after itask
// finished still receive their triggers. completedOnly restricts the
// replay to outputs already recorded as completed; with completedOnly
// false (cylc-7 back-compat's pre-emptive spawn, and set-outputs --all)
// the definition's required outputs are replayed instead, and each is
// marked completed as it goes. Optional outputs are not replayed then.
func (p *Pool) SpawnOnAllOutputs(itask *Proxy, completedOnly bool) {
	if completedOnly {
		for _, label := range itask.Outputs.Completed() {
			p.SpawnOnOutput(itask, label, true)
		}
		return
	}
	for _, label := range itask.Def.RequiredOutputs() {
		p.SpawnOnOutput(itask, label, true)
	}
}

// MergeFlows merges flowNums into itask's flow membership, per spec.md
// §4.4.3/task_pool.py's merge_flows:
//
//   - no-op if flowNums is already a subset of itask.FlowNums
//   - if itask is in a final state with incomplete required outputs, the
//     merge resurrects it: status resets to waiting and the union of flows
//     is recorded
//   - if itask is flow_wait'd, or belongs to no flow at all, the union is
//     recorded, flow_wait is cleared, its completed outputs are replayed
//     for the newly joined flow, and any parentless successor is spawned to
//     the runahead limit
//   - otherwise the union is simply recorded
func (p *Pool) MergeFlows(itask *Proxy, flowNums flow.Nums) {
	if len(flowNums) == 0 || isSubset(flowNums, itask.FlowNums) {
		return
	}

	merged := itask.FlowNums.Union(flowNums)

	if itask.Status.IsFinal() {
		incomplete := itask.Outputs.Incomplete(itask.Def.RequiredOutputs())
		if len(incomplete) > 0 {
			itask.Status = StatusWaiting
			itask.FlowNums = merged
			p.Log.Info("reset to waiting on flow merge, incomplete outputs",
				cylclog.String(cylclog.TaskKey, itask.Def.Name()),
				cylclog.String(cylclog.PointKey, itask.Point.String()))
			p.stageStateUpdate(itask)
			p.Queues.Push(itask)
			return
		}
	}

	wasWaitingFlow := itask.FlowWait || len(itask.FlowNums) == 0
	itask.FlowNums = merged
	p.stageStateUpdate(itask)

	if wasWaitingFlow {
		itask.FlowWait = false
		p.SpawnOnAllOutputs(itask, true)
		if itask.Def.IsParentless(itask.Point) {
			p.SpawnToRHLimit(itask.Def, itask.Point, itask.FlowNums)
		}
	}
}

func isSubset(a, b flow.Nums) bool {
	for n := range a {
		if !b.Contains(n) {
			return false
		}
	}
	return true
}

// stageStateUpdate re-serialises itask's mutable state columns (status,
// submit number, flow_wait, completeness) to task_states.
func (p *Pool) stageStateUpdate(itask *Proxy) {
	isComplete := len(itask.Outputs.Incomplete(itask.Def.RequiredOutputs())) == 0
	p.DB.PutUpdateTaskState(itask.Def.Name(), itask.Point.String(), itask.FlowNums.Slice(),
		string(itask.Status), itask.SubmitNum, itask.FlowWait, isComplete)
}

// RemoveIfComplete removes itask from the pool once every required output
// has completed, unless cylc-7 back-compat is enabled (in which case any
// terminal status other than failed removes the task, and a failed task is
// retained) — task_pool.py's remove_if_complete.
// An incomplete finished task is retained and logged as a stall
// contributor instead of removed.
func (p *Pool) RemoveIfComplete(itask *Proxy) bool {
	if !itask.Status.IsFinal() {
		return false
	}

	if p.Cfg.Cylc7BackCompat {
		removed := false
		if itask.Status != StatusFailed {
			p.remove(itask, "finished")
			removed = true
		}
		// Cylc-7 semantics retain failed tasks but still recompute the
		// runahead base point around them.
		p.ComputeRunahead(true)
		p.ReleaseRunaheadTasks()
		return removed
	}

	incomplete := itask.Outputs.Incomplete(itask.Def.RequiredOutputs())
	if len(incomplete) > 0 {
		p.Log.Warn("task finished with incomplete outputs, retaining in pool",
			cylclog.String(cylclog.TaskKey, itask.Def.Name()),
			cylclog.String(cylclog.PointKey, itask.Point.String()))
		return false
	}

	if itask.Identity() == p.StopTaskID {
		p.StopTaskFinished = true
	}

	p.remove(itask, "completed")
	p.ComputeRunahead(true)
	p.ReleaseRunaheadTasks()
	return true
}

// remove drops itask from whichever pool holds it and stages its removal
// from task_pool.
func (p *Pool) remove(itask *Proxy, reason string) {
	point := itask.Point.String()
	name := itask.Def.Name()
	if byName, ok := p.Main[point]; ok {
		delete(byName, name)
		if len(byName) == 0 {
			delete(p.Main, point)
		}
	}
	if byName, ok := p.Hidden[point]; ok {
		delete(byName, name)
		if len(byName) == 0 {
			delete(p.Hidden, point)
		}
	}
	p.Queues.Remove(itask.Identity())
	p.DB.PutInsertTaskEvents(name, point, itask.SubmitNum, "removed", reason)
	metrics.RecordRemoval(reason)
	p.Log.Info("removed task",
		cylclog.String(cylclog.TaskKey, name),
		cylclog.String(cylclog.PointKey, point),
		cylclog.String("reason", reason))
}
