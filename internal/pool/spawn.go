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
	"context"

	"github.com/cylc/cylc-scheduler/internal/cycle"
	"github.com/cylc/cylc-scheduler/internal/flow"
	cylclog "github.com/cylc/cylc-scheduler/internal/log"
)

// CanSpawn reports whether def has a valid instance at point: point must
// lie on one of def's sequences and within the configured initial/final
// bounds — task_pool.py's can_spawn.
func (p *Pool) CanSpawn(def TaskDef, point cycle.Point) bool {
	if p.Cfg.InitialPoint != nil && point.Compare(p.Cfg.InitialPoint) < 0 {
		return false
	}
	if p.Cfg.FinalPoint != nil && point.Compare(p.Cfg.FinalPoint) > 0 {
		return false
	}
	return def.IsValidPoint(point)
}

// SpawnTask constructs and returns a new TaskProxy for (def, point, flowNums),
// or nil if the task cannot or should not be spawned: point is invalid for
// def, an instance of a shared flow already ran, or this spawn resolves to a
// previously-recorded flow-wait instance (whose recorded outputs are instead
// replayed and its children spawned). Grounded on task_pool.py's spawn_task.
//
// The caller is responsible for calling AddToPool and, if the instance
// should run immediately, Queues.Push on the result.
func (p *Pool) SpawnTask(def TaskDef, point cycle.Point, flowNums flow.Nums, force, isManualSubmit, flowWait bool) *Proxy {
	if !p.CanSpawn(def, point) {
		return nil
	}

	if existing, ok := p.GetTaskByID(def.Name(), point.String()); ok {
		if !force {
			p.Log.Debug("not respawning active task",
				cylclog.String(cylclog.TaskKey, def.Name()),
				cylclog.String(cylclog.PointKey, point.String()))
			return nil
		}
		p.MergeFlows(existing, flowNums)
		return nil
	}

	submitNum := 0
	flowWaitDone := false
	waitedFlows := flow.Nums{}
	if p.DB != nil {
		prevs, err := p.DB.Primary.SelectPrevInstances(context.Background(), def.Name(), point.String())
		if err == nil && len(prevs) > 0 {
			last := prevs[len(prevs)-1]
			submitNum = last.SubmitNum + 1

			for _, prev := range prevs {
				prevFlows := parseFlowNumsKey(prev.FlowNums)
				shared := prevFlows.Intersects(flowNums)
				if prev.FlowWait && (shared || force) {
					// A previous submission was parked waiting for another
					// flow to arrive: resolve the rendezvous instead of
					// re-running the task, carrying its flow membership
					// into the merge.
					flowWaitDone = true
					waitedFlows = waitedFlows.Union(prevFlows)
					continue
				}
				if !force && shared {
					// Avoids "conditional reflow" with (e.g.) "foo | bar => baz".
					p.Log.Warn("not respawning: instance of this flow already ran",
						cylclog.String(cylclog.TaskKey, def.Name()),
						cylclog.String(cylclog.PointKey, point.String()))
					return nil
				}
			}
		}
	}

	if flowWaitDone {
		flowNums = flowNums.Union(waitedFlows)
	}

	itask := NewProxy(def, point, flowNums, submitNum)
	itask.IsManualSubmit = isManualSubmit
	itask.FlowWait = flowWait

	id := def.Name() + "." + point.String()
	if _, held := p.TasksToHold[id]; held {
		itask.IsHeld = true
	} else if p.HoldPoint != nil && point.Compare(p.HoldPoint) > 0 {
		// Beyond the workflow hold point.
		itask.IsHeld = true
	}

	if p.Cfg.StopPoint != nil && point.Compare(p.Cfg.StopPoint) <= 0 {
		for _, key := range itask.UnsatisfiedPrereqs() {
			if key.Point != nil && key.Point.Compare(p.Cfg.StopPoint) > 0 {
				p.Log.Warn("won't run: depends on a task beyond the stop point",
					cylclog.String(cylclog.TaskKey, def.Name()),
					cylclog.String(cylclog.PointKey, point.String()),
					cylclog.String("stop_point", p.Cfg.StopPoint.String()))
				break
			}
		}
	}

	if def.HasAbsoluteTriggers() && len(p.AbsOutputsDone) > 0 {
		itask.ForceSatisfyAbsolute(p.AbsOutputsDone)
	}

	if flowWaitDone {
		// A previous submission sharing one of these flow numbers was
		// parked waiting for this flow to arrive. Rather than re-running
		// the task, replay its recorded outputs onto the transient proxy
		// and spawn its children in the merged flow.
		outs, err := p.DB.Primary.SelectTaskOutputs(context.Background(), def.Name(), point.String())
		if err == nil {
			for outputsJSON, fnumsKey := range outs {
				if !parseFlowNumsKey(fnumsKey).Intersects(flowNums) {
					continue
				}
				for label, message := range decodeOutputsJSON(outputsJSON) {
					itask.Outputs.SetCompleted(label, message)
				}
				break
			}
		}
		p.Log.Info("spawning on outputs after flow wait",
			cylclog.String(cylclog.TaskKey, def.Name()),
			cylclog.String(cylclog.PointKey, point.String()))
		p.SpawnOnAllOutputs(itask, true)
		return nil
	}

	return itask
}

// ForceSpawnChildren constructs a transient parent proxy at (name, point)
// and drives SpawnOnOutput(forced=true) for each requested output,
// spawning or merging the named children without requiring the parent
// itself to be in the pool — task_pool.py's force_spawn_children.
func (p *Pool) ForceSpawnChildren(def TaskDef, point cycle.Point, flowNums flow.Nums, outputs []string) {
	transient := NewProxy(def, point, flowNums, 0)
	for _, out := range outputs {
		transient.Outputs.SetCompleted(out, out)
		p.SpawnOnOutput(transient, out, true)
	}
}
