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
	cylclog "github.com/cylc/cylc-scheduler/internal/log"
)

// SetDoReload flags that ReloadTaskDefs should run at the next opportunity.
func (p *Pool) SetDoReload() {
	p.pendingReload = true
}

// ReloadPending reports whether a reload has been requested but not yet
// applied.
func (p *Pool) ReloadPending() bool {
	return p.pendingReload
}

// ReloadTaskDefs swaps in a new set of task definitions: active instances
// of tasks still defined keep running against their new TaskDef (pointer
// swap); active instances of tasks no longer defined (orphans) are left to
// finish with their children suppressed; and every other instance not yet
// active is replaced outright by re-spawning from the new definitions.
// Grounded on task_pool.py's reload_taskdefs.
func (p *Pool) ReloadTaskDefs(newDefs []TaskDef) {
	byName := make(map[string]TaskDef, len(newDefs))
	for _, d := range newDefs {
		byName[d.Name()] = d
	}

	var orphaned []string
	for _, t := range p.AllTasks() {
		newDef, stillExists := byName[t.Def.Name()]
		switch {
		case !stillExists && t.Status.IsActive():
			// Active orphan: let it run to completion, but stop it from
			// spawning further children since its def is gone.
			p.Orphans = append(p.Orphans, t.Identity())
			orphaned = append(orphaned, t.Identity())
			t.GraphChildrenOverride = map[string][]Child{}
		case !stillExists:
			p.remove(t, "definition removed by reload")
		case t.Status.IsActive():
			// Active non-orphan: keep running, just repoint at the new def.
			t.Def = newDef
		default:
			// Not yet active: safe to fully replace with a fresh instance
			// built from the new definition, preserving flow membership,
			// hold state, and submit count.
			replacement := NewProxy(newDef, t.Point, t.FlowNums, t.SubmitNum)
			replacement.IsHeld = t.IsHeld
			replacement.IsManualSubmit = t.IsManualSubmit
			replacement.FlowWait = t.FlowWait
			replacement.Outputs = t.Outputs
			p.remove(t, "redefined by reload")
			p.AddToPool(replacement, false)
		}
	}

	if len(orphaned) > 0 {
		// One line naming every orphan, not a line per orphan.
		p.Log.Warn("task definitions removed by reload; active instances will finish without spawning",
			cylclog.Attr("orphans", orphaned))
	}

	p.AllDefs = newDefs
	p.Queues.Configure(nil, nil)
	for _, t := range p.MainTasks() {
		if t.Status == StatusWaiting && t.PrereqsSatisfied() && !t.IsHeld && !t.IsRunahead {
			p.Queues.Push(t)
		}
	}

	p.pendingReload = false
	p.Log.Info("reload applied", cylclog.Int("orphans", len(p.Orphans)))
}
