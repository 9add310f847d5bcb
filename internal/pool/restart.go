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
	"encoding/json"
	"strconv"
	"strings"

	"github.com/cylc/cylc-scheduler/internal/cycle"
	"github.com/cylc/cylc-scheduler/internal/db"
	"github.com/cylc/cylc-scheduler/internal/flow"
	cylclog "github.com/cylc/cylc-scheduler/internal/log"
)

// parseFlowNumsKey parses the flow_nums column back into a flow.Nums set:
// the JSON-array form this kernel writes, falling back to the legacy
// comma-joined form found in rows written before the pre-8.3 upgrade
// rewrote the column.
func parseFlowNumsKey(key string) flow.Nums {
	var nums []int
	if json.Unmarshal([]byte(key), &nums) == nil {
		return flow.NewNums(nums...)
	}
	return flowNumsFromCSV(key)
}

// LoadFromPoint bootstraps a brand-new workflow run (no prior database
// state to restore) by allocating an original flow and spawning every
// parentless task definition's first instance out to the runahead limit —
// task_pool.py's load_from_point. This is the counterpart to
// LoadDBTaskPoolForRestart: exactly one of the two is called when the
// kernel starts, depending on whether a primary database already existed.
func (p *Pool) LoadFromPoint() {
	flowNum := p.Flow.GetFlow(nil, "original flow from "+startPointLabel(p.Cfg.InitialPoint))
	flowNums := flow.NewNums(flowNum)

	p.ComputeRunahead(true)

	for _, def := range p.AllDefs {
		point, ok := def.FirstPoint(p.Cfg.InitialPoint)
		if !ok {
			continue
		}
		p.spawnFirstThenToRHLimit(def, point, flowNums)
	}
}

func startPointLabel(p cycle.Point) string {
	if p == nil {
		return "(none)"
	}
	return p.String()
}

// spawnFirstThenToRHLimit spawns def's own instance at point (its first
// valid point, which SpawnToRHLimit's after-the-given-point loop would
// otherwise skip), then continues spawning successive parentless instances
// up to the runahead limit exactly as SpawnToRHLimit does from any other
// already-pooled instance.
func (p *Pool) spawnFirstThenToRHLimit(def TaskDef, point cycle.Point, flowNums flow.Nums) {
	if !def.IsParentless(point) {
		return
	}
	beyondLimit := p.RunaheadLimitPoint != nil && point.Compare(p.RunaheadLimitPoint) > 0
	itask := p.SpawnTask(def, point, flowNums, false, false, false)
	if itask == nil {
		return
	}
	if beyondLimit {
		itask.IsRunahead = true
	}
	p.AddToPool(itask, true)
	if beyondLimit {
		return
	}
	p.Queues.Push(itask)
	p.SpawnToRHLimit(def, point, flowNums)
}

// LoadDBTaskPoolForRestart reconstitutes the task pool from the primary
// database's task_pool table (plus the states/jobs/outputs/prerequisites it
// joins against), rewinding preparing submissions back to waiting and
// replaying every already-recorded completed output onto each proxy so
// downstream spawning resumes where the previous run stopped. Grounded on
// task_pool.py's load_db_task_pool_for_restart.
func (p *Pool) LoadDBTaskPoolForRestart(ctx context.Context, knownPlatforms map[string]struct{}) error {
	rows, err := p.DB.Primary.SelectTaskPoolForRestart(ctx, knownPlatforms)
	if err != nil {
		return err
	}

	held, err := p.DB.Primary.SelectTasksToHold(ctx)
	if err != nil {
		return err
	}
	for _, h := range held {
		p.TasksToHold[h.Name+"."+h.Cycle] = struct{}{}
	}

	absOutputs, err := p.DB.Primary.SelectAbsOutputsForRestart(ctx)
	if err != nil {
		return err
	}
	for _, a := range absOutputs {
		p.AbsOutputsDone[a.Name+"|"+a.Output] = struct{}{}
	}

	for _, row := range rows {
		def := p.findDef(row.Name)
		if def == nil {
			p.Orphans = append(p.Orphans, row.Name+"."+row.Cycle)
			continue
		}
		point, err := cycle.ParsePoint(row.Cycle, p.Cfg.CyclePointFormat)
		if err != nil {
			return err
		}

		itask := NewProxy(def, point, parseFlowNumsKey(row.FlowNums), row.SubmitNum)
		itask.IsManualSubmit = row.IsManualSubmit
		itask.FlowWait = row.FlowWait
		itask.Status = rewindStatus(Status(row.Status))
		if itask.Status != Status(row.Status) {
			// A preparing task never reached a platform: back its submit
			// count off so the same submission is re-prepared on this run.
			itask.SubmitNum--
			if itask.SubmitNum < 0 {
				itask.SubmitNum = 0
			}
		}
		itask.IsHeld = row.IsHeld
		if _, ok := p.TasksToHold[row.Name+"."+row.Cycle]; ok {
			itask.IsHeld = true
		}
		if row.PlatformName.Valid {
			itask.Platform = row.PlatformName.String
		}
		if row.TimeoutTimer.Valid {
			tt := row.TimeoutTimer.Float64
			itask.TimeoutTimer = &tt
		}

		if row.OutputsJSON.Valid {
			for label, message := range decodeOutputsJSON(row.OutputsJSON.String) {
				itask.Outputs.SetCompleted(label, message)
			}
		}

		prereqRows, err := p.DB.Primary.SelectTaskPrerequisites(ctx, row.Cycle, row.Name, row.FlowNums)
		if err != nil {
			return err
		}
		for _, pr := range prereqRows {
			prereqPoint, perr := cycle.ParsePoint(pr.PrereqCycle, p.Cfg.CyclePointFormat)
			if perr != nil {
				continue
			}
			applyPrereqSatisfied(itask, prereqPoint, pr.PrereqName, pr.PrereqOutput, pr.Satisfied)
		}

		// Everything reloads runahead-limited; the recompute below (and
		// release pass) decides what actually runs.
		itask.IsRunahead = true
		p.AddToPool(itask, false)

		if itask.Status.IsFinal() || itask.IsManualSubmit {
			itask.IsRunahead = false
			p.Queues.Push(itask)
		}

		p.Log.Info("restored task from database",
			cylclog.String(cylclog.TaskKey, itask.Def.Name()),
			cylclog.String(cylclog.PointKey, itask.Point.String()),
			cylclog.String("status", string(itask.Status)))
	}

	p.ComputeRunahead(true)
	p.ReleaseRunaheadTasks()

	if err := p.updateFlowMgr(ctx); err != nil {
		return err
	}

	timers, err := p.LoadTaskActionTimers(ctx)
	if err != nil {
		return err
	}
	p.ActionTimers = timers
	return nil
}

// updateFlowMgr feeds every flow number observed across the just-restored
// pool into the flow manager: seeding its allocation counter and loading
// the recorded description/start_time for each one, so a post-restart
// `trigger --flow=N` against an already-known flow doesn't overwrite its
// metadata. Grounded on task_pool.py's update_flow_mgr, spec.md §4.5.7
// step 6.
func (p *Pool) updateFlowMgr(ctx context.Context) error {
	seen := map[int]struct{}{}
	for _, t := range p.AllTasks() {
		for n := range t.FlowNums {
			seen[n] = struct{}{}
		}
	}
	if len(seen) == 0 {
		return nil
	}
	nums := make([]int, 0, len(seen))
	for n := range seen {
		nums = append(nums, n)
	}

	rows, err := p.DB.Primary.SelectFlowRecords(ctx, nums)
	if err != nil {
		return err
	}
	records := make([]flow.Record, 0, len(rows))
	for _, r := range rows {
		records = append(records, flow.Record{Num: r.Num, Description: r.Description, StartTime: r.StartTime})
	}
	p.Flow.LoadFromDB(records)
	return nil
}

// rewindStatus maps a persisted preparing status back to waiting: a
// preparing task had not yet reached a job platform, so the same
// submission is simply re-prepared on the new run. Submitted and running
// tasks keep their status (their jobs may still be alive on the platform
// and are re-polled by the job layer); terminal and waiting statuses pass
// through unchanged.
func rewindStatus(s Status) Status {
	if s == StatusPreparing {
		return StatusWaiting
	}
	return s
}

// applyPrereqSatisfied sets the satisfied flag on itask's prerequisite
// matching (point, name, output), adding the prerequisite if it was not
// already present in the def-derived initial set (this can happen for
// abs-trigger style rows keyed differently than point/name/output).
func applyPrereqSatisfied(itask *Proxy, point cycle.Point, name, output, satisfied string) {
	for _, pr := range itask.Prereqs {
		if pr.Key.Point.Compare(point) == 0 && pr.Key.Name == name && pr.Key.Output == output {
			pr.Satisfied = satisfied
			return
		}
	}
	itask.Prereqs = append(itask.Prereqs, &Prerequisite{
		Key:       PrereqKey{Point: point, Name: name, Output: output},
		Satisfied: satisfied,
	})
}

// LoadTaskActionTimers restores pending event-handler retry timers from the
// primary database so a restarted workflow does not lose in-flight
// retry/notification schedules. The timers themselves are interpreted by
// the event-handling subsystem (out of this kernel's scope); this just
// surfaces the raw rows for that subsystem to consume.
func (p *Pool) LoadTaskActionTimers(ctx context.Context) ([]db.ActionTimerRow, error) {
	return p.DB.Primary.SelectTaskActionTimers(ctx)
}

// flowNumsFromCSV parses the legacy comma-joined flow number
// representation ("{1, 2}"), the parseFlowNumsKey fallback for rows
// written before the pre-8.3 upgrade rewrote the column to JSON arrays.
func flowNumsFromCSV(s string) flow.Nums {
	s = strings.Trim(s, "{}")
	if s == "" {
		return flow.Nums{}
	}
	parts := strings.Split(s, ",")
	nums := make([]int, 0, len(parts))
	for _, part := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(part))
		if err == nil {
			nums = append(nums, n)
		}
	}
	return flow.NewNums(nums...)
}
