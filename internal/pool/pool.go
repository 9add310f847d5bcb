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
	"log/slog"

	"github.com/cylc/cylc-scheduler/internal/config"
	"github.com/cylc/cylc-scheduler/internal/cycle"
	"github.com/cylc/cylc-scheduler/internal/db"
	"github.com/cylc/cylc-scheduler/internal/flow"
	cylclog "github.com/cylc/cylc-scheduler/internal/log"
	"github.com/cylc/cylc-scheduler/internal/metrics"
)

// Pool is the task pool: every active task instance, split between the
// main pool (candidates for release/queueing) and the hidden pool
// (prerequisites not yet satisfied), per spec.md §4.5.1.
type Pool struct {
	Cfg  *config.Config
	DB   *db.Manager
	Flow *flow.Mgr
	Log  *slog.Logger

	// Main and Hidden are keyed by point string then task name, matching
	// the teacher's nested-map convention for point-partitioned state.
	Main   map[string]map[string]*Proxy
	Hidden map[string]map[string]*Proxy

	Queues *QueueManager

	RunaheadLimitPoint cycle.Point
	HoldPoint          cycle.Point
	StopTaskID         string
	StopTaskFinished   bool

	AbsOutputsDone map[string]struct{} // "name|output" done set

	AbortTaskFailed      bool
	ExpectedFailedTasks  map[string]struct{}
	TasksToHold          map[string]struct{} // "name.point"
	Orphans              []string

	// ActionTimers holds the event-handler retry timers restored by the
	// last restart, for the (external) task-events layer to consume.
	ActionTimers []db.ActionTimerRow

	maxFutureOffset cycle.Interval

	pendingReload bool

	// AllDefs is the full set of task definitions in the workflow graph,
	// supplied by the external config/graph parser (spec.md §1's out-of-
	// scope collaborator). compute_runahead and spawn_to_rh_limit need it
	// to find each parentless task's first valid point when the pool is
	// otherwise empty.
	AllDefs []TaskDef
}

// SetTaskDefs installs the workflow's task definitions, used by the
// runahead governor and initial spawn.
func (p *Pool) SetTaskDefs(defs []TaskDef) {
	p.AllDefs = defs
}

// New constructs an empty task pool wired to its config, DAO manager, and
// flow manager — the three collaborators the teacher's worker-pool types
// take as constructor arguments rather than reaching for globals.
func New(cfg *config.Config, dbMgr *db.Manager, flowMgr *flow.Mgr, log *slog.Logger) *Pool {
	if log == nil {
		log = slog.Default()
	}
	return &Pool{
		Cfg:                 cfg,
		DB:                  dbMgr,
		Flow:                flowMgr,
		Log:                 log,
		Main:                make(map[string]map[string]*Proxy),
		Hidden:              make(map[string]map[string]*Proxy),
		Queues:              NewQueueManager(),
		AbsOutputsDone:      make(map[string]struct{}),
		ExpectedFailedTasks: make(map[string]struct{}),
		TasksToHold:         make(map[string]struct{}),
	}
}

// getMain returns the main-pool proxy for (name, point), if present.
func (p *Pool) getMain(name, point string) (*Proxy, bool) {
	byName, ok := p.Main[point]
	if !ok {
		return nil, false
	}
	t, ok := byName[name]
	return t, ok
}

// getHidden returns the hidden-pool proxy for (name, point), if present.
func (p *Pool) getHidden(name, point string) (*Proxy, bool) {
	byName, ok := p.Hidden[point]
	if !ok {
		return nil, false
	}
	t, ok := byName[name]
	return t, ok
}

// GetTaskByID looks a proxy up in either pool by (name, point), main pool
// first, per cylc-flow's get_task ordering.
func (p *Pool) GetTaskByID(name, point string) (*Proxy, bool) {
	if t, ok := p.getMain(name, point); ok {
		return t, true
	}
	return p.getHidden(name, point)
}

// putMain inserts itask into the main pool and drops any hidden-pool entry
// for the same identity (a task only ever lives in one pool at a time).
func (p *Pool) putMain(itask *Proxy) {
	point := itask.Point.String()
	if byName, ok := p.Hidden[point]; ok {
		delete(byName, itask.Def.Name())
		if len(byName) == 0 {
			delete(p.Hidden, point)
		}
	}
	if p.Main[point] == nil {
		p.Main[point] = make(map[string]*Proxy)
	}
	p.Main[point][itask.Def.Name()] = itask
}

// putHidden inserts itask into the hidden pool.
func (p *Pool) putHidden(itask *Proxy) {
	point := itask.Point.String()
	if p.Hidden[point] == nil {
		p.Hidden[point] = make(map[string]*Proxy)
	}
	p.Hidden[point][itask.Def.Name()] = itask
}

// AllTasks returns every proxy in both pools, main pool first, matching
// cylc-flow's get_all_tasks ordering.
func (p *Pool) AllTasks() []*Proxy {
	var out []*Proxy
	for _, byName := range p.Main {
		for _, t := range byName {
			out = append(out, t)
		}
	}
	for _, byName := range p.Hidden {
		for _, t := range byName {
			out = append(out, t)
		}
	}
	return out
}

// MainTasks returns every main-pool proxy.
func (p *Pool) MainTasks() []*Proxy {
	var out []*Proxy
	for _, byName := range p.Main {
		for _, t := range byName {
			out = append(out, t)
		}
	}
	return out
}

// TasksAtPoint returns every main-pool proxy at the given point string.
func (p *Pool) TasksAtPoint(point string) []*Proxy {
	byName, ok := p.Main[point]
	if !ok {
		return nil
	}
	out := make([]*Proxy, 0, len(byName))
	for _, t := range byName {
		out = append(out, t)
	}
	return out
}

// AddToPool inserts itask into the appropriate pool: hidden if its
// prerequisites aren't all satisfied and it isn't a manual submission,
// main otherwise. isNew controls whether this is a first-time insert (and
// so should be staged for the task_states/task_outputs tables) versus a
// restart/reload re-insertion of an already-persisted instance — spec.md
// §4.5.1, grounded on task_pool.py's add_to_pool.
func (p *Pool) AddToPool(itask *Proxy, isNew bool) {
	dest := "main"
	if !itask.PrereqsSatisfied() && !itask.IsManualSubmit {
		dest = "hidden"
		p.putHidden(itask)
		p.Log.Debug("added to hidden pool",
			cylclog.String(cylclog.TaskKey, itask.Def.Name()),
			cylclog.String(cylclog.PointKey, itask.Point.String()))
	} else {
		p.putMain(itask)
		p.Log.Debug("added to main pool",
			cylclog.String(cylclog.TaskKey, itask.Def.Name()),
			cylclog.String(cylclog.PointKey, itask.Point.String()))
	}

	if isNew {
		metrics.RecordSpawn(dest)
		p.stageNewTaskRows(itask)
	}

	if off, ok := itask.Def.MaxFuturePrereqOffset(); ok {
		p.setMaxFutureOffset(off)
	}
}

// stageNewTaskRows queues the task_states and task_outputs inserts a
// brand-new (never-before-persisted) instance needs.
func (p *Pool) stageNewTaskRows(itask *Proxy) {
	nums := itask.FlowNums.Slice()
	p.DB.PutInsertTaskStates(itask.Def.Name(), itask.Point.String(), nums,
		string(itask.Status), itask.IsManualSubmit, itask.FlowWait)
	p.DB.PutInsertTaskOutputs(itask.Def.Name(), itask.Point.String(), nums)
}

// StageSnapshot queues the full task_pool/task_prerequisites/
// task_timeout_timers re-insert from the current main pool, matching
// spec.md invariant 7 ("the DB task pool table reflects the in-memory main
// pool after each scheduler cycle-end commit") and §4.4's put_task_pool
// snapshotting write. Hidden-pool tasks are deliberately excluded: the
// persisted task_pool table mirrors the main pool only, same as
// cylc-flow's rundb.py schema.
func (p *Pool) StageSnapshot() {
	rows := make([]db.PoolSnapshotRow, 0, len(p.MainTasks()))
	for _, t := range p.MainTasks() {
		row := db.PoolSnapshotRow{
			Cycle:    t.Point.String(),
			Name:     t.Def.Name(),
			FlowNums: t.FlowNums.Slice(),
			Status:   string(t.Status),
			IsHeld:   t.IsHeld,
		}
		for _, pr := range t.Prereqs {
			row.Prerequisites = append(row.Prerequisites, db.PrereqSnapshotRow{
				PrereqName:   pr.Key.Name,
				PrereqCycle:  pr.Key.Point.String(),
				PrereqOutput: pr.Key.Output,
				Satisfied:    pr.Satisfied,
			})
		}
		if t.TimeoutTimer != nil {
			tt := *t.TimeoutTimer
			row.TimeoutTimer = &tt
		}
		rows = append(rows, row)
	}
	p.DB.PutTaskPool(rows)
}

// setMaxFutureOffset records the widest max-future-prereq-offset seen
// across the pool so far; a nil offset clears it. The maximum is not
// recomputed when the task that set it leaves the pool.
func (p *Pool) setMaxFutureOffset(off cycle.Interval) {
	if p.maxFutureOffset == nil || off == nil {
		p.maxFutureOffset = off
		return
	}
	// Keep whichever offset pushes the future trigger window further out.
	// Interval comparison has no general ordering in the Point/Interval
	// algebra, so we approximate it the same way task_pool.py does: by
	// applying both to a common reference point and comparing results.
	var ref cycle.Point = cycle.IntegerPoint(0)
	if _, ok := off.(cycle.DateTimeInterval); ok {
		ref = cycle.DateTimePoint{}
	}
	a := ref.Add(off)
	b := ref.Add(p.maxFutureOffset)
	if a.Compare(b) > 0 {
		p.maxFutureOffset = off
	}
}
