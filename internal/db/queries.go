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

package db

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	cylcerrors "github.com/cylc/cylc-scheduler/internal/errors"
)

// RestartPoolRow is one row of select_task_pool_for_restart: everything
// needed to reconstitute a TaskProxy, left-outer-joined across pool,
// states, late flags, the most recent matching job row, timeout timers,
// and outputs.
type RestartPoolRow struct {
	Cycle          string
	Name           string
	FlowNums       string
	Status         string
	IsHeld         bool
	SubmitNum      int
	IsManualSubmit bool
	FlowWait       bool
	IsComplete     bool
	IsLate         bool
	PlatformName   sql.NullString
	JobRunnerName  sql.NullString
	JobID          sql.NullString
	TimeoutTimer   sql.NullFloat64
	OutputsJSON    sql.NullString
}

// SelectTaskPoolForRestart returns one row per task_pool entry with every
// field needed to reconstitute a TaskProxy. If any row references a
// platform not in knownPlatforms, all such platforms are collected and
// returned as a PlatformLookupError instead of rows. A nil knownPlatforms
// means no platform registry was supplied and the check is skipped (the
// platform layer is an external collaborator; callers without one pass
// nil rather than an empty registry).
func (d *DAO) SelectTaskPoolForRestart(ctx context.Context, knownPlatforms map[string]struct{}) ([]RestartPoolRow, error) {
	const q = `
		SELECT p.cycle, p.name, p.flow_nums, p.status, p.is_held,
		       s.submit_num, s.is_manual_submit, s.flow_wait, s.is_complete,
		       COALESCE(l.value, 0) AS is_late,
		       j.platform_name, j.job_runner_name, j.job_id,
		       t.timeout,
		       o.outputs
		FROM task_pool p
		LEFT JOIN task_states s
		       ON s.cycle = p.cycle AND s.name = p.name AND s.flow_nums = p.flow_nums
		LEFT JOIN task_late_flags l
		       ON l.cycle = p.cycle AND l.name = p.name
		LEFT JOIN task_jobs j
		       ON j.cycle = p.cycle AND j.name = p.name AND j.submit_num = s.submit_num
		LEFT JOIN task_timeout_timers t
		       ON t.cycle = p.cycle AND t.name = p.name
		LEFT JOIN task_outputs o
		       ON o.cycle = p.cycle AND o.name = p.name AND o.flow_nums = p.flow_nums
	`

	var rows []RestartPoolRow
	var missing = map[string]struct{}{}

	err := d.query(ctx, q, func(r *sql.Rows) error {
		for r.Next() {
			var row RestartPoolRow
			var isHeld, isManualSubmit, flowWait, isComplete, isLate int
			if err := r.Scan(
				&row.Cycle, &row.Name, &row.FlowNums, &row.Status, &isHeld,
				&row.SubmitNum, &isManualSubmit, &flowWait, &isComplete,
				&isLate,
				&row.PlatformName, &row.JobRunnerName, &row.JobID,
				&row.TimeoutTimer,
				&row.OutputsJSON,
			); err != nil {
				return fmt.Errorf("scan task pool restart row: %w", err)
			}
			row.IsHeld = isHeld != 0
			row.IsManualSubmit = isManualSubmit != 0
			row.FlowWait = flowWait != 0
			row.IsComplete = isComplete != 0
			row.IsLate = isLate != 0

			if row.PlatformName.Valid && knownPlatforms != nil {
				if _, ok := knownPlatforms[row.PlatformName.String]; !ok {
					missing[row.PlatformName.String] = struct{}{}
				}
			}
			rows = append(rows, row)
		}
		return r.Err()
	})
	if err != nil {
		return nil, err
	}

	if len(missing) > 0 {
		names := make([]string, 0, len(missing))
		for name := range missing {
			names = append(names, name)
		}
		return nil, &cylcerrors.PlatformLookupError{Platforms: names}
	}
	return rows, nil
}

// PrevInstance is one row of select_prev_instances.
type PrevInstance struct {
	SubmitNum int
	FlowWait  bool
	FlowNums  string
	Status    string
}

// SelectPrevInstances returns every previously recorded submission of
// (name, point) — flow-merge may yield several rows for the same submit
// number under different flow_nums.
func (d *DAO) SelectPrevInstances(ctx context.Context, name, cycle string) ([]PrevInstance, error) {
	const q = `
		SELECT submit_num, flow_wait, flow_nums, status
		FROM task_states
		WHERE name = ? AND cycle = ?
		ORDER BY submit_num
	`
	var out []PrevInstance
	err := d.query(ctx, q, func(r *sql.Rows) error {
		for r.Next() {
			var p PrevInstance
			var flowWait int
			if err := r.Scan(&p.SubmitNum, &flowWait, &p.FlowNums, &p.Status); err != nil {
				return fmt.Errorf("scan prev instance: %w", err)
			}
			p.FlowWait = flowWait != 0
			out = append(out, p)
		}
		return r.Err()
	}, name, cycle)
	return out, err
}

// SelectLatestFlowNums returns the flow_nums string of the most recently
// created task_states row whose flow_nums is not the empty set.
func (d *DAO) SelectLatestFlowNums(ctx context.Context) (string, error) {
	const q = `
		SELECT flow_nums FROM task_states
		WHERE flow_nums != '' AND flow_nums != '[]'
		ORDER BY time_created DESC
		LIMIT 1
	`
	var out string
	err := d.query(ctx, q, func(r *sql.Rows) error {
		if r.Next() {
			return r.Scan(&out)
		}
		return r.Err()
	})
	return out, err
}

// SelectNRestart returns workflow_params.n_restart, the count of restarts
// already recorded against this run, or 0 if the key has never been set
// (a first run, or a pre-restart-tracking database).
func (d *DAO) SelectNRestart(ctx context.Context) (int, error) {
	const q = `SELECT value FROM workflow_params WHERE key = 'n_restart'`
	var out int
	err := d.query(ctx, q, func(r *sql.Rows) error {
		if r.Next() {
			var value string
			if err := r.Scan(&value); err != nil {
				return err
			}
			n, _ := strconv.Atoi(value)
			out = n
		}
		return r.Err()
	})
	return out, err
}

// FlowRecordRow is one row of workflow_flows, used by internal/flow.Mgr's
// LoadFromDB (spec.md §4.2's "load metadata for the given subset").
type FlowRecordRow struct {
	Num         int
	Description string
	StartTime   time.Time
}

// SelectFlowRecords loads the flow metadata for exactly the given flow
// numbers (the subset observed while restoring the task pool), grounded
// on flow_mgr.py's load_from_db. An empty nums returns no rows rather than
// the whole table, matching "for the given subset".
func (d *DAO) SelectFlowRecords(ctx context.Context, nums []int) ([]FlowRecordRow, error) {
	if len(nums) == 0 {
		return nil, nil
	}
	placeholders := make([]string, len(nums))
	args := make([]any, len(nums))
	for i, n := range nums {
		placeholders[i] = "?"
		args[i] = n
	}
	q := fmt.Sprintf(
		`SELECT flow_num, description, start_time FROM workflow_flows WHERE flow_num IN (%s)`,
		strings.Join(placeholders, ","),
	)
	var out []FlowRecordRow
	err := d.query(ctx, q, func(r *sql.Rows) error {
		for r.Next() {
			var row FlowRecordRow
			var startTime string
			if err := r.Scan(&row.Num, &row.Description, &startTime); err != nil {
				return fmt.Errorf("scan flow record: %w", err)
			}
			if t, perr := time.Parse(time.RFC3339, startTime); perr == nil {
				row.StartTime = t
			}
			out = append(out, row)
		}
		return r.Err()
	}, args...)
	return out, err
}

// SelectTaskOutputs returns {outputs_json: flow_nums} for (name, point).
func (d *DAO) SelectTaskOutputs(ctx context.Context, name, cycle string) (map[string]string, error) {
	const q = `SELECT outputs, flow_nums FROM task_outputs WHERE name = ? AND cycle = ?`
	out := make(map[string]string)
	err := d.query(ctx, q, func(r *sql.Rows) error {
		for r.Next() {
			var outputs, flowNums string
			if err := r.Scan(&outputs, &flowNums); err != nil {
				return fmt.Errorf("scan task outputs: %w", err)
			}
			out[outputs] = flowNums
		}
		return r.Err()
	}, name, cycle)
	return out, err
}

// PrereqRow is one row of select_task_prerequisites: the satisfied flag
// recorded for one prerequisite condition of one pool entry.
type PrereqRow struct {
	PrereqName   string
	PrereqCycle  string
	PrereqOutput string
	Satisfied    string
}

// SelectTaskPrerequisites returns the recorded satisfied flag for every
// prerequisite of (name, cycle, flowNums), keyed by flow_nums so a restart
// only overwrites the flags belonging to the instance being restored.
func (d *DAO) SelectTaskPrerequisites(ctx context.Context, cycle, name, flowNumsKey string) ([]PrereqRow, error) {
	const q = `
		SELECT prereq_name, prereq_cycle, prereq_output, satisfied
		FROM task_prerequisites
		WHERE cycle = ? AND name = ? AND flow_nums = ?
	`
	var out []PrereqRow
	err := d.query(ctx, q, func(r *sql.Rows) error {
		for r.Next() {
			var p PrereqRow
			if err := r.Scan(&p.PrereqName, &p.PrereqCycle, &p.PrereqOutput, &p.Satisfied); err != nil {
				return fmt.Errorf("scan task prerequisite: %w", err)
			}
			out = append(out, p)
		}
		return r.Err()
	}, cycle, name, flowNumsKey)
	return out, err
}

// HeldTask is one row of select_tasks_to_hold.
type HeldTask struct {
	Name  string
	Cycle string
}

func (d *DAO) SelectTasksToHold(ctx context.Context) ([]HeldTask, error) {
	const q = `SELECT name, cycle FROM tasks_to_hold`
	var out []HeldTask
	err := d.query(ctx, q, func(r *sql.Rows) error {
		for r.Next() {
			var h HeldTask
			if err := r.Scan(&h.Name, &h.Cycle); err != nil {
				return fmt.Errorf("scan tasks_to_hold: %w", err)
			}
			out = append(out, h)
		}
		return r.Err()
	})
	return out, err
}

// XTriggerRow is one row of select_xtriggers_for_restart.
type XTriggerRow struct {
	Signature string
	Results   string
}

func (d *DAO) SelectXTriggersForRestart(ctx context.Context) ([]XTriggerRow, error) {
	const q = `SELECT signature, results FROM xtriggers`
	var out []XTriggerRow
	err := d.query(ctx, q, func(r *sql.Rows) error {
		for r.Next() {
			var x XTriggerRow
			if err := r.Scan(&x.Signature, &x.Results); err != nil {
				return fmt.Errorf("scan xtrigger: %w", err)
			}
			out = append(out, x)
		}
		return r.Err()
	})
	return out, err
}

// AbsOutputRow is one row of select_abs_outputs_for_restart.
type AbsOutputRow struct {
	Cycle  string
	Name   string
	Output string
}

func (d *DAO) SelectAbsOutputsForRestart(ctx context.Context) ([]AbsOutputRow, error) {
	const q = `SELECT cycle, name, output FROM absolute_outputs`
	var out []AbsOutputRow
	err := d.query(ctx, q, func(r *sql.Rows) error {
		for r.Next() {
			var a AbsOutputRow
			if err := r.Scan(&a.Cycle, &a.Name, &a.Output); err != nil {
				return fmt.Errorf("scan absolute output: %w", err)
			}
			out = append(out, a)
		}
		return r.Err()
	})
	return out, err
}

// ActionTimerRow is one row of select_task_action_timers.
type ActionTimerRow struct {
	Cycle  string
	Name   string
	CtxKey string
	Ctx    sql.NullString
	Delays sql.NullString
	Num    int
	Delay  sql.NullString
	Timeout sql.NullString
}

func (d *DAO) SelectTaskActionTimers(ctx context.Context) ([]ActionTimerRow, error) {
	const q = `SELECT cycle, name, ctx_key, ctx, delays, num, delay, timeout FROM task_action_timers`
	var out []ActionTimerRow
	err := d.query(ctx, q, func(r *sql.Rows) error {
		for r.Next() {
			var a ActionTimerRow
			if err := r.Scan(&a.Cycle, &a.Name, &a.CtxKey, &a.Ctx, &a.Delays, &a.Num, &a.Delay, &a.Timeout); err != nil {
				return fmt.Errorf("scan action timer: %w", err)
			}
			out = append(out, a)
		}
		return r.Err()
	})
	return out, err
}

// TaskRunTimes is one row of select_task_job_run_times: a task name and
// its successful jobs' elapsed run times in seconds. Go callers get a
// slice directly rather than cylc-flow's comma-joined string — the one
// external consumer (mean elapsed-time estimation) is out of scope, but
// the query itself stays in scope and returns usable data.
type TaskRunTimes struct {
	Name     string
	Seconds  []float64
}

func (d *DAO) SelectTaskJobRunTimes(ctx context.Context) ([]TaskRunTimes, error) {
	const q = `
		SELECT name,
		       (julianday(time_run_exit) - julianday(time_run)) * 86400.0 AS elapsed
		FROM task_jobs
		WHERE run_status = 0 AND time_run IS NOT NULL AND time_run_exit IS NOT NULL
		ORDER BY name, cycle, submit_num
	`
	byName := make(map[string][]float64)
	var order []string
	err := d.query(ctx, q, func(r *sql.Rows) error {
		for r.Next() {
			var name string
			var elapsed float64
			if err := r.Scan(&name, &elapsed); err != nil {
				return fmt.Errorf("scan job run time: %w", err)
			}
			if _, seen := byName[name]; !seen {
				order = append(order, name)
			}
			byName[name] = append(byName[name], elapsed)
		}
		return r.Err()
	})
	if err != nil {
		return nil, err
	}

	out := make([]TaskRunTimes, 0, len(order))
	for _, name := range order {
		out = append(out, TaskRunTimes{Name: name, Seconds: byName[name]})
	}
	return out, nil
}

// SelectTemplateVars reads back the workflow_template_vars snapshot,
// YAML-decoding each value into its structured form. A value that fails
// to decode is returned as its raw string rather than dropped.
func (d *DAO) SelectTemplateVars(ctx context.Context) (map[string]any, error) {
	const q = `SELECT key, value FROM workflow_template_vars`
	out := make(map[string]any)
	err := d.query(ctx, q, func(r *sql.Rows) error {
		for r.Next() {
			var key, raw string
			if err := r.Scan(&key, &raw); err != nil {
				return fmt.Errorf("scan template var: %w", err)
			}
			var val any
			if yaml.Unmarshal([]byte(raw), &val) != nil {
				val = raw
			}
			out[key] = val
		}
		return r.Err()
	})
	return out, err
}
