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
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"
	"gopkg.in/yaml.v3"

	cylcerrors "github.com/cylc/cylc-scheduler/internal/errors"
	"github.com/cylc/cylc-scheduler/internal/metrics"
)

// MaxTries is the number of consecutive public-replica write failures
// tolerated before the manager rebuilds the replica from the primary.
const MaxTries = 3

// Manager sits above the primary and public DAOs, staging writer methods
// and owning the restart/upgrade compatibility ladder.
type Manager struct {
	Primary *DAO
	Public  *DAO

	runDir string
	logger *slog.Logger

	publicRetries int
	limiter       *rate.Limiter
}

// NewManager opens the primary (0600) and public (0644) databases under
// runDir. On a fresh start (isRestart false) it first removes a stale
// primary file, and seeds the public path with a copy of the primary before
// opening the public database.
func NewManager(ctx context.Context, runDir string, isRestart bool, logger *slog.Logger) (*Manager, error) {
	primaryPath := filepath.Join(runDir, ".service", "db")
	publicPath := filepath.Join(runDir, "log", "db")

	if !isRestart {
		if err := os.Remove(primaryPath); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("remove stale primary db: %w", err)
		}
	}

	if err := os.MkdirAll(filepath.Dir(primaryPath), 0700); err != nil {
		return nil, fmt.Errorf("create primary db dir: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(publicPath), 0755); err != nil {
		return nil, fmt.Errorf("create public db dir: %w", err)
	}

	primary, err := Open(ctx, primaryPath, RolePrimary, logger)
	if err != nil {
		return nil, fmt.Errorf("open primary db: %w", err)
	}
	if err := os.Chmod(primaryPath, 0600); err != nil {
		return nil, fmt.Errorf("chmod primary db: %w", err)
	}

	m := &Manager{
		Primary: primary,
		runDir:  runDir,
		logger:  logger,
		limiter: rate.NewLimiter(rate.Every(200*time.Millisecond), 1),
	}

	if !isRestart {
		if err := m.copyPriToPub(ctx); err != nil {
			return nil, fmt.Errorf("seed public db: %w", err)
		}
	}

	public, err := Open(ctx, publicPath, RolePublic, logger)
	if err != nil {
		return nil, fmt.Errorf("open public db: %w", err)
	}
	if err := os.Chmod(publicPath, 0644); err != nil {
		return nil, fmt.Errorf("chmod public db: %w", err)
	}
	m.Public = public

	return m, nil
}

// --- Stage-only writers -----------------------------------------------
//
// Each of these populates the DAO's queues; no writes occur until
// ProcessQueuedOps is called.

func flowNumsKey(flowNums []int) string {
	b, _ := json.Marshal(flowNums)
	return string(b)
}

// PutWorkflowParams stages a key/value update to workflow_params.
func (m *Manager) PutWorkflowParams(key, value string) {
	for _, dao := range m.bothDAOs() {
		dao.Ops.QueueDelete("workflow_params", `DELETE FROM workflow_params WHERE key = ?`, key)
		dao.Ops.QueueInsert("workflow_params", `INSERT INTO workflow_params (key, value) VALUES (?, ?)`, key, value)
	}
}

// PutWorkflowPaused stages the workflow's paused flag.
func (m *Manager) PutWorkflowPaused(paused bool) {
	v := "0"
	if paused {
		v = "1"
	}
	m.PutWorkflowParams("is_paused", v)
}

// PutTasksToHold stages a full replace of the tasks_to_hold table.
func (m *Manager) PutTasksToHold(held []HeldTask) {
	for _, dao := range m.bothDAOs() {
		dao.Ops.QueueDelete("tasks_to_hold", `DELETE FROM tasks_to_hold`)
		for _, h := range held {
			dao.Ops.QueueInsert("tasks_to_hold", `INSERT INTO tasks_to_hold (name, cycle) VALUES (?, ?)`, h.Name, h.Cycle)
		}
	}
}

// PutBroadcast stages an opaque broadcast-state upsert; the kernel does
// not interpret the value, only rounds it trip.
func (m *Manager) PutBroadcast(point, namespace, key, value string) {
	for _, dao := range m.bothDAOs() {
		dao.Ops.QueueDelete("broadcast_states", `DELETE FROM broadcast_states WHERE point=? AND namespace=? AND key=?`, point, namespace, key)
		dao.Ops.QueueInsert("broadcast_states", `INSERT INTO broadcast_states (point, namespace, key, value) VALUES (?, ?, ?, ?)`, point, namespace, key, value)
	}
}

// PutTemplateVars stages a full replace of the workflow_template_vars
// snapshot. Values are YAML-encoded so structured template values (lists,
// maps) survive the round trip the same way scalars do.
func (m *Manager) PutTemplateVars(vars map[string]any) {
	for _, dao := range m.bothDAOs() {
		dao.Ops.QueueDelete("workflow_template_vars", `DELETE FROM workflow_template_vars`)
		for key, val := range vars {
			b, err := yaml.Marshal(val)
			if err != nil {
				if m.logger != nil {
					m.logger.Warn("skipping unencodable template variable", "key", key, "error", err)
				}
				continue
			}
			dao.Ops.QueueInsert("workflow_template_vars", `INSERT INTO workflow_template_vars (key, value) VALUES (?, ?)`, key, string(b))
		}
	}
}

// PutXTriggers stages a signature/result memoisation row.
func (m *Manager) PutXTriggers(signature, results string) {
	for _, dao := range m.bothDAOs() {
		dao.Ops.QueueDelete("xtriggers", `DELETE FROM xtriggers WHERE signature=?`, signature)
		dao.Ops.QueueInsert("xtriggers", `INSERT INTO xtriggers (signature, results) VALUES (?, ?)`, signature, results)
	}
}

// PoolSnapshotRow is the minimal shape PutTaskPool needs from a live
// TaskProxy; internal/pool supplies these without this package depending
// on internal/pool (avoiding an import cycle).
type PoolSnapshotRow struct {
	Cycle    string
	Name     string
	FlowNums []int
	Status   string
	IsHeld   bool

	Prerequisites []PrereqSnapshotRow
	TimeoutTimer  *float64
}

// PrereqSnapshotRow is one prerequisite row nested under a pool snapshot
// entry.
type PrereqSnapshotRow struct {
	PrereqName   string
	PrereqCycle  string
	PrereqOutput string
	Satisfied    string
}

// PutTaskPool is the snapshotting write: delete the full task_pool,
// task_prerequisites, and task_timeout_timers tables, then re-insert from
// the current live pool.
func (m *Manager) PutTaskPool(rows []PoolSnapshotRow) {
	for _, dao := range m.bothDAOs() {
		dao.Ops.QueueDelete("task_pool", `DELETE FROM task_pool`)
		dao.Ops.QueueDelete("task_prerequisites", `DELETE FROM task_prerequisites`)
		dao.Ops.QueueDelete("task_timeout_timers", `DELETE FROM task_timeout_timers`)

		for _, row := range rows {
			fnKey := flowNumsKey(row.FlowNums)
			heldInt := 0
			if row.IsHeld {
				heldInt = 1
			}
			dao.Ops.QueueInsert("task_pool",
				`INSERT INTO task_pool (cycle, name, flow_nums, status, is_held) VALUES (?, ?, ?, ?, ?)`,
				row.Cycle, row.Name, fnKey, row.Status, heldInt)

			for _, p := range row.Prerequisites {
				dao.Ops.QueueInsert("task_prerequisites",
					`INSERT INTO task_prerequisites (cycle, name, flow_nums, prereq_name, prereq_cycle, prereq_output, satisfied) VALUES (?, ?, ?, ?, ?, ?, ?)`,
					row.Cycle, row.Name, fnKey, p.PrereqName, p.PrereqCycle, p.PrereqOutput, p.Satisfied)
			}

			if row.TimeoutTimer != nil {
				dao.Ops.QueueInsert("task_timeout_timers",
					`INSERT INTO task_timeout_timers (cycle, name, timeout) VALUES (?, ?, ?)`,
					row.Cycle, row.Name, *row.TimeoutTimer)
			}
		}
	}
}

// PutUpdateTaskState stages an in-place update of one task_states row.
func (m *Manager) PutUpdateTaskState(name, cycle string, flowNums []int, status string, submitNum int, flowWait, isComplete bool) {
	fnKey := flowNumsKey(flowNums)
	fw, ic := 0, 0
	if flowWait {
		fw = 1
	}
	if isComplete {
		ic = 1
	}
	for _, dao := range m.bothDAOs() {
		dao.Ops.QueueUpdate("task_states",
			`UPDATE task_states SET status=?, submit_num=?, flow_wait=?, is_complete=?, time_updated=? WHERE name=? AND cycle=? AND flow_nums=?`,
			status, submitNum, fw, ic, Now().UTC().Format(time.RFC3339), name, cycle, fnKey)
	}
}

// PutInsertTaskStates stages a fresh task_states row for a newly spawned
// TaskProxy.
func (m *Manager) PutInsertTaskStates(name, cycle string, flowNums []int, status string, isManualSubmit, flowWait bool) {
	fnKey := flowNumsKey(flowNums)
	ms, fw := 0, 0
	if isManualSubmit {
		ms = 1
	}
	if flowWait {
		fw = 1
	}
	now := Now().UTC().Format(time.RFC3339)
	for _, dao := range m.bothDAOs() {
		dao.Ops.QueueInsert("task_states",
			`INSERT INTO task_states (name, cycle, flow_nums, time_created, time_updated, submit_num, status, flow_wait, is_manual_submit, is_complete)
			 VALUES (?, ?, ?, ?, ?, 0, ?, ?, ?, 0)`,
			name, cycle, fnKey, now, now, status, fw, ms)
	}
}

// PutInsertTaskOutputs stages an empty task_outputs row for a newly
// spawned TaskProxy.
func (m *Manager) PutInsertTaskOutputs(name, cycle string, flowNums []int) {
	fnKey := flowNumsKey(flowNums)
	for _, dao := range m.bothDAOs() {
		dao.Ops.QueueInsert("task_outputs",
			`INSERT INTO task_outputs (cycle, name, flow_nums, outputs) VALUES (?, ?, ?, '{}')`,
			cycle, name, fnKey)
	}
}

// PutInsertTaskJobs stages a new task_jobs submission record.
func (m *Manager) PutInsertTaskJobs(cycle, name string, submitNum int, flowNums []int, isManualSubmit bool) {
	fnKey := flowNumsKey(flowNums)
	ms := 0
	if isManualSubmit {
		ms = 1
	}
	for _, dao := range m.bothDAOs() {
		dao.Ops.QueueInsert("task_jobs",
			`INSERT INTO task_jobs (cycle, name, submit_num, flow_nums, is_manual_submit, try_num) VALUES (?, ?, ?, ?, ?, 1)`,
			cycle, name, submitNum, fnKey, ms)
	}
}

// PutInsertTaskPrerequisites stages one prerequisite row.
func (m *Manager) PutInsertTaskPrerequisites(cycle, name string, flowNums []int, prereqName, prereqCycle, prereqOutput, satisfied string) {
	fnKey := flowNumsKey(flowNums)
	for _, dao := range m.bothDAOs() {
		dao.Ops.QueueInsert("task_prerequisites",
			`INSERT INTO task_prerequisites (cycle, name, flow_nums, prereq_name, prereq_cycle, prereq_output, satisfied) VALUES (?, ?, ?, ?, ?, ?, ?)`,
			cycle, name, fnKey, prereqName, prereqCycle, prereqOutput, satisfied)
	}
}

// PutUpdateTaskOutputs stages a full replace of one task_outputs row's
// JSON blob, used whenever a task's completed-outputs map changes (every
// spawn-on-output event re-serialises the whole map, matching cylc-flow's
// put_update_task_outputs).
func (m *Manager) PutUpdateTaskOutputs(cycle, name string, flowNums []int, outputsJSON string) {
	fnKey := flowNumsKey(flowNums)
	for _, dao := range m.bothDAOs() {
		dao.Ops.QueueUpdate("task_outputs",
			`UPDATE task_outputs SET outputs=? WHERE cycle=? AND name=? AND flow_nums=?`,
			outputsJSON, cycle, name, fnKey)
	}
}

// PutInsertAbsOutput stages one absolute_outputs row, recording a
// completed output that satisfies matching prerequisites on every instance
// of the downstream task regardless of cycle point.
func (m *Manager) PutInsertAbsOutput(cycle, name, output string) {
	for _, dao := range m.bothDAOs() {
		dao.Ops.QueueInsert("absolute_outputs",
			`INSERT INTO absolute_outputs (cycle, name, output) VALUES (?, ?, ?)`,
			cycle, name, output)
	}
}

// DeleteWorkflowParams stages removal of a workflow_params row (e.g.
// clearing the stop-task or hold-point markers).
func (m *Manager) DeleteWorkflowParams(key string) {
	for _, dao := range m.bothDAOs() {
		dao.Ops.QueueDelete("workflow_params", `DELETE FROM workflow_params WHERE key = ?`, key)
	}
}

// PutInsertTaskEvents stages one append-only task_events row.
func (m *Manager) PutInsertTaskEvents(name, cycle string, submitNum int, event, message string) {
	for _, dao := range m.bothDAOs() {
		dao.Ops.QueueInsert("task_events",
			`INSERT INTO task_events (name, cycle, time, submit_num, event, message) VALUES (?, ?, ?, ?, ?, ?)`,
			name, cycle, Now().UTC().Format(time.RFC3339), submitNum, event, message)
	}
}

// PutTaskEventTimers stages a retry/event-handler timer row.
func (m *Manager) PutTaskEventTimers(cycle, name, ctxKey, ctx, delays string, num int, delay, timeout string) {
	for _, dao := range m.bothDAOs() {
		dao.Ops.QueueDelete("task_action_timers", `DELETE FROM task_action_timers WHERE cycle=? AND name=? AND ctx_key=?`, cycle, name, ctxKey)
		dao.Ops.QueueInsert("task_action_timers",
			`INSERT INTO task_action_timers (cycle, name, ctx_key, ctx, delays, num, delay, timeout) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			cycle, name, ctxKey, ctx, delays, num, delay, timeout)
	}
}

// PutInsertWorkflowFlows implements flow.Recorder: stages a new
// workflow_flows row. Satisfies internal/flow's persistence contract.
func (m *Manager) PutInsertWorkflowFlows(num int, description string, startTime time.Time) {
	for _, dao := range m.bothDAOs() {
		dao.Ops.QueueInsert("workflow_flows",
			`INSERT INTO workflow_flows (flow_num, start_time, description) VALUES (?, ?, ?)`,
			num, startTime.UTC().Format(time.RFC3339), description)
	}
}

func (m *Manager) bothDAOs() []*DAO {
	if m.Public != nil {
		return []*DAO{m.Primary, m.Public}
	}
	return []*DAO{m.Primary}
}

// ProcessQueuedOps commits the primary DAO's queue (fatal on failure) and
// then the public DAO's queue (retried with a rate-limited backoff;
// rebuilds the replica from the primary after MaxTries consecutive
// failures).
func (m *Manager) ProcessQueuedOps(ctx context.Context) error {
	if err := m.Primary.ExecuteQueuedItems(ctx); err != nil {
		return err
	}
	metrics.RecordCommit("primary")

	if m.Public == nil {
		return nil
	}

	if err := m.Public.ExecuteQueuedItems(ctx); err != nil {
		m.publicRetries++
		metrics.RecordRetry("execute")
		if m.logger != nil {
			m.logger.Warn("public database write failed, will retry",
				slog.Int("attempt", m.publicRetries), slog.String("error", err.Error()))
		}
		if m.publicRetries >= MaxTries {
			if rebuildErr := m.copyPriToPub(ctx); rebuildErr != nil {
				return fmt.Errorf("public db exhausted retries and rebuild failed: %w", rebuildErr)
			}
			metrics.RecordRebuild()
			m.publicRetries = 0
			m.Public.Ops.clear()
			return nil
		}
		m.limiter.Wait(ctx)
		return nil
	}

	metrics.RecordCommit("public")
	m.publicRetries = 0
	return nil
}

// copyPriToPub performs an atomic temp-file + rename copy of the primary
// database to the public path, preserving mode bits (0644 on the public
// replica).
func (m *Manager) copyPriToPub(ctx context.Context) error {
	publicPath := filepath.Join(m.runDir, "log", "db")

	src, err := os.Open(m.Primary.Path)
	if err != nil {
		if os.IsNotExist(err) {
			// Nothing written yet; an empty public DB will be created and
			// migrated on first Open.
			return nil
		}
		return fmt.Errorf("open primary for copy: %w", err)
	}
	defer src.Close()

	tmp, err := os.CreateTemp(filepath.Dir(publicPath), ".db-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp public db: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := io.Copy(tmp, src); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("copy primary to temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close temp public db: %w", err)
	}
	if err := os.Chmod(tmpPath, 0644); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("chmod temp public db: %w", err)
	}
	if err := os.Rename(tmpPath, publicPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename temp to public db: %w", err)
	}
	return nil
}

// RestartCheck vacuums the primary, increments n_restart, and stages the
// update to workflow_params. Called once at the start of a restart.
func (m *Manager) RestartCheck(ctx context.Context, prevRestarts int) error {
	conn, err := m.Primary.connect(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()
	if _, err := conn.ExecContext(ctx, "VACUUM"); err != nil {
		return fmt.Errorf("vacuum primary db: %w", err)
	}
	m.PutWorkflowParams("n_restart", strconv.Itoa(prevRestarts+1))
	return nil
}

// CylcVersion is the workflow-format version this kernel writes into
// workflow_params at first start; restarts compare it against
// MinCompatibleCylcVersion.
const CylcVersion = "8.3.0"

// MinCompatibleCylcVersion is the lowest cylc_version string this manager
// will restart from; databases written by anything at or below it refuse
// with ServiceFileError.
const MinCompatibleCylcVersion = "8.0rc2"

// CheckCompatibility reads workflow_params.cylc_version from the primary
// and refuses to proceed if it is at or below MinCompatibleCylcVersion.
func (m *Manager) CheckCompatibility(ctx context.Context) (string, error) {
	var version string
	err := m.Primary.query(ctx, `SELECT value FROM workflow_params WHERE key = 'cylc_version'`, func(r *sql.Rows) error {
		if r.Next() {
			return r.Scan(&version)
		}
		return r.Err()
	})
	if err != nil {
		return "", err
	}
	if version != "" && compareVersionLoose(version, MinCompatibleCylcVersion) <= 0 {
		return version, &cylcerrors.ServiceFileError{Reason: fmt.Sprintf("database written by incompatible version %q (must be newer than %q)", version, MinCompatibleCylcVersion)}
	}
	return version, nil
}

// compareVersionLoose compares dotted version strings with an optional
// trailing pre-release tag on a component (e.g. "8.0rc2"): numeric parts
// compare numerically, and a released component (no tag) sorts after any
// pre-release of the same number — so "8.0.0" > "8.0rc2" > "8.0rc1".
// Sufficient for this package's one call site without a semver library.
func compareVersionLoose(a, b string) int {
	as, bs := strings.Split(a, "."), strings.Split(b, ".")
	n := len(as)
	if len(bs) > n {
		n = len(bs)
	}
	for i := 0; i < n; i++ {
		pa, pb := "0", "0"
		if i < len(as) {
			pa = as[i]
		}
		if i < len(bs) {
			pb = bs[i]
		}
		na, ta := splitVersionPart(pa)
		nb, tb := splitVersionPart(pb)
		if na != nb {
			if na < nb {
				return -1
			}
			return 1
		}
		if ta != tb {
			if ta == "" {
				return 1
			}
			if tb == "" {
				return -1
			}
			if ta < tb {
				return -1
			}
			return 1
		}
	}
	return 0
}

func splitVersionPart(part string) (int, string) {
	i := 0
	for i < len(part) && part[i] >= '0' && part[i] <= '9' {
		i++
	}
	n, _ := strconv.Atoi(part[:i])
	return n, part[i:]
}
