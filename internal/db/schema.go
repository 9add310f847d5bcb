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

// Package db implements the scheduler's persistence layer: the DAO (schema
// + batched transactional writes) and the workflow database manager that
// stages operations, mirrors primary to public replica, and drives the
// restart/upgrade ladder.
package db

// SchemaVersion is the current on-disk schema version, stored in
// workflow_params["schema_version"]. There is no prior Go release to
// version against, so (unlike cylc-flow's cylc_version string compat
// check) this repo tracks an integer schema version and a separate
// minimum-compatible-version guard for the cylc_version string inherited
// from a restored run directory.
const SchemaVersion = 4

// tableDDL lists every CREATE TABLE statement, in dependency order. Column
// sets mirror cylc-flow's rundb.py table definitions exactly (primary keys
// first, in the comment).
var tableDDL = []string{
	// workflow_params: key
	`CREATE TABLE IF NOT EXISTS workflow_params (
		key TEXT NOT NULL,
		value TEXT,
		PRIMARY KEY (key)
	)`,
	// workflow_flows: flow_num
	`CREATE TABLE IF NOT EXISTS workflow_flows (
		flow_num INTEGER NOT NULL,
		start_time TEXT,
		description TEXT,
		PRIMARY KEY (flow_num)
	)`,
	// workflow_template_vars: key
	`CREATE TABLE IF NOT EXISTS workflow_template_vars (
		key TEXT NOT NULL,
		value TEXT,
		PRIMARY KEY (key)
	)`,
	// inheritance: namespace
	`CREATE TABLE IF NOT EXISTS inheritance (
		namespace TEXT NOT NULL,
		inheritance TEXT,
		PRIMARY KEY (namespace)
	)`,
	// broadcast_states: point, namespace, key
	`CREATE TABLE IF NOT EXISTS broadcast_states (
		point TEXT NOT NULL,
		namespace TEXT NOT NULL,
		key TEXT NOT NULL,
		value TEXT,
		PRIMARY KEY (point, namespace, key)
	)`,
	// broadcast_events: no PK, append-only
	`CREATE TABLE IF NOT EXISTS broadcast_events (
		time TEXT,
		change TEXT,
		point TEXT,
		namespace TEXT,
		key TEXT,
		value TEXT
	)`,
	// task_pool: cycle, name, flow_nums
	`CREATE TABLE IF NOT EXISTS task_pool (
		cycle TEXT NOT NULL,
		name TEXT NOT NULL,
		flow_nums TEXT NOT NULL,
		status TEXT,
		is_held INTEGER,
		PRIMARY KEY (cycle, name, flow_nums)
	)`,
	// task_states: name, cycle, flow_nums
	`CREATE TABLE IF NOT EXISTS task_states (
		name TEXT NOT NULL,
		cycle TEXT NOT NULL,
		flow_nums TEXT NOT NULL,
		time_created TEXT,
		time_updated TEXT,
		submit_num INTEGER,
		status TEXT,
		flow_wait INTEGER,
		is_manual_submit INTEGER,
		is_complete INTEGER,
		PRIMARY KEY (name, cycle, flow_nums)
	)`,
	// task_jobs: cycle, name, submit_num
	`CREATE TABLE IF NOT EXISTS task_jobs (
		cycle TEXT NOT NULL,
		name TEXT NOT NULL,
		submit_num INTEGER NOT NULL,
		flow_nums TEXT,
		is_manual_submit INTEGER,
		try_num INTEGER,
		time_submit TEXT,
		time_submit_exit TEXT,
		submit_status INTEGER,
		time_run TEXT,
		time_run_exit TEXT,
		run_signal TEXT,
		run_status INTEGER,
		platform_name TEXT,
		job_runner_name TEXT,
		job_id TEXT,
		PRIMARY KEY (cycle, name, submit_num)
	)`,
	// task_events: no PK, append-only
	`CREATE TABLE IF NOT EXISTS task_events (
		name TEXT,
		cycle TEXT,
		time TEXT,
		submit_num INTEGER,
		event TEXT,
		message TEXT
	)`,
	// task_late_flags: cycle, name
	`CREATE TABLE IF NOT EXISTS task_late_flags (
		cycle TEXT NOT NULL,
		name TEXT NOT NULL,
		value INTEGER,
		PRIMARY KEY (cycle, name)
	)`,
	// task_outputs: cycle, name, flow_nums
	`CREATE TABLE IF NOT EXISTS task_outputs (
		cycle TEXT NOT NULL,
		name TEXT NOT NULL,
		flow_nums TEXT NOT NULL,
		outputs TEXT,
		PRIMARY KEY (cycle, name, flow_nums)
	)`,
	// task_prerequisites: cycle, name, flow_nums, prereq_name, prereq_cycle, prereq_output
	`CREATE TABLE IF NOT EXISTS task_prerequisites (
		cycle TEXT NOT NULL,
		name TEXT NOT NULL,
		flow_nums TEXT NOT NULL,
		prereq_name TEXT NOT NULL,
		prereq_cycle TEXT NOT NULL,
		prereq_output TEXT NOT NULL,
		satisfied TEXT,
		PRIMARY KEY (cycle, name, flow_nums, prereq_name, prereq_cycle, prereq_output)
	)`,
	// xtriggers: signature
	`CREATE TABLE IF NOT EXISTS xtriggers (
		signature TEXT NOT NULL,
		results TEXT,
		PRIMARY KEY (signature)
	)`,
	// task_action_timers: cycle, name, ctx_key
	`CREATE TABLE IF NOT EXISTS task_action_timers (
		cycle TEXT NOT NULL,
		name TEXT NOT NULL,
		ctx_key TEXT NOT NULL,
		ctx TEXT,
		delays TEXT,
		num INTEGER,
		delay TEXT,
		timeout TEXT,
		PRIMARY KEY (cycle, name, ctx_key)
	)`,
	// task_timeout_timers: cycle, name
	`CREATE TABLE IF NOT EXISTS task_timeout_timers (
		cycle TEXT NOT NULL,
		name TEXT NOT NULL,
		timeout REAL,
		PRIMARY KEY (cycle, name)
	)`,
	// absolute_outputs: no PK
	`CREATE TABLE IF NOT EXISTS absolute_outputs (
		cycle TEXT,
		name TEXT,
		output TEXT
	)`,
	// tasks_to_hold: no PK
	`CREATE TABLE IF NOT EXISTS tasks_to_hold (
		name TEXT,
		cycle TEXT
	)`,
}
