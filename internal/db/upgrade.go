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

	cylcerrors "github.com/cylc/cylc-scheduler/internal/errors"
)

// schemaPatch is one idempotent upgrade step, applied in version order.
type schemaPatch struct {
	fromVersion int
	apply       func(ctx context.Context, conn *sql.DB, forceUpgrade bool) error
}

// patches is the compatibility ladder: pre-8.0.3 adds is_manual_submit,
// pre-8.1.0 adds flow_nums to task_jobs (refusing on ambiguous multi-flow
// history unless forceUpgrade), pre-8.3.0 adds is_complete.
var patches = []schemaPatch{
	{fromVersion: 1, apply: patchAddIsManualSubmit},
	{fromVersion: 2, apply: patchAddTaskJobsFlowNums},
	{fromVersion: 3, apply: patchAddIsComplete},
}

// ApplyUpgradeLadder runs every pending patch against the primary
// database, in order, each re-runnable safely (idempotent). forceUpgrade
// threads through to the v2->v3 patch: when the ambiguous multi-flow-
// history check would otherwise refuse, forceUpgrade overrides it instead
// of the caller silently guessing (spec.md §9, first Open Question).
func (m *Manager) ApplyUpgradeLadder(ctx context.Context, forceUpgrade bool) error {
	conn, err := m.Primary.connect(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	current, err := currentSchemaVersion(ctx, conn)
	if err != nil {
		return err
	}

	for _, patch := range patches {
		if current > patch.fromVersion {
			continue
		}
		if err := patch.apply(ctx, conn, forceUpgrade); err != nil {
			return err
		}
		current = patch.fromVersion + 1
	}

	if _, err := conn.ExecContext(ctx,
		`INSERT INTO workflow_params (key, value) VALUES ('schema_version', ?)
		 ON CONFLICT(key) DO UPDATE SET value=excluded.value`, fmt.Sprintf("%d", current),
	); err != nil {
		return fmt.Errorf("record schema_version: %w", err)
	}
	return nil
}

func currentSchemaVersion(ctx context.Context, conn *sql.DB) (int, error) {
	row := conn.QueryRowContext(ctx, `SELECT value FROM workflow_params WHERE key = 'schema_version'`)
	var v string
	if err := row.Scan(&v); err != nil {
		if err == sql.ErrNoRows {
			return 1, nil
		}
		return 0, fmt.Errorf("read schema_version: %w", err)
	}
	var n int
	if _, err := fmt.Sscanf(v, "%d", &n); err != nil {
		return 0, fmt.Errorf("parse schema_version %q: %w", v, err)
	}
	return n, nil
}

func hasColumn(ctx context.Context, conn *sql.DB, table, column string) (bool, error) {
	rows, err := conn.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return false, fmt.Errorf("inspect %s: %w", table, err)
	}
	defer rows.Close()

	for rows.Next() {
		var cid int
		var name, colType string
		var notNull, pk int
		var dflt sql.NullString
		if err := rows.Scan(&cid, &name, &colType, &notNull, &dflt, &pk); err != nil {
			return false, fmt.Errorf("scan table_info(%s): %w", table, err)
		}
		if name == column {
			return true, nil
		}
	}
	return false, rows.Err()
}

func patchAddIsManualSubmit(ctx context.Context, conn *sql.DB, _ bool) error {
	ok, err := hasColumn(ctx, conn, "task_states", "is_manual_submit")
	if err != nil {
		return err
	}
	if ok {
		return nil
	}
	_, err = conn.ExecContext(ctx, `ALTER TABLE task_states ADD COLUMN is_manual_submit INTEGER DEFAULT 0`)
	if err != nil {
		return fmt.Errorf("add is_manual_submit: %w", err)
	}
	return nil
}

func patchAddTaskJobsFlowNums(ctx context.Context, conn *sql.DB, forceUpgrade bool) error {
	ok, err := hasColumn(ctx, conn, "task_jobs", "flow_nums")
	if err != nil {
		return err
	}
	if ok {
		return nil
	}

	if !forceUpgrade {
		distinct, err := distinctTaskStatesFlowNums(ctx, conn)
		if err != nil {
			return err
		}
		if len(distinct) > 1 {
			return &cylcerrors.ServiceFileError{Reason: fmt.Sprintf(
				"cannot safely infer flow_nums for pre-8.1.0 task_jobs rows: %d distinct flow histories found; re-run with --force-upgrade to override", len(distinct))}
		}
	}

	if _, err := conn.ExecContext(ctx, `ALTER TABLE task_jobs ADD COLUMN flow_nums TEXT`); err != nil {
		return fmt.Errorf("add task_jobs.flow_nums: %w", err)
	}
	if _, err := conn.ExecContext(ctx, `UPDATE task_jobs SET flow_nums = '[1]' WHERE flow_nums IS NULL`); err != nil {
		return fmt.Errorf("backfill task_jobs.flow_nums: %w", err)
	}
	return nil
}

func distinctTaskStatesFlowNums(ctx context.Context, conn *sql.DB) ([]string, error) {
	rows, err := conn.QueryContext(ctx, `SELECT DISTINCT flow_nums FROM task_states`)
	if err != nil {
		return nil, fmt.Errorf("inspect task_states.flow_nums: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("scan flow_nums: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func patchAddIsComplete(ctx context.Context, conn *sql.DB, _ bool) error {
	ok, err := hasColumn(ctx, conn, "task_states", "is_complete")
	if err != nil {
		return err
	}
	if ok {
		return nil
	}
	_, err = conn.ExecContext(ctx, `ALTER TABLE task_states ADD COLUMN is_complete INTEGER DEFAULT 0`)
	if err != nil {
		return fmt.Errorf("add is_complete: %w", err)
	}
	return nil
}
