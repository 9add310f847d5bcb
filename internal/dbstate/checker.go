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

package dbstate

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/cylc/cylc-scheduler/internal/cycle"
	cylcerrors "github.com/cylc/cylc-scheduler/internal/errors"
)

// statusesFinished are the statuses a "finish"/"finished" selector expands
// to, per spec.md §4.6.2.
var statusesFinished = []string{"succeeded", "failed"}

// unreliableStatuses cannot be reliably observed from outside the
// scheduler that owns them (a "waiting" task may simply not exist yet in
// this flow; a bare "running" gives no information about progress) and are
// refused as poll selectors.
var unreliableStatuses = map[string]struct{}{
	"waiting": {},
	"running": {},
}

// Checker queries a workflow's public database for task status, output, or
// message matches. Grounded on dbstatecheck.py's CylcWorkflowDBChecker.
type Checker struct {
	conn *sql.DB

	// DBPointFormat is the workflow's configured cycle point format, read
	// from workflow_params (or suite_params, pre-8.1). Empty means integer
	// cycling.
	DBPointFormat string

	// LegacyMode is set when the database predates the flow_nums column
	// (a Cylc 7 suite database read in back-compat mode).
	LegacyMode bool
}

// NewChecker opens path (or, if empty, runDir/workflow/log/db) read-only and
// determines its cycle point format. Returns an error wrapping os.Stat's
// failure if the database does not exist — a checker is only ever pointed
// at an already-running or previously-run workflow.
func NewChecker(runDir, workflow, path string) (*Checker, error) {
	if path == "" {
		path = filepath.Join(runDir, workflow, "log", "db")
	}
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("workflow database not found: %w", err)
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open workflow database %s: %w", path, err)
	}
	conn.SetMaxOpenConns(1)
	for _, pragma := range []string{"PRAGMA busy_timeout=10000", "PRAGMA query_only=ON"} {
		if _, err := conn.Exec(pragma); err != nil {
			conn.Close()
			return nil, fmt.Errorf("configure workflow database %s: %w", path, err)
		}
	}

	c := &Checker{conn: conn}

	format, _, err := c.dbPointFormat("workflow_params")
	if err == nil {
		c.DBPointFormat = format
		return c, nil
	}

	// BACK COMPAT: Cylc 7 suite database, whose parameters table is named
	// suite_params instead of workflow_params.
	format, _, legacyErr := c.dbPointFormat("suite_params")
	if legacyErr != nil {
		conn.Close()
		return nil, err
	}
	c.DBPointFormat = format
	c.LegacyMode = true
	return c, nil
}

func (c *Checker) dbPointFormat(table string) (string, bool, error) {
	row := c.conn.QueryRow(fmt.Sprintf(`SELECT value FROM %s WHERE key = ?`, table), "cycle_point_format")
	var value sql.NullString
	if err := row.Scan(&value); err != nil {
		if err == sql.ErrNoRows {
			return "", false, nil
		}
		return "", false, fmt.Errorf("query %s.cycle_point_format: %w", table, err)
	}
	if !value.Valid {
		// Integer cycling: the row exists with a NULL value.
		return "", true, nil
	}
	return value.String, true, nil
}

// Close closes the underlying database connection.
func (c *Checker) Close() error {
	return c.conn.Close()
}

// AdjustPointToDB converts cyclePoint (optionally offset) from the caller's
// notation into the string literal this database stores its cycle column
// as, so a subsequent WorkflowStateQuery can match it with a plain
// equality or LIKE comparison. Grounded on dbstatecheck.py's
// adjust_point_to_db.
func (c *Checker) AdjustPointToDB(cyclePoint, offset string) (string, error) {
	if cyclePoint == "" || strings.Contains(cyclePoint, "*") {
		if offset != "" {
			return "", &cylcerrors.InputError{
				What:   "cycle point",
				Reason: fmt.Sprintf("cycle point %q is not compatible with an offset", cyclePoint),
			}
		}
		return cyclePoint, nil
	}

	point := cyclePoint
	if offset != "" {
		if c.DBPointFormat == "" {
			n, err := strconv.ParseInt(point, 10, 64)
			if err != nil {
				return "", &cylcerrors.PointParsingError{Value: point, Reason: err.Error()}
			}
			iv, err := cycle.ParseInterval(offset)
			if err != nil {
				return "", err
			}
			offsetPoint := cycle.IntegerPoint(n).Add(iv)
			point = offsetPoint.String()
		} else {
			parsed, err := cycle.ParsePoint(point, "")
			if err != nil {
				return "", err
			}
			shifted, err := cycle.AddOffset(parsed, offset)
			if err != nil {
				return "", err
			}
			point = shifted.String()
		}
	}

	if c.DBPointFormat == "" {
		return point, nil
	}

	parsed, err := cycle.ParsePoint(point, "")
	if err != nil {
		return "", &cylcerrors.InputError{
			What:   "cycle point",
			Reason: fmt.Sprintf("cycle point %q is not compatible with DB point format %q", point, c.DBPointFormat),
		}
	}
	dt, ok := parsed.(cycle.DateTimePoint)
	if !ok {
		return "", &cylcerrors.InputError{
			What:   "cycle point",
			Reason: fmt.Sprintf("cycle point %q is not compatible with DB point format %q", point, c.DBPointFormat),
		}
	}
	dt.Format = c.DBPointFormat
	return dt.String(), nil
}

// StateQuery carries a workflow_state_query's parameters, spec.md §4.6.1.
type StateQuery struct {
	Task       string
	Cycle      string
	Selector   string
	IsOutput   bool
	IsMessage  bool
	FlowNum    *int
	HasFlowNum bool
}

// StateRow is one matched row: Name, Cycle, and either the task's status
// (a status query) or its rendered completed-output/message list (an
// output or message query), plus the flow membership string when the
// database is not in legacy mode.
type StateRow struct {
	Name      string
	Cycle     string
	Status    string
	Outputs   []string
	FlowNumsStr string
}

// WorkflowStateQuery runs q against the database and returns matching rows,
// ordered by submit number for status queries. Grounded on
// dbstatecheck.py's workflow_state_query.
func (c *Checker) WorkflowStateQuery(ctx context.Context, q StateQuery) ([]StateRow, error) {
	if q.Selector != "" && !q.IsOutput && !q.IsMessage {
		if _, unreliable := unreliableStatuses[q.Selector]; unreliable {
			return nil, &cylcerrors.InputError{
				What:   "status selector",
				Reason: fmt.Sprintf("status %q cannot be reliably polled for from outside the scheduler", q.Selector),
			}
		}
	}

	table := "task_states"
	mask := "name, cycle, status"
	if q.IsOutput || q.IsMessage {
		table = "task_outputs"
		mask = "name, cycle, outputs"
	}
	if !c.LegacyMode {
		mask += ", flow_nums"
	}

	var wheres []string
	var args []any

	if q.Task != "" {
		if strings.Contains(q.Task, "*") {
			wheres = append(wheres, "name LIKE ?")
			args = append(args, strings.ReplaceAll(q.Task, "*", "%"))
		} else {
			wheres = append(wheres, "name = ?")
			args = append(args, q.Task)
		}
	}
	if q.Cycle != "" {
		if strings.Contains(q.Cycle, "*") {
			wheres = append(wheres, "cycle LIKE ?")
			args = append(args, strings.ReplaceAll(q.Cycle, "*", "%"))
		} else {
			wheres = append(wheres, "cycle = ?")
			args = append(args, q.Cycle)
		}
	}
	if q.Selector != "" && !q.IsOutput && !q.IsMessage {
		if q.Selector == "finish" || q.Selector == "finished" {
			wheres = append(wheres, "status IN (?, ?)")
			for _, st := range statusesFinished {
				args = append(args, st)
			}
		} else {
			wheres = append(wheres, "status = ?")
			args = append(args, q.Selector)
		}
	}

	stmt := fmt.Sprintf("SELECT %s FROM %s", mask, table)
	if len(wheres) > 0 {
		stmt += " WHERE " + strings.Join(wheres, " AND ")
	}
	if !q.IsOutput && !q.IsMessage {
		stmt += " ORDER BY submit_num"
	}

	rows, err := c.conn.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("workflow state query: %w", err)
	}
	defer rows.Close()

	var raw []StateRow
	for rows.Next() {
		var name, cyc string
		var thirdCol sql.NullString
		var flowNumsJSON sql.NullString

		scanArgs := []any{&name, &cyc, &thirdCol}
		if !c.LegacyMode {
			scanArgs = append(scanArgs, &flowNumsJSON)
		}
		if err := rows.Scan(scanArgs...); err != nil {
			return nil, fmt.Errorf("scan workflow state row: %w", err)
		}
		if !thirdCol.Valid {
			// status can be NULL in a Cylc 7 database.
			continue
		}

		row := StateRow{Name: name, Cycle: cyc}
		if !q.IsOutput && !q.IsMessage {
			row.Status = thirdCol.String
		}

		if !c.LegacyMode && flowNumsJSON.Valid {
			nums := deserialiseFlowNums(flowNumsJSON.String)
			if q.HasFlowNum && q.FlowNum != nil {
				if !containsInt(nums, *q.FlowNum) {
					continue
				}
			}
			row.FlowNumsStr = stringifyFlowNums(nums)
		}

		if q.IsOutput || q.IsMessage {
			outputs, err := decodeOutputs(thirdCol.String, c.LegacyMode || q.IsMessage)
			if err != nil {
				return nil, fmt.Errorf("decode outputs for %s/%s: %w", cyc, name, err)
			}
			row.Outputs = outputs
		}

		raw = append(raw, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if !q.IsOutput && !q.IsMessage {
		return raw, nil
	}

	var out []StateRow
	for _, row := range raw {
		if selectorMatchesOutputs(q.Selector, row.Outputs) {
			out = append(out, row)
		}
	}
	return out, nil
}

func selectorMatchesOutputs(selector string, outputs []string) bool {
	if selector == "" {
		return true
	}
	for _, o := range outputs {
		if o == selector {
			return true
		}
	}
	if selector == "finish" || selector == "finished" {
		for _, o := range outputs {
			for _, fin := range statusesFinished {
				if o == fin {
					return true
				}
			}
		}
	}
	return false
}

// decodeOutputs parses an outputs_json column value into a flat list:
// legacy/message mode yields the stored messages, Cylc 8 output mode
// yields the output labels themselves.
func decodeOutputs(raw string, messagesMode bool) ([]string, error) {
	if messagesMode {
		var asMap map[string]string
		if err := json.Unmarshal([]byte(raw), &asMap); err == nil {
			out := make([]string, 0, len(asMap))
			for _, msg := range asMap {
				out = append(out, msg)
			}
			sort.Strings(out)
			return out, nil
		}
		var asList []string
		if err := json.Unmarshal([]byte(raw), &asList); err != nil {
			return nil, err
		}
		return asList, nil
	}

	var asMap map[string]string
	if err := json.Unmarshal([]byte(raw), &asMap); err != nil {
		return nil, err
	}
	out := make([]string, 0, len(asMap))
	for label := range asMap {
		out = append(out, label)
	}
	sort.Strings(out)
	return out, nil
}

func deserialiseFlowNums(raw string) []int {
	var nums []int
	_ = json.Unmarshal([]byte(raw), &nums)
	sort.Ints(nums)
	return nums
}

func stringifyFlowNums(nums []int) string {
	parts := make([]string, len(nums))
	for i, n := range nums {
		parts[i] = strconv.Itoa(n)
	}
	return strings.Join(parts, ",")
}

func containsInt(nums []int, n int) bool {
	for _, x := range nums {
		if x == n {
			return true
		}
	}
	return false
}
