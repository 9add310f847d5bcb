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

package commands

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/cylc/cylc-scheduler/internal/dbstate"
	cylcerrors "github.com/cylc/cylc-scheduler/internal/errors"
	cylclog "github.com/cylc/cylc-scheduler/internal/log"
)

// newWorkflowStateCommand implements `workflow-state`: poll (or check
// once) a workflow's public database for a task status, output, or
// message match. Grounded on command_polling.py's cylc_workflow_state CLI
// and dbstatecheck.py, via internal/dbstate.Checker/Poller.
func newWorkflowStateCommand() *cobra.Command {
	var (
		runDir   string
		workflow string
		dbPath   string
		task     string
		point    string
		offset   string
		status   string
		message  string
		flowNum  string
		interval time.Duration
		maxPolls int
	)

	cmd := &cobra.Command{
		Use:   "workflow-state WORKFLOW",
		Short: "Query or poll a workflow's recorded task state",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				workflow = args[0]
			}
			return runWorkflowState(cmd.Context(), workflowStateOptions{
				runDir:   runDir,
				workflow: workflow,
				dbPath:   dbPath,
				task:     task,
				point:    point,
				offset:   offset,
				status:   status,
				message:  message,
				flowNum:  flowNum,
				interval: interval,
				maxPolls: maxPolls,
			})
		},
	}

	cmd.Flags().StringVar(&runDir, "run-dir", ".", "parent directory holding the workflow's run directory")
	cmd.Flags().StringVar(&dbPath, "db", "", "explicit path to the workflow's public database (overrides --run-dir/workflow)")
	cmd.Flags().StringVar(&task, "task", "", "task name (glob allowed)")
	cmd.Flags().StringVar(&point, "point", "", "cycle point (glob allowed)")
	cmd.Flags().StringVar(&offset, "offset", "", "cycle point offset, e.g. P1D")
	cmd.Flags().StringVar(&status, "status", "", "task status to match")
	cmd.Flags().StringVar(&message, "message", "", "task output message to match")
	cmd.Flags().StringVar(&flowNum, "flow", "", "restrict the match to this flow number")
	cmd.Flags().DurationVar(&interval, "interval", 60*time.Second, "delay between poll attempts")
	cmd.Flags().IntVar(&maxPolls, "max-polls", 1, "number of poll attempts (1 = check once)")

	return cmd
}

type workflowStateOptions struct {
	runDir, workflow, dbPath string
	task, point, offset      string
	status, message          string
	flowNum                  string
	interval                 time.Duration
	maxPolls                 int
}

func runWorkflowState(ctx context.Context, o workflowStateOptions) error {
	log := cylclog.New(cylclog.FromEnv())

	if o.status != "" && o.message != "" {
		return &cylcerrors.InputError{What: "--status/--message", Reason: "only one of --status or --message may be given"}
	}

	checker, err := dbstate.NewChecker(o.runDir, o.workflow, o.dbPath)
	if err != nil {
		return err
	}
	defer checker.Close()

	cyclePoint, err := checker.AdjustPointToDB(o.point, o.offset)
	if err != nil {
		return err
	}

	q := dbstate.StateQuery{
		Task:      o.task,
		Cycle:     cyclePoint,
		Selector:  o.status,
		IsMessage: o.message != "",
	}
	if q.IsMessage {
		q.Selector = o.message
	}
	if o.flowNum != "" {
		n, perr := strconv.Atoi(strings.TrimSpace(o.flowNum))
		if perr != nil {
			return &cylcerrors.InputError{What: "--flow", Reason: fmt.Sprintf("not an integer flow number: %q", o.flowNum)}
		}
		q.FlowNum = &n
		q.HasFlowNum = true
	}

	condition := fmt.Sprintf("%s matching %s", o.task, q.Selector)
	poller := dbstate.NewPoller(condition, o.interval, o.maxPolls, func(ctx context.Context) (bool, error) {
		rows, err := checker.WorkflowStateQuery(ctx, q)
		if err != nil {
			return false, err
		}
		return len(rows) > 0, nil
	}, log)

	met, err := poller.Poll(ctx)
	if err != nil {
		return err
	}
	if !met {
		os.Exit(1)
	}
	return nil
}
