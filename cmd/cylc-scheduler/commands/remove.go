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
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	cylcerrors "github.com/cylc/cylc-scheduler/internal/errors"
	cylclog "github.com/cylc/cylc-scheduler/internal/log"
)

// newRemoveCommand implements `remove`: unconditionally remove matched
// tasks from the pool, optionally scoped to specific flow numbers (in
// which case only those flows' membership is dropped from each matched
// task; a task left with no flow membership at all is removed unless it
// is active).
func newRemoveCommand() *cobra.Command {
	var (
		runDir string
		flow   string
	)

	cmd := &cobra.Command{
		Use:   "remove TASK_ID...",
		Short: "Remove matching tasks from the pool",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRemove(cmd.Context(), runDir, args, flow)
		},
	}
	cmd.Flags().StringVar(&runDir, "run-dir", ".", "workflow run directory")
	cmd.Flags().StringVar(&flow, "flow", "", "comma-separated flow numbers whose membership to remove from the matched tasks")
	return cmd
}

func runRemove(ctx context.Context, runDir string, idArgs []string, flowSpec string) error {
	log := cylclog.New(cylclog.FromEnv())

	k, err := openKernel(ctx, runDir, baseConfig(runDir), log)
	if err != nil {
		return err
	}

	matched, err := matchTasks(k.Pool, idArgs)
	if err != nil {
		return err
	}

	if flowSpec != "" {
		var nums []int
		for _, tok := range strings.Split(flowSpec, ",") {
			n, perr := strconv.Atoi(strings.TrimSpace(tok))
			if perr != nil {
				return &cylcerrors.InputError{What: "--flow", Reason: "must be integer flow numbers when removing by flow"}
			}
			nums = append(nums, n)
		}
		k.Pool.RemoveTasksFromFlows(matched, nums)
		return k.persist(ctx)
	}

	k.Pool.RemoveTasks(matched)

	return k.persist(ctx)
}
