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

	"github.com/spf13/cobra"

	cylclog "github.com/cylc/cylc-scheduler/internal/log"
)

// newHoldCommand implements `hold`: mark matched tasks held so the queue
// release step skips them, per spec.md §4.5.7.
func newHoldCommand() *cobra.Command {
	var runDir string

	cmd := &cobra.Command{
		Use:   "hold TASK_ID...",
		Short: "Hold matching tasks",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHold(cmd.Context(), runDir, args)
		},
	}
	cmd.Flags().StringVar(&runDir, "run-dir", ".", "workflow run directory")
	return cmd
}

func runHold(ctx context.Context, runDir string, idArgs []string) error {
	log := cylclog.New(cylclog.FromEnv())

	k, err := openKernel(ctx, runDir, baseConfig(runDir), log)
	if err != nil {
		return err
	}

	matched, err := matchTasks(k.Pool, idArgs)
	if err != nil {
		return err
	}
	k.Pool.HoldTasks(matched)

	return k.persist(ctx)
}
