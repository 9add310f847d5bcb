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

// newReleaseCommand implements `release`: clear the held flag on matched
// tasks (or every task, with --all), making them eligible for queue
// release again.
func newReleaseCommand() *cobra.Command {
	var (
		runDir string
		all    bool
	)

	cmd := &cobra.Command{
		Use:   "release [TASK_ID...]",
		Short: "Release matching held tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRelease(cmd.Context(), runDir, args, all)
		},
	}
	cmd.Flags().StringVar(&runDir, "run-dir", ".", "workflow run directory")
	cmd.Flags().BoolVar(&all, "all", false, "release the workflow-wide hold point and every held task")
	return cmd
}

func runRelease(ctx context.Context, runDir string, idArgs []string, all bool) error {
	log := cylclog.New(cylclog.FromEnv())

	k, err := openKernel(ctx, runDir, baseConfig(runDir), log)
	if err != nil {
		return err
	}

	if all {
		k.Pool.ReleaseHoldPoint()
		k.Pool.ReleaseHeldTasks(k.Pool.AllTasks())
	} else {
		matched, err := matchTasks(k.Pool, idArgs)
		if err != nil {
			return err
		}
		k.Pool.ReleaseHeldTasks(matched)
	}

	return k.persist(ctx)
}
