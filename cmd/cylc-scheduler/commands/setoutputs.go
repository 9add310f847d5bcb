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

// newSetOutputsCommand implements `set-outputs`: mark the named outputs
// (or, with --all or no --output, every required output) of matched tasks
// satisfied without
// actually running a job, spawning whichever children were waiting on
// them. Grounded on task_pool.py's force output completion, surfaced here
// via internal/pool's SpawnOnOutput/SpawnOnAllOutputs.
func newSetOutputsCommand() *cobra.Command {
	var (
		runDir  string
		outputs []string
		all     bool
	)

	cmd := &cobra.Command{
		Use:   "set-outputs TASK_ID...",
		Short: "Force-complete outputs on matching tasks",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSetOutputs(cmd.Context(), runDir, args, outputs, all)
		},
	}
	cmd.Flags().StringVar(&runDir, "run-dir", ".", "workflow run directory")
	cmd.Flags().StringSliceVar(&outputs, "output", nil, "output label to force-complete (repeatable)")
	cmd.Flags().BoolVar(&all, "all", false, "force-complete every required output, not just the named ones")
	return cmd
}

func runSetOutputs(ctx context.Context, runDir string, idArgs, outputs []string, all bool) error {
	log := cylclog.New(cylclog.FromEnv())

	k, err := openKernel(ctx, runDir, baseConfig(runDir), log)
	if err != nil {
		return err
	}

	matched, err := matchTasks(k.Pool, idArgs)
	if err != nil {
		return err
	}

	for _, t := range matched {
		if all || len(outputs) == 0 {
			k.Pool.SpawnOnAllOutputs(t, false)
			continue
		}
		for _, output := range outputs {
			k.Pool.SpawnOnOutput(t, output, true)
		}
	}

	return k.persist(ctx)
}
