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
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	cylcerrors "github.com/cylc/cylc-scheduler/internal/errors"
	"github.com/cylc/cylc-scheduler/internal/lifecycle"
	cylclog "github.com/cylc/cylc-scheduler/internal/log"
)

// newStopCommand implements `stop`: signal an already-running `run`
// process by its PID file. --now sends SIGTERM a second time's worth of
// urgency and --now --now a third, matching `run`'s escalateOnRepeatedSignal
// (spec.md §4.5.7's clean/now/now-now ladder); since this CLI has no RPC
// channel to a resident scheduler, "signal harder" is how urgency is
// actually communicated here. --flow=N instead stops one flow: it removes
// that flow number from every task's membership rather than stopping the
// scheduler process.
func newStopCommand() *cobra.Command {
	var (
		runDir   string
		now      int
		flowSpec string
	)

	cmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop the scheduler running against a run directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			if flowSpec != "" {
				return runStopFlow(cmd.Context(), runDir, flowSpec)
			}
			return runStop(runDir, now)
		},
	}
	cmd.Flags().StringVar(&runDir, "run-dir", ".", "workflow run directory")
	cmd.Flags().CountVar(&now, "now", "kill active tasks immediately; give twice to also skip their event handlers")
	cmd.Flags().StringVar(&flowSpec, "flow", "", "stop this flow number instead of the whole scheduler")
	return cmd
}

func runStopFlow(ctx context.Context, runDir, flowSpec string) error {
	n, err := strconv.Atoi(strings.TrimSpace(flowSpec))
	if err != nil {
		return &cylcerrors.InputError{What: "--flow", Reason: "must be a single integer flow number"}
	}

	k, err := openKernel(ctx, runDir, baseConfig(runDir), cylclog.New(cylclog.FromEnv()))
	if err != nil {
		return err
	}
	k.Pool.StopFlow(n)
	return k.persist(ctx)
}

func runStop(runDir string, now int) error {
	pidPath := filepath.Join(runDir, ".service", "scheduler.pid")
	pidMgr := lifecycle.NewPIDFileManager(pidPath)

	pid, err := pidMgr.Read()
	if err != nil {
		return fmt.Errorf("read scheduler PID file %s: %w", pidPath, err)
	}
	if !lifecycle.IsSchedulerProcess(pid) {
		return fmt.Errorf("pid %d in %s is not a cylc-scheduler process", pid, pidPath)
	}

	nSignals := now + 1
	if nSignals > 3 {
		nSignals = 3
	}
	for i := 0; i < nSignals; i++ {
		if err := lifecycle.SendSignal(pid, syscall.SIGTERM); err != nil {
			return err
		}
		if i < nSignals-1 {
			time.Sleep(200 * time.Millisecond)
		}
	}

	return lifecycle.WaitForExit(pid, 60*time.Second)
}
