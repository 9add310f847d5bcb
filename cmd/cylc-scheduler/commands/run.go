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
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/cylc/cylc-scheduler/internal/lifecycle"
	cylclog "github.com/cylc/cylc-scheduler/internal/log"
	"github.com/cylc/cylc-scheduler/internal/pool"
	"github.com/cylc/cylc-scheduler/internal/scheduler"
	"github.com/cylc/cylc-scheduler/internal/tracing"
	pkgerrors "github.com/cylc/cylc-scheduler/pkg/errors"
)

// newRunCommand drives the scheduler event loop to completion. It is the
// one subcommand that stays resident: a PID file guards against a second
// instance over the same run directory, and SIGINT/SIGTERM map onto the
// three stop urgencies (spec.md §4.5.7), matching a second SIGINT/SIGTERM
// escalating from clean to now to now-now the way repeated Ctrl-C does for
// most long-running CLI daemons.
func newRunCommand() *cobra.Command {
	var (
		runDir      string
		traceOutput bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the scheduler event loop against a run directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRun(cmd.Context(), runDir, traceOutput)
		},
	}

	cmd.Flags().StringVar(&runDir, "run-dir", ".", "workflow run directory")
	cmd.Flags().BoolVar(&traceOutput, "trace", false, "write span traces to stdout")

	return cmd
}

func runRun(ctx context.Context, runDir string, traceOutput bool) error {
	log := cylclog.New(cylclog.FromEnv())

	pidPath := filepath.Join(runDir, ".service", "scheduler.pid")
	pidMgr := lifecycle.NewPIDFileManager(pidPath)
	if err := pidMgr.Create(os.Getpid()); err != nil {
		return pkgerrors.Wrap(err, "acquire scheduler PID file")
	}
	defer pidMgr.Remove()

	var tp *tracing.Provider
	if traceOutput {
		var err error
		tp, err = tracing.NewProvider(tracing.Config{
			Writer:         os.Stdout,
			ServiceName:    "cylc-scheduler",
			ServiceVersion: version,
		})
		if err != nil {
			return pkgerrors.Wrap(err, "start tracing")
		}
		defer tp.Shutdown(context.Background())
	}

	k, err := openKernel(ctx, runDir, baseConfig(runDir), log)
	if err != nil {
		return err
	}

	sched := scheduler.New(k.Pool, log, tp)

	sigCh := make(chan os.Signal, 3)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go escalateOnRepeatedSignal(sched, sigCh)

	runErr := sched.Run(ctx)
	persistErr := k.persist(context.Background())
	if runErr != nil && runErr != context.Canceled {
		return runErr
	}
	return persistErr
}

// escalateOnRepeatedSignal maps the first SIGINT/SIGTERM to a clean stop
// request and each subsequent one to the next urgency level, mirroring the
// familiar "press Ctrl-C again to force" idiom.
func escalateOnRepeatedSignal(sched *scheduler.Scheduler, sigCh <-chan os.Signal) {
	modes := []pool.StopMode{pool.StopModeClean, pool.StopModeNow, pool.StopModeNowNow}
	i := 0
	for range sigCh {
		if i >= len(modes) {
			i = len(modes) - 1
		}
		sched.RequestStop(modes[i])
		i++
	}
}
