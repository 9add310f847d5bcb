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

// newExtTriggerCommand implements `ext-trigger`: record an external
// trigger's satisfaction against the xtriggers table directly, bypassing
// the usual mechanism of an xtrigger function actually being polled (used
// to satisfy a trigger from outside the workflow, e.g. from another
// system's event hook).
func newExtTriggerCommand() *cobra.Command {
	var runDir string

	cmd := &cobra.Command{
		Use:   "ext-trigger SIGNATURE RESULTS",
		Short: "Record an external trigger as satisfied",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExtTrigger(cmd.Context(), runDir, args[0], args[1])
		},
	}
	cmd.Flags().StringVar(&runDir, "run-dir", ".", "workflow run directory")
	return cmd
}

func runExtTrigger(ctx context.Context, runDir, signature, results string) error {
	log := cylclog.New(cylclog.FromEnv())

	k, err := openKernel(ctx, runDir, baseConfig(runDir), log)
	if err != nil {
		return err
	}

	k.DB.PutXTriggers(signature, results)

	return k.persist(ctx)
}
