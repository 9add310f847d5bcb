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

// Package commands wires spec.md §6's CLI surface onto the in-process
// kernel (internal/pool, internal/db, internal/flow, internal/dbstate):
// there is no daemon/RPC split here, so every subcommand other than `run`
// opens the run directory's databases, applies one mutation, stages it,
// and commits before exiting — a one-shot "ctl" tool rather than a client
// of a long-lived process. Grounded on the teacher's internal/commands
// package layout (one file per subcommand, a shared NewRootCommand) and
// cmd/conductor/main.go's version-flag wiring.
package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

// SetVersion records the build-time version information shown by
// `cylc-scheduler version` and `--version`.
func SetVersion(v, c, d string) {
	version, commit, buildDate = v, c, d
}

// NewRootCommand builds the cylc-scheduler root command and attaches every
// subcommand in spec.md §6's CLI surface table.
func NewRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "cylc-scheduler",
		Short:         "A cycling workflow scheduler kernel",
		Version:       fmt.Sprintf("%s (commit %s, built %s)", version, commit, buildDate),
		SilenceUsage: true,
		// main formats errors through pkg/errors' reporting policy;
		// letting cobra print them too would double-report.
		SilenceErrors: true,
	}

	root.AddCommand(
		newRunCommand(),
		newWorkflowStateCommand(),
		newTriggerCommand(),
		newHoldCommand(),
		newReleaseCommand(),
		newSetOutputsCommand(),
		newRemoveCommand(),
		newStopCommand(),
		newExtTriggerCommand(),
	)

	return root
}
