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

// Command cylc-scheduler is the CLI surface over the scheduling kernel
// (spec.md §6): `run` drives the event loop, the rest are thin adapters
// that parse flags into the kernel's Go types and call straight into
// internal/pool / internal/dbstate / internal/flow — there is no network/
// RPC dispatch layer here (out of scope per spec.md §1; see DESIGN.md).
// Grounded on the teacher's cmd/conductor/main.go (cobra root command,
// version information injected via ldflags).
package main

import (
	"fmt"
	"os"

	"github.com/cylc/cylc-scheduler/cmd/cylc-scheduler/commands"
	pkgerrors "github.com/cylc/cylc-scheduler/pkg/errors"
)

// Version information, injected via ldflags at build time.
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	commands.SetVersion(version, commit, buildDate)

	root := commands.NewRootCommand()
	if err := root.Execute(); err != nil {
		// Expected domain errors print a single-line cause; anything else
		// keeps its full wrap chain. CYLC_DEBUG restores the chain for
		// both.
		debug := os.Getenv("CYLC_DEBUG") != ""
		fmt.Fprintln(os.Stderr, pkgerrors.Fatal(err, debug))
		os.Exit(1)
	}
}
