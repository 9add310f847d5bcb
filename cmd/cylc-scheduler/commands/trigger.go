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
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	cylcerrors "github.com/cylc/cylc-scheduler/internal/errors"
	"github.com/cylc/cylc-scheduler/internal/ids"
	cylclog "github.com/cylc/cylc-scheduler/internal/log"
	"github.com/cylc/cylc-scheduler/internal/pool"
)

// flowValue accumulates repeated --flow options, validating each token as
// it arrives: "all", "new", "none", or a positive integer. The sentinel
// tokens are only legal on their own; multiple --flow values must all be
// integers (spec'd flow option grammar).
type flowValue struct {
	tokens []string
}

var _ pflag.Value = (*flowValue)(nil)

func (f *flowValue) String() string { return strings.Join(f.tokens, ",") }

func (f *flowValue) Type() string { return "flow" }

func (f *flowValue) Set(raw string) error {
	tok := strings.ToLower(strings.TrimSpace(raw))
	switch tok {
	case "all", "new", "none":
		if len(f.tokens) > 0 {
			return fmt.Errorf("%q cannot be combined with other --flow values", tok)
		}
	default:
		n, err := strconv.Atoi(tok)
		if err != nil || n < 1 {
			return fmt.Errorf("not a recognised flow token: %q", raw)
		}
		for _, prev := range f.tokens {
			switch prev {
			case "all", "new", "none":
				return fmt.Errorf("%q cannot be combined with other --flow values", prev)
			}
		}
	}
	f.tokens = append(f.tokens, tok)
	return nil
}

// newTriggerCommand implements `trigger`: force-release matched tasks
// (spawning them first if they are not yet in the pool), assigning them to
// flows per the --flow grammar ("all", "new", "none", or one or more flow
// numbers), optionally parked flow-wait via --wait.
func newTriggerCommand() *cobra.Command {
	var (
		runDir string
		flows  flowValue
		wait   bool
		meta   string
	)

	cmd := &cobra.Command{
		Use:   "trigger TASK_ID...",
		Short: "Force-trigger matching tasks",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrigger(cmd.Context(), runDir, args, flows.tokens, wait, meta)
		},
	}
	cmd.Flags().StringVar(&runDir, "run-dir", ".", "workflow run directory")
	cmd.Flags().Var(&flows, "flow", `flow assignment: "all", "new", "none", or a flow number (repeatable)`)
	cmd.Flags().BoolVar(&wait, "wait", false, "wait for a flow merge before spawning children")
	cmd.Flags().StringVar(&meta, "meta", "", "description recorded for a new flow (only valid with --flow=new)")
	return cmd
}

// parseFlowOpts turns validated --flow tokens plus the --wait/--meta flags
// into a pool.ForceTriggerFlowOption, enforcing the grammar's
// mutual-exclusion rules: --meta only with new, --wait never with new or
// none.
func parseFlowOpts(tokens []string, wait bool, meta string) (pool.ForceTriggerFlowOption, error) {
	if len(tokens) == 0 {
		tokens = []string{"all"}
	}
	switch tokens[0] {
	case "all":
		if meta != "" {
			return pool.ForceTriggerFlowOption{}, &cylcerrors.InputError{What: "--meta", Reason: `only valid with --flow=new`}
		}
		return pool.ForceTriggerFlowOption{All: true}, nil
	case "new":
		if wait {
			return pool.ForceTriggerFlowOption{}, &cylcerrors.InputError{What: "--wait", Reason: `not valid with --flow=new`}
		}
		return pool.ForceTriggerFlowOption{New: true}, nil
	case "none":
		if wait {
			return pool.ForceTriggerFlowOption{}, &cylcerrors.InputError{What: "--wait", Reason: `not valid with --flow=none`}
		}
		if meta != "" {
			return pool.ForceTriggerFlowOption{}, &cylcerrors.InputError{What: "--meta", Reason: `only valid with --flow=new`}
		}
		return pool.ForceTriggerFlowOption{None: true}, nil
	default:
		if meta != "" {
			return pool.ForceTriggerFlowOption{}, &cylcerrors.InputError{What: "--meta", Reason: `only valid with --flow=new`}
		}
		var nums []int
		for _, tok := range tokens {
			n, err := strconv.Atoi(tok)
			if err != nil {
				return pool.ForceTriggerFlowOption{}, &cylcerrors.InputError{What: "--flow", Reason: fmt.Sprintf("not a recognised flow token: %q", tok)}
			}
			nums = append(nums, n)
		}
		return pool.ForceTriggerFlowOption{Nums: nums}, nil
	}
}

func runTrigger(ctx context.Context, runDir string, idArgs, flowTokens []string, wait bool, meta string) error {
	log := cylclog.New(cylclog.FromEnv())

	opt, err := parseFlowOpts(flowTokens, wait, meta)
	if err != nil {
		return err
	}

	k, err := openKernel(ctx, runDir, baseConfig(runDir), log)
	if err != nil {
		return err
	}

	matched, err := matchTasks(k.Pool, idArgs)
	if err != nil {
		return err
	}

	var defs []pool.TaskDef
	var points []string
	for _, t := range matched {
		defs = append(defs, t.Def)
		points = append(points, t.Point.String())
	}

	if len(defs) == 0 {
		// Nothing already in the pool matched; fall back to interpreting
		// each raw identifier literally as a not-yet-spawned task.
		var prev ids.Tokens
		for _, raw := range idArgs {
			tok, terr := ids.ParseOne(raw, &prev)
			if terr != nil {
				return terr
			}
			prev = tok
			def := findDefByName(k.Pool, tok.Task)
			if def == nil {
				return &cylcerrors.WorkflowConfigError{TaskName: tok.Task, Reason: "no matching task definition is loaded (the graph/config parser is out of this kernel's scope; supply a task already known to the pool)"}
			}
			defs = append(defs, def)
			points = append(points, tok.Cycle)
		}
	}

	if err := k.Pool.ForceTriggerTasks(defs, points, opt, wait, meta); err != nil {
		return err
	}

	return k.persist(ctx)
}

func findDefByName(p *pool.Pool, name string) pool.TaskDef {
	for _, d := range p.AllDefs {
		if d.Name() == name {
			return d
		}
	}
	return nil
}
