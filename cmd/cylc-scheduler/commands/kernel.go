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
	"log/slog"
	"os"
	"path/filepath"

	"github.com/cylc/cylc-scheduler/internal/config"
	"github.com/cylc/cylc-scheduler/internal/db"
	"github.com/cylc/cylc-scheduler/internal/flow"
	cylclog "github.com/cylc/cylc-scheduler/internal/log"
	"github.com/cylc/cylc-scheduler/internal/pool"
	pkgerrors "github.com/cylc/cylc-scheduler/pkg/errors"
)

// kernel bundles the handles every mutating/querying subcommand needs:
// the DB manager (so the caller can ProcessQueuedOps to persist), the flow
// manager, and the reconstituted task pool. Grounded on task_pool.py's
// restart sequence (check_compatibility -> restart_check ->
// load_db_task_pool_for_restart), replayed here as a one-shot open rather
// than a resident scheduler's startup path.
type kernel struct {
	DB   *db.Manager
	Flow *flow.Mgr
	Pool *pool.Pool
	Log  *slog.Logger
}

// openKernel opens the primary/public databases under runDir and
// reconstitutes a task pool, branching on whether runDir already holds a
// primary database (a restart) or not (a fresh start) — mirroring the
// scheduler.py distinction between "cold start" (task_pool.py's
// load_from_point) and restart (load_db_task_pool_for_restart). A restart
// refuses a too-old database (ServiceFileError) and stages the restart
// bookkeeping (VACUUM + n_restart bump) before restoring the pool; a fresh
// start seeds a brand-new primary/public pair and spawns the workflow's
// parentless tasks from its configured start point. Every caller of
// openKernel is responsible for calling k.DB.ProcessQueuedOps(ctx) to
// persist whatever it stages before the process exits.
func openKernel(ctx context.Context, runDir string, cfg *config.Config, log *slog.Logger) (*kernel, error) {
	if log == nil {
		log = cylclog.New(cylclog.DefaultConfig())
	}

	isRestart := primaryDBExists(runDir)

	mgr, err := db.NewManager(ctx, runDir, isRestart, log)
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "open run directory %s", runDir)
	}

	if isRestart {
		if _, err := mgr.CheckCompatibility(ctx); err != nil {
			return nil, err
		}

		nRestart, err := mgr.Primary.SelectNRestart(ctx)
		if err != nil {
			return nil, pkgerrors.Wrap(err, "read restart count")
		}
		if err := mgr.RestartCheck(ctx, nRestart); err != nil {
			return nil, err
		}
	}

	flowMgr := flow.NewMgr(mgr, cfg.UTCMode, log)

	p := pool.New(cfg, mgr, flowMgr, log)

	if isRestart {
		// No platform registry here — the job-platform layer is an
		// external collaborator, so the unknown-platform restart check is
		// skipped rather than run against an empty registry.
		if err := p.LoadDBTaskPoolForRestart(ctx, nil); err != nil {
			return nil, pkgerrors.Wrap(err, "restore task pool")
		}
	} else {
		mgr.PutWorkflowParams("uuid_str", flow.NewUUID())
		mgr.PutWorkflowParams("cylc_version", db.CylcVersion)
		utc := "0"
		if cfg.UTCMode {
			utc = "1"
		}
		mgr.PutWorkflowParams("UTC_mode", utc)
		if len(cfg.TemplateVars) > 0 {
			mgr.PutTemplateVars(cfg.TemplateVars)
		}
		p.LoadFromPoint()
	}

	return &kernel{DB: mgr, Flow: flowMgr, Pool: p, Log: log}, nil
}

// primaryDBExists reports whether runDir already holds a primary database
// file, the signal this kernel uses (in place of an external scheduler's
// own restart bookkeeping, out of scope per spec.md §1) to distinguish a
// fresh start from a restart.
func primaryDBExists(runDir string) bool {
	_, err := os.Stat(filepath.Join(runDir, ".service", "db"))
	return err == nil
}

// persist commits everything staged by the command onto both the primary
// and public databases.
func (k *kernel) persist(ctx context.Context) error {
	return k.DB.ProcessQueuedOps(ctx)
}

// baseConfig builds the minimal config.Config a one-shot CLI command
// needs: just enough to parse cycle points and locate the run directory.
// Commands needing finer control (runahead policy, bounds) construct
// their own via internal/config's options.
func baseConfig(runDir string) *config.Config {
	return config.New(config.WithRunDir(runDir))
}
