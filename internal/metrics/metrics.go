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

// Package metrics exports the scheduling kernel's Prometheus gauges and
// counters: pool size, runahead limit, and DB retry activity. Grounded on
// the teacher's internal/controller/metrics and internal/controller/
// filewatcher's promauto package-level vars + plain exported setter
// functions idiom (no injected collector object).
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	poolMainSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "cylc_scheduler_pool_main_size",
			Help: "Number of task instances currently in the main pool.",
		},
	)

	poolHiddenSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "cylc_scheduler_pool_hidden_size",
			Help: "Number of task instances currently in the hidden pool.",
		},
	)

	runaheadLimit = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "cylc_scheduler_runahead_limit",
			Help: "Seconds (datetime cycling) or integer value (integer cycling) of the current runahead limit point, relative to the workflow's initial point.",
		},
	)

	tasksSpawned = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cylc_scheduler_tasks_spawned_total",
			Help: "Total task instances spawned, by pool (main, hidden).",
		},
		[]string{"pool"},
	)

	tasksRemoved = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cylc_scheduler_tasks_removed_total",
			Help: "Total task instances removed from the pool, by reason.",
		},
		[]string{"reason"},
	)

	dbCommits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cylc_scheduler_db_commits_total",
			Help: "Total queued-operation commits, by DAO role (primary, public).",
		},
		[]string{"role"},
	)

	dbRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cylc_scheduler_db_retries_total",
			Help: "Total public-replica write retries before a rebuild-from-primary.",
		},
		[]string{"op"},
	)

	dbRebuilds = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cylc_scheduler_db_public_rebuilds_total",
			Help: "Total times the public replica was rebuilt from the primary after exhausting retries.",
		},
	)

	stalls = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cylc_scheduler_stalls_total",
			Help: "Total times the scheduler loop observed a stalled pool.",
		},
	)
)

// SetPoolSize records the current main/hidden pool sizes.
func SetPoolSize(main, hidden int) {
	poolMainSize.Set(float64(main))
	poolHiddenSize.Set(float64(hidden))
}

// SetRunaheadLimit records the runahead limit as a count relative to the
// workflow's initial point (integer cycling: the cycle-count difference;
// datetime cycling: seconds).
func SetRunaheadLimit(relative float64) {
	runaheadLimit.Set(relative)
}

// RecordSpawn increments the spawn counter for the given pool.
func RecordSpawn(pool string) {
	tasksSpawned.WithLabelValues(pool).Inc()
}

// RecordRemoval increments the removal counter for the given reason.
func RecordRemoval(reason string) {
	tasksRemoved.WithLabelValues(reason).Inc()
}

// RecordCommit increments the commit counter for the given DAO role.
func RecordCommit(role string) {
	dbCommits.WithLabelValues(role).Inc()
}

// RecordRetry increments the public-DAO retry counter for op.
func RecordRetry(op string) {
	dbRetries.WithLabelValues(op).Inc()
}

// RecordRebuild increments the public-replica rebuild counter.
func RecordRebuild() {
	dbRebuilds.Inc()
}

// RecordStall increments the stall counter.
func RecordStall() {
	stalls.Inc()
}
