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

// Package config holds the typed, workflow-scoped parameter bag the
// scheduling kernel needs (runahead policy, cycle bounds, DB paths, UTC
// mode). It is not a general config-file loader — the graph/config parser
// that produces TaskDefs and sequences is an external collaborator; this
// package only carries the plain-struct-with-defaults shape the kernel's
// own settings need, in the same style as the teacher's
// internal/config.Config.
package config

import "github.com/cylc/cylc-scheduler/internal/cycle"

// RunaheadKind distinguishes the two ways a runahead limit may be
// expressed (spec.md §4.5.2 step 3).
type RunaheadKind int

const (
	// RunaheadByCount treats Limit as a count of cycles beyond the base
	// point ("count_cycles = true").
	RunaheadByCount RunaheadKind = iota
	// RunaheadByInterval treats Limit as a cycle.Interval beyond the base
	// point.
	RunaheadByInterval
)

// RunaheadConfig configures the runahead governor.
type RunaheadConfig struct {
	Kind     RunaheadKind
	Count    int
	Interval cycle.Interval
}

// Config is the workflow-scoped parameter bag passed to internal/pool and
// internal/db at scheduler start (or restart).
type Config struct {
	// UTCMode controls whether timestamps recorded to the database are in
	// UTC (matches the workflow's configured UTC mode).
	UTCMode bool

	// CyclePointFormat is the display format used when rendering
	// DateTimePoint values; empty means cycle.DefaultDateTimeFormat.
	CyclePointFormat string

	// InitialPoint, FinalPoint, StopPoint bound the task pool. FinalPoint
	// and StopPoint may be nil (no bound configured).
	InitialPoint cycle.Point
	FinalPoint   cycle.Point
	StopPoint    cycle.Point

	Runahead RunaheadConfig

	// Cylc7BackCompat enables the back-compat behaviours named throughout
	// spec.md §4.5 (runahead ignoring incomplete outputs, remove_if_complete
	// always removing on success, pre-emptive spawn_on_all_outputs at queue
	// release).
	Cylc7BackCompat bool

	// RunDir is the workflow run directory (see spec.md §6's persisted
	// state layout).
	RunDir string

	// ForceUpgrade overrides the pre-8.1.0 DB upgrade's ambiguous
	// multiple-flow-history refusal (spec.md §9, first Open Question).
	ForceUpgrade bool

	// TemplateVars is the template-variable snapshot recorded to the
	// database at first start so a restart can reproduce the original
	// templating inputs.
	TemplateVars map[string]any
}

// Option mutates a Config during construction, following the teacher's
// functional-options idiom for optional settings layered over defaults.
type Option func(*Config)

// WithUTCMode sets UTC mode.
func WithUTCMode(utc bool) Option {
	return func(c *Config) { c.UTCMode = utc }
}

// WithCyclePointFormat sets the display format for datetime cycle points.
func WithCyclePointFormat(format string) Option {
	return func(c *Config) { c.CyclePointFormat = format }
}

// WithBounds sets the initial/final/stop cycle points.
func WithBounds(initial, final, stop cycle.Point) Option {
	return func(c *Config) {
		c.InitialPoint = initial
		c.FinalPoint = final
		c.StopPoint = stop
	}
}

// WithRunahead sets the runahead governor's configuration.
func WithRunahead(r RunaheadConfig) Option {
	return func(c *Config) { c.Runahead = r }
}

// WithCylc7BackCompat toggles Cylc-7 back-compatibility behaviours.
func WithCylc7BackCompat(on bool) Option {
	return func(c *Config) { c.Cylc7BackCompat = on }
}

// WithRunDir sets the workflow run directory.
func WithRunDir(dir string) Option {
	return func(c *Config) { c.RunDir = dir }
}

// WithForceUpgrade sets the override flag for the ambiguous multi-flow
// pre-8.1.0 DB upgrade check.
func WithForceUpgrade(force bool) Option {
	return func(c *Config) { c.ForceUpgrade = force }
}

// WithTemplateVars sets the template-variable snapshot recorded at first
// start.
func WithTemplateVars(vars map[string]any) Option {
	return func(c *Config) { c.TemplateVars = vars }
}

// New builds a Config with sane defaults (integer runahead count of 2,
// no bounds, local time) overridden by the given options, mirroring the
// teacher's defaults-then-options construction pattern.
func New(opts ...Option) *Config {
	c := &Config{
		Runahead: RunaheadConfig{Kind: RunaheadByCount, Count: 2},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}
