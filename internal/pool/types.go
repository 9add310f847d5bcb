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

package pool

import (
	"fmt"
	"time"

	"github.com/cylc/cylc-scheduler/internal/cycle"
	"github.com/cylc/cylc-scheduler/internal/flow"
)

// Status is a task proxy's discriminated lifecycle state, replacing
// cylc-flow's duck-typed task_state strings with a closed Go enum.
type Status string

// Standard task statuses (spec.md §9's Status enum).
const (
	StatusWaiting    Status = "waiting"
	StatusPreparing  Status = "preparing"
	StatusSubmitted  Status = "submitted"
	StatusRunning    Status = "running"
	StatusSucceeded  Status = "succeeded"
	StatusFailed     Status = "failed"
	StatusExpired    Status = "expired"
)

// IsActive reports whether s is one of the statuses counted as "active"
// for queue limiting and can_stop (preparing/submitted/running).
func (s Status) IsActive() bool {
	switch s {
	case StatusPreparing, StatusSubmitted, StatusRunning:
		return true
	}
	return false
}

// IsFinal reports whether s is a terminal status (succeeded/failed/
// expired) — the set used by the runahead base-point computation and
// remove_if_complete.
func (s Status) IsFinal() bool {
	switch s {
	case StatusSucceeded, StatusFailed, StatusExpired:
		return true
	}
	return false
}

// Standard output labels (spec.md §3).
const (
	OutputSubmitted = "submitted"
	OutputStarted   = "started"
	OutputSucceeded = "succeeded"
	OutputFailed    = "failed"
	OutputExpired   = "expired"
)

// Child describes one downstream dependent named by a TaskDef's per-output
// graph children: spec.md §3's "{(child_name, child_point, is_absolute) …}".
type Child struct {
	Name       string
	Point      cycle.Point
	IsAbsolute bool
}

// PrereqKey identifies one prerequisite condition: a (point, task_name,
// output) triple, as spec.md §3 describes.
type PrereqKey struct {
	Point  cycle.Point
	Name   string
	Output string
}

func (k PrereqKey) String() string {
	return fmt.Sprintf("%s/%s:%s", k.Point.String(), k.Name, k.Output)
}

// TaskDef is the external config/graph-parser contract a TaskProxy refers
// to by reference, per spec.md §3's TaskDef description. The graph/config
// parser that implements this is out of scope (spec.md §1); the kernel
// only consumes it.
type TaskDef interface {
	// Name is the task's name within the workflow graph.
	Name() string

	// Sequences are the recurrences that govern this task's valid points.
	Sequences() []*cycle.Sequence

	// IsValidPoint reports whether point lies on one of this task's
	// sequences.
	IsValidPoint(point cycle.Point) bool

	// NextPoint returns the next point after p valid for this task, or
	// false if there is none (sequence exhausted).
	NextPoint(p cycle.Point) (cycle.Point, bool)

	// FirstPoint returns the first valid point at or after start.
	FirstPoint(start cycle.Point) (cycle.Point, bool)

	// IsParentless reports whether this task has no graph parents at the
	// given point — it is spawned eagerly up to the runahead limit.
	IsParentless(point cycle.Point) bool

	// MaxFuturePrereqOffset returns this task's maximum future-trigger
	// offset, if it has one.
	MaxFuturePrereqOffset() (cycle.Interval, bool)

	// ExpirationOffset returns this task's expiration offset, if any.
	ExpirationOffset() (cycle.Interval, bool)

	// HasAbsoluteTriggers reports whether this task has any absolute
	// triggers (prerequisites not tied to its own cycle point).
	HasAbsoluteTriggers() bool

	// InitialPrerequisites returns the unsatisfied prerequisite keys for a
	// freshly spawned instance of this task at point.
	InitialPrerequisites(point cycle.Point) []PrereqKey

	// SuicidePrerequisites returns the suicide-prerequisite keys for an
	// instance at point: conditions that, once all satisfied, remove the
	// task from the pool instead of letting it run (a "!task" marker in
	// the graph). Empty for tasks with no suicide triggers.
	SuicidePrerequisites(point cycle.Point) []PrereqKey

	// GraphChildren returns the downstream children triggered by the given
	// output label, at point.
	GraphChildren(output string, point cycle.Point) []Child

	// RequiredOutputs names the outputs a completed instance must have
	// produced to be considered complete (invariant 6 / remove_if_complete).
	RequiredOutputs() []string
}

// Prerequisite is one condition of a TaskProxy, carrying a satisfied flag
// (spec.md §3's "each carrying a satisfied flag (or tri-state token)").
// Satisfied is empty when unsatisfied, "satisfied naturally" when matched by
// a real completed output, or "force satisfied" when satisfied by an
// explicit command — mirroring cylc-flow's tri-state satisfied column.
type Prerequisite struct {
	Key       PrereqKey
	Satisfied string
}

// IsSatisfied reports whether this prerequisite has been satisfied by any
// means.
func (p *Prerequisite) IsSatisfied() bool { return p.Satisfied != "" }

const (
	satisfiedNaturally = "satisfied naturally"
	satisfiedByForce   = "force satisfied"
)

// Outputs is the completed-output map of one TaskProxy: label -> message,
// for every output that has completed. An output marked completed is never
// un-completed (invariant 6), except by an explicit reset.
type Outputs struct {
	completed map[string]string // label -> message
}

// NewOutputs returns an empty Outputs map.
func NewOutputs() *Outputs {
	return &Outputs{completed: make(map[string]string)}
}

// SetCompleted records label as completed with the given message.
func (o *Outputs) SetCompleted(label, message string) {
	if o.completed == nil {
		o.completed = make(map[string]string)
	}
	o.completed[label] = message
}

// IsCompleted reports whether label has completed.
func (o *Outputs) IsCompleted(label string) bool {
	_, ok := o.completed[label]
	return ok
}

// CompletedMap returns a copy of the completed label -> message map, the
// shape persisted to task_outputs.
func (o *Outputs) CompletedMap() map[string]string {
	out := make(map[string]string, len(o.completed))
	for label, message := range o.completed {
		out[label] = message
	}
	return out
}

// Completed returns every completed output label.
func (o *Outputs) Completed() []string {
	out := make([]string, 0, len(o.completed))
	for label := range o.completed {
		out = append(out, label)
	}
	return out
}

// Incomplete returns every label in required that has not completed.
func (o *Outputs) Incomplete(required []string) []string {
	var out []string
	for _, label := range required {
		if !o.IsCompleted(label) {
			out = append(out, label)
		}
	}
	return out
}

// Reset clears every completed output (used by an explicit reset-to-waiting
// command — the one exception to invariant 6).
func (o *Outputs) Reset() {
	o.completed = make(map[string]string)
}

// Proxy is one task instance: spec.md §3's TaskProxy.
type Proxy struct {
	Def      TaskDef
	Point    cycle.Point
	FlowNums flow.Nums

	SubmitNum int
	Status    Status

	IsHeld           bool
	IsQueued         bool
	IsRunahead       bool
	IsManualSubmit   bool
	FlowWait         bool
	WaitingOnJobPrep bool
	KillFailed       bool

	Prereqs        []*Prerequisite
	SuicidePrereqs []*Prerequisite
	Outputs        *Outputs

	Platform     string
	ExpireTime   *time.Time
	TimeoutTimer *float64

	// GraphChildrenOverride, when non-nil, replaces Def.GraphChildren for
	// this instance — used by reload to stop an orphaned active task from
	// spawning further children (spec.md §4.5.8).
	GraphChildrenOverride map[string][]Child
}

// NewProxy constructs a fresh TaskProxy at the waiting status with its
// def's initial prerequisites unsatisfied.
func NewProxy(def TaskDef, point cycle.Point, flowNums flow.Nums, submitNum int) *Proxy {
	p := &Proxy{
		Def:       def,
		Point:     point,
		FlowNums:  flowNums,
		SubmitNum: submitNum,
		Status:    StatusWaiting,
		Outputs:   NewOutputs(),
	}
	for _, key := range def.InitialPrerequisites(point) {
		p.Prereqs = append(p.Prereqs, &Prerequisite{Key: key})
	}
	for _, key := range def.SuicidePrerequisites(point) {
		p.SuicidePrereqs = append(p.SuicidePrereqs, &Prerequisite{Key: key})
	}
	return p
}

// Identity is the "name.point" string that identifies this instance in
// the queues, the held-task set and the stop-task marker.
func (p *Proxy) Identity() string {
	return p.Def.Name() + "." + p.Point.String()
}

// String renders the proxy for log messages as "point/name".
func (p *Proxy) String() string {
	return fmt.Sprintf("%s/%s", p.Point.String(), p.Def.Name())
}

// GraphChildren returns this instance's downstream children for output,
// honouring GraphChildrenOverride if reload has cleared it for an orphan.
func (p *Proxy) GraphChildren(output string) []Child {
	if p.GraphChildrenOverride != nil {
		return p.GraphChildrenOverride[output]
	}
	return p.Def.GraphChildren(output, p.Point)
}

// SuicidePrereqsSatisfied reports whether this task has suicide
// prerequisites and every one of them is satisfied — the condition that
// schedules its removal from the pool.
func (p *Proxy) SuicidePrereqsSatisfied() bool {
	if len(p.SuicidePrereqs) == 0 {
		return false
	}
	for _, pr := range p.SuicidePrereqs {
		if !pr.IsSatisfied() {
			return false
		}
	}
	return true
}

// PrereqsSatisfied reports whether every recorded prerequisite is
// satisfied.
func (p *Proxy) PrereqsSatisfied() bool {
	for _, pr := range p.Prereqs {
		if !pr.IsSatisfied() {
			return false
		}
	}
	return true
}

// UnsatisfiedPrereqs returns the keys of every unsatisfied prerequisite.
func (p *Proxy) UnsatisfiedPrereqs() []PrereqKey {
	var out []PrereqKey
	for _, pr := range p.Prereqs {
		if !pr.IsSatisfied() {
			out = append(out, pr.Key)
		}
	}
	return out
}

// SatisfyMe marks as satisfied any of this proxy's prerequisites matching
// one of the given (point, name, output) keys — cylc-flow's
// state.satisfy_me.
func (p *Proxy) SatisfyMe(keys map[PrereqKey]struct{}) bool {
	changed := false
	for _, pr := range p.Prereqs {
		if pr.IsSatisfied() {
			continue
		}
		if _, ok := keys[pr.Key]; ok {
			pr.Satisfied = satisfiedNaturally
			changed = true
		}
	}
	return changed
}

// ForceSatisfyAbsolute marks satisfied every unsatisfied prerequisite whose
// "name|output" key is in the absolute-outputs done-set, and reports
// whether any changed (used by absolute-trigger resolution).
func (p *Proxy) ForceSatisfyAbsolute(done map[string]struct{}) bool {
	changed := false
	for _, pr := range p.Prereqs {
		if pr.IsSatisfied() {
			continue
		}
		k := pr.Key.Name + "|" + pr.Key.Output
		if _, ok := done[k]; ok {
			pr.Satisfied = satisfiedNaturally
			changed = true
		}
	}
	return changed
}
