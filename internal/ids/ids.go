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

// Package ids parses the identifier grammar spec.md §6 names:
// "user/workflow//cycle/task:selector/job", relative continuations
// ("//cycle/task" following a bare workflow), legacy shorthand
// ("task.cycle", "cycle/task"), and glob wildcards. Grounded on cylc-flow's
// id_cli.py (FN_CHARS / contains_fnmatch, relative-continuation handling,
// legacy-id upgrade) — id.py's own Tokens class was not retrieved into
// original_source, so the Tokens shape here is built from spec.md's
// textual grammar rather than a line-for-line port.
package ids

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	cylcerrors "github.com/cylc/cylc-scheduler/internal/errors"
)

// fnChars matches any character that makes a string a glob pattern rather
// than a literal, mirroring id_cli.py's FN_CHARS.
var fnChars = regexp.MustCompile(`[*?\[\]!]`)

// ContainsGlob reports whether s contains filename-match characters.
func ContainsGlob(s string) bool {
	return fnChars.MatchString(s)
}

// Tokens is one parsed identifier: a workflow part (User, Workflow) and an
// optional relative part (Cycle, Task, Selector, Job). IsNull is true for
// an identifier with no task-like relative part at all (a bare workflow
// id); IsTaskLike is true once Cycle or Task is set.
type Tokens struct {
	User     string
	Workflow string
	Cycle    string
	Task     string
	Selector string
	Job      string
}

// IsNull reports whether the identifier names only a workflow, no
// cycle/task/job relative part.
func (t Tokens) IsNull() bool {
	return t.Cycle == "" && t.Task == "" && t.Job == ""
}

// IsTaskLike reports whether the identifier has a relative (cycle/task)
// component.
func (t Tokens) IsTaskLike() bool {
	return !t.IsNull()
}

// String renders the canonical "user/workflow//cycle/task:selector/job"
// form, omitting empty optional parts.
func (t Tokens) String() string {
	var b strings.Builder
	if t.User != "" {
		b.WriteString(t.User)
		b.WriteByte('/')
	}
	b.WriteString(t.Workflow)
	if t.IsNull() {
		return b.String()
	}
	b.WriteString("//")
	b.WriteString(t.Cycle)
	if t.Task != "" {
		b.WriteByte('/')
		b.WriteString(t.Task)
	}
	if t.Selector != "" {
		b.WriteByte(':')
		b.WriteString(t.Selector)
	}
	if t.Job != "" {
		b.WriteByte('/')
		b.WriteString(t.Job)
	}
	return b.String()
}

// relPathRe matches cylc-flow's EXPLICIT_RELATIVE_PATH_REGEX: a bare "."
// or a "./"-prefixed path, used to distinguish source-directory arguments
// from workflow IDs.
var relPathRe = regexp.MustCompile(`^\.$|^\.\.?/`)

// IsExplicitPath reports whether arg looks like a filesystem path (".",
// "./name", or any absolute path) rather than a workflow identifier.
// Per spec.md §6, such arguments are only treated as source directories
// when a flow-config file is found inside — this function only answers
// the shape question; the filesystem check is the caller's job.
func IsExplicitPath(arg string) bool {
	return relPathRe.MatchString(arg) || strings.HasPrefix(arg, "/")
}

// ParseOne parses a single identifier string against an optional previous
// Tokens for relative continuation: if raw begins with "//", its
// cycle/task/selector/job is layered onto prev's workflow part (spec.md
// §6: "the parser accepts relative continuations... following a bare
// workflow"). Legacy shorthand ("task.cycle", "cycle/task" without the
// "//" workflow separator) is upgraded per upgradeLegacy.
func ParseOne(raw string, prev *Tokens) (Tokens, error) {
	if raw == "" {
		return Tokens{}, &cylcerrors.InputError{What: "identifier", Reason: "empty identifier"}
	}

	if strings.HasPrefix(raw, "//") {
		if prev == nil {
			return Tokens{}, &cylcerrors.InputError{
				What:   "identifier",
				Reason: fmt.Sprintf("relative identifier %q has no preceding workflow", raw),
			}
		}
		t := *prev
		if err := parseRelative(strings.TrimPrefix(raw, "//"), &t); err != nil {
			return Tokens{}, err
		}
		return t, nil
	}

	workflowPart, relPart, hasRel := strings.Cut(raw, "//")

	var t Tokens
	if user, workflow, hasUser := strings.Cut(workflowPart, "/"); hasUser && hasRel {
		t.User = user
		t.Workflow = workflow
	} else {
		t.Workflow = workflowPart
	}

	if hasRel {
		if err := parseRelative(relPart, &t); err != nil {
			return Tokens{}, err
		}
		return t, nil
	}

	// No "//" separator at all: either a bare workflow id, or legacy
	// shorthand smuggled into the workflow-part position.
	if legacy, ok := upgradeLegacy(workflowPart); ok {
		t.Workflow = ""
		t.Cycle = legacy.Cycle
		t.Task = legacy.Task
		if prev != nil {
			t.Workflow = prev.Workflow
			t.User = prev.User
		}
		return t, nil
	}
	return t, nil
}

// parseRelative fills in t's Cycle/Task/Selector/Job from a relative part
// already stripped of its leading "//".
func parseRelative(rel string, t *Tokens) error {
	if rel == "" {
		return &cylcerrors.InputError{What: "identifier", Reason: "empty relative identifier after //"}
	}

	job := ""
	if idx := strings.LastIndex(rel, "/"); idx >= 0 {
		maybeJob := rel[idx+1:]
		// A job number is a non-negative integer or NN (latest); any other
		// trailing segment is the task name's own path component, so this
		// only splits off a job when the first segment already set a task.
		if maybeJob != "" && (maybeJob == "NN" || isDigits(maybeJob)) && strings.Contains(rel[:idx], "/") {
			job = maybeJob
			rel = rel[:idx]
		}
	}

	cyclePart, taskPart, hasTask := strings.Cut(rel, "/")
	t.Cycle = cyclePart
	if hasTask {
		task, selector, hasSelector := strings.Cut(taskPart, ":")
		t.Task = task
		if hasSelector {
			t.Selector = selector
		}
	} else if idx := strings.Index(cyclePart, ":"); idx >= 0 {
		// A selector may also be attached directly to a cycle-only id.
		t.Cycle = cyclePart[:idx]
		t.Selector = cyclePart[idx+1:]
	}
	t.Job = job
	return nil
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// legacyRel is the cycle/task pair recovered from a pre-"//" identifier.
type legacyRel struct {
	Cycle string
	Task  string
}

// upgradeLegacy recognises the two legacy shorthands spec.md §6 names:
// "task.cycle" and "cycle/task" (no "//" separator). Grounded on
// id_cli.py's upgrade_legacy_ids concept. Returns ok=false if s does not
// look like either shorthand (e.g. it is a bare workflow name).
func upgradeLegacy(s string) (legacyRel, bool) {
	if task, cycle, ok := strings.Cut(s, "."); ok && looksLikeCyclePoint(cycle) {
		return legacyRel{Cycle: cycle, Task: task}, true
	}
	if cycle, task, ok := strings.Cut(s, "/"); ok && looksLikeCyclePoint(cycle) {
		return legacyRel{Cycle: cycle, Task: task}, true
	}
	return legacyRel{}, false
}

// looksLikeCyclePoint is a cheap heuristic: a cycle point is either all
// digits (integer cycling) or starts with a digit and contains no "/"
// (a compact ISO-8601 datetime). It exists only to disambiguate legacy
// shorthand from a bare workflow name containing a literal ".".
func looksLikeCyclePoint(s string) bool {
	if s == "" {
		return false
	}
	return s[0] >= '0' && s[0] <= '9' && !strings.Contains(s, "/")
}

// Match reports whether candidate (a "name/point" or "name.point" task
// identity) matches the glob pattern pat using doublestar's extended
// glob syntax — richer than path.Match for the multi-segment identities
// hold/release/remove/workflow_state_query operate on.
func Match(pat, candidate string) (bool, error) {
	ok, err := doublestar.Match(pat, candidate)
	if err != nil {
		return false, &cylcerrors.InputError{
			What:   "glob pattern",
			Reason: fmt.Sprintf("invalid pattern %q: %v", pat, err),
		}
	}
	return ok, nil
}
