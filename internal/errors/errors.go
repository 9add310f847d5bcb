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

// Package errors defines the scheduler's domain error taxonomy: the
// structured error kinds a caller (CLI, scheduler loop, restart path) needs
// to distinguish, each with a single-line Error() and an Unwrap() for
// errors.Is/As. Every kind implements pkg/errors' ExpectedError contract,
// so the CLI's reporting policy (single-line cause for anticipated
// conditions, full wrap chain otherwise) applies to them automatically;
// pkg/errors owns the wrap/inspect/format plumbing, this package owns the
// domain kinds.
package errors

import (
	"fmt"

	pkgerrors "github.com/cylc/cylc-scheduler/pkg/errors"
)

// InputError reports bad CLI arguments, bad identifiers, or invalid
// flow/cycle strings. It is always surfaced to the user and maps to exit 1.
type InputError struct {
	// What names the input that failed (e.g. "flow option", "cycle point").
	What string

	// Reason is the human-readable explanation.
	Reason string
}

func (e *InputError) Error() string {
	return fmt.Sprintf("%s: %s", e.What, e.Reason)
}

// WorkflowConfigError reports a task definition missing during reload or
// restart. The affected task is logged and skipped rather than treated as
// fatal.
type WorkflowConfigError struct {
	TaskName string
	Reason   string
}

func (e *WorkflowConfigError) Error() string {
	return fmt.Sprintf("workflow config error for task %q: %s", e.TaskName, e.Reason)
}

// ServiceFileError reports an incompatible database or a corrupt contact
// file. Fatal on start.
type ServiceFileError struct {
	Reason string
}

func (e *ServiceFileError) Error() string {
	return fmt.Sprintf("service file error: %s", e.Reason)
}

// PlatformLookupError reports that a restart referenced one or more
// platforms no longer defined in configuration. Fatal; lists every missing
// platform so the operator can fix config in one pass instead of iterating.
type PlatformLookupError struct {
	Platforms []string
}

func (e *PlatformLookupError) Error() string {
	return fmt.Sprintf("unknown platform(s) referenced by restart: %v", e.Platforms)
}

// CylcError is the generic "expected domain error" kind: a short message
// with an optional wrapped cause, no traceback shown to the user by default.
type CylcError struct {
	Message string
	Cause   error
}

func (e *CylcError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *CylcError) Unwrap() error {
	return e.Cause
}

// TransientDBError reports a public-replica DB write failure. The database
// manager retries these; after MaxTries consecutive failures it rebuilds
// the replica from the primary. Primary DB errors are never wrapped in this
// type — those are fatal CylcErrors.
type TransientDBError struct {
	Op    string
	Tries int
	Cause error
}

func (e *TransientDBError) Error() string {
	return fmt.Sprintf("transient db error during %s (attempt %d): %v", e.Op, e.Tries, e.Cause)
}

func (e *TransientDBError) Unwrap() error {
	return e.Cause
}

// FileRemovalError reports that a workflow run directory vanished mid-run.
// Fatal, with a hint that this is very likely a filesystem issue rather
// than a scheduler bug.
type FileRemovalError struct {
	Path string
}

func (e *FileRemovalError) Error() string {
	return fmt.Sprintf("run directory vanished mid-run: %s (likely a filesystem issue, not a scheduler fault)", e.Path)
}

// PluginError wraps an error raised by an external plugin (e.g. an
// event-handler entry point), attaching the plugin name and entry point so
// the operator knows which extension misbehaved.
type PluginError struct {
	EntryPoint string
	PluginName string
	Cause      error
}

func (e *PluginError) Error() string {
	return fmt.Sprintf("plugin %q (entry point %q) failed: %v", e.PluginName, e.EntryPoint, e.Cause)
}

func (e *PluginError) Unwrap() error {
	return e.Cause
}

// PointParsingError reports a cycle point string that failed to parse.
type PointParsingError struct {
	Value  string
	Reason string
}

func (e *PointParsingError) Error() string {
	return fmt.Sprintf("cannot parse cycle point %q: %s", e.Value, e.Reason)
}

// IntervalParsingError reports an offset/interval string that failed to
// parse.
type IntervalParsingError struct {
	Value  string
	Reason string
}

func (e *IntervalParsingError) Error() string {
	return fmt.Sprintf("cannot parse interval %q: %s", e.Value, e.Reason)
}

// SequenceDegenerateError reports a sequence whose successive points do not
// advance (adjacent points compare equal), which would spin forever if not
// caught.
type SequenceDegenerateError struct {
	Sequence string
	Point    string
}

func (e *SequenceDegenerateError) Error() string {
	return fmt.Sprintf("sequence %q is degenerate at point %q: next point does not advance", e.Sequence, e.Point)
}

// MissingFinalCyclePointError reports a sequence or bound that required a
// final cycle point that was never configured.
type MissingFinalCyclePointError struct {
	Context string
}

func (e *MissingFinalCyclePointError) Error() string {
	return fmt.Sprintf("final cycle point is required but missing: %s", e.Context)
}

// Every kind in this package is "expected" in the reporting policy's
// sense: its occurrence is an anticipated operating condition, shown to
// the user as a single-line cause by pkg/errors.Format rather than a full
// wrap chain.

func (e *InputError) Expected() bool                  { return true }
func (e *WorkflowConfigError) Expected() bool         { return true }
func (e *ServiceFileError) Expected() bool            { return true }
func (e *PlatformLookupError) Expected() bool         { return true }
func (e *CylcError) Expected() bool                   { return true }
func (e *TransientDBError) Expected() bool            { return true }
func (e *FileRemovalError) Expected() bool            { return true }
func (e *PluginError) Expected() bool                 { return true }
func (e *PointParsingError) Expected() bool           { return true }
func (e *IntervalParsingError) Expected() bool        { return true }
func (e *SequenceDegenerateError) Expected() bool     { return true }
func (e *MissingFinalCyclePointError) Expected() bool { return true }

var (
	_ pkgerrors.ExpectedError = (*InputError)(nil)
	_ pkgerrors.ExpectedError = (*WorkflowConfigError)(nil)
	_ pkgerrors.ExpectedError = (*ServiceFileError)(nil)
	_ pkgerrors.ExpectedError = (*PlatformLookupError)(nil)
	_ pkgerrors.ExpectedError = (*CylcError)(nil)
	_ pkgerrors.ExpectedError = (*TransientDBError)(nil)
	_ pkgerrors.ExpectedError = (*FileRemovalError)(nil)
	_ pkgerrors.ExpectedError = (*PluginError)(nil)
	_ pkgerrors.ExpectedError = (*PointParsingError)(nil)
	_ pkgerrors.ExpectedError = (*IntervalParsingError)(nil)
	_ pkgerrors.ExpectedError = (*SequenceDegenerateError)(nil)
	_ pkgerrors.ExpectedError = (*MissingFinalCyclePointError)(nil)
)
