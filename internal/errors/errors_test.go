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

package errors_test

import (
	stderrors "errors"
	"testing"

	cylcerrors "github.com/cylc/cylc-scheduler/internal/errors"
)

func TestInputError_Error(t *testing.T) {
	err := &cylcerrors.InputError{What: "flow option", Reason: "unknown token \"banana\""}
	want := `flow option: unknown token "banana"`
	if got := err.Error(); got != want {
		t.Errorf("InputError.Error() = %q, want %q", got, want)
	}
}

func TestWorkflowConfigError_Error(t *testing.T) {
	err := &cylcerrors.WorkflowConfigError{TaskName: "foo", Reason: "no longer in the graph"}
	want := `workflow config error for task "foo": no longer in the graph`
	if got := err.Error(); got != want {
		t.Errorf("WorkflowConfigError.Error() = %q, want %q", got, want)
	}
}

func TestPlatformLookupError_Error(t *testing.T) {
	err := &cylcerrors.PlatformLookupError{Platforms: []string{"hpc1", "hpc2"}}
	want := "unknown platform(s) referenced by restart: [hpc1 hpc2]"
	if got := err.Error(); got != want {
		t.Errorf("PlatformLookupError.Error() = %q, want %q", got, want)
	}
}

func TestCylcError_ErrorAndUnwrap(t *testing.T) {
	cause := stderrors.New("disk full")

	t.Run("with cause", func(t *testing.T) {
		err := &cylcerrors.CylcError{Message: "checkpoint failed", Cause: cause}
		if got, want := err.Error(), "checkpoint failed: disk full"; got != want {
			t.Errorf("Error() = %q, want %q", got, want)
		}
		if !stderrors.Is(err, cause) {
			t.Error("errors.Is should see through CylcError to its cause")
		}
	})

	t.Run("without cause", func(t *testing.T) {
		err := &cylcerrors.CylcError{Message: "stopped by request"}
		if got, want := err.Error(), "stopped by request"; got != want {
			t.Errorf("Error() = %q, want %q", got, want)
		}
	})
}

func TestTransientDBError_ErrorAndUnwrap(t *testing.T) {
	cause := stderrors.New("database is locked")
	err := &cylcerrors.TransientDBError{Op: "execute queued items", Tries: 3, Cause: cause}

	want := "transient db error during execute queued items (attempt 3): database is locked"
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
	if !stderrors.Is(err, cause) {
		t.Error("errors.Is should see through TransientDBError to its cause")
	}
}

func TestPluginError_ErrorAndUnwrap(t *testing.T) {
	cause := stderrors.New("exit status 1")
	err := &cylcerrors.PluginError{PluginName: "mail", EntryPoint: "notify", Cause: cause}

	want := `plugin "mail" (entry point "notify") failed: exit status 1`
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
	if !stderrors.Is(err, cause) {
		t.Error("errors.Is should see through PluginError to its cause")
	}
}

func TestPointParsingError_Error(t *testing.T) {
	err := &cylcerrors.PointParsingError{Value: "2024-13-01", Reason: "month out of range"}
	want := `cannot parse cycle point "2024-13-01": month out of range`
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestSequenceDegenerateError_Error(t *testing.T) {
	err := &cylcerrors.SequenceDegenerateError{Sequence: "R/P0Y", Point: "2024"}
	want := `sequence "R/P0Y" is degenerate at point "2024": next point does not advance`
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestMissingFinalCyclePointError_Error(t *testing.T) {
	err := &cylcerrors.MissingFinalCyclePointError{Context: "final-point-relative sequence bound"}
	want := "final cycle point is required but missing: final-point-relative sequence bound"
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}
