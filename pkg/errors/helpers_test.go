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
	"errors"
	"strings"
	"testing"

	cylcerrors "github.com/cylc/cylc-scheduler/internal/errors"
	pkgerrors "github.com/cylc/cylc-scheduler/pkg/errors"
)

func TestWrap(t *testing.T) {
	t.Run("wraps error with context", func(t *testing.T) {
		original := errors.New("original error")
		wrapped := pkgerrors.Wrap(original, "additional context")

		if wrapped == nil {
			t.Fatal("Wrap should not return nil for non-nil error")
		}

		msg := wrapped.Error()
		if !strings.Contains(msg, "additional context") {
			t.Errorf("wrapped error should contain context, got: %s", msg)
		}
		if !strings.Contains(msg, "original error") {
			t.Errorf("wrapped error should contain original message, got: %s", msg)
		}
	})

	t.Run("returns nil for nil error", func(t *testing.T) {
		if wrapped := pkgerrors.Wrap(nil, "context"); wrapped != nil {
			t.Errorf("Wrap(nil, _) should return nil, got: %v", wrapped)
		}
	})

	t.Run("preserves error chain", func(t *testing.T) {
		original := errors.New("root cause")
		wrapped := pkgerrors.Wrap(original, "context")

		if !errors.Is(wrapped, original) {
			t.Error("wrapped error should match original with errors.Is")
		}
		if unwrapped := errors.Unwrap(wrapped); unwrapped != original {
			t.Errorf("Unwrap should return original error, got: %v", unwrapped)
		}
	})
}

func TestWrapf(t *testing.T) {
	t.Run("formats context", func(t *testing.T) {
		original := errors.New("no such table")
		wrapped := pkgerrors.Wrapf(original, "open run directory %s", "/run/one")

		msg := wrapped.Error()
		if !strings.Contains(msg, "open run directory /run/one") {
			t.Errorf("wrapped error should contain formatted context, got: %s", msg)
		}
		if !strings.Contains(msg, "no such table") {
			t.Errorf("wrapped error should contain original message, got: %s", msg)
		}
	})

	t.Run("returns nil for nil error", func(t *testing.T) {
		if wrapped := pkgerrors.Wrapf(nil, "open %s", "x"); wrapped != nil {
			t.Errorf("Wrapf(nil, ...) should return nil, got: %v", wrapped)
		}
	})
}

func TestAs_FindsDomainErrorThroughWrap(t *testing.T) {
	original := &cylcerrors.InputError{What: "--flow", Reason: "not a flow token"}
	wrapped := pkgerrors.Wrap(original, "parsing trigger options")

	var inputErr *cylcerrors.InputError
	if !pkgerrors.As(wrapped, &inputErr) {
		t.Fatal("As should find the InputError through the wrap")
	}
	if inputErr.What != "--flow" {
		t.Errorf("As should surface the original error value, got What=%q", inputErr.What)
	}
}

func TestIs_DistinguishesSentinels(t *testing.T) {
	sentinel := pkgerrors.New("stop requested")
	wrapped := pkgerrors.Wrap(sentinel, "loop")

	if !pkgerrors.Is(wrapped, sentinel) {
		t.Error("Is should match the wrapped sentinel")
	}
	if pkgerrors.Is(wrapped, pkgerrors.New("stop requested")) {
		t.Error("Is must compare identity, not message text")
	}
}

func TestIsExpected(t *testing.T) {
	domain := &cylcerrors.ServiceFileError{Reason: "incompatible version"}
	if !pkgerrors.IsExpected(pkgerrors.Wrap(domain, "restart")) {
		t.Error("a wrapped domain error is still expected")
	}
	if pkgerrors.IsExpected(errors.New("index out of range")) {
		t.Error("a plain error is not an expected domain condition")
	}
	if pkgerrors.IsExpected(nil) {
		t.Error("nil is not an expected error")
	}
}

func TestFormat(t *testing.T) {
	domain := &cylcerrors.InputError{What: "identifier", Reason: "empty identifier"}
	wrapped := pkgerrors.Wrap(domain, "matching tasks")

	t.Run("expected errors print a single-line cause", func(t *testing.T) {
		got := pkgerrors.Format(wrapped, false)
		if got != domain.Error() {
			t.Errorf("Format should drop the wrap context for expected errors, got: %s", got)
		}
	})

	t.Run("debug restores the full chain", func(t *testing.T) {
		got := pkgerrors.Format(wrapped, true)
		if !strings.Contains(got, "matching tasks") {
			t.Errorf("debug Format should keep the wrap context, got: %s", got)
		}
	})

	t.Run("unexpected errors keep the chain", func(t *testing.T) {
		plain := pkgerrors.Wrap(errors.New("disk io failure"), "commit")
		got := pkgerrors.Format(plain, false)
		if !strings.Contains(got, "commit") {
			t.Errorf("Format should keep the chain for unexpected errors, got: %s", got)
		}
	})

	t.Run("nil renders empty", func(t *testing.T) {
		if got := pkgerrors.Format(nil, false); got != "" {
			t.Errorf("Format(nil) should be empty, got: %s", got)
		}
	})
}

func TestFatal_PrefixesSeverity(t *testing.T) {
	err := &cylcerrors.ServiceFileError{Reason: "db too old"}
	got := pkgerrors.Fatal(err, false)
	if !strings.HasPrefix(got, "ERROR: ") {
		t.Errorf("Fatal should prefix the severity marker, got: %s", got)
	}
	if !strings.Contains(got, "db too old") {
		t.Errorf("Fatal should contain the cause, got: %s", got)
	}
}
