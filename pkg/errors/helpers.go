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

package errors

import (
	"errors"
	"fmt"
)

// Wrap adds context to err, preserving the chain for Is/As. Returns nil
// if err is nil.
//
// Usage:
//
//	if err := pool.LoadDBTaskPoolForRestart(ctx, nil); err != nil {
//	    return errors.Wrap(err, "restore task pool")
//	}
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf is Wrap with a format string. Returns nil if err is nil.
//
// Usage:
//
//	if _, err := db.Open(ctx, path, db.RolePrimary, logger); err != nil {
//	    return errors.Wrapf(err, "open run directory %s", runDir)
//	}
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	message := fmt.Sprintf(format, args...)
	return fmt.Errorf("%s: %w", message, err)
}

// Is reports whether any error in err's tree matches target. Convenience
// re-export of the standard library's errors.Is, so callers need only
// this package.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's tree matching target's type,
// assigning it and returning true. Convenience re-export of the standard
// library's errors.As.
//
// Usage:
//
//	var inputErr *cylcerrors.InputError
//	if errors.As(err, &inputErr) {
//	    // exit 1 with a single-line message
//	}
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// Unwrap returns err's direct cause, if it has one. Convenience
// re-export of the standard library's errors.Unwrap.
func Unwrap(err error) error {
	return errors.Unwrap(err)
}

// New creates a new error with the given message. Convenience re-export
// of the standard library's errors.New.
func New(message string) error {
	return errors.New(message)
}
