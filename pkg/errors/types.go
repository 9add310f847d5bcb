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

// Package errors carries the error-handling plumbing shared by the CLI
// and the kernel packages: wrap/inspect helpers and the reporting policy
// that decides how an error reaches the terminal. The domain error
// taxonomy itself (input, config, service-file, platform-lookup, ...)
// lives in internal/errors; those types plug into this package by
// implementing ExpectedError.
package errors

import "fmt"

// Format renders err for terminal output. Expected domain errors print
// their own single-line message, dropping any outer wrap context; every
// other error keeps its full wrap chain. debug restores the full chain
// for expected errors too.
func Format(err error, debug bool) string {
	if err == nil {
		return ""
	}
	if !debug {
		var expected ExpectedError
		if As(err, &expected) && expected.Expected() {
			return expected.Error()
		}
	}
	return err.Error()
}

// Fatal renders err the way Format does and prefixes the conventional
// severity marker for a process about to exit non-zero.
func Fatal(err error, debug bool) string {
	return fmt.Sprintf("ERROR: %s", Format(err, debug))
}
