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

// ExpectedError marks domain errors whose occurrence is an anticipated
// operating condition rather than a program fault: bad CLI input, an
// incompatible database, an unknown platform on restart. The CLI reports
// these as a single-line cause; anything else keeps its full wrap chain.
//
// The domain error types in internal/errors implement this interface.
type ExpectedError interface {
	error

	// Expected reports whether this error is an anticipated domain
	// condition that should be shown to the user without a wrap chain.
	Expected() bool
}

// IsExpected reports whether any error in err's tree is an expected
// domain condition.
func IsExpected(err error) bool {
	var expected ExpectedError
	return As(err, &expected) && expected.Expected()
}
