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

package cycle

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePoint_Integer(t *testing.T) {
	p, err := ParsePoint("17", "")
	require.NoError(t, err)
	assert.Equal(t, IntegerPoint(17), p)
	assert.Equal(t, "17", p.String())
}

func TestParsePoint_DateTime(t *testing.T) {
	p, err := ParsePoint("2024-01-01T00:00:00Z", "")
	require.NoError(t, err)
	assert.Equal(t, "2024-01-01T00:00:00Z", p.String())
}

func TestParsePoint_Invalid(t *testing.T) {
	_, err := ParsePoint("not-a-point", "")
	assert.Error(t, err)
}

func TestParseInterval_Integer(t *testing.T) {
	iv, err := ParseInterval("+3")
	require.NoError(t, err)
	assert.Equal(t, IntegerInterval(3), iv)

	iv, err = ParseInterval("-2")
	require.NoError(t, err)
	assert.Equal(t, IntegerInterval(-2), iv)
}

func TestParseInterval_ISODuration(t *testing.T) {
	iv, err := ParseInterval("P1DT6H")
	require.NoError(t, err)
	dtIv, ok := iv.(DateTimeInterval)
	require.True(t, ok)
	assert.Equal(t, 1, dtIv.Days)
	assert.Equal(t, 6, dtIv.Hours)
	assert.False(t, dtIv.Negative)
}

func TestParseInterval_NegativeISODuration(t *testing.T) {
	iv, err := ParseInterval("-P1Y")
	require.NoError(t, err)
	dtIv, ok := iv.(DateTimeInterval)
	require.True(t, ok)
	assert.Equal(t, 1, dtIv.Years)
	assert.True(t, dtIv.Negative)
}

func TestAddOffset_Integer(t *testing.T) {
	p, err := ParsePoint("5", "")
	require.NoError(t, err)

	next, err := AddOffset(p, "+3")
	require.NoError(t, err)
	assert.Equal(t, IntegerPoint(8), next)
}

func TestAddOffset_DateTime(t *testing.T) {
	p, err := ParsePoint("2024-01-01T00:00:00Z", "")
	require.NoError(t, err)

	next, err := AddOffset(p, "P1D")
	require.NoError(t, err)
	assert.Equal(t, "2024-01-02T00:00:00Z", next.String())
}

func TestIntegerPoint_Compare(t *testing.T) {
	assert.Equal(t, -1, IntegerPoint(1).Compare(IntegerPoint(2)))
	assert.Equal(t, 0, IntegerPoint(2).Compare(IntegerPoint(2)))
	assert.Equal(t, 1, IntegerPoint(3).Compare(IntegerPoint(2)))
}

func TestIntegerPoint_ComparePanicsOnMismatchedRegime(t *testing.T) {
	assert.Panics(t, func() {
		IntegerPoint(1).Compare(DateTimePoint{})
	})
}
