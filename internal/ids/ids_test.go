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

package ids

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestContainsGlob(t *testing.T) {
	require.True(t, ContainsGlob("foo*"))
	require.True(t, ContainsGlob("foo?bar"))
	require.True(t, ContainsGlob("[abc]"))
	require.False(t, ContainsGlob("foo_bar"))
}

func TestParseOne_FullForm(t *testing.T) {
	tok, err := ParseOne("me/myflow//1/foo:failed", nil)
	require.NoError(t, err)
	require.Equal(t, "me", tok.User)
	require.Equal(t, "myflow", tok.Workflow)
	require.Equal(t, "1", tok.Cycle)
	require.Equal(t, "foo", tok.Task)
	require.Equal(t, "failed", tok.Selector)
}

func TestParseOne_RelativeContinuation(t *testing.T) {
	prev, err := ParseOne("myflow//1/foo", nil)
	require.NoError(t, err)

	next, err := ParseOne("//2/bar", &prev)
	require.NoError(t, err)
	require.Equal(t, "myflow", next.Workflow)
	require.Equal(t, "2", next.Cycle)
	require.Equal(t, "bar", next.Task)
}

func TestParseOne_RelativeContinuationWithoutPrevFails(t *testing.T) {
	_, err := ParseOne("//2/bar", nil)
	require.Error(t, err)
}

func TestParseOne_LegacyDotForm(t *testing.T) {
	tok, err := ParseOne("foo.1", nil)
	require.NoError(t, err)
	require.Equal(t, "1", tok.Cycle)
	require.Equal(t, "foo", tok.Task)
}

func TestParseOne_LegacySlashForm(t *testing.T) {
	tok, err := ParseOne("1/foo", nil)
	require.NoError(t, err)
	require.Equal(t, "1", tok.Cycle)
	require.Equal(t, "foo", tok.Task)
}

func TestParseOne_JobNumberSplit(t *testing.T) {
	tok, err := ParseOne("myflow//1/foo/02", nil)
	require.NoError(t, err)
	require.Equal(t, "foo", tok.Task)
	require.Equal(t, "02", tok.Job)
}

func TestParseOne_EmptyIsError(t *testing.T) {
	_, err := ParseOne("", nil)
	require.Error(t, err)
}

func TestMatch_Glob(t *testing.T) {
	ok, err := Match("foo*", "foobar")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = Match("foo*", "barfoo")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestMatch_Literal(t *testing.T) {
	ok, err := Match("foo", "foo")
	require.NoError(t, err)
	require.True(t, ok)
}

func TestMatch_InvalidPattern(t *testing.T) {
	_, err := Match("[", "foo")
	require.Error(t, err)
}

func TestIsExplicitPath(t *testing.T) {
	require.True(t, IsExplicitPath("."))
	require.True(t, IsExplicitPath("./myworkflow"))
	require.True(t, IsExplicitPath("/abs/path"))
	require.False(t, IsExplicitPath("myworkflow"))
}
