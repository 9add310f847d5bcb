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

package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestSetPoolSize(t *testing.T) {
	SetPoolSize(7, 3)
	require.Equal(t, float64(7), testutil.ToFloat64(poolMainSize))
	require.Equal(t, float64(3), testutil.ToFloat64(poolHiddenSize))
}

func TestSetRunaheadLimit(t *testing.T) {
	SetRunaheadLimit(4)
	require.Equal(t, float64(4), testutil.ToFloat64(runaheadLimit))
}

func TestRecordSpawnAndRemoval(t *testing.T) {
	before := testutil.ToFloat64(tasksSpawned.WithLabelValues("main"))
	RecordSpawn("main")
	require.Equal(t, before+1, testutil.ToFloat64(tasksSpawned.WithLabelValues("main")))

	beforeRemoved := testutil.ToFloat64(tasksRemoved.WithLabelValues("completed"))
	RecordRemoval("completed")
	require.Equal(t, beforeRemoved+1, testutil.ToFloat64(tasksRemoved.WithLabelValues("completed")))
}

func TestRecordCommitRetryRebuildStall(t *testing.T) {
	beforeCommit := testutil.ToFloat64(dbCommits.WithLabelValues("primary"))
	RecordCommit("primary")
	require.Equal(t, beforeCommit+1, testutil.ToFloat64(dbCommits.WithLabelValues("primary")))

	beforeRetry := testutil.ToFloat64(dbRetries.WithLabelValues("public"))
	RecordRetry("public")
	require.Equal(t, beforeRetry+1, testutil.ToFloat64(dbRetries.WithLabelValues("public")))

	beforeRebuild := testutil.ToFloat64(dbRebuilds)
	RecordRebuild()
	require.Equal(t, beforeRebuild+1, testutil.ToFloat64(dbRebuilds))

	beforeStall := testutil.ToFloat64(stalls)
	RecordStall()
	require.Equal(t, beforeStall+1, testutil.ToFloat64(stalls))
}
