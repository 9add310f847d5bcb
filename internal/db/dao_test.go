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

package db

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func openTestDAO(t *testing.T) *DAO {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	dao, err := Open(context.Background(), path, RolePrimary, nil)
	require.NoError(t, err)
	return dao
}

func TestDAO_Open_CreatesSchema(t *testing.T) {
	dao := openTestDAO(t)

	dao.Ops.QueueInsert("workflow_params", `INSERT INTO workflow_params (key, value) VALUES (?, ?)`, "uuid", "abc-123")
	require.NoError(t, dao.ExecuteQueuedItems(context.Background()))

	var value string
	err := dao.query(context.Background(), `SELECT value FROM workflow_params WHERE key = ?`, func(rows *sql.Rows) error {
		if rows.Next() {
			return rows.Scan(&value)
		}
		return rows.Err()
	}, "uuid")
	require.NoError(t, err)
	require.Equal(t, "abc-123", value)
}

func TestDAO_ExecuteQueuedItems_ClearsQueues(t *testing.T) {
	dao := openTestDAO(t)

	dao.Ops.QueueInsert("workflow_params", `INSERT INTO workflow_params (key, value) VALUES (?, ?)`, "k", "v")
	require.False(t, dao.Ops.Empty())

	require.NoError(t, dao.ExecuteQueuedItems(context.Background()))
	require.True(t, dao.Ops.Empty())
}

func TestDAO_ExecuteQueuedItems_NoOpWhenEmpty(t *testing.T) {
	dao := openTestDAO(t)
	require.NoError(t, dao.ExecuteQueuedItems(context.Background()))
}

func TestDAO_DeleteThenInsertOrdering(t *testing.T) {
	dao := openTestDAO(t)

	dao.Ops.QueueInsert("workflow_params", `INSERT INTO workflow_params (key, value) VALUES (?, ?)`, "k", "old")
	require.NoError(t, dao.ExecuteQueuedItems(context.Background()))

	dao.Ops.QueueDelete("workflow_params", `DELETE FROM workflow_params WHERE key=?`, "k")
	dao.Ops.QueueInsert("workflow_params", `INSERT INTO workflow_params (key, value) VALUES (?, ?)`, "k", "new")
	require.NoError(t, dao.ExecuteQueuedItems(context.Background()))

	var value string
	err := dao.query(context.Background(), `SELECT value FROM workflow_params WHERE key = ?`, func(rows *sql.Rows) error {
		if rows.Next() {
			return rows.Scan(&value)
		}
		return rows.Err()
	}, "k")
	require.NoError(t, err)
	require.Equal(t, "new", value)
}
