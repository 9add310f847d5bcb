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
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite"

	cylcerrors "github.com/cylc/cylc-scheduler/internal/errors"
	"github.com/cylc/cylc-scheduler/internal/log"
)

// queuedStmt is one queued table operation: the statement text, the table
// it targets (for diagnostics), and the list of argument rows to apply it
// with.
type queuedStmt struct {
	table string
	stmt  string
	args  [][]any
}

// QueuedOps mirrors the DAO's DELETE/INSERT/UPDATE queues: each bucket is
// keyed by statement text (stmt -> list of argument rows), matching
// cylc-flow's executemany-per-statement batching contract — two distinct
// statements against the same table stay distinct.
type QueuedOps struct {
	deletes map[string]*queuedStmt
	inserts map[string]*queuedStmt
	updates map[string]*queuedStmt
}

func newQueuedOps() *QueuedOps {
	return &QueuedOps{
		deletes: make(map[string]*queuedStmt),
		inserts: make(map[string]*queuedStmt),
		updates: make(map[string]*queuedStmt),
	}
}

func (q *QueuedOps) add(bucket map[string]*queuedStmt, table, stmt string, args []any) {
	entry, ok := bucket[stmt]
	if !ok {
		entry = &queuedStmt{table: table, stmt: stmt}
		bucket[stmt] = entry
	}
	entry.args = append(entry.args, args)
}

// QueueDelete queues a DELETE statement for table.
func (q *QueuedOps) QueueDelete(table, stmt string, args ...any) {
	q.add(q.deletes, table, stmt, args)
}

// QueueInsert queues an INSERT statement for table.
func (q *QueuedOps) QueueInsert(table, stmt string, args ...any) {
	q.add(q.inserts, table, stmt, args)
}

// QueueUpdate queues an UPDATE statement for table.
func (q *QueuedOps) QueueUpdate(table, stmt string, args ...any) {
	q.add(q.updates, table, stmt, args)
}

// Empty reports whether there is nothing queued.
func (q *QueuedOps) Empty() bool {
	return len(q.deletes) == 0 && len(q.inserts) == 0 && len(q.updates) == 0
}

// clear drops every queued operation.
func (q *QueuedOps) clear() {
	q.deletes = make(map[string]*queuedStmt)
	q.inserts = make(map[string]*queuedStmt)
	q.updates = make(map[string]*queuedStmt)
}

// pretty renders the queued transaction for the fatal-primary-failure log
// line, matching cylc-flow's behaviour of pretty-printing the whole queued
// transaction before re-raising.
func (q *QueuedOps) pretty() string {
	out := ""
	for _, entry := range q.deletes {
		out += fmt.Sprintf("DELETE %s: %d rows\n", entry.table, len(entry.args))
	}
	for _, entry := range q.inserts {
		out += fmt.Sprintf("INSERT %s: %d rows\n", entry.table, len(entry.args))
	}
	for _, entry := range q.updates {
		out += fmt.Sprintf("UPDATE %s: %d rows\n", entry.table, len(entry.args))
	}
	return out
}

// Role distinguishes the primary DAO (sole writer, fatal on failure) from
// the public replica DAO (retried, rebuilt from primary on exhaustion).
type Role int

const (
	// RolePrimary is the single live-writer database, 0600.
	RolePrimary Role = iota
	// RolePublic is the read-only replica, 0644, used by external readers.
	RolePublic
)

// DAO owns one physical SQLite file's schema and batched writes. Per
// spec.md §4.3, the connection is closed after every commit so that a
// removed run directory fails loudly on the next write instead of silently
// continuing.
type DAO struct {
	Path string
	Role Role
	Ops  *QueuedOps

	logger *slog.Logger
}

// Open creates (if needed) and configures path's database: schema applied,
// a busy timeout set (short for the public replica, long for the
// primary), foreign keys on. The connection is closed before Open returns
// — DAO callers reopen per transaction via WithConnection, matching the
// "close after every commit" discipline.
func Open(ctx context.Context, path string, role Role, logger *slog.Logger) (*DAO, error) {
	d := &DAO{Path: path, Role: role, Ops: newQueuedOps(), logger: logger}

	conn, err := d.connect(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	if err := d.migrate(ctx, conn); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *DAO) busyTimeoutMillis() int {
	if d.Role == RolePublic {
		return 200
	}
	return 10000
}

func (d *DAO) connect(ctx context.Context) (*sql.DB, error) {
	conn, err := sql.Open("sqlite", d.Path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database %s: %w", d.Path, err)
	}
	conn.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA foreign_keys=ON",
		fmt.Sprintf("PRAGMA busy_timeout=%d", d.busyTimeoutMillis()),
	}
	for _, p := range pragmas {
		if _, err := conn.ExecContext(ctx, p); err != nil {
			conn.Close()
			return nil, fmt.Errorf("configure %s: %w", p, err)
		}
	}
	return conn, nil
}

func (d *DAO) migrate(ctx context.Context, conn *sql.DB) error {
	for _, stmt := range tableDDL {
		if _, err := conn.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate %s: %w", d.Path, err)
		}
	}
	return nil
}

// ExecuteQueuedItems applies every queued DELETE, then INSERT, then UPDATE
// inside one transaction, commits, clears the queues, and closes the
// connection.
//
// On primary-DAO failure the full queued transaction is pretty-printed
// through the logger and the error returned (fatal — the caller,
// db.Manager, treats this as unrecoverable). On public-DAO failure the
// caller is responsible for incrementing its own retry counter; this
// method only rolls back and returns the error.
func (d *DAO) ExecuteQueuedItems(ctx context.Context) error {
	if d.Ops.Empty() {
		return nil
	}

	conn, err := d.connect(ctx)
	if err != nil {
		return d.fail(err)
	}
	defer conn.Close()

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return d.fail(fmt.Errorf("begin transaction: %w", err))
	}

	if err := d.applyBucket(ctx, tx, d.Ops.deletes); err != nil {
		tx.Rollback()
		return d.fail(err)
	}
	if err := d.applyBucket(ctx, tx, d.Ops.inserts); err != nil {
		tx.Rollback()
		return d.fail(err)
	}
	if err := d.applyBucket(ctx, tx, d.Ops.updates); err != nil {
		tx.Rollback()
		return d.fail(err)
	}

	if err := tx.Commit(); err != nil {
		return d.fail(fmt.Errorf("commit transaction: %w", err))
	}

	d.Ops.clear()
	return nil
}

func (d *DAO) applyBucket(ctx context.Context, tx *sql.Tx, bucket map[string]*queuedStmt) error {
	for _, entry := range bucket {
		prepared, err := tx.PrepareContext(ctx, entry.stmt)
		if err != nil {
			return fmt.Errorf("prepare %s: %w", entry.table, err)
		}
		for _, row := range entry.args {
			if _, err := prepared.ExecContext(ctx, row...); err != nil {
				prepared.Close()
				return fmt.Errorf("exec %s: %w", entry.table, err)
			}
		}
		prepared.Close()
	}
	return nil
}

func (d *DAO) fail(cause error) error {
	if d.Role == RolePrimary {
		if d.logger != nil {
			log.Trace(d.logger, "primary DB commit failed, dumping queued transaction", log.Error(cause), log.String("transaction", d.Ops.pretty()))
		}
		return &cylcerrors.CylcError{Message: "primary database commit failed", Cause: cause}
	}
	return &cylcerrors.TransientDBError{Op: "execute_queued_items", Cause: cause}
}

// query runs a read-only query against a freshly opened connection,
// scanning rows with scan and closing the connection before returning.
func (d *DAO) query(ctx context.Context, sqlText string, scan func(*sql.Rows) error, args ...any) error {
	conn, err := d.connect(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	rows, err := conn.QueryContext(ctx, sqlText, args...)
	if err != nil {
		return fmt.Errorf("query: %w", err)
	}
	defer rows.Close()
	return scan(rows)
}

// Now stubs time.Now for the single call site Manager uses for
// start_time stamping, kept here so tests can override it without reaching
// into the flow package.
var Now = func() time.Time { return time.Now() }
