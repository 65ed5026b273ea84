// Copyright 2023 The Cockroach Authors
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
//
// SPDX-License-Identifier: Apache-2.0

// Package types contains the data types and interfaces that define the
// major functional blocks of the stream-tables core: change records,
// delta rows, and the connection-pool and querier abstractions shared
// across the CDC pipeline, the DVM engine, and the refresh executor.
package types

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/cockroachdb/stream-tables/internal/util/frontier"
	"github.com/cockroachdb/stream-tables/internal/util/ident"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Action is a single change-buffer record's or delta row's kind.
type Action byte

const (
	// ActionInsert ("I") represents a row coming into existence.
	ActionInsert Action = 'I'
	// ActionUpdate ("U") represents a change-buffer record only; it is
	// always expanded into a Delete of the old image followed by an
	// Insert of the new image before reaching a differentiator
	// (spec.md §4.1, Scan).
	ActionUpdate Action = 'U'
	// ActionDelete ("D") represents a row ceasing to exist.
	ActionDelete Action = 'D'
)

func (a Action) String() string { return string(a) }

// A ChangeRecord is a single row-level change captured from a source
// relation into its change buffer (spec.md §3, Change Buffer).
type ChangeRecord struct {
	ID         int64 // monotonically increasing change id
	Source     ident.Table
	Key        json.RawMessage // encoded primary-key tuple, the change buffer's dedup/row-key-hash column
	Marker     frontier.Marker
	TxID       uint64
	Action     Action
	New        json.RawMessage // row image after the change; nil for D
	Old        json.RawMessage // row image before the change; nil for I
	CapturedAt time.Time
	Origin     string // replication origin tag; non-empty means "skip, this is our own write"
}

var nullBytes = []byte("null")

// IsNewNull reports whether the New image is absent or JSON null,
// which is how a deletion is represented.
func (c ChangeRecord) IsNewNull() bool {
	return len(c.New) == 0 || bytes.Equal(c.New, nullBytes)
}

// A DeltaRow is one row of a delta program's output: the net change to
// a storage table expressed as an insert or delete of a fully
// materialized row (spec.md §4.1). Updates are never represented
// directly; they appear as a Delete followed by an Insert sharing the
// same RowID only when an aggregate's maintained value legitimately
// changes in place.
type DeltaRow struct {
	RowID   int64
	Action  Action
	Columns json.RawMessage // a JSON object of user + auxiliary column values
}

// ChangeBuffer durably persists ChangeRecords for one source and
// answers interval scans over them. It corresponds to spec.md's Change
// Buffer and is directly grounded on the teacher's types.Stager
// interface.
type ChangeBuffer interface {
	// Store appends records, idempotently: storing the same record
	// (by ID) twice must not duplicate it.
	Store(ctx context.Context, tx StagingQuerier, records []ChangeRecord) error

	// Select returns every record in the half-open interval
	// (prev, next] ordered by Marker, per spec.md §3's Frontier
	// definition.
	Select(ctx context.Context, tx StagingQuerier, prev, next frontier.Marker) ([]ChangeRecord, error)

	// SelectPartial is used for backfilling large intervals: it
	// returns up to limit records after afterKey, allowing a caller to
	// page through an interval too large to materialize at once.
	SelectPartial(
		ctx context.Context, tx StagingQuerier, prev, next frontier.Marker, afterKey []byte, limit int,
	) ([]ChangeRecord, error)

	// Retire deletes buffered records with Marker <= end. Per spec.md
	// Invariant 5, callers must compute end as the minimum frontier
	// across all consuming stream tables, never a single consumer's
	// frontier.
	Retire(ctx context.Context, tx StagingQuerier, end frontier.Marker) error

	// TransactionTimes returns the distinct transaction markers in the
	// range (after, before] for which buffered data exists.
	TransactionTimes(ctx context.Context, tx StagingQuerier, before, after frontier.Marker) ([]frontier.Marker, error)
}

// ChangeBuffers is a factory for ChangeBuffer instances, one per
// tracked source.
type ChangeBuffers interface {
	Get(ctx context.Context, source ident.Table) (ChangeBuffer, error)
}

// StagingQuerier is implemented by pgxpool.Pool, pgxpool.Conn,
// pgxpool.Tx, pgx.Conn, and pgx.Tx, matching the teacher's
// types.StagingQuerier exactly: it lets catalog and change-buffer code
// accept either a pool or an open transaction without overloading
// every method.
type StagingQuerier interface {
	Exec(ctx context.Context, sql string, arguments ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, optionsAndArgs ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, optionsAndArgs ...interface{}) pgx.Row
}

var (
	_ StagingQuerier = (*pgxpool.Conn)(nil)
	_ StagingQuerier = (*pgxpool.Pool)(nil)
	_ StagingQuerier = (pgx.Tx)(nil)
)

// TargetQuerier is implemented by *sql.DB and *sql.Tx. The explicit-DML
// apply path (spec.md §4.3) runs over database/sql rather than pgx so
// that storage-table writes can share code with targets reached only
// via database/sql drivers.
type TargetQuerier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

var (
	_ TargetQuerier = (*sql.DB)(nil)
	_ TargetQuerier = (*sql.Tx)(nil)
)

// TargetTx additionally supports commit/rollback.
type TargetTx interface {
	TargetQuerier
	Commit() error
	Rollback() error
}

var _ TargetTx = (*sql.Tx)(nil)

// PoolInfo describes a database connection pool and what it is
// connected to.
type PoolInfo struct {
	ConnectionString string
	Version          string
}

// Info returns the PoolInfo when embedded, satisfying AnyPool.
func (i *PoolInfo) Info() *PoolInfo { return i }

// AnyPool is a generic constraint over every pool type this repository
// opens, used by stdpool's option-attachment helpers.
type AnyPool interface {
	*CatalogPool | *SourcePool | *StoragePool
	Info() *PoolInfo
}

// CatalogPool is the connection to the host database holding the
// stream-table catalog, dependency graph, frontiers, and refresh
// history (spec.md §6 Persisted state).
type CatalogPool struct {
	*pgxpool.Pool
	PoolInfo
	_ noCopy
}

// SourcePool is a connection to a database hosting a source relation
// that the CDC pipeline captures changes from.
type SourcePool struct {
	*pgxpool.Pool
	PoolInfo
	_ noCopy
}

// StoragePool is a connection to the database hosting stream tables'
// storage tables, reached via database/sql so the explicit-DML apply
// path can run against any database/sql-fronted target.
type StoragePool struct {
	*sql.DB
	PoolInfo
	_ noCopy
}

var (
	_ AnyPool = (*CatalogPool)(nil)
	_ AnyPool = (*SourcePool)(nil)
	_ AnyPool = (*StoragePool)(nil)
)

type noCopy struct{}

func (*noCopy) Lock()   {}
func (*noCopy) Unlock() {}
