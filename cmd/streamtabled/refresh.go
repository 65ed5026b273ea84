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

package main

import (
	"context"

	"github.com/cockroachdb/stream-tables/internal/catalog"
	"github.com/cockroachdb/stream-tables/internal/dvm"
	"github.com/cockroachdb/stream-tables/internal/executor"
	"github.com/cockroachdb/stream-tables/internal/operator"
	"github.com/cockroachdb/stream-tables/internal/sqlast"
	"github.com/cockroachdb/stream-tables/internal/types"
	"github.com/cockroachdb/stream-tables/internal/util/frontier"
	"github.com/pkg/errors"
)

// maxMarker bounds an open-ended buffer Select scan, the same
// sentinel internal/catalog.MinFrontier uses for "no upper bound".
var maxMarker = frontier.Marker{Pos: ^uint64(0), Logical: ^uint32(0)}

// queryDecoder turns a stream table's stored defining-query text into
// the pre-parsed sqlast.Query the operator builder consumes. spec.md's
// Parser leaf (SPEC_FULL.md §F.3.1) assumes Postgres's own SQL parser
// supplies this AST; this repository has no Go SQL parser of its own
// (DESIGN.md's "documented simplification" for operator.Builder), so
// production wiring is expected to populate this from a catalog-side
// function that shells out to the server's parser, not from Go code.
type queryDecoder func(ctx context.Context, sql string) (*sqlast.Query, error)

// refreshAdapter bridges the scheduler's coarse-grained RefreshFunc to
// the executor's Refresh, building the operator tree and per-source
// deltas a RefreshRequest needs. One adapter is shared across every
// stream table, the same way Executor is.
type refreshAdapter struct {
	Catalog     *catalog.Catalog
	Builder     *operator.Builder
	Buffers     types.ChangeBuffers
	Executor    *executor.Executor
	StoragePool *types.StoragePool
	DecodeQuery queryDecoder
}

// Refresh implements scheduler.RefreshFunc.
func (a *refreshAdapter) Refresh(ctx context.Context, st catalog.StreamTable) error {
	query, err := a.DecodeQuery(ctx, st.DefiningQuery)
	if err != nil {
		return errors.Wrapf(err, "decoding defining query for %s", st.ID)
	}
	op, err := a.Builder.Build(ctx, query)
	if err != nil {
		return errors.Wrapf(err, "building operator tree for %s", st.ID)
	}

	sources, err := a.Catalog.Dependencies(ctx, st.ID)
	if err != nil {
		return err
	}
	reinit, err := a.Catalog.ReinitFlagged(ctx, st.ID)
	if err != nil {
		return err
	}

	storageTx, err := a.StoragePool.Begin()
	if err != nil {
		return errors.WithStack(err)
	}
	defer storageTx.Rollback()

	deltas := make(map[string]dvm.SourceDelta, len(sources))
	markers := make(map[string]frontier.Marker, len(sources))
	hasChanges := false
	changedRows := 0

	for _, src := range sources {
		f0, err := a.Catalog.Frontier(ctx, st.ID, src)
		if err != nil {
			return err
		}
		buf, err := a.Buffers.Get(ctx, src)
		if err != nil {
			return err
		}

		// f1 is the highest marker buffered since f0; a source with no
		// new records contributes nothing to this refresh's action
		// inputs and its frontier does not advance.
		records, err := buf.Select(ctx, a.stagingQuerier(), f0, maxMarker)
		if err != nil {
			return err
		}
		f1 := f0
		for _, r := range records {
			if f1.Less(r.Marker) {
				f1 = r.Marker
			}
		}
		markers[src.Raw()] = f1
		if f0.Less(f1) {
			hasChanges = true
			changedRows += len(records)
		}

		deltas[src.Raw()] = dvm.SourceDelta{CTEName: "delta_" + src.StableName()}
	}

	changeRatio := 0.0
	if storageRows, err := a.storageRowCount(ctx, st); err == nil && storageRows > 0 {
		changeRatio = float64(changedRows) / float64(storageRows)
	} else if changedRows > 0 {
		changeRatio = 1 // empty or unreadable storage table: any change is a full rewrite
	}

	action := executor.SelectAction(executor.Inputs{
		Mode:           st.RefreshMode,
		HasChanges:     hasChanges,
		ReinitFlagged:  reinit,
		ChangeRatio:    changeRatio,
		AdaptiveThresh: a.Executor.AdaptiveThreshold,
	})

	result, err := a.Executor.Refresh(ctx, storageTx, executor.RefreshRequest{
		StreamTable:   st,
		Action:        action,
		Op:            op,
		Deltas:        deltas,
		SourceMarkers: markers,
		Sources:       sources,
	})
	if err != nil {
		return err
	}
	if result.Outcome == executor.OutcomeSkipped {
		return nil
	}
	return errors.WithStack(storageTx.Commit())
}

// stagingQuerier exposes the catalog pool for the buffer reads this
// adapter performs outside of any catalog-mutating transaction; those
// reads use the same pgx pool the Catalog itself wraps.
func (a *refreshAdapter) stagingQuerier() types.StagingQuerier {
	return a.Catalog.Pool()
}

// storageRowCount estimates a stream table's current storage
// cardinality, the denominator SelectAction's change-ratio check needs
// to decide FULL vs. DIFFERENTIAL (spec.md §4.3). A plain COUNT(*) is
// acceptable here since it only runs once per due refresh, never per
// row.
func (a *refreshAdapter) storageRowCount(ctx context.Context, st catalog.StreamTable) (int64, error) {
	var n int64
	err := a.StoragePool.QueryRowContext(ctx, "SELECT count(*) FROM "+st.Storage.String()).Scan(&n)
	return n, errors.WithStack(err)
}
