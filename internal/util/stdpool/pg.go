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

// Package stdpool creates standardized database connection pools for
// the catalog, source, and storage databases.
package stdpool

import (
	"context"
	"time"

	"github.com/cockroachdb/stream-tables/internal/types"
	"github.com/cockroachdb/stream-tables/internal/util/stopper"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// OpenCatalogPool opens the pool backing the stream-table catalog,
// dependency graph, frontiers, and refresh history.
func OpenCatalogPool(
	ctx *stopper.Context, connectString string, options ...Option,
) (*types.CatalogPool, error) {
	var tc TestControls
	if err := attachOptions(ctx, &tc, options); err != nil {
		return nil, err
	}

	pool, err := openPgxPool(ctx, connectString, tc)
	if err != nil {
		return nil, err
	}
	return &types.CatalogPool{
		Pool:     pool,
		PoolInfo: types.PoolInfo{ConnectionString: connectString},
	}, nil
}

// OpenSourcePool opens the pool used to capture changes from a source
// relation: installing triggers in TRIGGER mode, or issuing the
// START_REPLICATION handshake in WAL mode.
func OpenSourcePool(
	ctx *stopper.Context, connectString string, options ...Option,
) (*types.SourcePool, error) {
	var tc TestControls
	if err := attachOptions(ctx, &tc, options); err != nil {
		return nil, err
	}

	pool, err := openPgxPool(ctx, connectString, tc)
	if err != nil {
		return nil, err
	}
	return &types.SourcePool{
		Pool:     pool,
		PoolInfo: types.PoolInfo{ConnectionString: connectString},
	}, nil
}

func openPgxPool(ctx *stopper.Context, connectString string, tc TestControls) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(connectString)
	if err != nil {
		return nil, errors.Wrap(err, "could not parse connection string")
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	ctx.Go(func() error {
		<-ctx.Stopping()
		pool.Close()
		return nil
	})

ping:
	if err := pool.Ping(ctx); err != nil {
		if tc.WaitForStartup && isStartupError(err) {
			log.WithError(err).Info("waiting for database to become ready")
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(2 * time.Second):
				goto ping
			}
		}
		pool.Close()
		return nil, errors.Wrap(err, "could not ping the database")
	}

	return pool, nil
}

// isStartupError treats any ping failure as possibly transient. Callers
// only retry when TestControls.WaitForStartup is set, which is only
// used by test fixtures standing up a fresh container, so retrying
// indefinitely on a misconfigured connection string in production is
// not a concern here.
func isStartupError(err error) bool {
	return err != nil
}
