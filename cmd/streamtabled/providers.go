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

	"github.com/cockroachdb/stream-tables/internal/alerts"
	"github.com/cockroachdb/stream-tables/internal/catalog"
	"github.com/cockroachdb/stream-tables/internal/cdc/buffer"
	"github.com/cockroachdb/stream-tables/internal/config"
	"github.com/cockroachdb/stream-tables/internal/ddlwatch"
	"github.com/cockroachdb/stream-tables/internal/executor"
	"github.com/cockroachdb/stream-tables/internal/operator"
	"github.com/cockroachdb/stream-tables/internal/scheduler"
	"github.com/cockroachdb/stream-tables/internal/sqlast"
	"github.com/cockroachdb/stream-tables/internal/types"
	"github.com/cockroachdb/stream-tables/internal/util/ident"
	"github.com/cockroachdb/stream-tables/internal/util/notify"
	"github.com/cockroachdb/stream-tables/internal/util/stdpool"
	"github.com/cockroachdb/stream-tables/internal/util/stopper"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

// ProvideCatalogPool opens the catalog database connection.
func ProvideCatalogPool(ctx *stopper.Context, cfg config.CatalogConfig) (*types.CatalogPool, error) {
	return stdpool.OpenCatalogPool(ctx, cfg.ConnectString)
}

// ProvideSourcePool opens the CDC source database connection.
func ProvideSourcePool(ctx *stopper.Context, cfg config.SourceConfig) (*types.SourcePool, error) {
	return stdpool.OpenSourcePool(ctx, cfg.ConnectString)
}

// ProvideStoragePool opens the storage database connection.
func ProvideStoragePool(ctx *stopper.Context, cfg config.StorageConfig) (*types.StoragePool, error) {
	return stdpool.OpenStoragePool(ctx, cfg.DriverName, cfg.ConnectString)
}

// ProvideCatalog constructs the Catalog and bootstraps its schema.
func ProvideCatalog(ctx context.Context, pool *types.CatalogPool, cfg config.CatalogConfig) (*catalog.Catalog, error) {
	cat := catalog.New(pool, cfg.Schema)
	if err := cat.Bootstrap(ctx); err != nil {
		return nil, err
	}
	return cat, nil
}

// ProvideSchemaLookup resolves source relation schemas against the
// source pool, for the operator builder.
func ProvideSchemaLookup(pool *types.SourcePool) operator.SchemaLookup {
	return catalog.NewSourceSchema(pool)
}

// ProvideOperatorBuilder constructs the operator builder used to turn
// every stream table's defining query into an operator tree.
func ProvideOperatorBuilder(lookup operator.SchemaLookup) *operator.Builder {
	return &operator.Builder{Schema: lookup, DefaultSchema: ident.NewSchema(ident.New(""), ident.New("public"))}
}

// ProvideBufferFactory constructs the change-buffer factory, rooted at
// the same schema as the catalog.
func ProvideBufferFactory(pool *types.CatalogPool, cfg config.CatalogConfig) types.ChangeBuffers {
	return &buffer.Factory{
		Schema: ident.NewSchema(ident.New(""), ident.New(cfg.Schema)),
		Pool:   pool,
	}
}

// ProvideAlerts constructs the NOTIFY-based alert publisher.
func ProvideAlerts(pool *types.CatalogPool) alerts.Publisher {
	return &alerts.Notifier{Pool: pool}
}

// ProvideExecutor constructs the refresh executor.
func ProvideExecutor(cat *catalog.Catalog, pub alerts.Publisher, cfg config.ExecutorConfig) *executor.Executor {
	return &executor.Executor{
		Catalog:           cat,
		Alerts:            pub,
		ErrorThreshold:    cfg.ErrorThreshold,
		AdaptiveThreshold: cfg.AdaptiveThreshold,
		Policy:            config.ResolveTriggerPolicy(cfg.TriggerPolicy),
	}
}

// noopQueryDecoder is the default queryDecoder until a catalog-side SQL
// parser function is wired in (see refresh.go's queryDecoder doc).
func noopQueryDecoder(_ context.Context, sql string) (*sqlast.Query, error) {
	return nil, errors.Errorf("no defining-query parser configured; cannot decode %q", sql)
}

// ProvideRefreshAdapter wires the scheduler's dispatch surface to the
// refresh executor.
func ProvideRefreshAdapter(
	cat *catalog.Catalog,
	builder *operator.Builder,
	buffers types.ChangeBuffers,
	exec *executor.Executor,
	storage *types.StoragePool,
) *refreshAdapter {
	return &refreshAdapter{
		Catalog:     cat,
		Builder:     builder,
		Buffers:     buffers,
		Executor:    exec,
		StoragePool: storage,
		DecodeQuery: noopQueryDecoder,
	}
}

// ProvideScheduler constructs the scheduler control loop.
func ProvideScheduler(cat *catalog.Catalog, adapter *refreshAdapter, cfg config.SchedulerConfig) *scheduler.Scheduler {
	return &scheduler.Scheduler{
		Catalog:      cat,
		Pool:         scheduler.Pool{Size: cfg.Parallelism},
		Floor:        cfg.Floor,
		WakeInterval: cfg.WakeInterval,
		Refresh:      adapter.Refresh,
		DAGVersion:   notify.New(uint64(0)),
	}
}

// pgxSubscription adapts an acquired pgxpool.Conn, already subscribed
// via LISTEN, to ddlwatch.Subscription.
type pgxSubscription struct {
	conn *pgx.Conn
	rel  interface{ Release() }
}

func (s *pgxSubscription) WaitForNotification(ctx context.Context) (*pgx.Notification, error) {
	return s.conn.WaitForNotification(ctx)
}

func (s *pgxSubscription) Release() { s.rel.Release() }

// ProvideDDLWatcher constructs the DDL watcher, dedicating one pooled
// connection to LISTEN stream_tables_ddl for the lifetime of the
// subscription (LISTEN is session-scoped, so it cannot share a pooled
// connection with ordinary queries).
func ProvideDDLWatcher(cat *catalog.Catalog, pool *types.CatalogPool) *ddlwatch.Watcher {
	return &ddlwatch.Watcher{
		Catalog: cat,
		Listen: func(ctx context.Context) (ddlwatch.Subscription, error) {
			conn, err := pool.Acquire(ctx)
			if err != nil {
				return nil, errors.Wrap(err, "acquiring DDL listener connection")
			}
			if _, err := conn.Exec(ctx, "LISTEN "+ddlwatch.Channel); err != nil {
				conn.Release()
				return nil, errors.Wrap(err, "issuing LISTEN")
			}
			return &pgxSubscription{conn: conn.Conn(), rel: conn}, nil
		},
	}
}
