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

//go:build wireinject
// +build wireinject

package main

import (
	"github.com/cockroachdb/stream-tables/internal/config"
	"github.com/cockroachdb/stream-tables/internal/util/stopper"
	"github.com/google/wire"
)

// newApp is the injector wire_gen.go was generated from; it is never
// compiled (the wireinject build tag excludes it from ordinary
// builds), kept only so `go generate` can reproduce wire_gen.go after
// a provider signature changes, matching the teacher's checked-in
// wire_gen.go convention.
func newApp(ctx *stopper.Context, cfg *config.Config) (*App, error) {
	panic(wire.Build(
		ProvideCatalogPool,
		ProvideSourcePool,
		ProvideStoragePool,
		ProvideCatalog,
		ProvideSchemaLookup,
		ProvideOperatorBuilder,
		ProvideBufferFactory,
		ProvideAlerts,
		ProvideExecutor,
		ProvideRefreshAdapter,
		ProvideScheduler,
		ProvideDDLWatcher,
		wire.FieldsOf(new(*config.Config), "Catalog", "Source", "Storage", "Scheduler", "Executor"),
		wire.Struct(new(App), "*"),
	))
}
