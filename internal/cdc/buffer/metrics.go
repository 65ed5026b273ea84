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

package buffer

import (
	"github.com/cockroachdb/stream-tables/internal/util/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	bufferRetireDurations = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "cdc_buffer_retire_duration_seconds",
		Help:    "the length of time it took to successfully retire applied change records",
		Buckets: metrics.LatencyBuckets,
	}, metrics.TableLabels)
	bufferRetireErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cdc_buffer_retire_errors_total",
		Help: "the number of times an error was encountered while retiring change records",
	}, metrics.TableLabels)

	bufferSelectCount = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cdc_buffer_select_records_total",
		Help: "the number of change records read for this source",
	}, metrics.TableLabels)
	bufferSelectDurations = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "cdc_buffer_select_duration_seconds",
		Help:    "the length of time it took to successfully select change records",
		Buckets: metrics.LatencyBuckets,
	}, metrics.TableLabels)
	bufferSelectErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cdc_buffer_select_errors_total",
		Help: "the number of times an error was encountered while selecting change records",
	}, metrics.TableLabels)

	bufferStoreCount = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cdc_buffer_store_records_total",
		Help: "the number of change records stored for this source",
	}, metrics.TableLabels)
	bufferStoreDurations = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "cdc_buffer_store_duration_seconds",
		Help:    "the length of time it took to successfully store change records",
		Buckets: metrics.LatencyBuckets,
	}, metrics.TableLabels)
	bufferStoreErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cdc_buffer_store_errors_total",
		Help: "the number of times an error was encountered while storing change records",
	}, metrics.TableLabels)
)
