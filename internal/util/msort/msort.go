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

// Package msort contains utility functions for sorting and
// de-duplicating batches of change records.
package msort

import (
	"github.com/cockroachdb/stream-tables/internal/types"
)

// UniqueByKey implements a "last one wins" approach to removing
// ChangeRecords with duplicate Keys from the input slice. If two
// records share the same Key, the one with the later Marker is
// returned. If two records have identical Keys and Markers, exactly
// one of the values is chosen arbitrarily.
//
// The modified slice is returned.
//
// This function panics if any record's Key is empty, since an empty
// key almost always indicates an upstream coding error rather than a
// legitimate identity.
func UniqueByKey(x []types.ChangeRecord) []types.ChangeRecord {
	seenIdx := make(map[string]int, len(x))

	dest := len(x)
	for src := len(x) - 1; src >= 0; src-- {
		if len(x[src].Key) == 0 {
			panic("empty change record key")
		}
		key := string(x[src].Key)

		if curIdx, found := seenIdx[key]; found {
			if x[src].Marker.Compare(x[curIdx].Marker) > 0 {
				x[curIdx] = x[src]
			}
		} else {
			dest--
			seenIdx[key] = dest
			x[dest] = x[src]
		}
	}

	return x[dest:]
}
