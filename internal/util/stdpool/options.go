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

package stdpool

import (
	"context"
)

// TestControls adjusts pool-opening behavior for tests: waiting for a
// just-started container's database to come up, rather than failing
// on the first connection attempt.
type TestControls struct {
	WaitForStartup bool
}

// An Option configures a pool as it is opened. Each concrete Option
// implementation type-switches on the value it's attached to, allowing
// the same option list to apply to TestControls and to any AnyPool.
type Option interface {
	apply(ctx context.Context, target any) error
}

type optionFunc func(ctx context.Context, target any) error

func (f optionFunc) apply(ctx context.Context, target any) error { return f(ctx, target) }

// WithTestControls marks the pool as test-controlled, enabling
// retry-until-ready semantics.
func WithTestControls(tc TestControls) Option {
	return optionFunc(func(_ context.Context, target any) error {
		if dst, ok := target.(*TestControls); ok {
			*dst = tc
		}
		return nil
	})
}

func attachOptions(ctx context.Context, target any, options []Option) error {
	for _, opt := range options {
		if err := opt.apply(ctx, target); err != nil {
			return err
		}
	}
	return nil
}
