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

// Command streamtabled runs the stream-tables refresh scheduler: it
// bootstraps the catalog, sweeps incomplete refreshes left over from a
// prior crash, and drives the scheduler's control loop and DDL watcher
// until asked to stop (spec.md §4.3 crash recovery, §4.4 control loop).
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/cockroachdb/stream-tables/internal/config"
	"github.com/cockroachdb/stream-tables/internal/util/stopper"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
)

func main() {
	if err := run(); err != nil {
		log.WithError(err).Fatal("streamtabled exited with an error")
	}
}

func run() error {
	cfg := &config.Config{}
	flags := pflag.NewFlagSet("streamtabled", pflag.ExitOnError)
	cfg.Bind(flags)
	if err := flags.Parse(os.Args[1:]); err != nil {
		return errors.WithStack(err)
	}
	if err := cfg.Preflight(); err != nil {
		return errors.Wrap(err, "invalid configuration")
	}

	sigCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx := stopper.WithContext(sigCtx)

	app, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}

	recovered, err := app.Catalog.SweepIncompleteRefreshes(ctx)
	if err != nil {
		return errors.Wrap(err, "sweeping incomplete refreshes")
	}
	if recovered > 0 {
		log.WithField("count", recovered).Warn("marked incomplete refreshes FAILED after restart")
	}

	ctx.Go(func() error {
		if err := app.DDLWatcher.Run(ctx); err != nil {
			log.WithError(err).Error("DDL watcher stopped")
			return err
		}
		return nil
	})

	ctx.Go(func() error {
		return app.Scheduler.Run(ctx)
	})

	return ctx.Wait()
}
