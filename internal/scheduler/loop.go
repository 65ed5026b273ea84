package scheduler

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cockroachdb/stream-tables/internal/catalog"
	"github.com/cockroachdb/stream-tables/internal/util/notify"
	"github.com/cockroachdb/stream-tables/internal/util/stopper"
	log "github.com/sirupsen/logrus"
)

// RefreshFunc invokes the refresh executor for one due stream table.
// The scheduler is deliberately decoupled from internal/executor's
// delta-building machinery (operator tree, per-source deltas): it only
// decides *which* stream tables are due and in *what order*, the same
// separation the teacher draws between its dispatch loop and its sink
// apply logic.
type RefreshFunc func(ctx context.Context, st catalog.StreamTable) error

// Scheduler drives the control loop described in spec.md §4.4.
type Scheduler struct {
	Catalog      *catalog.Catalog
	Pool         Pool
	Floor        time.Duration // cadence floor for DOWNSTREAM stream tables with no consumers
	WakeInterval time.Duration
	Refresh      RefreshFunc

	// DAGVersion is the DAG-change counter: the control loop rebuilds
	// the graph only when its value differs from the one seen at the
	// last rebuild, or after SIGHUP (spec.md §4.4, Signaling). Nothing in
	// this repository bumps it; the catalog's mutating calls leave it as is.
	DAGVersion *notify.Var[uint64]

	graph       *Graph
	lastVersion uint64
}

// Run executes the control loop until ctx's Stopping channel closes or
// ctx is canceled, handling SIGHUP (reload) and SIGTERM (graceful
// exit) along the way (spec.md §4.4, Control loop step 5).
func (s *Scheduler) Run(ctx *stopper.Context) error {
	sighup := make(chan os.Signal, 1)
	signal.Notify(sighup, syscall.SIGHUP)
	defer signal.Stop(sighup)

	ticker := time.NewTicker(s.wakeInterval())
	defer ticker.Stop()

	if err := s.wake(ctx); err != nil {
		log.WithError(err).Error("scheduler wake cycle failed")
	}

	for {
		select {
		case <-ctx.Stopping():
			return nil
		case <-ctx.Done():
			return ctx.Err()
		case <-sighup:
			log.Info("scheduler received SIGHUP, forcing graph rebuild")
			s.lastVersion = ^s.lastVersion // guarantee the next wake sees a changed version
		case <-ticker.C:
			if err := s.wake(ctx); err != nil {
				log.WithError(err).Error("scheduler wake cycle failed")
			}
		}
	}
}

func (s *Scheduler) wakeInterval() time.Duration {
	if s.WakeInterval <= 0 {
		return baseCadencePeriod
	}
	return s.WakeInterval
}

// wake runs one iteration of spec.md §4.4's numbered Control loop.
func (s *Scheduler) wake(ctx context.Context) error {
	version, _ := s.DAGVersion.Get()
	if s.graph == nil || version != s.lastVersion {
		g, err := Build(ctx, s.Catalog)
		if err != nil {
			return err
		}
		if err := ResolveDownstream(g, s.Floor); err != nil {
			return err
		}
		s.graph = g
		s.lastVersion = version
	}

	due, err := s.dueStreamTables(ctx)
	if err != nil {
		return err
	}

	for _, layer := range s.graph.Layers() {
		var tasks []func(context.Context) error
		for _, node := range layer {
			if !due[node.Name] {
				continue
			}
			st := node.StreamTable
			tasks = append(tasks, func(taskCtx context.Context) error {
				return s.Refresh(taskCtx, st)
			})
		}
		if len(tasks) == 0 {
			continue
		}
		if err := s.Pool.Run(ctx, tasks); err != nil {
			log.WithError(err).Warn("one or more refreshes in this layer failed")
		}
	}
	return nil
}

// dueStreamTables returns, for every ACTIVE stream table in the current
// graph, whether its last successful refresh is older than its
// effective cadence (spec.md §4.4, Control loop step 2).
func (s *Scheduler) dueStreamTables(ctx context.Context) (map[string]bool, error) {
	due := make(map[string]bool)
	now := time.Now()
	for name, node := range s.graph.Nodes() {
		if !node.IsStreamTable {
			continue
		}
		status, _, err := s.Catalog.StatusOf(ctx, node.StreamTable.ID)
		if err != nil {
			return nil, err
		}
		if status != catalog.StatusActive {
			continue
		}

		if IsCron(node.TargetCadence) {
			sched, _, err := ParseFixedCadence(node.TargetCadence)
			if err != nil {
				return nil, err
			}
			last, err := s.Catalog.LastRefreshTimestamp(ctx, node.StreamTable.ID)
			if err != nil {
				return nil, err
			}
			due[name] = last.IsZero() || !sched.Next(last).After(now)
			continue
		}
		period, err := time.ParseDuration(node.EffectiveCadence)
		if err != nil {
			continue
		}
		last, err := s.Catalog.LastRefreshTimestamp(ctx, node.StreamTable.ID)
		if err != nil {
			return nil, err
		}
		if last.IsZero() || now.Sub(last) >= period {
			due[name] = true
		}
	}
	return due, nil
}
