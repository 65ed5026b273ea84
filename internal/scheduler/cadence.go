package scheduler

import (
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/robfig/cron/v3"
)

// downstreamCadence is the sentinel cadence string meaning "inherit the
// minimum effective cadence across my consumers" (spec.md §4.4,
// DOWNSTREAM cadence resolution).
const downstreamCadence = "DOWNSTREAM"

// baseCadencePeriod is the smallest canonical period, the 48 in the
// `48 * 2^n` geometric sequence (spec.md §4.4, Canonical cadence
// periods).
const baseCadencePeriod = 48 * time.Second

// cronParser accepts the standard five-field crontab syntax, matching
// the teacher's own use of robfig/cron for scheduled sink flushes.
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// SnapCadence rounds d up to the nearest period in the geometric
// sequence 48·2ⁿ seconds, so that period boundaries across stream
// tables with different cadences always nest (spec.md §4.4: "a 96s
// period boundary is also a 192s period boundary").
func SnapCadence(d time.Duration) time.Duration {
	if d <= baseCadencePeriod {
		return baseCadencePeriod
	}
	period := baseCadencePeriod
	for period < d {
		period *= 2
	}
	return period
}

// IsCron reports whether cadence is a cron expression rather than a
// plain duration or the DOWNSTREAM sentinel.
func IsCron(cadence string) bool {
	return strings.ContainsAny(cadence, "* /")
}

// ParseFixedCadence interprets cadence as either a cron expression
// (returned unsnapped, per spec.md: "Cron cadences fire at their
// specified instants and need no snapping") or a plain duration,
// snapped to the canonical sequence. DOWNSTREAM cadences are resolved
// separately by ResolveDownstream and must not reach this function.
func ParseFixedCadence(cadence string) (cron.Schedule, time.Duration, error) {
	if cadence == downstreamCadence {
		return nil, 0, errors.Errorf("scheduler: %q must be resolved via ResolveDownstream", cadence)
	}
	if IsCron(cadence) {
		sched, err := cronParser.Parse(cadence)
		if err != nil {
			return nil, 0, errors.Wrapf(err, "parsing cron cadence %q", cadence)
		}
		return sched, 0, nil
	}
	d, err := parseDuration(cadence)
	if err != nil {
		return nil, 0, errors.Wrapf(err, "parsing cadence %q", cadence)
	}
	return nil, SnapCadence(d), nil
}

// parseDuration accepts either a Go duration literal ("96s") or a bare
// integer count of seconds, the two forms the catalog's cadence column
// is expected to hold.
func parseDuration(cadence string) (time.Duration, error) {
	if d, err := time.ParseDuration(cadence); err == nil {
		return d, nil
	}
	if secs, err := strconv.Atoi(cadence); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	return 0, errors.Errorf("not a duration or integer-seconds literal: %q", cadence)
}

// ResolveDownstream iterates every node's effective cadence to a
// fixpoint: a DOWNSTREAM node inherits the minimum effective cadence
// across its consumers, repeated until no node's value changes. Nodes
// with no consumers fall back to floor (spec.md §4.4, DOWNSTREAM
// cadence resolution).
func ResolveDownstream(g *Graph, floor time.Duration) error {
	effective := make(map[string]time.Duration, len(g.nodes))

	for name, n := range g.nodes {
		if !n.IsStreamTable || n.TargetCadence == downstreamCadence {
			continue
		}
		_, d, err := ParseFixedCadence(n.TargetCadence)
		if err != nil {
			return err
		}
		effective[name] = d
	}

	const maxIterations = 64 // a DAG deeper than this indicates a modeling bug, not a slow convergence
	for iter := 0; iter < maxIterations; iter++ {
		changed := false
		for name, n := range g.nodes {
			if !n.IsStreamTable || n.TargetCadence != downstreamCadence {
				continue
			}
			min := time.Duration(0)
			found := false
			for _, consumer := range g.Consumers(name) {
				d, ok := effective[consumer.Name]
				if !ok {
					continue
				}
				if !found || d < min {
					min, found = d, true
				}
			}
			if !found {
				min = floor
			}
			if effective[name] != min {
				effective[name] = min
				changed = true
			}
		}
		if !changed {
			break
		}
	}

	for name, d := range effective {
		g.nodes[name].EffectiveCadence = d.String()
	}
	return nil
}
