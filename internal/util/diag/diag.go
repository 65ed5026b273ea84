// Package diag implements a small self-diagnostics registry, grounded
// on the teacher's internal/util/diag.Diagnostics (referenced from
// internal/source/logical/provider.go's ProvideFactory signature). Each
// major component (CDC pipeline, scheduler, executor) registers a
// named report function; an operator-facing status endpoint or CLI
// command can then render every component's current state without
// each component needing to know about the others.
package diag

import (
	"context"
	"sort"
	"sync"

	"github.com/pkg/errors"
)

// A ReportFunc produces a JSON-marshalable snapshot of a component's
// current state.
type ReportFunc func(ctx context.Context) (any, error)

// Diagnostics collects named ReportFuncs from every component wired
// into the binary.
type Diagnostics struct {
	mu        sync.Mutex
	reporters map[string]ReportFunc
}

// New constructs an empty registry.
func New() *Diagnostics {
	return &Diagnostics{reporters: make(map[string]ReportFunc)}
}

// Register adds a named reporter. It is an error to register the same
// name twice, since that almost always indicates two components
// accidentally sharing a diagnostic key.
func (d *Diagnostics) Register(name string, fn ReportFunc) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, exists := d.reporters[name]; exists {
		return errors.Errorf("diagnostic %q already registered", name)
	}
	d.reporters[name] = fn
	return nil
}

// Report runs every registered reporter and returns a name-to-snapshot
// map. A reporter's error is recorded under its name rather than
// aborting the whole report, so one broken component doesn't blind the
// operator to the rest.
func (d *Diagnostics) Report(ctx context.Context) map[string]any {
	d.mu.Lock()
	names := make([]string, 0, len(d.reporters))
	fns := make(map[string]ReportFunc, len(d.reporters))
	for name, fn := range d.reporters {
		names = append(names, name)
		fns[name] = fn
	}
	d.mu.Unlock()

	sort.Strings(names)
	out := make(map[string]any, len(names))
	for _, name := range names {
		val, err := fns[name](ctx)
		if err != nil {
			out[name] = map[string]string{"error": err.Error()}
			continue
		}
		out[name] = val
	}
	return out
}
