package buffer

import (
	"context"
	"sync"

	"github.com/cockroachdb/stream-tables/internal/types"
	"github.com/cockroachdb/stream-tables/internal/util/ident"
)

// Factory lazily constructs and caches one Buffer per source relation,
// bootstrapping its table on first use. It is the types.ChangeBuffers
// this repository wires into the executor/scheduler composition root.
type Factory struct {
	Schema ident.Schema
	Pool   types.StagingQuerier

	mu      sync.Mutex
	buffers map[string]*Buffer
}

var _ types.ChangeBuffers = (*Factory)(nil)

// Get implements types.ChangeBuffers.
func (f *Factory) Get(ctx context.Context, source ident.Table) (types.ChangeBuffer, error) {
	key := source.Raw()

	f.mu.Lock()
	if f.buffers == nil {
		f.buffers = make(map[string]*Buffer)
	}
	if b, ok := f.buffers[key]; ok {
		f.mu.Unlock()
		return b, nil
	}
	f.mu.Unlock()

	b := New(f.Schema, source)
	if err := b.Bootstrap(ctx, f.Pool); err != nil {
		return nil, err
	}

	f.mu.Lock()
	f.buffers[key] = b
	f.mu.Unlock()
	return b, nil
}
