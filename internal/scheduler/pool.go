package scheduler

import (
	"context"
	"sync"
)

// Pool runs tasks with bounded concurrency, used to dispatch the
// independent stream tables within one DAG layer in parallel while
// never exceeding Size concurrent refreshes (spec.md §4.4, Control loop
// step 4; spec.md §5, "optional bounded parallelism across independent
// branches").
type Pool struct {
	Size int
}

// Run executes tasks, at most p.Size concurrently, and returns the
// first non-nil error encountered (later tasks still run to
// completion; the scheduler's per-task error handling happens inside
// each task itself via internal/executor's failure/SUSPEND path, so a
// single failing refresh never aborts its layer-mates).
func (p *Pool) Run(ctx context.Context, tasks []func(context.Context) error) error {
	size := p.Size
	if size < 1 {
		size = 1
	}
	sem := make(chan struct{}, size)
	var wg sync.WaitGroup
	var mu sync.Mutex
	var firstErr error

	for _, task := range tasks {
		task := task
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			if err := task(ctx); err != nil {
				mu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	return firstErr
}
