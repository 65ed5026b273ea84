// Package stopper provides graceful-shutdown scoped goroutines, used
// by every long-running loop in this repository (the scheduler control
// loop, the WAL decoder, change-buffer cleanup sweepers). It mirrors
// the teacher's internal/util/stopper.Context, as seen driving
// connection-close goroutines in internal/util/stdpool and read loops
// in internal/source/cdc/resolver.go.
//
// A Context wraps a context.Context with a second, independent signal:
// Stopping() fires when a graceful shutdown has been requested, before
// the context itself is canceled. Goroutines launched with Go should
// select on Stopping() to wind down cleanly (flush buffers, commit
// transactions) and only treat Done() as the hard deadline.
package stopper

import (
	"context"
	"sync"

	"github.com/pkg/errors"
)

// A Context augments context.Context with graceful-stop semantics and
// a WaitGroup-like mechanism for draining launched goroutines.
type Context struct {
	context.Context

	cancel context.CancelFunc

	mu       sync.Mutex
	stopping chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
	errs     []error
}

// WithContext wraps an existing context.Context in a new stopper
// Context. Canceling the parent context also triggers Stop.
func WithContext(parent context.Context) *Context {
	ctx, cancel := context.WithCancel(parent)
	ret := &Context{
		Context:  ctx,
		cancel:   cancel,
		stopping: make(chan struct{}),
	}
	go func() {
		<-ctx.Done()
		ret.Stop()
	}()
	return ret
}

// Background returns a root stopper.Context with no parent.
func Background() *Context { return WithContext(context.Background()) }

// Stopping returns a channel that is closed once graceful shutdown has
// been requested via Stop. Unlike Done(), this does not imply the
// context has been canceled — it is the signal for a goroutine to
// begin winding down voluntarily.
func (c *Context) Stopping() <-chan struct{} {
	return c.stopping
}

// Stop requests a graceful shutdown: Stopping() closes, but the
// underlying context is not canceled here, so in-flight work started
// before Stop can finish committing. Callers that also want the hard
// context deadline should call Cancel.
func (c *Context) Stop() {
	c.stopOnce.Do(func() { close(c.stopping) })
}

// Cancel requests a graceful stop and cancels the underlying context,
// the equivalent of SIGTERM escalating after a grace period elapses.
func (c *Context) Cancel() {
	c.Stop()
	c.cancel()
}

// Go launches fn in a new goroutine tracked by Wait. If fn returns a
// non-nil error, it is recorded and surfaced by Wait.
func (c *Context) Go(fn func() error) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		if err := fn(); err != nil {
			c.mu.Lock()
			c.errs = append(c.errs, errors.WithStack(err))
			c.mu.Unlock()
		}
	}()
}

// Wait blocks until every goroutine launched with Go has returned, then
// returns the first recorded error, if any.
func (c *Context) Wait() error {
	c.wg.Wait()
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.errs) == 0 {
		return nil
	}
	return c.errs[0]
}
