package stopper_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cockroachdb/stream-tables/internal/util/stopper"
	"github.com/stretchr/testify/require"
)

func TestStopWakesGoroutine(t *testing.T) {
	ctx := stopper.Background()
	done := make(chan struct{})
	ctx.Go(func() error {
		<-ctx.Stopping()
		close(done)
		return nil
	})

	ctx.Stop()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("goroutine never observed Stop")
	}
	require.NoError(t, ctx.Wait())
}

func TestWaitSurfacesError(t *testing.T) {
	ctx := stopper.Background()
	sentinel := errors.New("boom")
	ctx.Go(func() error { return sentinel })
	err := ctx.Wait()
	require.ErrorIs(t, err, sentinel)
}

func TestParentCancelPropagates(t *testing.T) {
	parent, cancel := context.WithCancel(context.Background())
	ctx := stopper.WithContext(parent)
	cancel()

	select {
	case <-ctx.Stopping():
	case <-time.After(time.Second):
		t.Fatal("parent cancellation did not trigger Stop")
	}
}
