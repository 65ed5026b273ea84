package notify_test

import (
	"testing"
	"time"

	"github.com/cockroachdb/stream-tables/internal/util/notify"
	"github.com/stretchr/testify/require"
)

func TestVarSetWakesWaiter(t *testing.T) {
	v := notify.New(0)
	val, changed := v.Get()
	require.Equal(t, 0, val)

	done := make(chan struct{})
	go func() {
		<-changed
		close(done)
	}()

	v.Set(1)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("waiter was not woken")
	}

	val, _ = v.Get()
	require.Equal(t, 1, val)
}

func TestVarUpdate(t *testing.T) {
	v := notify.New(uint64(0))
	v.Update(func(cur uint64) uint64 { return cur + 1 })
	v.Update(func(cur uint64) uint64 { return cur + 1 })
	val, _ := v.Get()
	require.Equal(t, uint64(2), val)
}
