package worker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLimiter_BlocksAtCapacity(t *testing.T) {
	l := NewLimiter(1)
	require.True(t, l.Acquire(nil))
	require.Equal(t, 1, l.InUse())

	done := make(chan struct{})
	close(done)
	require.False(t, l.Acquire(done))

	l.Release()
	require.Equal(t, 0, l.InUse())
}

func TestLimiter_Unlimited(t *testing.T) {
	l := NewLimiter(0)
	require.Equal(t, 0, l.Capacity())
	for i := 0; i < 1000; i++ {
		require.True(t, l.Acquire(nil))
	}
	require.Equal(t, 0, l.InUse())
}

func TestLimiter_AcquireUnblocksOnRelease(t *testing.T) {
	l := NewLimiter(1)
	require.True(t, l.Acquire(nil))

	go func() {
		time.Sleep(5 * time.Millisecond)
		l.Release()
	}()

	require.True(t, l.Acquire(nil))
}
