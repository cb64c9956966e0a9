package h1

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTimer_FiresKeepAliveExpireWhenIdle(t *testing.T) {
	timer := NewTimer(5*time.Millisecond, time.Second)
	defer timer.Stop()

	select {
	case <-timer.C():
	case <-time.After(time.Second):
		t.Fatal("timer never fired")
	}

	herr := timer.Fire()
	require.Equal(t, KindKeepAliveExpire, herr.Kind)
}

func TestTimer_FiresRequestTimeoutAfterHeadByte(t *testing.T) {
	timer := NewTimer(time.Second, 5*time.Millisecond)
	defer timer.Stop()

	timer.OnHeadByte(time.Now())

	select {
	case <-timer.C():
	case <-time.After(time.Second):
		t.Fatal("timer never fired")
	}

	herr := timer.Fire()
	require.Equal(t, KindRequestTimeout, herr.Kind)
}

func TestTimer_UpdateReArmsAfterRequestComplete(t *testing.T) {
	timer := NewTimer(50*time.Millisecond, time.Second)
	defer timer.Stop()

	timer.OnHeadByte(time.Now())
	timer.OnRequestComplete()
	timer.Update(time.Now())

	select {
	case <-timer.C():
		herr := timer.Fire()
		require.Equal(t, KindKeepAliveExpire, herr.Kind)
	case <-time.After(time.Second):
		t.Fatal("timer never fired")
	}
}
