package body

import (
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBody_FeedAndRead(t *testing.T) {
	sender, b := New()

	go func() {
		require.NoError(t, sender.Ready())
		sender.FeedData([]byte("hello "))
		require.NoError(t, sender.Ready())
		sender.FeedData([]byte("world"))
		require.NoError(t, sender.Ready())
		sender.FeedEOF()
	}()

	got, err := io.ReadAll(b)
	require.NoError(t, err)
	require.Equal(t, "hello world", string(got))
}

func TestBody_FeedError(t *testing.T) {
	sender, b := New()
	wantErr := io.ErrUnexpectedEOF

	go func() {
		require.NoError(t, sender.Ready())
		sender.FeedError(wantErr)
	}()

	_, err := io.ReadAll(b)
	require.ErrorIs(t, err, wantErr)
}

func TestBody_CloseBeforeEOFCorruptsSender(t *testing.T) {
	sender, b := New()
	require.NoError(t, b.Close())

	err := sender.Ready()
	require.ErrorIs(t, err, ErrBodyCorrupted)
	require.True(t, sender.Corrupted())
}

func TestSender_WaitForPollFiresOnFirstRead(t *testing.T) {
	sender, b := New()
	polled := make(chan struct{})

	go func() {
		require.NoError(t, sender.WaitForPoll())
		close(polled)
		require.NoError(t, sender.Ready())
		sender.FeedEOF()
	}()

	select {
	case <-polled:
		t.Fatal("WaitForPoll resolved before any Read")
	case <-time.After(20 * time.Millisecond):
	}

	_, err := b.Read(make([]byte, 1))
	require.ErrorIs(t, err, io.EOF)
	<-polled
}

func TestEmpty_IsImmediatelyAtEOF(t *testing.T) {
	b := Empty()
	n, err := b.Read(make([]byte, 10))
	require.Equal(t, 0, n)
	require.ErrorIs(t, err, io.EOF)
}
