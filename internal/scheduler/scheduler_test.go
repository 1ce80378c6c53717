package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestEvery_RunsUntilShutdown(t *testing.T) {
	s, err := New(zaptest.NewLogger(t), nil)
	require.NoError(t, err)

	var ok, failed atomic.Int32
	require.NoError(t, s.Every("count", 10*time.Millisecond, func(context.Context) error {
		ok.Add(1)
		return nil
	}))
	require.NoError(t, s.Every("fail", 10*time.Millisecond, func(context.Context) error {
		failed.Add(1)
		return errors.New("boom")
	}))
	s.Start()

	assert.Eventually(t, func() bool { return ok.Load() >= 2 && failed.Load() >= 2 },
		2*time.Second, 5*time.Millisecond, "failing jobs keep their schedule")
	require.NoError(t, s.Shutdown())

	after := ok.Load()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, after, ok.Load())
}

func TestShutdown_CancelsJobContext(t *testing.T) {
	s, err := New(zaptest.NewLogger(t), nil)
	require.NoError(t, err)

	running := make(chan struct{})
	var once atomic.Bool
	require.NoError(t, s.Every("block", 10*time.Millisecond, func(ctx context.Context) error {
		if once.CompareAndSwap(false, true) {
			close(running)
		}
		<-ctx.Done()
		return ctx.Err()
	}))
	s.Start()

	select {
	case <-running:
	case <-time.After(2 * time.Second):
		t.Fatal("job never ran")
	}
	assert.NoError(t, s.Shutdown())
}
