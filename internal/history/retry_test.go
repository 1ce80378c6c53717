package history

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type mockRecorder struct {
	mock.Mock
}

func (m *mockRecorder) RecordDuel(ctx context.Context, o DuelOutcome) error {
	return m.Called(ctx, o).Error(0)
}

func (m *mockRecorder) RecordRoyale(ctx context.Context, o RoyaleOutcome) error {
	return m.Called(ctx, o).Error(0)
}

func duelOutcome(id string) DuelOutcome {
	return DuelOutcome{
		MatchID:  id,
		WinnerID: "p1",
		Players: [2]DuelPlayerResult{
			{UserID: "p1", Score: 700},
			{UserID: "p2", Score: 500},
		},
	}
}

func TestRetryingRecorder_SuccessPassesThrough(t *testing.T) {
	inner := &mockRecorder{}
	inner.On("RecordDuel", mock.Anything, duelOutcome("m1")).Return(nil).Once()

	r := NewRetryingRecorder(inner, zaptest.NewLogger(t), 0)
	require.NoError(t, r.RecordDuel(context.Background(), duelOutcome("m1")))
	assert.Zero(t, r.Pending())
	inner.AssertExpectations(t)
}

func TestRetryingRecorder_QueuesAndRetries(t *testing.T) {
	inner := &mockRecorder{}
	inner.On("RecordDuel", mock.Anything, duelOutcome("m1")).Return(errors.New("db down")).Twice()
	inner.On("RecordDuel", mock.Anything, duelOutcome("m1")).Return(nil).Once()

	r := NewRetryingRecorder(inner, zaptest.NewLogger(t), 0)
	ctx := context.Background()

	assert.NoError(t, r.RecordDuel(ctx, duelOutcome("m1")), "failures never reach the game")
	assert.Equal(t, 1, r.Pending())

	assert.Error(t, r.Retry(ctx))
	assert.Equal(t, 1, r.Pending())

	assert.NoError(t, r.Retry(ctx))
	assert.Zero(t, r.Pending())
	inner.AssertExpectations(t)
}

func TestRetryingRecorder_RoyaleRetried(t *testing.T) {
	inner := &mockRecorder{}
	o := RoyaleOutcome{MatchID: "br1", Racers: []RoyaleRacerResult{{UserID: "a", Rank: 1}}}
	inner.On("RecordRoyale", mock.Anything, mock.AnythingOfType("RoyaleOutcome")).Return(errors.New("timeout")).Once()
	inner.On("RecordRoyale", mock.Anything, mock.AnythingOfType("RoyaleOutcome")).Return(nil).Once()

	r := NewRetryingRecorder(inner, zaptest.NewLogger(t), 0)
	require.NoError(t, r.RecordRoyale(context.Background(), o))
	require.NoError(t, r.Retry(context.Background()))
	assert.Zero(t, r.Pending())
}

func TestRetryingRecorder_BoundedQueue(t *testing.T) {
	inner := &mockRecorder{}
	inner.On("RecordDuel", mock.Anything, mock.Anything).Return(errors.New("down"))

	r := NewRetryingRecorder(inner, zaptest.NewLogger(t), 2)
	for _, id := range []string{"a", "b", "c"} {
		_ = r.RecordDuel(context.Background(), duelOutcome(id))
	}
	assert.Equal(t, 2, r.Pending())
}

func TestDuelOutcome_GameSeconds(t *testing.T) {
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	o := DuelOutcome{StartedAt: start, FinishedAt: start.Add(95500 * time.Millisecond)}
	assert.Equal(t, 95, o.GameSeconds())
	assert.Zero(t, DuelOutcome{FinishedAt: start}.GameSeconds())
}

func TestMemoryRecorder(t *testing.T) {
	r := NewMemoryRecorder()
	require.NoError(t, r.RecordDuel(context.Background(), duelOutcome("m1")))
	require.NoError(t, r.RecordRoyale(context.Background(), RoyaleOutcome{MatchID: "br1"}))
	assert.Len(t, r.Duels(), 1)
	assert.Len(t, r.Royales(), 1)
}
