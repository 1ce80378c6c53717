// Package history persists finished match outcomes.
package history

import (
	"context"
	"time"
)

type DuelPlayerResult struct {
	UserID       string
	DisplayName  string
	Score        int
	PairsMatched int
	FlipCount    int
}

type DuelOutcome struct {
	MatchID    string
	Players    [2]DuelPlayerResult
	WinnerID   string
	EndReason  string
	StartedAt  time.Time
	FinishedAt time.Time
}

// GameSeconds is the wall time between start and finish, floored.
func (o DuelOutcome) GameSeconds() int {
	if o.StartedAt.IsZero() || o.FinishedAt.Before(o.StartedAt) {
		return 0
	}
	return int(o.FinishedAt.Sub(o.StartedAt) / time.Second)
}

type RoyaleRacerResult struct {
	UserID         string
	DisplayName    string
	Rank           int
	Score          int
	PairsFound     int
	FlipCount      int
	CompletionTime float64
	Finished       bool
}

type RoyaleOutcome struct {
	MatchID    string
	RoomID     string
	PairCount  int
	Racers     []RoyaleRacerResult
	FinishedAt time.Time
}

// Recorder is fire-and-forget from the game's point of view: callers log
// failures and never undo a finished match because of them.
type Recorder interface {
	RecordDuel(ctx context.Context, o DuelOutcome) error
	RecordRoyale(ctx context.Context, o RoyaleOutcome) error
}
