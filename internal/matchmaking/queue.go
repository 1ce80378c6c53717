// Package matchmaking pairs waiting duel players in strict FIFO order.
package matchmaking

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/DoyleJ11/memory-match-backend/internal/apperr"
	"github.com/DoyleJ11/memory-match-backend/internal/deck"
	"github.com/DoyleJ11/memory-match-backend/internal/engine"
)

const DefaultPairCount = 12

var ErrAlreadyInMatch = apperr.New(apperr.KindConflict, "already in an active match")

type WaitingPlayer struct {
	UserID       string    `json:"userId"`
	DisplayName  string    `json:"displayName"`
	ConnectionID string    `json:"-"`
	JoinedAt     time.Time `json:"joinedAt"`
}

// Pairing is returned when an enqueue completes a pair. First moves first.
type Pairing struct {
	Match  engine.Match
	First  WaitingPlayer
	Second WaitingPlayer
}

type WaitingInfo struct {
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName"`
	WaitingMs   int64  `json:"waitingTime"`
}

type QueueInfo struct {
	QueueLength    int           `json:"queueLength"`
	WaitingPlayers []WaitingInfo `json:"waitingPlayers"`
}

// Creator persists a freshly paired match.
type Creator interface {
	Create(ctx context.Context, m engine.Match) error
}

type Options struct {
	PairCount int
	Rules     engine.Rules
	Clock     clockwork.Clock
	NewID     func() string
	NewSeed   func() string
	// InMatch reports whether the user already plays a live match. It runs
	// under the queue lock, after any pairing in flight has been persisted.
	InMatch func(ctx context.Context, userID string) (bool, error)
}

type Queue struct {
	mu      sync.Mutex
	waiting []WaitingPlayer
	creator Creator
	opts    Options
}

func NewQueue(creator Creator, opts Options) *Queue {
	if opts.PairCount <= 0 {
		opts.PairCount = DefaultPairCount
	}
	if opts.Rules.PairPoints <= 0 {
		opts.Rules = engine.DefaultRules()
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	if opts.NewSeed == nil {
		opts.NewSeed = deck.NewSeed
	}
	return &Queue{creator: creator, opts: opts}
}

// Enqueue adds the user and pairs the two oldest entries once two are waiting.
// A user already queued only gets their connection id refreshed. A user in a
// live match is rejected with ErrAlreadyInMatch.
// The match is persisted before the pair leaves the queue, so a failed create
// leaves both players waiting.
func (q *Queue) Enqueue(ctx context.Context, userID, displayName, connectionID string) (*Pairing, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if i := q.indexOf(userID); i >= 0 {
		q.waiting[i].ConnectionID = connectionID
		return nil, nil
	}
	if q.opts.InMatch != nil {
		busy, err := q.opts.InMatch(ctx, userID)
		if err != nil {
			return nil, err
		}
		if busy {
			return nil, ErrAlreadyInMatch
		}
	}

	q.waiting = append(q.waiting, WaitingPlayer{
		UserID:       userID,
		DisplayName:  displayName,
		ConnectionID: connectionID,
		JoinedAt:     q.opts.Clock.Now(),
	})
	if len(q.waiting) < 2 {
		return nil, nil
	}

	first, second := q.waiting[0], q.waiting[1]
	seed := q.opts.NewSeed()
	cards, err := deck.Deal(q.opts.PairCount, seed)
	if err != nil {
		return nil, fmt.Errorf("deal duel board: %w", err)
	}
	m := engine.NewMatch(q.opts.NewID(), seed,
		engine.Seat{UserID: first.UserID, DisplayName: first.DisplayName, ConnectionID: first.ConnectionID},
		engine.Seat{UserID: second.UserID, DisplayName: second.DisplayName, ConnectionID: second.ConnectionID},
		cards, q.opts.Rules, q.opts.Clock.Now())

	if err := q.creator.Create(ctx, m); err != nil {
		return nil, fmt.Errorf("create duel match: %w", err)
	}
	q.waiting = append(q.waiting[:0:0], q.waiting[2:]...)
	return &Pairing{Match: m, First: first, Second: second}, nil
}

// Dequeue removes the user if present.
func (q *Queue) Dequeue(userID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	i := q.indexOf(userID)
	if i < 0 {
		return false
	}
	q.waiting = append(q.waiting[:i], q.waiting[i+1:]...)
	return true
}

// Position is 1-based; 0 means not queued.
func (q *Queue) Position(userID string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.indexOf(userID) + 1
}

func (q *Queue) Peek() QueueInfo {
	q.mu.Lock()
	defer q.mu.Unlock()
	now := q.opts.Clock.Now()
	info := QueueInfo{QueueLength: len(q.waiting), WaitingPlayers: make([]WaitingInfo, 0, len(q.waiting))}
	for _, w := range q.waiting {
		info.WaitingPlayers = append(info.WaitingPlayers, WaitingInfo{
			UserID:      w.UserID,
			DisplayName: w.DisplayName,
			WaitingMs:   now.Sub(w.JoinedAt).Milliseconds(),
		})
	}
	return info
}

func (q *Queue) indexOf(userID string) int {
	for i, w := range q.waiting {
		if w.UserID == userID {
			return i
		}
	}
	return -1
}
