package engine

import (
	"time"

	"github.com/DoyleJ11/memory-match-backend/internal/deck"
)

type Seat struct {
	UserID       string
	DisplayName  string
	ConnectionID string
}

// NewMatch deals a match between two seats. The first seat moves first.
func NewMatch(id, seed string, first, second Seat, cards []deck.Card, rules Rules, at time.Time) Match {
	slot := func(s Seat) PlayerSlot {
		return PlayerSlot{
			UserID:       s.UserID,
			DisplayName:  s.DisplayName,
			IsConnected:  true,
			ConnectionID: s.ConnectionID,
		}
	}
	return Match{
		ID:          id,
		Seed:        seed,
		Status:      StatusReady,
		Rules:       rules,
		Players:     [2]PlayerSlot{slot(first), slot(second)},
		Cards:       cards,
		CurrentTurn: first.UserID,
		ActiveFlips: []FlipRecord{},
		CreatedAt:   at,
		UpdatedAt:   at,
	}
}

func (m Match) PlayerIndex(userID string) int {
	for i, p := range m.Players {
		if p.UserID == userID {
			return i
		}
	}
	return -1
}

func (m Match) Player(userID string) (PlayerSlot, bool) {
	i := m.PlayerIndex(userID)
	if i < 0 {
		return PlayerSlot{}, false
	}
	return m.Players[i], true
}

// Clone deep-copies every mutable part of the match.
func (m Match) Clone() Match {
	c := m
	c.Cards = append([]deck.Card(nil), m.Cards...)
	c.ActiveFlips = append([]FlipRecord{}, m.ActiveFlips...)
	if m.LastResolved != nil {
		lr := *m.LastResolved
		c.LastResolved = &lr
	}
	c.StartedAt = cloneTime(m.StartedAt)
	c.FinishedAt = cloneTime(m.FinishedAt)
	for i := range c.Players {
		c.Players[i].DisconnectedAt = cloneTime(m.Players[i].DisconnectedAt)
	}
	return c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func AllMatched(m Match) bool {
	for _, c := range m.Cards {
		if !c.IsMatched {
			return false
		}
	}
	return len(m.Cards) > 0
}

func ContainsEvent(events []Event, eventType EventType) bool {
	for _, event := range events {
		if event.Type == eventType {
			return true
		}
	}
	return false
}

// FlipOutcome is the result of a successful flip.
type FlipOutcome interface{ isFlipOutcome() }

// FlipPending: first card of a turn, nothing to resolve yet.
type FlipPending struct {
	CardIndex int
}

// FlipResolved: second card of a turn; the pair was compared.
type FlipResolved struct {
	CardIndex int
	Pair      ResolvedPair
	Completed bool
}

func (FlipPending) isFlipOutcome()  {}
func (FlipResolved) isFlipOutcome() {}

// OutcomeOf reads the flip outcome out of the events produced by CmdFlipCard.
func OutcomeOf(events []Event) FlipOutcome {
	var flipped int
	for _, e := range events {
		switch e.Type {
		case EvtCardFlipped:
			flipped = e.CardIndex
		case EvtPairResolved:
			return FlipResolved{
				CardIndex: flipped,
				Pair:      *e.Pair,
				Completed: ContainsEvent(events, EvtGameCompleted),
			}
		}
	}
	return FlipPending{CardIndex: flipped}
}
