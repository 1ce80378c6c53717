package engine

import (
	"time"

	"github.com/DoyleJ11/memory-match-backend/internal/apperr"
	"github.com/DoyleJ11/memory-match-backend/internal/deck"
)

var (
	ErrMatchNotFound      = apperr.New(apperr.KindNotFound, "match not found")
	ErrNotInMatch         = apperr.New(apperr.KindForbidden, "player not found in match")
	ErrNotPlaying         = apperr.New(apperr.KindConflict, "match is not in playing state")
	ErrAlreadyStarted     = apperr.New(apperr.KindConflict, "match already started")
	ErrMatchOver          = apperr.New(apperr.KindConflict, "match is over")
	ErrWrongTurn          = apperr.New(apperr.KindConflict, "not your turn")
	ErrCardOutOfRange     = apperr.New(apperr.KindValidation, "card index out of range")
	ErrCardMatched        = apperr.New(apperr.KindConflict, "card already matched")
	ErrCardAlreadyFlipped = apperr.New(apperr.KindConflict, "card already flipped this turn")
	ErrTooManyFlips       = apperr.New(apperr.KindConflict, "already flipped 2 cards this turn")
	ErrUnsupportedCommand = apperr.New(apperr.KindValidation, "unsupported command")
)

type Status string

const (
	StatusWaiting   Status = "waiting"
	StatusReady     Status = "ready"
	StatusPlaying   Status = "playing"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

type EndReason string

const (
	EndAllMatched EndReason = "all_matched"
	EndSurrender  EndReason = "surrender"
	EndDisconnect EndReason = "disconnect"
	EndAbandoned  EndReason = "abandoned"
)

type Rules struct {
	PairPoints int `json:"pairPoints"`
}

func DefaultRules() Rules { return Rules{PairPoints: 100} }

type PlayerSlot struct {
	UserID         string     `json:"userId"`
	DisplayName    string     `json:"displayName"`
	Score          int        `json:"score"`
	PairsMatched   int        `json:"pairsMatched"`
	FlipCount      int        `json:"flipCount"`
	IsReady        bool       `json:"isReady"`
	IsConnected    bool       `json:"isConnected"`
	DisconnectedAt *time.Time `json:"disconnectedAt,omitempty"`
	ConnectionID   string     `json:"connectionId,omitempty"`
}

type FlipRecord struct {
	CardIndex int       `json:"cardIndex"`
	FlippedBy string    `json:"flippedBy"`
	FlippedAt time.Time `json:"flippedAt"`
}

type ResolvedPair struct {
	CardIndices [2]int    `json:"cardIndices"`
	IsMatch     bool      `json:"isMatch"`
	FlippedBy   string    `json:"flippedBy"`
	ResolvedAt  time.Time `json:"resolvedAt"`
}

type Match struct {
	ID           string        `json:"matchId"`
	Seed         string        `json:"seed"`
	Status       Status        `json:"status"`
	Rules        Rules         `json:"rules"`
	Players      [2]PlayerSlot `json:"players"`
	Cards        []deck.Card   `json:"cards"`
	CurrentTurn  string        `json:"currentTurn"`
	ActiveFlips  []FlipRecord  `json:"activeFlips"`
	LastResolved *ResolvedPair `json:"lastResolved,omitempty"`
	Winner       string        `json:"winner,omitempty"`
	EndReason    EndReason     `json:"endReason,omitempty"`
	CreatedAt    time.Time     `json:"createdAt"`
	UpdatedAt    time.Time     `json:"updatedAt"`
	StartedAt    *time.Time    `json:"startedAt,omitempty"`
	FinishedAt   *time.Time    `json:"finishedAt,omitempty"`
}

type CommandType string

const (
	CmdMarkReady         CommandType = "MarkReady"
	CmdFlipCard          CommandType = "FlipCard"
	CmdSurrender         CommandType = "Surrender"
	CmdDisconnect        CommandType = "Disconnect"
	CmdReconnect         CommandType = "Reconnect"
	CmdDisconnectTimeout CommandType = "DisconnectTimeout"
)

type Command struct {
	Type         CommandType
	UserID       string
	CardIndex    int
	ConnectionID string
	At           time.Time
}

type EventType string

const (
	EvtPlayerReady        EventType = "PlayerReady"
	EvtGameStarted        EventType = "GameStarted"
	EvtCardFlipped        EventType = "CardFlipped"
	EvtPairResolved       EventType = "PairResolved"
	EvtTurnPassed         EventType = "TurnPassed"
	EvtGameCompleted      EventType = "GameCompleted"
	EvtGameCancelled      EventType = "GameCancelled"
	EvtPlayerDisconnected EventType = "PlayerDisconnected"
	EvtPlayerReconnected  EventType = "PlayerReconnected"
)

type Event struct {
	Type      EventType
	UserID    string
	CardIndex int
	Pair      *ResolvedPair
}

// Apply validates cmd against m and returns the resulting events and state.
// m is never modified; on error the returned match is m itself.
// An empty event list means the command was a no-op.
func Apply(m Match, cmd Command) ([]Event, Match, error) {
	seat := m.PlayerIndex(cmd.UserID)
	if seat < 0 {
		return nil, m, ErrNotInMatch
	}

	next := m.Clone()
	next.UpdatedAt = cmd.At

	switch cmd.Type {
	case CmdMarkReady:
		switch {
		case m.Status.Terminal():
			return nil, m, ErrMatchOver
		case m.Status == StatusPlaying:
			return nil, m, ErrAlreadyStarted
		}

		next.Players[seat].IsReady = true
		events := []Event{{Type: EvtPlayerReady, UserID: cmd.UserID}}

		if next.Players[0].IsReady && next.Players[1].IsReady {
			next.Status = StatusPlaying
			at := cmd.At
			next.StartedAt = &at
			events = append(events, Event{Type: EvtGameStarted})
		}
		return events, next, nil

	case CmdFlipCard:
		if err := canFlip(m, cmd.UserID, cmd.CardIndex); err != nil {
			return nil, m, err
		}
		events := flip(&next, seat, cmd)
		return events, next, nil

	case CmdSurrender:
		if m.Status != StatusPlaying {
			return nil, m, ErrNotPlaying
		}
		complete(&next, next.Players[opponent(seat)].UserID, EndSurrender, cmd.At)
		return []Event{{Type: EvtGameCompleted, UserID: next.Winner}}, next, nil

	case CmdDisconnect:
		slot := &next.Players[seat]
		if m.Status.Terminal() || !slot.IsConnected {
			return nil, m, nil
		}
		// A close from a superseded connection must not mark the new one offline.
		if cmd.ConnectionID != "" && slot.ConnectionID != "" && cmd.ConnectionID != slot.ConnectionID {
			return nil, m, nil
		}
		at := cmd.At
		slot.IsConnected = false
		slot.DisconnectedAt = &at
		return []Event{{Type: EvtPlayerDisconnected, UserID: cmd.UserID}}, next, nil

	case CmdReconnect:
		slot := &next.Players[seat]
		slot.IsConnected = true
		slot.DisconnectedAt = nil
		if cmd.ConnectionID != "" {
			slot.ConnectionID = cmd.ConnectionID
		}
		return []Event{{Type: EvtPlayerReconnected, UserID: cmd.UserID}}, next, nil

	case CmdDisconnectTimeout:
		if m.Status.Terminal() || m.Players[seat].IsConnected {
			return nil, m, nil
		}
		if m.Status == StatusPlaying {
			complete(&next, next.Players[opponent(seat)].UserID, EndDisconnect, cmd.At)
			return []Event{{Type: EvtGameCompleted, UserID: next.Winner}}, next, nil
		}
		// Never started: nobody earned a win.
		next.Status = StatusCancelled
		next.EndReason = EndAbandoned
		at := cmd.At
		next.FinishedAt = &at
		next.ActiveFlips = nil
		return []Event{{Type: EvtGameCancelled, UserID: cmd.UserID}}, next, nil

	default:
		return nil, m, ErrUnsupportedCommand
	}
}

func canFlip(m Match, userID string, idx int) error {
	if m.Status != StatusPlaying {
		return ErrNotPlaying
	}
	if m.CurrentTurn != userID {
		return ErrWrongTurn
	}
	if idx < 0 || idx >= len(m.Cards) {
		return ErrCardOutOfRange
	}
	if m.Cards[idx].IsMatched {
		return ErrCardMatched
	}
	for _, f := range m.ActiveFlips {
		if f.CardIndex == idx {
			return ErrCardAlreadyFlipped
		}
	}
	if len(m.ActiveFlips) >= 2 {
		return ErrTooManyFlips
	}
	return nil
}

// flip mutates next, which must already be a private copy.
func flip(next *Match, seat int, cmd Command) []Event {
	player := &next.Players[seat]
	player.FlipCount++
	next.ActiveFlips = append(next.ActiveFlips, FlipRecord{
		CardIndex: cmd.CardIndex,
		FlippedBy: cmd.UserID,
		FlippedAt: cmd.At,
	})
	events := []Event{{Type: EvtCardFlipped, UserID: cmd.UserID, CardIndex: cmd.CardIndex}}

	if len(next.ActiveFlips) < 2 {
		return events
	}

	first, second := next.ActiveFlips[0].CardIndex, next.ActiveFlips[1].CardIndex
	pair := &ResolvedPair{
		CardIndices: [2]int{first, second},
		IsMatch:     next.Cards[first].FaceID == next.Cards[second].FaceID,
		FlippedBy:   cmd.UserID,
		ResolvedAt:  cmd.At,
	}
	next.ActiveFlips = next.ActiveFlips[:0]
	next.LastResolved = pair
	events = append(events, Event{Type: EvtPairResolved, UserID: cmd.UserID, Pair: pair})

	if !pair.IsMatch {
		next.CurrentTurn = next.Players[opponent(seat)].UserID
		return append(events, Event{Type: EvtTurnPassed, UserID: next.CurrentTurn})
	}

	for _, i := range pair.CardIndices {
		next.Cards[i].IsMatched = true
		next.Cards[i].MatchedBy = cmd.UserID
	}
	player.Score += next.Rules.PairPoints
	player.PairsMatched++

	if AllMatched(*next) {
		complete(next, decideWinner(*next), EndAllMatched, cmd.At)
		events = append(events, Event{Type: EvtGameCompleted, UserID: next.Winner})
	}
	return events
}

func complete(m *Match, winner string, reason EndReason, at time.Time) {
	m.Status = StatusCompleted
	m.Winner = winner
	m.EndReason = reason
	m.FinishedAt = &at
	m.ActiveFlips = nil
}

// decideWinner ranks by score, then fewer flips, then the second mover.
func decideWinner(m Match) string {
	a, b := m.Players[0], m.Players[1]
	switch {
	case a.Score != b.Score:
		if a.Score > b.Score {
			return a.UserID
		}
		return b.UserID
	case a.FlipCount != b.FlipCount:
		if a.FlipCount < b.FlipCount {
			return a.UserID
		}
		return b.UserID
	default:
		return m.Players[1].UserID
	}
}
