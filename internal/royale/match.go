// Package royale runs battle royale matches: one shared board, every racer
// clearing it independently, ranked by score.
package royale

import (
	"math"
	"slices"
	"time"

	"github.com/DoyleJ11/memory-match-backend/internal/apperr"
	"github.com/DoyleJ11/memory-match-backend/internal/deck"
)

var (
	ErrMatchNotFound   = apperr.New(apperr.KindNotFound, "match not found")
	ErrRacerNotFound   = apperr.New(apperr.KindNotFound, "player not found in match")
	ErrMatchFinished   = apperr.New(apperr.KindConflict, "match is finished")
	ErrMatchNotStarted = apperr.New(apperr.KindConflict, "match has not started")
	ErrRacerFinished   = apperr.New(apperr.KindConflict, "player already finished")
	ErrFlipTooFast     = apperr.New(apperr.KindConflict, "flip too fast")
	ErrCardOutOfRange  = apperr.New(apperr.KindValidation, "card index out of range")
	ErrInvalidProgress = apperr.New(apperr.KindValidation, "invalid progress report")
)

const recentFlipLimit = 8

type Status string

const (
	StatusStarting   Status = "starting"
	StatusInProgress Status = "inProgress"
	StatusFinished   Status = "finished"
)

// Scoring turns a finished run into points:
// round(SpeedNumerator/time + pairs*PairWeight - flips*FlipPenalty).
type Scoring struct {
	SpeedNumerator float64 `json:"speedNumerator"`
	PairWeight     float64 `json:"pairWeight"`
	FlipPenalty    float64 `json:"flipPenalty"`
}

func DefaultScoring() Scoring {
	return Scoring{SpeedNumerator: 10000, PairWeight: 150, FlipPenalty: 5}
}

// Score is 0 until a completion time is known.
func (s Scoring) Score(pairsFound, flipCount int, completionTime float64) int {
	if completionTime <= 0 {
		return 0
	}
	raw := s.SpeedNumerator/completionTime + float64(pairsFound)*s.PairWeight - float64(flipCount)*s.FlipPenalty
	return int(math.Floor(raw + 0.5))
}

type FlipStamp struct {
	CardIndex int       `json:"cardIndex"`
	At        time.Time `json:"at"`
}

type Progress struct {
	UserID         string      `json:"userId"`
	DisplayName    string      `json:"username"`
	AvatarURL      string      `json:"avatarUrl,omitempty"`
	BorderColor    string      `json:"borderColor,omitempty"`
	PairsFound     int         `json:"pairsFound"`
	FlipCount      int         `json:"flipCount"`
	CompletionTime float64     `json:"completionTime"`
	Score          int         `json:"score"`
	Rank           int         `json:"rank"`
	IsFinished     bool        `json:"isFinished"`
	FinishedAt     *time.Time  `json:"finishedAt,omitempty"`
	HasLeft        bool        `json:"hasLeft,omitempty"`
	RecentFlips    []FlipStamp `json:"recentFlips,omitempty"`
}

type Match struct {
	ID         string      `json:"id"`
	RoomID     string      `json:"roomId"`
	Seed       string      `json:"seed"`
	PairCount  int         `json:"pairCount"`
	Cards      []deck.Card `json:"cards"`
	Players    []Progress  `json:"players"`
	Status     Status      `json:"status"`
	Scoring    Scoring     `json:"scoring"`
	CreatedAt  time.Time   `json:"createdAt"`
	StartedAt  *time.Time  `json:"startedAt,omitempty"`
	FinishedAt *time.Time  `json:"finishedAt,omitempty"`
}

func NewMatch(id, roomID, seed string, cards []deck.Card, racers []Progress, scoring Scoring, at time.Time) Match {
	return Match{
		ID:        id,
		RoomID:    roomID,
		Seed:      seed,
		PairCount: len(cards) / 2,
		Cards:     cards,
		Players:   racers,
		Status:    StatusStarting,
		Scoring:   scoring,
		CreatedAt: at,
	}
}

func (m *Match) Racer(userID string) *Progress {
	for i := range m.Players {
		if m.Players[i].UserID == userID {
			return &m.Players[i]
		}
	}
	return nil
}

// Begin ends the countdown. It reports false if the match already left the
// starting state.
func (m *Match) Begin(at time.Time) bool {
	if m.Status != StatusStarting {
		return false
	}
	m.Status = StatusInProgress
	m.StartedAt = &at
	return true
}

// AckFlip accepts a flip unless it follows the racer's previous one by less
// than minInterval.
func (m *Match) AckFlip(userID string, cardIndex int, at time.Time, minInterval time.Duration) error {
	switch m.Status {
	case StatusFinished:
		return ErrMatchFinished
	case StatusStarting:
		return ErrMatchNotStarted
	}
	p := m.Racer(userID)
	switch {
	case p == nil || p.HasLeft:
		return ErrRacerNotFound
	case p.IsFinished:
		return ErrRacerFinished
	case cardIndex < 0 || cardIndex >= len(m.Cards):
		return ErrCardOutOfRange
	}
	if n := len(p.RecentFlips); n > 0 && at.Sub(p.RecentFlips[n-1].At) < minInterval {
		return ErrFlipTooFast
	}
	p.RecentFlips = append(p.RecentFlips, FlipStamp{CardIndex: cardIndex, At: at})
	if over := len(p.RecentFlips) - recentFlipLimit; over > 0 {
		p.RecentFlips = slices.Delete(p.RecentFlips, 0, over)
	}
	return nil
}

func (m *Match) checkReport(userID string, pairsFound, flipCount int, completionTime float64) (*Progress, error) {
	switch m.Status {
	case StatusFinished:
		return nil, ErrMatchFinished
	case StatusStarting:
		return nil, ErrMatchNotStarted
	}
	p := m.Racer(userID)
	if p == nil || p.HasLeft {
		return nil, ErrRacerNotFound
	}
	if pairsFound < 0 || pairsFound > m.PairCount || flipCount < 0 ||
		completionTime < 0 || math.IsNaN(completionTime) || math.IsInf(completionTime, 0) {
		return nil, ErrInvalidProgress
	}
	return p, nil
}

// UpdateProgress stores a client report and recomputes the score. It reports
// whether this report finished the racer. Reports from a finished racer are
// ignored.
func (m *Match) UpdateProgress(userID string, pairsFound, flipCount int, completionTime float64, at time.Time) (bool, error) {
	p, err := m.checkReport(userID, pairsFound, flipCount, completionTime)
	if err != nil {
		return false, err
	}
	if p.IsFinished {
		return false, nil
	}
	p.PairsFound = pairsFound
	p.FlipCount = flipCount
	p.CompletionTime = completionTime
	p.Score = m.Scoring.Score(pairsFound, flipCount, completionTime)
	if pairsFound >= m.PairCount {
		p.IsFinished = true
		p.FinishedAt = &at
		m.CalculateRankings()
		return true, nil
	}
	return false, nil
}

// FinishPlayer is the explicit finish report. It finishes the racer even if
// the board is not cleared.
func (m *Match) FinishPlayer(userID string, pairsFound, flipCount int, completionTime float64, at time.Time) error {
	p, err := m.checkReport(userID, pairsFound, flipCount, completionTime)
	if err != nil {
		return err
	}
	if p.IsFinished {
		return ErrRacerFinished
	}
	p.PairsFound = pairsFound
	p.FlipCount = flipCount
	p.CompletionTime = completionTime
	p.Score = m.Scoring.Score(pairsFound, flipCount, completionTime)
	p.IsFinished = true
	p.FinishedAt = &at
	m.CalculateRankings()
	return nil
}

// RemoveRacer keeps the racer's row for the record but stops waiting on them.
func (m *Match) RemoveRacer(userID string) bool {
	p := m.Racer(userID)
	if p == nil || p.HasLeft {
		return false
	}
	p.HasLeft = true
	return true
}

// ShouldEnd is true once every racer still in the match has finished.
func (m *Match) ShouldEnd() bool {
	if m.Status == StatusFinished {
		return true
	}
	for _, p := range m.Players {
		if !p.HasLeft && !p.IsFinished {
			return false
		}
	}
	return true
}

func (m *Match) Finish(at time.Time) []Progress {
	m.Status = StatusFinished
	m.FinishedAt = &at
	return m.CalculateRankings()
}

func rankLess(a, b Progress) int {
	switch {
	case a.Score != b.Score:
		if a.Score > b.Score {
			return -1
		}
		return 1
	case a.CompletionTime != b.CompletionTime:
		if a.CompletionTime < b.CompletionTime {
			return -1
		}
		return 1
	default:
		return a.FlipCount - b.FlipCount
	}
}

// CalculateRankings orders finished racers by score desc, time asc, flips asc
// with competition ranking (1, 1, 3). Ranks are written back to the match;
// unfinished racers keep rank 0.
func (m *Match) CalculateRankings() []Progress {
	finished := make([]Progress, 0, len(m.Players))
	for _, p := range m.Players {
		if p.IsFinished {
			finished = append(finished, p)
		}
	}
	slices.SortStableFunc(finished, rankLess)

	ranks := make(map[string]int, len(finished))
	for i := range finished {
		if i == 0 || rankLess(finished[i-1], finished[i]) != 0 {
			finished[i].Rank = i + 1
		} else {
			finished[i].Rank = finished[i-1].Rank
		}
		ranks[finished[i].UserID] = finished[i].Rank
	}
	for i := range m.Players {
		m.Players[i].Rank = ranks[m.Players[i].UserID]
	}
	return finished
}

// Standings is the live leaderboard: ranked finishers first, then everyone
// still racing by pairs found.
func (m *Match) Standings() []Progress {
	out := m.CalculateRankings()
	racing := make([]Progress, 0, len(m.Players)-len(out))
	for _, p := range m.Players {
		if !p.IsFinished {
			racing = append(racing, p)
		}
	}
	slices.SortStableFunc(racing, func(a, b Progress) int {
		if a.PairsFound != b.PairsFound {
			return b.PairsFound - a.PairsFound
		}
		return a.FlipCount - b.FlipCount
	})
	return append(out, racing...)
}

func (m Match) Clone() Match {
	c := m
	c.Cards = append([]deck.Card(nil), m.Cards...)
	c.Players = make([]Progress, len(m.Players))
	for i, p := range m.Players {
		p.RecentFlips = append([]FlipStamp(nil), p.RecentFlips...)
		if p.FinishedAt != nil {
			t := *p.FinishedAt
			p.FinishedAt = &t
		}
		c.Players[i] = p
	}
	if m.StartedAt != nil {
		t := *m.StartedAt
		c.StartedAt = &t
	}
	if m.FinishedAt != nil {
		t := *m.FinishedAt
		c.FinishedAt = &t
	}
	return c
}
