package types

import (
	"slices"

	"github.com/DoyleJ11/memory-match-backend/internal/deck"
	"github.com/DoyleJ11/memory-match-backend/internal/engine"
	"github.com/DoyleJ11/memory-match-backend/internal/room"
	"github.com/DoyleJ11/memory-match-backend/internal/royale"
	wire "github.com/DoyleJ11/memory-match-backend/pkg/types"
)

func CardFaces(cards []deck.Card) []wire.CardFace {
	out := make([]wire.CardFace, len(cards))
	for i, c := range cards {
		out[i] = wire.CardFace{FaceID: c.FaceID, FaceLabel: c.FaceLabel}
	}
	return out
}

func DuelStanding(p engine.PlayerSlot) wire.DuelStandings {
	return wire.DuelStandings{
		UserID:       p.UserID,
		Username:     p.DisplayName,
		Score:        p.Score,
		PairsMatched: p.PairsMatched,
		FlipCount:    p.FlipCount,
		IsReady:      p.IsReady,
		IsConnected:  p.IsConnected,
	}
}

func DuelStandings(m engine.Match) []wire.DuelStandings {
	out := make([]wire.DuelStandings, len(m.Players))
	for i, p := range m.Players {
		out[i] = DuelStanding(p)
	}
	return out
}

func GameStarted(m engine.Match) wire.GameStarted {
	g := wire.GameStarted{MatchID: m.ID, CurrentTurn: m.CurrentTurn, Players: DuelStandings(m)}
	if m.StartedAt != nil {
		g.StartedAt = *m.StartedAt
	}
	return g
}

func CardFlipped(m engine.Match, cardIndex int, by string) wire.CardFlipped {
	c := m.Cards[cardIndex]
	return wire.CardFlipped{MatchID: m.ID, CardIndex: cardIndex, FlippedBy: by, FaceID: c.FaceID, FaceLabel: c.FaceLabel}
}

// MatchResult reports a resolved pair against the current state of m, which
// may have moved on since the pair was resolved.
func MatchResult(m engine.Match, pair engine.ResolvedPair) wire.MatchResult {
	r := wire.MatchResult{
		MatchID:     m.ID,
		CardIndices: pair.CardIndices,
		IsMatch:     pair.IsMatch,
		NextTurn:    m.CurrentTurn,
		Players:     DuelStandings(m),
	}
	if pair.IsMatch {
		r.MatchedBy = pair.FlippedBy
	}
	return r
}

func GameOver(m engine.Match) wire.GameOver {
	g := wire.GameOver{MatchID: m.ID, Reason: string(m.EndReason)}
	if m.FinishedAt != nil {
		g.FinishedAt = *m.FinishedAt
	}
	if w, ok := m.Player(m.Winner); ok {
		s := DuelStanding(w)
		g.Winner = &s
	}
	if l, ok := m.Loser(); ok {
		s := DuelStanding(l)
		g.Loser = &s
	}
	return g
}

// MatchState shows faces only for matched cards and the current turn's
// face-up cards.
func MatchState(m engine.Match) wire.MatchState {
	active := make([]int, 0, len(m.ActiveFlips))
	for _, f := range m.ActiveFlips {
		active = append(active, f.CardIndex)
	}
	cards := make([]wire.DuelCard, len(m.Cards))
	for i, c := range m.Cards {
		faceUp := slices.Contains(active, i)
		dc := wire.DuelCard{Index: i, IsMatched: c.IsMatched, MatchedBy: c.MatchedBy, FaceUp: faceUp}
		if c.IsMatched || faceUp {
			dc.FaceID = c.FaceID
			dc.FaceLabel = c.FaceLabel
		}
		cards[i] = dc
	}
	return wire.MatchState{
		MatchID:     m.ID,
		Status:      string(m.Status),
		CurrentTurn: m.CurrentTurn,
		Players:     DuelStandings(m),
		Cards:       cards,
		ActiveFlips: active,
		Winner:      m.Winner,
		StartedAt:   m.StartedAt,
		FinishedAt:  m.FinishedAt,
	}
}

func RoomPlayer(p room.Player) wire.RoomPlayer {
	return wire.RoomPlayer{
		UserID:      p.UserID,
		Username:    p.DisplayName,
		AvatarURL:   p.AvatarURL,
		BorderColor: p.BorderColor,
		IsHost:      p.IsHost,
		IsReady:     p.IsReady,
		IsConnected: p.IsConnected,
	}
}

func RoomPlayers(r room.Room) []wire.RoomPlayer {
	out := make([]wire.RoomPlayer, len(r.Players))
	for i, p := range r.Players {
		out[i] = RoomPlayer(p)
	}
	return out
}

func Room(r room.Room) wire.Room {
	return wire.Room{
		ID:             r.ID,
		Code:           r.Code,
		Name:           r.Name,
		HasPassword:    r.HasPassword(),
		MaxPlayers:     r.MaxPlayers,
		CurrentPlayers: r.CurrentPlayers(),
		PairCount:      r.PairCount,
		SoftCapTime:    r.SoftCapSeconds,
		HardCapTime:    r.HardCapSeconds,
		Status:         string(r.Status),
		HostID:         r.HostID,
		MatchID:        r.MatchID,
		Players:        RoomPlayers(r),
		CreatedAt:      r.CreatedAt,
	}
}

func Rooms(rs []room.Room) []wire.Room {
	out := make([]wire.Room, len(rs))
	for i, r := range rs {
		out[i] = Room(r)
	}
	return out
}

func LeaderboardEntry(p royale.Progress) wire.LeaderboardEntry {
	return wire.LeaderboardEntry{
		UserID:         p.UserID,
		Username:       p.DisplayName,
		AvatarURL:      p.AvatarURL,
		BorderColor:    p.BorderColor,
		PairsFound:     p.PairsFound,
		FlipCount:      p.FlipCount,
		CompletionTime: p.CompletionTime,
		Score:          p.Score,
		Rank:           p.Rank,
		IsFinished:     p.IsFinished,
		HasLeft:        p.HasLeft,
	}
}

func LeaderboardEntries(ps []royale.Progress) []wire.LeaderboardEntry {
	out := make([]wire.LeaderboardEntry, len(ps))
	for i, p := range ps {
		out[i] = LeaderboardEntry(p)
	}
	return out
}

func Leaderboard(m royale.Match, standings []royale.Progress) wire.Leaderboard {
	return wire.Leaderboard{
		MatchID:    m.ID,
		RoomID:     m.RoomID,
		Status:     string(m.Status),
		PairCount:  m.PairCount,
		StartedAt:  m.StartedAt,
		FinishedAt: m.FinishedAt,
		Players:    LeaderboardEntries(standings),
	}
}

func MatchStart(m royale.Match) wire.MatchStart {
	ids := make([]int, len(m.Cards))
	for i, c := range m.Cards {
		ids[i] = c.FaceID
	}
	s := wire.MatchStart{MatchID: m.ID, Seed: m.Seed, Cards: ids, Faces: CardFaces(m.Cards)}
	if m.StartedAt != nil {
		s.StartAt = *m.StartedAt
	}
	return s
}
