package types

import "time"

// DuelStandings is a duel player as other players see it.
type DuelStandings struct {
	UserID       string `json:"userId"`
	Username     string `json:"username"`
	Score        int    `json:"score"`
	PairsMatched int    `json:"matchedCards"`
	FlipCount    int    `json:"flipCount"`
	IsReady      bool   `json:"isReady"`
	IsConnected  bool   `json:"isConnected"`
}

// DuelCard hides the face of cards that are neither matched nor face up.
type DuelCard struct {
	Index     int    `json:"index"`
	IsMatched bool   `json:"isMatched"`
	MatchedBy string `json:"matchedBy,omitempty"`
	FaceUp    bool   `json:"faceUp"`
	FaceID    int    `json:"faceId,omitempty"`
	FaceLabel string `json:"faceLabel,omitempty"`
}

// MatchState is the full duel view sent on rejoin.
type MatchState struct {
	MatchID     string          `json:"matchId"`
	Status      string          `json:"status"`
	CurrentTurn string          `json:"currentTurn"`
	Players     []DuelStandings `json:"players"`
	Cards       []DuelCard      `json:"cards"`
	ActiveFlips []int           `json:"activeFlips"`
	Winner      string          `json:"winner,omitempty"`
	StartedAt   *time.Time      `json:"startedAt,omitempty"`
	FinishedAt  *time.Time      `json:"finishedAt,omitempty"`
}

type RoomPlayer struct {
	UserID      string `json:"userId"`
	Username    string `json:"username"`
	AvatarURL   string `json:"avatarUrl,omitempty"`
	BorderColor string `json:"borderColor"`
	IsHost      bool   `json:"isHost"`
	IsReady     bool   `json:"isReady"`
	IsConnected bool   `json:"isConnected"`
}

// Room never exposes the password hash, only whether one is set.
type Room struct {
	ID             string       `json:"roomId"`
	Code           string       `json:"code"`
	Name           string       `json:"name"`
	HasPassword    bool         `json:"hasPassword"`
	MaxPlayers     int          `json:"maxPlayers"`
	CurrentPlayers int          `json:"currentPlayers"`
	PairCount      int          `json:"pairCount"`
	SoftCapTime    int          `json:"softCapTime"`
	HardCapTime    *int         `json:"hardCapTime,omitempty"`
	Status         string       `json:"status"`
	HostID         string       `json:"hostId"`
	MatchID        string       `json:"matchId,omitempty"`
	Players        []RoomPlayer `json:"players"`
	CreatedAt      time.Time    `json:"createdAt"`
}

type RoomState struct {
	Room Room `json:"room"`
}

type LeaderboardEntry struct {
	UserID         string  `json:"userId"`
	Username       string  `json:"username"`
	AvatarURL      string  `json:"avatarUrl,omitempty"`
	BorderColor    string  `json:"borderColor,omitempty"`
	PairsFound     int     `json:"pairsFound"`
	FlipCount      int     `json:"flipCount"`
	CompletionTime float64 `json:"completionTime"`
	Score          int     `json:"score"`
	Rank           int     `json:"rank"`
	IsFinished     bool    `json:"isFinished"`
	HasLeft        bool    `json:"hasLeft,omitempty"`
}

// Leaderboard is the HTTP view of a battle royale match.
type Leaderboard struct {
	MatchID    string             `json:"matchId"`
	RoomID     string             `json:"roomId"`
	Status     string             `json:"status"`
	PairCount  int                `json:"pairCount"`
	StartedAt  *time.Time         `json:"startedAt,omitempty"`
	FinishedAt *time.Time         `json:"finishedAt,omitempty"`
	Players    []LeaderboardEntry `json:"players"`
}
