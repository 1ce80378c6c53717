// Package types is the wire protocol shared with game clients. Every
// websocket frame is an Envelope; Type names the event and Data carries one
// of the payloads below.
package types

import (
	"encoding/json"
	"time"
)

type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Events shared by both namespaces.
const (
	EvtError = "error"
)

// Duel namespace, client -> server.
const (
	DuelJoinQueue   = "join_queue"
	DuelLeaveQueue  = "leave_queue"
	DuelPlayerReady = "player_ready"
	DuelFlipCard    = "flip_card"
	DuelSurrender   = "surrender"
	DuelRejoinMatch = "rejoin_match"
)

// Duel namespace, server -> client.
const (
	EvtQueueJoined        = "queue_joined"
	EvtQueueLeft          = "queue_left"
	EvtMatchFound         = "match_found"
	EvtPlayerReady        = "player_ready"
	EvtGameStarted        = "game_started"
	EvtCardFlipped        = "card_flipped"
	EvtMatchResult        = "match_result"
	EvtGameOver           = "game_over"
	EvtPlayerDisconnected = "player_disconnected"
	EvtPlayerReconnected  = "player_reconnected"
	EvtMatchState         = "match_state"
)

// Battle royale namespace, client -> server.
const (
	RoyaleJoinRoom       = "join_room"
	RoyaleToggleReady    = "toggle_ready"
	RoyaleStartMatch     = "start_match"
	RoyaleFlipCard       = "flip_card"
	RoyaleUpdateProgress = "update_progress"
	RoyalePlayerFinished = "player_finished"
	RoyaleKickPlayer     = "kick_player"
	RoyaleLeaveRoom      = "leave_room"
	RoyaleCloseRoom      = "close_room"
)

// Battle royale namespace, server -> client.
const (
	EvtRoomState         = "room_state"
	EvtPlayerJoined      = "player_joined"
	EvtMatchCountdown    = "match_countdown"
	EvtMatchStart        = "match_start"
	EvtFlipAcknowledged  = "flip_acknowledged"
	EvtLeaderboardUpdate = "leaderboard_update"
	EvtPlayerFinished    = "player_finished"
	EvtMatchFinished     = "match_finished"
	EvtPlayerLeft        = "player_left"
	EvtKicked            = "kicked"
	EvtRoomClosed        = "room_closed"
)

type Error struct {
	Message string `json:"message"`
}

type QueueJoined struct {
	Position    int `json:"position"`
	QueueLength int `json:"queueLength"`
}

type QueueLeft struct{}

type DuelIdentity struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
	Avatar   string `json:"avatar,omitempty"`
}

type CardFace struct {
	FaceID    int    `json:"faceId"`
	FaceLabel string `json:"faceLabel"`
}

// MatchFound is addressed to one player; Player is always the receiver.
type MatchFound struct {
	MatchID       string       `json:"matchId"`
	Player        DuelIdentity `json:"player"`
	Opponent      DuelIdentity `json:"opponent"`
	Cards         []CardFace   `json:"cards"`
	IsFirstPlayer bool         `json:"isFirstPlayer"`
}

type DuelReady struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
}

type GameStarted struct {
	MatchID     string          `json:"matchId"`
	CurrentTurn string          `json:"currentTurn"`
	StartedAt   time.Time       `json:"startedAt"`
	Players     []DuelStandings `json:"players"`
}

type CardFlipped struct {
	MatchID   string `json:"matchId"`
	CardIndex int    `json:"cardIndex"`
	FlippedBy string `json:"flippedBy"`
	FaceID    int    `json:"faceId"`
	FaceLabel string `json:"faceLabel"`
}

type MatchResult struct {
	MatchID     string          `json:"matchId"`
	CardIndices [2]int          `json:"cardIndices"`
	IsMatch     bool            `json:"isMatch"`
	MatchedBy   string          `json:"matchedBy,omitempty"`
	NextTurn    string          `json:"nextTurn"`
	Players     []DuelStandings `json:"players"`
}

type GameOver struct {
	MatchID    string         `json:"matchId"`
	Winner     *DuelStandings `json:"winner,omitempty"`
	Loser      *DuelStandings `json:"loser,omitempty"`
	FinishedAt time.Time      `json:"finishedAt"`
	Reason     string         `json:"reason,omitempty"`
}

type PlayerDisconnected struct {
	UserID          string `json:"userId"`
	WaitTimeSeconds int    `json:"waitTimeSeconds"`
}

type PlayerReconnected struct {
	UserID string `json:"userId"`
}

type MatchCountdown struct {
	MatchID   string `json:"matchId"`
	Countdown int    `json:"countdown"`
}

// MatchStart carries the shared board as face ids in position order.
type MatchStart struct {
	MatchID string     `json:"matchId"`
	Seed    string     `json:"seed"`
	Cards   []int      `json:"cards"`
	Faces   []CardFace `json:"faces"`
	StartAt time.Time  `json:"startAt"`
}

type FlipAcknowledged struct {
	CardIndex int   `json:"cardIndex"`
	Timestamp int64 `json:"timestamp"`
}

type LeaderboardUpdate struct {
	MatchID string             `json:"matchId"`
	Players []LeaderboardEntry `json:"players"`
}

type RacerFinished struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
	Score    int    `json:"score"`
	Rank     int    `json:"rank"`
}

type MatchFinished struct {
	MatchID     string             `json:"matchId"`
	Leaderboard []LeaderboardEntry `json:"leaderboard"`
	FinishedAt  time.Time          `json:"finishedAt"`
}

type PlayerJoined struct {
	Player  RoomPlayer   `json:"player"`
	Players []RoomPlayer `json:"players"`
}

type RoomReady struct {
	UserID  string       `json:"userId"`
	IsReady bool         `json:"isReady"`
	Players []RoomPlayer `json:"players"`
}

// PlayerLeft covers leaves, kicks and grace-period removals.
type PlayerLeft struct {
	UserID  string       `json:"userId"`
	Reason  string       `json:"reason"`
	HostID  string       `json:"hostId"`
	Players []RoomPlayer `json:"players"`
}

type RoomPlayerDisconnected struct {
	UserID          string       `json:"userId"`
	WaitTimeSeconds int          `json:"waitTimeSeconds"`
	Players         []RoomPlayer `json:"players"`
}

type Kicked struct {
	RoomID  string `json:"roomId"`
	Message string `json:"message"`
}

type RoomClosed struct {
	RoomID  string `json:"roomId"`
	Message string `json:"message"`
}
