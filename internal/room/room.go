// Package room holds battle royale room membership rules.
package room

import (
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"

	"github.com/DoyleJ11/memory-match-backend/internal/apperr"
	"github.com/DoyleJ11/memory-match-backend/internal/deck"
)

var (
	ErrRoomNotFound     = apperr.New(apperr.KindNotFound, "room not found")
	ErrPlayerNotInRoom  = apperr.New(apperr.KindNotFound, "player not found in room")
	ErrRoomFull         = apperr.New(apperr.KindConflict, "room is full")
	ErrRoomNotWaiting   = apperr.New(apperr.KindConflict, "room is not accepting players")
	ErrWrongPassword    = apperr.New(apperr.KindAuth, "incorrect password")
	ErrNotHost          = apperr.New(apperr.KindForbidden, "only the host can do that")
	ErrCannotStart      = apperr.New(apperr.KindConflict, "all players must be ready")
	ErrCodeTaken        = apperr.New(apperr.KindConflict, "room code already in use")
	ErrNameRequired     = apperr.New(apperr.KindValidation, "room name is required")
	ErrNameTooLong      = apperr.New(apperr.KindValidation, "room name is too long")
	ErrInvalidMaxPlayer = apperr.New(apperr.KindValidation, "max players must be between 2 and 8")
	ErrInvalidPairCount = apperr.New(apperr.KindValidation, "pair count out of range")
	ErrInvalidTimeCap   = apperr.New(apperr.KindValidation, "time caps must be positive")
	ErrKickSelf         = apperr.New(apperr.KindValidation, "host cannot kick themselves")
)

const (
	MinPlayers         = 2
	MaxPlayers         = 8
	DefaultPairCount   = 8
	MinPairCount       = 2
	DefaultSoftCap     = 120
	DefaultBorderColor = "#4CAF50"
	maxNameRunes       = 64
)

type Status string

const (
	StatusWaiting    Status = "waiting"
	StatusStarting   Status = "starting"
	StatusInProgress Status = "inProgress"
	StatusFinished   Status = "finished"
)

// Profile is the display identity a player brings into a room.
type Profile struct {
	UserID      string
	DisplayName string
	AvatarURL   string
	BorderColor string
}

type Player struct {
	UserID         string     `json:"userId"`
	DisplayName    string     `json:"username"`
	AvatarURL      string     `json:"avatarUrl,omitempty"`
	BorderColor    string     `json:"borderColor"`
	IsHost         bool       `json:"isHost"`
	IsReady        bool       `json:"isReady"`
	IsConnected    bool       `json:"isConnected"`
	DisconnectedAt *time.Time `json:"disconnectedAt,omitempty"`
	ConnectionID   string     `json:"connectionId,omitempty"`
	JoinedAt       time.Time  `json:"joinedAt"`
}

type Room struct {
	ID             string     `json:"id"`
	Code           string     `json:"code"`
	Name           string     `json:"name"`
	PasswordHash   string     `json:"passwordHash,omitempty"`
	MaxPlayers     int        `json:"maxPlayers"`
	PairCount      int        `json:"pairCount"`
	SoftCapSeconds int        `json:"softCapTime"`
	HardCapSeconds *int       `json:"hardCapTime,omitempty"`
	Seed           string     `json:"seed,omitempty"`
	Status         Status     `json:"status"`
	HostID         string     `json:"hostId"`
	Players        []Player   `json:"players"`
	MatchID        string     `json:"matchId,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
	UpdatedAt      time.Time  `json:"updatedAt"`
	StartedAt      *time.Time `json:"startedAt,omitempty"`
	FinishedAt     *time.Time `json:"finishedAt,omitempty"`
}

// Settings are the host's choices at creation time. Zero values take defaults.
type Settings struct {
	Name           string
	MaxPlayers     int
	PairCount      int
	SoftCapSeconds int
	HardCapSeconds *int
	Password       string
	Seed           string
}

// NormalizeName trims and NFC-normalizes a room name.
func NormalizeName(name string) string {
	return norm.NFC.String(strings.TrimSpace(name))
}

func (s Settings) withDefaults() Settings {
	s.Name = NormalizeName(s.Name)
	if s.MaxPlayers == 0 {
		s.MaxPlayers = MaxPlayers
	}
	if s.PairCount == 0 {
		s.PairCount = DefaultPairCount
	}
	if s.SoftCapSeconds == 0 {
		s.SoftCapSeconds = DefaultSoftCap
	}
	return s
}

func (s Settings) Validate() error {
	switch {
	case s.Name == "":
		return ErrNameRequired
	case utf8.RuneCountInString(s.Name) > maxNameRunes:
		return ErrNameTooLong
	case s.MaxPlayers < MinPlayers || s.MaxPlayers > MaxPlayers:
		return ErrInvalidMaxPlayer
	case s.PairCount < MinPairCount || s.PairCount > deck.CatalogSize():
		return ErrInvalidPairCount
	case s.SoftCapSeconds < 0:
		return ErrInvalidTimeCap
	case s.HardCapSeconds != nil && *s.HardCapSeconds <= 0:
		return ErrInvalidTimeCap
	}
	return nil
}

// New builds a waiting room with host as its only player.
func New(id, code string, s Settings, host Profile, connectionID string, at time.Time) (Room, error) {
	s = s.withDefaults()
	if err := s.Validate(); err != nil {
		return Room{}, err
	}
	var hash string
	if s.Password != "" {
		h, err := HashPassword(s.Password)
		if err != nil {
			return Room{}, err
		}
		hash = h
	}
	r := Room{
		ID:             id,
		Code:           code,
		Name:           s.Name,
		PasswordHash:   hash,
		MaxPlayers:     s.MaxPlayers,
		PairCount:      s.PairCount,
		SoftCapSeconds: s.SoftCapSeconds,
		HardCapSeconds: s.HardCapSeconds,
		Seed:           s.Seed,
		Status:         StatusWaiting,
		HostID:         host.UserID,
		CreatedAt:      at,
		UpdatedAt:      at,
	}
	r.Players = []Player{newPlayer(host, connectionID, true, at)}
	return r, nil
}

func newPlayer(p Profile, connectionID string, host bool, at time.Time) Player {
	border := p.BorderColor
	if border == "" {
		border = DefaultBorderColor
	}
	return Player{
		UserID:       p.UserID,
		DisplayName:  p.DisplayName,
		AvatarURL:    p.AvatarURL,
		BorderColor:  border,
		IsHost:       host,
		IsConnected:  true,
		ConnectionID: connectionID,
		JoinedAt:     at,
	}
}

func (r *Room) Player(userID string) *Player {
	for i := range r.Players {
		if r.Players[i].UserID == userID {
			return &r.Players[i]
		}
	}
	return nil
}

func (r *Room) IsHost(userID string) bool { return r.HostID == userID }

// CurrentPlayers counts connected players.
func (r *Room) CurrentPlayers() int {
	n := 0
	for _, p := range r.Players {
		if p.IsConnected {
			n++
		}
	}
	return n
}

func (r *Room) IsFull() bool { return r.CurrentPlayers() >= r.MaxPlayers }

func (r *Room) HasPassword() bool { return r.PasswordHash != "" }

// Join adds a player, or restores the slot of one already in the room. A
// returning player skips the status and password checks. A disconnected one
// still needs a free seat, since others may have filled the room meanwhile.
func (r *Room) Join(p Profile, password, connectionID string, at time.Time) (rejoined bool, err error) {
	if existing := r.Player(p.UserID); existing != nil {
		if !existing.IsConnected && r.IsFull() {
			return false, ErrRoomFull
		}
		existing.IsConnected = true
		existing.DisconnectedAt = nil
		existing.ConnectionID = connectionID
		if p.AvatarURL != "" {
			existing.AvatarURL = p.AvatarURL
		}
		if p.BorderColor != "" {
			existing.BorderColor = p.BorderColor
		}
		r.UpdatedAt = at
		return true, nil
	}

	switch {
	case r.Status != StatusWaiting:
		return false, ErrRoomNotWaiting
	case r.IsFull():
		return false, ErrRoomFull
	case r.HasPassword() && !CheckPassword(r.PasswordHash, password):
		return false, ErrWrongPassword
	}

	r.Players = append(r.Players, newPlayer(p, connectionID, len(r.Players) == 0, at))
	r.ensureHost()
	r.UpdatedAt = at
	return false, nil
}

// SetReady records a non-host player's ready flag. The host is always
// considered ready, so setting it is a no-op.
func (r *Room) SetReady(userID string, ready bool, at time.Time) error {
	p := r.Player(userID)
	if p == nil {
		return ErrPlayerNotInRoom
	}
	if p.IsHost {
		return nil
	}
	p.IsReady = ready
	r.UpdatedAt = at
	return nil
}

// ToggleReady flips the flag and returns the new value.
func (r *Room) ToggleReady(userID string, at time.Time) (bool, error) {
	p := r.Player(userID)
	if p == nil {
		return false, ErrPlayerNotInRoom
	}
	if p.IsHost {
		return false, nil
	}
	p.IsReady = !p.IsReady
	r.UpdatedAt = at
	return p.IsReady, nil
}

// CanStart needs two connected players and every connected non-host ready.
func (r *Room) CanStart() bool {
	if r.CurrentPlayers() < MinPlayers {
		return false
	}
	for _, p := range r.Players {
		if p.IsConnected && !p.IsHost && !p.IsReady {
			return false
		}
	}
	return true
}

// Remove drops the player and migrates the host if needed. It returns the
// removed slot; the new host id is in r.HostID.
func (r *Room) Remove(userID string, at time.Time) (Player, bool) {
	i := slices.IndexFunc(r.Players, func(p Player) bool { return p.UserID == userID })
	if i < 0 {
		return Player{}, false
	}
	removed := r.Players[i]
	r.Players = slices.Delete(r.Players, i, i+1)
	if removed.IsHost {
		r.HostID = ""
	}
	r.ensureHost()
	r.UpdatedAt = at
	return removed, true
}

// MarkDisconnected ignores closes from a connection that has been replaced.
func (r *Room) MarkDisconnected(userID, connectionID string, at time.Time) bool {
	p := r.Player(userID)
	if p == nil || !p.IsConnected {
		return false
	}
	if connectionID != "" && p.ConnectionID != "" && p.ConnectionID != connectionID {
		return false
	}
	p.IsConnected = false
	p.DisconnectedAt = &at
	r.UpdatedAt = at
	return true
}

func (r *Room) Empty() bool { return len(r.Players) == 0 }

// ensureHost keeps exactly one host while the room has players: the
// earliest-joined connected player, or the earliest-joined player if nobody
// is connected.
func (r *Room) ensureHost() {
	if len(r.Players) == 0 {
		r.HostID = ""
		return
	}
	if h := r.Player(r.HostID); h != nil && h.IsHost {
		for i := range r.Players {
			r.Players[i].IsHost = r.Players[i].UserID == r.HostID
		}
		return
	}

	pick := -1
	for i, p := range r.Players {
		if !p.IsConnected {
			continue
		}
		if pick < 0 || p.JoinedAt.Before(r.Players[pick].JoinedAt) {
			pick = i
		}
	}
	if pick < 0 {
		pick = 0
		for i, p := range r.Players {
			if p.JoinedAt.Before(r.Players[pick].JoinedAt) {
				pick = i
			}
		}
	}
	for i := range r.Players {
		r.Players[i].IsHost = i == pick
	}
	r.Players[pick].IsReady = false
	r.HostID = r.Players[pick].UserID
}

func (r Room) Clone() Room {
	c := r
	c.Players = make([]Player, len(r.Players))
	for i, p := range r.Players {
		c.Players[i] = p
		if p.DisconnectedAt != nil {
			t := *p.DisconnectedAt
			c.Players[i].DisconnectedAt = &t
		}
	}
	if r.HardCapSeconds != nil {
		v := *r.HardCapSeconds
		c.HardCapSeconds = &v
	}
	if r.StartedAt != nil {
		t := *r.StartedAt
		c.StartedAt = &t
	}
	if r.FinishedAt != nil {
		t := *r.FinishedAt
		c.FinishedAt = &t
	}
	return c
}
