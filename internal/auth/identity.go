package auth

import (
	"context"
	"errors"
	"sync"

	"gorm.io/gorm"

	"github.com/DoyleJ11/memory-match-backend/internal/apperr"
)

var ErrUnknownUser = apperr.New(apperr.KindNotFound, "user not found")

// Identity is the public profile shown to other players.
type Identity struct {
	UserID    string
	Username  string
	AvatarURL string
}

type IdentityLookup interface {
	Lookup(ctx context.Context, userID string) (Identity, error)
}

// Resolve merges the token principal with the stored profile. A missing
// profile is not an error; the token's username is used instead.
func Resolve(ctx context.Context, lookup IdentityLookup, p Principal) (Identity, error) {
	id := Identity{UserID: p.UserID, Username: p.Username}
	if lookup == nil {
		return withFallbackName(id), nil
	}
	stored, err := lookup.Lookup(ctx, p.UserID)
	if errors.Is(err, ErrUnknownUser) {
		return withFallbackName(id), nil
	}
	if err != nil {
		return Identity{}, apperr.Internal("look up user", err)
	}
	if stored.Username != "" {
		id.Username = stored.Username
	}
	id.AvatarURL = stored.AvatarURL
	return withFallbackName(id), nil
}

func withFallbackName(id Identity) Identity {
	if id.Username == "" {
		id.Username = "Player"
	}
	return id
}

// UserRecord maps the account service's users table. It is read only here.
type UserRecord struct {
	ID        string `gorm:"primaryKey"`
	Username  string
	AvatarURL string `gorm:"column:avatar_url"`
}

func (UserRecord) TableName() string { return "users" }

type GormIdentities struct {
	db *gorm.DB
}

func NewGormIdentities(db *gorm.DB) *GormIdentities { return &GormIdentities{db: db} }

func (g *GormIdentities) Lookup(ctx context.Context, userID string) (Identity, error) {
	var u UserRecord
	err := g.db.WithContext(ctx).Select("id", "username", "avatar_url").Take(&u, "id = ?", userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Identity{}, ErrUnknownUser
	}
	if err != nil {
		return Identity{}, err
	}
	return Identity{UserID: u.ID, Username: u.Username, AvatarURL: u.AvatarURL}, nil
}

// StaticIdentities serves profiles from memory for development and tests.
type StaticIdentities struct {
	mu    sync.RWMutex
	users map[string]Identity
}

func NewStaticIdentities(users ...Identity) *StaticIdentities {
	s := &StaticIdentities{users: make(map[string]Identity, len(users))}
	for _, u := range users {
		s.users[u.UserID] = u
	}
	return s
}

func (s *StaticIdentities) Put(u Identity) {
	s.mu.Lock()
	s.users[u.UserID] = u
	s.mu.Unlock()
}

func (s *StaticIdentities) Lookup(_ context.Context, userID string) (Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[userID]
	if !ok {
		return Identity{}, ErrUnknownUser
	}
	return u, nil
}
