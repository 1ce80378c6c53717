// Package store persists duel matches, rooms and battle royale matches.
package store

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/DoyleJ11/memory-match-backend/internal/engine"
	"github.com/DoyleJ11/memory-match-backend/internal/room"
	"github.com/DoyleJ11/memory-match-backend/internal/royale"
)

// Memory keeps every record in process. Values are cloned on the way in and
// out so callers never share slices with the store.
type Memory struct {
	mu      sync.RWMutex
	duels   map[string]engine.Match
	rooms   map[string]room.Room
	codes   map[string]string
	royales map[string]royale.Match
}

func NewMemory() *Memory {
	return &Memory{
		duels:   make(map[string]engine.Match),
		rooms:   make(map[string]room.Room),
		codes:   make(map[string]string),
		royales: make(map[string]royale.Match),
	}
}

func (s *Memory) GetDuel(_ context.Context, id string) (engine.Match, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.duels[id]
	if !ok {
		return engine.Match{}, engine.ErrMatchNotFound
	}
	return m.Clone(), nil
}

func (s *Memory) SaveDuel(_ context.Context, m engine.Match) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.duels[m.ID] = m.Clone()
	return nil
}

func (s *Memory) DeleteDuel(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.duels[id]; !ok {
		return engine.ErrMatchNotFound
	}
	delete(s.duels, id)
	return nil
}

func (s *Memory) ActiveDuelFor(_ context.Context, userID string) (engine.Match, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var found *engine.Match
	for _, m := range s.duels {
		if m.Status.Terminal() || m.PlayerIndex(userID) < 0 {
			continue
		}
		if found == nil || m.CreatedAt.After(found.CreatedAt) {
			c := m
			found = &c
		}
	}
	if found == nil {
		return engine.Match{}, engine.ErrMatchNotFound
	}
	return found.Clone(), nil
}

func (s *Memory) PurgeDuels(_ context.Context, finishedBefore time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, m := range s.duels {
		if m.Status.Terminal() && m.FinishedAt != nil && m.FinishedAt.Before(finishedBefore) {
			delete(s.duels, id)
			n++
		}
	}
	return n, nil
}

func (s *Memory) CreateRoom(_ context.Context, r room.Room) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, taken := s.codes[r.Code]; taken {
		return room.ErrCodeTaken
	}
	s.rooms[r.ID] = r.Clone()
	s.codes[r.Code] = r.ID
	return nil
}

func (s *Memory) GetRoom(_ context.Context, id string) (room.Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rooms[id]
	if !ok {
		return room.Room{}, room.ErrRoomNotFound
	}
	return r.Clone(), nil
}

func (s *Memory) GetRoomByCode(_ context.Context, code string) (room.Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.codes[code]
	if !ok {
		return room.Room{}, room.ErrRoomNotFound
	}
	return s.rooms[id].Clone(), nil
}

func (s *Memory) SaveRoom(_ context.Context, r room.Room) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rooms[r.ID]; !ok {
		return room.ErrRoomNotFound
	}
	s.rooms[r.ID] = r.Clone()
	return nil
}

func (s *Memory) DeleteRoom(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rooms[id]
	if !ok {
		return room.ErrRoomNotFound
	}
	delete(s.codes, r.Code)
	delete(s.rooms, id)
	return nil
}

func (s *Memory) ListOpenRooms(_ context.Context, limit int) ([]room.Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []room.Room
	for _, r := range s.rooms {
		if r.Status == room.StatusWaiting && !r.HasPassword() {
			out = append(out, r.Clone())
		}
	}
	slices.SortFunc(out, func(a, b room.Room) int { return b.CreatedAt.Compare(a.CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Memory) StaleRooms(_ context.Context, updatedBefore time.Time) ([]room.Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []room.Room
	for _, r := range s.rooms {
		if r.UpdatedAt.Before(updatedBefore) {
			out = append(out, r.Clone())
		}
	}
	return out, nil
}

func (s *Memory) GetRoyale(_ context.Context, id string) (royale.Match, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.royales[id]
	if !ok {
		return royale.Match{}, royale.ErrMatchNotFound
	}
	return m.Clone(), nil
}

func (s *Memory) SaveRoyale(_ context.Context, m royale.Match) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.royales[m.ID] = m.Clone()
	return nil
}

func (s *Memory) DeleteRoyale(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.royales[id]; !ok {
		return royale.ErrMatchNotFound
	}
	delete(s.royales, id)
	return nil
}
