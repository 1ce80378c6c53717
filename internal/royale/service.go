package royale

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/DoyleJ11/memory-match-backend/internal/apperr"
	"github.com/DoyleJ11/memory-match-backend/internal/deck"
	"github.com/DoyleJ11/memory-match-backend/internal/history"
	"github.com/DoyleJ11/memory-match-backend/internal/keylock"
	"github.com/DoyleJ11/memory-match-backend/internal/room"
)

const (
	codeAttempts    = 5
	publicRoomLimit = 50
)

type Repository interface {
	// CreateRoom fails with room.ErrCodeTaken when the code is in use.
	CreateRoom(ctx context.Context, r room.Room) error
	GetRoom(ctx context.Context, id string) (room.Room, error)
	GetRoomByCode(ctx context.Context, code string) (room.Room, error)
	SaveRoom(ctx context.Context, r room.Room) error
	DeleteRoom(ctx context.Context, id string) error
	// ListOpenRooms returns waiting rooms without a password, newest first.
	ListOpenRooms(ctx context.Context, limit int) ([]room.Room, error)
	StaleRooms(ctx context.Context, updatedBefore time.Time) ([]room.Room, error)

	GetRoyale(ctx context.Context, id string) (Match, error)
	SaveRoyale(ctx context.Context, m Match) error
	DeleteRoyale(ctx context.Context, id string) error
}

type Options struct {
	Scoring         Scoring
	FlipMinInterval time.Duration
	Clock           clockwork.Clock
	NewID           func() string
	NewCode         func() (string, error)
	NewSeed         func() string
}

// Update is the saved result of a progress-type operation.
type Update struct {
	Room           room.Room
	Match          Match
	Racer          Progress
	PlayerFinished bool
	Ended          bool
	Rankings       []Progress
}

// Departure describes a player leaving a room by choice, kick or timeout.
type Departure struct {
	Room        room.Room
	Removed     room.Player
	Deleted     bool
	HostChanged bool
	// Match is set when the departure touched a running match.
	Match *Update
}

type Service struct {
	repo     Repository
	locks    *keylock.Locker
	recorder history.Recorder
	log      *zap.Logger
	opts     Options
}

func NewService(repo Repository, locks *keylock.Locker, recorder history.Recorder, log *zap.Logger, opts Options) *Service {
	if opts.Scoring == (Scoring{}) {
		opts.Scoring = DefaultScoring()
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	if opts.NewCode == nil {
		opts.NewCode = room.GenerateCode
	}
	if opts.NewSeed == nil {
		opts.NewSeed = deck.NewSeed
	}
	return &Service{repo: repo, locks: locks, recorder: recorder, log: log.Named("royale"), opts: opts}
}

func roomKey(roomID string) string { return "room:" + roomID }

func (s *Service) now() time.Time { return s.opts.Clock.Now() }

func (s *Service) CreateRoom(ctx context.Context, host room.Profile, settings room.Settings, connectionID string) (room.Room, error) {
	for attempt := 0; attempt < codeAttempts; attempt++ {
		code, err := s.opts.NewCode()
		if err != nil {
			return room.Room{}, apperr.Internal("generate room code", err)
		}
		r, err := room.New(s.opts.NewID(), code, settings, host, connectionID, s.now())
		if err != nil {
			return room.Room{}, err
		}
		err = s.repo.CreateRoom(ctx, r)
		if errors.Is(err, room.ErrCodeTaken) {
			s.log.Debug("room code collision, regenerating", zap.String("code", code))
			continue
		}
		if err != nil {
			return room.Room{}, apperr.Internal("create room", err)
		}
		s.log.Info("room created", zap.String("roomId", r.ID), zap.String("code", r.Code), zap.String("host", host.UserID))
		return r, nil
	}
	return room.Room{}, apperr.Internal("create room", errors.New("no free room code"))
}

func (s *Service) GetRoom(ctx context.Context, roomID string) (room.Room, error) {
	return s.repo.GetRoom(ctx, roomID)
}

func (s *Service) GetRoomByCode(ctx context.Context, code string) (room.Room, error) {
	return s.repo.GetRoomByCode(ctx, strings.ToUpper(strings.TrimSpace(code)))
}

// ListPublic filters open rooms by connected player count. Zero bounds are
// ignored.
func (s *Service) ListPublic(ctx context.Context, minPlayers, maxPlayers int) ([]room.Room, error) {
	rooms, err := s.repo.ListOpenRooms(ctx, publicRoomLimit)
	if err != nil {
		return nil, apperr.Internal("list rooms", err)
	}
	out := rooms[:0]
	for _, r := range rooms {
		n := r.CurrentPlayers()
		if minPlayers > 0 && n < minPlayers {
			continue
		}
		if maxPlayers > 0 && n > maxPlayers {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

// mutateRoom runs fn on a fresh copy of the room under its lock and saves it
// if fn succeeds.
func (s *Service) mutateRoom(ctx context.Context, roomID string, fn func(r *room.Room) error) (room.Room, error) {
	unlock := s.locks.Lock(roomKey(roomID))
	defer unlock()

	r, err := s.repo.GetRoom(ctx, roomID)
	if err != nil {
		return room.Room{}, err
	}
	if err := fn(&r); err != nil {
		return room.Room{}, err
	}
	if err := s.repo.SaveRoom(ctx, r); err != nil {
		return room.Room{}, apperr.Internal("save room", err)
	}
	return r, nil
}

// JoinRoom adds the player or restores their slot.
func (s *Service) JoinRoom(ctx context.Context, roomID string, p room.Profile, password, connectionID string) (room.Room, bool, error) {
	var rejoined bool
	r, err := s.mutateRoom(ctx, roomID, func(r *room.Room) error {
		var err error
		rejoined, err = r.Join(p, password, connectionID, s.now())
		return err
	})
	if err != nil {
		return room.Room{}, false, err
	}
	return r, rejoined, nil
}

func (s *Service) SetReady(ctx context.Context, roomID, userID string, ready bool) (room.Room, error) {
	return s.mutateRoom(ctx, roomID, func(r *room.Room) error {
		return r.SetReady(userID, ready, s.now())
	})
}

func (s *Service) ToggleReady(ctx context.Context, roomID, userID string) (room.Room, bool, error) {
	var ready bool
	r, err := s.mutateRoom(ctx, roomID, func(r *room.Room) error {
		var err error
		ready, err = r.ToggleReady(userID, s.now())
		return err
	})
	return r, ready, err
}

// Disconnect marks the player offline. It reports false for stale or
// repeated closes.
func (s *Service) Disconnect(ctx context.Context, roomID, userID, connectionID string) (room.Room, bool, error) {
	var changed bool
	r, err := s.mutateRoom(ctx, roomID, func(r *room.Room) error {
		changed = r.MarkDisconnected(userID, connectionID, s.now())
		return nil
	})
	return r, changed, err
}

func (s *Service) Leave(ctx context.Context, roomID, userID string) (Departure, error) {
	return s.depart(ctx, roomID, userID, func(r *room.Room) error {
		if r.Player(userID) == nil {
			return room.ErrPlayerNotInRoom
		}
		return nil
	})
}

func (s *Service) Kick(ctx context.Context, roomID, hostID, targetID string) (Departure, error) {
	return s.depart(ctx, roomID, targetID, func(r *room.Room) error {
		switch {
		case !r.IsHost(hostID):
			return room.ErrNotHost
		case hostID == targetID:
			return room.ErrKickSelf
		case r.Player(targetID) == nil:
			return room.ErrPlayerNotInRoom
		}
		return nil
	})
}

// RemoveIfDisconnected is the grace timer's callback. It reports false if the
// player reconnected or is already gone.
func (s *Service) RemoveIfDisconnected(ctx context.Context, roomID, userID string) (Departure, bool, error) {
	d, err := s.depart(ctx, roomID, userID, func(r *room.Room) error {
		p := r.Player(userID)
		if p == nil || p.IsConnected {
			return errStillHere
		}
		return nil
	})
	if errors.Is(err, errStillHere) || apperr.KindOf(err) == apperr.KindNotFound {
		return Departure{}, false, nil
	}
	if err != nil {
		return Departure{}, false, err
	}
	return d, true, nil
}

var errStillHere = errors.New("player reconnected")

func (s *Service) depart(ctx context.Context, roomID, userID string, check func(r *room.Room) error) (Departure, error) {
	unlock := s.locks.Lock(roomKey(roomID))
	defer unlock()

	r, err := s.repo.GetRoom(ctx, roomID)
	if err != nil {
		return Departure{}, err
	}
	if err := check(&r); err != nil {
		return Departure{}, err
	}

	now := s.now()
	prevHost := r.HostID
	removed, _ := r.Remove(userID, now)
	d := Departure{Removed: removed, HostChanged: r.HostID != prevHost}

	if r.MatchID != "" && (r.Status == room.StatusStarting || r.Status == room.StatusInProgress) {
		m, err := s.repo.GetRoyale(ctx, r.MatchID)
		if err != nil && apperr.KindOf(err) != apperr.KindNotFound {
			return Departure{}, err
		}
		if err == nil && m.RemoveRacer(userID) {
			u := Update{Match: m}
			if r.Empty() || m.ShouldEnd() {
				u.Ended = true
				u.Rankings = s.end(ctx, &r, &m)
				u.Match = m
			}
			if !r.Empty() {
				if err := s.repo.SaveRoyale(ctx, m); err != nil {
					return Departure{}, apperr.Internal("save match", err)
				}
			}
			d.Match = &u
		}
	}

	if r.Empty() {
		if err := s.deleteRoom(ctx, r); err != nil {
			return Departure{}, err
		}
		d.Deleted = true
		d.Room = r
		s.log.Info("room emptied and deleted", zap.String("roomId", r.ID))
		return d, nil
	}
	if err := s.repo.SaveRoom(ctx, r); err != nil {
		return Departure{}, apperr.Internal("save room", err)
	}
	if d.Match != nil {
		d.Match.Room = r
	}
	d.Room = r
	return d, nil
}

// CloseRoom is host only and removes the room together with its match.
func (s *Service) CloseRoom(ctx context.Context, roomID, userID string) (room.Room, error) {
	unlock := s.locks.Lock(roomKey(roomID))
	defer unlock()

	r, err := s.repo.GetRoom(ctx, roomID)
	if err != nil {
		return room.Room{}, err
	}
	if !r.IsHost(userID) {
		return room.Room{}, room.ErrNotHost
	}
	if err := s.deleteRoom(ctx, r); err != nil {
		return room.Room{}, err
	}
	s.log.Info("room closed by host", zap.String("roomId", r.ID))
	return r, nil
}

func (s *Service) deleteRoom(ctx context.Context, r room.Room) error {
	if r.MatchID != "" {
		if err := s.repo.DeleteRoyale(ctx, r.MatchID); err != nil && apperr.KindOf(err) != apperr.KindNotFound {
			return apperr.Internal("delete match", err)
		}
	}
	if err := s.repo.DeleteRoom(ctx, r.ID); err != nil && apperr.KindOf(err) != apperr.KindNotFound {
		return apperr.Internal("delete room", err)
	}
	return nil
}

// StartMatch deals the shared board and snapshots connected players. The
// match stays in the starting state until BeginMatch.
func (s *Service) StartMatch(ctx context.Context, roomID, userID string) (room.Room, Match, error) {
	unlock := s.locks.Lock(roomKey(roomID))
	defer unlock()

	r, err := s.repo.GetRoom(ctx, roomID)
	if err != nil {
		return room.Room{}, Match{}, err
	}
	switch {
	case !r.IsHost(userID):
		return room.Room{}, Match{}, room.ErrNotHost
	case r.Status != room.StatusWaiting:
		return room.Room{}, Match{}, room.ErrRoomNotWaiting
	case !r.CanStart():
		return room.Room{}, Match{}, room.ErrCannotStart
	}

	seed := r.Seed
	if seed == "" {
		seed = s.opts.NewSeed()
	}
	cards, err := deck.Deal(r.PairCount, seed)
	if err != nil {
		return room.Room{}, Match{}, apperr.Wrap(apperr.KindValidation, "invalid pair count", err)
	}

	var racers []Progress
	for _, p := range r.Players {
		if !p.IsConnected {
			continue
		}
		racers = append(racers, Progress{
			UserID:      p.UserID,
			DisplayName: p.DisplayName,
			AvatarURL:   p.AvatarURL,
			BorderColor: p.BorderColor,
		})
	}

	now := s.now()
	m := NewMatch(s.opts.NewID(), r.ID, seed, cards, racers, s.opts.Scoring, now)
	if err := s.repo.SaveRoyale(ctx, m); err != nil {
		return room.Room{}, Match{}, apperr.Internal("save match", err)
	}
	r.Status = room.StatusStarting
	r.MatchID = m.ID
	r.StartedAt = &now
	r.UpdatedAt = now
	if err := s.repo.SaveRoom(ctx, r); err != nil {
		return room.Room{}, Match{}, apperr.Internal("save room", err)
	}
	s.log.Info("battle royale match starting",
		zap.String("roomId", r.ID), zap.String("matchId", m.ID), zap.Int("racers", len(racers)))
	return r, m, nil
}

// lockMatch loads the match, takes its room's lock and reloads it.
func (s *Service) lockMatch(ctx context.Context, matchID string) (Match, func(), error) {
	m, err := s.repo.GetRoyale(ctx, matchID)
	if err != nil {
		return Match{}, nil, err
	}
	unlock := s.locks.Lock(roomKey(m.RoomID))
	m, err = s.repo.GetRoyale(ctx, matchID)
	if err != nil {
		unlock()
		return Match{}, nil, err
	}
	return m, unlock, nil
}

// BeginMatch runs when the countdown elapses. started is false if the match
// was closed or already begun in the meantime.
func (s *Service) BeginMatch(ctx context.Context, matchID string) (Match, bool, error) {
	m, unlock, err := s.lockMatch(ctx, matchID)
	if apperr.KindOf(err) == apperr.KindNotFound {
		return Match{}, false, nil
	}
	if err != nil {
		return Match{}, false, err
	}
	defer unlock()

	now := s.now()
	if !m.Begin(now) {
		return m, false, nil
	}
	if err := s.repo.SaveRoyale(ctx, m); err != nil {
		return Match{}, false, apperr.Internal("save match", err)
	}
	if r, err := s.repo.GetRoom(ctx, m.RoomID); err == nil && r.Status == room.StatusStarting {
		r.Status = room.StatusInProgress
		r.UpdatedAt = now
		if err := s.repo.SaveRoom(ctx, r); err != nil {
			return Match{}, false, apperr.Internal("save room", err)
		}
	}
	return m, true, nil
}

// AckFlip returns the server time of an accepted flip.
func (s *Service) AckFlip(ctx context.Context, matchID, userID string, cardIndex int) (time.Time, error) {
	m, unlock, err := s.lockMatch(ctx, matchID)
	if err != nil {
		return time.Time{}, err
	}
	defer unlock()

	now := s.now()
	if err := m.AckFlip(userID, cardIndex, now, s.opts.FlipMinInterval); err != nil {
		return time.Time{}, err
	}
	if err := s.repo.SaveRoyale(ctx, m); err != nil {
		return time.Time{}, apperr.Internal("save match", err)
	}
	return now, nil
}

func (s *Service) UpdateProgress(ctx context.Context, matchID, userID string, pairsFound, flipCount int, completionTime float64) (Update, error) {
	return s.report(ctx, matchID, userID, func(m *Match, at time.Time) (bool, error) {
		return m.UpdateProgress(userID, pairsFound, flipCount, completionTime, at)
	})
}

func (s *Service) FinishPlayer(ctx context.Context, matchID, userID string, pairsFound, flipCount int, completionTime float64) (Update, error) {
	return s.report(ctx, matchID, userID, func(m *Match, at time.Time) (bool, error) {
		return true, m.FinishPlayer(userID, pairsFound, flipCount, completionTime, at)
	})
}

func (s *Service) report(ctx context.Context, matchID, userID string, fn func(m *Match, at time.Time) (bool, error)) (Update, error) {
	m, unlock, err := s.lockMatch(ctx, matchID)
	if err != nil {
		return Update{}, err
	}
	defer unlock()

	now := s.now()
	finished, err := fn(&m, now)
	if err != nil {
		return Update{}, err
	}
	u := Update{PlayerFinished: finished}
	if m.ShouldEnd() {
		if err := s.endAndSaveRoom(ctx, &m, &u); err != nil {
			return Update{}, err
		}
	}
	if err := s.repo.SaveRoyale(ctx, m); err != nil {
		return Update{}, apperr.Internal("save match", err)
	}
	u.Match = m
	if p := m.Racer(userID); p != nil {
		u.Racer = *p
	}
	return u, nil
}

// ForceFinish ends the match when the hard time cap expires. Racers still
// going stay unranked.
func (s *Service) ForceFinish(ctx context.Context, matchID string) (Update, bool, error) {
	m, unlock, err := s.lockMatch(ctx, matchID)
	if apperr.KindOf(err) == apperr.KindNotFound {
		return Update{}, false, nil
	}
	if err != nil {
		return Update{}, false, err
	}
	defer unlock()

	if m.Status == StatusFinished {
		return Update{}, false, nil
	}
	var u Update
	if err := s.endAndSaveRoom(ctx, &m, &u); err != nil {
		return Update{}, false, err
	}
	if err := s.repo.SaveRoyale(ctx, m); err != nil {
		return Update{}, false, apperr.Internal("save match", err)
	}
	u.Match = m
	s.log.Info("battle royale match hit hard cap", zap.String("matchId", m.ID))
	return u, true, nil
}

func (s *Service) endAndSaveRoom(ctx context.Context, m *Match, u *Update) error {
	r, err := s.repo.GetRoom(ctx, m.RoomID)
	if err != nil && apperr.KindOf(err) != apperr.KindNotFound {
		return err
	}
	u.Ended = true
	u.Rankings = s.end(ctx, &r, m)
	if r.ID == "" {
		return nil
	}
	if err := s.repo.SaveRoom(ctx, r); err != nil {
		return apperr.Internal("save room", err)
	}
	u.Room = r
	return nil
}

// end finishes the match and the room and records history. Callers save.
func (s *Service) end(ctx context.Context, r *room.Room, m *Match) []Progress {
	now := s.now()
	rankings := m.Finish(now)
	if r.ID != "" {
		r.Status = room.StatusFinished
		r.FinishedAt = &now
		r.UpdatedAt = now
	}

	o := history.RoyaleOutcome{
		MatchID:    m.ID,
		RoomID:     m.RoomID,
		PairCount:  m.PairCount,
		FinishedAt: now,
	}
	for _, p := range m.Players {
		o.Racers = append(o.Racers, history.RoyaleRacerResult{
			UserID:         p.UserID,
			DisplayName:    p.DisplayName,
			Rank:           p.Rank,
			Score:          p.Score,
			PairsFound:     p.PairsFound,
			FlipCount:      p.FlipCount,
			CompletionTime: p.CompletionTime,
			Finished:       p.IsFinished,
		})
	}
	if err := s.recorder.RecordRoyale(ctx, o); err != nil {
		s.log.Error("record battle royale history", zap.String("matchId", m.ID), zap.Error(err))
	}
	s.log.Info("battle royale match finished", zap.String("matchId", m.ID), zap.Int("ranked", len(rankings)))
	return rankings
}

// Leaderboard returns the match and its live standings.
func (s *Service) Leaderboard(ctx context.Context, matchID string) (Match, []Progress, error) {
	m, err := s.repo.GetRoyale(ctx, matchID)
	if err != nil {
		return Match{}, nil, err
	}
	return m, m.Standings(), nil
}

// SweepIdleRooms deletes rooms untouched for idleFor that are not mid-match.
func (s *Service) SweepIdleRooms(ctx context.Context, idleFor time.Duration) (int, error) {
	stale, err := s.repo.StaleRooms(ctx, s.now().Add(-idleFor))
	if err != nil {
		return 0, apperr.Internal("list stale rooms", err)
	}
	swept := 0
	for _, candidate := range stale {
		if err := ctx.Err(); err != nil {
			return swept, err
		}
		unlock := s.locks.Lock(roomKey(candidate.ID))
		r, err := s.repo.GetRoom(ctx, candidate.ID)
		if err == nil && r.UpdatedAt.Equal(candidate.UpdatedAt) && r.Status != room.StatusInProgress {
			err = s.deleteRoom(ctx, r)
			if err == nil {
				swept++
			}
		}
		unlock()
		if err != nil && apperr.KindOf(err) != apperr.KindNotFound {
			s.log.Warn("sweep room", zap.String("roomId", candidate.ID), zap.Error(err))
		}
	}
	return swept, nil
}
