// Package duel runs duel matches against the store: every command is
// load, apply, save under the match's lock.
package duel

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/DoyleJ11/memory-match-backend/internal/apperr"
	"github.com/DoyleJ11/memory-match-backend/internal/engine"
	"github.com/DoyleJ11/memory-match-backend/internal/history"
	"github.com/DoyleJ11/memory-match-backend/internal/keylock"
)

type Repository interface {
	GetDuel(ctx context.Context, id string) (engine.Match, error)
	SaveDuel(ctx context.Context, m engine.Match) error
	DeleteDuel(ctx context.Context, id string) error
	// ActiveDuelFor returns the newest non-terminal match of the user.
	ActiveDuelFor(ctx context.Context, userID string) (engine.Match, error)
	PurgeDuels(ctx context.Context, finishedBefore time.Time) (int, error)
}

// Transition is the saved result of one command. No events means nothing changed.
type Transition struct {
	Match  engine.Match
	Events []engine.Event
}

func (t Transition) Has(e engine.EventType) bool { return engine.ContainsEvent(t.Events, e) }

func (t Transition) Completed() bool { return t.Has(engine.EvtGameCompleted) }

type Service struct {
	repo     Repository
	locks    *keylock.Locker
	recorder history.Recorder
	clock    clockwork.Clock
	log      *zap.Logger
}

func NewService(repo Repository, locks *keylock.Locker, recorder history.Recorder, clock clockwork.Clock, log *zap.Logger) *Service {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Service{
		repo:     repo,
		locks:    locks,
		recorder: recorder,
		clock:    clock,
		log:      log.Named("duel"),
	}
}

func lockKey(matchID string) string { return "duel:" + matchID }

// Create stores a freshly paired match.
func (s *Service) Create(ctx context.Context, m engine.Match) error {
	unlock := s.locks.Lock(lockKey(m.ID))
	defer unlock()
	if err := s.repo.SaveDuel(ctx, m); err != nil {
		return apperr.Internal("save duel match", err)
	}
	s.log.Info("duel match created",
		zap.String("matchId", m.ID),
		zap.String("first", m.Players[0].UserID),
		zap.String("second", m.Players[1].UserID))
	return nil
}

func (s *Service) Get(ctx context.Context, matchID string) (engine.Match, error) {
	return s.repo.GetDuel(ctx, matchID)
}

// ActiveFor reports the user's live match, if any.
func (s *Service) ActiveFor(ctx context.Context, userID string) (engine.Match, bool, error) {
	m, err := s.repo.ActiveDuelFor(ctx, userID)
	if apperr.KindOf(err) == apperr.KindNotFound {
		return engine.Match{}, false, nil
	}
	if err != nil {
		return engine.Match{}, false, err
	}
	return m, true, nil
}

// InMatch is ActiveFor without the match, shaped for the queue's guard.
func (s *Service) InMatch(ctx context.Context, userID string) (bool, error) {
	_, active, err := s.ActiveFor(ctx, userID)
	return active, err
}

func (s *Service) MarkReady(ctx context.Context, matchID, userID string) (Transition, error) {
	return s.apply(ctx, matchID, engine.Command{Type: engine.CmdMarkReady, UserID: userID})
}

// FlipCard also returns the tagged flip outcome so callers never inspect
// lastResolved to learn whether a pair was just decided.
func (s *Service) FlipCard(ctx context.Context, matchID, userID string, cardIndex int) (Transition, engine.FlipOutcome, error) {
	tr, err := s.apply(ctx, matchID, engine.Command{Type: engine.CmdFlipCard, UserID: userID, CardIndex: cardIndex})
	if err != nil {
		return Transition{}, nil, err
	}
	return tr, engine.OutcomeOf(tr.Events), nil
}

func (s *Service) Surrender(ctx context.Context, matchID, userID string) (Transition, error) {
	return s.apply(ctx, matchID, engine.Command{Type: engine.CmdSurrender, UserID: userID})
}

func (s *Service) Disconnect(ctx context.Context, matchID, userID, connectionID string) (Transition, error) {
	return s.apply(ctx, matchID, engine.Command{Type: engine.CmdDisconnect, UserID: userID, ConnectionID: connectionID})
}

func (s *Service) Reconnect(ctx context.Context, matchID, userID, connectionID string) (Transition, error) {
	return s.apply(ctx, matchID, engine.Command{Type: engine.CmdReconnect, UserID: userID, ConnectionID: connectionID})
}

// DisconnectTimeout is what the forfeit timer calls. It is a no-op if the
// player came back or the match already ended.
func (s *Service) DisconnectTimeout(ctx context.Context, matchID, userID string) (Transition, error) {
	return s.apply(ctx, matchID, engine.Command{Type: engine.CmdDisconnectTimeout, UserID: userID})
}

// PurgeFinished deletes terminal matches that ended before the cutoff.
func (s *Service) PurgeFinished(ctx context.Context, olderThan time.Duration) (int, error) {
	n, err := s.repo.PurgeDuels(ctx, s.clock.Now().Add(-olderThan))
	if err != nil {
		return 0, apperr.Internal("purge finished duels", err)
	}
	return n, nil
}

func (s *Service) apply(ctx context.Context, matchID string, cmd engine.Command) (Transition, error) {
	unlock := s.locks.Lock(lockKey(matchID))
	defer unlock()

	m, err := s.repo.GetDuel(ctx, matchID)
	if err != nil {
		return Transition{}, err
	}

	cmd.At = s.clock.Now()
	events, next, err := engine.Apply(m, cmd)
	if err != nil {
		return Transition{}, err
	}
	if len(events) == 0 {
		return Transition{Match: m}, nil
	}
	if err := s.repo.SaveDuel(ctx, next); err != nil {
		return Transition{}, apperr.Internal("save duel match", err)
	}

	tr := Transition{Match: next, Events: events}
	switch {
	case tr.Completed():
		s.log.Info("duel match completed",
			zap.String("matchId", next.ID),
			zap.String("winner", next.Winner),
			zap.String("reason", string(next.EndReason)))
		s.record(ctx, next)
	case tr.Has(engine.EvtGameCancelled):
		s.log.Info("duel match cancelled", zap.String("matchId", next.ID))
	}
	return tr, nil
}

func (s *Service) record(ctx context.Context, m engine.Match) {
	o := history.DuelOutcome{
		MatchID:   m.ID,
		WinnerID:  m.Winner,
		EndReason: string(m.EndReason),
	}
	if m.StartedAt != nil {
		o.StartedAt = *m.StartedAt
	}
	if m.FinishedAt != nil {
		o.FinishedAt = *m.FinishedAt
	}
	for i, p := range m.Players {
		o.Players[i] = history.DuelPlayerResult{
			UserID:       p.UserID,
			DisplayName:  p.DisplayName,
			Score:        p.Score,
			PairsMatched: p.PairsMatched,
			FlipCount:    p.FlipCount,
		}
	}
	if err := s.recorder.RecordDuel(ctx, o); err != nil {
		s.log.Error("record duel history", zap.String("matchId", m.ID), zap.Error(err))
	}
}
