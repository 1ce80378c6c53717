package history

import (
	"context"
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

const defaultMaxPending = 1024

type pendingRecord struct {
	duel     *DuelOutcome
	royale   *RoyaleOutcome
	attempts int
}

// RetryingRecorder swallows inner failures, logs them and keeps the record for
// a later Retry. The oldest record is dropped once MaxPending is reached.
type RetryingRecorder struct {
	inner      Recorder
	log        *zap.Logger
	maxPending int

	mu      sync.Mutex
	pending []pendingRecord
}

func NewRetryingRecorder(inner Recorder, log *zap.Logger, maxPending int) *RetryingRecorder {
	if maxPending <= 0 {
		maxPending = defaultMaxPending
	}
	return &RetryingRecorder{inner: inner, log: log.Named("history"), maxPending: maxPending}
}

func (r *RetryingRecorder) RecordDuel(ctx context.Context, o DuelOutcome) error {
	if err := r.inner.RecordDuel(ctx, o); err != nil {
		r.log.Warn("duel history write failed, queued for retry",
			zap.String("matchId", o.MatchID), zap.Error(err))
		r.enqueue(pendingRecord{duel: &o, attempts: 1})
	}
	return nil
}

func (r *RetryingRecorder) RecordRoyale(ctx context.Context, o RoyaleOutcome) error {
	if err := r.inner.RecordRoyale(ctx, o); err != nil {
		r.log.Warn("battle royale history write failed, queued for retry",
			zap.String("matchId", o.MatchID), zap.Error(err))
		r.enqueue(pendingRecord{royale: &o, attempts: 1})
	}
	return nil
}

func (r *RetryingRecorder) enqueue(p pendingRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.pending) >= r.maxPending {
		dropped := r.pending[0]
		r.pending = r.pending[1:]
		r.log.Error("history retry queue full, dropping record", zap.String("matchId", dropped.matchID()))
	}
	r.pending = append(r.pending, p)
}

// Retry re-drives every queued record once. Records that fail again stay
// queued; the combined error of this pass is returned.
func (r *RetryingRecorder) Retry(ctx context.Context) error {
	r.mu.Lock()
	batch := r.pending
	r.pending = nil
	r.mu.Unlock()

	var errs error
	var failed []pendingRecord
	for _, p := range batch {
		if ctx.Err() != nil {
			failed = append(failed, p)
			continue
		}
		var err error
		if p.duel != nil {
			err = r.inner.RecordDuel(ctx, *p.duel)
		} else {
			err = r.inner.RecordRoyale(ctx, *p.royale)
		}
		if err != nil {
			p.attempts++
			failed = append(failed, p)
			errs = multierr.Append(errs, err)
			continue
		}
		r.log.Info("history record written on retry",
			zap.String("matchId", p.matchID()), zap.Int("attempts", p.attempts+1))
	}

	if len(failed) > 0 {
		r.mu.Lock()
		r.pending = append(failed, r.pending...)
		if over := len(r.pending) - r.maxPending; over > 0 {
			r.pending = r.pending[over:]
		}
		r.mu.Unlock()
	}
	return errs
}

func (r *RetryingRecorder) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

func (p pendingRecord) matchID() string {
	if p.duel != nil {
		return p.duel.MatchID
	}
	return p.royale.MatchID
}
