package history

import (
	"context"
	"sync"
)

// MemoryRecorder keeps outcomes in process. Used when no database is configured.
type MemoryRecorder struct {
	mu     sync.Mutex
	duels  []DuelOutcome
	royale []RoyaleOutcome
}

func NewMemoryRecorder() *MemoryRecorder { return &MemoryRecorder{} }

func (r *MemoryRecorder) RecordDuel(_ context.Context, o DuelOutcome) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.duels = append(r.duels, o)
	return nil
}

func (r *MemoryRecorder) RecordRoyale(_ context.Context, o RoyaleOutcome) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	o.Racers = append([]RoyaleRacerResult(nil), o.Racers...)
	r.royale = append(r.royale, o)
	return nil
}

func (r *MemoryRecorder) Duels() []DuelOutcome {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]DuelOutcome(nil), r.duels...)
}

func (r *MemoryRecorder) Royales() []RoyaleOutcome {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]RoyaleOutcome(nil), r.royale...)
}
