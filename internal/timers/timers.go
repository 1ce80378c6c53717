// Package timers keeps cancellable one-shot timers keyed by entity and user.
package timers

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

type Scope string

const (
	ScopeDuelForfeit   Scope = "duel_forfeit"
	ScopeRoyaleRemove  Scope = "royale_remove"
	ScopeRoyaleHardCap Scope = "royale_hard_cap"
)

// Key identifies one pending timer. UserID is empty for entity-wide timers.
type Key struct {
	Scope    Scope
	EntityID string
	UserID   string
}

type handle struct {
	gen   uint64
	timer clockwork.Timer
}

type Registry struct {
	clock  clockwork.Clock
	mu     sync.Mutex
	timers map[Key]*handle
	gen    uint64
}

func NewRegistry(clock clockwork.Clock) *Registry {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Registry{clock: clock, timers: make(map[Key]*handle)}
}

// Schedule runs fn after d unless cancelled first. Scheduling an existing key
// replaces the previous timer.
func (r *Registry) Schedule(key Key, d time.Duration, fn func()) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if prev := r.timers[key]; prev != nil {
		prev.timer.Stop()
	}
	r.gen++
	h := &handle{gen: r.gen}
	h.timer = r.clock.AfterFunc(d, func() {
		r.mu.Lock()
		cur := r.timers[key]
		if cur == nil || cur.gen != h.gen {
			// superseded or cancelled after the timer already fired
			r.mu.Unlock()
			return
		}
		delete(r.timers, key)
		r.mu.Unlock()
		fn()
	})
	r.timers[key] = h
}

// Cancel reports whether a pending timer was stopped. Safe on absent keys.
func (r *Registry) Cancel(key Key) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	h := r.timers[key]
	if h == nil {
		return false
	}
	h.timer.Stop()
	delete(r.timers, key)
	return true
}

func (r *Registry) Pending(key Key) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.timers[key]
	return ok
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.timers)
}

// Stop cancels everything. Used on shutdown.
func (r *Registry) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for k, h := range r.timers {
		h.timer.Stop()
		delete(r.timers, k)
	}
}
