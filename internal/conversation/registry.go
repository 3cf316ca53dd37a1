// Package conversation keeps per-conversation history and response caches.
// States are created on first use and purged after an idle timeout; nothing
// is shared between conversations.
package conversation

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"gopherai-analyst/internal/metrics"
)

const (
	DefaultHistoryTurns   = 10
	DefaultIdleTimeout    = 30 * time.Minute
	DefaultSweepThreshold = 64
)

// ErrNotOwner is returned when a live conversation id is used by a user
// other than the one who opened it.
var ErrNotOwner = errors.New("conversation belongs to another user")

type Options struct {
	// HistoryTurns is rounded down to an even number, minimum 2.
	HistoryTurns   int
	IdleTimeout    time.Duration
	SweepThreshold int
	Now            func() time.Time
	Logger         *zap.Logger
}

type Registry struct {
	opts   Options
	logger *zap.Logger

	mu     sync.Mutex
	states map[string]*State
}

func NewRegistry(opts Options) *Registry {
	if opts.HistoryTurns <= 0 {
		opts.HistoryTurns = DefaultHistoryTurns
	}
	opts.HistoryTurns -= opts.HistoryTurns % 2
	if opts.HistoryTurns < 2 {
		opts.HistoryTurns = 2
	}
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = DefaultIdleTimeout
	}
	if opts.SweepThreshold <= 0 {
		opts.SweepThreshold = DefaultSweepThreshold
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		opts:   opts,
		logger: logger.Named("conversation"),
		states: make(map[string]*State),
	}
}

func (r *Registry) HistoryTurns() int { return r.opts.HistoryTurns }

func (r *Registry) Now() time.Time { return r.opts.Now() }

// Acquire returns the live state for id, creating it for owner if needed,
// and marks it active. A live state opened by someone else yields
// ErrNotOwner. Idle states are swept first once the registry grows past the
// sweep threshold.
func (r *Registry) Acquire(id, owner string) (*State, error) {
	now := r.opts.Now()

	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.states) > r.opts.SweepThreshold {
		r.sweepLocked(now)
	}
	if s, ok := r.states[id]; ok {
		if !s.purgeIfIdle(now, r.opts.IdleTimeout) {
			if s.owner != owner {
				return nil, ErrNotOwner
			}
			s.touch(now)
			return s, nil
		}
		delete(r.states, id)
	}
	s := newState(id, owner, r.opts.HistoryTurns, now)
	r.states[id] = s
	metrics.LiveConversations.Set(float64(len(r.states)))
	return s, nil
}

// Get returns the live state for id without creating or touching it.
func (r *Registry) Get(id string) (*State, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.states[id]
	if !ok || s.Purged() {
		return nil, false
	}
	return s, true
}

// Sweep purges every state idle for longer than the timeout and returns how
// many were removed.
func (r *Registry) Sweep(now time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sweepLocked(now)
}

func (r *Registry) sweepLocked(now time.Time) int {
	removed := 0
	for id, s := range r.states {
		if s.purgeIfIdle(now, r.opts.IdleTimeout) {
			delete(r.states, id)
			removed++
		}
	}
	if removed > 0 {
		r.logger.Debug("purged idle conversations", zap.Int("count", removed), zap.Int("live", len(r.states)))
	}
	metrics.LiveConversations.Set(float64(len(r.states)))
	return removed
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.states)
}

// Run sweeps on every tick until ctx is done.
func (r *Registry) Run(ctx context.Context, every time.Duration) {
	if every <= 0 {
		every = time.Minute
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Sweep(r.opts.Now())
		}
	}
}
