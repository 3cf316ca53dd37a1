package conversation

import (
	"sync"
	"time"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// State is everything remembered about one conversation. It belongs to the
// user who opened it and is handed out by the Registry. Once purged it reads
// as empty and ignores writes.
type State struct {
	id       string
	owner    string
	maxTurns int
	cache    *Cache

	mu           sync.Mutex
	history      []Turn
	exchanges    int
	lastActivity time.Time
	purged       bool
}

func newState(id, owner string, maxTurns int, now time.Time) *State {
	return &State{
		id:           id,
		owner:        owner,
		maxTurns:     maxTurns,
		cache:        NewCache(),
		lastActivity: now,
	}
}

func (s *State) ID() string { return s.id }

func (s *State) Owner() string { return s.owner }

// History returns a copy of the retained turns, oldest first.
func (s *State) History() []Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.purged {
		return nil
	}
	out := make([]Turn, len(s.history))
	copy(out, s.history)
	return out
}

// Record appends one question/answer exchange, dropping the oldest pairs
// beyond the configured bound.
func (s *State) Record(question, answer string, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.purged {
		return
	}
	s.history = append(s.history,
		Turn{Role: RoleUser, Content: question},
		Turn{Role: RoleAssistant, Content: answer},
	)
	for len(s.history) > s.maxTurns {
		s.history = s.history[2:]
	}
	s.exchanges++
	s.lastActivity = now
}

// Exchanges counts every recorded exchange since the last reset, including
// those already dropped from History.
func (s *State) Exchanges() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exchanges
}

func (s *State) Lookup(question string) (Entry, bool) {
	if s.Purged() {
		return Entry{}, false
	}
	return s.cache.Get(question)
}

func (s *State) Remember(question string, e Entry) bool {
	if s.Purged() {
		return false
	}
	return s.cache.Put(question, e)
}

// Reset clears history and cache; the conversation stays active.
func (s *State) Reset(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.purged {
		return
	}
	s.history = nil
	s.exchanges = 0
	s.lastActivity = now
	s.cache.Clear()
}

func (s *State) Purged() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.purged
}

func (s *State) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

func (s *State) touch(now time.Time) {
	s.mu.Lock()
	if now.After(s.lastActivity) {
		s.lastActivity = now
	}
	s.mu.Unlock()
}

// purgeIfIdle is terminal: a purged state never becomes active again.
func (s *State) purgeIfIdle(now time.Time, idle time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.purged {
		return true
	}
	if now.Sub(s.lastActivity) <= idle {
		return false
	}
	s.purged = true
	s.history = nil
	s.cache.Clear()
	return true
}
