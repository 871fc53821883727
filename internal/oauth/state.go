package oauth

import (
	"sync"
	"time"
)

const defaultStateTTL = 10 * time.Minute

// StateStore tracks pending authorization states for CSRF protection. A
// state is minted when an authorization round trip starts and must be
// presented exactly once at the callback. Implementations decide where
// pending states live; the in-memory store below is the single-process
// default.
type StateStore interface {
	// Put records a pending state.
	Put(state string)
	// Consume atomically checks and removes a state. It returns true
	// only for a known, unexpired state; a second Consume of the same
	// state always returns false.
	Consume(state string) bool
	// Len reports the number of pending states.
	Len() int
}

// MemoryStateStore is a mutex-guarded StateStore with a per-entry TTL.
// Expired entries are removed by a background sweep so abandoned
// authorization attempts do not accumulate.
type MemoryStateStore struct {
	mu       sync.Mutex
	deadline map[string]time.Time
	ttl      time.Duration

	stopOnce sync.Once
	stop     chan struct{}
}

// NewMemoryStateStore creates a store whose states expire after ttl and
// starts its sweep loop. Call Close to stop the loop.
func NewMemoryStateStore(ttl time.Duration) *MemoryStateStore {
	if ttl <= 0 {
		ttl = defaultStateTTL
	}
	s := &MemoryStateStore{
		deadline: make(map[string]time.Time),
		ttl:      ttl,
		stop:     make(chan struct{}),
	}
	go s.sweepLoop(sweepInterval(ttl))
	return s
}

func (s *MemoryStateStore) Put(state string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deadline[state] = time.Now().Add(s.ttl)
}

func (s *MemoryStateStore) Consume(state string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	deadline, ok := s.deadline[state]
	if !ok {
		return false
	}
	// Spent on first presentation even when it turns out to be expired.
	delete(s.deadline, state)
	return time.Now().Before(deadline)
}

func (s *MemoryStateStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.deadline)
}

// Close stops the sweep loop. Safe to call more than once.
func (s *MemoryStateStore) Close() {
	s.stopOnce.Do(func() { close(s.stop) })
}

func (s *MemoryStateStore) sweepLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.sweep(time.Now())
		case <-s.stop:
			return
		}
	}
}

func (s *MemoryStateStore) sweep(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for state, deadline := range s.deadline {
		if !now.Before(deadline) {
			delete(s.deadline, state)
		}
	}
}

func sweepInterval(ttl time.Duration) time.Duration {
	interval := ttl / 2
	if interval > time.Minute {
		interval = time.Minute
	}
	if interval < time.Second {
		interval = time.Second
	}
	return interval
}
