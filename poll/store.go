package poll

import (
	"fmt"
	"math/rand/v2"
	"sync"

	"livepoll/domain"
)

// The 6-digit space makes collisions negligible, but a bounded retry keeps a
// pathological (near-full) store from spinning forever.
const maxCodeAttempts = 100

// Store is the registry of live sessions. The store lock only guards the map;
// each session carries its own lock so sessions never contend with each other.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewStore() *Store {
	return &Store{sessions: make(map[string]*Session)}
}

// Create allocates a session under a fresh 6-digit code.
func (st *Store) Create(ownerID string) (*Session, error) {
	st.mu.Lock()
	defer st.mu.Unlock()

	for range maxCodeAttempts {
		code := fmt.Sprintf("%06d", 100000+rand.IntN(900000))
		if _, taken := st.sessions[code]; taken {
			continue
		}
		s := newSession(code, ownerID)
		st.sessions[code] = s
		return s, nil
	}
	return nil, domain.ErrResourceExhausted
}

func (st *Store) Get(code string) (*Session, bool) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	s, ok := st.sessions[code]
	return s, ok
}

// ForEach visits every live session. fn must not call back into the store.
func (st *Store) ForEach(fn func(code string, s *Session)) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	for code, s := range st.sessions {
		fn(code, s)
	}
}

func (st *Store) Delete(code string) {
	st.mu.Lock()
	defer st.mu.Unlock()
	delete(st.sessions, code)
}

func (st *Store) Len() int {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return len(st.sessions)
}
