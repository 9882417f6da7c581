package certificate

import (
	"sync"
	"time"
)

// TokenStore tracks single-use token ids (jti) to detect certificate
// replay. One store per process; entries expire with their certificate
// and are purged incrementally at each check.
type TokenStore struct {
	mu   sync.Mutex
	seen map[string]int64 // jti -> expiry unix seconds
}

// NewTokenStore returns an empty token store.
func NewTokenStore() *TokenStore {
	return &TokenStore{seen: map[string]int64{}}
}

// CheckAndRecord records a token id. Returns true if new, false if the
// id was already seen (replay). Check-and-insert is atomic.
func (s *TokenStore) CheckAndRecord(jti string, exp int64) bool {
	now := time.Now().Unix()

	s.mu.Lock()
	defer s.mu.Unlock()

	for id, e := range s.seen {
		if e <= now {
			delete(s.seen, id)
		}
	}
	if _, ok := s.seen[jti]; ok {
		return false
	}
	s.seen[jti] = exp
	return true
}

// Size returns the number of tracked (unexpired at last purge) tokens.
func (s *TokenStore) Size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.seen)
}
