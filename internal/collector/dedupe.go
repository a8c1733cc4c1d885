package collector

import "github.com/ernie/roundtally/internal/domain"

// SessionSet remembers which (player, match, round) keys one run has
// already emitted. The store's unique constraint is the durable guard;
// this only keeps a single pass from producing the same row twice.
type SessionSet struct {
	seen map[domain.RoundKey]struct{}
}

// NewSessionSet creates an empty set
func NewSessionSet() *SessionSet {
	return &SessionSet{seen: make(map[domain.RoundKey]struct{})}
}

// Seen records key and reports whether it was already present
func (s *SessionSet) Seen(key domain.RoundKey) bool {
	if _, ok := s.seen[key]; ok {
		return true
	}
	s.seen[key] = struct{}{}
	return false
}

// Reset forgets every key. Called at match boundaries.
func (s *SessionSet) Reset() {
	clear(s.seen)
}

// Len returns the number of remembered keys
func (s *SessionSet) Len() int {
	return len(s.seen)
}
