package collector

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MatchNumberSource reports the highest match number already stored
type MatchNumberSource interface {
	MaxMatchNumber(ctx context.Context) (int64, error)
}

// Sequencer allocates match ids and match numbers. One Sequencer is shared
// by every ingestion run in the process so numbers stay strictly increasing
// across servers. The stored maximum is read once, on first use.
type Sequencer struct {
	src MatchNumberSource
	now func() time.Time

	mu     sync.Mutex
	loaded bool
	last   int64
}

// NewSequencer creates a Sequencer backed by src
func NewSequencer(src MatchNumberSource) *Sequencer {
	return &Sequencer{src: src, now: time.Now}
}

// Next returns a fresh match id and the next match number
func (s *Sequencer) Next(ctx context.Context, mapName string) (string, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.loaded {
		stored, err := s.src.MaxMatchNumber(ctx)
		if err != nil {
			return "", 0, fmt.Errorf("loading match number: %w", err)
		}
		s.last = stored
		s.loaded = true
	}
	s.last++
	return NewMatchID(mapName, s.now()), s.last, nil
}

// NewMatchID derives a 32-character hex id from the map, the date, a
// nanosecond timestamp and a random salt
func NewMatchID(mapName string, t time.Time) string {
	seed := fmt.Sprintf("%s|%s|%d|%s", mapName, t.UTC().Format("2006-01-02"), t.UnixNano(), uuid.NewString())
	id := uuid.NewSHA1(uuid.NameSpaceOID, []byte(seed))
	return strings.ReplaceAll(id.String(), "-", "")
}
