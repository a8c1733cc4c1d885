// Package checkpoint persists how many lines of each server's log have been
// consumed.
package checkpoint

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// Store reads and writes per-server line offsets
type Store interface {
	Read(serverID int64) (int, error)
	Write(serverID int64, offset int) error
	Delete(serverID int64) error
}

// Reconcile validates a stored offset against the file it refers to. An
// offset past the end of the file means the log was rotated or truncated,
// so processing restarts from the beginning.
func Reconcile(logger *zap.Logger, serverID int64, stored, totalLines int) (offset int, restarted bool) {
	if stored < 0 {
		return 0, false
	}
	if stored > totalLines {
		logger.Warn("restart detected, checkpoint past end of log",
			zap.Int64("server_id", serverID),
			zap.Int("checkpoint", stored),
			zap.Int("total_lines", totalLines))
		return 0, true
	}
	return stored, false
}

// FileStore keeps one plain-text file per server holding a single integer
type FileStore struct {
	dir    string
	logger *zap.Logger
}

// NewFileStore creates the checkpoint directory if needed
func NewFileStore(dir string, logger *zap.Logger) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating checkpoint dir: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FileStore{dir: dir, logger: logger}, nil
}

// Path returns the checkpoint file for a server
func (s *FileStore) Path(serverID int64) string {
	return filepath.Join(s.dir, fmt.Sprintf("server_%d.checkpoint", serverID))
}

// Read returns the stored offset. A missing file is offset 0; an unparsable
// one is logged and also treated as 0.
func (s *FileStore) Read(serverID int64) (int, error) {
	data, err := os.ReadFile(s.Path(serverID))
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("reading checkpoint: %w", err)
	}

	n, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || n < 0 {
		s.logger.Warn("ignoring unparsable checkpoint",
			zap.Int64("server_id", serverID),
			zap.String("contents", strings.TrimSpace(string(data))))
		return 0, nil
	}
	return n, nil
}

// Write replaces the stored offset. The new value is written to a temp file
// and renamed over the old one so a crash never leaves a partial number.
func (s *FileStore) Write(serverID int64, offset int) error {
	tmp, err := os.CreateTemp(s.dir, fmt.Sprintf(".server_%d.*.tmp", serverID))
	if err != nil {
		return fmt.Errorf("creating checkpoint temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.WriteString(strconv.Itoa(offset) + "\n"); err != nil {
		tmp.Close()
		return fmt.Errorf("writing checkpoint: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("syncing checkpoint: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing checkpoint: %w", err)
	}
	if err := os.Rename(tmpName, s.Path(serverID)); err != nil {
		return fmt.Errorf("replacing checkpoint: %w", err)
	}
	return nil
}

// Delete removes the checkpoint. Deleting a missing checkpoint is not an error.
func (s *FileStore) Delete(serverID int64) error {
	err := os.Remove(s.Path(serverID))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("deleting checkpoint: %w", err)
	}
	return nil
}

// MemoryStore keeps offsets in memory
type MemoryStore struct {
	mu      sync.Mutex
	offsets map[int64]int
}

// NewMemoryStore creates an empty MemoryStore
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{offsets: make(map[int64]int)}
}

func (m *MemoryStore) Read(serverID int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.offsets[serverID], nil
}

func (m *MemoryStore) Write(serverID int64, offset int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.offsets[serverID] = offset
	return nil
}

func (m *MemoryStore) Delete(serverID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.offsets, serverID)
	return nil
}
