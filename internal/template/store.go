// Package template caches the static landing-page template and reloads it
// when the file's modification time changes.
package template

import (
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// ErrNotLoaded is returned by Get when the template has never been read
// successfully. Callers fall back to a minimal inline page.
var ErrNotLoaded = errors.New("template not loaded")

// Status values reported to the health endpoint.
const (
	StatusEmpty  = "empty"
	StatusLoaded = "loaded"
	StatusStale  = "stale"
)

type snapshot struct {
	data  []byte
	mtime time.Time
}

// Store hands out the cached template bytes. A single writer replaces the
// whole snapshot pointer on reload; readers never observe a torn slice.
type Store struct {
	path   string
	logger *zap.Logger

	mu    sync.Mutex // serializes reloads
	snap  atomic.Pointer[snapshot]
	stale atomic.Bool
}

// NewStore builds a Store for the given file path. The file is read lazily on
// the first Get.
func NewStore(path string, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.L()
	}
	return &Store{path: path, logger: logger}
}

// Get returns the current template bytes, reloading from disk when the file's
// mtime has changed. Once a template has loaded, disk errors return the
// last-known bytes and flip the status to stale.
func (s *Store) Get() ([]byte, error) {
	cur := s.snap.Load()

	st, err := os.Stat(s.path)
	if err != nil {
		if cur == nil {
			return nil, ErrNotLoaded
		}
		if s.stale.CompareAndSwap(false, true) {
			s.logger.Warn("template file unreadable, serving last-known bytes",
				zap.String("path", s.path), zap.Error(err))
		}
		return cur.data, nil
	}

	if cur != nil && st.ModTime().Equal(cur.mtime) {
		s.stale.Store(false)
		return cur.data, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Another goroutine may have finished the reload while we waited.
	if cur = s.snap.Load(); cur != nil && st.ModTime().Equal(cur.mtime) {
		s.stale.Store(false)
		return cur.data, nil
	}

	data, err := os.ReadFile(s.path)
	if err != nil {
		if cur == nil {
			return nil, ErrNotLoaded
		}
		s.stale.Store(true)
		s.logger.Warn("template reload failed, serving last-known bytes",
			zap.String("path", s.path), zap.Error(err))
		return cur.data, nil
	}

	s.snap.Store(&snapshot{data: data, mtime: st.ModTime()})
	s.stale.Store(false)
	s.logger.Info("template loaded", zap.String("path", s.path), zap.Int("bytes", len(data)))
	return data, nil
}

// Status reports the cache state for the health endpoint.
func (s *Store) Status() string {
	if s.snap.Load() == nil {
		return StatusEmpty
	}
	if s.stale.Load() {
		return StatusStale
	}
	return StatusLoaded
}
