// store.go persists session entries as a flat keyed JSON file. Reloads are
// driven by the file's modification time so external edits are picked up
// without re-reading on every access. The check is best-effort, not
// linearizable: concurrent external writers can interleave with in-process
// saves. In-process writers serialize through the store's own mutex.
package session

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Entry is the persisted state for one session key. Entries are created on
// the first resolvable run, mutated on abort or completion, and never
// deleted automatically.
type Entry struct {
	// SessionID, once set, is stable for the life of the session; resume
	// always supplies it back to the subprocess.
	SessionID string `json:"sessionId,omitempty"`

	// AbortedLastRun is set when an abort arrived with no live run to
	// signal; the next run observes it and short-circuits.
	AbortedLastRun bool `json:"abortedLastRun,omitempty"`

	UpdatedAt time.Time `json:"updatedAt"`
}

// Store is the disk-backed session store.
type Store struct {
	path   string
	logger *slog.Logger

	mu        sync.Mutex
	entries   map[string]*Entry
	loaded    bool
	fileMtime time.Time
}

// NewStore creates a session store backed by the given file path.
func NewStore(path string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		path:   path,
		logger: logger.With("component", "session-store"),
	}
}

// Get returns a copy of the entry for key.
func (s *Store) Get(key string) (Entry, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureLoadedLocked(); err != nil {
		return Entry{}, false, err
	}
	e, ok := s.entries[key]
	if !ok {
		return Entry{}, false, nil
	}
	return *e, true, nil
}

// Update applies mutate to the entry for key, creating it when absent, and
// persists the whole store.
func (s *Store) Update(key string, mutate func(*Entry)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureLoadedLocked(); err != nil {
		return err
	}
	e, ok := s.entries[key]
	if !ok {
		e = &Entry{}
		s.entries[key] = e
	}
	mutate(e)
	e.UpdatedAt = time.Now().UTC()

	return s.persistLocked()
}

// ensureLoadedLocked loads the file on first access and reloads it when the
// on-disk mtime has advanced past the cached value. Caller holds mu.
func (s *Store) ensureLoadedLocked() error {
	if s.loaded {
		info, err := os.Stat(s.path)
		if err != nil || !info.ModTime().After(s.fileMtime) {
			return nil
		}
		s.logger.Debug("session store changed on disk, reloading", "path", s.path)
	}

	s.entries = make(map[string]*Entry)
	s.loaded = true

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read session store: %w", err)
	}
	if err := json.Unmarshal(data, &s.entries); err != nil {
		return fmt.Errorf("parse session store %s: %w", s.path, err)
	}
	if info, err := os.Stat(s.path); err == nil {
		s.fileMtime = info.ModTime()
	}
	return nil
}

// persistLocked rewrites the whole store and refreshes the cached mtime so
// our own write isn't misread as an external edit. Caller holds mu.
func (s *Store) persistLocked() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create session store dir: %w", err)
	}

	data, err := json.MarshalIndent(s.entries, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal session store: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0o600); err != nil {
		return fmt.Errorf("write session store: %w", err)
	}

	if info, err := os.Stat(s.path); err == nil {
		s.fileMtime = info.ModTime()
	}
	return nil
}
