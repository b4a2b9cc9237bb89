// registry.go coordinates aborts with live runs. State is two-tier: the
// persisted store carries the abortedLastRun flag, while a transient
// in-memory map records abort intents that arrive before a session entry
// exists. The persisted entry wins when both are present.
package session

import (
	"context"
	"log/slog"
	"sync"
)

// AbortOutcome reports what an abort request accomplished.
type AbortOutcome struct {
	// Handled is true when a persisted entry (or live run) matched the key.
	// False means the intent was only recorded in transient memory.
	Handled bool

	// Aborted is true when a live run was signalled directly.
	Aborted bool
}

// Registry owns abort/session coordination. It is passed explicitly into
// every component that needs it; there is no package-level state.
type Registry struct {
	store  *Store
	logger *slog.Logger

	mu     sync.Mutex
	memory map[string]bool               // abort intents without a session entry
	live   map[string]context.CancelFunc // live run handles by session key
}

// NewRegistry creates a registry over the given persisted store.
func NewRegistry(store *Store, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		store:  store,
		logger: logger.With("component", "sessions"),
		memory: make(map[string]bool),
		live:   make(map[string]context.CancelFunc),
	}
}

// Store exposes the underlying persisted store.
func (r *Registry) Store() *Store { return r.store }

// BeginRun registers a live run's cancel handle for the key. The returned
// func must be called when the run completes.
func (r *Registry) BeginRun(key string, cancel context.CancelFunc) func() {
	r.mu.Lock()
	r.live[key] = cancel
	r.mu.Unlock()

	return func() {
		r.mu.Lock()
		delete(r.live, key)
		r.mu.Unlock()
	}
}

// Abort resolves an abort request for key. Resolution first tries the
// direct key, then the legacy key (namespace prefix stripped). A live run
// is signalled immediately; the persisted flag is stamped regardless so a
// run that wasn't live yet short-circuits on its next start. With no
// persisted entry at all, the intent lands in transient memory only.
func (r *Registry) Abort(key string) (AbortOutcome, error) {
	out := AbortOutcome{}

	target, found, err := r.resolveKey(key)
	if err != nil {
		return out, err
	}

	r.mu.Lock()
	cancel, liveOK := r.live[key]
	if !liveOK && found {
		cancel, liveOK = r.live[target]
	}
	r.mu.Unlock()

	if liveOK {
		cancel()
		out.Aborted = true
		r.logger.Info("live run aborted", "key", key)
	}

	if !found {
		if out.Aborted {
			out.Handled = true
			return out, nil
		}
		r.mu.Lock()
		r.memory[key] = true
		r.mu.Unlock()
		r.logger.Debug("abort intent recorded before session creation", "key", key)
		return out, nil
	}

	out.Handled = true
	err = r.store.Update(target, func(e *Entry) {
		e.AbortedLastRun = true
	})
	return out, err
}

// ConsumeAbortIntent checks whether an abort was requested for key before
// this run and clears the flag. Consulted at run start, before spawning.
func (r *Registry) ConsumeAbortIntent(key string) (bool, error) {
	target, found, err := r.resolveKey(key)
	if err != nil {
		return false, err
	}
	if found {
		e, _, err := r.store.Get(target)
		if err != nil {
			return false, err
		}
		if e.AbortedLastRun {
			err := r.store.Update(target, func(e *Entry) {
				e.AbortedLastRun = false
			})
			return true, err
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.memory[key] {
		delete(r.memory, key)
		return true, nil
	}
	return false, nil
}

// Resolve returns the persisted entry for key, following the legacy-key
// fallback.
func (r *Registry) Resolve(key string) (Entry, bool, error) {
	target, found, err := r.resolveKey(key)
	if err != nil || !found {
		return Entry{}, false, err
	}
	return r.store.Get(target)
}

// RecordSession persists the subprocess session ID for key. Once set, the
// ID is never overwritten.
func (r *Registry) RecordSession(key, sessionID string) error {
	return r.store.Update(key, func(e *Entry) {
		if e.SessionID == "" {
			e.SessionID = sessionID
		}
	})
}

// resolveKey maps a session key to the store key that holds its entry:
// the direct key when present, otherwise the legacy key derived by
// stripping the namespace prefix.
func (r *Registry) resolveKey(key string) (string, bool, error) {
	if _, ok, err := r.store.Get(key); err != nil || ok {
		return key, ok, err
	}
	if parsed, ok := ParseKey(key); ok {
		if _, found, err := r.store.Get(parsed.Rest); err != nil || found {
			return parsed.Rest, found, err
		}
	}
	return key, false, nil
}
