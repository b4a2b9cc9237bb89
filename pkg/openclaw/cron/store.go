// store.go is the disk-backed cron job store. The file is reloaded lazily:
// only when it has never been loaded, or when its on-disk mtime has
// advanced past the value cached at the last load/save. Loading normalizes
// each record (name inference, blank descriptions, legacy shapes) and any
// normalization that mutates a record triggers an immediate persist, so
// the on-disk copy never silently diverges from the in-memory shape.
//
// The mtime check is best-effort, not linearizable: a save between two
// external reads can mask or duplicate an external edit. In-process
// writers serialize through the store mutex.
package cron

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Store owns the cron job file.
type Store struct {
	path   string
	logger *slog.Logger

	mu         sync.Mutex
	file       *storeFile
	loadedAtMs int64
	fileMtime  time.Time
}

// NewStore creates a store backed by the given file path.
func NewStore(path string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		path:   path,
		logger: logger.With("component", "cron-store"),
	}
}

// EnsureLoaded loads the store on first access and reloads it when the
// file changed on disk since the cached mtime.
func (s *Store) EnsureLoaded() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ensureLoadedLocked()
}

// Persist rewrites the whole store to disk.
func (s *Store) Persist() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	return s.persistLocked()
}

// Jobs returns a copy of all jobs in store order.
func (s *Store) Jobs() ([]Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureLoadedLocked(); err != nil {
		return nil, err
	}
	out := make([]Job, len(s.file.Jobs))
	copy(out, s.file.Jobs)
	return out, nil
}

// Get returns the job with the given ID.
func (s *Store) Get(id string) (Job, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureLoadedLocked(); err != nil {
		return Job{}, false, err
	}
	if i := s.indexLocked(id); i >= 0 {
		return s.file.Jobs[i], true, nil
	}
	return Job{}, false, nil
}

// Add creates a new enabled job and persists the store.
func (s *Store) Add(name, description string, sched Schedule, payload Payload) (Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureLoadedLocked(); err != nil {
		return Job{}, err
	}

	now := nowMs()
	job := Job{
		ID:          uuid.New().String()[:8],
		Name:        name,
		Description: description,
		Enabled:     true,
		Schedule:    sched,
		Payload:     payload,
		CreatedAtMs: now,
		UpdatedAtMs: now,
	}
	if job.Name == "" {
		job.Name = inferName(job)
	}
	next, err := NextRunAt(sched, 0, now)
	if err != nil {
		return Job{}, fmt.Errorf("compute next run: %w", err)
	}
	job.State.NextRunAtMs = next

	s.file.Jobs = append(s.file.Jobs, job)
	if err := s.persistLocked(); err != nil {
		return Job{}, err
	}
	return job, nil
}

// Ensure creates a job with a fixed ID when absent, updating its schedule
// and payload when present. Used for built-in jobs like the heartbeat.
func (s *Store) Ensure(id, name, description string, sched Schedule, payload Payload) (Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureLoadedLocked(); err != nil {
		return Job{}, err
	}

	now := nowMs()
	i := s.indexLocked(id)
	if i < 0 {
		job := Job{
			ID:          id,
			Name:        name,
			Description: description,
			Enabled:     true,
			Schedule:    sched,
			Payload:     payload,
			CreatedAtMs: now,
			UpdatedAtMs: now,
		}
		if job.Name == "" {
			job.Name = inferName(job)
		}
		next, err := NextRunAt(sched, 0, now)
		if err != nil {
			return Job{}, fmt.Errorf("compute next run: %w", err)
		}
		job.State.NextRunAtMs = next
		s.file.Jobs = append(s.file.Jobs, job)
		if err := s.persistLocked(); err != nil {
			return Job{}, err
		}
		return job, nil
	}

	job := &s.file.Jobs[i]
	job.Schedule = sched
	job.Payload = payload
	job.UpdatedAtMs = now
	if next, err := NextRunAt(sched, job.State.LastRunAtMs, now); err == nil {
		job.State.NextRunAtMs = next
	}
	if err := s.persistLocked(); err != nil {
		return Job{}, err
	}
	return *job, nil
}

// Remove deletes a job. Returns false when no job matched.
func (s *Store) Remove(id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureLoadedLocked(); err != nil {
		return false, err
	}
	i := s.indexLocked(id)
	if i < 0 {
		return false, nil
	}
	s.file.Jobs = append(s.file.Jobs[:i], s.file.Jobs[i+1:]...)
	return true, s.persistLocked()
}

// Toggle enables or disables a job, recomputing its next run on enable.
func (s *Store) Toggle(id string, enabled bool) (bool, error) {
	_, found, err := s.Patch(id, func(j *Job) {
		j.Enabled = enabled
	})
	return found, err
}

// Patch applies mutate to a job, stamps UpdatedAtMs, recomputes its next
// run and persists. Returns the updated job.
func (s *Store) Patch(id string, mutate func(*Job)) (Job, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureLoadedLocked(); err != nil {
		return Job{}, false, err
	}
	i := s.indexLocked(id)
	if i < 0 {
		return Job{}, false, nil
	}

	job := &s.file.Jobs[i]
	mutate(job)
	now := nowMs()
	job.UpdatedAtMs = now
	if next, err := NextRunAt(job.Schedule, job.State.LastRunAtMs, now); err == nil {
		job.State.NextRunAtMs = next
	} else {
		s.logger.Warn("next-run recompute failed", "job", job.ID, "err", err)
	}

	if err := s.persistLocked(); err != nil {
		return Job{}, true, err
	}
	return *job, true, nil
}

// RunNow schedules the job to fire on the next scheduler pass.
func (s *Store) RunNow(id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureLoadedLocked(); err != nil {
		return false, err
	}
	i := s.indexLocked(id)
	if i < 0 {
		return false, nil
	}
	s.file.Jobs[i].State.NextRunAtMs = nowMs()
	return true, s.persistLocked()
}

// Due returns the enabled jobs whose next run is at or before nowMs.
func (s *Store) Due(nowMs int64) ([]Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureLoadedLocked(); err != nil {
		return nil, err
	}
	var due []Job
	for _, j := range s.file.Jobs {
		if j.Enabled && j.State.NextRunAtMs > 0 && j.State.NextRunAtMs <= nowMs {
			due = append(due, j)
		}
	}
	return due, nil
}

// NextWakeMs returns the earliest pending next-run instant, or 0 when no
// enabled job is scheduled.
func (s *Store) NextWakeMs() (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureLoadedLocked(); err != nil {
		return 0, err
	}
	var min int64
	for _, j := range s.file.Jobs {
		if !j.Enabled || j.State.NextRunAtMs <= 0 {
			continue
		}
		if min == 0 || j.State.NextRunAtMs < min {
			min = j.State.NextRunAtMs
		}
	}
	return min, nil
}

// BeginRun stamps the run start and advances the schedule so the job can't
// refire while executing. One-shot jobs are disabled here.
func (s *Store) BeginRun(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureLoadedLocked(); err != nil {
		return err
	}
	i := s.indexLocked(id)
	if i < 0 {
		return fmt.Errorf("job %s not found", id)
	}

	job := &s.file.Jobs[i]
	now := nowMs()
	job.State.LastRunAtMs = now

	if job.Schedule.Kind == KindAt {
		job.Enabled = false
		job.State.NextRunAtMs = 0
	} else if next, err := NextRunAt(job.Schedule, now, now); err == nil {
		job.State.NextRunAtMs = next
	} else {
		s.logger.Warn("next-run recompute failed", "job", job.ID, "err", err)
		job.State.NextRunAtMs = 0
	}

	return s.persistLocked()
}

// FinishRun records the outcome of a run.
func (s *Store) FinishRun(id string, runErr error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureLoadedLocked(); err != nil {
		return err
	}
	i := s.indexLocked(id)
	if i < 0 {
		return fmt.Errorf("job %s not found", id)
	}

	job := &s.file.Jobs[i]
	job.UpdatedAtMs = nowMs()
	if runErr != nil {
		job.State.LastStatus = "error"
		job.State.LastError = runErr.Error()
	} else {
		job.State.LastStatus = "ok"
		job.State.LastError = ""
	}
	return s.persistLocked()
}

// ---------- Internal ----------

func nowMs() int64 {
	return time.Now().UnixMilli()
}

// indexLocked returns the slice index of the job with the given ID.
func (s *Store) indexLocked(id string) int {
	for i := range s.file.Jobs {
		if s.file.Jobs[i].ID == id {
			return i
		}
	}
	return -1
}

// ensureLoadedLocked implements the reload policy. Caller holds mu.
func (s *Store) ensureLoadedLocked() error {
	if s.file != nil {
		info, err := os.Stat(s.path)
		if err != nil || !info.ModTime().After(s.fileMtime) {
			return nil
		}
		s.logger.Info("cron store changed on disk, reloading", "path", s.path)
	}
	return s.loadLocked()
}

// loadLocked reads and normalizes the store file, persisting immediately
// when normalization changed any record, then recomputes next-run
// timestamps for all jobs. Caller holds mu.
func (s *Store) loadLocked() error {
	s.file = &storeFile{Version: storeVersion}
	s.loadedAtMs = nowMs()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read cron store: %w", err)
	}

	var raw rawStoreFile
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("parse cron store %s: %w", s.path, err)
	}

	dirty := raw.Version != storeVersion
	jobs := make([]Job, 0, len(raw.Jobs))
	for _, rj := range raw.Jobs {
		job, changed := rj.normalize()
		if changed {
			dirty = true
		}
		jobs = append(jobs, job)
	}
	s.file.Jobs = jobs

	if info, err := os.Stat(s.path); err == nil {
		s.fileMtime = info.ModTime()
	}

	if dirty {
		s.logger.Info("cron store migrated on load", "path", s.path, "jobs", len(jobs))
		if err := s.persistLocked(); err != nil {
			return err
		}
	}

	// Recompute next runs for all jobs relative to current time.
	now := nowMs()
	for i := range s.file.Jobs {
		job := &s.file.Jobs[i]
		next, err := NextRunAt(job.Schedule, job.State.LastRunAtMs, now)
		if err != nil {
			s.logger.Warn("next-run recompute failed", "job", job.ID, "err", err)
			continue
		}
		job.State.NextRunAtMs = next
	}

	return nil
}

// persistLocked rewrites the whole store, then re-reads the file mtime so
// the write itself isn't misinterpreted as a future external edit. Caller
// holds mu.
func (s *Store) persistLocked() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create cron store dir: %w", err)
	}

	data, err := json.MarshalIndent(s.file, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal cron store: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0o600); err != nil {
		return fmt.Errorf("write cron store: %w", err)
	}

	if info, err := os.Stat(s.path); err == nil {
		s.fileMtime = info.ModTime()
	}
	s.loadedAtMs = nowMs()
	return nil
}
