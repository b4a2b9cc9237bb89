// Package cron implements the disk-backed job store and the dispatch loop
// that feeds scheduled invocations into the agent pipeline. The store file
// is shared with external editors; reloads are driven by the file's
// modification time.
package cron

import (
	"fmt"
	"strings"
)

// Schedule kinds.
const (
	KindAt    = "at"
	KindEvery = "every"
	KindCron  = "cron"
)

// Payload kinds.
const (
	PayloadSystemEvent = "systemEvent"
	PayloadAgentTurn   = "agentTurn"
)

// Schedule defines when a job fires.
type Schedule struct {
	Kind string `json:"kind"`

	// AtMs is the fixed instant for one-shot jobs (unix ms).
	AtMs int64 `json:"atMs,omitempty"`

	// Every and Unit define a fixed interval ("ms", "s", "m", "h", "d").
	Every int64  `json:"every,omitempty"`
	Unit  string `json:"unit,omitempty"`

	// Expr is a standard 5-field cron expression; TZ an optional IANA
	// timezone name.
	Expr string `json:"expr,omitempty"`
	TZ   string `json:"tz,omitempty"`
}

// Summary renders a short human label for the schedule, used when a job
// name has to be inferred.
func (s Schedule) Summary() string {
	switch s.Kind {
	case KindAt:
		return "one-shot"
	case KindEvery:
		unit := s.Unit
		if unit == "" {
			unit = "ms"
		}
		return fmt.Sprintf("every %d%s", s.Every, unit)
	case KindCron:
		return "cron " + s.Expr
	}
	return s.Kind
}

// Payload is what a firing job feeds into the pipeline: either a system
// event (heartbeat-style wakeup) or a full agent turn.
type Payload struct {
	Kind string `json:"kind"`

	// Text is the system event text (systemEvent).
	Text string `json:"text,omitempty"`

	// Message is the prompt for an agent turn (agentTurn).
	Message string `json:"message,omitempty"`

	// Deliver routes the resulting payloads to Channel/To when set.
	Deliver bool   `json:"deliver,omitempty"`
	Channel string `json:"channel,omitempty"`
	To      string `json:"to,omitempty"`
}

// promptText returns the payload's effective text, for name inference.
func (p Payload) promptText() string {
	if p.Kind == PayloadSystemEvent {
		return p.Text
	}
	return p.Message
}

// JobState is runtime bookkeeping, persisted alongside the definition.
type JobState struct {
	NextRunAtMs int64  `json:"nextRunAtMs,omitempty"`
	LastRunAtMs int64  `json:"lastRunAtMs,omitempty"`
	LastStatus  string `json:"lastStatus,omitempty"`
	LastError   string `json:"lastError,omitempty"`
}

// Job is one persisted cron job definition.
type Job struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Enabled     bool     `json:"enabled"`
	Schedule    Schedule `json:"schedule"`
	Payload     Payload  `json:"payload"`
	State       JobState `json:"state"`
	CreatedAtMs int64    `json:"createdAtMs,omitempty"`
	UpdatedAtMs int64    `json:"updatedAtMs,omitempty"`
}

// storeFile is the on-disk shape: {"version": 1, "jobs": [...]}.
type storeFile struct {
	Version int   `json:"version"`
	Jobs    []Job `json:"jobs"`
}

const storeVersion = 1

// inferName derives a display name for jobs saved without one.
func inferName(j Job) string {
	name := j.Schedule.Summary()
	if text := strings.TrimSpace(j.Payload.promptText()); text != "" {
		snippet := text
		if len(snippet) > 32 {
			snippet = snippet[:32] + "…"
		}
		name += ": " + snippet
	}
	return name
}
