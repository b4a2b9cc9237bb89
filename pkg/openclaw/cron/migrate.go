// migrate.go normalizes raw job records on load: legacy shapes are
// forward-migrated transparently, blank names are inferred, and blank
// descriptions collapse to absent.
package cron

import (
	"strings"

	"github.com/google/uuid"
)

type rawStoreFile struct {
	Version int      `json:"version"`
	Jobs    []rawJob `json:"jobs"`
}

// rawJob mirrors Job plus the legacy fields older store files used.
type rawJob struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Enabled     bool        `json:"enabled"`
	Schedule    rawSchedule `json:"schedule"`
	Payload     Payload     `json:"payload"`
	State       JobState    `json:"state"`
	CreatedAtMs int64       `json:"createdAtMs"`
	UpdatedAtMs int64       `json:"updatedAtMs"`

	// Legacy: prompt stored directly on the job instead of a payload.
	Message string `json:"message,omitempty"`

	// Legacy: next-run stamp at the top level instead of in state.
	NextRunAtMs int64 `json:"nextRunAtMs,omitempty"`
}

// rawSchedule mirrors Schedule plus the legacy everyMs field.
type rawSchedule struct {
	Kind  string `json:"kind"`
	AtMs  int64  `json:"atMs,omitempty"`
	Every int64  `json:"every,omitempty"`
	Unit  string `json:"unit,omitempty"`
	Expr  string `json:"expr,omitempty"`
	TZ    string `json:"tz,omitempty"`

	EveryMs int64 `json:"everyMs,omitempty"`
}

// normalize converts a raw record to the current Job shape. The second
// return is true when anything was mutated, marking the load dirty.
func (r rawJob) normalize() (Job, bool) {
	dirty := false

	sched := Schedule{
		Kind:  r.Schedule.Kind,
		AtMs:  r.Schedule.AtMs,
		Every: r.Schedule.Every,
		Unit:  r.Schedule.Unit,
		Expr:  r.Schedule.Expr,
		TZ:    r.Schedule.TZ,
	}
	if r.Schedule.EveryMs > 0 && sched.Every == 0 {
		sched.Every = r.Schedule.EveryMs
		sched.Unit = "ms"
		dirty = true
	}
	if sched.Kind == "" {
		switch {
		case sched.Expr != "":
			sched.Kind = KindCron
		case sched.AtMs > 0:
			sched.Kind = KindAt
		case sched.Every > 0:
			sched.Kind = KindEvery
		}
		if sched.Kind != "" {
			dirty = true
		}
	}

	payload := r.Payload
	if payload.Kind == "" {
		switch {
		case payload.Message != "":
			payload.Kind = PayloadAgentTurn
			dirty = true
		case payload.Text != "":
			payload.Kind = PayloadSystemEvent
			dirty = true
		case r.Message != "":
			payload = Payload{Kind: PayloadAgentTurn, Message: r.Message}
			dirty = true
		}
	}

	state := r.State
	if state.NextRunAtMs == 0 && r.NextRunAtMs > 0 {
		state.NextRunAtMs = r.NextRunAtMs
		dirty = true
	}

	job := Job{
		ID:          r.ID,
		Name:        strings.TrimSpace(r.Name),
		Description: strings.TrimSpace(r.Description),
		Enabled:     r.Enabled,
		Schedule:    sched,
		Payload:     payload,
		State:       state,
		CreatedAtMs: r.CreatedAtMs,
		UpdatedAtMs: r.UpdatedAtMs,
	}

	if job.ID == "" {
		job.ID = uuid.New().String()[:8]
		dirty = true
	}
	if job.Name == "" {
		job.Name = inferName(job)
	}
	if job.Name != r.Name || job.Description != r.Description {
		dirty = true
	}

	return job, dirty
}
