// Package bridge ties the pipeline together: it turns an inbound message
// or cron payload into a supervised, queued, streaming agent invocation and
// classifies the result into reply payloads. Subprocess failures become
// user-visible payloads, never bare errors; only configuration problems
// (bad binary, unbuildable argv) propagate as errors.
package bridge

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/usemanusai/openclaw/pkg/openclaw/agent"
	"github.com/usemanusai/openclaw/pkg/openclaw/channels"
	"github.com/usemanusai/openclaw/pkg/openclaw/config"
	"github.com/usemanusai/openclaw/pkg/openclaw/cron"
	"github.com/usemanusai/openclaw/pkg/openclaw/history"
	"github.com/usemanusai/openclaw/pkg/openclaw/session"
)

// failureSnippetMax caps the captured output attached to failure payloads.
const failureSnippetMax = 500

// Request is one pipeline invocation.
type Request struct {
	// SessionKey groups the invocation to a persisted agent session
	// ("whatsapp:+55...", "cron:heartbeat", "cli:default").
	SessionKey string

	// Prompt is the message body delivered to the subprocess.
	Prompt string

	// Source labels the trigger for the run history: message, cron or
	// heartbeat.
	Source string

	// Deliver, when set, receives each payload as soon as it is emitted.
	Deliver func(agent.ReplyPayload)

	// Notify, when set, receives queue-wait notices.
	Notify func(text string)
}

// Bridge orchestrates queue, runner, reducer, sessions and history.
type Bridge struct {
	cfg      *config.Config
	queue    *agent.CommandQueue
	sessions *session.Registry
	history  *history.Store // nil disables run history
	manager  *channels.Manager
	logger   *slog.Logger
}

// New creates a bridge. history and manager may be nil.
func New(cfg *config.Config, queue *agent.CommandQueue, sessions *session.Registry,
	hist *history.Store, manager *channels.Manager, logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bridge{
		cfg:      cfg,
		queue:    queue,
		sessions: sessions,
		history:  hist,
		manager:  manager,
		logger:   logger.With("component", "bridge"),
	}
}

// Invoke runs one agent turn through the pipeline and returns every reply
// payload in emission order. The caller always receives at least one
// payload unless a configuration error occurred.
func (b *Bridge) Invoke(ctx context.Context, req Request) ([]agent.ReplyPayload, error) {
	if b.cfg.Agent.Binary == "" {
		return nil, fmt.Errorf("agent binary not configured")
	}

	// An abort that raced ahead of this run short-circuits it before any
	// subprocess is spawned.
	aborted, err := b.sessions.ConsumeAbortIntent(req.SessionKey)
	if err != nil {
		b.logger.Warn("abort intent check failed", "key", req.SessionKey, "err", err)
	}
	if aborted {
		b.logger.Info("run skipped by prior abort", "key", req.SessionKey)
		return b.deliverAll(req, agent.ReplyPayload{Text: "🛑 Stopped before starting — a stop was requested."}), nil
	}

	entry, found, err := b.sessions.Resolve(req.SessionKey)
	if err != nil {
		b.logger.Warn("session lookup failed", "key", req.SessionKey, "err", err)
	}
	sessionID := entry.SessionID
	resume := found && sessionID != ""
	if sessionID == "" {
		sessionID = uuid.New().String()
	}

	argv := agent.BuildArgs(b.cfg.Agent.Binary, b.cfg.Agent.Args, agent.SessionArgs{
		SessionID:  sessionID,
		Resume:     resume,
		ThinkLevel: b.cfg.Agent.ThinkLevel,
	})

	reducer := agent.NewStreamReducer(b.cfg.Stream, req.Prompt, req.Deliver)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	endRun := b.sessions.BeginRun(req.SessionKey, cancel)
	defer endRun()

	job := &agent.Job{
		Argv:    argv,
		Dir:     b.cfg.Agent.Cwd,
		Prompt:  req.Prompt,
		Timeout: b.cfg.Agent.Timeout(),
		OnLine:  reducer.HandleLine,
	}

	start := time.Now()
	res, err := b.queue.Enqueue(runCtx, job, func(waited time.Duration, ahead int) {
		if req.Notify != nil {
			req.Notify(fmt.Sprintf("⏳ Queued behind %d other run(s), waited %s.",
				ahead, waited.Round(time.Second)))
		}
	})
	elapsed := time.Since(start)
	if err != nil {
		if runCtx.Err() != nil && ctx.Err() == nil {
			// Cancelled while waiting in the queue: an abort landed
			// before the subprocess ever started.
			return b.deliverAll(req, agent.ReplyPayload{Text: "🛑 Stopped while waiting in the queue."}), nil
		}
		return nil, fmt.Errorf("run %s: %w", req.SessionKey, err)
	}

	if err := b.sessions.RecordSession(req.SessionKey, sessionID); err != nil {
		b.logger.Warn("session record failed", "key", req.SessionKey, "err", err)
	}

	payloads := b.classify(req, reducer, res, elapsed)
	b.record(req, res, start, elapsed, payloads)
	return payloads, nil
}

// RunCronJob executes one due cron job through the pipeline, delivering
// payloads to the job's target channel when requested.
func (b *Bridge) RunCronJob(ctx context.Context, job cron.Job) error {
	var prompt, source string
	switch job.Payload.Kind {
	case cron.PayloadSystemEvent:
		prompt = "System event: " + job.Payload.Text
		source = "heartbeat"
	case cron.PayloadAgentTurn:
		prompt = job.Payload.Message
		source = "cron"
	default:
		return fmt.Errorf("job %s: unknown payload kind %q", job.ID, job.Payload.Kind)
	}

	req := Request{
		SessionKey: "cron:" + job.ID,
		Prompt:     prompt,
		Source:     source,
	}

	payloads, err := b.Invoke(ctx, req)
	if err != nil {
		return err
	}

	if job.Payload.Deliver && b.manager != nil && job.Payload.Channel != "" {
		for _, p := range payloads {
			msg := &channels.OutgoingMessage{
				Text:      p.Text,
				MediaURL:  p.MediaURL,
				MediaURLs: p.MediaURLs,
				Voice:     p.Voice,
			}
			if err := b.manager.Send(ctx, job.Payload.Channel, job.Payload.To, msg); err != nil {
				b.logger.Warn("cron delivery failed",
					"job", job.ID, "channel", job.Payload.Channel, "err", err)
			}
		}
	}
	return nil
}

// Abort resolves a stop request for a session key.
func (b *Bridge) Abort(key string) (session.AbortOutcome, error) {
	return b.sessions.Abort(key)
}

// classify maps a run result to reply payloads per the failure taxonomy:
// timeout, external kill, non-zero exit, or a normal reduction.
func (b *Bridge) classify(req Request, reducer *agent.StreamReducer, res agent.RunResult, elapsed time.Duration) []agent.ReplyPayload {
	switch {
	case res.Killed:
		text := fmt.Sprintf("⏱️ The agent run timed out after %s (limit %s).",
			elapsed.Round(time.Second), b.cfg.Agent.Timeout())
		if partial := strings.TrimSpace(reducer.LastAssistantText()); partial != "" {
			text += "\n\nPartial output:\n" + snippet(partial)
		}
		return b.deliverAll(req, agent.ReplyPayload{Text: text})

	case res.Signal != "" && res.ExitCode == nil:
		return b.deliverAll(req, agent.ReplyPayload{
			Text: fmt.Sprintf("🛑 The agent run was killed before completion (%s).", res.Signal),
		})

	case res.ExitCode != nil && *res.ExitCode != 0:
		text := fmt.Sprintf("⚠️ The agent exited with code %d.", *res.ExitCode)
		if out := failureOutput(res); out != "" {
			text += "\n\n" + snippet(out)
		}
		return b.deliverAll(req, agent.ReplyPayload{Text: text})
	}

	return reducer.Finalize(res.Stdout)
}

// deliverAll routes terminal payloads through the live callback so every
// failure mode still yields a delivered message.
func (b *Bridge) deliverAll(req Request, payloads ...agent.ReplyPayload) []agent.ReplyPayload {
	if req.Deliver != nil {
		for _, p := range payloads {
			req.Deliver(p)
		}
	}
	return payloads
}

// record appends the run to the history store, when one is configured.
func (b *Bridge) record(req Request, res agent.RunResult, start time.Time, elapsed time.Duration, payloads []agent.ReplyPayload) {
	if b.history == nil {
		return
	}
	rec := history.Record{
		ID:         uuid.New().String(),
		SessionKey: req.SessionKey,
		Source:     req.Source,
		StartedAt:  start,
		Duration:   elapsed,
		ExitCode:   res.ExitCode,
		Killed:     res.Killed,
		Payloads:   len(payloads),
	}
	if res.ExitCode != nil && *res.ExitCode != 0 {
		rec.Error = snippet(failureOutput(res))
	}
	if err := b.history.Append(rec); err != nil {
		b.logger.Warn("history append failed", "err", err)
	}
}

// failureOutput picks the most useful captured output for an error payload.
func failureOutput(res agent.RunResult) string {
	if out := strings.TrimSpace(res.Stderr); out != "" {
		return out
	}
	return strings.TrimSpace(res.Stdout)
}

// snippet caps text at failureSnippetMax characters.
func snippet(s string) string {
	if len(s) <= failureSnippetMax {
		return s
	}
	return s[:failureSnippetMax] + "…"
}
