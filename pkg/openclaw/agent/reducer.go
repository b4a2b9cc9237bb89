// reducer.go implements the event-stream reducer: it consumes the ordered
// protocol events of one runner invocation and produces the reply payloads
// delivered back to the originating surface. Tool results are aggregated
// with a debounce so a burst of tool activity becomes one update instead of
// a message storm; assistant text is deduplicated against the last streamed
// payload.
package agent

import (
	"encoding/json"
	"regexp"
	"strings"
	"sync"
	"time"

	"golang.org/x/text/unicode/norm"
)

// ReplyPayload is one outbound reply. At least one of Text/MediaURL/MediaURLs
// is set on every emitted payload.
type ReplyPayload struct {
	Text      string   `json:"text,omitempty"`
	MediaURL  string   `json:"mediaUrl,omitempty"`
	MediaURLs []string `json:"mediaUrls,omitempty"`

	// Voice marks an audio attachment to be sent as a voice note.
	Voice bool `json:"-"`
}

// ReducerConfig tunes the tool-aggregate debounce behavior.
type ReducerConfig struct {
	// DebounceMs is the quiet period after the last tool result before the
	// pending aggregate flushes (default: 600).
	DebounceMs int `yaml:"debounce_ms"`

	// MetaFlushCount flushes the aggregate once this many result summaries
	// accumulate, regardless of the debounce window (default: 5).
	MetaFlushCount int `yaml:"meta_flush_count"`
}

// Effective returns a copy with defaults filled in for zero values.
func (c ReducerConfig) Effective() ReducerConfig {
	out := c
	if out.DebounceMs <= 0 {
		out.DebounceMs = 600
	}
	if out.MetaFlushCount <= 0 {
		out.MetaFlushCount = 5
	}
	return out
}

// noOutputText is the synthetic payload emitted when a run yields nothing.
const noOutputText = "The command completed but produced no output."

// StreamReducer reconstructs reply payloads from one run's event stream.
// It is tied to a single invocation: create one per job, feed it every
// stdout line via HandleLine, then call Finalize after the process exits.
type StreamReducer struct {
	cfg     ReducerConfig
	prompt  string
	deliver func(ReplyPayload) // optional live delivery callback

	mu           sync.Mutex
	pendingTool  string
	pendingMetas []string
	debounce     *time.Timer
	assistantBuf strings.Builder
	lastStreamed string
	lastObserved string // last assistant text seen on the streaming path
	payloads     []ReplyPayload
	done         bool
}

// NewStreamReducer creates a reducer for one invocation. prompt is the
// original prompt body, used to suppress echoed fallbacks. deliver, when
// non-nil, receives each payload as soon as it is emitted; payloads are
// always also returned in order by Finalize.
func NewStreamReducer(cfg ReducerConfig, prompt string, deliver func(ReplyPayload)) *StreamReducer {
	return &StreamReducer{
		cfg:     cfg.Effective(),
		prompt:  prompt,
		deliver: deliver,
	}
}

// HandleLine consumes one raw stdout line. Unparseable lines and unknown
// envelope types are discarded without failing the run.
func (r *StreamReducer) HandleLine(line string) {
	ev, ok := ParseEvent(line)
	if !ok {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.done {
		return
	}

	switch ev.Kind {
	case EventToolStart:
		// Pre-seed the aggregate's tool name so results without one still
		// group correctly. A name change is resolved on the result side.
		if len(r.pendingMetas) == 0 {
			r.pendingTool = ev.ToolName
		}

	case EventToolResult:
		if len(r.pendingMetas) > 0 && ev.ToolName != r.pendingTool {
			r.flushToolLocked()
		}
		r.pendingTool = ev.ToolName
		r.pendingMetas = append(r.pendingMetas, ev.Meta)
		if len(r.pendingMetas) >= r.cfg.MetaFlushCount {
			r.flushToolLocked()
		} else {
			r.armDebounceLocked()
		}

	case EventMessageDelta:
		r.assistantBuf.WriteString(ev.Text)
		if combined := strings.TrimSpace(r.assistantBuf.String()); combined != "" {
			r.lastObserved = combined
		}

	case EventMessageEnd:
		text := ev.Text
		if text == "" {
			text = r.assistantBuf.String()
		}
		combined := strings.TrimSpace(text)
		r.assistantBuf.Reset()
		if combined == "" {
			return
		}
		r.lastObserved = combined
		if combined == r.lastStreamed {
			return // Duplicate of what was already streamed.
		}
		// Tool activity observed before this text flushes first so payload
		// order matches event order.
		r.flushToolLocked()
		r.emitTextLocked(combined)
		r.lastStreamed = combined
	}
}

// LastAssistantText returns the most recent assistant text observed on the
// streaming path. Callers use it to recover partial output after a timeout.
func (r *StreamReducer) LastAssistantText() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastObserved
}

// Finalize flushes pending state and returns every payload in emission
// order. If the run produced no structured payload, it falls back to the
// last streamed assistant text, then a terminal "text" scan of the raw
// output, then the raw trimmed output itself, discarding any fallback
// that merely echoes the prompt. A run with zero payloads yields exactly
// one synthetic no-output payload.
func (r *StreamReducer) Finalize(rawStdout string) []ReplyPayload {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.flushToolLocked()
	r.done = true

	if len(r.payloads) == 0 {
		fb := r.lastObserved
		if fb == "" {
			fb = scanTerminalText(rawStdout)
		}
		if fb == "" {
			fb = strings.TrimSpace(rawStdout)
		}
		if fb != "" && !echoesPrompt(fb, r.prompt) {
			r.emitTextLocked(fb)
		}
	}

	if len(r.payloads) == 0 {
		p := ReplyPayload{Text: noOutputText}
		r.payloads = append(r.payloads, p)
		if r.deliver != nil {
			r.deliver(p)
		}
	}

	return r.payloads
}

// armDebounceLocked (re)arms the aggregate flush timer. Caller holds mu.
func (r *StreamReducer) armDebounceLocked() {
	if r.debounce != nil {
		r.debounce.Stop()
	}
	r.debounce = time.AfterFunc(time.Duration(r.cfg.DebounceMs)*time.Millisecond, func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		if r.done {
			return
		}
		r.flushToolLocked()
	})
}

// flushToolLocked emits the pending tool aggregate, if any, and cancels the
// debounce timer. Caller holds mu.
func (r *StreamReducer) flushToolLocked() {
	if r.debounce != nil {
		r.debounce.Stop()
		r.debounce = nil
	}
	if len(r.pendingMetas) == 0 {
		return
	}

	var b strings.Builder
	b.WriteString("⚙️ ")
	if r.pendingTool != "" {
		b.WriteString(r.pendingTool)
	} else {
		b.WriteString("tool")
	}
	for _, meta := range r.pendingMetas {
		b.WriteString("\n• ")
		b.WriteString(meta)
	}

	r.pendingMetas = nil
	r.emitTextLocked(b.String())
}

// emitTextLocked runs media extraction over text and appends the resulting
// payload, delivering it live when a callback is present. Caller holds mu.
func (r *StreamReducer) emitTextLocked(text string) {
	ex := ExtractMediaTokens(text)
	p := ReplyPayload{
		Text:  strings.TrimSpace(ex.Text),
		Voice: ex.Voice,
	}
	switch len(ex.MediaURLs) {
	case 0:
	case 1:
		p.MediaURL = ex.MediaURLs[0]
	default:
		p.MediaURLs = ex.MediaURLs
	}
	if p.Text == "" && p.MediaURL == "" && len(p.MediaURLs) == 0 {
		return
	}

	r.payloads = append(r.payloads, p)
	if r.deliver != nil {
		r.deliver(p)
	}
}

// terminalTextRE matches "text":"..." occurrences in raw protocol output,
// used as a best-effort fallback when no envelope parsed.
var terminalTextRE = regexp.MustCompile(`"text"\s*:\s*("(?:[^"\\]|\\.)*")`)

// scanTerminalText returns the last non-empty "text" string literal found
// in the raw output, JSON-unescaped.
func scanTerminalText(raw string) string {
	matches := terminalTextRE.FindAllStringSubmatch(raw, -1)
	for i := len(matches) - 1; i >= 0; i-- {
		var s string
		if err := json.Unmarshal([]byte(matches[i][1]), &s); err != nil {
			continue
		}
		if s = strings.TrimSpace(s); s != "" {
			return s
		}
	}
	return ""
}

// echoesPrompt reports whether a fallback text is, after normalization,
// identical to the original prompt body. Delivering such a fallback would
// send the user's own message back as if it were a reply.
func echoesPrompt(text, prompt string) bool {
	if prompt == "" {
		return false
	}
	return normalizeForEchoCheck(text) == normalizeForEchoCheck(prompt)
}

// normalizeForEchoCheck applies NFKC normalization, case folding,
// structural-prefix stripping and whitespace collapsing.
func normalizeForEchoCheck(s string) string {
	s = norm.NFKC.String(s)
	s = strings.ToLower(s)

	fields := strings.Fields(s)
	var kept []string
	for _, f := range fields {
		if strings.HasPrefix(f, "@") {
			continue // Mention prefixes are structural, not content.
		}
		kept = append(kept, f)
	}
	return strings.Join(kept, " ")
}
