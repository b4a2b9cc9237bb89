// Package agent implements the agent invocation pipeline: argv construction,
// the subprocess RPC runner, the command queue and the event-stream reducer
// that reassembles assistant and tool activity from the line protocol the
// agent emits in RPC mode.
package agent

import (
	"encoding/json"
	"strings"
)

// EventKind identifies the variant of a protocol event envelope.
type EventKind string

const (
	EventToolStart    EventKind = "tool_start"
	EventToolResult   EventKind = "tool_result"
	EventMessageDelta EventKind = "message_delta"
	EventMessageEnd   EventKind = "message_end"
)

// Event is one parsed line of the agent's RPC stdout protocol.
type Event struct {
	Kind       EventKind
	ToolName   string
	ToolCallID string
	Args       json.RawMessage

	// Meta is a one-line summary of a tool result, used for aggregation.
	Meta string

	// Text carries assistant text (delta or full message) or the full
	// tool result text.
	Text string
}

// rawEnvelope mirrors the wire shape of one protocol line. Unknown fields
// are ignored by encoding/json, unknown types by ParseEvent.
type rawEnvelope struct {
	Type       string          `json:"type"`
	ToolName   string          `json:"toolName"`
	ToolCallID string          `json:"toolCallId"`
	Args       json.RawMessage `json:"args"`
	Text       string          `json:"text"`
	Message    *rawMessage     `json:"message"`
}

type rawMessage struct {
	Role       string            `json:"role"`
	ToolName   string            `json:"toolName"`
	ToolCallID string            `json:"toolCallId"`
	Content    []rawContentBlock `json:"content"`
}

type rawContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// metaMaxChars caps the per-result summary line kept in tool aggregates.
const metaMaxChars = 160

// ParseEvent parses one stdout line into an Event. The second return is
// false for blank lines, non-JSON lines and unknown envelope types; callers
// skip those without failing the run.
func ParseEvent(line string) (Event, bool) {
	line = strings.TrimSpace(line)
	if line == "" || line[0] != '{' {
		return Event{}, false
	}

	var raw rawEnvelope
	if err := json.Unmarshal([]byte(line), &raw); err != nil {
		return Event{}, false
	}

	switch raw.Type {
	case "tool_execution_start":
		if raw.ToolName == "" {
			return Event{}, false
		}
		return Event{
			Kind:       EventToolStart,
			ToolName:   raw.ToolName,
			ToolCallID: raw.ToolCallID,
			Args:       raw.Args,
		}, true

	case "message":
		// Only toolResult messages are part of the reducer protocol;
		// other roles arrive via message_end.
		if raw.Message == nil || raw.Message.Role != "toolResult" {
			return Event{}, false
		}
		name := raw.Message.ToolName
		if name == "" {
			name = raw.ToolName
		}
		callID := raw.Message.ToolCallID
		if callID == "" {
			callID = raw.ToolCallID
		}
		text := joinTextBlocks(raw.Message.Content)
		return Event{
			Kind:       EventToolResult,
			ToolName:   name,
			ToolCallID: callID,
			Meta:       resultMeta(name, text),
			Text:       text,
		}, true

	case "text_delta":
		if raw.Text == "" {
			return Event{}, false
		}
		return Event{Kind: EventMessageDelta, Text: raw.Text}, true

	case "message_end":
		if raw.Message == nil {
			return Event{}, false
		}
		return Event{
			Kind: EventMessageEnd,
			Text: joinTextBlocks(raw.Message.Content),
		}, true
	}

	return Event{}, false
}

// joinTextBlocks concatenates the text content blocks of a message.
func joinTextBlocks(blocks []rawContentBlock) string {
	var parts []string
	for _, b := range blocks {
		if b.Type == "text" && b.Text != "" {
			parts = append(parts, b.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// resultMeta builds the one-line aggregate summary for a tool result:
// the first non-empty line of its text, capped at metaMaxChars, or the
// tool name when the result carries no text.
func resultMeta(toolName, text string) string {
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if len(line) > metaMaxChars {
			return line[:metaMaxChars] + "…"
		}
		return line
	}
	return toolName
}
