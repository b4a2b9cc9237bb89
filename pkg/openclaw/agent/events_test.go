package agent

import (
	"strings"
	"testing"
)

func TestParseEventToolStart(t *testing.T) {
	line := `{"type":"tool_execution_start","toolName":"bash","toolCallId":"c1","args":{"cmd":"ls"}}`
	ev, ok := ParseEvent(line)
	if !ok {
		t.Fatal("expected event")
	}
	if ev.Kind != EventToolStart {
		t.Errorf("kind = %s, want %s", ev.Kind, EventToolStart)
	}
	if ev.ToolName != "bash" || ev.ToolCallID != "c1" {
		t.Errorf("tool = %s/%s, want bash/c1", ev.ToolName, ev.ToolCallID)
	}
}

func TestParseEventToolStartWithoutName(t *testing.T) {
	if _, ok := ParseEvent(`{"type":"tool_execution_start"}`); ok {
		t.Error("tool start without a name should be discarded")
	}
}

func TestParseEventToolResult(t *testing.T) {
	line := `{"type":"message","message":{"role":"toolResult","toolName":"read","content":[{"type":"text","text":"first line\nsecond line"}]}}`
	ev, ok := ParseEvent(line)
	if !ok {
		t.Fatal("expected event")
	}
	if ev.Kind != EventToolResult {
		t.Errorf("kind = %s, want %s", ev.Kind, EventToolResult)
	}
	if ev.Meta != "first line" {
		t.Errorf("meta = %q, want first non-empty line", ev.Meta)
	}
	if ev.Text != "first line\nsecond line" {
		t.Errorf("text = %q", ev.Text)
	}
}

func TestParseEventToolResultMetaCapped(t *testing.T) {
	long := strings.Repeat("x", 300)
	line := `{"type":"message","message":{"role":"toolResult","toolName":"read","content":[{"type":"text","text":"` + long + `"}]}}`
	ev, ok := ParseEvent(line)
	if !ok {
		t.Fatal("expected event")
	}
	if want := strings.Repeat("x", metaMaxChars) + "…"; ev.Meta != want {
		t.Errorf("meta not capped: len=%d", len(ev.Meta))
	}
}

func TestParseEventToolResultEmptyTextUsesName(t *testing.T) {
	line := `{"type":"message","message":{"role":"toolResult","toolName":"edit","content":[]}}`
	ev, ok := ParseEvent(line)
	if !ok {
		t.Fatal("expected event")
	}
	if ev.Meta != "edit" {
		t.Errorf("meta = %q, want tool name fallback", ev.Meta)
	}
}

func TestParseEventAssistantMessageDiscarded(t *testing.T) {
	line := `{"type":"message","message":{"role":"assistant","content":[{"type":"text","text":"hi"}]}}`
	if _, ok := ParseEvent(line); ok {
		t.Error("assistant message envelope should be discarded")
	}
}

func TestParseEventTextDelta(t *testing.T) {
	ev, ok := ParseEvent(`{"type":"text_delta","text":"par"}`)
	if !ok || ev.Kind != EventMessageDelta || ev.Text != "par" {
		t.Errorf("got %+v ok=%v", ev, ok)
	}

	if _, ok := ParseEvent(`{"type":"text_delta","text":""}`); ok {
		t.Error("empty delta should be discarded")
	}
}

func TestParseEventMessageEnd(t *testing.T) {
	line := `{"type":"message_end","message":{"role":"assistant","content":[{"type":"text","text":"part one"},{"type":"text","text":"part two"}]}}`
	ev, ok := ParseEvent(line)
	if !ok || ev.Kind != EventMessageEnd {
		t.Fatalf("got %+v ok=%v", ev, ok)
	}
	if ev.Text != "part one\npart two" {
		t.Errorf("text = %q, want joined blocks", ev.Text)
	}

	if _, ok := ParseEvent(`{"type":"message_end"}`); ok {
		t.Error("message_end without message should be discarded")
	}
}

func TestParseEventGarbage(t *testing.T) {
	for _, line := range []string{
		"",
		"   ",
		"not json at all",
		`{"type":"unknown_envelope"}`,
		`{"type":"message"}`,
		`{broken`,
	} {
		if _, ok := ParseEvent(line); ok {
			t.Errorf("line %q should be discarded", line)
		}
	}
}
