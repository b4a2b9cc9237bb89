package agent

import (
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"
)

func toolStartLine(name string) string {
	return fmt.Sprintf(`{"type":"tool_execution_start","toolName":%q}`, name)
}

func toolResultLine(name, text string) string {
	q, _ := json.Marshal(text)
	return fmt.Sprintf(`{"type":"message","message":{"role":"toolResult","toolName":%q,"content":[{"type":"text","text":%s}]}}`, name, q)
}

func deltaLine(text string) string {
	q, _ := json.Marshal(text)
	return fmt.Sprintf(`{"type":"text_delta","text":%s}`, q)
}

func messageEndLine(text string) string {
	q, _ := json.Marshal(text)
	return fmt.Sprintf(`{"type":"message_end","message":{"role":"assistant","content":[{"type":"text","text":%s}]}}`, q)
}

func TestReducerToolNameChangeFlushes(t *testing.T) {
	r := NewStreamReducer(ReducerConfig{DebounceMs: 60_000}, "", nil)

	r.HandleLine(toolResultLine("read", "read a"))
	r.HandleLine(toolResultLine("read", "read b"))
	r.HandleLine(toolResultLine("bash", "bash a"))
	r.HandleLine(toolResultLine("bash", "bash b"))

	payloads := r.Finalize("")
	if len(payloads) != 2 {
		t.Fatalf("payloads = %d, want 2 aggregates", len(payloads))
	}
	if want := "⚙️ read\n• read a\n• read b"; payloads[0].Text != want {
		t.Errorf("first aggregate = %q, want %q", payloads[0].Text, want)
	}
	if want := "⚙️ bash\n• bash a\n• bash b"; payloads[1].Text != want {
		t.Errorf("second aggregate = %q, want %q", payloads[1].Text, want)
	}
}

func TestReducerDebounceFlush(t *testing.T) {
	delivered := make(chan ReplyPayload, 4)
	r := NewStreamReducer(ReducerConfig{DebounceMs: 30}, "", func(p ReplyPayload) {
		delivered <- p
	})

	r.HandleLine(toolResultLine("bash", "one"))
	r.HandleLine(toolResultLine("bash", "two"))

	select {
	case p := <-delivered:
		if want := "⚙️ bash\n• one\n• two"; p.Text != want {
			t.Errorf("payload = %q, want %q", p.Text, want)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("debounce flush never fired")
	}

	select {
	case p := <-delivered:
		t.Errorf("unexpected second flush: %q", p.Text)
	case <-time.After(150 * time.Millisecond):
	}
}

func TestReducerMetaCountFlush(t *testing.T) {
	var delivered []ReplyPayload
	r := NewStreamReducer(ReducerConfig{DebounceMs: 60_000, MetaFlushCount: 3}, "", func(p ReplyPayload) {
		delivered = append(delivered, p)
	})

	r.HandleLine(toolResultLine("bash", "one"))
	r.HandleLine(toolResultLine("bash", "two"))
	if len(delivered) != 0 {
		t.Fatalf("flushed before reaching the count: %v", delivered)
	}
	r.HandleLine(toolResultLine("bash", "three"))
	if len(delivered) != 1 {
		t.Fatalf("delivered = %d, want 1 flush at the count threshold", len(delivered))
	}
}

func TestReducerToolActivityPrecedesText(t *testing.T) {
	r := NewStreamReducer(ReducerConfig{DebounceMs: 60_000}, "", nil)

	r.HandleLine(toolStartLine("bash"))
	r.HandleLine(toolResultLine("bash", "ls output"))
	r.HandleLine(messageEndLine("done"))

	payloads := r.Finalize("")
	if len(payloads) != 2 {
		t.Fatalf("payloads = %d, want 2", len(payloads))
	}
	if !strings.HasPrefix(payloads[0].Text, "⚙️ bash") {
		t.Errorf("first payload = %q, want tool aggregate first", payloads[0].Text)
	}
	if payloads[1].Text != "done" {
		t.Errorf("second payload = %q, want assistant text", payloads[1].Text)
	}
}

func TestReducerDuplicateMessageEndSuppressed(t *testing.T) {
	r := NewStreamReducer(ReducerConfig{}, "", nil)

	r.HandleLine(messageEndLine("same answer"))
	r.HandleLine(messageEndLine("same answer"))

	payloads := r.Finalize("")
	if len(payloads) != 1 {
		t.Errorf("payloads = %d, want duplicate suppressed", len(payloads))
	}
}

func TestReducerDeltasAccumulateWithoutEmitting(t *testing.T) {
	var delivered []ReplyPayload
	r := NewStreamReducer(ReducerConfig{}, "", func(p ReplyPayload) {
		delivered = append(delivered, p)
	})

	r.HandleLine(deltaLine("partial "))
	r.HandleLine(deltaLine("answer"))
	if len(delivered) != 0 {
		t.Fatalf("deltas emitted payloads: %v", delivered)
	}
	if got := r.LastAssistantText(); got != "partial answer" {
		t.Errorf("LastAssistantText = %q, want accumulated deltas", got)
	}

	r.HandleLine(messageEndLine("partial answer"))
	if len(delivered) != 1 || delivered[0].Text != "partial answer" {
		t.Errorf("delivered = %v, want single final text", delivered)
	}
}

func TestReducerMediaExtractionOnEmit(t *testing.T) {
	r := NewStreamReducer(ReducerConfig{}, "", nil)
	r.HandleLine(messageEndLine("chart ready MEDIA:/tmp/chart.png"))

	payloads := r.Finalize("")
	if len(payloads) != 1 {
		t.Fatalf("payloads = %d, want 1", len(payloads))
	}
	if payloads[0].MediaURL != "/tmp/chart.png" {
		t.Errorf("MediaURL = %q", payloads[0].MediaURL)
	}
	if payloads[0].Text != "chart ready" {
		t.Errorf("text = %q", payloads[0].Text)
	}
}

func TestReducerFallbackToObservedDeltas(t *testing.T) {
	r := NewStreamReducer(ReducerConfig{}, "", nil)
	r.HandleLine(deltaLine("streamed but never ended"))

	payloads := r.Finalize("")
	if len(payloads) != 1 || payloads[0].Text != "streamed but never ended" {
		t.Errorf("payloads = %v, want delta fallback", payloads)
	}
}

func TestReducerFallbackScansRawOutput(t *testing.T) {
	raw := `{"type":"weird","text":"first"}` + "\n" + `{"type":"weird","text":"final answer"}` + "\n"
	r := NewStreamReducer(ReducerConfig{}, "", nil)

	payloads := r.Finalize(raw)
	if len(payloads) != 1 || payloads[0].Text != "final answer" {
		t.Errorf("payloads = %v, want last terminal text", payloads)
	}
}

func TestReducerFallbackRawTrimmed(t *testing.T) {
	r := NewStreamReducer(ReducerConfig{}, "", nil)
	payloads := r.Finalize("  plain output, no protocol  \n")
	if len(payloads) != 1 || payloads[0].Text != "plain output, no protocol" {
		t.Errorf("payloads = %v, want raw trimmed fallback", payloads)
	}
}

func TestReducerPromptEchoSuppressed(t *testing.T) {
	r := NewStreamReducer(ReducerConfig{}, "Summarize the logs", nil)

	// Echo differs only in mention prefix, case and spacing.
	payloads := r.Finalize("@agent  SUMMARIZE the   logs")
	if len(payloads) != 1 || payloads[0].Text != "The command completed but produced no output." {
		t.Errorf("payloads = %v, want echo suppressed into synthetic payload", payloads)
	}
}

func TestReducerNoOutputSynthetic(t *testing.T) {
	var delivered []ReplyPayload
	r := NewStreamReducer(ReducerConfig{}, "", func(p ReplyPayload) {
		delivered = append(delivered, p)
	})

	payloads := r.Finalize("")
	if len(payloads) != 1 || payloads[0].Text != "The command completed but produced no output." {
		t.Errorf("payloads = %v, want synthetic no-output payload", payloads)
	}
	if len(delivered) != 1 {
		t.Errorf("synthetic payload not delivered live")
	}
}

func TestReducerIgnoresGarbageLines(t *testing.T) {
	r := NewStreamReducer(ReducerConfig{}, "", nil)
	r.HandleLine("not json")
	r.HandleLine("")
	r.HandleLine(`{"type":"unknown"}`)
	r.HandleLine(messageEndLine("survived"))

	payloads := r.Finalize("")
	if len(payloads) != 1 || payloads[0].Text != "survived" {
		t.Errorf("payloads = %v", payloads)
	}
}
