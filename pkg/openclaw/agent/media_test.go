package agent

import (
	"reflect"
	"strings"
	"testing"
)

func TestExtractMediaTokensURL(t *testing.T) {
	ex := ExtractMediaTokens("Here is the chart MEDIA:https://example.com/chart.png done")
	if want := []string{"https://example.com/chart.png"}; !reflect.DeepEqual(ex.MediaURLs, want) {
		t.Errorf("urls = %v, want %v", ex.MediaURLs, want)
	}
	if ex.Text != "Here is the chart done" {
		t.Errorf("text = %q", ex.Text)
	}
}

func TestExtractMediaTokensLocalPath(t *testing.T) {
	ex := ExtractMediaTokens("MEDIA:/tmp/out.png")
	if want := []string{"/tmp/out.png"}; !reflect.DeepEqual(ex.MediaURLs, want) {
		t.Errorf("urls = %v, want %v", ex.MediaURLs, want)
	}
	if strings.TrimSpace(ex.Text) != "" {
		t.Errorf("text = %q, want empty", ex.Text)
	}
}

func TestExtractMediaTokensFileScheme(t *testing.T) {
	ex := ExtractMediaTokens("MEDIA:file:///tmp/out.png")
	if want := []string{"/tmp/out.png"}; !reflect.DeepEqual(ex.MediaURLs, want) {
		t.Errorf("urls = %v, want file scheme stripped: %v", ex.MediaURLs, want)
	}
}

func TestExtractMediaTokensWrapped(t *testing.T) {
	ex := ExtractMediaTokens("See `MEDIA:/tmp/x.png` for details")
	if want := []string{"/tmp/x.png"}; !reflect.DeepEqual(ex.MediaURLs, want) {
		t.Errorf("urls = %v, want %v", ex.MediaURLs, want)
	}
	if strings.Contains(ex.Text, "`") && strings.Contains(ex.Text, "MEDIA") {
		t.Errorf("token not removed: %q", ex.Text)
	}
}

func TestExtractMediaTokensFencedBlockUntouched(t *testing.T) {
	in := "before\n```\nMEDIA:/tmp/inside.png\n```\nafter MEDIA:/tmp/outside.png"
	ex := ExtractMediaTokens(in)
	if want := []string{"/tmp/outside.png"}; !reflect.DeepEqual(ex.MediaURLs, want) {
		t.Errorf("urls = %v, want only token outside the fence", ex.MediaURLs)
	}
	if !strings.Contains(ex.Text, "MEDIA:/tmp/inside.png") {
		t.Errorf("fenced token removed: %q", ex.Text)
	}
}

func TestExtractMediaTokensInvalidLeftInPlace(t *testing.T) {
	in := "result MEDIA:notapath end"
	ex := ExtractMediaTokens(in)
	if len(ex.MediaURLs) != 0 {
		t.Errorf("urls = %v, want none", ex.MediaURLs)
	}
	if ex.Text != in {
		t.Errorf("text changed: %q", ex.Text)
	}
}

func TestExtractMediaTokensOverlongLeftInPlace(t *testing.T) {
	in := "MEDIA:/" + strings.Repeat("a", mediaCandidateMaxChars)
	ex := ExtractMediaTokens(in)
	if len(ex.MediaURLs) != 0 {
		t.Errorf("urls = %v, want none for overlong candidate", ex.MediaURLs)
	}
	if ex.Text != in {
		t.Errorf("text changed: %q", ex.Text[:40])
	}
}

func TestExtractMediaTokensMultiple(t *testing.T) {
	ex := ExtractMediaTokens("MEDIA:/a.png and MEDIA:https://example.com/b.png")
	want := []string{"/a.png", "https://example.com/b.png"}
	if !reflect.DeepEqual(ex.MediaURLs, want) {
		t.Errorf("urls = %v, want %v", ex.MediaURLs, want)
	}
}

func TestExtractMediaTokensVoiceTag(t *testing.T) {
	ex := ExtractMediaTokens("[[audio_as_voice]] MEDIA:/tmp/reply.ogg")
	if !ex.Voice {
		t.Error("voice tag not detected")
	}
	if strings.Contains(ex.Text, "[[audio_as_voice]]") {
		t.Errorf("voice tag not removed: %q", ex.Text)
	}
}

func TestExtractMediaTokensIdempotent(t *testing.T) {
	first := ExtractMediaTokens("report MEDIA:/tmp/a.png and MEDIA:notvalid plus `MEDIA:https://example.com/x.png`")
	second := ExtractMediaTokens(first.Text)
	if len(second.MediaURLs) != 0 {
		t.Errorf("second pass extracted %v", second.MediaURLs)
	}
	if second.Text != first.Text {
		t.Errorf("second pass changed text: %q vs %q", second.Text, first.Text)
	}
}
