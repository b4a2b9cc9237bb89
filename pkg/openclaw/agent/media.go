// media.go extracts MEDIA: tokens from agent output text. Tokens reference
// media the agent wants delivered alongside its reply (a URL or a local
// file path); the surrounding text is returned with the tokens removed.
package agent

import (
	"strings"
)

// voiceTag marks a reply whose audio attachment should be sent as a voice
// note instead of an audio file. Stripped from the text wherever it appears.
const voiceTag = "[[audio_as_voice]]"

// mediaTokenPrefix introduces a media reference inside reply text.
const mediaTokenPrefix = "MEDIA:"

// mediaCandidateMaxChars caps the length of a media candidate. Longer
// candidates are left untouched in the text.
const mediaCandidateMaxChars = 1024

// wrapperChars are the characters a MEDIA: candidate may be wrapped in.
const wrapperChars = "`\"'()[]<>"

// MediaExtraction is the result of scanning one text segment.
type MediaExtraction struct {
	// Text is the input with valid MEDIA: tokens and the voice tag removed.
	Text string

	// MediaURLs lists extracted references in order of appearance.
	MediaURLs []string

	// Voice is true when the voice tag was present.
	Voice bool
}

// ExtractMediaTokens pulls MEDIA:<candidate> tokens out of text. Candidates
// are whitespace-delimited, optionally wrapped in backticks/brackets/quotes,
// and must be an http(s) URL or an absolute/relative filesystem path under
// mediaCandidateMaxChars. A leading file:// scheme is stripped. Invalid
// candidates are left untouched rather than silently dropped. Tokens inside
// fenced code blocks are never extracted.
//
// The extraction is idempotent: running it on its own cleaned output finds
// no further tokens and returns identical text.
func ExtractMediaTokens(text string) MediaExtraction {
	out := MediaExtraction{}

	if strings.Contains(text, voiceTag) {
		out.Voice = true
		text = strings.ReplaceAll(text, voiceTag, "")
	}

	lines := strings.Split(text, "\n")
	inFence := false
	for i, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			inFence = !inFence
			continue
		}
		if inFence {
			continue
		}
		lines[i] = extractFromLine(line, &out.MediaURLs)
	}

	out.Text = strings.Join(lines, "\n")
	return out
}

// extractFromLine removes valid MEDIA: tokens from a single line, appending
// the extracted references to refs.
func extractFromLine(line string, refs *[]string) string {
	pos := 0
	for {
		idx := strings.Index(line[pos:], mediaTokenPrefix)
		if idx < 0 {
			return line
		}
		idx += pos

		candStart := idx + len(mediaTokenPrefix)
		candEnd := candStart
		for candEnd < len(line) && !isSpace(line[candEnd]) {
			candEnd++
		}

		cand := strings.Trim(line[candStart:candEnd], wrapperChars)
		cand = strings.TrimPrefix(cand, "file://")

		if !validMediaCandidate(cand) {
			// Leave the token in place and keep scanning after it.
			pos = candStart
			continue
		}

		*refs = append(*refs, cand)

		// Remove the token, swallowing wrapping punctuation that leads
		// into it and one separating space so no double gap remains.
		start := idx
		for start > 0 && strings.IndexByte(wrapperChars, line[start-1]) >= 0 {
			start--
		}
		if start > 0 && line[start-1] == ' ' && (candEnd == len(line) || line[candEnd] == ' ') {
			start--
		}
		line = line[:start] + line[candEnd:]
		pos = start
	}
}

// validMediaCandidate reports whether a trimmed candidate is an http(s) URL
// or an absolute/relative local path within the length cap.
func validMediaCandidate(cand string) bool {
	if cand == "" || len(cand) >= mediaCandidateMaxChars {
		return false
	}
	if strings.ContainsAny(cand, " \t") {
		return false
	}
	if strings.HasPrefix(cand, "http://") || strings.HasPrefix(cand, "https://") {
		return len(cand) > len("https://")
	}
	for _, p := range []string{"/", "./", "../", "~/"} {
		if strings.HasPrefix(cand, p) && len(cand) > len(p) {
			return true
		}
	}
	return false
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\t'
}
