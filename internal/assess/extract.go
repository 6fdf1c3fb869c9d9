package assess

import (
	"encoding/json"
	"regexp"
	"strings"
)

var (
	fencedBlockRe   = regexp.MustCompile("(?s)```(?:json)?\\s*(\\{.*?\\})\\s*```")
	trailingCommaRe = regexp.MustCompile(`,\s*([}\]])`)
)

// ExtractJSON scans arbitrary generator output for an embedded JSON object.
// Fenced code blocks are tried first, then the largest balanced brace span.
// It returns the raw object bytes and whether one was found; it never panics
// and never returns unparseable bytes.
func ExtractJSON(text string) ([]byte, bool) {
	for _, match := range fencedBlockRe.FindAllStringSubmatch(text, -1) {
		if raw, ok := tryObject(match[1]); ok {
			return raw, true
		}
	}

	if span := largestBraceSpan(text); span != "" {
		if raw, ok := tryObject(span); ok {
			return raw, true
		}
	}

	return nil, false
}

// tryObject parses the candidate as a JSON object, retrying once after
// stripping trailing commas, the most common generator slip.
func tryObject(candidate string) ([]byte, bool) {
	candidate = strings.TrimSpace(candidate)
	if candidate == "" || candidate[0] != '{' {
		return nil, false
	}

	var obj map[string]any
	if err := json.Unmarshal([]byte(candidate), &obj); err == nil {
		return []byte(candidate), true
	}

	fixed := trailingCommaRe.ReplaceAllString(candidate, "$1")
	if err := json.Unmarshal([]byte(fixed), &obj); err == nil {
		return []byte(fixed), true
	}

	return nil, false
}

// largestBraceSpan returns the longest top-level {...} span in text,
// respecting string literals and escapes. Unclosed spans are ignored, which
// is what makes per-chunk extraction attempts cheap mid-stream.
func largestBraceSpan(text string) string {
	var best string
	depth := 0
	start := -1
	inString := false
	escaped := false

	for i, ch := range text {
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}

		switch ch {
		case '"':
			if depth > 0 {
				inString = true
			}
		case '{':
			if depth == 0 {
				start = i
			}
			depth++
		case '}':
			if depth == 0 {
				continue
			}
			depth--
			if depth == 0 && start >= 0 {
				if span := text[start : i+1]; len(span) > len(best) {
					best = span
				}
			}
		}
	}

	return best
}
