package generate

import (
	"fmt"
	"strings"

	"github.com/pathwise-ai/pathwise/internal/assess"
)

// languageNames maps locale prefixes to the language the generator should
// answer in. Unknown locales fall back to English.
var languageNames = map[string]string{
	"en": "English",
	"es": "Spanish",
	"fr": "French",
	"de": "German",
	"pt": "Portuguese",
	"ja": "Japanese",
}

func languageFor(locale string) string {
	code, _, _ := strings.Cut(strings.ToLower(locale), "-")
	if name, ok := languageNames[code]; ok {
		return name
	}
	return "English"
}

// AssessmentPrompt builds the system prompt for the primary streaming call.
func AssessmentPrompt(locale, skillID string) string {
	return fmt.Sprintf(`You are a skill assessment coach for the skill %q.
Assess the learner's level from their message and design a learning path.
Write prose in %s.

Reply with a JSON object in a fenced code block:
{
  "level": <integer %d-%d>,
  "confidence": <number 0-1>,
  "reasoning": "<short justification>",
  "learningModules": [
    {
      "id": "<slug>",
      "title": "<module title>",
      "type": "article" | "video" | "quiz" | "project",
      "duration": "<free text, e.g. 30 min>",
      "description": "<optional>",
      "objectives": ["<optional>"],
      "resourceUrl": "<optional public https link>",
      "searchKeywords": ["<%d-%d multi-word phrases>"]
    }
  ]
}
Include between %d and %d learning modules.`,
		skillID, languageFor(locale),
		assess.MinLevel, assess.MaxLevel,
		assess.MinKeywords, assess.MaxKeywords,
		assess.MinModules, assess.MaxModules)
}

// RepairPrompt builds the system prompt for the fallback one-shot call. It
// demands nothing but a single fenced JSON block.
func RepairPrompt(locale, skillID string) string {
	return fmt.Sprintf(`Your previous answer for the skill assessment of %q could not be parsed.
Respond with EXACTLY ONE fenced JSON code block and nothing else: no prose
before or after it. The object must have the fields level (integer %d-%d),
confidence (0-1), reasoning, and learningModules (%d-%d entries with id,
title, type of article/video/quiz/project, duration). Prose values are
written in %s.`,
		skillID,
		assess.MinLevel, assess.MaxLevel,
		assess.MinModules, assess.MaxModules,
		languageFor(locale))
}
