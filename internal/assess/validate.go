package assess

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Validate decodes raw JSON and checks it against the assessment schema.
// Schema conformance is a precondition for persistence; content hygiene
// (URLs, keyword lists) is the sanitizer's concern and is not rejected here.
// All violations are collected before returning.
func Validate(raw []byte) (*AssessmentResult, error) {
	var result AssessmentResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("decode assessment: %w", err)
	}

	errs := &ValidationErrors{}

	if result.Level < MinLevel || result.Level > MaxLevel {
		errs.Addf("level", result.Level, "must be between %d and %d", MinLevel, MaxLevel)
	}
	if result.Confidence < 0 || result.Confidence > 1 {
		errs.Addf("confidence", result.Confidence, "must be between 0 and 1")
	}

	n := len(result.LearningModules)
	if n < MinModules || n > MaxModules {
		errs.Addf("learningModules", n, "must contain between %d and %d modules", MinModules, MaxModules)
	}

	for i, m := range result.LearningModules {
		field := func(name string) string {
			return fmt.Sprintf("learningModules[%d].%s", i, name)
		}
		if strings.TrimSpace(m.ID) == "" {
			errs.Addf(field("id"), nil, "must not be empty")
		}
		if strings.TrimSpace(m.Title) == "" {
			errs.Addf(field("title"), nil, "must not be empty")
		}
		if !ModuleTypes[m.Type] {
			errs.Addf(field("type"), m.Type, "must be one of %s", moduleTypeList())
		}
		if strings.TrimSpace(m.Duration) == "" {
			errs.Addf(field("duration"), nil, "must not be empty")
		}
	}

	if err := errs.ToError(); err != nil {
		return nil, err
	}
	return &result, nil
}

func moduleTypeList() string {
	types := make([]string, 0, len(ModuleTypes))
	for t := range ModuleTypes {
		types = append(types, t)
	}
	sort.Strings(types)
	return strings.Join(types, ", ")
}
