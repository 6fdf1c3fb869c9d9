// Package assess defines the assessment payload produced by the generation
// pipeline and the pure functions that extract, validate and sanitize it.
// The generator is untrusted free text; nothing in this package does I/O.
package assess

// Bounds enforced on a validated assessment.
const (
	// MinLevel and MaxLevel bound the skill-level scale.
	MinLevel = 1
	MaxLevel = 10

	// MinModules and MaxModules bound the learning path length.
	MinModules = 3
	MaxModules = 10

	// MinKeywords and MaxKeywords bound the per-module search keyword list.
	MinKeywords = 3
	MaxKeywords = 10
)

// ModuleTypes is the fixed enumeration of learning module kinds.
var ModuleTypes = map[string]bool{
	"article": true,
	"video":   true,
	"quiz":    true,
	"project": true,
}

// AssessmentResult is the validated payload of one assessment turn.
type AssessmentResult struct {
	// Level is the assessed skill level on the MinLevel..MaxLevel scale.
	Level int `json:"level"`
	// Confidence is the generator's self-reported confidence in 0..1.
	Confidence float64 `json:"confidence"`
	// Reasoning is an optional free-text justification.
	Reasoning string `json:"reasoning,omitempty"`
	// LearningModules is the ordered learning path.
	LearningModules []ModuleItem `json:"learningModules"`
}

// ModuleItem is one step of a learning path.
type ModuleItem struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Type     string `json:"type"`
	Duration string `json:"duration"`

	Description    string   `json:"description,omitempty"`
	Objectives     []string `json:"objectives,omitempty"`
	Outline        []string `json:"outline,omitempty"`
	ResourceURL    string   `json:"resourceUrl,omitempty"`
	SearchKeywords []string `json:"searchKeywords,omitempty"`
}
