// Package generate drives the generative-text capability and turns its
// unreliable free-text output into a terminal session state: done with a
// schema-valid assessment in the buffer, or error.
package generate

import (
	"context"
)

// Message is one turn of conversation content sent to the generator.
type Message struct {
	Role    string // system, user, assistant
	Content string
}

// Request parameterizes one generation call.
type Request struct {
	System      string
	Messages    []Message
	Temperature float32
	MaxTokens   int
}

// Chunk is a single fragment of streamed output.
type Chunk struct {
	Delta        string
	FinishReason string
}

// Stream delivers generation output incrementally.
type Stream interface {
	// Recv returns the next chunk, or io.EOF when the stream is exhausted.
	Recv() (*Chunk, error)
	Close() error
}

// Provider is the generative-text capability: one streaming call and one
// blocking call, both over the same prompt shape. Implementations must treat
// their output as untrusted prose; callers do the validating.
type Provider interface {
	// GenerateStream opens a streaming generation call.
	GenerateStream(ctx context.Context, req Request) (Stream, error)

	// Generate issues a one-shot, non-streaming call and returns the
	// complete text blob.
	Generate(ctx context.Context, req Request) (string, error)
}
