package generate

import (
	"context"
	"io"
	"sync"
)

// MockProvider scripts generator behavior for tests: the streaming call
// replays StreamText in fixed-size chunks (or fails with StreamErr), the
// one-shot call returns RepairText (or RepairErr).
type MockProvider struct {
	StreamText string
	StreamErr  error
	RepairText string
	RepairErr  error
	ChunkSize  int

	mu          sync.Mutex
	streamCalls int
	repairCalls int
	lastRequest Request
}

// GenerateStream replays StreamText as a simulated stream.
func (m *MockProvider) GenerateStream(ctx context.Context, req Request) (Stream, error) {
	m.mu.Lock()
	m.streamCalls++
	m.lastRequest = req
	m.mu.Unlock()

	if m.StreamErr != nil {
		return nil, m.StreamErr
	}

	size := m.ChunkSize
	if size <= 0 {
		size = 16
	}
	return &scriptedStream{content: m.StreamText, chunkSize: size}, nil
}

// Generate returns the scripted repair output.
func (m *MockProvider) Generate(ctx context.Context, req Request) (string, error) {
	m.mu.Lock()
	m.repairCalls++
	m.lastRequest = req
	m.mu.Unlock()

	if m.RepairErr != nil {
		return "", m.RepairErr
	}
	return m.RepairText, nil
}

// StreamCalls reports how many streaming calls were opened.
func (m *MockProvider) StreamCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.streamCalls
}

// RepairCalls reports how many one-shot calls were issued.
func (m *MockProvider) RepairCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.repairCalls
}

// LastRequest returns the most recent request seen.
func (m *MockProvider) LastRequest() Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastRequest
}

// scriptedStream chunks a complete response as if it were streamed.
type scriptedStream struct {
	content   string
	chunkSize int
	position  int
	closed    bool
	mu        sync.Mutex
}

func (s *scriptedStream) Recv() (*Chunk, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || s.position >= len(s.content) {
		return nil, io.EOF
	}

	end := s.position + s.chunkSize
	if end > len(s.content) {
		end = len(s.content)
	}

	chunk := &Chunk{Delta: s.content[s.position:end]}
	s.position = end
	if s.position >= len(s.content) {
		chunk.FinishReason = "stop"
	}
	return chunk, nil
}

func (s *scriptedStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
