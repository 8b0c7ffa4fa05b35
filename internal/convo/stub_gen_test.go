package convo

import (
	"context"
	"sync"

	"github.com/leadrelay/leadrelay/internal/genai"
	"github.com/leadrelay/leadrelay/internal/models"
)

// stubGen is a scripted genai.ClientInterface. Each Generate call consumes
// the next queued result; an empty queue returns a plain reply.
type stubGen struct {
	mu    sync.Mutex
	queue []stubResult
	calls []models.PromptConfig
}

type stubResult struct {
	content string
	err     error
}

func (s *stubGen) enqueue(content string) {
	s.queue = append(s.queue, stubResult{content: content})
}

func (s *stubGen) enqueueErr(err error) {
	s.queue = append(s.queue, stubResult{err: err})
}

func (s *stubGen) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

func (s *stubGen) Generate(ctx context.Context, cfg models.PromptConfig) (*genai.GenerationResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, cfg)
	if len(s.queue) == 0 {
		return &genai.GenerationResult{Content: "Sounds good, happy to help!", Model: cfg.Model,
			Usage: models.TokenUsage{Input: 10, Output: 5, Total: 15}}, nil
	}
	next := s.queue[0]
	s.queue = s.queue[1:]
	if next.err != nil {
		return nil, next.err
	}
	return &genai.GenerationResult{Content: next.content, Model: cfg.Model,
		Usage: models.TokenUsage{Input: 10, Output: 5, Total: 15}}, nil
}
