package queue

import (
	"log/slog"
	"sync"

	"github.com/samber/do"
)

const bufferSize = 64

var _ do.Shutdownable = (*Service)(nil)

// Service buffers prompts between the input reader and the engine. Adding
// never blocks; prompts are dropped when the buffer is full.
type Service struct {
	mu     sync.Mutex
	closed bool
	queue  chan Prompt
}

type Prompt struct {
	Text string
	// ImagePath points to a PNG or JPEG file to attach, empty for text only
	ImagePath string
	// Command is a control command such as reset, empty for chat prompts
	Command string
}

func New(_ *do.Injector) (*Service, error) {
	return &Service{
		queue: make(chan Prompt, bufferSize),
	}, nil
}

// Add enqueues p and reports whether it was accepted.
func (s *Service) Add(p Prompt) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false
	}

	select {
	case s.queue <- p:
		return true
	default:
		slog.Warn("Prompt queue is full")
		return false
	}
}

func (s *Service) Channel() <-chan Prompt {
	return s.queue
}

func (s *Service) Shutdown() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.closed {
		s.closed = true
		close(s.queue)
	}

	return nil
}
