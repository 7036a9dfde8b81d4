package identity

import (
	"critiquebar/app/config"
	"log/slog"
	"strings"
	"sync"

	"github.com/samber/do"
)

const subscriberBufferSize = 4

var _ do.Shutdownable = (*Service)(nil)

// Service holds the current user identifier and notifies subscribers when it
// changes. The identifier is opaque; an empty one means signed out.
type Service struct {
	mu          sync.RWMutex
	current     string
	subscribers []chan string
	closed      bool
}

func New(di *do.Injector) (*Service, error) {
	cfg := do.MustInvoke[*config.Config](di)

	return NewWithEmail(cfg.Identity.Email), nil
}

func NewWithEmail(email string) *Service {
	return &Service{
		current: strings.TrimSpace(email),
	}
}

func (s *Service) Current() string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.current
}

// Set replaces the identifier and reports whether it changed.
func (s *Service) Set(email string) bool {
	email = strings.TrimSpace(email)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || s.current == email {
		return false
	}

	s.current = email
	for _, sub := range s.subscribers {
		select {
		case sub <- email:
		default:
			slog.Warn("Identity subscriber is lagging, change dropped")
		}
	}

	slog.Info("Identity changed", "signed_in", email != "")

	return true
}

// Subscribe returns a channel receiving every new identifier. It is closed on
// shutdown.
func (s *Service) Subscribe() <-chan string {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch := make(chan string, subscriberBufferSize)
	if s.closed {
		close(ch)
		return ch
	}

	s.subscribers = append(s.subscribers, ch)

	return ch
}

func (s *Service) Shutdown() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}

	s.closed = true
	for _, sub := range s.subscribers {
		close(sub)
	}
	s.subscribers = nil

	return nil
}
