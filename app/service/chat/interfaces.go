package chat

import "context"

// Transport runs one turn against a backend. The returned channel yields
// deltas in order, then exactly one EventDone or EventError, then closes.
type Transport interface {
	Stream(ctx context.Context, payload *Payload) <-chan Event
}

// Poster sends a request that is answered with a single JSON body.
type Poster interface {
	PostChat(ctx context.Context, payload *Payload) (*Response, error)
}

// StreamPoster sends a request that is answered with an event stream.
type StreamPoster interface {
	PostChatStream(ctx context.Context, payload *Payload) (*Response, error)
}

type SettingsProvider interface {
	LoadSettings(ctx context.Context, userID string) (*Settings, error)
}

type ConversationRegistry interface {
	CreateConversation(ctx context.Context, userID string) (string, error)
}

// IdentityProvider supplies the current user identifier, empty when signed out.
type IdentityProvider interface {
	Current() string
}
