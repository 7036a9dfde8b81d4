package llm

import (
	"context"
	"critiquebar/app/config"
	"critiquebar/app/service/chat"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func chunk(content string) string {
	return fmt.Sprintf(`data: {"id":"c1","object":"chat.completion.chunk","created":1,"model":"m","choices":[{"index":0,"delta":{"content":%q}}]}`+"\n\n", content)
}

func newTestTransport(t *testing.T, handler http.HandlerFunc, waits *[]time.Duration) *Transport {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client := createClient(config.OpenAI{BaseURL: server.URL, Token: "test-token"}, time.Second)
	sleep := func(ctx context.Context, d time.Duration) error {
		if waits != nil {
			*waits = append(*waits, d)
		}
		return ctx.Err()
	}

	return New(client, "", chat.DefaultRetryPolicy(), sleep)
}

func drain(t *testing.T, events <-chan chat.Event) []chat.Event {
	t.Helper()

	var result []chat.Event
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return result
			}
			result = append(result, ev)
		case <-timeout:
			require.FailNow(t, "timed out waiting for events")
		}
	}
}

func TestTransport_Streams(t *testing.T) {
	requests := make(chan openai.ChatCompletionRequest, 1)

	transport := newTestTransport(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))

		var req openai.ChatCompletionRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		requests <- req

		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = io.WriteString(w, chunk("⭐️ Layout\n"))
		_, _ = io.WriteString(w, chunk(""))
		_, _ = io.WriteString(w, chunk("🔴 cramped"))
		_, _ = io.WriteString(w, "data: [DONE]\n\n")
	}, nil)

	events := drain(t, transport.Stream(context.Background(), &chat.Payload{
		UserID:       "designer@example.com",
		Model:        "gpt-4o",
		SystemPrompt: "Critique.",
		Message:      chat.Content{Text: "hi"},
	}))

	require.Len(t, events, 3)
	assert.Equal(t, chat.Event{Type: chat.EventDelta, Text: "⭐️ Layout\n"}, events[0])
	assert.Equal(t, chat.Event{Type: chat.EventDelta, Text: "🔴 cramped"}, events[1])
	assert.Equal(t, chat.Event{Type: chat.EventDone, Text: "⭐️ Layout\n🔴 cramped"}, events[2])

	received := <-requests
	assert.Equal(t, "gpt-4o", received.Model)
	assert.True(t, received.Stream)
	assert.Equal(t, "designer@example.com", received.User)
	require.Len(t, received.Messages, 2)
	assert.Equal(t, openai.ChatMessageRoleSystem, received.Messages[0].Role)
	assert.Equal(t, "hi", received.Messages[1].Content)
}

func TestTransport_RetriesOpening(t *testing.T) {
	var calls atomic.Int32
	var waits []time.Duration

	transport := newTestTransport(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}

		_, _ = io.WriteString(w, chunk("ok"))
		_, _ = io.WriteString(w, "data: [DONE]\n\n")
	}, &waits)

	events := drain(t, transport.Stream(context.Background(), &chat.Payload{}))

	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, []time.Duration{500 * time.Millisecond}, waits)
	assert.Equal(t, chat.EventDone, events[len(events)-1].Type)
}

func TestTransport_RemoteError(t *testing.T) {
	var calls atomic.Int32

	transport := newTestTransport(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"error":{"message":"image too large","type":"invalid_request_error"}}`)
	}, nil)

	events := drain(t, transport.Stream(context.Background(), &chat.Payload{}))

	require.Len(t, events, 1)
	assert.ErrorIs(t, events[0].Err, chat.ErrRemote)
	assert.Equal(t, "image too large", chat.Describe(events[0].Err))
	assert.Equal(t, int32(1), calls.Load())
}

func TestTransport_Request(t *testing.T) {
	transport := New(nil, "override-model", chat.DefaultRetryPolicy(), nil)

	req := transport.request(&chat.Payload{
		Model: "gpt-4",
		History: []chat.Message{
			{Role: chat.RoleUser, Content: "before"},
			{Role: chat.RoleAssistant, Content: "answer"},
		},
		Message: chat.Content{Text: "look", ImageURL: "data:image/jpeg;base64,AAA"},
	})

	assert.Equal(t, "override-model", req.Model)
	require.Len(t, req.Messages, 3)
	assert.Equal(t, "before", req.Messages[0].Content)
	assert.Equal(t, openai.ChatMessageRoleAssistant, req.Messages[1].Role)

	user := req.Messages[2]
	assert.Empty(t, user.Content)
	require.Len(t, user.MultiContent, 2)
	assert.Equal(t, "look", user.MultiContent[0].Text)
	assert.Equal(t, "data:image/jpeg;base64,AAA", user.MultiContent[1].ImageURL.URL)
}

func TestClassify(t *testing.T) {
	assert.True(t, chat.IsTransient(classify(context.Background(), &openai.RequestError{HTTPStatusCode: 502})))
	assert.ErrorIs(t, classify(context.Background(), &openai.APIError{HTTPStatusCode: 401, Message: "bad key"}), chat.ErrRemote)
	assert.ErrorIs(t, classify(context.Background(), io.ErrUnexpectedEOF), chat.ErrTransientTransport)
}
