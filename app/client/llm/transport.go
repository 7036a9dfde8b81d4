package llm

import (
	"context"
	"critiquebar/app/config"
	"critiquebar/app/service/chat"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/elliotchance/pie/v2"
	"github.com/samber/do"
	"github.com/sashabaranov/go-openai"
)

var _ chat.Transport = (*Transport)(nil)

// Transport streams a turn straight from an OpenAI compatible endpoint,
// bypassing the proxy.
type Transport struct {
	client *openai.Client
	// model overrides the model picked by user settings when set
	model string
	retry chat.RetryPolicy
	sleep chat.Sleeper
}

func NewTransport(di *do.Injector) (*Transport, error) {
	cfg := do.MustInvoke[*config.Config](di)

	return New(createClient(cfg.OpenAI, cfg.Proxy.Timeout), cfg.OpenAI.Model, chat.NewRetryPolicy(cfg.Retry), nil), nil
}

func New(client *openai.Client, model string, retry chat.RetryPolicy, sleep chat.Sleeper) *Transport {
	if sleep == nil {
		sleep = chat.SleepContext
	}

	return &Transport{
		client: client,
		model:  model,
		retry:  retry,
		sleep:  sleep,
	}
}

func (t *Transport) Stream(ctx context.Context, payload *chat.Payload) <-chan chat.Event {
	out := make(chan chat.Event)

	go func() {
		defer close(out)

		stream, err := t.open(ctx, payload)
		if err != nil {
			chat.Emit(ctx, out, chat.Event{Type: chat.EventError, Err: err})
			return
		}
		defer stream.Close()

		var text strings.Builder
		for {
			resp, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				chat.Emit(ctx, out, chat.Event{Type: chat.EventDone, Text: text.String()})
				return
			}
			if err != nil {
				chat.Emit(ctx, out, chat.Event{Type: chat.EventError, Err: classify(ctx, err)})
				return
			}

			if len(resp.Choices) == 0 || resp.Choices[0].Delta.Content == "" {
				continue
			}

			delta := resp.Choices[0].Delta.Content
			text.WriteString(delta)
			if !chat.Emit(ctx, out, chat.Event{Type: chat.EventDelta, Text: delta}) {
				return
			}
		}
	}()

	return out
}

func (t *Transport) open(ctx context.Context, payload *chat.Payload) (*openai.ChatCompletionStream, error) {
	var stream *openai.ChatCompletionStream

	req := t.request(payload)
	slog.Debug("Opening completion stream",
		"request_id", payload.RequestID,
		"model", req.Model,
		"messages", len(req.Messages),
	)

	err := t.retry.Do(ctx, t.sleep, func(ctx context.Context) error {
		var err error
		stream, err = t.client.CreateChatCompletionStream(ctx, req)
		if err != nil {
			return classify(ctx, err)
		}

		return nil
	})

	return stream, err
}

func (t *Transport) request(payload *chat.Payload) openai.ChatCompletionRequest {
	messages := make([]openai.ChatCompletionMessage, 0, len(payload.History)+2)

	if payload.SystemPrompt != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: payload.SystemPrompt,
		})
	}

	messages = append(messages, pie.Map(payload.History, func(m chat.Message) openai.ChatCompletionMessage {
		return openai.ChatCompletionMessage{
			Role:    string(m.Role),
			Content: m.Content,
		}
	})...)

	messages = append(messages, userMessage(payload.Message))

	model := t.model
	if model == "" {
		model = payload.Model
	}

	return openai.ChatCompletionRequest{
		Model:    model,
		Messages: messages,
		Stream:   true,
		User:     payload.UserID,
	}
}

func userMessage(content chat.Content) openai.ChatCompletionMessage {
	if content.ImageURL == "" {
		return openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleUser,
			Content: content.Text,
		}
	}

	return openai.ChatCompletionMessage{
		Role: openai.ChatMessageRoleUser,
		MultiContent: []openai.ChatMessagePart{
			{
				Type: openai.ChatMessagePartTypeText,
				Text: content.Text,
			},
			{
				Type: openai.ChatMessagePartTypeImageURL,
				ImageURL: &openai.ChatMessageImageURL{
					URL:    content.ImageURL,
					Detail: openai.ImageURLDetailAuto,
				},
			},
		},
	}
}

// classify maps go-openai failures onto the chat error taxonomy.
func classify(ctx context.Context, err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode != 0 {
		return chat.StatusError(apiErr.HTTPStatusCode, []byte(apiErr.Message))
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode != 0 {
		return chat.StatusError(reqErr.HTTPStatusCode, reqErr.Body)
	}

	return chat.NetworkError(ctx, err)
}

func createClient(cfg config.OpenAI, timeout time.Duration) *openai.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.ResponseHeaderTimeout = timeout

	clientConfig := openai.DefaultConfig(cfg.Token)
	clientConfig.BaseURL = cfg.BaseURL
	clientConfig.HTTPClient = &http.Client{
		Transport: transport,
	}

	return openai.NewClientWithConfig(clientConfig)
}
