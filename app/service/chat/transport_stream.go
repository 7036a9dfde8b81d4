package chat

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"
)

const maxEventSize = 1024 * 1024

// StreamTransport consumes a server-sent event stream whose data lines carry
// {"type": "content"|"done"|"error", ...} objects.
type StreamTransport struct {
	poster StreamPoster
	retry  RetryPolicy
	sleep  Sleeper
}

func NewStreamTransport(poster StreamPoster, retry RetryPolicy, sleep Sleeper) *StreamTransport {
	if sleep == nil {
		sleep = SleepContext
	}

	return &StreamTransport{
		poster: poster,
		retry:  retry,
		sleep:  sleep,
	}
}

type streamEvent struct {
	Type    string `json:"type"`
	Delta   string `json:"delta"`
	Content string `json:"content"`
	Error   string `json:"error"`
}

func (t *StreamTransport) Stream(ctx context.Context, payload *Payload) <-chan Event {
	out := make(chan Event)

	go func() {
		defer close(out)

		body, err := t.open(ctx, payload)
		if err != nil {
			Emit(ctx, out, Event{Type: EventError, Err: err})
			return
		}
		defer body.Close()

		if ev, ok := t.pump(ctx, body, out); ok {
			Emit(ctx, out, ev)
		}
	}()

	return out
}

// open retries only until the stream is established; nothing is retried once
// a delta may have been delivered.
func (t *StreamTransport) open(ctx context.Context, payload *Payload) (io.ReadCloser, error) {
	var body io.ReadCloser

	err := t.retry.Do(ctx, t.sleep, func(ctx context.Context) error {
		resp, err := t.poster.PostChatStream(ctx, payload)
		if err != nil {
			return NetworkError(ctx, err)
		}

		if resp.Status != http.StatusOK {
			defer resp.Body.Close()

			data, err := io.ReadAll(resp.Body)
			if err != nil {
				return NetworkError(ctx, err)
			}

			return StatusError(resp.Status, data)
		}

		body = resp.Body
		return nil
	})

	return body, err
}

// pump forwards content events and returns the terminal event to emit.
func (t *StreamTransport) pump(ctx context.Context, body io.Reader, out chan<- Event) (Event, bool) {
	var text strings.Builder

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), maxEventSize)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, ":") {
			continue
		}

		data, ok := strings.CutPrefix(line, "data:")
		if !ok {
			continue
		}

		data = strings.TrimSpace(data)
		if data == "[DONE]" {
			return Event{Type: EventDone, Text: text.String()}, true
		}

		var ev streamEvent
		if err := json.Unmarshal([]byte(data), &ev); err != nil {
			return Event{Type: EventError, Err: WrapError(ErrProtocol, err)}, true
		}

		switch ev.Type {
		case "content":
			delta := ev.Delta
			if delta == "" {
				delta = ev.Content
			}
			if delta == "" {
				continue
			}

			text.WriteString(delta)
			if !Emit(ctx, out, Event{Type: EventDelta, Text: delta}) {
				return Event{}, false
			}
		case "done":
			final := text.String()
			if final == "" {
				final = ev.Content
			}
			return Event{Type: EventDone, Text: final}, true
		case "error":
			message := ev.Error
			if message == "" {
				message = ev.Content
			}
			if message == "" {
				message = "The server reported an error."
			}
			return Event{Type: EventError, Err: NewRemoteError(http.StatusOK, []byte(message))}, true
		default:
			slog.Debug("Skipping stream event", "type", ev.Type)
		}
	}

	if err := scanner.Err(); err != nil {
		return Event{Type: EventError, Err: NetworkError(ctx, err)}, true
	}

	if ctx.Err() != nil {
		return Event{Type: EventError, Err: WrapError(ErrCancelled, ctx.Err())}, true
	}

	// The proxy may close the stream without a done event.
	return Event{Type: EventDone, Text: text.String()}, true
}
