package chat

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"
)

const DefaultWordDelay = 50 * time.Millisecond

// WordTransport fetches a complete reply and replays it word by word, for
// backends that answer with a single JSON payload instead of a live stream.
type WordTransport struct {
	poster    Poster
	retry     RetryPolicy
	wordDelay time.Duration
	sleep     Sleeper
}

func NewWordTransport(poster Poster, retry RetryPolicy, wordDelay time.Duration, sleep Sleeper) *WordTransport {
	if sleep == nil {
		sleep = SleepContext
	}

	return &WordTransport{
		poster:    poster,
		retry:     retry,
		wordDelay: wordDelay,
		sleep:     sleep,
	}
}

type chatReply struct {
	Response *string `json:"response"`
}

func (t *WordTransport) Stream(ctx context.Context, payload *Payload) <-chan Event {
	out := make(chan Event)

	go func() {
		defer close(out)

		reply, err := t.fetch(ctx, payload)
		if err != nil {
			Emit(ctx, out, Event{Type: EventError, Err: err})
			return
		}

		for i, word := range splitWords(reply) {
			if i > 0 && t.wordDelay > 0 {
				if err = t.sleep(ctx, t.wordDelay); err != nil {
					Emit(ctx, out, Event{Type: EventError, Err: WrapError(ErrCancelled, err)})
					return
				}
			}

			if !Emit(ctx, out, Event{Type: EventDelta, Text: word}) {
				return
			}
		}

		Emit(ctx, out, Event{Type: EventDone, Text: reply})
	}()

	return out
}

func (t *WordTransport) fetch(ctx context.Context, payload *Payload) (string, error) {
	var reply string

	err := t.retry.Do(ctx, t.sleep, func(ctx context.Context) error {
		resp, err := t.poster.PostChat(ctx, payload)
		if err != nil {
			return NetworkError(ctx, err)
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return NetworkError(ctx, err)
		}

		if resp.Status != http.StatusOK {
			return StatusError(resp.Status, body)
		}

		var decoded chatReply
		if err = json.Unmarshal(body, &decoded); err != nil {
			return WrapError(ErrProtocol, err)
		}
		if decoded.Response == nil {
			return NewError(ErrProtocol, "response field is missing")
		}

		reply = *decoded.Response
		return nil
	})

	return reply, err
}

// splitWords cuts text at spaces, keeping the separator on every chunk but
// the last so the chunks concatenate back to text. Newlines stay inside
// chunks, which keeps line-oriented markup intact.
func splitWords(text string) []string {
	if text == "" {
		return nil
	}

	words := strings.Split(text, " ")
	for i := 0; i < len(words)-1; i++ {
		words[i] += " "
	}

	return words
}

// Emit delivers ev unless ctx is done first and reports whether it was sent.
func Emit(ctx context.Context, out chan<- Event, ev Event) bool {
	select {
	case out <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}
