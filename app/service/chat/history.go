package chat

import (
	"github.com/elliotchance/pie/v2"
)

const messageHistorySize = 20

// historyWindow maps the most recent size turns, oldest first, into request
// history. It is recomputed for every send and never stored.
func historyWindow(turns []Turn, size int) []Message {
	if size <= 0 {
		return []Message{}
	}

	if len(turns) > size {
		turns = turns[len(turns)-size:]
	}

	return pie.Map(turns, func(t Turn) Message {
		return Message{
			Role:    t.Role,
			Content: t.Text,
		}
	})
}
