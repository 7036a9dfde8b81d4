package chat

import (
	"encoding/json"
	"image"
	"io"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one entry of the transcript. The text of an assistant turn only
// grows while its reply streams and is frozen afterwards.
type Turn struct {
	Position int    `json:"position"`
	Role     Role   `json:"role"`
	Text     string `json:"text"`
	Image    string `json:"image,omitempty"`
	Failed   bool   `json:"failed,omitempty"`
}

type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

type Settings struct {
	SystemPrompt string `json:"system_prompt"`
	Provider     string `json:"provider"`
	Model        string `json:"model"`
}

func DefaultSettings() Settings {
	return Settings{
		SystemPrompt: "You are a helpful AI assistant.",
		Provider:     "openai",
		Model:        "gpt-4",
	}
}

// merge fills empty fields of s from fallback.
func (s Settings) merge(fallback Settings) Settings {
	if s.SystemPrompt == "" {
		s.SystemPrompt = fallback.SystemPrompt
	}
	if s.Provider == "" {
		s.Provider = fallback.Provider
	}
	if s.Model == "" {
		s.Model = fallback.Model
	}

	return s
}

type ImageURL struct {
	URL string `json:"url"`
}

type ContentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *ImageURL `json:"image_url,omitempty"`
}

// Content is the user message of a request. It is sent as a plain string, or
// as text and image parts when an image is attached.
type Content struct {
	Text     string
	ImageURL string
}

func (c Content) Parts() []ContentPart {
	parts := []ContentPart{{Type: "text", Text: c.Text}}
	if c.ImageURL != "" {
		parts = append(parts, ContentPart{Type: "image_url", ImageURL: &ImageURL{URL: c.ImageURL}})
	}

	return parts
}

func (c Content) MarshalJSON() ([]byte, error) {
	if c.ImageURL == "" {
		return json.Marshal(c.Text)
	}

	return json.Marshal(c.Parts())
}

func (c *Content) UnmarshalJSON(data []byte) error {
	var text string
	if err := json.Unmarshal(data, &text); err == nil {
		*c = Content{Text: text}
		return nil
	}

	var parts []ContentPart
	if err := json.Unmarshal(data, &parts); err != nil {
		return err
	}

	*c = Content{}
	for _, part := range parts {
		switch part.Type {
		case "text":
			c.Text += part.Text
		case "image_url":
			if part.ImageURL != nil {
				c.ImageURL = part.ImageURL.URL
			}
		}
	}

	return nil
}

type Payload struct {
	RequestID      string    `json:"-"`
	UserID         string    `json:"user_id"`
	Provider       string    `json:"provider"`
	Model          string    `json:"model"`
	SystemPrompt   string    `json:"system_prompt"`
	Message        Content   `json:"message"`
	History        []Message `json:"history"`
	ConversationID *string   `json:"conversation_id"`
	Tags           []string  `json:"tags,omitempty"`
	Stream         bool      `json:"stream"`
}

// Response is a raw proxy reply. The caller owns Body.
type Response struct {
	Status int
	Body   io.ReadCloser
}

type EventType int

const (
	EventDelta EventType = iota
	EventDone
	EventError
)

func (t EventType) String() string {
	switch t {
	case EventDelta:
		return "delta"
	case EventDone:
		return "done"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

type Event struct {
	Type EventType
	Text string
	Err  error
}

type State int

const (
	StateIdle State = iota
	StateSending
	StateStreaming
	StateCompleted
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSending:
		return "sending"
	case StateStreaming:
		return "streaming"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

type SendRequest struct {
	Text string
	// Image is encoded into a JPEG data URL before dispatch
	Image image.Image
	Tags  []string
}
