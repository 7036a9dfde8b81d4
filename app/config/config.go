package config

import (
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/samber/oops"
	"gopkg.in/yaml.v3"
)

const DefaultPath = "config.yaml"

const (
	ModeJSON   = "json"
	ModeSSE    = "sse"
	ModeOpenAI = "openai"
)

type Config struct {
	Log      Log      `yaml:"log"`
	Identity Identity `yaml:"identity"`
	Proxy    Proxy    `yaml:"proxy"`
	OpenAI   OpenAI   `yaml:"openai"`
	Retry    Retry    `yaml:"retry"`
	Stream   Stream   `yaml:"stream"`
	Defaults Defaults `yaml:"defaults"`
	Image    Image    `yaml:"image"`
	Server   Server   `yaml:"server"`
}

type Identity struct {
	// Email used as an opaque user identifier, empty means signed out
	Email string `yaml:"email" example:"designer@example.com"`
}

type Proxy struct {
	// LLM proxy base url
	BaseURL string `yaml:"base_url" example:"https://critique.example.com" validate:"required,url"`
	// HTTP timeout of a single request
	Timeout time.Duration `yaml:"timeout" example:"60s" validate:"gt=0"`
	// Transport mode: json (word-chunked), sse (incremental) or openai (direct)
	Mode string `yaml:"mode" example:"json" validate:"oneof=json sse openai"`
}

type OpenAI struct {
	// OpenAI compatible base url, only used in openai mode
	BaseURL string `yaml:"base_url" example:"https://openrouter.ai/api/v1" validate:"required_if=Enabled true"`
	// OpenAI token
	Token string `yaml:"token" example:"sk-proj-abc123456789DEF789ghi012JKL345mno678PQR901stu234VWX" validate:"required_if=Enabled true"`
	// Model override, settings model is used when empty
	Model string `yaml:"model" example:"gpt-4o"`

	Enabled bool `yaml:"-"`
}

type Retry struct {
	// Total attempts, including the first one
	MaxAttempts int `yaml:"max_attempts" example:"3" validate:"gte=1"`
	// Backoff before the first retry
	InitialBackoff time.Duration `yaml:"initial_backoff" example:"500ms" validate:"gt=0"`
	// Backoff growth factor
	Multiplier float64 `yaml:"multiplier" example:"2" validate:"gte=1"`
}

type Stream struct {
	// Delay between synthetic word deltas
	WordDelay time.Duration `yaml:"word_delay" example:"50ms" validate:"gte=0"`
}

type Defaults struct {
	SystemPrompt string `yaml:"system_prompt" example:"You are a helpful AI assistant." validate:"required"`
	Provider     string `yaml:"provider" example:"openai" validate:"required"`
	Model        string `yaml:"model" example:"gpt-4" validate:"required"`
}

type Image struct {
	// JPEG quality used for attachments
	JPEGQuality int `yaml:"jpeg_quality" example:"80" validate:"gte=1,lte=100"`
}

type Server struct {
	// Listen address of the HTTP binding
	Listen string `yaml:"listen" example:"127.0.0.1:7070" validate:"required,hostname_port"`
}

type Log struct {
	// Telegram logging config
	Telegram TelegramLog `yaml:"telegram"`
}

type TelegramLog struct {
	// Chat bot token, obtain it via BotFather
	Token string `yaml:"token" example:"1234567890:ABCdefGHIjklMNopQRstUVwxyZ-123456789"`
	// Chat ID to send messages to
	ChatID string `yaml:"chat_id" example:"1001234567890"`
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, oops.Errorf("failed to read config file: %w", err)
	}

	return Parse(data)
}

func Parse(data []byte) (*Config, error) {
	var result Config

	if err := yaml.Unmarshal(data, &result); err != nil {
		return nil, oops.Errorf("failed to parse YAML config: %w", err)
	}

	result.applyDefaults()

	validate := validator.New(validator.WithRequiredStructEnabled())
	if err := validate.Struct(result); err != nil {
		return nil, oops.Errorf("failed to validate config: %w", err)
	}

	return &result, nil
}

func (c *Config) applyDefaults() {
	if c.Proxy.Timeout == 0 {
		c.Proxy.Timeout = 60 * time.Second
	}
	if c.Proxy.Mode == "" {
		c.Proxy.Mode = ModeJSON
	}
	c.OpenAI.Enabled = c.Proxy.Mode == ModeOpenAI

	if c.Retry.MaxAttempts == 0 {
		c.Retry.MaxAttempts = 3
	}
	if c.Retry.InitialBackoff == 0 {
		c.Retry.InitialBackoff = 500 * time.Millisecond
	}
	if c.Retry.Multiplier == 0 {
		c.Retry.Multiplier = 2
	}

	if c.Stream.WordDelay == 0 {
		c.Stream.WordDelay = 50 * time.Millisecond
	}

	if c.Defaults.SystemPrompt == "" {
		c.Defaults.SystemPrompt = "You are a helpful AI assistant."
	}
	if c.Defaults.Provider == "" {
		c.Defaults.Provider = "openai"
	}
	if c.Defaults.Model == "" {
		c.Defaults.Model = "gpt-4"
	}

	if c.Image.JPEGQuality == 0 {
		c.Image.JPEGQuality = 80
	}

	if c.Server.Listen == "" {
		c.Server.Listen = "127.0.0.1:7070"
	}
}
