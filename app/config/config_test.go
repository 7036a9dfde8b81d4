package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_Defaults(t *testing.T) {
	cfg, err := Parse([]byte(`
proxy:
  base_url: http://localhost:8080
`))
	require.NoError(t, err)

	assert.Equal(t, ModeJSON, cfg.Proxy.Mode)
	assert.Equal(t, 60*time.Second, cfg.Proxy.Timeout)
	assert.Equal(t, 3, cfg.Retry.MaxAttempts)
	assert.Equal(t, 500*time.Millisecond, cfg.Retry.InitialBackoff)
	assert.Equal(t, 2.0, cfg.Retry.Multiplier)
	assert.Equal(t, 50*time.Millisecond, cfg.Stream.WordDelay)
	assert.Equal(t, "You are a helpful AI assistant.", cfg.Defaults.SystemPrompt)
	assert.Equal(t, "openai", cfg.Defaults.Provider)
	assert.Equal(t, "gpt-4", cfg.Defaults.Model)
	assert.Equal(t, 80, cfg.Image.JPEGQuality)
	assert.Equal(t, "127.0.0.1:7070", cfg.Server.Listen)
	assert.False(t, cfg.OpenAI.Enabled)
}

func TestParse_Overrides(t *testing.T) {
	cfg, err := Parse([]byte(`
identity:
  email: designer@example.com
proxy:
  base_url: https://proxy.example.com
  timeout: 10s
  mode: sse
retry:
  max_attempts: 5
  initial_backoff: 1s
stream:
  word_delay: 5ms
`))
	require.NoError(t, err)

	assert.Equal(t, "designer@example.com", cfg.Identity.Email)
	assert.Equal(t, ModeSSE, cfg.Proxy.Mode)
	assert.Equal(t, 10*time.Second, cfg.Proxy.Timeout)
	assert.Equal(t, 5, cfg.Retry.MaxAttempts)
	assert.Equal(t, time.Second, cfg.Retry.InitialBackoff)
	assert.Equal(t, 5*time.Millisecond, cfg.Stream.WordDelay)
}

func TestParse_Invalid(t *testing.T) {
	t.Run("missing proxy url", func(t *testing.T) {
		_, err := Parse([]byte(`identity: {email: a@b.c}`))
		assert.Error(t, err)
	})

	t.Run("unknown mode", func(t *testing.T) {
		_, err := Parse([]byte(`
proxy:
  base_url: http://localhost:8080
  mode: carrier-pigeon
`))
		assert.Error(t, err)
	})

	t.Run("openai mode needs credentials", func(t *testing.T) {
		_, err := Parse([]byte(`
proxy:
  base_url: http://localhost:8080
  mode: openai
`))
		assert.Error(t, err)
	})

	t.Run("broken yaml", func(t *testing.T) {
		_, err := Parse([]byte("proxy: ["))
		assert.Error(t, err)
	})
}

func TestParse_OpenAIMode(t *testing.T) {
	cfg, err := Parse([]byte(`
proxy:
  base_url: http://localhost:8080
  mode: openai
openai:
  base_url: https://openrouter.ai/api/v1
  token: sk-test
`))
	require.NoError(t, err)
	assert.True(t, cfg.OpenAI.Enabled)
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("proxy: {base_url: 'http://localhost:9000'}"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:9000", cfg.Proxy.BaseURL)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
