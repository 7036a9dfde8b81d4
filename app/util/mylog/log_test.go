package mylog

import (
	"bytes"
	"context"
	"critiquebar/app/config"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTelegramFilter(t *testing.T) {
	info := slog.NewRecord(time.Now(), slog.LevelInfo, "plain", 0)
	assert.False(t, telegramFilter(context.Background(), info))

	tagged := slog.NewRecord(time.Now(), slog.LevelInfo, "tagged", 0)
	tagged.AddAttrs(slog.Bool("telegram", true))
	assert.True(t, telegramFilter(context.Background(), tagged))

	failure := slog.NewRecord(time.Now(), slog.LevelError, "failure", 0)
	assert.True(t, telegramFilter(context.Background(), failure))
}

func TestNewHandler_WritesToConsole(t *testing.T) {
	var buf bytes.Buffer

	logger := slog.New(NewHandler(&config.Config{}, &buf))
	logger.Info("Turn completed", "position", 3)

	assert.Contains(t, buf.String(), "Turn completed")
	assert.Contains(t, buf.String(), "position")
}
