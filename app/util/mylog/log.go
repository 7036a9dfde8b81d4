package mylog

import (
	"context"
	"critiquebar/app/config"
	"io"
	"log/slog"
	"os"

	"github.com/phsym/console-slog"
	slogmulti "github.com/samber/slog-multi"
	slogtelegram "github.com/samber/slog-telegram/v2"
)

func Preinit() {
	slog.SetDefault(slog.New(newConsoleHandler(os.Stderr)))
}

func Init(cfg *config.Config) error {
	slog.SetDefault(slog.New(NewHandler(cfg, os.Stderr)))

	return nil
}

// NewHandler routes every record to the console and, when a bot token is set,
// errors and records tagged with telegram=true to Telegram.
func NewHandler(cfg *config.Config, w io.Writer) slog.Handler {
	router := slogmulti.Router()

	router = router.Add(newConsoleHandler(w))

	if cfg.Log.Telegram.Token != "" {
		router = router.Add(
			slogtelegram.Option{
				Level:     slog.LevelDebug,
				Token:     cfg.Log.Telegram.Token,
				Username:  cfg.Log.Telegram.ChatID,
				AddSource: true,
			}.NewTelegramHandler(),
			telegramFilter,
		)
	}

	return router.Handler()
}

func telegramFilter(_ context.Context, r slog.Record) bool {
	hasTelegram := false

	r.Attrs(func(attr slog.Attr) bool {
		if attr.Key == "telegram" {
			hasTelegram = true
			return false
		}

		return true
	})

	return r.Level == slog.LevelError || hasTelegram
}

func newConsoleHandler(w io.Writer) slog.Handler {
	return console.NewHandler(w, &console.HandlerOptions{
		AddSource: true,
		Level:     slog.LevelDebug,
	})
}
