package main

import (
	"context"
	"critiquebar/app/client/llm"
	"critiquebar/app/client/proxy"
	"critiquebar/app/config"
	"critiquebar/app/server"
	"critiquebar/app/service/chat"
	"critiquebar/app/service/engine"
	"critiquebar/app/service/identity"
	"critiquebar/app/service/queue"
	"critiquebar/app/util/mylog"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2/log"
	"github.com/samber/do"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:           "critiquebar",
		Short:         "Chat with an LLM proxy and read replies as structured design critiques",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", config.DefaultPath, "path to config file")

	rootCmd.AddCommand(
		&cobra.Command{
			Use:   "chat",
			Short: "Interactive console chat",
			RunE: func(cmd *cobra.Command, _ []string) error {
				return runChat(configPath)
			},
		},
		&cobra.Command{
			Use:   "serve",
			Short: "Serve the chat session over HTTP",
			RunE: func(cmd *cobra.Command, _ []string) error {
				return runServe(configPath)
			},
		},
	)

	if err := rootCmd.Execute(); err != nil {
		log.Fatalf("%v", err)
	}
}

func runChat(configPath string) error {
	di, appCtx, cancel, err := bootstrap(configPath)
	if err != nil {
		return err
	}
	defer di.Shutdown()
	defer cancel()
	defer log.Info("Waiting for services to finish...")

	go watchIdentity(appCtx, di)

	engineSvc := do.MustInvoke[*engine.Service](di)
	queueSvc := do.MustInvoke[*queue.Service](di)

	// stdin cannot be interrupted, so the reader is not waited for
	go func() {
		if err := engineSvc.ReadInput(appCtx); err != nil {
			slog.Error("Input reader failed", "error", err)
		}
		_ = queueSvc.Shutdown()
	}()

	slog.Info("Chat started, /reset clears the conversation, /image <path> <text> attaches a picture")

	engineSvc.Run(appCtx)

	return nil
}

func runServe(configPath string) error {
	di, appCtx, cancel, err := bootstrap(configPath)
	if err != nil {
		return err
	}
	defer di.Shutdown()
	defer cancel()
	defer log.Info("Waiting for services to finish...")

	go watchIdentity(appCtx, di)

	srv := do.MustInvoke[*server.Server](di)

	g, gctx := errgroup.WithContext(appCtx)
	g.Go(srv.Run)
	g.Go(func() error {
		<-gctx.Done()
		return srv.Shutdown()
	})

	return g.Wait()
}

func bootstrap(configPath string) (*do.Injector, context.Context, context.CancelFunc, error) {
	mylog.Preinit()

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("config load failed: %w", err)
	}

	if err = mylog.Init(cfg); err != nil {
		return nil, nil, nil, fmt.Errorf("logging init failed: %w", err)
	}

	di := do.New()

	appCtx, cancel := context.WithCancel(context.Background())
	do.ProvideValue(di, appCtx)
	do.ProvideValue(di, cfg)

	do.Provide(di, identity.New)
	do.Provide(di, proxy.NewClient)
	do.Provide(di, provideTransport)
	do.Provide(di, func(di *do.Injector) (chat.SettingsProvider, error) {
		return do.MustInvoke[*proxy.Client](di), nil
	})
	do.Provide(di, func(di *do.Injector) (chat.ConversationRegistry, error) {
		return do.MustInvoke[*proxy.Client](di), nil
	})
	do.Provide(di, func(di *do.Injector) (chat.IdentityProvider, error) {
		return do.MustInvoke[*identity.Service](di), nil
	})
	do.Provide(di, chat.New)
	do.Provide(di, queue.New)
	do.Provide(di, engine.New)
	do.Provide(di, server.New)

	slog.Info("Service started", "mode", cfg.Proxy.Mode)

	go func() {
		sigint := make(chan os.Signal, 1)
		signal.Notify(sigint, os.Interrupt, syscall.SIGTERM)

		select {
		case <-sigint:
			log.Info("Shutting down...")
			cancel()
		case <-appCtx.Done():
		}
	}()

	return di, appCtx, cancel, nil
}

func provideTransport(di *do.Injector) (chat.Transport, error) {
	cfg := do.MustInvoke[*config.Config](di)
	retry := chat.NewRetryPolicy(cfg.Retry)

	switch cfg.Proxy.Mode {
	case config.ModeSSE:
		return chat.NewStreamTransport(do.MustInvoke[*proxy.Client](di), retry, nil), nil
	case config.ModeOpenAI:
		transport, err := llm.NewTransport(di)
		if err != nil {
			return nil, err
		}
		return transport, nil
	default:
		return chat.NewWordTransport(do.MustInvoke[*proxy.Client](di), retry, cfg.Stream.WordDelay, nil), nil
	}
}

func watchIdentity(ctx context.Context, di *do.Injector) {
	changes := do.MustInvoke[*identity.Service](di).Subscribe()
	do.MustInvoke[*chat.Session](di).WatchIdentity(ctx, changes)
}
