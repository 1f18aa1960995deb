package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/joho/godotenv"

	"github.com/digitaldavinci/cbo-bro/internal/config"
	"github.com/digitaldavinci/cbo-bro/internal/handler"
	adminHandler "github.com/digitaldavinci/cbo-bro/internal/handler/admin"
	chatHandler "github.com/digitaldavinci/cbo-bro/internal/handler/chat"
	"github.com/digitaldavinci/cbo-bro/internal/handler/ws"
	"github.com/digitaldavinci/cbo-bro/internal/service/ai"
	"github.com/digitaldavinci/cbo-bro/internal/service/configstore"
	"github.com/digitaldavinci/cbo-bro/internal/service/session"
	"github.com/digitaldavinci/cbo-bro/internal/service/tools"
	"github.com/digitaldavinci/cbo-bro/internal/service/whitelist"
	"github.com/digitaldavinci/cbo-bro/internal/telegram"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := godotenv.Load(); err != nil {
		log.Printf("warning: failed to load .env file: %v", err)
		log.Println("continuing with system environment variables only")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	sessionStore := session.NewStore(session.Options{
		Timeout:       cfg.Session.Timeout,
		SweepInterval: cfg.Session.SweepInterval,
		MessageCap:    cfg.Session.MessageCap,
	})
	go sessionStore.Run(ctx)

	whitelistSvc := whitelist.NewService(cfg.Files.WhitelistPath)
	configSvc, err := configstore.NewService(cfg.Files.ConfigDir)
	if err != nil {
		log.Fatalf("failed to initialize config store: %v", err)
	}
	toolRegistry := tools.NewRegistry()

	var aiClient *ai.Client
	if cfg.AI.Enabled() {
		aiClient, err = ai.NewClient(ctx, cfg.AI, configSvc.Active().SystemPrompt)
		if err != nil {
			log.Printf("warning: failed to initialize AI client: %v", err)
			log.Println("continuing without AI functionality")
		} else {
			log.Println("AI client initialized successfully")
		}
	} else {
		log.Println("model credentials not configured, skipping AI initialization")
	}

	deps := handler.Deps{
		Sessions:  sessionStore,
		Admin:     adminHandler.NewHandler(cfg.Admin.Token, configSvc, whitelistSvc, sessionStore, promptApplier(aiClient)),
		AIEnabled: aiClient != nil,
	}
	if aiClient != nil {
		deps.WS = ws.NewHandler(sessionStore, aiClient, toolRegistry)
		deps.Chat = chatHandler.NewHandler(sessionStore, aiClient, whitelistSvc)
	} else {
		deps.WS = ws.NewHandler(sessionStore, nil, toolRegistry)
		deps.Chat = chatHandler.NewHandler(sessionStore, nil, whitelistSvc)
	}

	if cfg.Telegram.Enabled() {
		bot, err := tgbotapi.NewBotAPI(cfg.Telegram.Token)
		if err != nil {
			log.Printf("warning: failed to initialize Telegram bot: %v", err)
		} else {
			log.Printf("Telegram bot authorized as @%s", bot.Self.UserName)
			var completer telegram.Completer
			if aiClient != nil {
				completer = aiClient
			}
			deps.Telegram = telegram.NewAdapter(bot, sessionStore, completer, whitelistSvc,
				cfg.Telegram.AppURL, cfg.Telegram.ProcessTimeout)
			if cfg.Telegram.WebhookURL != "" {
				if err := telegram.SetupWebhook(bot, cfg.Telegram.WebhookURL, cfg.Telegram.AppURL); err != nil {
					log.Printf("warning: webhook setup failed: %v", err)
				}
			}
		}
	} else {
		log.Println("Telegram token not configured, skipping bot initialization")
	}

	router := handler.NewRouter(deps)

	startServer(ctx, cfg.Server, router)
}

// promptApplier keeps a typed nil out of the PromptApplier interface.
func promptApplier(client *ai.Client) adminHandler.PromptApplier {
	if client == nil {
		return nil
	}
	return client
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler) {
	srv := &http.Server{
		Addr:              serverCfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	log.Printf("CBO-Bro backend listening on %s", serverCfg.Addr)
	if err := runServer(ctx, srv); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
