package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	tgbot "github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/edgard/mnemobot/internal/bot"
	"github.com/edgard/mnemobot/internal/bot/handlers"
	"github.com/edgard/mnemobot/internal/bot/tasks"
	"github.com/edgard/mnemobot/internal/config"
	"github.com/edgard/mnemobot/internal/database"
	"github.com/edgard/mnemobot/internal/document"
	"github.com/edgard/mnemobot/internal/gemini"
	"github.com/edgard/mnemobot/internal/logger"
	"github.com/edgard/mnemobot/internal/mediagroup"
	"github.com/edgard/mnemobot/internal/reminder"
	"github.com/edgard/mnemobot/internal/router"
	"github.com/edgard/mnemobot/internal/status"
	"github.com/edgard/mnemobot/internal/telegram"
	"github.com/edgard/mnemobot/internal/vectorstore"
)

// run wires every component and blocks until ctx is cancelled or a component fails.
func run(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		slog.Error("Failed to load configuration", "path", configPath, "error", err)
		return err
	}

	log := logger.NewLogger(cfg.Log.Level, cfg.Log.JSON)
	log.Info("Logger initialized", "level", cfg.Log.Level, "json", cfg.Log.JSON, "timezone", cfg.Timezone)

	db, err := database.NewDB(cfg.Database.Path)
	if err != nil {
		log.Error("Failed to connect to database", "path", cfg.Database.Path, "error", err)
		return err
	}
	defer database.CloseDB(db)
	store := database.NewStore(db, log)

	client, err := gemini.NewClient(ctx, cfg.Gemini, cfg.Location(), log)
	if err != nil {
		log.Error("Failed to initialize Gemini client", "error", err)
		return err
	}
	index := vectorstore.New(store, client, log)
	agents := gemini.NewAgents(client, store, index)

	renderer, err := document.NewRenderer(cfg.Documents.OutputDir)
	if err != nil {
		log.Error("Failed to prepare document output directory", "dir", cfg.Documents.OutputDir, "error", err)
		return err
	}

	rt, err := router.New(router.Config{
		Capabilities: router.Capabilities{
			Classifier: client,
			Analyzer:   client,
			Info:       agents,
			Schedule:   agents,
			Polisher:   client,
			Generator:  client,
		},
		Records:  store,
		Index:    index,
		Renderer: renderer,
		History:  router.NewHistory(cfg.Router.HistoryLimit),
		Messages: routerMessages(cfg.Messages),
		Logger:   log,
	})
	if err != nil {
		log.Error("Failed to create router", "error", err)
		return err
	}

	// The default handler needs the messenger, which needs the bot. Updates only
	// arrive after Start, by which time it is set.
	var defaultHandler tgbot.HandlerFunc
	tg, err := telegram.NewTelegramBot(cfg.Telegram.Token, log,
		tgbot.WithMiddlewares(logger.Middleware(log)),
		tgbot.WithWorkers(cfg.Telegram.Workers),
		tgbot.WithDefaultHandler(func(ctx context.Context, b *tgbot.Bot, update *models.Update) {
			defaultHandler(ctx, b, update)
		}),
	)
	if err != nil {
		log.Error("Failed to create Telegram bot", "error", err)
		return err
	}

	messenger := telegram.NewMessenger(tg, cfg.Telegram.Token, cfg.Telegram.DownloadTimeout, log)
	statuses := status.NewRegistry(messenger, log)
	coordinator := mediagroup.NewCoordinator(log)

	hDeps := handlers.HandlerDeps{
		Logger:      log,
		Config:      cfg,
		Store:       store,
		Messenger:   messenger,
		Router:      rt,
		Transcriber: client,
		Coordinator: coordinator,
		Statuses:    statuses,
	}
	defaultHandler = handlers.NewDefaultHandler(hDeps)
	if err := telegram.RegisterHandlers(tg, log, handlers.RegisterAllCommands(hDeps)); err != nil {
		log.Error("Failed to register Telegram handlers", "error", err)
		return err
	}

	taskMap := tasks.RegisterAllTasks(tasks.TaskDeps{
		Logger:      log,
		Config:      cfg,
		Store:       store,
		Deliverer:   reminder.NewDeliverer(store, messenger, log, reminder.WithFormat(cfg.Messages.Reminder)),
		Coordinator: coordinator,
		Statuses:    statuses,
	})
	sched, err := bot.NewScheduler(log, &cfg.Scheduler, cfg.Location(), taskMap)
	if err != nil {
		log.Error("Failed to create scheduler", "error", err)
		return err
	}

	if err := bot.NewBot(log, tg, sched).Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("bot stopped: %w", err)
	}
	return nil
}

func routerMessages(m config.MessagesConfig) router.Messages {
	return router.Messages{
		Fallback:      m.Fallback,
		Retrieving:    m.Retrieving,
		Retrieved:     m.Retrieved,
		Storing:       m.Storing,
		Stored:        m.Stored,
		SourcedFrom:   m.SourcedFrom,
		DocumentFound: m.DocumentFound,
		Generating:    m.Generating,
		DocumentReady: m.DocumentReady,
	}
}
