// Package bot runs the Telegram listener and the task scheduler side by side
// and stops both on shutdown.
package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"
)

// Listener receives Telegram updates until ctx is cancelled.
type Listener interface {
	Start(ctx context.Context)
}

// Bot manages the lifecycle of the listener and the scheduler.
type Bot struct {
	logger    *slog.Logger
	listener  Listener
	scheduler *Scheduler
}

// NewBot creates a Bot.
func NewBot(logger *slog.Logger, listener Listener, scheduler *Scheduler) *Bot {
	return &Bot{
		logger:    logger.With("component", "bot_orchestrator"),
		listener:  listener,
		scheduler: scheduler,
	}
}

// Run starts the listener and the scheduler and blocks until ctx is cancelled
// or one of them fails.
func (b *Bot) Run(ctx context.Context) error {
	b.logger.Info("Starting bot")

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		b.listener.Start(gCtx)
		if gCtx.Err() == nil {
			b.logger.Warn("Telegram listener stopped without cancellation")
			return fmt.Errorf("telegram listener stopped unexpectedly")
		}
		b.logger.Info("Telegram listener stopped")
		return nil
	})

	g.Go(func() error {
		if err := b.scheduler.Start(gCtx); err != nil {
			return fmt.Errorf("failed to start scheduler: %w", err)
		}
		<-gCtx.Done()
		if err := b.scheduler.Stop(); err != nil {
			b.logger.Error("Error stopping scheduler", "error", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		b.logger.Error("Bot stopped due to error", "error", err)
		return err
	}

	b.logger.Info("Bot stopped gracefully")
	return nil
}
