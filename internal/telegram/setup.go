// Package telegram creates the Telegram bot, registers handlers and wraps the
// Bot API calls the rest of the application needs.
package telegram

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/go-telegram/bot"

	"github.com/edgard/mnemobot/internal/bot/handlers"
)

// ErrNoToken is returned by NewTelegramBot for an empty token.
var ErrNoToken = errors.New("telegram token is empty")

// NewTelegramBot creates the bot client. Options carry the update middleware, the
// default message handler and the worker count.
func NewTelegramBot(token string, logger *slog.Logger, opts ...bot.Option) (*bot.Bot, error) {
	if token == "" {
		return nil, ErrNoToken
	}
	if logger == nil {
		logger = slog.Default()
	}

	b, err := bot.New(token, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}

	logger.With("component", "telegram").Info("Telegram client ready", "token", maskToken(token))
	return b, nil
}

// maskToken keeps the bot id part of a token for logs.
func maskToken(token string) string {
	if len(token) <= 8 {
		return "***"
	}
	return token[:8] + "***"
}

// chain wraps h so that mw[0] runs first.
func chain(h bot.HandlerFunc, mw []bot.Middleware) bot.HandlerFunc {
	for i := len(mw) - 1; i >= 0; i-- {
		h = mw[i](h)
	}
	return h
}

// Registrar is the part of *bot.Bot that registers handlers.
type Registrar interface {
	RegisterHandler(handlerType bot.HandlerType, pattern string, matchType bot.MatchType, f bot.HandlerFunc, m ...bot.Middleware) string
}

// RegisterHandlers registers the bot commands, each wrapped in its own middleware,
// in command order.
func RegisterHandlers(b Registrar, logger *slog.Logger, commands map[string]handlers.RegisteredHandler) error {
	if b == nil {
		return fmt.Errorf("bot instance cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	log := logger.With("component", "telegram")

	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)

	registered := 0
	for _, name := range names {
		cmd := commands[name]
		if cmd.Handler == nil {
			log.Warn("Command has no handler, skipping", "command", name)
			continue
		}
		b.RegisterHandler(cmd.HandlerType, cmd.Pattern, cmd.MatchType, chain(cmd.Handler, cmd.Middleware))
		registered++
	}

	log.Info("Registered commands", "commands", names, "count", registered)
	return nil
}
