// Package handlers contains Telegram bot command and message handlers,
// along with their registration logic and middleware.
package handlers

import (
	"context"
	"strconv"
	"strings"

	tgbot "github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
)

// AllowList creates a middleware that only lets configured users through.
// Entries are usernames (with or without @) or numeric user ids; an empty list allows everyone.
func AllowList(deps HandlerDeps) tgbot.Middleware {
	allowed := make(map[string]struct{}, len(deps.Config.Telegram.AllowedUsers))
	for _, u := range deps.Config.Telegram.AllowedUsers {
		u = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(u), "@"))
		if u != "" {
			allowed[u] = struct{}{}
		}
	}

	return func(next tgbot.HandlerFunc) tgbot.HandlerFunc {
		return func(ctx context.Context, bot *tgbot.Bot, update *models.Update) {
			if len(allowed) == 0 || update.Message == nil || update.Message.From == nil {
				next(ctx, bot, update)
				return
			}

			from := update.Message.From
			_, byID := allowed[strconv.FormatInt(from.ID, 10)]
			_, byName := allowed[strings.ToLower(from.Username)]
			if byID || (from.Username != "" && byName) {
				next(ctx, bot, update)
				return
			}

			chatID := update.Message.Chat.ID
			log := deps.Logger.With("middleware", "AllowList")
			log.WarnContext(ctx, "Unauthorized access attempt", "user_id", from.ID, "username", from.Username, "chat_id", chatID)

			if err := deps.Messenger.SendText(ctx, chatID, 0, deps.Config.Messages.NotAuthorized); err != nil {
				log.ErrorContext(ctx, "Failed to send unauthorized message", "error", err, "chat_id", chatID)
			}
		}
	}
}
