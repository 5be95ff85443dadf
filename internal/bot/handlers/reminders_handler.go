package handlers

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/edgard/mnemobot/internal/database"
)

// NewRemindersHandler returns a handler for the /reminders command, which lists pending reminders.
func NewRemindersHandler(deps HandlerDeps) bot.HandlerFunc {
	return remindersHandler{deps}.Handle
}

type remindersHandler struct {
	deps HandlerDeps
}

func (h remindersHandler) Handle(ctx context.Context, _ *bot.Bot, update *models.Update) {
	log := h.deps.Logger.With("handler", "reminders")

	if update.Message == nil || update.Message.From == nil {
		log.WarnContext(ctx, "Reminders handler received update with nil message or sender", "update_id", update.ID)
		return
	}
	chatID, userID := update.Message.Chat.ID, update.Message.From.ID

	reminders, err := h.deps.Store.GetPendingReminders(ctx, userID)
	if err != nil {
		log.ErrorContext(ctx, "Failed to load pending reminders", "error", err, "user_id", userID)
		h.reply(ctx, chatID, fmt.Sprintf(h.deps.Config.Messages.Failure, "could not load reminders"))
		return
	}
	if len(reminders) == 0 {
		h.reply(ctx, chatID, h.deps.Config.Messages.NoReminders)
		return
	}

	loc := h.deps.Config.Location()
	var sb strings.Builder
	sb.WriteString(h.deps.Config.Messages.RemindersHead)
	for _, r := range reminders {
		fmt.Fprintf(&sb, "\n#%d · %s · %s", r.ID, r.RemindAt.In(loc).Format("2006-01-02 15:04"), r.ReminderText)
	}
	h.reply(ctx, chatID, sb.String())
	log.DebugContext(ctx, "Listed pending reminders", "user_id", userID, "count", len(reminders))
}

func (h remindersHandler) reply(ctx context.Context, chatID int64, text string) {
	if err := h.deps.Messenger.SendText(ctx, chatID, 0, text); err != nil {
		h.deps.Logger.ErrorContext(ctx, "Failed to send reminders reply", "error", err, "chat_id", chatID)
	}
}

// NewDismissHandler returns a handler for /dismiss <id>, which moves a pending reminder to dismissed.
func NewDismissHandler(deps HandlerDeps) bot.HandlerFunc {
	return dismissHandler{deps}.Handle
}

type dismissHandler struct {
	deps HandlerDeps
}

func (h dismissHandler) Handle(ctx context.Context, _ *bot.Bot, update *models.Update) {
	log := h.deps.Logger.With("handler", "dismiss")

	if update.Message == nil || update.Message.From == nil {
		log.WarnContext(ctx, "Dismiss handler received update with nil message or sender", "update_id", update.ID)
		return
	}
	chatID, userID := update.Message.Chat.ID, update.Message.From.ID
	msgs := h.deps.Config.Messages

	fields := strings.Fields(update.Message.Text)
	if len(fields) != 2 {
		h.reply(ctx, chatID, msgs.DismissUsage)
		return
	}
	id, err := strconv.ParseInt(strings.TrimPrefix(fields[1], "#"), 10, 64)
	if err != nil || id <= 0 {
		h.reply(ctx, chatID, msgs.DismissUsage)
		return
	}

	r, err := h.deps.Store.GetReminder(ctx, id)
	if errors.Is(err, database.ErrNotFound) || (err == nil && r.UserID != userID) {
		h.reply(ctx, chatID, fmt.Sprintf(msgs.DismissFailed, id))
		return
	}
	if err != nil {
		log.ErrorContext(ctx, "Failed to load reminder", "error", err, "reminder_id", id)
		h.reply(ctx, chatID, fmt.Sprintf(msgs.Failure, "could not load the reminder"))
		return
	}

	ok, err := h.deps.Store.UpdateReminderStatus(ctx, id, database.ReminderDismissed)
	if err != nil {
		log.ErrorContext(ctx, "Failed to dismiss reminder", "error", err, "reminder_id", id)
		h.reply(ctx, chatID, fmt.Sprintf(msgs.Failure, "could not dismiss the reminder"))
		return
	}
	if !ok {
		h.reply(ctx, chatID, fmt.Sprintf(msgs.DismissFailed, id))
		return
	}
	log.InfoContext(ctx, "Reminder dismissed", "reminder_id", id, "user_id", userID)
	h.reply(ctx, chatID, fmt.Sprintf(msgs.Dismissed, id))
}

func (h dismissHandler) reply(ctx context.Context, chatID int64, text string) {
	if err := h.deps.Messenger.SendText(ctx, chatID, 0, text); err != nil {
		h.deps.Logger.ErrorContext(ctx, "Failed to send dismiss reply", "error", err, "chat_id", chatID)
	}
}
