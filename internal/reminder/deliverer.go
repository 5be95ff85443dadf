// Package reminder delivers due reminders to their chats.
package reminder

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/edgard/mnemobot/internal/database"
)

// DefaultFormat renders the reminder text sent to the chat.
const DefaultFormat = "⏰ Reminder: %s"

// Store reads due reminders and advances their status.
type Store interface {
	GetDueReminders(ctx context.Context, now time.Time) ([]database.Reminder, error)
	UpdateReminderStatus(ctx context.Context, id int64, status database.ReminderStatus) (bool, error)
}

// Notifier pushes a reminder to a chat.
type Notifier interface {
	NotifyReminder(ctx context.Context, chatID int64, text string) error
}

// Deliverer runs one delivery pass per Tick.
type Deliverer struct {
	store    Store
	notifier Notifier
	format   string
	now      func() time.Time
	logger   *slog.Logger
}

// Option configures a Deliverer.
type Option func(*Deliverer)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(d *Deliverer) { d.now = now }
}

// WithFormat overrides the message format. It receives the reminder text.
func WithFormat(format string) Option {
	return func(d *Deliverer) {
		if format != "" {
			d.format = format
		}
	}
}

// NewDeliverer creates a Deliverer.
func NewDeliverer(store Store, notifier Notifier, logger *slog.Logger, opts ...Option) *Deliverer {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	d := &Deliverer{
		store:    store,
		notifier: notifier,
		format:   DefaultFormat,
		now:      time.Now,
		logger:   logger.With("component", "reminder_deliverer"),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Tick delivers pending reminders due in the current minute, one at a time in store order.
// Reminders due in an earlier minute stay pending. The status flips to sent before the
// notification goes out, so a reminder is delivered at most once. Failures are isolated
// per reminder; only a failed store query aborts the tick.
func (d *Deliverer) Tick(ctx context.Context) (int, error) {
	now := d.now().UTC()
	minute := now.Truncate(time.Minute)

	due, err := d.store.GetDueReminders(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("failed to load due reminders: %w", err)
	}

	delivered := 0
	for _, r := range due {
		if ctx.Err() != nil {
			return delivered, ctx.Err()
		}
		if !r.RemindAt.UTC().Truncate(time.Minute).Equal(minute) {
			d.logger.DebugContext(ctx, "Reminder outside current minute, leaving pending",
				"reminder_id", r.ID, "remind_at", r.RemindAt)
			continue
		}

		flipped, err := d.store.UpdateReminderStatus(ctx, r.ID, database.ReminderSent)
		if err != nil {
			d.logger.ErrorContext(ctx, "Failed to mark reminder as sent", "reminder_id", r.ID, "error", err)
			continue
		}
		if !flipped {
			d.logger.DebugContext(ctx, "Reminder already handled", "reminder_id", r.ID)
			continue
		}

		if err := d.notifier.NotifyReminder(ctx, r.ChatID, fmt.Sprintf(d.format, r.ReminderText)); err != nil {
			d.logger.ErrorContext(ctx, "Failed to deliver reminder", "reminder_id", r.ID, "chat_id", r.ChatID, "error", err)
			continue
		}
		delivered++
		d.logger.InfoContext(ctx, "Reminder delivered", "reminder_id", r.ID, "user_id", r.UserID, "chat_id", r.ChatID)
	}
	return delivered, nil
}
