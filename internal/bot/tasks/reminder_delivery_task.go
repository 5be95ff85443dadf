package tasks

import (
	"context"
	"fmt"
)

// newReminderDeliveryTask creates the task that pushes due reminders to their chats.
// It is meant to run once per minute.
func newReminderDeliveryTask(deps TaskDeps) ScheduledTaskFunc {
	log := deps.Logger.With("task", ReminderDelivery)

	return func(ctx context.Context) error {
		n, err := deps.Deliverer.Tick(ctx)
		if err != nil {
			log.ErrorContext(ctx, "Reminder delivery failed", "error", err, "delivered", n)
			return fmt.Errorf("reminder delivery failed: %w", err)
		}
		if n > 0 {
			log.InfoContext(ctx, "Delivered reminders", "count", n)
		}
		return nil
	}
}
