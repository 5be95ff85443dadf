// Package tasks implements the scheduled jobs of the bot: reminder delivery,
// media group cleanup and database maintenance.
package tasks

import (
	"context"
	"log/slog"

	"github.com/edgard/mnemobot/internal/config"
	"github.com/edgard/mnemobot/internal/mediagroup"
)

// Maintainer runs periodic database housekeeping.
type Maintainer interface {
	RunSQLMaintenance(ctx context.Context) error
}

// Deliverer sends the reminders due in the current minute.
type Deliverer interface {
	Tick(ctx context.Context) (int, error)
}

// StatusReleaser drops the shared status session of a media group.
type StatusReleaser interface {
	Release(ctx context.Context, chatID int64, groupID string)
}

// TaskDeps contains all dependencies required by scheduled tasks.
type TaskDeps struct {
	Logger      *slog.Logger
	Config      *config.Config
	Store       Maintainer
	Deliverer   Deliverer
	Coordinator *mediagroup.Coordinator
	Statuses    StatusReleaser
}
