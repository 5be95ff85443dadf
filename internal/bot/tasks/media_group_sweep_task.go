package tasks

import (
	"context"
)

// newMediaGroupSweepTask creates the task that forgets idle media groups and
// releases their shared status messages.
func newMediaGroupSweepTask(deps TaskDeps) ScheduledTaskFunc {
	log := deps.Logger.With("task", MediaGroupSweep)

	return func(ctx context.Context) error {
		expired := deps.Coordinator.Sweep(deps.Config.MediaGroup.MaxAge)
		for _, e := range expired {
			deps.Statuses.Release(ctx, e.ChatID, e.GroupID)
		}
		if len(expired) > 0 {
			log.DebugContext(ctx, "Released idle media groups", "count", len(expired), "tracked", deps.Coordinator.Len())
		}
		return nil
	}
}
