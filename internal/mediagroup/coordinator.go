// Package mediagroup coalesces attachment events that share a media group id
// into one unit of work owned by the first event to arrive (the leader).
package mediagroup

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"
)

// Attachment is a downloaded file carried by a grouped event.
type Attachment struct {
	Data     []byte
	MIMEType string
	FileID   string
}

// Payload is what a follower hands to its leader.
type Payload struct {
	MessageID   int
	Caption     string
	Attachments []Attachment
}

// Expired identifies a group removed by Sweep.
type Expired struct {
	GroupID string
	ChatID  int64
}

type entry struct {
	chatID       int64
	lastTouched  time.Time
	inProgress   int
	leaderActive bool
	queue        *Queue
}

// Coordinator owns every in-flight media group for the lifetime of the process.
type Coordinator struct {
	mu      sync.Mutex
	entries map[string]*entry
	now     func() time.Time
	logger  *slog.Logger
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithClock overrides the time source used for timestamps and sweeping.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) {
		c.now = now
	}
}

// NewCoordinator creates an empty coordinator.
func NewCoordinator(logger *slog.Logger, opts ...Option) *Coordinator {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	c := &Coordinator{
		entries: make(map[string]*entry),
		now:     time.Now,
		logger:  logger.With("component", "media_group"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Register records an event for groupID and reports whether the caller is a follower.
// An empty groupID is an ungrouped message and is never a follower.
func (c *Coordinator) Register(groupID string, chatID int64) bool {
	if groupID == "" {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[groupID]; ok {
		e.lastTouched = c.now()
		e.inProgress++
		c.logger.Debug("Registered follower", "group_id", groupID, "chat_id", chatID, "in_progress", e.inProgress)
		return true
	}

	c.entries[groupID] = &entry{
		chatID:       chatID,
		lastTouched:  c.now(),
		leaderActive: true,
		queue:        newQueue(),
	}
	c.logger.Debug("Registered leader", "group_id", groupID, "chat_id", chatID)
	return false
}

// Submit hands a follower payload to the leader's queue.
// It reports false when the group is unknown, which only happens if it was swept.
func (c *Coordinator) Submit(groupID string, p Payload) bool {
	c.mu.Lock()
	e, ok := c.entries[groupID]
	c.mu.Unlock()
	if !ok {
		c.logger.Warn("Submit for unknown media group, dropping payload", "group_id", groupID, "message_id", p.MessageID)
		return false
	}
	e.queue.Push(p)
	return true
}

// MarkProcessed decrements the in-progress counter for groupID.
// Unknown groups and a zero counter are left untouched.
func (c *Coordinator) MarkProcessed(groupID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[groupID]
	if !ok {
		return
	}
	if e.inProgress > 0 {
		e.inProgress--
	}
}

// Release marks the leader of groupID as finished so the group becomes sweepable.
func (c *Coordinator) Release(groupID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[groupID]; ok {
		e.leaderActive = false
		e.lastTouched = c.now()
	}
}

// InProgress returns the counter for groupID and whether the group exists.
func (c *Coordinator) InProgress(groupID string) (int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[groupID]
	if !ok {
		return 0, false
	}
	return e.inProgress, true
}

// Len returns the number of tracked groups.
func (c *Coordinator) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Collect drains follower payloads for groupID in arrival order. Every payload
// restarts the quiescence window; collection ends once window passes without one.
// Each consumed payload is marked processed.
func (c *Coordinator) Collect(ctx context.Context, groupID string, window time.Duration) []Payload {
	c.mu.Lock()
	e, ok := c.entries[groupID]
	c.mu.Unlock()
	if !ok {
		return nil
	}

	var batch []Payload
	for {
		p, ok := e.queue.Pop(ctx, window)
		if !ok {
			break
		}
		batch = append(batch, p)
		c.MarkProcessed(groupID)
	}

	c.logger.Debug("Collected media group", "group_id", groupID, "followers", len(batch), "left_in_queue", e.queue.Len())
	return batch
}

// Sweep removes groups that are idle past maxAge with no work in progress.
func (c *Coordinator) Sweep(maxAge time.Duration) []Expired {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	var expired []Expired
	for id, e := range c.entries {
		if e.inProgress != 0 || e.leaderActive {
			continue
		}
		if now.Sub(e.lastTouched) <= maxAge {
			continue
		}
		delete(c.entries, id)
		expired = append(expired, Expired{GroupID: id, ChatID: e.chatID})
	}

	if len(expired) > 0 {
		c.logger.Info("Swept idle media groups", "count", len(expired), "remaining", len(c.entries))
	}
	return expired
}
