package status

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"golang.org/x/sync/singleflight"
)

// Opener delivers a fresh outward status message and returns its id.
type Opener interface {
	OpenStatus(ctx context.Context, chatID int64, text string) (int, error)
}

// Transport opens, edits and deletes status messages.
type Transport interface {
	Opener
	Editor
}

type sessionKey struct {
	chatID  int64
	groupID string
}

// Registry tracks sessions affiliated with media groups so that followers of a
// batch report on the leader's status message instead of opening their own.
type Registry struct {
	transport Transport
	logger    *slog.Logger

	mu       sync.Mutex
	sessions map[sessionKey]*Session
	opening  singleflight.Group
}

// NewRegistry creates a registry that opens and edits messages through transport.
func NewRegistry(transport Transport, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Registry{
		transport: transport,
		logger:    logger.With("component", "status_registry"),
		sessions:  make(map[sessionKey]*Session),
	}
}

// Open delivers a new status message that is not affiliated with any group.
func (r *Registry) Open(ctx context.Context, chatID int64, initial string) (*Session, error) {
	msgID, err := r.transport.OpenStatus(ctx, chatID, initial)
	if err != nil {
		return nil, fmt.Errorf("failed to open status message: %w", err)
	}
	return Open(r.transport, chatID, msgID, initial), nil
}

// Affiliate returns the session registered for (chatID, groupID), opening and
// registering one when none exists. The boolean reports whether the session was shared.
// An empty groupID always opens a private session.
func (r *Registry) Affiliate(ctx context.Context, chatID int64, groupID, initial string) (*Session, bool, error) {
	if groupID == "" {
		s, err := r.Open(ctx, chatID, initial)
		return s, false, err
	}

	key := sessionKey{chatID: chatID, groupID: groupID}
	if s := r.lookup(key); s != nil {
		return s, true, nil
	}

	created := false
	v, err, _ := r.opening.Do(fmt.Sprintf("%d/%s", chatID, groupID), func() (any, error) {
		if s := r.lookup(key); s != nil {
			return s, nil
		}
		s, err := r.Open(ctx, chatID, initial)
		if err != nil {
			return nil, err
		}
		s.groupID = groupID

		r.mu.Lock()
		r.sessions[key] = s
		r.mu.Unlock()

		created = true
		r.logger.DebugContext(ctx, "Registered status session", "chat_id", chatID, "group_id", groupID, "message_id", s.messageID)
		return s, nil
	})
	if err != nil {
		return nil, false, err
	}
	return v.(*Session), !created, nil
}

// Lookup returns the session registered for the group, if any.
func (r *Registry) Lookup(chatID int64, groupID string) (*Session, bool) {
	s := r.lookup(sessionKey{chatID: chatID, groupID: groupID})
	return s, s != nil
}

// Release forgets the session registered for the group and closes it.
func (r *Registry) Release(ctx context.Context, chatID int64, groupID string) {
	key := sessionKey{chatID: chatID, groupID: groupID}

	r.mu.Lock()
	s, ok := r.sessions[key]
	delete(r.sessions, key)
	r.mu.Unlock()

	if !ok {
		return
	}
	if err := s.Close(ctx); err != nil {
		r.logger.WarnContext(ctx, "Failed to close released status session", "chat_id", chatID, "group_id", groupID, "error", err)
	}
}

// Len returns the number of registered sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

func (r *Registry) lookup(key sessionKey) *Session {
	r.mu.Lock()
	s := r.sessions[key]
	r.mu.Unlock()

	if s != nil && s.Closed() {
		return nil
	}
	return s
}
