// Package status maintains a single outward chat message that accumulates
// progress lines while a multi-step pipeline runs.
package status

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
)

var (
	// ErrNoLines is returned by ReplaceLast before any line was posted.
	ErrNoLines = errors.New("status has no lines to replace")
	// ErrClosed is returned when writing to a closed session.
	ErrClosed = errors.New("status session closed")
)

// Editor performs the outward writes for a session.
type Editor interface {
	EditStatus(ctx context.Context, chatID int64, messageID int, text string) error
	DeleteStatus(ctx context.Context, chatID int64, messageID int) error
}

// Session is one outward status message. It is safe for concurrent use;
// writes are serialized so the last edit always reflects the latest lines.
type Session struct {
	editor    Editor
	chatID    int64
	messageID int
	groupID   string

	mu     sync.Mutex
	lines  []string
	closed bool
}

// Open binds a session to an already delivered outward message whose text is initial.
// An empty initial text starts the session without lines.
func Open(editor Editor, chatID int64, messageID int, initial string) *Session {
	s := &Session{editor: editor, chatID: chatID, messageID: messageID}
	if initial != "" {
		s.lines = []string{initial}
	}
	return s
}

// ChatID returns the chat the status message lives in.
func (s *Session) ChatID() int64 { return s.chatID }

// MessageID returns the outward message id.
func (s *Session) MessageID() int { return s.messageID }

// GroupID returns the media group the session is affiliated with, if any.
func (s *Session) GroupID() string { return s.groupID }

// Lines returns a copy of the current lines.
func (s *Session) Lines() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.lines...)
}

// Render returns the newline-join of the current lines.
func (s *Session) Render() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return strings.Join(s.lines, "\n")
}

// Post appends a line and re-renders the message.
func (s *Session) Post(ctx context.Context, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	s.lines = append(s.lines, text)
	return s.flush(ctx)
}

// ReplaceLast swaps the most recent line and re-renders the message.
func (s *Session) ReplaceLast(ctx context.Context, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if len(s.lines) == 0 {
		return ErrNoLines
	}
	s.lines[len(s.lines)-1] = text
	return s.flush(ctx)
}

// Close deletes the outward message. Calling it again is a no-op.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	if err := s.editor.DeleteStatus(ctx, s.chatID, s.messageID); err != nil {
		return fmt.Errorf("failed to delete status message %d: %w", s.messageID, err)
	}
	return nil
}

// Closed reports whether Close has been called.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// flush must be called with mu held.
func (s *Session) flush(ctx context.Context) error {
	if err := s.editor.EditStatus(ctx, s.chatID, s.messageID, strings.Join(s.lines, "\n")); err != nil {
		return fmt.Errorf("failed to edit status message %d: %w", s.messageID, err)
	}
	return nil
}
