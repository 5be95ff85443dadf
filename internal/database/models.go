package database

import (
	"database/sql"
	"time"
)

// Sender values for Message.Sender.
const (
	SenderUser  = "user"
	SenderAgent = "agent"
)

// Document types for Message.DocType. An empty value means plain text.
const (
	DocTypeDocument = "D"
	DocTypePhoto    = "P"
	DocTypeVoice    = "V"
)

// ReminderStatus is the lifecycle state of a reminder. Transitions only leave pending.
type ReminderStatus string

// Reminder statuses.
const (
	ReminderPending   ReminderStatus = "pending"
	ReminderSent      ReminderStatus = "sent"
	ReminderDismissed ReminderStatus = "dismissed"
)

// User is a chat user the bot has seen at least once.
type User struct {
	UserID    int64     `db:"user_id"`
	CreatedAt time.Time `db:"created_at"`
}

// Message is one inbound user message or outbound agent reply.
type Message struct {
	ID           int64     `db:"id"`
	Sender       string    `db:"sender"`
	UserID       int64     `db:"user_id"`
	ChatID       int64     `db:"chat_id"`
	Content      string    `db:"content"`
	FileID       string    `db:"file_id"`
	DocType      string    `db:"doc_type"`
	MediaGroupID string    `db:"media_group_id"`
	CreatedAt    time.Time `db:"created_at"`

	// Attachments are stored in message_attachments and loaded by GetMessage.
	Attachments []Attachment `db:"-"`
}

// Attachment is a binary payload (usually an image) linked to a message.
type Attachment struct {
	ID        int64  `db:"id"`
	MessageID int64  `db:"message_id"`
	MIMEType  string `db:"mime_type"`
	Data      []byte `db:"data"`
}

// Information is a user-provided fact extracted from a data dump.
type Information struct {
	ID        int64     `db:"id"`
	Content   string    `db:"content"`
	MessageID int64     `db:"message_id"`
	UserID    int64     `db:"user_id"`
	CreatedAt time.Time `db:"created_at"`
}

// Reminder is a scheduled notification for a user.
type Reminder struct {
	ID           int64          `db:"id"`
	UserID       int64          `db:"user_id"`
	ChatID       int64          `db:"chat_id"`
	MessageID    sql.NullInt64  `db:"message_id"`
	ReminderText string         `db:"reminder_text"`
	RemindAt     time.Time      `db:"remind_at"`
	CreatedAt    time.Time      `db:"created_at"`
	Status       ReminderStatus `db:"status"`
}

// Embedding is a stored vector for one document of a similarity collection.
// Metadata is a JSON object; Vector is little-endian float32.
type Embedding struct {
	Collection string    `db:"collection"`
	DocID      string    `db:"doc_id"`
	Content    string    `db:"content"`
	Metadata   string    `db:"metadata"`
	Vector     []byte    `db:"vector"`
	CreatedAt  time.Time `db:"created_at"`
}
