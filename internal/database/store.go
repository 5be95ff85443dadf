package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("record not found")

// Store defines the interface for database operations.
// Methods should accept context.Context for cancellation and timeouts.
type Store interface {
	// Ping checks the database connection.
	Ping(ctx context.Context) error

	// EnsureUser records a user on first sight. Existing users are left untouched.
	EnsureUser(ctx context.Context, userID int64) error

	// SaveMessage inserts a message and its attachments in one transaction.
	SaveMessage(ctx context.Context, message *Message) error

	// GetMessage retrieves a message with its attachments. Returns ErrNotFound if missing.
	GetMessage(ctx context.Context, id int64) (*Message, error)

	// SaveInformation inserts an information record.
	SaveInformation(ctx context.Context, info *Information) error

	// ListInformation retrieves all information records of a user, oldest first.
	ListInformation(ctx context.Context, userID int64) ([]Information, error)

	// SaveReminder inserts a pending reminder.
	SaveReminder(ctx context.Context, reminder *Reminder) error

	// GetReminder retrieves a reminder by id. Returns ErrNotFound if missing.
	GetReminder(ctx context.Context, id int64) (*Reminder, error)

	// GetDueReminders retrieves pending reminders due at or before now, in store order.
	GetDueReminders(ctx context.Context, now time.Time) ([]Reminder, error)

	// GetPendingReminders retrieves the pending reminders of a user, soonest first.
	GetPendingReminders(ctx context.Context, userID int64) ([]Reminder, error)

	// UpdateReminderStatus moves a pending reminder to status. It reports false when
	// the reminder is missing or no longer pending.
	UpdateReminderStatus(ctx context.Context, id int64, status ReminderStatus) (bool, error)

	// SaveEmbedding inserts or replaces a document vector.
	SaveEmbedding(ctx context.Context, e *Embedding) error

	// ListEmbeddings retrieves every vector of a collection.
	ListEmbeddings(ctx context.Context, collection string) ([]Embedding, error)

	// RunSQLMaintenance performs database maintenance tasks like VACUUM.
	RunSQLMaintenance(ctx context.Context) error
}

// sqlxStore provides an implementation of the Store interface using sqlx.
type sqlxStore struct {
	db     *sqlx.DB
	logger *slog.Logger
	now    func() time.Time
}

// NewStore creates a new Store implementation backed by sqlx.
// It requires a connected sqlx.DB instance and a logger.
func NewStore(db *sqlx.DB, logger *slog.Logger) Store {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &sqlxStore{
		db:     db,
		logger: logger.With("component", "store"),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// dbTime normalizes timestamps so that stored values compare lexically.
func dbTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Second)
}

// Ping checks the database connection.
func (s *sqlxStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *sqlxStore) EnsureUser(ctx context.Context, userID int64) error {
	if userID == 0 {
		return fmt.Errorf("user_id cannot be zero")
	}

	result, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO users (user_id, created_at) VALUES (?, ?)`, userID, dbTime(s.now()))
	if err != nil {
		s.logger.ErrorContext(ctx, "Error ensuring user", "user_id", userID, "error", err)
		return fmt.Errorf("failed to ensure user %d: %w", userID, err)
	}
	if affected, _ := result.RowsAffected(); affected == 1 {
		s.logger.InfoContext(ctx, "Registered new user", "user_id", userID)
	}
	return nil
}

// SaveMessage inserts the message row and then each attachment, all inside one transaction.
func (s *sqlxStore) SaveMessage(ctx context.Context, message *Message) error {
	if message == nil {
		return fmt.Errorf("cannot save nil message")
	}
	if message.Sender != SenderUser && message.Sender != SenderAgent {
		return fmt.Errorf("message has invalid sender %q", message.Sender)
	}
	if message.ChatID == 0 {
		return fmt.Errorf("message must have a non-zero chat_id")
	}
	if message.UserID == 0 {
		return fmt.Errorf("message must have a non-zero user_id")
	}
	if message.CreatedAt.IsZero() {
		message.CreatedAt = s.now()
	}
	message.CreatedAt = dbTime(message.CreatedAt)

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to begin transaction for saving message",
			"chat_id", message.ChatID, "user_id", message.UserID, "error", err)
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer s.rollback(ctx, &tx)

	query := `
        INSERT INTO messages (sender, user_id, chat_id, content, file_id, doc_type, media_group_id, created_at)
        VALUES (:sender, :user_id, :chat_id, :content, :file_id, :doc_type, :media_group_id, :created_at);
    `
	result, err := tx.NamedExecContext(ctx, query, message)
	if err != nil {
		s.logger.ErrorContext(ctx, "Error saving message", "chat_id", message.ChatID, "user_id", message.UserID, "error", err)
		return fmt.Errorf("failed to save message (chat %d, user %d): %w", message.ChatID, message.UserID, err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read message id: %w", err)
	}
	message.ID = id

	for i := range message.Attachments {
		a := &message.Attachments[i]
		a.MessageID = id
		res, err := tx.NamedExecContext(ctx,
			`INSERT INTO message_attachments (message_id, mime_type, data) VALUES (:message_id, :mime_type, :data)`, a)
		if err != nil {
			s.logger.ErrorContext(ctx, "Error saving message attachment", "message_id", id, "index", i, "error", err)
			return fmt.Errorf("failed to save attachment %d of message %d: %w", i, id, err)
		}
		if aid, err := res.LastInsertId(); err == nil {
			a.ID = aid
		}
	}

	if err := tx.Commit(); err != nil {
		s.logger.ErrorContext(ctx, "Failed to commit transaction",
			"chat_id", message.ChatID, "user_id", message.UserID, "error", err)
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	tx = nil

	s.logger.DebugContext(ctx, "Message saved successfully",
		"message_id", message.ID, "sender", message.Sender, "attachments", len(message.Attachments))
	return nil
}

func (s *sqlxStore) GetMessage(ctx context.Context, id int64) (*Message, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	var message Message
	err := s.db.GetContext(ctx, &message, `
        SELECT id, sender, user_id, chat_id, content, file_id, doc_type, media_group_id, created_at
        FROM messages WHERE id = ?`, id)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, fmt.Errorf("message %d: %w", id, ErrNotFound)
	case err != nil:
		s.logger.ErrorContext(ctx, "Error getting message", "message_id", id, "error", err)
		return nil, fmt.Errorf("failed to get message %d: %w", id, err)
	}

	err = s.db.SelectContext(ctx, &message.Attachments,
		`SELECT id, message_id, mime_type, data FROM message_attachments WHERE message_id = ? ORDER BY id`, id)
	if err != nil {
		s.logger.ErrorContext(ctx, "Error getting message attachments", "message_id", id, "error", err)
		return nil, fmt.Errorf("failed to get attachments of message %d: %w", id, err)
	}
	return &message, nil
}

func (s *sqlxStore) SaveInformation(ctx context.Context, info *Information) error {
	if info == nil {
		return fmt.Errorf("cannot save nil information")
	}
	if info.Content == "" {
		return fmt.Errorf("information must have non-empty content")
	}
	if info.CreatedAt.IsZero() {
		info.CreatedAt = s.now()
	}
	info.CreatedAt = dbTime(info.CreatedAt)

	result, err := s.db.NamedExecContext(ctx, `
        INSERT INTO information (content, message_id, user_id, created_at)
        VALUES (:content, :message_id, :user_id, :created_at)`, info)
	if err != nil {
		s.logger.ErrorContext(ctx, "Error saving information", "user_id", info.UserID, "message_id", info.MessageID, "error", err)
		return fmt.Errorf("failed to save information for user %d: %w", info.UserID, err)
	}
	if id, err := result.LastInsertId(); err == nil {
		info.ID = id
	}
	s.logger.DebugContext(ctx, "Information saved", "information_id", info.ID, "user_id", info.UserID)
	return nil
}

func (s *sqlxStore) ListInformation(ctx context.Context, userID int64) ([]Information, error) {
	var infos []Information
	err := s.db.SelectContext(ctx, &infos, `
        SELECT id, content, message_id, user_id, created_at
        FROM information WHERE user_id = ? ORDER BY id`, userID)
	if err != nil {
		s.logger.ErrorContext(ctx, "Error listing information", "user_id", userID, "error", err)
		return nil, fmt.Errorf("failed to list information for user %d: %w", userID, err)
	}
	return infos, nil
}

func (s *sqlxStore) SaveReminder(ctx context.Context, reminder *Reminder) error {
	if reminder == nil {
		return fmt.Errorf("cannot save nil reminder")
	}
	if reminder.UserID == 0 || reminder.ChatID == 0 {
		return fmt.Errorf("reminder must have non-zero user_id and chat_id")
	}
	if reminder.ReminderText == "" {
		return fmt.Errorf("reminder must have non-empty text")
	}
	if reminder.RemindAt.IsZero() {
		return fmt.Errorf("reminder must have a due time")
	}
	// Delivery matches on the minute, so due times carry no seconds.
	reminder.RemindAt = dbTime(reminder.RemindAt).Truncate(time.Minute)
	reminder.CreatedAt = dbTime(s.now())
	reminder.Status = ReminderPending

	result, err := s.db.NamedExecContext(ctx, `
        INSERT INTO reminders (user_id, chat_id, message_id, reminder_text, remind_at, created_at, status)
        VALUES (:user_id, :chat_id, :message_id, :reminder_text, :remind_at, :created_at, :status)`, reminder)
	if err != nil {
		s.logger.ErrorContext(ctx, "Error saving reminder", "user_id", reminder.UserID, "error", err)
		return fmt.Errorf("failed to save reminder for user %d: %w", reminder.UserID, err)
	}
	if id, err := result.LastInsertId(); err == nil {
		reminder.ID = id
	}
	s.logger.InfoContext(ctx, "Reminder saved",
		"reminder_id", reminder.ID, "user_id", reminder.UserID, "remind_at", reminder.RemindAt)
	return nil
}

const reminderColumns = `id, user_id, chat_id, message_id, reminder_text, remind_at, created_at, status`

func (s *sqlxStore) GetReminder(ctx context.Context, id int64) (*Reminder, error) {
	var reminder Reminder
	err := s.db.GetContext(ctx, &reminder, `SELECT `+reminderColumns+` FROM reminders WHERE id = ?`, id)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, fmt.Errorf("reminder %d: %w", id, ErrNotFound)
	case err != nil:
		s.logger.ErrorContext(ctx, "Error getting reminder", "reminder_id", id, "error", err)
		return nil, fmt.Errorf("failed to get reminder %d: %w", id, err)
	}
	return &reminder, nil
}

func (s *sqlxStore) GetDueReminders(ctx context.Context, now time.Time) ([]Reminder, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	var reminders []Reminder
	err := s.db.SelectContext(ctx, &reminders, `
        SELECT `+reminderColumns+`
        FROM reminders
        WHERE status = ? AND remind_at <= ?
        ORDER BY id`, ReminderPending, dbTime(now))

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		s.logger.WarnContext(ctx, "Context timeout or cancellation while fetching due reminders", "error", err)
		return nil, err
	}
	if err != nil {
		s.logger.ErrorContext(ctx, "Error getting due reminders", "error", err)
		return nil, fmt.Errorf("failed to get due reminders: %w", err)
	}
	return reminders, nil
}

func (s *sqlxStore) GetPendingReminders(ctx context.Context, userID int64) ([]Reminder, error) {
	var reminders []Reminder
	err := s.db.SelectContext(ctx, &reminders, `
        SELECT `+reminderColumns+`
        FROM reminders
        WHERE user_id = ? AND status = ?
        ORDER BY remind_at, id`, userID, ReminderPending)
	if err != nil {
		s.logger.ErrorContext(ctx, "Error getting pending reminders", "user_id", userID, "error", err)
		return nil, fmt.Errorf("failed to get pending reminders for user %d: %w", userID, err)
	}
	return reminders, nil
}

func (s *sqlxStore) UpdateReminderStatus(ctx context.Context, id int64, status ReminderStatus) (bool, error) {
	if status == ReminderPending {
		return false, fmt.Errorf("cannot move reminder %d back to pending", id)
	}

	result, err := s.db.ExecContext(ctx,
		`UPDATE reminders SET status = ? WHERE id = ? AND status = ?`, status, id, ReminderPending)
	if err != nil {
		s.logger.ErrorContext(ctx, "Error updating reminder status", "reminder_id", id, "status", status, "error", err)
		return false, fmt.Errorf("failed to update reminder %d: %w", id, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows for reminder %d: %w", id, err)
	}
	if affected == 0 {
		s.logger.DebugContext(ctx, "Reminder not pending, status unchanged", "reminder_id", id, "status", status)
		return false, nil
	}
	s.logger.DebugContext(ctx, "Reminder status updated", "reminder_id", id, "status", status)
	return true, nil
}

func (s *sqlxStore) SaveEmbedding(ctx context.Context, e *Embedding) error {
	if e == nil {
		return fmt.Errorf("cannot save nil embedding")
	}
	if e.Collection == "" || e.DocID == "" {
		return fmt.Errorf("embedding must have collection and doc_id")
	}
	if len(e.Vector) == 0 {
		return fmt.Errorf("embedding %s/%s has an empty vector", e.Collection, e.DocID)
	}
	if e.Metadata == "" {
		e.Metadata = "{}"
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.now()
	}
	e.CreatedAt = dbTime(e.CreatedAt)

	_, err := s.db.NamedExecContext(ctx, `
        INSERT OR REPLACE INTO embeddings (collection, doc_id, content, metadata, vector, created_at)
        VALUES (:collection, :doc_id, :content, :metadata, :vector, :created_at)`, e)
	if err != nil {
		s.logger.ErrorContext(ctx, "Error saving embedding", "collection", e.Collection, "doc_id", e.DocID, "error", err)
		return fmt.Errorf("failed to save embedding %s/%s: %w", e.Collection, e.DocID, err)
	}
	return nil
}

func (s *sqlxStore) ListEmbeddings(ctx context.Context, collection string) ([]Embedding, error) {
	var out []Embedding
	err := s.db.SelectContext(ctx, &out, `
        SELECT collection, doc_id, content, metadata, vector, created_at
        FROM embeddings WHERE collection = ? ORDER BY created_at, doc_id`, collection)
	if err != nil {
		s.logger.ErrorContext(ctx, "Error listing embeddings", "collection", collection, "error", err)
		return nil, fmt.Errorf("failed to list embeddings of %s: %w", collection, err)
	}
	return out, nil
}

// RunSQLMaintenance executes a VACUUM command on the SQLite database.
func (s *sqlxStore) RunSQLMaintenance(ctx context.Context) error {
	if ctx.Err() != nil {
		s.logger.WarnContext(ctx, "Context cancelled or timed out before starting VACUUM", "error", ctx.Err())
		return ctx.Err()
	}

	s.logger.InfoContext(ctx, "Starting database maintenance (VACUUM)...")

	// VACUUM must run outside a transaction in SQLite.
	_, err := s.db.ExecContext(ctx, "VACUUM;")

	switch {
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled):
		s.logger.WarnContext(ctx, "VACUUM operation timed out or was cancelled", "error", err)
		return fmt.Errorf("database maintenance (VACUUM) timed out: %w", err)

	case err != nil:
		s.logger.ErrorContext(ctx, "Database maintenance (VACUUM) failed", "error", err)
		return fmt.Errorf("failed to execute VACUUM: %w", err)

	default:
		s.logger.InfoContext(ctx, "Database maintenance (VACUUM) completed successfully")
	}

	return nil
}

// rollback is deferred after BeginTxx; a committed transaction is set to nil by the caller.
func (s *sqlxStore) rollback(ctx context.Context, tx **sqlx.Tx) {
	if *tx == nil {
		return
	}
	if err := (*tx).Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		s.logger.WarnContext(ctx, "Error rolling back transaction", "error", err)
	}
}
