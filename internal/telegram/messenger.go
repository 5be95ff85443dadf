package telegram

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/edgard/mnemobot/internal/database"
	"github.com/edgard/mnemobot/internal/text"
)

const (
	fileURLFormat  = "https://api.telegram.org/file/bot%s/%s"
	typingInterval = 4 * time.Second
)

// API is the subset of *bot.Bot used by Messenger.
type API interface {
	SendMessage(ctx context.Context, params *bot.SendMessageParams) (*models.Message, error)
	EditMessageText(ctx context.Context, params *bot.EditMessageTextParams) (*models.Message, error)
	DeleteMessage(ctx context.Context, params *bot.DeleteMessageParams) (bool, error)
	GetFile(ctx context.Context, params *bot.GetFileParams) (*models.File, error)
	SendDocument(ctx context.Context, params *bot.SendDocumentParams) (*models.Message, error)
	SendPhoto(ctx context.Context, params *bot.SendPhotoParams) (*models.Message, error)
	SendVoice(ctx context.Context, params *bot.SendVoiceParams) (*models.Message, error)
	SendChatAction(ctx context.Context, params *bot.SendChatActionParams) (bool, error)
}

// Messenger sends, edits and deletes chat messages and downloads attachments.
// It implements status.Transport and reminder.Notifier.
type Messenger struct {
	api        API
	token      string
	httpClient *http.Client
	log        *slog.Logger
}

// NewMessenger wraps api. token is needed to build file download links.
func NewMessenger(api API, token string, downloadTimeout time.Duration, logger *slog.Logger) *Messenger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Messenger{
		api:        api,
		token:      token,
		httpClient: &http.Client{Timeout: downloadTimeout},
		log:        logger.With("component", "telegram_messenger"),
	}
}

// OpenStatus sends a new status message and returns its id.
func (m *Messenger) OpenStatus(ctx context.Context, chatID int64, text string) (int, error) {
	msg, err := m.api.SendMessage(ctx, &bot.SendMessageParams{ChatID: chatID, Text: text})
	if err != nil {
		return 0, fmt.Errorf("failed to send status message: %w", err)
	}
	return msg.ID, nil
}

// EditStatus replaces the text of a status message.
func (m *Messenger) EditStatus(ctx context.Context, chatID int64, messageID int, text string) error {
	_, err := m.api.EditMessageText(ctx, &bot.EditMessageTextParams{ChatID: chatID, MessageID: messageID, Text: text})
	if err != nil && strings.Contains(err.Error(), "message is not modified") {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to edit status message: %w", err)
	}
	return nil
}

// DeleteStatus removes a status message.
func (m *Messenger) DeleteStatus(ctx context.Context, chatID int64, messageID int) error {
	if _, err := m.api.DeleteMessage(ctx, &bot.DeleteMessageParams{ChatID: chatID, MessageID: messageID}); err != nil {
		return fmt.Errorf("failed to delete status message: %w", err)
	}
	return nil
}

// NotifyReminder pushes a reminder text to a chat.
func (m *Messenger) NotifyReminder(ctx context.Context, chatID int64, text string) error {
	return m.SendText(ctx, chatID, 0, text)
}

// SendText sends s, split into message-sized chunks. A nonzero replyTo makes the
// first chunk a reply to that message.
func (m *Messenger) SendText(ctx context.Context, chatID int64, replyTo int, s string) error {
	for i, chunk := range text.Chunk(s, text.MaxMessageLength) {
		params := &bot.SendMessageParams{ChatID: chatID, Text: chunk}
		if i == 0 && replyTo != 0 {
			params.ReplyParameters = &models.ReplyParameters{MessageID: replyTo, AllowSendingWithoutReply: true}
		}
		if _, err := m.api.SendMessage(ctx, params); err != nil {
			return fmt.Errorf("failed to send message chunk %d: %w", i+1, err)
		}
	}
	return nil
}

// SendStoredFile re-sends a file already on Telegram servers, picking the call by doc type.
func (m *Messenger) SendStoredFile(ctx context.Context, chatID int64, docType, fileID string) error {
	if fileID == "" {
		return errors.New("file id cannot be empty")
	}
	input := &models.InputFileString{Data: fileID}
	var err error
	switch docType {
	case database.DocTypePhoto:
		_, err = m.api.SendPhoto(ctx, &bot.SendPhotoParams{ChatID: chatID, Photo: input})
	case database.DocTypeVoice:
		_, err = m.api.SendVoice(ctx, &bot.SendVoiceParams{ChatID: chatID, Voice: input})
	default:
		_, err = m.api.SendDocument(ctx, &bot.SendDocumentParams{ChatID: chatID, Document: input})
	}
	if err != nil {
		return fmt.Errorf("failed to relay stored file: %w", err)
	}
	return nil
}

// SendLocalDocument uploads a file from disk.
func (m *Messenger) SendLocalDocument(ctx context.Context, chatID int64, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open document: %w", err)
	}
	defer f.Close()

	_, err = m.api.SendDocument(ctx, &bot.SendDocumentParams{
		ChatID:   chatID,
		Document: &models.InputFileUpload{Filename: filepath.Base(path), Data: f},
	})
	if err != nil {
		return fmt.Errorf("failed to upload document: %w", err)
	}
	return nil
}

// DownloadFile fetches the content of a file by id.
func (m *Messenger) DownloadFile(ctx context.Context, fileID string) ([]byte, error) {
	file, err := m.api.GetFile(ctx, &bot.GetFileParams{FileID: fileID})
	if err != nil {
		return nil, fmt.Errorf("failed to get file info: %w", err)
	}
	if file.FilePath == "" {
		return nil, fmt.Errorf("file %s has no download path", fileID)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf(fileURLFormat, m.token, file.FilePath), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build download request: %w", err)
	}
	resp, err := m.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to download file: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to download file: status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	return data, nil
}

// Typing shows the typing indicator in chatID until the returned stop func is called.
func (m *Messenger) Typing(ctx context.Context, chatID int64) (stop func()) {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(typingInterval)
		defer ticker.Stop()
		for {
			if _, err := m.api.SendChatAction(ctx, &bot.SendChatActionParams{ChatID: chatID, Action: models.ChatActionTyping}); err != nil && ctx.Err() == nil {
				m.log.DebugContext(ctx, "Typing action failed", "chat_id", chatID, "error", err)
			}
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
	return func() {
		cancel()
		<-done
	}
}
