package handlers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/google/uuid"

	"github.com/edgard/mnemobot/internal/database"
	"github.com/edgard/mnemobot/internal/logger"
	"github.com/edgard/mnemobot/internal/mediagroup"
	"github.com/edgard/mnemobot/internal/router"
	"github.com/edgard/mnemobot/internal/text"
)

const (
	photoMIMEType = "image/jpeg"
	voiceMIMEType = "audio/ogg"
)

var errUnsupported = errors.New("unsupported message")

// NewMessageHandler returns the handler for plain messages: text, photos, voice notes and documents.
func NewMessageHandler(deps HandlerDeps) bot.HandlerFunc {
	return messageHandler{deps}.Handle
}

type messageHandler struct {
	deps HandlerDeps
}

// inbound is the content extracted from one Telegram message.
type inbound struct {
	text        string
	images      []router.Image
	attachments []database.Attachment
	fileID      string
	docType     string
}

func (h messageHandler) Handle(ctx context.Context, _ *bot.Bot, update *models.Update) {
	if update.Message == nil || update.Message.From == nil {
		return
	}
	h.handle(ctx, update.Message)
}

func (h messageHandler) handle(ctx context.Context, msg *models.Message) {
	chatID, userID := msg.Chat.ID, msg.From.ID
	groupID := msg.MediaGroupID
	log := h.deps.Logger.With("handler", "message", "request_id", uuid.NewString(),
		"chat_id", chatID, "user_id", userID, "message_id", msg.ID)
	if groupID != "" {
		log = log.With("media_group_id", groupID)
	}
	msgs := h.deps.Config.Messages

	in, err := h.extract(ctx, msg)
	if errors.Is(err, errUnsupported) {
		log.InfoContext(ctx, "Unsupported message format")
		h.send(ctx, log, chatID, msg.ID, msgs.Unsupported)
		return
	}
	if err != nil {
		log.ErrorContext(ctx, "Failed to read message content", "error", err)
		h.send(ctx, log, chatID, msg.ID, fmt.Sprintf(msgs.Failure, "could not read the attachment"))
		return
	}

	stopTyping := h.deps.Messenger.Typing(ctx, chatID)
	defer stopTyping()

	if err := h.deps.Store.EnsureUser(ctx, userID); err != nil {
		log.ErrorContext(ctx, "Failed to record user", "error", err)
		h.send(ctx, log, chatID, msg.ID, fmt.Sprintf(msgs.Failure, "could not save your message"))
		return
	}
	record := &database.Message{
		Sender:       database.SenderUser,
		UserID:       userID,
		ChatID:       chatID,
		Content:      in.text,
		FileID:       in.fileID,
		DocType:      in.docType,
		MediaGroupID: groupID,
		Attachments:  in.attachments,
	}
	if err := h.deps.Store.SaveMessage(ctx, record); err != nil {
		log.ErrorContext(ctx, "Failed to save message", "error", err)
		h.send(ctx, log, chatID, msg.ID, fmt.Sprintf(msgs.Failure, "could not save your message"))
		return
	}
	log = log.With("record_id", record.ID)

	follower := h.deps.Coordinator.Register(groupID, chatID)
	leader := groupID != "" && !follower
	if leader {
		defer h.deps.Coordinator.Release(groupID)
	}

	var reporter router.StatusReporter
	session, shared, err := h.deps.Statuses.Affiliate(ctx, chatID, groupID, msgs.Processing)
	if err != nil {
		log.WarnContext(ctx, "Failed to open status message, continuing without it", "error", err)
	} else {
		reporter = session
	}
	closeStatus := func() {
		if session == nil {
			return
		}
		if follower {
			// A late follower owns a fresh status the leader will never close.
			if !shared {
				h.deps.Statuses.Release(ctx, chatID, groupID)
			}
			return
		}
		if err := session.Close(ctx); err != nil {
			log.WarnContext(ctx, "Failed to close status message", "error", err)
		}
	}

	q := router.Query{
		Text:      in.text,
		Images:    in.images,
		UserID:    userID,
		ChatID:    chatID,
		MessageID: record.ID,
		Grouped:   follower,
	}

	switch {
	case follower:
		h.deps.Coordinator.Submit(groupID, payloadFrom(msg.ID, in))
		log.DebugContext(ctx, "Submitted payload to media group leader", "shared_status", shared)
	case leader:
		batch := h.deps.Coordinator.Collect(ctx, groupID, h.deps.Config.MediaGroup.QuiescenceWindow)
		q = mergeBatch(q, batch)
		log.InfoContext(ctx, "Collected media group", "followers", len(batch), "images", len(q.Images))
	}

	resp, err := h.deps.Router.Route(ctx, q, reporter)
	if err != nil {
		h.fail(ctx, log, chatID, msg.ID, err)
		closeStatus()
		return
	}
	if follower {
		closeStatus()
		return
	}

	if reply, err := text.Sanitize(resp.Text); err != nil {
		log.WarnContext(ctx, "Reply empty after sanitization", "error", err)
	} else {
		h.send(ctx, log, chatID, msg.ID, reply)
	}

	if resp.DocumentPath != "" {
		if err := h.deps.Messenger.SendLocalDocument(ctx, chatID, resp.DocumentPath); err != nil {
			log.ErrorContext(ctx, "Failed to upload generated document", "error", err, "path", resp.DocumentPath)
		}
	}
	if resp.IsHardRetrieval {
		h.relayArtifacts(ctx, log, chatID, userID, resp.DocumentIDs)
	}

	closeStatus()
	log.InfoContext(ctx, "Message handled", "category", resp.Category)
}

// extract reads text, photos, voice notes and documents from msg.
func (h messageHandler) extract(ctx context.Context, msg *models.Message) (inbound, error) {
	in := inbound{text: strings.TrimSpace(msg.Text)}
	if in.text == "" {
		in.text = strings.TrimSpace(msg.Caption)
	}

	switch {
	case len(msg.Photo) > 0:
		largest := msg.Photo[len(msg.Photo)-1]
		data, err := h.deps.Messenger.DownloadFile(ctx, largest.FileID)
		if err != nil {
			return in, err
		}
		in.addImage(data, photoMIMEType)
		in.fileID, in.docType = largest.FileID, database.DocTypePhoto

	case msg.Voice != nil:
		data, err := h.deps.Messenger.DownloadFile(ctx, msg.Voice.FileID)
		if err != nil {
			return in, err
		}
		mime := msg.Voice.MimeType
		if mime == "" {
			mime = voiceMIMEType
		}
		transcript, err := h.deps.Transcriber.Transcribe(ctx, data, mime)
		if err != nil {
			return in, fmt.Errorf("failed to transcribe voice note: %w", err)
		}
		in.text = strings.TrimSpace(in.text + "\n" + transcript)
		in.fileID, in.docType = msg.Voice.FileID, database.DocTypeVoice

	case msg.Document != nil:
		doc := msg.Document
		in.fileID, in.docType = doc.FileID, database.DocTypeDocument
		if strings.HasPrefix(doc.MimeType, "image/") || doc.MimeType == "application/pdf" {
			data, err := h.deps.Messenger.DownloadFile(ctx, doc.FileID)
			if err != nil {
				return in, err
			}
			in.addImage(data, doc.MimeType)
		}
		if in.text == "" && len(in.images) == 0 {
			in.text = "Document: " + doc.FileName
		}
	}

	if in.text == "" && len(in.images) == 0 {
		return in, errUnsupported
	}
	return in, nil
}

func (in *inbound) addImage(data []byte, mimeType string) {
	in.images = append(in.images, router.Image{Data: data, MIMEType: mimeType})
	in.attachments = append(in.attachments, database.Attachment{Data: data, MIMEType: mimeType})
}

func payloadFrom(messageID int, in inbound) mediagroup.Payload {
	p := mediagroup.Payload{MessageID: messageID, Caption: in.text}
	for _, img := range in.images {
		p.Attachments = append(p.Attachments, mediagroup.Attachment{Data: img.Data, MIMEType: img.MIMEType, FileID: in.fileID})
	}
	return p
}

// mergeBatch appends follower captions and attachments to the leader query in arrival order.
func mergeBatch(q router.Query, batch []mediagroup.Payload) router.Query {
	captions := []string{}
	if q.Text != "" {
		captions = append(captions, q.Text)
	}
	images := append([]router.Image(nil), q.Images...)
	for _, p := range batch {
		if p.Caption != "" {
			captions = append(captions, p.Caption)
		}
		for _, a := range p.Attachments {
			images = append(images, router.Image{Data: a.Data, MIMEType: a.MIMEType})
		}
	}
	q.Text = strings.Join(captions, "\n")
	q.Images = images
	return q
}

// relayArtifacts sends the original files of the cited messages back to the chat.
func (h messageHandler) relayArtifacts(ctx context.Context, log *slog.Logger, chatID, userID int64, ids []int64) {
	for _, id := range ids {
		m, err := h.deps.Store.GetMessage(ctx, id)
		if err != nil {
			log.WarnContext(ctx, "Failed to load cited message", "cited_id", id, "error", err)
			continue
		}
		if m.UserID != userID || m.FileID == "" {
			log.DebugContext(ctx, "Cited message has no relayable file", "cited_id", id)
			continue
		}
		if err := h.deps.Messenger.SendStoredFile(ctx, chatID, m.DocType, m.FileID); err != nil {
			log.ErrorContext(ctx, "Failed to relay file", "cited_id", id, "error", err)
		}
	}
}

// fail reports a routing failure to the chat. Capability failures are logged as critical.
func (h messageHandler) fail(ctx context.Context, log *slog.Logger, chatID int64, replyTo int, err error) {
	msgs := h.deps.Config.Messages
	if errors.Is(err, router.ErrUnsupportedInput) {
		h.send(ctx, log, chatID, replyTo, msgs.Unsupported)
		return
	}

	var capErr *router.CapabilityError
	if errors.As(err, &capErr) {
		logger.Critical(ctx, log, "Capability failed, abandoning message", "capability", capErr.Capability, "error", capErr.Err)
	} else {
		log.ErrorContext(ctx, "Failed to route message", "error", err)
	}
	h.send(ctx, log, chatID, replyTo, fmt.Sprintf(msgs.Failure, err.Error()))
}

func (h messageHandler) send(ctx context.Context, log *slog.Logger, chatID int64, replyTo int, s string) {
	if err := h.deps.Messenger.SendText(ctx, chatID, replyTo, s); err != nil {
		log.ErrorContext(ctx, "Failed to send reply", "error", err)
	}
}
