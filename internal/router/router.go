// Package router classifies inbound queries and dispatches them to the
// information, scheduling or fallback flows before polishing the reply.
package router

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"

	"github.com/edgard/mnemobot/internal/database"
	"github.com/edgard/mnemobot/internal/vectorstore"
)

// Records is the part of the record store the router writes to.
type Records interface {
	SaveMessage(ctx context.Context, message *database.Message) error
	SaveInformation(ctx context.Context, info *database.Information) error
}

// Index is the similarity index the router writes to.
type Index interface {
	Add(ctx context.Context, collection string, doc vectorstore.Document) error
}

// StatusReporter receives progress lines.
type StatusReporter interface {
	Post(ctx context.Context, text string) error
	ReplaceLast(ctx context.Context, text string) error
}

// Messages are the user-visible strings produced by the router.
type Messages struct {
	Fallback      string
	Retrieving    string
	Retrieved     string
	Storing       string
	Stored        string
	SourcedFrom   string // formatted with the id list
	DocumentFound string // formatted with the id list
	Generating    string
	DocumentReady string // formatted with the file name
}

// DefaultMessages returns the built-in strings.
func DefaultMessages() Messages {
	return Messages{
		Fallback:      "I'm sorry, but I couldn't understand your request.",
		Retrieving:    "🔍 Analyzing and retrieving relevant information...",
		Retrieved:     "✅ Analyzing and retrieving relevant information...",
		Storing:       "⚪ Updating Information database",
		Stored:        "✅ Information database updated",
		SourcedFrom:   "🔶 Information sourced from message ids: %s",
		DocumentFound: "🔶 Document found from message ids: %s",
		Generating:    "⚪ Generating the requested document.",
		DocumentReady: "The document has been generated with file name: %s",
	}
}

func (m Messages) withDefaults() Messages {
	d := DefaultMessages()
	fill := func(dst *string, def string) {
		if *dst == "" {
			*dst = def
		}
	}
	fill(&m.Fallback, d.Fallback)
	fill(&m.Retrieving, d.Retrieving)
	fill(&m.Retrieved, d.Retrieved)
	fill(&m.Storing, d.Storing)
	fill(&m.Stored, d.Stored)
	fill(&m.SourcedFrom, d.SourcedFrom)
	fill(&m.DocumentFound, d.DocumentFound)
	fill(&m.Generating, d.Generating)
	fill(&m.DocumentReady, d.DocumentReady)
	return m
}

// Query is one unit of work entering the router.
type Query struct {
	Text   string
	Images []Image
	UserID int64
	ChatID int64
	// MessageID is the stored id of the inbound message.
	MessageID int64
	// Grouped marks a follower of a media group: side effects run, no reply is produced.
	Grouped bool
}

// Response is the outcome of Route.
type Response struct {
	Category Category
	// Rendered is false for grouped followers, which stop before polishing.
	Rendered        bool
	Text            string
	IsHardRetrieval bool
	DocumentIDs     []int64
	// DocumentPath is set when a document was generated.
	DocumentPath   string
	AgentMessageID int64
}

// Router runs the classification state machine.
type Router struct {
	caps     Capabilities
	records  Records
	index    Index
	renderer DocumentRenderer
	history  *History
	messages Messages
	logger   *slog.Logger
}

// Config holds the router collaborators.
type Config struct {
	Capabilities Capabilities
	Records      Records
	Index        Index
	Renderer     DocumentRenderer
	History      *History
	Messages     Messages
	Logger       *slog.Logger
}

// New creates a Router.
func New(cfg Config) (*Router, error) {
	if err := cfg.Capabilities.validate(); err != nil {
		return nil, err
	}
	if cfg.Records == nil || cfg.Index == nil || cfg.Renderer == nil {
		return nil, errors.New("router requires records, index and renderer")
	}
	if cfg.History == nil {
		cfg.History = NewHistory(DefaultHistoryLimit)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Router{
		caps:     cfg.Capabilities,
		records:  cfg.Records,
		index:    cfg.Index,
		renderer: cfg.Renderer,
		history:  cfg.History,
		messages: cfg.Messages.withDefaults(),
		logger:   cfg.Logger.With("component", "router"),
	}, nil
}

// Route classifies q, runs the matching flow and, unless q is grouped, polishes
// and persists the final answer.
func (r *Router) Route(ctx context.Context, q Query, status StatusReporter) (*Response, error) {
	if strings.TrimSpace(q.Text) == "" && len(q.Images) == 0 {
		return nil, ErrUnsupportedInput
	}
	logger := r.logger.With("user_id", q.UserID, "message_id", q.MessageID, "grouped", q.Grouped)

	cls, err := r.caps.Classifier.Classify(ctx, q.Text, q.Images)
	if err != nil {
		return nil, capabilityErr("classify", err)
	}
	if err := cls.Validate(); err != nil {
		return nil, capabilityErr("classify", err)
	}
	logger.InfoContext(ctx, "Classified query", "category", cls.Category)

	text := q.Text
	if strings.TrimSpace(text) == "" {
		text, err = r.caps.Analyzer.AnalyzeAttachments(ctx, q.Images)
		if err != nil {
			return nil, capabilityErr("analyze attachments", err)
		}
		if strings.TrimSpace(text) == "" {
			return nil, capabilityErr("analyze attachments", fmt.Errorf("%w: empty summary", ErrInvalidResult))
		}
	}

	if err := r.indexMessage(ctx, q.MessageID, q.UserID, database.SenderUser, text); err != nil {
		return nil, err
	}

	resp := &Response{Category: cls.Category}
	var proposed string

	switch cls.Category {
	case CategoryInformation, CategoryDocument:
		proposed, err = r.handleInformation(ctx, q, text, cls.Category, status, resp)
	case CategorySchedule:
		proposed, err = r.schedule(ctx, q, text)
	case CategoryOther:
		proposed = r.messages.Fallback
	default:
		err = fmt.Errorf("unhandled category %q", cls.Category)
	}
	if err != nil {
		return nil, err
	}

	if q.Grouped {
		logger.DebugContext(ctx, "Grouped follower handled, skipping reply")
		return resp, nil
	}

	polished, err := r.caps.Polisher.Polish(ctx, PolishRequest{
		Query:           text,
		ProposedAnswer:  proposed,
		Category:        cls.Category,
		IsHardRetrieval: resp.IsHardRetrieval,
		DocumentIDs:     resp.DocumentIDs,
	})
	if err != nil {
		return nil, capabilityErr("polish", err)
	}
	if err := polished.Validate(); err != nil {
		return nil, capabilityErr("polish", err)
	}
	resp.Rendered = true
	resp.Text = polished.Response
	resp.IsHardRetrieval = polished.IsHardRetrieval
	resp.DocumentIDs = polished.DocumentIDs

	agentMsg := &database.Message{
		Sender:  database.SenderAgent,
		UserID:  q.UserID,
		ChatID:  q.ChatID,
		Content: resp.Text,
	}
	if err := r.records.SaveMessage(ctx, agentMsg); err != nil {
		return nil, fmt.Errorf("failed to persist agent reply: %w", err)
	}
	resp.AgentMessageID = agentMsg.ID
	if err := r.indexMessage(ctx, agentMsg.ID, q.UserID, database.SenderAgent, resp.Text); err != nil {
		return nil, err
	}

	logger.InfoContext(ctx, "Query routed", "category", resp.Category, "hard_retrieval", resp.IsHardRetrieval,
		"document_ids", resp.DocumentIDs, "document", resp.DocumentPath)
	return resp, nil
}

func (r *Router) handleInformation(ctx context.Context, q Query, text string, category Category, status StatusReporter, resp *Response) (string, error) {
	r.post(ctx, status, r.messages.Retrieving)
	info, err := r.caps.Info.HandleInformation(ctx, InformationRequest{
		Text:    text,
		Images:  q.Images,
		UserID:  q.UserID,
		History: r.history.Get(q.UserID),
	})
	if err != nil {
		return "", capabilityErr("information agent", err)
	}
	if err := info.Validate(); err != nil {
		return "", capabilityErr("information agent", err)
	}
	r.replaceLast(ctx, status, r.messages.Retrieved)
	r.history.Append(q.UserID, Turn{Query: text, Response: info.Response})

	proposed := info.Response

	if info.IsDataDump && category != CategoryDocument {
		r.post(ctx, status, r.messages.Storing)
		if err := r.storeInformation(ctx, q, info.Response); err != nil {
			return "", err
		}
		r.replaceLast(ctx, status, r.messages.Stored)
	}

	if prompt := strings.TrimSpace(info.SetEventReminder); prompt != "" {
		scheduled, err := r.schedule(ctx, q, prompt)
		if err != nil {
			return "", err
		}
		proposed += "\n" + scheduled
	}

	if len(info.SourceDocuments) > 0 {
		r.post(ctx, status, fmt.Sprintf(r.messages.SourcedFrom, formatIDs(info.SourceDocuments)))
		resp.DocumentIDs = info.SourceDocuments
	}
	if info.IsHardRetrieval {
		r.post(ctx, status, fmt.Sprintf(r.messages.DocumentFound, formatIDs(info.SourceDocuments)))
		resp.IsHardRetrieval = true
	}

	if category == CategoryDocument {
		r.post(ctx, status, r.messages.Generating)
		path, name, err := r.generateDocument(ctx, q, text, proposed)
		if err != nil {
			return "", err
		}
		resp.DocumentPath = path
		proposed = fmt.Sprintf(r.messages.DocumentReady, name)
	}
	return proposed, nil
}

func (r *Router) schedule(ctx context.Context, q Query, text string) (string, error) {
	res, err := r.caps.Schedule.HandleSchedule(ctx, ScheduleRequest{
		UserID:    q.UserID,
		ChatID:    q.ChatID,
		MessageID: q.MessageID,
		Text:      text,
		Images:    q.Images,
	})
	if err != nil {
		return "", capabilityErr("schedule agent", err)
	}
	if err := res.Validate(); err != nil {
		return "", capabilityErr("schedule agent", err)
	}
	return res.Response, nil
}

func (r *Router) storeInformation(ctx context.Context, q Query, content string) error {
	info := &database.Information{Content: content, MessageID: q.MessageID, UserID: q.UserID}
	if err := r.records.SaveInformation(ctx, info); err != nil {
		return fmt.Errorf("failed to persist information: %w", err)
	}
	err := r.index.Add(ctx, vectorstore.CollectionInfo, vectorstore.Document{
		ID:   strconv.FormatInt(info.ID, 10),
		Text: content,
		Metadata: map[string]string{
			"user_id":    strconv.FormatInt(q.UserID, 10),
			"message_id": strconv.FormatInt(q.MessageID, 10),
			"has_img":    strconv.FormatBool(len(q.Images) > 0),
		},
	})
	if err != nil {
		return capabilityErr("index information", err)
	}
	return nil
}

func (r *Router) generateDocument(ctx context.Context, q Query, text, gathered string) (string, string, error) {
	doc, err := r.caps.Generator.GenerateDocument(ctx, text, gathered)
	if err != nil {
		return "", "", capabilityErr("document generator", err)
	}
	if err := doc.Validate(); err != nil {
		return "", "", capabilityErr("document generator", fmt.Errorf("%w: %v", ErrInvalidResult, err))
	}
	path, err := r.renderer.Render(doc)
	if err != nil {
		return "", "", fmt.Errorf("failed to render document: %w", err)
	}

	msg := &database.Message{
		Sender:  database.SenderAgent,
		UserID:  q.UserID,
		ChatID:  q.ChatID,
		Content: path,
		DocType: database.DocTypeDocument,
	}
	if err := r.records.SaveMessage(ctx, msg); err != nil {
		return "", "", fmt.Errorf("failed to persist generated document: %w", err)
	}
	r.logger.InfoContext(ctx, "Document generated", "path", path, "message_id", msg.ID)
	return path, doc.FileName, nil
}

func (r *Router) indexMessage(ctx context.Context, messageID, userID int64, sender, text string) error {
	err := r.index.Add(ctx, vectorstore.CollectionMessages, vectorstore.Document{
		ID:   strconv.FormatInt(messageID, 10),
		Text: text,
		Metadata: map[string]string{
			"user_id":    strconv.FormatInt(userID, 10),
			"message_id": strconv.FormatInt(messageID, 10),
			"sender":     sender,
		},
	})
	if err != nil {
		return capabilityErr("index message", err)
	}
	return nil
}

// post and replaceLast only log failures; a stale status message never aborts the work.
func (r *Router) post(ctx context.Context, status StatusReporter, text string) {
	if status == nil {
		return
	}
	if err := status.Post(ctx, text); err != nil {
		r.logger.WarnContext(ctx, "Failed to post status line", "error", err)
	}
}

func (r *Router) replaceLast(ctx context.Context, status StatusReporter, text string) {
	if status == nil {
		return
	}
	if err := status.ReplaceLast(ctx, text); err != nil {
		r.logger.WarnContext(ctx, "Failed to replace status line", "error", err)
	}
}

func formatIDs(ids []int64) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.FormatInt(id, 10)
	}
	return "[" + strings.Join(parts, ", ") + "]"
}
