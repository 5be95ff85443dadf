package gemini

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"time"

	"google.golang.org/genai"

	"github.com/edgard/mnemobot/internal/database"
	"github.com/edgard/mnemobot/internal/vectorstore"
)

const retrievalLimit = 10

// toolScope binds the identifiers of the request a tool runs for. The model never supplies them.
type toolScope struct {
	userID    int64
	chatID    int64
	messageID int64
}

type tool struct {
	decl *genai.FunctionDeclaration
	run  func(ctx context.Context, args map[string]any) (map[string]any, error)
}

type toolset []tool

func (ts toolset) declarations() []*genai.FunctionDeclaration {
	decls := make([]*genai.FunctionDeclaration, len(ts))
	for i, t := range ts {
		decls[i] = t.decl
	}
	return decls
}

// call runs the tool named by fc. Failures are reported back to the model, not to the caller.
func (ts toolset) call(ctx context.Context, log *slog.Logger, fc *genai.FunctionCall) map[string]any {
	for _, t := range ts {
		if t.decl.Name != fc.Name {
			continue
		}
		out, err := t.run(ctx, fc.Args)
		if err != nil {
			log.WarnContext(ctx, "Tool call failed", "tool", fc.Name, "error", err)
			return map[string]any{"error": err.Error()}
		}
		log.DebugContext(ctx, "Tool call succeeded", "tool", fc.Name)
		return out
	}
	log.WarnContext(ctx, "Model called unknown tool", "tool", fc.Name)
	return map[string]any{"error": fmt.Sprintf("unknown tool %q", fc.Name)}
}

func (a *Agents) informationTools(scope toolScope) toolset {
	return toolset{
		{
			decl: &genai.FunctionDeclaration{
				Name:        "retrieve_relevant_info",
				Description: "Search the information the user stored before. Returns the closest entries with the id of the message they came from.",
				Parameters:  queryParams("What to look for."),
			},
			run: func(ctx context.Context, args map[string]any) (map[string]any, error) {
				return a.search(ctx, vectorstore.CollectionInfo, args, vectorstore.Filter{
					"user_id": strconv.FormatInt(scope.userID, 10),
				})
			},
		},
		{
			decl: &genai.FunctionDeclaration{
				Name:        "retrieve_relevant_messages",
				Description: "Search the past messages of the user, including captions and summaries of files, photos and voice notes.",
				Parameters:  queryParams("What to look for."),
			},
			run: func(ctx context.Context, args map[string]any) (map[string]any, error) {
				return a.search(ctx, vectorstore.CollectionMessages, args, vectorstore.Filter{
					"user_id": strconv.FormatInt(scope.userID, 10),
					"sender":  database.SenderUser,
				})
			},
		},
		a.pendingRemindersTool(scope),
		{
			decl: &genai.FunctionDeclaration{
				Name:        "get_message_by_id",
				Description: "Fetch one message of the user by id, including whether it carries a file.",
				Parameters: &genai.Schema{
					Type: genai.TypeObject,
					Properties: map[string]*genai.Schema{
						"message_id": {Type: genai.TypeInteger, Description: "The message id."},
					},
					Required: []string{"message_id"},
				},
			},
			run: func(ctx context.Context, args map[string]any) (map[string]any, error) {
				id, err := intArg(args, "message_id")
				if err != nil {
					return nil, err
				}
				msg, err := a.records.GetMessage(ctx, id)
				if errors.Is(err, database.ErrNotFound) || (err == nil && msg.UserID != scope.userID) {
					return nil, fmt.Errorf("message %d not found", id)
				}
				if err != nil {
					return nil, err
				}
				return map[string]any{
					"message_id":  msg.ID,
					"sender":      msg.Sender,
					"content":     msg.Content,
					"doc_type":    msg.DocType,
					"has_file":    msg.FileID != "",
					"attachments": len(msg.Attachments),
					"created_at":  msg.CreatedAt.In(a.client.loc).Format(time.RFC3339),
				}, nil
			},
		},
	}
}

func (a *Agents) scheduleTools(scope toolScope) toolset {
	return toolset{
		{
			decl: &genai.FunctionDeclaration{
				Name:        "insert_reminder",
				Description: "Create a reminder for the user.",
				Parameters: &genai.Schema{
					Type: genai.TypeObject,
					Properties: map[string]*genai.Schema{
						"reminder_text": {Type: genai.TypeString, Description: "What to remind the user of."},
						"remind_at":     {Type: genai.TypeString, Description: "When to send the reminder, RFC 3339 with offset."},
					},
					Required: []string{"reminder_text", "remind_at"},
				},
			},
			run: func(ctx context.Context, args map[string]any) (map[string]any, error) {
				text, err := stringArg(args, "reminder_text")
				if err != nil {
					return nil, err
				}
				raw, err := stringArg(args, "remind_at")
				if err != nil {
					return nil, err
				}
				at, err := time.Parse(time.RFC3339, raw)
				if err != nil {
					return nil, fmt.Errorf("remind_at must be RFC 3339: %w", err)
				}
				if at.Before(a.client.now().Truncate(time.Minute)) {
					return nil, fmt.Errorf("remind_at %s is in the past", raw)
				}

				r := &database.Reminder{
					UserID:       scope.userID,
					ChatID:       scope.chatID,
					ReminderText: text,
					RemindAt:     at.UTC().Truncate(time.Minute),
				}
				if scope.messageID > 0 {
					r.MessageID.Int64, r.MessageID.Valid = scope.messageID, true
				}
				if err := a.records.SaveReminder(ctx, r); err != nil {
					return nil, err
				}
				a.log.InfoContext(ctx, "Reminder created", "reminder_id", r.ID, "user_id", scope.userID, "remind_at", r.RemindAt)
				return map[string]any{
					"reminder_id": r.ID,
					"remind_at":   r.RemindAt.In(a.client.loc).Format(time.RFC3339),
				}, nil
			},
		},
		a.pendingRemindersTool(scope),
	}
}

func (a *Agents) pendingRemindersTool(scope toolScope) tool {
	return tool{
		decl: &genai.FunctionDeclaration{
			Name:        "get_pending_reminders",
			Description: "List the reminders of the user that have not been sent yet.",
		},
		run: func(ctx context.Context, _ map[string]any) (map[string]any, error) {
			rs, err := a.records.GetPendingReminders(ctx, scope.userID)
			if err != nil {
				return nil, err
			}
			items := make([]map[string]any, len(rs))
			for i, r := range rs {
				items[i] = map[string]any{
					"reminder_id":   r.ID,
					"reminder_text": r.ReminderText,
					"remind_at":     r.RemindAt.In(a.client.loc).Format(time.RFC3339),
				}
			}
			return map[string]any{"reminders": items}, nil
		},
	}
}

func (a *Agents) search(ctx context.Context, collection string, args map[string]any, filter vectorstore.Filter) (map[string]any, error) {
	query, err := stringArg(args, "query")
	if err != nil {
		return nil, err
	}
	matches, err := a.index.Query(ctx, collection, query, filter, retrievalLimit)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, len(matches))
	for i, m := range matches {
		items[i] = map[string]any{
			"message_id": m.Metadata["message_id"],
			"content":    m.Text,
			"distance":   m.Distance,
		}
		if hasImg, ok := m.Metadata["has_img"]; ok {
			items[i]["has_img"] = hasImg
		}
	}
	return map[string]any{"matches": items}, nil
}

func queryParams(desc string) *genai.Schema {
	return &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"query": {Type: genai.TypeString, Description: desc},
		},
		Required: []string{"query"},
	}
}

func stringArg(args map[string]any, key string) (string, error) {
	s, ok := args[key].(string)
	if !ok || strings.TrimSpace(s) == "" {
		return "", fmt.Errorf("missing string argument %q", key)
	}
	return s, nil
}

// intArg accepts JSON numbers and numeric strings.
func intArg(args map[string]any, key string) (int64, error) {
	switch v := args[key].(type) {
	case float64:
		if v != math.Trunc(v) {
			return 0, fmt.Errorf("argument %q must be an integer", key)
		}
		return int64(v), nil
	case int64:
		return v, nil
	case int:
		return int64(v), nil
	case string:
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("argument %q must be an integer", key)
		}
		return n, nil
	default:
		return 0, fmt.Errorf("missing integer argument %q", key)
	}
}
