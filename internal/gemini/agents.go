package gemini

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"google.golang.org/genai"

	"github.com/edgard/mnemobot/internal/database"
	"github.com/edgard/mnemobot/internal/router"
	"github.com/edgard/mnemobot/internal/vectorstore"
)

// Records is the part of the record store the agent tools use.
type Records interface {
	GetMessage(ctx context.Context, id int64) (*database.Message, error)
	SaveReminder(ctx context.Context, reminder *database.Reminder) error
	GetPendingReminders(ctx context.Context, userID int64) ([]database.Reminder, error)
}

// Searcher queries the similarity index.
type Searcher interface {
	Query(ctx context.Context, collection, text string, filter vectorstore.Filter, limit int) ([]vectorstore.Match, error)
}

// Agents runs the tool-using information and schedule agents.
type Agents struct {
	client  *Client
	records Records
	index   Searcher
	log     *slog.Logger
}

// NewAgents creates the agents on top of client.
func NewAgents(client *Client, records Records, index Searcher) *Agents {
	return &Agents{
		client:  client,
		records: records,
		index:   index,
		log:     client.log.With("component", "gemini_agents"),
	}
}

// HandleInformation implements router.InformationAgent. The model first works with
// the retrieval tools in text mode, then a second call structures the outcome.
func (a *Agents) HandleInformation(ctx context.Context, req router.InformationRequest) (router.InformationResult, error) {
	contents := make([]*genai.Content, 0, 2*len(req.History)+2)
	for _, turn := range req.History {
		contents = append(contents,
			genai.NewContentFromText(turn.Query, genai.RoleUser),
			genai.NewContentFromText(turn.Response, genai.RoleModel),
		)
	}
	contents = append(contents, userContent(req.Text, req.Images))

	tools := a.informationTools(toolScope{userID: req.UserID})
	instruction := fmt.Sprintf(InformationInstruction, a.client.currentTime())
	contents, _, err := a.client.runTools(ctx, instruction, contents, tools)
	if err != nil {
		return router.InformationResult{}, fmt.Errorf("information agent failed: %w", err)
	}

	contents = append(contents, genai.NewContentFromText(InformationResultInstruction, genai.RoleUser))
	var out struct {
		Response         string  `json:"response"`
		IsDataDump       bool    `json:"is_data_dump"`
		SetEventReminder string  `json:"set_event_reminder"`
		SourceDocuments  []int64 `json:"source_documents"`
		IsHardRetrieval  bool    `json:"is_hard_retrieval"`
	}
	if err := a.client.generateJSON(ctx, instruction, contents, informationSchema, &out); err != nil {
		return router.InformationResult{}, fmt.Errorf("information agent failed: %w", err)
	}

	res := router.InformationResult{
		Response:         out.Response,
		IsDataDump:       out.IsDataDump,
		SetEventReminder: out.SetEventReminder,
		SourceDocuments:  out.SourceDocuments,
		IsHardRetrieval:  out.IsHardRetrieval,
	}
	a.log.DebugContext(ctx, "Information agent finished", "user_id", req.UserID, "data_dump", res.IsDataDump,
		"sources", res.SourceDocuments, "hard_retrieval", res.IsHardRetrieval)
	return res, res.Validate()
}

// HandleSchedule implements router.ScheduleAgent. The final text of the tool loop is the response.
func (a *Agents) HandleSchedule(ctx context.Context, req router.ScheduleRequest) (router.ScheduleResult, error) {
	tools := a.scheduleTools(toolScope{userID: req.UserID, chatID: req.ChatID, messageID: req.MessageID})
	instruction := fmt.Sprintf(ScheduleInstruction, a.client.currentTime())

	_, text, err := a.client.runTools(ctx, instruction, []*genai.Content{userContent(req.Text, req.Images)}, tools)
	if err != nil {
		return router.ScheduleResult{}, fmt.Errorf("schedule agent failed: %w", err)
	}
	res := router.ScheduleResult{Response: strings.TrimSpace(text)}
	return res, res.Validate()
}

// runTools alternates model turns and tool executions until the model answers in text.
// It returns the conversation including the final model turn.
func (c *Client) runTools(ctx context.Context, instruction string, contents []*genai.Content, tools toolset) ([]*genai.Content, string, error) {
	cfg := c.configFor(instruction)
	cfg.Tools = []*genai.Tool{{FunctionDeclarations: tools.declarations()}}

	for step := 0; step < c.maxToolSteps; step++ {
		resp, err := c.generateContentWithRetries(ctx, contents, cfg)
		if err != nil {
			return nil, "", err
		}

		calls := resp.FunctionCalls()
		if len(calls) == 0 {
			text, err := c.extractTextFromResponse(ctx, resp)
			if err != nil {
				return nil, "", err
			}
			return append(contents, resp.Candidates[0].Content), text, nil
		}

		if len(resp.Candidates) > 0 && resp.Candidates[0].Content != nil {
			contents = append(contents, resp.Candidates[0].Content)
		}
		parts := make([]*genai.Part, 0, len(calls))
		for _, call := range calls {
			result := tools.call(ctx, c.log, call)
			part := genai.NewPartFromFunctionResponse(call.Name, result)
			part.FunctionResponse.ID = call.ID
			parts = append(parts, part)
		}
		contents = append(contents, genai.NewContentFromParts(parts, genai.RoleUser))
	}
	return nil, "", fmt.Errorf("no answer after %d tool steps", c.maxToolSteps)
}
