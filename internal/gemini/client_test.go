package gemini

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"google.golang.org/genai"

	"github.com/edgard/mnemobot/internal/config"
	"github.com/edgard/mnemobot/internal/database"
	"github.com/edgard/mnemobot/internal/router"
	"github.com/edgard/mnemobot/internal/vectorstore"
)

type fakeResult struct {
	resp *genai.GenerateContentResponse
	err  error
}

type fakeCall struct {
	contents []*genai.Content
	cfg      *genai.GenerateContentConfig
}

type fakeModels struct {
	mu        sync.Mutex
	results   []fakeResult
	calls     []fakeCall
	embedding []float32
	embedErr  error
}

func (f *fakeModels) GenerateContent(_ context.Context, _ string, contents []*genai.Content, cfg *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, fakeCall{contents: append([]*genai.Content(nil), contents...), cfg: cfg})
	if len(f.results) == 0 {
		return nil, errors.New("no scripted response")
	}
	r := f.results[0]
	f.results = f.results[1:]
	return r.resp, r.err
}

func (f *fakeModels) EmbedContent(_ context.Context, _ string, _ []*genai.Content, _ *genai.EmbedContentConfig) (*genai.EmbedContentResponse, error) {
	if f.embedErr != nil {
		return nil, f.embedErr
	}
	return &genai.EmbedContentResponse{Embeddings: []*genai.ContentEmbedding{{Values: f.embedding}}}, nil
}

func textResp(s string) fakeResult {
	return fakeResult{resp: &genai.GenerateContentResponse{Candidates: []*genai.Candidate{{
		Content:      genai.NewContentFromText(s, genai.RoleModel),
		FinishReason: genai.FinishReasonStop,
	}}}}
}

func callResp(name string, args map[string]any) fakeResult {
	return fakeResult{resp: &genai.GenerateContentResponse{Candidates: []*genai.Candidate{{
		Content: genai.NewContentFromParts([]*genai.Part{{FunctionCall: &genai.FunctionCall{ID: "call-1", Name: name, Args: args}}}, genai.RoleModel),
	}}}}
}

var fixedNow = time.Date(2025, 3, 10, 14, 0, 0, 0, time.UTC)

func newTestClient(m *fakeModels) *Client {
	c := newClient(m, config.GeminiConfig{
		Model:          "test-model",
		EmbeddingModel: "test-embedding",
		MaxRetries:     2,
		MaxToolSteps:   3,
	}, time.UTC, nil)
	c.now = func() time.Time { return fixedNow }
	return c
}

type fakeRecords struct {
	mu        sync.Mutex
	reminders []database.Reminder
	messages  map[int64]*database.Message
}

func (f *fakeRecords) GetMessage(_ context.Context, id int64) (*database.Message, error) {
	if m, ok := f.messages[id]; ok {
		return m, nil
	}
	return nil, database.ErrNotFound
}

func (f *fakeRecords) SaveReminder(_ context.Context, r *database.Reminder) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	r.ID = int64(len(f.reminders) + 1)
	r.Status = database.ReminderPending
	f.reminders = append(f.reminders, *r)
	return nil
}

func (f *fakeRecords) GetPendingReminders(_ context.Context, userID int64) ([]database.Reminder, error) {
	var out []database.Reminder
	for _, r := range f.reminders {
		if r.UserID == userID {
			out = append(out, r)
		}
	}
	return out, nil
}

type fakeSearcher struct {
	collection string
	filter     vectorstore.Filter
	matches    []vectorstore.Match
}

func (f *fakeSearcher) Query(_ context.Context, collection, _ string, filter vectorstore.Filter, _ int) ([]vectorstore.Match, error) {
	f.collection, f.filter = collection, filter
	return f.matches, nil
}

func TestClassify(t *testing.T) {
	t.Parallel()

	m := &fakeModels{results: []fakeResult{textResp(`{"category":"SCHEDULE"}`)}}
	c := newTestClient(m)

	got, err := c.Classify(context.Background(), "Remind me to call Sam at 5pm", nil)
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if got.Category != router.CategorySchedule {
		t.Errorf("category = %s", got.Category)
	}
	cfg := m.calls[0].cfg
	if cfg.ResponseMIMEType != "application/json" || cfg.ResponseSchema != classificationSchema {
		t.Errorf("classification must use JSON schema mode, got %q", cfg.ResponseMIMEType)
	}
	if len(cfg.Tools) != 0 {
		t.Error("classification must not offer tools")
	}
}

func TestClassifyRejectsUnknownCategory(t *testing.T) {
	t.Parallel()

	c := newTestClient(&fakeModels{results: []fakeResult{textResp(`{"category":"SMALLTALK"}`)}})
	if _, err := c.Classify(context.Background(), "hi", nil); !errors.Is(err, router.ErrInvalidResult) {
		t.Fatalf("err = %v, want ErrInvalidResult", err)
	}
}

func TestRetries(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		results   []fakeResult
		wantErr   bool
		wantCalls int
	}{
		{"503 then success", []fakeResult{{err: &genai.APIError{Code: 503}}, textResp("ok")}, false, 2},
		{"500 exhausts retries", []fakeResult{{err: &genai.APIError{Code: 500}}, {err: &genai.APIError{Code: 500}}, {err: &genai.APIError{Code: 500}}}, true, 3},
		{"400 is not retried", []fakeResult{{err: &genai.APIError{Code: 400}}, textResp("ok")}, true, 1},
		{"plain error is not retried", []fakeResult{{err: errors.New("dial tcp: refused")}, textResp("ok")}, true, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			m := &fakeModels{results: tt.results}
			c := newTestClient(m)
			_, err := c.AnalyzeAttachments(context.Background(), []router.Image{{Data: []byte{1}, MIMEType: "image/jpeg"}})
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if len(m.calls) != tt.wantCalls {
				t.Errorf("calls = %d, want %d", len(m.calls), tt.wantCalls)
			}
		})
	}
}

func TestBlockedPrompt(t *testing.T) {
	t.Parallel()

	m := &fakeModels{results: []fakeResult{{resp: &genai.GenerateContentResponse{
		PromptFeedback: &genai.GenerateContentResponsePromptFeedback{BlockReason: genai.BlockedReasonSafety},
	}}}}
	c := newTestClient(m)
	_, err := c.Transcribe(context.Background(), []byte{1, 2}, "audio/ogg")
	if err == nil || !strings.Contains(err.Error(), "blocked") {
		t.Fatalf("err = %v, want blocked", err)
	}
}

func TestScheduleAgentBindsRequestIDs(t *testing.T) {
	t.Parallel()

	m := &fakeModels{results: []fakeResult{
		callResp("insert_reminder", map[string]any{"reminder_text": "call Sam", "remind_at": "2025-03-10T17:00:00+02:00"}),
		textResp("I'll remind you to call Sam at 17:00."),
	}}
	records := &fakeRecords{}
	agents := NewAgents(newTestClient(m), records, &fakeSearcher{})

	res, err := agents.HandleSchedule(context.Background(), router.ScheduleRequest{UserID: 7, ChatID: 70, MessageID: 700, Text: "Remind me to call Sam at 5pm"})
	if err != nil {
		t.Fatalf("HandleSchedule: %v", err)
	}
	if !strings.Contains(res.Response, "call Sam") {
		t.Errorf("response = %q", res.Response)
	}
	if len(records.reminders) != 1 {
		t.Fatalf("reminders = %d, want 1", len(records.reminders))
	}
	r := records.reminders[0]
	if r.UserID != 7 || r.ChatID != 70 || !r.MessageID.Valid || r.MessageID.Int64 != 700 {
		t.Errorf("reminder ids = %+v", r)
	}
	if want := time.Date(2025, 3, 10, 15, 0, 0, 0, time.UTC); !r.RemindAt.Equal(want) || r.RemindAt.Location() != time.UTC {
		t.Errorf("remind_at = %v, want %v UTC", r.RemindAt, want)
	}

	second := m.calls[1].contents
	last := second[len(second)-1]
	if len(last.Parts) != 1 || last.Parts[0].FunctionResponse == nil || last.Parts[0].FunctionResponse.ID != "call-1" {
		t.Fatalf("second call must carry the function response, got %+v", last)
	}
	if _, ok := last.Parts[0].FunctionResponse.Response["reminder_id"]; !ok {
		t.Errorf("function response = %+v", last.Parts[0].FunctionResponse.Response)
	}
}

func TestScheduleAgentRejectsPastTimes(t *testing.T) {
	t.Parallel()

	m := &fakeModels{results: []fakeResult{
		callResp("insert_reminder", map[string]any{"reminder_text": "x", "remind_at": "2020-01-01T00:00:00Z"}),
		textResp("That time has already passed."),
	}}
	records := &fakeRecords{}
	agents := NewAgents(newTestClient(m), records, &fakeSearcher{})

	if _, err := agents.HandleSchedule(context.Background(), router.ScheduleRequest{UserID: 1, ChatID: 1, Text: "remind me yesterday"}); err != nil {
		t.Fatalf("HandleSchedule: %v", err)
	}
	if len(records.reminders) != 0 {
		t.Error("reminder in the past must not be stored")
	}
	resp := m.calls[1].contents[len(m.calls[1].contents)-1].Parts[0].FunctionResponse.Response
	if _, ok := resp["error"]; !ok {
		t.Errorf("tool error must be reported to the model, got %+v", resp)
	}
}

func TestInformationAgent(t *testing.T) {
	t.Parallel()

	m := &fakeModels{results: []fakeResult{
		callResp("retrieve_relevant_info", map[string]any{"query": "passport number"}),
		textResp("Your passport number is X123."),
		textResp(`{"response":"Your passport number is X123.","is_data_dump":false,"set_event_reminder":"","source_documents":[4],"is_hard_retrieval":false}`),
	}}
	search := &fakeSearcher{matches: []vectorstore.Match{{ID: "1", Text: "passport X123", Metadata: map[string]string{"message_id": "4"}}}}
	agents := NewAgents(newTestClient(m), &fakeRecords{}, search)

	res, err := agents.HandleInformation(context.Background(), router.InformationRequest{
		Text:    "What is my passport number?",
		UserID:  9,
		History: []router.Turn{{Query: "hi", Response: "hello"}},
	})
	if err != nil {
		t.Fatalf("HandleInformation: %v", err)
	}
	if res.Response != "Your passport number is X123." || len(res.SourceDocuments) != 1 || res.SourceDocuments[0] != 4 {
		t.Errorf("result = %+v", res)
	}
	if search.collection != vectorstore.CollectionInfo || search.filter["user_id"] != "9" {
		t.Errorf("search = %s %v", search.collection, search.filter)
	}

	if len(m.calls) != 3 {
		t.Fatalf("calls = %d, want 3", len(m.calls))
	}
	if len(m.calls[0].cfg.Tools) != 1 || m.calls[0].cfg.ResponseMIMEType != "" {
		t.Error("tool phase must offer tools in text mode")
	}
	final := m.calls[2].cfg
	if len(final.Tools) != 0 || final.ResponseSchema != informationSchema {
		t.Error("structuring phase must use the schema without tools")
	}
	if got := len(m.calls[0].contents); got != 3 {
		t.Errorf("first call contents = %d, want history pair plus query", got)
	}
}

func TestToolLoopLimit(t *testing.T) {
	t.Parallel()

	call := callResp("get_pending_reminders", nil)
	m := &fakeModels{results: []fakeResult{call, call, call, call}}
	agents := NewAgents(newTestClient(m), &fakeRecords{}, &fakeSearcher{})

	_, err := agents.HandleSchedule(context.Background(), router.ScheduleRequest{UserID: 1, Text: "list"})
	if err == nil || !strings.Contains(err.Error(), "3 tool steps") {
		t.Fatalf("err = %v", err)
	}
}

func TestPolish(t *testing.T) {
	t.Parallel()

	m := &fakeModels{results: []fakeResult{textResp(`{"response":"Here is your receipt.","document_ids":[4,9],"is_hard_retrieval":true}`)}}
	c := newTestClient(m)

	res, err := c.Polish(context.Background(), router.PolishRequest{
		Query: "send me the receipt", ProposedAnswer: "found it", Category: router.CategoryInformation,
		IsHardRetrieval: true, DocumentIDs: []int64{4, 9},
	})
	if err != nil {
		t.Fatalf("Polish: %v", err)
	}
	if !res.IsHardRetrieval || len(res.DocumentIDs) != 2 {
		t.Errorf("result = %+v", res)
	}
	prompt := m.calls[0].contents[0].Parts[0].Text
	if !strings.Contains(prompt, "Category: INFORMATION") || !strings.Contains(prompt, "[4 9]") {
		t.Errorf("prompt = %q", prompt)
	}
}

func TestGenerateDocumentValidates(t *testing.T) {
	t.Parallel()

	m := &fakeModels{results: []fakeResult{textResp(`{"file_name":"","title":"t","sections":[],"custom_css":""}`)}}
	if _, err := newTestClient(m).GenerateDocument(context.Background(), "q", "ctx"); !errors.Is(err, router.ErrInvalidResult) {
		t.Fatalf("err = %v, want ErrInvalidResult", err)
	}
}

func TestEmbed(t *testing.T) {
	t.Parallel()

	c := newTestClient(&fakeModels{embedding: []float32{0.1, 0.2}})
	v, err := c.Embed(context.Background(), "hello")
	if err != nil || len(v) != 2 {
		t.Fatalf("Embed = %v, %v", v, err)
	}

	c = newTestClient(&fakeModels{})
	if _, err := c.Embed(context.Background(), "hello"); err == nil {
		t.Fatal("empty embedding must fail")
	}
}

func TestIntArg(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      any
		want    int64
		wantErr bool
	}{
		{float64(12), 12, false},
		{"34", 34, false},
		{float64(1.5), 0, true},
		{"abc", 0, true},
		{nil, 0, true},
	}
	for _, tt := range tests {
		got, err := intArg(map[string]any{"id": tt.in}, "id")
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("intArg(%v) = %d, %v", tt.in, got, err)
		}
	}
}
