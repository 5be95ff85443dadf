package router

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/edgard/mnemobot/internal/database"
	"github.com/edgard/mnemobot/internal/document"
	"github.com/edgard/mnemobot/internal/vectorstore"
)

type fakeCaps struct {
	mu sync.Mutex

	category    Category
	classifyErr error
	summary     string
	info        InformationResult
	schedule    ScheduleResult
	doc         document.Document

	analyzed     int
	infoCalls    []InformationRequest
	scheduleReqs []ScheduleRequest
	polishReqs   []PolishRequest
	generated    int
}

func (f *fakeCaps) Classify(_ context.Context, _ string, _ []Image) (Classification, error) {
	return Classification{Category: f.category}, f.classifyErr
}

func (f *fakeCaps) AnalyzeAttachments(_ context.Context, _ []Image) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.analyzed++
	return f.summary, nil
}

func (f *fakeCaps) HandleInformation(_ context.Context, req InformationRequest) (InformationResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.infoCalls = append(f.infoCalls, req)
	return f.info, nil
}

func (f *fakeCaps) HandleSchedule(_ context.Context, req ScheduleRequest) (ScheduleResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scheduleReqs = append(f.scheduleReqs, req)
	return f.schedule, nil
}

func (f *fakeCaps) Polish(_ context.Context, req PolishRequest) (PolishResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.polishReqs = append(f.polishReqs, req)
	return PolishResult{Response: "Polished: " + req.ProposedAnswer, DocumentIDs: req.DocumentIDs, IsHardRetrieval: req.IsHardRetrieval}, nil
}

func (f *fakeCaps) GenerateDocument(_ context.Context, _, _ string) (document.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.generated++
	return f.doc, nil
}

type fakeRecords struct {
	mu       sync.Mutex
	nextID   int64
	messages []database.Message
	infos    []database.Information
}

func (f *fakeRecords) SaveMessage(_ context.Context, m *database.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	m.ID = f.nextID
	f.messages = append(f.messages, *m)
	return nil
}

func (f *fakeRecords) SaveInformation(_ context.Context, info *database.Information) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	info.ID = f.nextID
	f.infos = append(f.infos, *info)
	return nil
}

type fakeIndex struct {
	mu   sync.Mutex
	adds map[string][]vectorstore.Document
}

func (f *fakeIndex) Add(_ context.Context, collection string, doc vectorstore.Document) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.adds == nil {
		f.adds = map[string][]vectorstore.Document{}
	}
	f.adds[collection] = append(f.adds[collection], doc)
	return nil
}

func (f *fakeIndex) count(collection string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.adds[collection])
}

type fakeRenderer struct{ rendered []document.Document }

func (f *fakeRenderer) Render(doc document.Document) (string, error) {
	f.rendered = append(f.rendered, doc)
	return "/tmp/docs/" + doc.FileName + ".html", nil
}

type fakeStatus struct {
	mu    sync.Mutex
	lines []string
}

func (f *fakeStatus) Post(_ context.Context, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lines = append(f.lines, text)
	return nil
}

func (f *fakeStatus) ReplaceLast(_ context.Context, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.lines) == 0 {
		return errors.New("no lines")
	}
	f.lines[len(f.lines)-1] = text
	return nil
}

type fixture struct {
	caps     *fakeCaps
	records  *fakeRecords
	index    *fakeIndex
	renderer *fakeRenderer
	status   *fakeStatus
	router   *Router
}

func newFixture(t *testing.T, caps *fakeCaps) *fixture {
	t.Helper()
	f := &fixture{
		caps:     caps,
		records:  &fakeRecords{},
		index:    &fakeIndex{},
		renderer: &fakeRenderer{},
		status:   &fakeStatus{},
	}
	r, err := New(Config{
		Capabilities: Capabilities{
			Classifier: caps, Analyzer: caps, Info: caps, Schedule: caps, Polisher: caps, Generator: caps,
		},
		Records:  f.records,
		Index:    f.index,
		Renderer: f.renderer,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	f.router = r
	return f
}

func TestScheduleScenario(t *testing.T) {
	t.Parallel()

	f := newFixture(t, &fakeCaps{
		category: CategorySchedule,
		schedule: ScheduleResult{Response: "Reminder set: call Sam at 17:00."},
	})

	resp, err := f.router.Route(context.Background(), Query{Text: "Remind me to call Sam at 5pm", UserID: 1, ChatID: 1, MessageID: 10}, f.status)
	if err != nil {
		t.Fatalf("Route: %v", err)
	}
	if resp.Category != CategorySchedule || !resp.Rendered {
		t.Fatalf("unexpected response %+v", resp)
	}
	if !strings.Contains(resp.Text, "Reminder set: call Sam at 17:00.") {
		t.Errorf("confirmation missing from %q", resp.Text)
	}
	if len(f.caps.scheduleReqs) != 1 || f.caps.scheduleReqs[0].MessageID != 10 {
		t.Errorf("schedule requests = %+v", f.caps.scheduleReqs)
	}
	if len(f.records.infos) != 0 || f.index.count(vectorstore.CollectionInfo) != 0 {
		t.Error("schedule must not write information")
	}
	if len(f.caps.infoCalls) != 0 {
		t.Error("schedule must not call the information agent")
	}
}

func TestOtherUsesFallbackVerbatim(t *testing.T) {
	t.Parallel()

	f := newFixture(t, &fakeCaps{category: CategoryOther})
	if _, err := f.router.Route(context.Background(), Query{Text: "asdf", UserID: 1, ChatID: 1, MessageID: 1}, f.status); err != nil {
		t.Fatalf("Route: %v", err)
	}
	if len(f.caps.polishReqs) != 1 {
		t.Fatalf("polish calls = %d", len(f.caps.polishReqs))
	}
	if got := f.caps.polishReqs[0].ProposedAnswer; got != "I'm sorry, but I couldn't understand your request." {
		t.Errorf("proposed answer = %q", got)
	}
}

func TestDataDumpWrites(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		category  Category
		dataDump  bool
		wantInfos int
	}{
		{"data dump stored", CategoryInformation, true, 1},
		{"question not stored", CategoryInformation, false, 0},
		{"generation request not stored", CategoryDocument, true, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			f := newFixture(t, &fakeCaps{
				category: tt.category,
				info:     InformationResult{Response: "Saved your wifi password.", IsDataDump: tt.dataDump},
				doc:      document.Document{FileName: "essay", Sections: []document.Section{{Body: "x"}}},
			})
			_, err := f.router.Route(context.Background(), Query{Text: "wifi is hunter2", UserID: 3, ChatID: 3, MessageID: 7}, f.status)
			if err != nil {
				t.Fatalf("Route: %v", err)
			}
			if len(f.records.infos) != tt.wantInfos {
				t.Errorf("info inserts = %d, want %d", len(f.records.infos), tt.wantInfos)
			}
			if got := f.index.count(vectorstore.CollectionInfo); got != tt.wantInfos {
				t.Errorf("info index adds = %d, want %d", got, tt.wantInfos)
			}
			if tt.wantInfos == 1 {
				if f.records.infos[0].MessageID != 7 || f.records.infos[0].UserID != 3 {
					t.Errorf("info = %+v", f.records.infos[0])
				}
				if got := f.status.lines; len(got) != 2 || got[1] != "✅ Information database updated" {
					t.Errorf("status lines = %q", got)
				}
			}
		})
	}
}

func TestEventReminderAppendsScheduleResponse(t *testing.T) {
	t.Parallel()

	f := newFixture(t, &fakeCaps{
		category: CategoryInformation,
		info:     InformationResult{Response: "Stored the invite.", IsDataDump: true, SetEventReminder: "party on friday 8pm"},
		schedule: ScheduleResult{Response: "Reminder set for Friday."},
	})
	if _, err := f.router.Route(context.Background(), Query{Text: "party invite", UserID: 1, ChatID: 1, MessageID: 1}, f.status); err != nil {
		t.Fatalf("Route: %v", err)
	}
	if len(f.caps.scheduleReqs) != 1 || f.caps.scheduleReqs[0].Text != "party on friday 8pm" {
		t.Fatalf("schedule requests = %+v", f.caps.scheduleReqs)
	}
	proposed := f.caps.polishReqs[0].ProposedAnswer
	if !strings.HasPrefix(proposed, "Stored the invite.") || !strings.HasSuffix(proposed, "Reminder set for Friday.") {
		t.Errorf("proposed answer = %q", proposed)
	}
}

func TestHardRetrieval(t *testing.T) {
	t.Parallel()

	f := newFixture(t, &fakeCaps{
		category: CategoryInformation,
		info:     InformationResult{Response: "Here is your passport scan.", SourceDocuments: []int64{4, 9}, IsHardRetrieval: true},
	})
	resp, err := f.router.Route(context.Background(), Query{Text: "send me my passport", UserID: 1, ChatID: 1, MessageID: 12}, f.status)
	if err != nil {
		t.Fatalf("Route: %v", err)
	}
	if !resp.IsHardRetrieval || len(resp.DocumentIDs) != 2 {
		t.Fatalf("response = %+v", resp)
	}
	req := f.caps.polishReqs[0]
	if !req.IsHardRetrieval || len(req.DocumentIDs) != 2 {
		t.Errorf("polish request = %+v", req)
	}
	want := []string{
		"✅ Analyzing and retrieving relevant information...",
		"🔶 Information sourced from message ids: [4, 9]",
		"🔶 Document found from message ids: [4, 9]",
	}
	if strings.Join(f.status.lines, "\n") != strings.Join(want, "\n") {
		t.Errorf("status lines = %q", f.status.lines)
	}
}

func TestDocumentGeneration(t *testing.T) {
	t.Parallel()

	f := newFixture(t, &fakeCaps{
		category: CategoryDocument,
		info:     InformationResult{Response: "notes on thermodynamics"},
		doc:      document.Document{FileName: "thermo", Sections: []document.Section{{Heading: "Laws", Body: "..."}}},
	})
	resp, err := f.router.Route(context.Background(), Query{Text: "write my thermo assignment", UserID: 1, ChatID: 2, MessageID: 3}, f.status)
	if err != nil {
		t.Fatalf("Route: %v", err)
	}
	if resp.DocumentPath != "/tmp/docs/thermo.html" {
		t.Errorf("document path = %q", resp.DocumentPath)
	}
	if got := f.caps.polishReqs[0].ProposedAnswer; got != "The document has been generated with file name: thermo" {
		t.Errorf("proposed answer = %q", got)
	}
	var docs int
	for _, m := range f.records.messages {
		if m.DocType == database.DocTypeDocument && m.Sender == database.SenderAgent {
			docs++
		}
	}
	if docs != 1 {
		t.Errorf("persisted documents = %d, want 1", docs)
	}
}

func TestGroupedFollowerStopsBeforeRendering(t *testing.T) {
	t.Parallel()

	f := newFixture(t, &fakeCaps{
		category: CategoryInformation,
		summary:  "a grocery receipt",
		info:     InformationResult{Response: "Stored receipt.", IsDataDump: true},
	})
	resp, err := f.router.Route(context.Background(), Query{
		Images:    []Image{{Data: []byte{1}, MIMEType: "image/jpeg"}},
		UserID:    1,
		ChatID:    1,
		MessageID: 2,
		Grouped:   true,
	}, f.status)
	if err != nil {
		t.Fatalf("Route: %v", err)
	}
	if resp.Rendered || resp.Text != "" {
		t.Errorf("grouped follower produced a reply: %+v", resp)
	}
	if len(f.caps.polishReqs) != 0 {
		t.Error("grouped follower must not polish")
	}
	if len(f.records.infos) != 1 {
		t.Error("grouped follower must still run side effects")
	}
	for _, m := range f.records.messages {
		if m.Sender == database.SenderAgent {
			t.Error("grouped follower must not persist an agent reply")
		}
	}
}

func TestImagesOnlyAreAnalyzed(t *testing.T) {
	t.Parallel()

	f := newFixture(t, &fakeCaps{category: CategoryOther, summary: "a photo of a parking ticket"})
	_, err := f.router.Route(context.Background(), Query{Images: []Image{{Data: []byte{1}}}, UserID: 1, ChatID: 1, MessageID: 1}, f.status)
	if err != nil {
		t.Fatalf("Route: %v", err)
	}
	if f.caps.analyzed != 1 {
		t.Fatalf("analyzer calls = %d", f.caps.analyzed)
	}
	if got := f.caps.polishReqs[0].Query; got != "a photo of a parking ticket" {
		t.Errorf("polish query = %q", got)
	}
	if docs := f.index.adds[vectorstore.CollectionMessages]; len(docs) != 2 || docs[0].Text != "a photo of a parking ticket" || docs[1].Metadata["sender"] != database.SenderAgent {
		t.Errorf("message index = %+v", docs)
	}
}

func TestUnsupportedInput(t *testing.T) {
	t.Parallel()

	f := newFixture(t, &fakeCaps{category: CategoryOther})
	if _, err := f.router.Route(context.Background(), Query{Text: "  "}, f.status); !errors.Is(err, ErrUnsupportedInput) {
		t.Fatalf("err = %v, want ErrUnsupportedInput", err)
	}
}

func TestCapabilityErrors(t *testing.T) {
	t.Parallel()

	boom := errors.New("model overloaded")
	f := newFixture(t, &fakeCaps{classifyErr: boom})
	_, err := f.router.Route(context.Background(), Query{Text: "hi", UserID: 1, ChatID: 1}, f.status)
	var capErr *CapabilityError
	if !errors.As(err, &capErr) || capErr.Capability != "classify" || !errors.Is(err, boom) {
		t.Fatalf("err = %v, want classify capability error", err)
	}

	f = newFixture(t, &fakeCaps{category: CategoryInformation, info: InformationResult{}})
	_, err = f.router.Route(context.Background(), Query{Text: "hi", UserID: 1, ChatID: 1}, f.status)
	if !errors.Is(err, ErrInvalidResult) {
		t.Fatalf("err = %v, want ErrInvalidResult", err)
	}
}

func TestEveryCategoryIsDispatched(t *testing.T) {
	t.Parallel()

	for _, c := range AllCategories() {
		t.Run(string(c), func(t *testing.T) {
			t.Parallel()
			f := newFixture(t, &fakeCaps{
				category: c,
				info:     InformationResult{Response: "ok"},
				schedule: ScheduleResult{Response: "ok"},
				doc:      document.Document{FileName: "d", Sections: []document.Section{{Body: "b"}}},
			})
			resp, err := f.router.Route(context.Background(), Query{Text: "x", UserID: 1, ChatID: 1, MessageID: 1}, f.status)
			if err != nil {
				t.Fatalf("category %s not dispatched: %v", c, err)
			}
			if resp.Category != c {
				t.Errorf("category = %s", resp.Category)
			}
		})
	}

	f := newFixture(t, &fakeCaps{category: Category("WEATHER")})
	if _, err := f.router.Route(context.Background(), Query{Text: "x"}, f.status); !errors.Is(err, ErrInvalidResult) {
		t.Fatalf("unknown category err = %v", err)
	}
}

func TestParseCategory(t *testing.T) {
	t.Parallel()

	for _, c := range AllCategories() {
		got, err := ParseCategory(" " + strings.ToLower(string(c)) + " ")
		if err != nil || got != c {
			t.Errorf("ParseCategory(%s) = %s, %v", c, got, err)
		}
	}
	if _, err := ParseCategory("chit-chat"); !errors.Is(err, ErrInvalidResult) {
		t.Errorf("unknown label err = %v", err)
	}
}
