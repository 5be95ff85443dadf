package router

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/edgard/mnemobot/internal/document"
)

var (
	// ErrUnsupportedInput is returned for queries with neither text nor images.
	ErrUnsupportedInput = errors.New("unsupported input format")
	// ErrInvalidResult is returned when a capability result fails validation.
	ErrInvalidResult = errors.New("invalid capability result")
)

// CapabilityError marks a failure of an external reasoning or indexing capability.
type CapabilityError struct {
	Capability string
	Err        error
}

func (e *CapabilityError) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Capability, e.Err)
}

func (e *CapabilityError) Unwrap() error { return e.Err }

func capabilityErr(name string, err error) error {
	return &CapabilityError{Capability: name, Err: err}
}

// Image is an inline attachment handed to the reasoning capabilities.
type Image struct {
	Data     []byte
	MIMEType string
}

// Classification is the classifier output.
type Classification struct {
	Category Category
}

// Validate checks the category is known.
func (c Classification) Validate() error {
	if !c.Category.Valid() {
		return fmt.Errorf("%w: unknown category %q", ErrInvalidResult, c.Category)
	}
	return nil
}

// Turn is one past information exchange of a user.
type Turn struct {
	Query    string
	Response string
}

// InformationRequest is the input of the information agent.
type InformationRequest struct {
	Text    string
	Images  []Image
	UserID  int64
	History []Turn
}

// InformationResult is the information agent output.
type InformationResult struct {
	Response         string
	IsDataDump       bool
	SetEventReminder string
	SourceDocuments  []int64
	IsHardRetrieval  bool
}

// Validate requires a response and source documents for hard retrievals.
func (r InformationResult) Validate() error {
	if strings.TrimSpace(r.Response) == "" {
		return fmt.Errorf("%w: empty information response", ErrInvalidResult)
	}
	if r.IsHardRetrieval && len(r.SourceDocuments) == 0 {
		return fmt.Errorf("%w: hard retrieval without source documents", ErrInvalidResult)
	}
	return nil
}

// ScheduleRequest is the input of the schedule agent.
type ScheduleRequest struct {
	UserID    int64
	ChatID    int64
	MessageID int64
	Text      string
	Images    []Image
}

// ScheduleResult is the schedule agent output.
type ScheduleResult struct {
	Response string
}

// Validate requires a response.
func (r ScheduleResult) Validate() error {
	if strings.TrimSpace(r.Response) == "" {
		return fmt.Errorf("%w: empty schedule response", ErrInvalidResult)
	}
	return nil
}

// PolishRequest is the input of the response polisher.
type PolishRequest struct {
	Query           string
	ProposedAnswer  string
	Category        Category
	IsHardRetrieval bool
	DocumentIDs     []int64
}

// PolishResult is the final text plus the retrieval decision that goes with it.
type PolishResult struct {
	Response        string
	DocumentIDs     []int64
	IsHardRetrieval bool
}

// Validate requires a response, and document ids when raw artifacts must be relayed.
func (r PolishResult) Validate() error {
	if strings.TrimSpace(r.Response) == "" {
		return fmt.Errorf("%w: empty polished response", ErrInvalidResult)
	}
	if r.IsHardRetrieval && len(r.DocumentIDs) == 0 {
		return fmt.Errorf("%w: hard retrieval without document ids", ErrInvalidResult)
	}
	return nil
}

// Classifier assigns a category to a query.
type Classifier interface {
	Classify(ctx context.Context, text string, images []Image) (Classification, error)
}

// AttachmentAnalyzer synthesizes a text query from images alone.
type AttachmentAnalyzer interface {
	AnalyzeAttachments(ctx context.Context, images []Image) (string, error)
}

// InformationAgent answers, stores or retrieves user information.
type InformationAgent interface {
	HandleInformation(ctx context.Context, req InformationRequest) (InformationResult, error)
}

// ScheduleAgent creates and lists reminders.
type ScheduleAgent interface {
	HandleSchedule(ctx context.Context, req ScheduleRequest) (ScheduleResult, error)
}

// Polisher rewrites a proposed answer into the final reply.
type Polisher interface {
	Polish(ctx context.Context, req PolishRequest) (PolishResult, error)
}

// DocumentGenerator drafts a document from a query and gathered context.
type DocumentGenerator interface {
	GenerateDocument(ctx context.Context, query, context string) (document.Document, error)
}

// DocumentRenderer writes a drafted document to disk and returns its path.
type DocumentRenderer interface {
	Render(doc document.Document) (string, error)
}

// Capabilities bundles every reasoning capability the router needs.
type Capabilities struct {
	Classifier Classifier
	Analyzer   AttachmentAnalyzer
	Info       InformationAgent
	Schedule   ScheduleAgent
	Polisher   Polisher
	Generator  DocumentGenerator
}

func (c Capabilities) validate() error {
	if c.Classifier == nil || c.Analyzer == nil || c.Info == nil || c.Schedule == nil || c.Polisher == nil || c.Generator == nil {
		return errors.New("router requires every capability")
	}
	return nil
}
