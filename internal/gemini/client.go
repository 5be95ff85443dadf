// Package gemini implements the reasoning capabilities of the bot on top of
// Google's Gemini API: classification, the information and schedule agents,
// response polishing, document drafting, transcription and embeddings.
package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"runtime"
	"strings"
	"time"

	"google.golang.org/genai"

	"github.com/edgard/mnemobot/internal/config"
	"github.com/edgard/mnemobot/internal/document"
	"github.com/edgard/mnemobot/internal/router"
)

// models is the subset of genai.Models the client uses.
type models interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
	EmbedContent(ctx context.Context, model string, contents []*genai.Content, config *genai.EmbedContentConfig) (*genai.EmbedContentResponse, error)
}

// Client talks to Gemini. It implements the stateless router capabilities and
// vectorstore.Embedder; the tool-using agents live in Agents.
type Client struct {
	models         models
	log            *slog.Logger
	contentConfig  *genai.GenerateContentConfig
	model          string
	embeddingModel string
	maxRetries     int
	retryDelay     time.Duration
	maxToolSteps   int
	now            func() time.Time
	loc            *time.Location
}

// NewClient creates a new Gemini client with the provided configuration.
// loc is the time zone used when the agents are told the current time.
func NewClient(ctx context.Context, cfg config.GeminiConfig, loc *time.Location, log *slog.Logger) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}

	gi, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}

	c := newClient(gi.Models, cfg, loc, log)
	c.log.Info("Gemini client initialized successfully", "model", cfg.Model, "embedding_model", cfg.EmbeddingModel)
	return c, nil
}

func newClient(m models, cfg config.GeminiConfig, loc *time.Location, log *slog.Logger) *Client {
	if loc == nil {
		loc = time.UTC
	}
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	steps := cfg.MaxToolSteps
	if steps <= 0 {
		steps = 1
	}
	temperature := cfg.Temperature
	return &Client{
		models: m,
		log:    log.With("component", "gemini_client"),
		contentConfig: &genai.GenerateContentConfig{
			Temperature: &temperature,
			SafetySettings: []*genai.SafetySetting{
				{Category: genai.HarmCategoryHarassment, Threshold: genai.HarmBlockThresholdBlockNone},
				{Category: genai.HarmCategoryHateSpeech, Threshold: genai.HarmBlockThresholdBlockNone},
				{Category: genai.HarmCategorySexuallyExplicit, Threshold: genai.HarmBlockThresholdBlockNone},
				{Category: genai.HarmCategoryDangerousContent, Threshold: genai.HarmBlockThresholdBlockNone},
			},
		},
		model:          cfg.Model,
		embeddingModel: cfg.EmbeddingModel,
		maxRetries:     cfg.MaxRetries,
		retryDelay:     time.Duration(cfg.RetryDelaySeconds) * time.Second,
		maxToolSteps:   steps,
		now:            time.Now,
		loc:            loc,
	}
}

// withRetries runs call, retrying on Gemini 500 and 503 responses.
func (c *Client) withRetries(ctx context.Context, call func() error) error {
	var err error
	for i := 0; i <= c.maxRetries; i++ {
		err = call()
		if err == nil {
			return nil
		}

		c.log.WarnContext(ctx, "Gemini API call failed, checking for retry", "attempt", i+1, "max_retries", c.maxRetries, "error", err)

		var apiErr *genai.APIError
		if errors.As(err, &apiErr) && (apiErr.Code == 500 || apiErr.Code == 503) {
			if i < c.maxRetries {
				c.log.InfoContext(ctx, "Retrying Gemini API call due to retriable APIError", "delay", c.retryDelay, "code", apiErr.Code)
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(c.retryDelay):
				}
				continue
			}
			c.log.ErrorContext(ctx, "Gemini API call failed after max retries with APIError", "error", err, "code", apiErr.Code)
			return fmt.Errorf("gemini API call failed after %d retries (APIError code %d): %w", c.maxRetries, apiErr.Code, err)
		}

		c.log.ErrorContext(ctx, "Gemini API call failed with non-retriable error", "error", err)
		return fmt.Errorf("gemini API call failed: %w", err)
	}
	return err
}

func (c *Client) generateContentWithRetries(ctx context.Context, contents []*genai.Content, cfg *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	var resp *genai.GenerateContentResponse
	err := c.withRetries(ctx, func() error {
		var callErr error
		resp, callErr = c.models.GenerateContent(ctx, c.model, contents, cfg)
		return callErr
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// configFor copies the base config with a system instruction.
func (c *Client) configFor(instruction string) *genai.GenerateContentConfig {
	cfg := *c.contentConfig
	cfg.SystemInstruction = genai.NewContentFromText(instruction, genai.RoleUser)
	return &cfg
}

// generateText runs a plain text generation.
func (c *Client) generateText(ctx context.Context, instruction string, contents []*genai.Content) (string, error) {
	resp, err := c.generateContentWithRetries(ctx, contents, c.configFor(instruction))
	if err != nil {
		return "", err
	}
	return c.extractTextFromResponse(ctx, resp)
}

// generateJSON runs a generation constrained to schema and decodes the answer into out.
func (c *Client) generateJSON(ctx context.Context, instruction string, contents []*genai.Content, schema *genai.Schema, out any) error {
	cfg := c.configFor(instruction)
	cfg.Tools = nil
	cfg.ResponseMIMEType = "application/json"
	cfg.ResponseSchema = schema

	resp, err := c.generateContentWithRetries(ctx, contents, cfg)
	if err != nil {
		return err
	}
	jsonText, err := c.extractTextFromResponse(ctx, resp)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(jsonText), out); err != nil {
		c.log.ErrorContext(ctx, "Failed to parse JSON from Gemini response", "error", err, "response_text", jsonText)
		return fmt.Errorf("%w: invalid JSON received: %v", router.ErrInvalidResult, err)
	}
	return nil
}

func (c *Client) extractTextFromResponse(ctx context.Context, resp *genai.GenerateContentResponse) (string, error) {
	op := "gemini_operation"
	if pc, _, _, ok := runtime.Caller(1); ok {
		if fn := runtime.FuncForPC(pc); fn != nil {
			parts := strings.Split(fn.Name(), ".")
			if len(parts) >= 2 {
				op = parts[len(parts)-1]
			}
		}
	}

	if resp == nil {
		return "", fmt.Errorf("%s returned no response", op)
	}

	if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != genai.BlockedReasonUnspecified {
		reasonMsg := fmt.Sprintf("%v", resp.PromptFeedback.BlockReason)
		if resp.PromptFeedback.BlockReasonMessage != "" {
			reasonMsg = resp.PromptFeedback.BlockReasonMessage
		}
		c.log.ErrorContext(ctx, "Gemini request blocked", "operation", op, "reason", reasonMsg)
		return "", fmt.Errorf("%s blocked by safety filter: %s", op, reasonMsg)
	}

	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		finishReason := "unknown"
		if len(resp.Candidates) > 0 && resp.Candidates[0].FinishReason != genai.FinishReasonUnspecified {
			finishReason = fmt.Sprintf("%v", resp.Candidates[0].FinishReason)
		}
		c.log.WarnContext(ctx, "Gemini response missing candidates or content", "operation", op, "finish_reason", finishReason)

		if len(resp.Candidates) > 0 && resp.Candidates[0].FinishReason != genai.FinishReasonStop {
			return "", fmt.Errorf("%s returned no content, finish reason: %s", op, finishReason)
		}
		return "", fmt.Errorf("%s returned empty content", op)
	}

	text := strings.TrimSpace(resp.Text())
	if text == "" {
		c.log.WarnContext(ctx, "Gemini response text is empty", "operation", op)
		return "", fmt.Errorf("%s returned empty text", op)
	}
	return text, nil
}

// userContent builds one user turn from text and inline images.
func userContent(text string, images []router.Image) *genai.Content {
	parts := make([]*genai.Part, 0, len(images)+1)
	if strings.TrimSpace(text) != "" {
		parts = append(parts, genai.NewPartFromText(text))
	}
	for _, img := range images {
		parts = append(parts, genai.NewPartFromBytes(img.Data, img.MIMEType))
	}
	return genai.NewContentFromParts(parts, genai.RoleUser)
}

func (c *Client) currentTime() string {
	return c.now().In(c.loc).Format(time.RFC3339)
}

// Classify implements router.Classifier.
func (c *Client) Classify(ctx context.Context, text string, images []router.Image) (router.Classification, error) {
	c.log.DebugContext(ctx, "Classifying query", "text_length", len(text), "image_count", len(images))

	var out struct {
		Category string `json:"category"`
	}
	if err := c.generateJSON(ctx, ClassifierInstruction, []*genai.Content{userContent(text, images)}, classificationSchema, &out); err != nil {
		return router.Classification{}, fmt.Errorf("classification failed: %w", err)
	}
	category, err := router.ParseCategory(out.Category)
	if err != nil {
		return router.Classification{}, err
	}
	return router.Classification{Category: category}, nil
}

// AnalyzeAttachments implements router.AttachmentAnalyzer.
func (c *Client) AnalyzeAttachments(ctx context.Context, images []router.Image) (string, error) {
	if len(images) == 0 {
		return "", fmt.Errorf("%w: no images to analyze", router.ErrUnsupportedInput)
	}
	c.log.DebugContext(ctx, "Analyzing attachments", "image_count", len(images))
	text, err := c.generateText(ctx, AnalyzerInstruction, []*genai.Content{userContent("", images)})
	if err != nil {
		return "", fmt.Errorf("attachment analysis failed: %w", err)
	}
	return text, nil
}

// Polish implements router.Polisher.
func (c *Client) Polish(ctx context.Context, req router.PolishRequest) (router.PolishResult, error) {
	ids := req.DocumentIDs
	if ids == nil {
		ids = []int64{}
	}
	prompt := fmt.Sprintf(PolishPrompt, req.Category, req.IsHardRetrieval, ids, req.Query, req.ProposedAnswer)

	var out struct {
		Response        string  `json:"response"`
		DocumentIDs     []int64 `json:"document_ids"`
		IsHardRetrieval bool    `json:"is_hard_retrieval"`
	}
	if err := c.generateJSON(ctx, PolishInstruction, []*genai.Content{genai.NewContentFromText(prompt, genai.RoleUser)}, polishSchema, &out); err != nil {
		return router.PolishResult{}, fmt.Errorf("polish failed: %w", err)
	}
	res := router.PolishResult{Response: out.Response, DocumentIDs: out.DocumentIDs, IsHardRetrieval: out.IsHardRetrieval}
	return res, res.Validate()
}

// GenerateDocument implements router.DocumentGenerator.
func (c *Client) GenerateDocument(ctx context.Context, query, gathered string) (document.Document, error) {
	prompt := fmt.Sprintf(DocumentPrompt, query, gathered)

	var doc document.Document
	if err := c.generateJSON(ctx, DocumentInstruction, []*genai.Content{genai.NewContentFromText(prompt, genai.RoleUser)}, documentSchema, &doc); err != nil {
		return document.Document{}, fmt.Errorf("document generation failed: %w", err)
	}
	if err := doc.Validate(); err != nil {
		return document.Document{}, fmt.Errorf("%w: %v", router.ErrInvalidResult, err)
	}
	return doc, nil
}

// Transcribe turns a voice note into text.
func (c *Client) Transcribe(ctx context.Context, audio []byte, mimeType string) (string, error) {
	if len(audio) == 0 || mimeType == "" {
		return "", fmt.Errorf("audio data and MIME type are required for transcription")
	}
	contents := []*genai.Content{genai.NewContentFromParts([]*genai.Part{genai.NewPartFromBytes(audio, mimeType)}, genai.RoleUser)}
	text, err := c.generateText(ctx, TranscribeInstruction, contents)
	if err != nil {
		return "", fmt.Errorf("transcription failed: %w", err)
	}
	return text, nil
}

// Embed implements vectorstore.Embedder.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	var resp *genai.EmbedContentResponse
	err := c.withRetries(ctx, func() error {
		var callErr error
		resp, callErr = c.models.EmbedContent(ctx, c.embeddingModel, []*genai.Content{genai.NewContentFromText(text, genai.RoleUser)}, nil)
		return callErr
	})
	if err != nil {
		return nil, fmt.Errorf("embedding failed: %w", err)
	}
	if resp == nil || len(resp.Embeddings) == 0 || resp.Embeddings[0] == nil || len(resp.Embeddings[0].Values) == 0 {
		return nil, fmt.Errorf("embedding response contained no values")
	}
	return resp.Embeddings[0].Values, nil
}
