package handlers

import (
	"context"
	"log/slog"

	"github.com/edgard/mnemobot/internal/config"
	"github.com/edgard/mnemobot/internal/database"
	"github.com/edgard/mnemobot/internal/mediagroup"
	"github.com/edgard/mnemobot/internal/router"
	"github.com/edgard/mnemobot/internal/status"
)

// Messenger is the outbound side of the transport used by handlers.
type Messenger interface {
	SendText(ctx context.Context, chatID int64, replyTo int, text string) error
	SendStoredFile(ctx context.Context, chatID int64, docType, fileID string) error
	SendLocalDocument(ctx context.Context, chatID int64, path string) error
	DownloadFile(ctx context.Context, fileID string) ([]byte, error)
	Typing(ctx context.Context, chatID int64) (stop func())
}

// Router routes one query.
type Router interface {
	Route(ctx context.Context, q router.Query, status router.StatusReporter) (*router.Response, error)
}

// Transcriber turns voice notes into text.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, mimeType string) (string, error)
}

// HandlerDeps provides dependencies for Telegram command and message handlers.
type HandlerDeps struct {
	Logger      *slog.Logger
	Config      *config.Config
	Store       database.Store
	Messenger   Messenger
	Router      Router
	Transcriber Transcriber
	Coordinator *mediagroup.Coordinator
	Statuses    *status.Registry
}
