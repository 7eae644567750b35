package activity

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/portside-host/portside/internal/apperr"
	"github.com/portside-host/portside/internal/permission"
	"github.com/portside-host/portside/internal/platform/httpx"
	"github.com/portside-host/portside/internal/server"
)

// ListStore reads activity pages for the handler.
type ListStore interface {
	List(ctx context.Context, serverID int64, page, perPage int) ([]Entry, int, error)
}

// Handler serves the per-server activity log.
type Handler struct {
	logger *slog.Logger
	store  ListStore
}

// NewHandler constructs Handler.
func NewHandler(logger *slog.Logger, store ListStore) *Handler {
	return &Handler{logger: logger, store: store}
}

// MountRoutes registers activity routes on a server-scoped router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.With(server.RequirePermission(permission.ActivityRead)).Get("/", h.List)
}

type entryAttributes struct {
	Event     string         `json:"event"`
	Actor     string         `json:"actor"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// List returns a page of audit entries, newest first.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	sctx := server.FromContext(r.Context())
	page := httpx.QueryInt(r, "page", 1)
	perPage := httpx.QueryInt(r, "per_page", 25)
	if perPage > 100 {
		perPage = 100
	}

	entries, total, err := h.store.List(r.Context(), sctx.Server.ID, page, perPage)
	if err != nil {
		h.logger.Error("list activity", slog.Int64("server_id", sctx.Server.ID), slog.Any("error", err))
		httpx.RespondError(w, apperr.Internal(""))
		return
	}

	attrs := make([]any, 0, len(entries))
	for _, e := range entries {
		attrs = append(attrs, entryAttributes{
			Event:     e.Event,
			Actor:     e.ActorUUID,
			Metadata:  e.Metadata,
			Timestamp: e.CreatedAt,
		})
	}
	httpx.Collection(w, "activity_log", attrs, httpx.NewPagination(page, perPage, len(entries), total))
}
