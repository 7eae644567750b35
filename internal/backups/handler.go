package backups

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/portside-host/portside/internal/apperr"
	"github.com/portside-host/portside/internal/permission"
	"github.com/portside-host/portside/internal/platform/httpx"
	"github.com/portside-host/portside/internal/server"
	"github.com/portside-host/portside/internal/tokens"
)

// NodeStore loads node descriptors for download token issuing.
type NodeStore interface {
	GetNode(ctx context.Context, nodeID int64) (server.Node, error)
}

// TokenIssuer signs backup download tokens.
type TokenIssuer interface {
	Issue(purpose tokens.Purpose, sctx *server.Context, node server.Node, extra tokens.Extra) (tokens.Signed, error)
}

// Recorder appends audit events after successful mutations.
type Recorder interface {
	Record(ctx context.Context, sctx *server.Context, event string, metadata map[string]any)
}

// Handler serves the /backups routes.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	nodes    NodeStore
	issuer   TokenIssuer
	recorder Recorder
}

// NewHandler constructs Handler.
func NewHandler(logger *slog.Logger, service *Service, nodes NodeStore, issuer TokenIssuer, recorder Recorder) *Handler {
	return &Handler{logger: logger, service: service, nodes: nodes, issuer: issuer, recorder: recorder}
}

// MountRoutes registers routes on a server-scoped router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.With(server.RequirePermission(permission.BackupRead)).Get("/", h.List)
	r.With(server.RequirePermission(permission.BackupCreate)).Post("/", h.Create)
	r.With(server.RequirePermission(permission.BackupRead)).Get("/{backup}", h.Get)
	r.With(server.RequirePermission(permission.BackupDelete)).Delete("/{backup}", h.Delete)
	r.With(server.RequirePermission(permission.BackupDownload)).Get("/{backup}/download", h.Download)
}

type backupAttributes struct {
	UUID         string     `json:"uuid"`
	Name         string     `json:"name"`
	IgnoredFiles string     `json:"ignored_files"`
	Bytes        int64      `json:"bytes"`
	CompletedAt  *time.Time `json:"completed_at"`
	CreatedAt    time.Time  `json:"created_at"`
}

func toAttributes(b Backup) backupAttributes {
	return backupAttributes{
		UUID:         b.UUID.String(),
		Name:         b.Name,
		IgnoredFiles: b.IgnoredFiles,
		Bytes:        b.Bytes,
		CompletedAt:  b.CompletedAt,
		CreatedAt:    b.CreatedAt,
	}
}

func backupParam(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, "backup"))
	if err != nil {
		return uuid.Nil, apperr.NotFound("Backup")
	}
	return id, nil
}

// List returns a page of backups.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	sctx := server.FromContext(r.Context())
	page := httpx.QueryInt(r, "page", 1)
	perPage := httpx.QueryInt(r, "per_page", 20)

	backups, total, err := h.service.List(r.Context(), sctx, page, perPage)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	attrs := make([]any, 0, len(backups))
	for _, b := range backups {
		attrs = append(attrs, toAttributes(b))
	}
	httpx.Collection(w, "backup", attrs, httpx.NewPagination(page, perPage, len(backups), total))
}

type createRequest struct {
	Name         string `json:"name"`
	IgnoredFiles string `json:"ignored"`
}

// Create starts a new backup.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, apperr.Validation("name", "json", "The request body could not be parsed."))
		return
	}
	sctx := server.FromContext(r.Context())
	b, err := h.service.Create(r.Context(), sctx, req.Name, req.IgnoredFiles)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	h.recorder.Record(r.Context(), sctx, "server:backup.create", map[string]any{"backup": b.UUID.String(), "name": b.Name})
	httpx.Item(w, http.StatusCreated, "backup", toAttributes(b))
}

// Get returns one backup.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := backupParam(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	sctx := server.FromContext(r.Context())
	b, err := h.service.Get(r.Context(), sctx, id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.Item(w, http.StatusOK, "backup", toAttributes(b))
}

// Delete removes a backup from the node and the panel.
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := backupParam(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	sctx := server.FromContext(r.Context())
	if err := h.service.Delete(r.Context(), sctx, id); err != nil {
		httpx.RespondError(w, err)
		return
	}
	h.recorder.Record(r.Context(), sctx, "server:backup.delete", map[string]any{"backup": id.String()})
	httpx.NoContent(w)
}

type signedURLAttributes struct {
	URL string `json:"url"`
}

// Download issues a signed node URL for the backup archive.
func (h *Handler) Download(w http.ResponseWriter, r *http.Request) {
	id, err := backupParam(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	sctx := server.FromContext(r.Context())
	if _, err := h.service.Get(r.Context(), sctx, id); err != nil {
		httpx.RespondError(w, err)
		return
	}
	node, err := h.nodes.GetNode(r.Context(), sctx.Server.NodeID)
	if err != nil {
		h.logger.Error("node lookup for backup download",
			slog.Int64("node_id", sctx.Server.NodeID), slog.Any("error", err))
		httpx.RespondError(w, apperr.Internal("The node configuration for this server is invalid."))
		return
	}
	signed, err := h.issuer.Issue(tokens.PurposeBackupDownload, sctx, node, tokens.Extra{BackupUUID: id.String()})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.Item(w, http.StatusOK, "signed_url", signedURLAttributes{URL: signed.URL})
}
