// Package settings covers server metadata operations: rename, reinstall
// and docker image selection.
package settings

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/portside-host/portside/internal/apperr"
	"github.com/portside-host/portside/internal/permission"
	"github.com/portside-host/portside/internal/platform/httpx"
	"github.com/portside-host/portside/internal/server"
)

// Store is the server repository surface this handler mutates.
type Store interface {
	UpdateName(ctx context.Context, serverID int64, name, description string) error
	UpdateImage(ctx context.Context, serverID int64, image string) error
	SetInstalling(ctx context.Context, serverID int64, installing bool) error
}

// NodeSettings is the slice of the daemon facade this handler drives.
type NodeSettings interface {
	Sync(ctx context.Context) error
	Reinstall(ctx context.Context) error
}

// Provider builds a request-scoped node client for one server.
type Provider func(ctx context.Context, srv server.Server) (NodeSettings, error)

// Recorder appends audit events after successful mutations.
type Recorder interface {
	Record(ctx context.Context, sctx *server.Context, event string, metadata map[string]any)
}

// Handler serves the /settings routes.
type Handler struct {
	logger    *slog.Logger
	store     Store
	daemon    Provider
	recorder  Recorder
	validator *validator.Validate
}

// NewHandler constructs Handler.
func NewHandler(logger *slog.Logger, store Store, daemon Provider, recorder Recorder) *Handler {
	return &Handler{logger: logger, store: store, daemon: daemon, recorder: recorder, validator: httpx.NewValidator()}
}

// MountRoutes registers routes on a server-scoped router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.With(server.RequirePermission(permission.SettingsRename)).Post("/rename", h.Rename)
	r.With(server.RequirePermission(permission.SettingsReinstall)).Post("/reinstall", h.Reinstall)
	r.With(server.RequirePermission(permission.SettingsImage)).Put("/docker-image", h.SetDockerImage)
}

type renameRequest struct {
	Name        string `json:"name" validate:"required,max=191"`
	Description string `json:"description" validate:"max=500"`
}

// Rename updates the panel record and pushes the new configuration to
// the node. A node that cannot be reached fails the rename so the two
// sides never drift.
func (h *Handler) Rename(w http.ResponseWriter, r *http.Request) {
	var req renameRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, apperr.Validation("name", "json", "The request body could not be parsed."))
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.RespondValidation(w, err)
		return
	}
	sctx := server.FromContext(r.Context())
	if err := h.store.UpdateName(r.Context(), sctx.Server.ID, req.Name, req.Description); err != nil {
		h.logger.Error("rename server", slog.Int64("server_id", sctx.Server.ID), slog.Any("error", err))
		httpx.RespondError(w, apperr.Internal(""))
		return
	}
	client, err := h.daemon(r.Context(), sctx.Server)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := client.Sync(r.Context()); err != nil {
		httpx.RespondError(w, err)
		return
	}
	h.recorder.Record(r.Context(), sctx, "server:settings.rename",
		map[string]any{"old": sctx.Server.Name, "new": req.Name})
	httpx.NoContent(w)
}

// Reinstall flags the server and triggers a from-scratch install on the
// node.
func (h *Handler) Reinstall(w http.ResponseWriter, r *http.Request) {
	sctx := server.FromContext(r.Context())
	if sctx.Server.Installing {
		httpx.RespondError(w, apperr.Display("This server is already installing."))
		return
	}
	client, err := h.daemon(r.Context(), sctx.Server)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.store.SetInstalling(r.Context(), sctx.Server.ID, true); err != nil {
		h.logger.Error("flag server installing", slog.Int64("server_id", sctx.Server.ID), slog.Any("error", err))
		httpx.RespondError(w, apperr.Internal(""))
		return
	}
	if err := client.Reinstall(r.Context()); err != nil {
		// The node never saw the request; clear the flag again.
		if clearErr := h.store.SetInstalling(r.Context(), sctx.Server.ID, false); clearErr != nil {
			h.logger.Error("clear installing flag", slog.Int64("server_id", sctx.Server.ID), slog.Any("error", clearErr))
		}
		httpx.RespondError(w, err)
		return
	}
	h.recorder.Record(r.Context(), sctx, "server:settings.reinstall", nil)
	httpx.NoContent(w)
}

type imageRequest struct {
	DockerImage string `json:"docker_image"`
}

// SetDockerImage switches the server's container image. Only images the
// server's configuration whitelists are accepted.
func (h *Handler) SetDockerImage(w http.ResponseWriter, r *http.Request) {
	var req imageRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, apperr.Validation("docker_image", "json", "The request body could not be parsed."))
		return
	}
	sctx := server.FromContext(r.Context())
	allowed := false
	for _, image := range sctx.Server.AllowedImages {
		if image == req.DockerImage {
			allowed = true
			break
		}
	}
	if !allowed {
		httpx.RespondError(w, apperr.Validation("docker_image", "in",
			"The requested image is not allowed for this server."))
		return
	}
	if err := h.store.UpdateImage(r.Context(), sctx.Server.ID, req.DockerImage); err != nil {
		h.logger.Error("update docker image", slog.Int64("server_id", sctx.Server.ID), slog.Any("error", err))
		httpx.RespondError(w, apperr.Internal(""))
		return
	}
	h.recorder.Record(r.Context(), sctx, "server:settings.image",
		map[string]any{"old": sctx.Server.Image, "new": req.DockerImage})
	httpx.NoContent(w)
}
