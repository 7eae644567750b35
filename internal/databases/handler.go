package databases

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/portside-host/portside/internal/apperr"
	"github.com/portside-host/portside/internal/permission"
	"github.com/portside-host/portside/internal/platform/httpx"
	"github.com/portside-host/portside/internal/server"
)

// Recorder appends audit events after successful mutations.
type Recorder interface {
	Record(ctx context.Context, sctx *server.Context, event string, metadata map[string]any)
}

// Handler serves the /databases routes.
type Handler struct {
	service  *Service
	recorder Recorder
}

// NewHandler constructs Handler.
func NewHandler(service *Service, recorder Recorder) *Handler {
	return &Handler{service: service, recorder: recorder}
}

// MountRoutes registers routes on a server-scoped router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.With(server.RequirePermission(permission.DatabaseRead)).Get("/", h.List)
	r.With(server.RequirePermission(permission.DatabaseCreate)).Post("/", h.Create)
	r.With(server.RequirePermission(permission.DatabaseUpdate)).Post("/{database}/rotate-password", h.RotatePassword)
	r.With(server.RequirePermission(permission.DatabaseDelete)).Delete("/{database}", h.Delete)
}

type databaseAttributes struct {
	ID             int64  `json:"id"`
	Name           string `json:"name"`
	Username       string `json:"username"`
	Remote         string `json:"remote"`
	Host           string `json:"host"`
	MaxConnections int    `json:"max_connections"`
	// Only present when the caller may view credentials.
	Password string `json:"password,omitempty"`
}

func toAttributes(d Database, includePassword bool) databaseAttributes {
	attrs := databaseAttributes{
		ID:             d.ID,
		Name:           d.Name,
		Username:       d.Username,
		Remote:         d.Remote,
		Host:           fmt.Sprintf("%s:%d", d.HostAddress, d.HostPort),
		MaxConnections: d.MaxConnections,
	}
	if includePassword {
		attrs.Password = d.Password
	}
	return attrs
}

func databaseParam(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "database"), 10, 64)
	if err != nil || id <= 0 {
		return 0, apperr.NotFound("Database")
	}
	return id, nil
}

// List returns the server's databases. Credentials are included only for
// callers holding database.view_password.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	sctx := server.FromContext(r.Context())
	databases, err := h.service.List(r.Context(), sctx)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	showPassword := sctx.Allows(permission.DatabaseViewPassword)
	attrs := make([]any, 0, len(databases))
	for _, d := range databases {
		attrs = append(attrs, toAttributes(d, showPassword))
	}
	httpx.Collection(w, "server_database", attrs, httpx.Unpaginated(len(attrs)))
}

type createRequest struct {
	Database string `json:"database"`
	Remote   string `json:"remote"`
}

// Create provisions a new database. The fresh credential is always
// returned to the creator.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, apperr.Validation("database", "json", "The request body could not be parsed."))
		return
	}
	sctx := server.FromContext(r.Context())
	d, err := h.service.Create(r.Context(), sctx, req.Database, req.Remote)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	h.recorder.Record(r.Context(), sctx, "server:database.create",
		map[string]any{"database": d.Name})
	httpx.Item(w, http.StatusCreated, "server_database", toAttributes(d, true))
}

// RotatePassword regenerates and returns the database credential.
func (h *Handler) RotatePassword(w http.ResponseWriter, r *http.Request) {
	id, err := databaseParam(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	sctx := server.FromContext(r.Context())
	d, err := h.service.RotatePassword(r.Context(), sctx, id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	h.recorder.Record(r.Context(), sctx, "server:database.rotate-password",
		map[string]any{"database": d.Name})
	httpx.Item(w, http.StatusOK, "server_database", toAttributes(d, true))
}

// Delete removes a database and its user.
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := databaseParam(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	sctx := server.FromContext(r.Context())
	if err := h.service.Delete(r.Context(), sctx, id); err != nil {
		httpx.RespondError(w, err)
		return
	}
	h.recorder.Record(r.Context(), sctx, "server:database.delete", map[string]any{"database": id})
	httpx.NoContent(w)
}
