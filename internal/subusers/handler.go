package subusers

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/portside-host/portside/internal/apperr"
	"github.com/portside-host/portside/internal/permission"
	"github.com/portside-host/portside/internal/platform/httpx"
	"github.com/portside-host/portside/internal/server"
)

// Recorder appends audit events after successful mutations.
type Recorder interface {
	Record(ctx context.Context, sctx *server.Context, event string, metadata map[string]any)
}

// Handler serves the /users routes.
type Handler struct {
	service   *Service
	recorder  Recorder
	validator *validator.Validate
}

// NewHandler constructs Handler.
func NewHandler(service *Service, recorder Recorder) *Handler {
	return &Handler{service: service, recorder: recorder, validator: httpx.NewValidator()}
}

// MountRoutes registers routes on a server-scoped router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.With(server.RequirePermission(permission.UserRead)).Get("/", h.List)
	r.With(server.RequirePermission(permission.UserCreate)).Post("/", h.Create)
	r.With(server.RequirePermission(permission.UserRead)).Get("/{subuser}", h.Get)
	r.With(server.RequirePermission(permission.UserUpdate)).Post("/{subuser}", h.Update)
	r.With(server.RequirePermission(permission.UserDelete)).Delete("/{subuser}", h.Delete)
}

type subuserAttributes struct {
	UUID        string   `json:"uuid"`
	Username    string   `json:"username"`
	Email       string   `json:"email"`
	Permissions []string `json:"permissions"`
}

func toAttributes(s Subuser) subuserAttributes {
	return subuserAttributes{
		UUID:        s.PrincipalUUID.String(),
		Username:    s.Username,
		Email:       s.Email,
		Permissions: s.Permissions,
	}
}

func subuserParam(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, "subuser"))
	if err != nil {
		return uuid.Nil, apperr.NotFound("Subuser")
	}
	return id, nil
}

// List returns every subuser on the server.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	sctx := server.FromContext(r.Context())
	subusers, err := h.service.List(r.Context(), sctx)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	attrs := make([]any, 0, len(subusers))
	for _, s := range subusers {
		attrs = append(attrs, toAttributes(s))
	}
	httpx.Collection(w, "server_subuser", attrs, httpx.Unpaginated(len(attrs)))
}

type grantRequest struct {
	Email       string   `json:"email" validate:"required,email"`
	Permissions []string `json:"permissions"`
}

// Create grants a principal access to the server.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var req grantRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, apperr.Validation("email", "json", "The request body could not be parsed."))
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.RespondValidation(w, err)
		return
	}
	sctx := server.FromContext(r.Context())
	sub, err := h.service.Create(r.Context(), sctx, req.Email, req.Permissions)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	h.recorder.Record(r.Context(), sctx, "server:subuser.create",
		map[string]any{"email": sub.Email, "permissions": sub.Permissions})
	httpx.Item(w, http.StatusCreated, "server_subuser", toAttributes(sub))
}

// Get returns one subuser.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := subuserParam(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	sctx := server.FromContext(r.Context())
	sub, err := h.service.Get(r.Context(), sctx, id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.Item(w, http.StatusOK, "server_subuser", toAttributes(sub))
}

// Update replaces a subuser's permissions.
func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	id, err := subuserParam(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req grantRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, apperr.Validation("permissions", "json", "The request body could not be parsed."))
		return
	}
	sctx := server.FromContext(r.Context())
	sub, err := h.service.Update(r.Context(), sctx, id, req.Permissions)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	h.recorder.Record(r.Context(), sctx, "server:subuser.update",
		map[string]any{"email": sub.Email, "permissions": sub.Permissions})
	httpx.Item(w, http.StatusOK, "server_subuser", toAttributes(sub))
}

// Delete revokes a subuser's access.
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := subuserParam(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	sctx := server.FromContext(r.Context())
	if err := h.service.Delete(r.Context(), sctx, id); err != nil {
		httpx.RespondError(w, err)
		return
	}
	h.recorder.Record(r.Context(), sctx, "server:subuser.delete", map[string]any{"subuser": id.String()})
	httpx.NoContent(w)
}
