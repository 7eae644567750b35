package allocations

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/portside-host/portside/internal/apperr"
	"github.com/portside-host/portside/internal/permission"
	"github.com/portside-host/portside/internal/platform/httpx"
	"github.com/portside-host/portside/internal/server"
)

// Store is the repository surface the handler needs.
type Store interface {
	ListForServer(ctx context.Context, serverID int64) ([]Allocation, error)
	Get(ctx context.Context, serverID, allocationID int64) (Allocation, error)
	UpdateNotes(ctx context.Context, serverID, allocationID int64, notes string) error
	SetPrimary(ctx context.Context, serverID, allocationID int64) error
	Release(ctx context.Context, serverID, allocationID int64) error
}

// Recorder appends audit events after successful mutations.
type Recorder interface {
	Record(ctx context.Context, sctx *server.Context, event string, metadata map[string]any)
}

// Handler serves the /network/allocations routes.
type Handler struct {
	logger   *slog.Logger
	store    Store
	recorder Recorder
}

// NewHandler constructs Handler.
func NewHandler(logger *slog.Logger, store Store, recorder Recorder) *Handler {
	return &Handler{logger: logger, store: store, recorder: recorder}
}

// MountRoutes registers routes on a server-scoped router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.With(server.RequirePermission(permission.AllocationRead)).Get("/", h.List)
	r.With(server.RequirePermission(permission.AllocationUpdate)).Post("/{allocation}", h.UpdateNotes)
	r.With(server.RequirePermission(permission.AllocationUpdate)).Post("/{allocation}/primary", h.SetPrimary)
	r.With(server.RequirePermission(permission.AllocationDelete)).Delete("/{allocation}", h.Delete)
}

type allocationAttributes struct {
	ID        int64  `json:"id"`
	IP        string `json:"ip"`
	IPAlias   string `json:"ip_alias,omitempty"`
	Port      int    `json:"port"`
	Notes     string `json:"notes"`
	IsDefault bool   `json:"is_default"`
}

func toAttributes(a Allocation) allocationAttributes {
	return allocationAttributes{
		ID:        a.ID,
		IP:        a.IP,
		IPAlias:   a.IPAlias,
		Port:      a.Port,
		Notes:     a.Notes,
		IsDefault: a.IsPrimary,
	}
}

func (h *Handler) allocation(r *http.Request, sctx *server.Context) (Allocation, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "allocation"), 10, 64)
	if err != nil || id <= 0 {
		return Allocation{}, apperr.NotFound("Allocation")
	}
	a, err := h.store.Get(r.Context(), sctx.Server.ID, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Allocation{}, apperr.NotFound("Allocation")
		}
		h.logger.Error("get allocation", slog.Int64("allocation_id", id), slog.Any("error", err))
		return Allocation{}, apperr.Internal("")
	}
	return a, nil
}

// List returns the server's allocations.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	sctx := server.FromContext(r.Context())
	allocations, err := h.store.ListForServer(r.Context(), sctx.Server.ID)
	if err != nil {
		h.logger.Error("list allocations", slog.Int64("server_id", sctx.Server.ID), slog.Any("error", err))
		httpx.RespondError(w, apperr.Internal(""))
		return
	}
	attrs := make([]any, 0, len(allocations))
	for _, a := range allocations {
		attrs = append(attrs, toAttributes(a))
	}
	httpx.Collection(w, "allocation", attrs, httpx.Unpaginated(len(attrs)))
}

type notesRequest struct {
	Notes string `json:"notes"`
}

// UpdateNotes replaces the free-form notes on one allocation.
func (h *Handler) UpdateNotes(w http.ResponseWriter, r *http.Request) {
	sctx := server.FromContext(r.Context())
	a, err := h.allocation(r, sctx)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req notesRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, apperr.Validation("notes", "json", "The request body could not be parsed."))
		return
	}
	if err := h.store.UpdateNotes(r.Context(), sctx.Server.ID, a.ID, req.Notes); err != nil {
		h.logger.Error("update allocation notes", slog.Int64("allocation_id", a.ID), slog.Any("error", err))
		httpx.RespondError(w, apperr.Internal(""))
		return
	}
	a.Notes = req.Notes
	h.recorder.Record(r.Context(), sctx, "server:allocation.notes",
		map[string]any{"allocation": a.ID, "notes": req.Notes})
	httpx.Item(w, http.StatusOK, "allocation", toAttributes(a))
}

// SetPrimary promotes one allocation to primary.
func (h *Handler) SetPrimary(w http.ResponseWriter, r *http.Request) {
	sctx := server.FromContext(r.Context())
	a, err := h.allocation(r, sctx)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.store.SetPrimary(r.Context(), sctx.Server.ID, a.ID); err != nil {
		h.logger.Error("set primary allocation", slog.Int64("allocation_id", a.ID), slog.Any("error", err))
		httpx.RespondError(w, apperr.Internal(""))
		return
	}
	a.IsPrimary = true
	h.recorder.Record(r.Context(), sctx, "server:allocation.primary", map[string]any{"allocation": a.ID})
	httpx.Item(w, http.StatusOK, "allocation", toAttributes(a))
}

// Delete releases an allocation back to the node's pool. The primary
// allocation can never be released.
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	sctx := server.FromContext(r.Context())
	a, err := h.allocation(r, sctx)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if a.IsPrimary {
		httpx.RespondError(w, apperr.Display("You cannot delete the primary allocation for this server."))
		return
	}
	if err := h.store.Release(r.Context(), sctx.Server.ID, a.ID); err != nil {
		h.logger.Error("release allocation", slog.Int64("allocation_id", a.ID), slog.Any("error", err))
		httpx.RespondError(w, apperr.Internal(""))
		return
	}
	h.recorder.Record(r.Context(), sctx, "server:allocation.delete", map[string]any{"allocation": a.ID})
	httpx.NoContent(w)
}
