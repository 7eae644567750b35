// Package power exposes the power-signal and console-command endpoints.
package power

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/portside-host/portside/internal/apperr"
	"github.com/portside-host/portside/internal/permission"
	"github.com/portside-host/portside/internal/platform/httpx"
	"github.com/portside-host/portside/internal/server"
)

// signalPermissions is the fixed set of accepted power signals and the
// permission each one requires. kill is gated like stop.
var signalPermissions = map[string]string{
	"start":   permission.ControlStart,
	"stop":    permission.ControlStop,
	"restart": permission.ControlRestart,
	"kill":    permission.ControlStop,
}

// NodeCommander is the slice of the daemon facade this package drives.
type NodeCommander interface {
	SendPower(ctx context.Context, signal string) error
	SendCommand(ctx context.Context, command string) error
}

// Provider builds a request-scoped commander for one server.
type Provider func(ctx context.Context, srv server.Server) (NodeCommander, error)

// Recorder appends audit events after successful mutations.
type Recorder interface {
	Record(ctx context.Context, sctx *server.Context, event string, metadata map[string]any)
}

// Handler serves power and command routes.
type Handler struct {
	logger   *slog.Logger
	daemon   Provider
	recorder Recorder
}

// NewHandler constructs Handler.
func NewHandler(logger *slog.Logger, daemon Provider, recorder Recorder) *Handler {
	return &Handler{logger: logger, daemon: daemon, recorder: recorder}
}

// MountRoutes registers routes on a server-scoped router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/power", h.SendSignal)
	r.With(server.RequirePermission(permission.ControlConsole)).Post("/command", h.SendCommand)
}

type signalRequest struct {
	Signal string `json:"signal"`
}

// SendSignal validates and forwards a power signal. The signal value is
// checked before the permission gate and before any daemon traffic.
func (h *Handler) SendSignal(w http.ResponseWriter, r *http.Request) {
	var req signalRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, apperr.Validation("signal", "required", "A power signal must be provided."))
		return
	}
	required, ok := signalPermissions[req.Signal]
	if !ok {
		httpx.RespondError(w, apperr.Validation("signal", "in:start,stop,restart,kill",
			"The signal must be one of start, stop, restart, or kill."))
		return
	}

	sctx := server.FromContext(r.Context())
	if !sctx.Allows(required) {
		httpx.RespondError(w, apperr.Authorization())
		return
	}
	if err := operable(sctx.Server); err != nil {
		httpx.RespondError(w, err)
		return
	}

	commander, err := h.daemon(r.Context(), sctx.Server)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := commander.SendPower(r.Context(), req.Signal); err != nil {
		httpx.RespondError(w, err)
		return
	}

	h.recorder.Record(r.Context(), sctx, "server:power."+req.Signal, map[string]any{"signal": req.Signal})
	httpx.NoContent(w)
}

type commandRequest struct {
	Command string `json:"command"`
}

// SendCommand forwards a console command line.
func (h *Handler) SendCommand(w http.ResponseWriter, r *http.Request) {
	var req commandRequest
	if err := httpx.DecodeJSON(r, &req); err != nil || strings.TrimSpace(req.Command) == "" {
		httpx.RespondError(w, apperr.Validation("command", "required", "A command must be provided."))
		return
	}

	sctx := server.FromContext(r.Context())
	if err := operable(sctx.Server); err != nil {
		httpx.RespondError(w, err)
		return
	}

	commander, err := h.daemon(r.Context(), sctx.Server)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := commander.SendCommand(r.Context(), req.Command); err != nil {
		httpx.RespondError(w, err)
		return
	}

	h.recorder.Record(r.Context(), sctx, "server:console.command", map[string]any{"command": req.Command})
	httpx.NoContent(w)
}

// operable rejects servers that cannot accept control traffic right now.
func operable(srv server.Server) error {
	switch {
	case srv.Suspended:
		return apperr.Display("This server is currently suspended.")
	case srv.Installing:
		return apperr.Display("This server is still completing its installation process.")
	case srv.Transferring:
		return apperr.Display("This server is currently being transferred to a new node.")
	}
	return nil
}
