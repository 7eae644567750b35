package schedules

import (
	"context"
	"net/http"
	"strconv"
	"time"

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

// Handler serves the /schedules routes.
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
	r.With(server.RequirePermission(permission.ScheduleRead)).Get("/", h.List)
	r.With(server.RequirePermission(permission.ScheduleCreate)).Post("/", h.Create)
	r.With(server.RequirePermission(permission.ScheduleRead)).Get("/{schedule}", h.Get)
	r.With(server.RequirePermission(permission.ScheduleUpdate)).Post("/{schedule}", h.Update)
	r.With(server.RequirePermission(permission.ScheduleDelete)).Delete("/{schedule}", h.Delete)
	r.With(server.RequirePermission(permission.ScheduleUpdate)).Post("/{schedule}/tasks", h.CreateTask)
	r.With(server.RequirePermission(permission.ScheduleUpdate)).Post("/{schedule}/tasks/{task}", h.UpdateTask)
	r.With(server.RequirePermission(permission.ScheduleUpdate)).Delete("/{schedule}/tasks/{task}", h.DeleteTask)
}

type taskAttributes struct {
	ID                int64  `json:"id"`
	Sequence          int    `json:"sequence_id"`
	Action            string `json:"action"`
	Payload           string `json:"payload"`
	TimeOffset        int    `json:"time_offset"`
	ContinueOnFailure bool   `json:"continue_on_failure"`
}

type scheduleAttributes struct {
	ID             int64            `json:"id"`
	Name           string           `json:"name"`
	Cron           Cron             `json:"cron"`
	IsActive       bool             `json:"is_active"`
	OnlyWhenOnline bool             `json:"only_when_online"`
	IsProcessing   bool             `json:"is_processing"`
	LastRunAt      *time.Time       `json:"last_run_at"`
	NextRunAt      time.Time        `json:"next_run_at"`
	CreatedAt      time.Time        `json:"created_at"`
	Tasks          []taskAttributes `json:"tasks"`
}

func toTaskAttributes(t Task) taskAttributes {
	return taskAttributes{
		ID:                t.ID,
		Sequence:          t.Sequence,
		Action:            t.Action,
		Payload:           t.Payload,
		TimeOffset:        t.TimeOffsetSeconds,
		ContinueOnFailure: t.ContinueOnFailure,
	}
}

func toAttributes(s Schedule) scheduleAttributes {
	tasks := make([]taskAttributes, 0, len(s.Tasks))
	for _, t := range s.Tasks {
		tasks = append(tasks, toTaskAttributes(t))
	}
	return scheduleAttributes{
		ID:             s.ID,
		Name:           s.Name,
		Cron:           s.Cron,
		IsActive:       s.IsActive,
		OnlyWhenOnline: s.OnlyWhenOnline,
		IsProcessing:   s.IsProcessing,
		LastRunAt:      s.LastRunAt,
		NextRunAt:      s.NextRunAt,
		CreatedAt:      s.CreatedAt,
		Tasks:          tasks,
	}
}

func idParam(r *http.Request, name, resource string) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		return 0, apperr.NotFound(resource)
	}
	return id, nil
}

// List returns the server's schedules.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	sctx := server.FromContext(r.Context())
	schedules, err := h.service.List(r.Context(), sctx)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	attrs := make([]any, 0, len(schedules))
	for _, s := range schedules {
		attrs = append(attrs, toAttributes(s))
	}
	httpx.Collection(w, "server_schedule", attrs, httpx.Unpaginated(len(attrs)))
}

type scheduleRequest struct {
	Name           string `json:"name"`
	Minute         string `json:"minute"`
	Hour           string `json:"hour"`
	DayOfMonth     string `json:"day_of_month"`
	Month          string `json:"month"`
	DayOfWeek      string `json:"day_of_week"`
	IsActive       bool   `json:"is_active"`
	OnlyWhenOnline bool   `json:"only_when_online"`
}

func (req scheduleRequest) input() ScheduleInput {
	return ScheduleInput{
		Name: req.Name,
		Cron: Cron{
			Minute:     req.Minute,
			Hour:       req.Hour,
			DayOfMonth: req.DayOfMonth,
			Month:      req.Month,
			DayOfWeek:  req.DayOfWeek,
		},
		IsActive:       req.IsActive,
		OnlyWhenOnline: req.OnlyWhenOnline,
	}
}

// Create stores a new schedule.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var req scheduleRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, apperr.Validation("name", "json", "The request body could not be parsed."))
		return
	}
	sctx := server.FromContext(r.Context())
	sched, err := h.service.Create(r.Context(), sctx, req.input())
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	h.recorder.Record(r.Context(), sctx, "server:schedule.create",
		map[string]any{"schedule": sched.ID, "name": sched.Name})
	httpx.Item(w, http.StatusCreated, "server_schedule", toAttributes(sched))
}

// Get returns one schedule with its tasks.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "schedule", "Schedule")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	sctx := server.FromContext(r.Context())
	sched, err := h.service.Get(r.Context(), sctx, id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.Item(w, http.StatusOK, "server_schedule", toAttributes(sched))
}

// Update replaces a schedule's fields.
func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "schedule", "Schedule")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req scheduleRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, apperr.Validation("name", "json", "The request body could not be parsed."))
		return
	}
	sctx := server.FromContext(r.Context())
	sched, err := h.service.Update(r.Context(), sctx, id, req.input())
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	h.recorder.Record(r.Context(), sctx, "server:schedule.update",
		map[string]any{"schedule": sched.ID, "name": sched.Name})
	httpx.Item(w, http.StatusOK, "server_schedule", toAttributes(sched))
}

// Delete removes a schedule.
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "schedule", "Schedule")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	sctx := server.FromContext(r.Context())
	if err := h.service.Delete(r.Context(), sctx, id); err != nil {
		httpx.RespondError(w, err)
		return
	}
	h.recorder.Record(r.Context(), sctx, "server:schedule.delete", map[string]any{"schedule": id})
	httpx.NoContent(w)
}

type taskRequest struct {
	Action            string `json:"action"`
	Payload           string `json:"payload"`
	TimeOffset        int    `json:"time_offset"`
	ContinueOnFailure bool   `json:"continue_on_failure"`
}

func (req taskRequest) input() TaskInput {
	return TaskInput{
		Action:            req.Action,
		Payload:           req.Payload,
		TimeOffsetSeconds: req.TimeOffset,
		ContinueOnFailure: req.ContinueOnFailure,
	}
}

// CreateTask appends a task to a schedule.
func (h *Handler) CreateTask(w http.ResponseWriter, r *http.Request) {
	scheduleID, err := idParam(r, "schedule", "Schedule")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req taskRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, apperr.Validation("action", "json", "The request body could not be parsed."))
		return
	}
	sctx := server.FromContext(r.Context())
	task, err := h.service.CreateTask(r.Context(), sctx, scheduleID, req.input())
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	h.recorder.Record(r.Context(), sctx, "server:schedule.task.create",
		map[string]any{"schedule": scheduleID, "action": task.Action})
	httpx.Item(w, http.StatusCreated, "schedule_task", toTaskAttributes(task))
}

// UpdateTask replaces one task.
func (h *Handler) UpdateTask(w http.ResponseWriter, r *http.Request) {
	scheduleID, err := idParam(r, "schedule", "Schedule")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	taskID, err := idParam(r, "task", "Task")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req taskRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, apperr.Validation("action", "json", "The request body could not be parsed."))
		return
	}
	sctx := server.FromContext(r.Context())
	task, err := h.service.UpdateTask(r.Context(), sctx, scheduleID, taskID, req.input())
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	h.recorder.Record(r.Context(), sctx, "server:schedule.task.update",
		map[string]any{"schedule": scheduleID, "task": taskID})
	httpx.Item(w, http.StatusOK, "schedule_task", toTaskAttributes(task))
}

// DeleteTask removes one task.
func (h *Handler) DeleteTask(w http.ResponseWriter, r *http.Request) {
	scheduleID, err := idParam(r, "schedule", "Schedule")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	taskID, err := idParam(r, "task", "Task")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	sctx := server.FromContext(r.Context())
	if err := h.service.DeleteTask(r.Context(), sctx, scheduleID, taskID); err != nil {
		httpx.RespondError(w, err)
		return
	}
	h.recorder.Record(r.Context(), sctx, "server:schedule.task.delete",
		map[string]any{"schedule": scheduleID, "task": taskID})
	httpx.NoContent(w)
}
