package schedules

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/portside-host/portside/internal/apperr"
	"github.com/portside-host/portside/internal/server"
)

// DefaultTaskLimit caps how many tasks one schedule may hold.
const DefaultTaskLimit = 10

// RepositoryPort defines the data access used by the service.
type RepositoryPort interface {
	ListForServer(ctx context.Context, serverID int64) ([]Schedule, error)
	Get(ctx context.Context, serverID, scheduleID int64) (Schedule, error)
	Insert(ctx context.Context, s Schedule) (int64, error)
	Update(ctx context.Context, s Schedule) error
	Delete(ctx context.Context, serverID, scheduleID int64) error
	CountTasks(ctx context.Context, scheduleID int64) (int, error)
	InsertTask(ctx context.Context, t Task) (int64, error)
	UpdateTask(ctx context.Context, t Task) error
	DeleteTask(ctx context.Context, scheduleID, taskID int64) error
}

// Service implements schedule business rules: cron validation through the
// parser, the per-action payload policy, and the task count limit.
type Service struct {
	repo      RepositoryPort
	logger    *slog.Logger
	taskLimit int
	now       func() time.Time
}

// NewService constructs Service with the default task limit.
func NewService(repo RepositoryPort, logger *slog.Logger) *Service {
	return &Service{repo: repo, logger: logger, taskLimit: DefaultTaskLimit, now: time.Now}
}

// List returns every schedule on the context server.
func (s *Service) List(ctx context.Context, sctx *server.Context) ([]Schedule, error) {
	schedules, err := s.repo.ListForServer(ctx, sctx.Server.ID)
	if err != nil {
		s.logger.Error("list schedules", slog.Int64("server_id", sctx.Server.ID), slog.Any("error", err))
		return nil, apperr.Internal("")
	}
	return schedules, nil
}

// Get fetches one schedule.
func (s *Service) Get(ctx context.Context, sctx *server.Context, scheduleID int64) (Schedule, error) {
	sched, err := s.repo.Get(ctx, sctx.Server.ID, scheduleID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Schedule{}, apperr.NotFound("Schedule")
		}
		s.logger.Error("get schedule", slog.Int64("schedule_id", scheduleID), slog.Any("error", err))
		return Schedule{}, apperr.Internal("")
	}
	return sched, nil
}

// ScheduleInput is the editable subset of a schedule.
type ScheduleInput struct {
	Name           string
	Cron           Cron
	IsActive       bool
	OnlyWhenOnline bool
}

// Create validates the cron fields and stores a schedule with its first
// computed fire time.
func (s *Service) Create(ctx context.Context, sctx *server.Context, in ScheduleInput) (Schedule, error) {
	if in.Name == "" {
		return Schedule{}, apperr.Validation("name", "required", "A schedule name must be provided.")
	}
	next, err := in.Cron.NextRun(s.now())
	if err != nil {
		return Schedule{}, err
	}
	sched := Schedule{
		ServerID:       sctx.Server.ID,
		Name:           in.Name,
		Cron:           in.Cron,
		IsActive:       in.IsActive,
		OnlyWhenOnline: in.OnlyWhenOnline,
		NextRunAt:      next,
	}
	if sched.ID, err = s.repo.Insert(ctx, sched); err != nil {
		s.logger.Error("insert schedule", slog.Int64("server_id", sctx.Server.ID), slog.Any("error", err))
		return Schedule{}, apperr.Internal("")
	}
	return sched, nil
}

// Update replaces a schedule's fields and recomputes the next fire time.
func (s *Service) Update(ctx context.Context, sctx *server.Context, scheduleID int64, in ScheduleInput) (Schedule, error) {
	sched, err := s.Get(ctx, sctx, scheduleID)
	if err != nil {
		return Schedule{}, err
	}
	if in.Name == "" {
		return Schedule{}, apperr.Validation("name", "required", "A schedule name must be provided.")
	}
	next, err := in.Cron.NextRun(s.now())
	if err != nil {
		return Schedule{}, err
	}
	sched.Name = in.Name
	sched.Cron = in.Cron
	sched.IsActive = in.IsActive
	sched.OnlyWhenOnline = in.OnlyWhenOnline
	sched.NextRunAt = next
	if err := s.repo.Update(ctx, sched); err != nil {
		s.logger.Error("update schedule", slog.Int64("schedule_id", scheduleID), slog.Any("error", err))
		return Schedule{}, apperr.Internal("")
	}
	return sched, nil
}

// Delete removes a schedule and its tasks.
func (s *Service) Delete(ctx context.Context, sctx *server.Context, scheduleID int64) error {
	if err := s.repo.Delete(ctx, sctx.Server.ID, scheduleID); err != nil {
		if errors.Is(err, ErrNotFound) {
			return apperr.NotFound("Schedule")
		}
		s.logger.Error("delete schedule", slog.Int64("schedule_id", scheduleID), slog.Any("error", err))
		return apperr.Internal("")
	}
	return nil
}

// TaskInput is the editable subset of a task.
type TaskInput struct {
	Action            string
	Payload           string
	TimeOffsetSeconds int
	ContinueOnFailure bool
}

// CreateTask validates and appends a task, enforcing the task limit.
func (s *Service) CreateTask(ctx context.Context, sctx *server.Context, scheduleID int64, in TaskInput) (Task, error) {
	sched, err := s.Get(ctx, sctx, scheduleID)
	if err != nil {
		return Task{}, err
	}
	if err := ValidateTask(in.Action, in.Payload); err != nil {
		return Task{}, err
	}
	count, err := s.repo.CountTasks(ctx, sched.ID)
	if err != nil {
		s.logger.Error("count schedule tasks", slog.Int64("schedule_id", sched.ID), slog.Any("error", err))
		return Task{}, apperr.Internal("")
	}
	if count >= s.taskLimit {
		return Task{}, apperr.Display(fmt.Sprintf("Schedules may not have more than %d tasks.", s.taskLimit))
	}
	task := Task{
		ScheduleID:        sched.ID,
		Sequence:          count + 1,
		Action:            in.Action,
		Payload:           in.Payload,
		TimeOffsetSeconds: in.TimeOffsetSeconds,
		ContinueOnFailure: in.ContinueOnFailure,
	}
	if task.ID, err = s.repo.InsertTask(ctx, task); err != nil {
		s.logger.Error("insert schedule task", slog.Int64("schedule_id", sched.ID), slog.Any("error", err))
		return Task{}, apperr.Internal("")
	}
	return task, nil
}

// UpdateTask validates and replaces an existing task.
func (s *Service) UpdateTask(ctx context.Context, sctx *server.Context, scheduleID, taskID int64, in TaskInput) (Task, error) {
	sched, err := s.Get(ctx, sctx, scheduleID)
	if err != nil {
		return Task{}, err
	}
	if err := ValidateTask(in.Action, in.Payload); err != nil {
		return Task{}, err
	}
	var current *Task
	for i := range sched.Tasks {
		if sched.Tasks[i].ID == taskID {
			current = &sched.Tasks[i]
			break
		}
	}
	if current == nil {
		return Task{}, apperr.NotFound("Task")
	}
	current.Action = in.Action
	current.Payload = in.Payload
	current.TimeOffsetSeconds = in.TimeOffsetSeconds
	current.ContinueOnFailure = in.ContinueOnFailure
	if err := s.repo.UpdateTask(ctx, *current); err != nil {
		s.logger.Error("update schedule task", slog.Int64("task_id", taskID), slog.Any("error", err))
		return Task{}, apperr.Internal("")
	}
	return *current, nil
}

// DeleteTask removes one task from a schedule.
func (s *Service) DeleteTask(ctx context.Context, sctx *server.Context, scheduleID, taskID int64) error {
	sched, err := s.Get(ctx, sctx, scheduleID)
	if err != nil {
		return err
	}
	if err := s.repo.DeleteTask(ctx, sched.ID, taskID); err != nil {
		if errors.Is(err, ErrNotFound) {
			return apperr.NotFound("Task")
		}
		s.logger.Error("delete schedule task", slog.Int64("task_id", taskID), slog.Any("error", err))
		return apperr.Internal("")
	}
	return nil
}
