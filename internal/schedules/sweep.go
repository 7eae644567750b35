package schedules

import (
	"context"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/portside-host/portside/internal/server"
)

// SweepStore is the schedule persistence the sweeper needs.
type SweepStore interface {
	ListDue(ctx context.Context, now time.Time) ([]Schedule, error)
	SetProcessing(ctx context.Context, scheduleID int64, processing bool) error
	Advance(ctx context.Context, scheduleID int64, ranAt, next time.Time) error
}

// ServerStore loads the owning server for a due schedule.
type ServerStore interface {
	GetByID(ctx context.Context, serverID int64) (server.Server, error)
}

// NodeTasks is the slice of the daemon facade the sweeper drives.
type NodeTasks interface {
	SendPower(ctx context.Context, signal string) error
	SendCommand(ctx context.Context, command string) error
	State(ctx context.Context) (string, error)
}

// TaskProvider builds a node client for one server.
type TaskProvider func(ctx context.Context, srv server.Server) (NodeTasks, error)

// BackupRunner executes a scheduled backup through the regular backup
// flow, limits and compensation included.
type BackupRunner func(ctx context.Context, sctx *server.Context, ignore string) error

// Sweeper finds due schedules and executes their tasks in sequence.
// Every failure is logged and scoped to its own schedule; one broken
// schedule never aborts the sweep.
type Sweeper struct {
	store   SweepStore
	servers ServerStore
	nodes   TaskProvider
	backups BackupRunner
	logger  *slog.Logger
	now     func() time.Time
}

// NewSweeper constructs Sweeper.
func NewSweeper(store SweepStore, servers ServerStore, nodes TaskProvider, backups BackupRunner, logger *slog.Logger) *Sweeper {
	return &Sweeper{store: store, servers: servers, nodes: nodes, backups: backups, logger: logger, now: time.Now}
}

// Handle is the asynq handler for the periodic sweep task.
func (s *Sweeper) Handle(ctx context.Context, _ *asynq.Task) error {
	now := s.now()
	due, err := s.store.ListDue(ctx, now)
	if err != nil {
		s.logger.Error("list due schedules", slog.Any("error", err))
		return err
	}
	for _, sched := range due {
		s.runSchedule(ctx, sched, now)
	}
	return nil
}

func (s *Sweeper) runSchedule(ctx context.Context, sched Schedule, ranAt time.Time) {
	log := s.logger.With(slog.Int64("schedule_id", sched.ID), slog.Int64("server_id", sched.ServerID))

	if err := s.store.SetProcessing(ctx, sched.ID, true); err != nil {
		log.Error("mark schedule processing", slog.Any("error", err))
		return
	}

	next, err := sched.Cron.NextRun(ranAt)
	if err != nil {
		// A stored expression the parser rejects can never fire again.
		// The processing flag stays set so ListDue skips the schedule
		// until an edit rewrites the expression and clears it.
		log.Error("stored cron expression invalid", slog.String("expression", sched.Cron.Expression()))
		return
	}
	// The run outcome never blocks rescheduling.
	defer func() {
		if err := s.store.Advance(ctx, sched.ID, ranAt, next); err != nil {
			log.Error("advance schedule", slog.Any("error", err))
		}
	}()

	srv, err := s.servers.GetByID(ctx, sched.ServerID)
	if err != nil {
		log.Error("load server for schedule", slog.Any("error", err))
		return
	}
	if srv.Suspended || srv.Installing || srv.Transferring {
		log.Info("skipping schedule on inoperable server")
		return
	}

	client, err := s.nodes(ctx, srv)
	if err != nil {
		log.Error("build node client for schedule", slog.Any("error", err))
		return
	}

	if sched.OnlyWhenOnline {
		state, err := client.State(ctx)
		if err != nil {
			log.Error("probe server state for schedule", slog.Any("error", err))
			return
		}
		if state != "running" {
			log.Info("skipping schedule, server offline", slog.String("state", state))
			return
		}
	}

	sctx := &server.Context{Server: srv, IsAdmin: true}
	for _, task := range sched.Tasks {
		if task.TimeOffsetSeconds > 0 {
			select {
			case <-time.After(time.Duration(task.TimeOffsetSeconds) * time.Second):
			case <-ctx.Done():
				log.Warn("sweep cancelled mid-schedule")
				return
			}
		}
		if err := s.runTask(ctx, sctx, client, task); err != nil {
			log.Error("schedule task failed",
				slog.Int64("task_id", task.ID),
				slog.String("action", task.Action),
				slog.Any("error", err))
			if !task.ContinueOnFailure {
				return
			}
		}
	}
}

func (s *Sweeper) runTask(ctx context.Context, sctx *server.Context, client NodeTasks, task Task) error {
	switch task.Action {
	case ActionPower:
		return client.SendPower(ctx, task.Payload)
	case ActionCommand:
		return client.SendCommand(ctx, task.Payload)
	case ActionBackup:
		return s.backups(ctx, sctx, task.Payload)
	default:
		// Unknown actions are rejected at write time; a row that still
		// carries one is skipped rather than failed.
		s.logger.Warn("unknown task action", slog.String("action", task.Action))
		return nil
	}
}
