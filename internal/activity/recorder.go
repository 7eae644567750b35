// Package activity appends audit events after mutating operations
// succeed. Recording is strictly best effort: a failed audit write must
// never turn a successful operation into a failed response.
package activity

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/portside-host/portside/jobs"
	"github.com/portside-host/portside/internal/server"
)

// Enqueuer is the slice of asynq.Client the recorder needs.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// Recorder enqueues audit entries for the background worker to persist.
type Recorder struct {
	queue  Enqueuer
	logger *slog.Logger
}

// NewRecorder constructs Recorder.
func NewRecorder(queue Enqueuer, logger *slog.Logger) *Recorder {
	return &Recorder{queue: queue, logger: logger}
}

// Record enqueues one audit event. All failures are logged and swallowed;
// a nil or unresolved server context is a silent no-op.
func (r *Recorder) Record(ctx context.Context, sctx *server.Context, event string, metadata map[string]any) {
	if r == nil || sctx == nil || sctx.Server.ID == 0 {
		return
	}
	task, err := jobs.NewActivityTask(jobs.ActivityPayload{
		ServerID:  sctx.Server.ID,
		ActorUUID: sctx.Principal.UUID.String(),
		Event:     event,
		Metadata:  metadata,
	})
	if err != nil {
		r.logger.Error("activity task encode", slog.String("event", event), slog.Any("error", err))
		return
	}
	if _, err := r.queue.EnqueueContext(ctx, task); err != nil {
		r.logger.Error("activity enqueue",
			slog.String("event", event),
			slog.Int64("server_id", sctx.Server.ID),
			slog.Any("error", err))
	}
}

// NewRecordTaskHandler returns the worker-side handler persisting queued
// audit entries.
func NewRecordTaskHandler(repo *Repository, logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var payload jobs.ActivityPayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			logger.Error("activity payload decode", slog.Any("error", err))
			return asynq.SkipRetry
		}
		if err := repo.Insert(ctx, Entry{
			ServerID:  payload.ServerID,
			ActorUUID: payload.ActorUUID,
			Event:     payload.Event,
			Metadata:  payload.Metadata,
		}); err != nil {
			// Retried by asynq; the original request already succeeded.
			logger.Error("activity insert", slog.String("event", payload.Event), slog.Any("error", err))
			return err
		}
		return nil
	}
}
