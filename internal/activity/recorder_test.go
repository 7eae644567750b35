package activity

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/portside-host/portside/internal/principal"
	"github.com/portside-host/portside/internal/server"
	"github.com/portside-host/portside/jobs"
)

type mockEnqueuer struct {
	tasks []*asynq.Task
	err   error
}

func (m *mockEnqueuer) EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	if m.err != nil {
		return nil, m.err
	}
	m.tasks = append(m.tasks, task)
	return &asynq.TaskInfo{}, nil
}

func recorderContext() *server.Context {
	return &server.Context{
		Principal: principal.Principal{ID: 1, UUID: uuid.New()},
		Server:    server.Server{ID: 7, UUID: uuid.New()},
	}
}

func TestRecordEnqueuesTask(t *testing.T) {
	q := &mockEnqueuer{}
	rec := NewRecorder(q, slog.New(slog.DiscardHandler))

	rec.Record(context.Background(), recorderContext(), "server:power.start", map[string]any{"signal": "start"})

	require.Len(t, q.tasks, 1)
	assert.Equal(t, jobs.TaskActivityRecord, q.tasks[0].Type())
}

func TestRecordNeverPropagatesEnqueueFailure(t *testing.T) {
	q := &mockEnqueuer{err: errors.New("redis down")}
	rec := NewRecorder(q, slog.New(slog.DiscardHandler))

	assert.NotPanics(t, func() {
		rec.Record(context.Background(), recorderContext(), "server:backup.create", nil)
	})
}

func TestRecordNoOpsOnUnresolvedServer(t *testing.T) {
	q := &mockEnqueuer{}
	rec := NewRecorder(q, slog.New(slog.DiscardHandler))

	rec.Record(context.Background(), nil, "server:command", nil)
	rec.Record(context.Background(), &server.Context{}, "server:command", nil)

	assert.Empty(t, q.tasks)
}
