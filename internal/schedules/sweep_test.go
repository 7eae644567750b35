package schedules

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/portside-host/portside/internal/server"
)

type sweepStore struct {
	due        []Schedule
	processing map[int64]bool
	advanced   map[int64]time.Time
}

func newSweepStore(due ...Schedule) *sweepStore {
	return &sweepStore{due: due, processing: map[int64]bool{}, advanced: map[int64]time.Time{}}
}

func (s *sweepStore) ListDue(ctx context.Context, now time.Time) ([]Schedule, error) {
	return s.due, nil
}

func (s *sweepStore) SetProcessing(ctx context.Context, scheduleID int64, processing bool) error {
	s.processing[scheduleID] = processing
	return nil
}

func (s *sweepStore) Advance(ctx context.Context, scheduleID int64, ranAt, next time.Time) error {
	s.processing[scheduleID] = false
	s.advanced[scheduleID] = next
	return nil
}

type sweepServers struct {
	srv server.Server
}

func (s *sweepServers) GetByID(ctx context.Context, serverID int64) (server.Server, error) {
	return s.srv, nil
}

type fakeNode struct {
	state    string
	commands []string
	powers   []string
	fail     bool
}

func (f *fakeNode) SendPower(ctx context.Context, signal string) error {
	if f.fail {
		return errors.New("node unreachable")
	}
	f.powers = append(f.powers, signal)
	return nil
}

func (f *fakeNode) SendCommand(ctx context.Context, command string) error {
	if f.fail {
		return errors.New("node unreachable")
	}
	f.commands = append(f.commands, command)
	return nil
}

func (f *fakeNode) State(ctx context.Context) (string, error) {
	return f.state, nil
}

func dueSchedule(tasks ...Task) Schedule {
	return Schedule{
		ID:       1,
		ServerID: 1,
		Name:     "nightly",
		Cron:     Cron{Minute: "0", Hour: "0", DayOfMonth: "*", Month: "*", DayOfWeek: "*"},
		IsActive: true,
		Tasks:    tasks,
	}
}

func newSweeper(store *sweepStore, node *fakeNode, srv server.Server, backups BackupRunner) *Sweeper {
	if backups == nil {
		backups = func(ctx context.Context, sctx *server.Context, ignore string) error { return nil }
	}
	sw := NewSweeper(store, &sweepServers{srv: srv},
		func(ctx context.Context, srv server.Server) (NodeTasks, error) { return node, nil },
		backups, slog.New(slog.DiscardHandler))
	sw.now = func() time.Time { return time.Date(2026, 3, 1, 0, 0, 30, 0, time.UTC) }
	return sw
}

func TestSweepRunsTasksInSequence(t *testing.T) {
	store := newSweepStore(dueSchedule(
		Task{ID: 1, ScheduleID: 1, Sequence: 1, Action: ActionCommand, Payload: "save-all"},
		Task{ID: 2, ScheduleID: 1, Sequence: 2, Action: ActionPower, Payload: "restart"},
	))
	node := &fakeNode{state: "running"}
	sw := newSweeper(store, node, server.Server{ID: 1}, nil)

	require.NoError(t, sw.Handle(context.Background(), nil))
	assert.Equal(t, []string{"save-all"}, node.commands)
	assert.Equal(t, []string{"restart"}, node.powers)
	assert.False(t, store.processing[1])
	// Midnight rolls forward a full day.
	assert.Equal(t, time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC), store.advanced[1])
}

func TestSweepSkipsOfflineServerWhenOnlyWhenOnline(t *testing.T) {
	sched := dueSchedule(Task{ID: 1, ScheduleID: 1, Action: ActionCommand, Payload: "say hi"})
	sched.OnlyWhenOnline = true
	store := newSweepStore(sched)
	node := &fakeNode{state: "offline"}
	sw := newSweeper(store, node, server.Server{ID: 1}, nil)

	require.NoError(t, sw.Handle(context.Background(), nil))
	assert.Empty(t, node.commands)
	// Still rescheduled, never stuck processing.
	assert.False(t, store.processing[1])
	assert.NotZero(t, store.advanced[1])
}

func TestSweepSkipsSuspendedServer(t *testing.T) {
	store := newSweepStore(dueSchedule(Task{ID: 1, ScheduleID: 1, Action: ActionPower, Payload: "start"}))
	node := &fakeNode{state: "running"}
	sw := newSweeper(store, node, server.Server{ID: 1, Suspended: true}, nil)

	require.NoError(t, sw.Handle(context.Background(), nil))
	assert.Empty(t, node.powers)
	assert.NotZero(t, store.advanced[1])
}

func TestSweepTaskFailureStopsSequence(t *testing.T) {
	store := newSweepStore(dueSchedule(
		Task{ID: 1, ScheduleID: 1, Sequence: 1, Action: ActionPower, Payload: "restart"},
		Task{ID: 2, ScheduleID: 1, Sequence: 2, Action: ActionCommand, Payload: "say hi"},
	))
	node := &fakeNode{state: "running", fail: true}
	sw := newSweeper(store, node, server.Server{ID: 1}, nil)

	require.NoError(t, sw.Handle(context.Background(), nil))
	assert.Empty(t, node.commands)
	// Failure still advances the schedule for its next window.
	assert.False(t, store.processing[1])
	assert.NotZero(t, store.advanced[1])
}

func TestSweepContinueOnFailure(t *testing.T) {
	store := newSweepStore(dueSchedule(
		Task{ID: 1, ScheduleID: 1, Sequence: 1, Action: ActionBackup},
		Task{ID: 2, ScheduleID: 1, Sequence: 2, Action: ActionCommand, Payload: "say hi"},
	))
	node := &fakeNode{state: "running"}
	backupErr := func(ctx context.Context, sctx *server.Context, ignore string) error {
		return errors.New("backup limit reached")
	}
	sched := &store.due[0]
	sched.Tasks[0].ContinueOnFailure = true
	sw := newSweeper(store, node, server.Server{ID: 1}, backupErr)

	require.NoError(t, sw.Handle(context.Background(), nil))
	assert.Equal(t, []string{"say hi"}, node.commands)
}

func TestSweepParksScheduleWithInvalidStoredCron(t *testing.T) {
	sched := dueSchedule(Task{ID: 1, ScheduleID: 1, Sequence: 1, Action: ActionCommand, Payload: "save-all"})
	sched.Cron.Minute = "not-a-minute"
	store := newSweepStore(sched)
	node := &fakeNode{state: "running"}
	sw := newSweeper(store, node, server.Server{ID: 1}, nil)

	require.NoError(t, sw.Handle(context.Background(), nil))

	// The expression can never fire; the schedule stays flagged so
	// ListDue does not re-select it on the next sweep.
	assert.Empty(t, node.commands)
	assert.Zero(t, store.advanced[1])
	assert.True(t, store.processing[1])
}
