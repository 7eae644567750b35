package schedules

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound indicates the schedule or task does not exist.
var ErrNotFound = errors.New("schedules: not found")

// Repository persists schedules and tasks in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const scheduleColumns = `id, server_id, name, cron_minute, cron_hour, cron_day_of_month,
	cron_month, cron_day_of_week, is_active, only_when_online, is_processing,
	last_run_at, next_run_at, created_at`

func scanSchedule(row pgx.Row) (Schedule, error) {
	var s Schedule
	err := row.Scan(&s.ID, &s.ServerID, &s.Name,
		&s.Cron.Minute, &s.Cron.Hour, &s.Cron.DayOfMonth, &s.Cron.Month, &s.Cron.DayOfWeek,
		&s.IsActive, &s.OnlyWhenOnline, &s.IsProcessing,
		&s.LastRunAt, &s.NextRunAt, &s.CreatedAt)
	return s, err
}

func scanTasks(rows pgx.Rows) ([]Task, error) {
	defer rows.Close()
	var tasks []Task
	for rows.Next() {
		var t Task
		if err := rows.Scan(&t.ID, &t.ScheduleID, &t.Sequence, &t.Action,
			&t.Payload, &t.TimeOffsetSeconds, &t.ContinueOnFailure); err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

const taskQuery = `
	SELECT id, schedule_id, sequence_id, action, payload, time_offset, continue_on_failure
	FROM schedule_tasks`

func (r *Repository) tasksFor(ctx context.Context, scheduleID int64) ([]Task, error) {
	rows, err := r.pool.Query(ctx, taskQuery+` WHERE schedule_id = $1 ORDER BY sequence_id`, scheduleID)
	if err != nil {
		return nil, err
	}
	return scanTasks(rows)
}

// ListForServer returns all schedules on a server with their tasks.
func (r *Repository) ListForServer(ctx context.Context, serverID int64) ([]Schedule, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+scheduleColumns+` FROM schedules WHERE server_id = $1 ORDER BY id`, serverID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var schedules []Schedule
	for rows.Next() {
		s, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		schedules = append(schedules, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range schedules {
		if schedules[i].Tasks, err = r.tasksFor(ctx, schedules[i].ID); err != nil {
			return nil, err
		}
	}
	return schedules, nil
}

// Get fetches one schedule with tasks, scoped to a server.
func (r *Repository) Get(ctx context.Context, serverID, scheduleID int64) (Schedule, error) {
	s, err := scanSchedule(r.pool.QueryRow(ctx,
		`SELECT `+scheduleColumns+` FROM schedules WHERE server_id = $1 AND id = $2`,
		serverID, scheduleID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Schedule{}, ErrNotFound
		}
		return Schedule{}, err
	}
	if s.Tasks, err = r.tasksFor(ctx, s.ID); err != nil {
		return Schedule{}, err
	}
	return s, nil
}

// Insert creates a schedule and returns its id.
func (r *Repository) Insert(ctx context.Context, s Schedule) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx, `
		INSERT INTO schedules (server_id, name, cron_minute, cron_hour, cron_day_of_month,
			cron_month, cron_day_of_week, is_active, only_when_online, next_run_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id`,
		s.ServerID, s.Name, s.Cron.Minute, s.Cron.Hour, s.Cron.DayOfMonth,
		s.Cron.Month, s.Cron.DayOfWeek, s.IsActive, s.OnlyWhenOnline, s.NextRunAt).Scan(&id)
	return id, err
}

// Update replaces a schedule's editable fields. The processing flag is
// reset so a schedule parked by the sweep becomes eligible again once
// its expression is rewritten.
func (r *Repository) Update(ctx context.Context, s Schedule) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE schedules
		SET name = $3, cron_minute = $4, cron_hour = $5, cron_day_of_month = $6,
			cron_month = $7, cron_day_of_week = $8, is_active = $9,
			only_when_online = $10, next_run_at = $11, is_processing = FALSE
		WHERE server_id = $1 AND id = $2`,
		s.ServerID, s.ID, s.Name, s.Cron.Minute, s.Cron.Hour, s.Cron.DayOfMonth,
		s.Cron.Month, s.Cron.DayOfWeek, s.IsActive, s.OnlyWhenOnline, s.NextRunAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes a schedule and, via FK cascade, its tasks.
func (r *Repository) Delete(ctx context.Context, serverID, scheduleID int64) error {
	tag, err := r.pool.Exec(ctx,
		`DELETE FROM schedules WHERE server_id = $1 AND id = $2`, serverID, scheduleID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// CountTasks returns how many tasks a schedule holds.
func (r *Repository) CountTasks(ctx context.Context, scheduleID int64) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM schedule_tasks WHERE schedule_id = $1`, scheduleID).Scan(&count)
	return count, err
}

// InsertTask appends a task and returns its id.
func (r *Repository) InsertTask(ctx context.Context, t Task) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx, `
		INSERT INTO schedule_tasks (schedule_id, sequence_id, action, payload, time_offset, continue_on_failure)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`,
		t.ScheduleID, t.Sequence, t.Action, t.Payload, t.TimeOffsetSeconds, t.ContinueOnFailure).Scan(&id)
	return id, err
}

// UpdateTask replaces a task's fields.
func (r *Repository) UpdateTask(ctx context.Context, t Task) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE schedule_tasks
		SET sequence_id = $3, action = $4, payload = $5, time_offset = $6, continue_on_failure = $7
		WHERE schedule_id = $1 AND id = $2`,
		t.ScheduleID, t.ID, t.Sequence, t.Action, t.Payload, t.TimeOffsetSeconds, t.ContinueOnFailure)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteTask removes one task.
func (r *Repository) DeleteTask(ctx context.Context, scheduleID, taskID int64) error {
	tag, err := r.pool.Exec(ctx,
		`DELETE FROM schedule_tasks WHERE schedule_id = $1 AND id = $2`, scheduleID, taskID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListDue returns active, unprocessed schedules whose next run is at or
// before the given instant, tasks included.
func (r *Repository) ListDue(ctx context.Context, now time.Time) ([]Schedule, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+scheduleColumns+` FROM schedules
		WHERE is_active AND NOT is_processing AND next_run_at <= $1
		ORDER BY next_run_at`, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var schedules []Schedule
	for rows.Next() {
		s, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		schedules = append(schedules, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range schedules {
		if schedules[i].Tasks, err = r.tasksFor(ctx, schedules[i].ID); err != nil {
			return nil, err
		}
	}
	return schedules, nil
}

// SetProcessing flags or clears the in-flight marker on a schedule.
func (r *Repository) SetProcessing(ctx context.Context, scheduleID int64, processing bool) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE schedules SET is_processing = $2 WHERE id = $1`, scheduleID, processing)
	return err
}

// Advance records a completed run and the next fire time.
func (r *Repository) Advance(ctx context.Context, scheduleID int64, ranAt, next time.Time) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE schedules
		SET is_processing = FALSE, last_run_at = $2, next_run_at = $3
		WHERE id = $1`,
		scheduleID, ranAt, next)
	return err
}
