package activity

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Entry is one stored audit event.
type Entry struct {
	ID        int64
	ServerID  int64
	ActorUUID string
	Event     string
	Metadata  map[string]any
	CreatedAt time.Time
}

// Repository persists and reads activity log entries.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Insert appends one entry.
func (r *Repository) Insert(ctx context.Context, e Entry) error {
	meta, err := json.Marshal(e.Metadata)
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO activity_logs (server_id, actor_uuid, event, metadata, created_at)
		VALUES ($1, $2, $3, $4, NOW())`,
		e.ServerID, e.ActorUUID, e.Event, meta)
	return err
}

// List returns a page of entries for one server, newest first.
func (r *Repository) List(ctx context.Context, serverID int64, page, perPage int) ([]Entry, int, error) {
	var total int
	if err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM activity_logs WHERE server_id = $1`, serverID).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.pool.Query(ctx, `
		SELECT id, server_id, actor_uuid, event, metadata, created_at
		FROM activity_logs
		WHERE server_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`,
		serverID, perPage, (page-1)*perPage)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e    Entry
			meta []byte
		)
		if err := rows.Scan(&e.ID, &e.ServerID, &e.ActorUUID, &e.Event, &meta, &e.CreatedAt); err != nil {
			return nil, 0, err
		}
		if len(meta) > 0 {
			_ = json.Unmarshal(meta, &e.Metadata)
		}
		entries = append(entries, e)
	}
	return entries, total, rows.Err()
}
