package backups

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound indicates the backup row does not exist.
var ErrNotFound = errors.New("backups: not found")

// Repository persists backup rows in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const backupColumns = `id, uuid, server_id, name, ignored_files, bytes, completed_at, created_at`

func scanBackup(row pgx.Row) (Backup, error) {
	var (
		b       Backup
		rawUUID string
	)
	err := row.Scan(&b.ID, &rawUUID, &b.ServerID, &b.Name, &b.IgnoredFiles, &b.Bytes, &b.CompletedAt, &b.CreatedAt)
	if err != nil {
		return Backup{}, err
	}
	if b.UUID, err = uuid.Parse(rawUUID); err != nil {
		return Backup{}, err
	}
	return b, nil
}

// CountForServer returns the number of backup rows a server holds.
func (r *Repository) CountForServer(ctx context.Context, serverID int64) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM backups WHERE server_id = $1`, serverID).Scan(&count)
	return count, err
}

// ListForServer returns a page of backups, newest first.
func (r *Repository) ListForServer(ctx context.Context, serverID int64, page, perPage int) ([]Backup, int, error) {
	total, err := r.CountForServer(ctx, serverID)
	if err != nil {
		return nil, 0, err
	}
	rows, err := r.pool.Query(ctx, `
		SELECT `+backupColumns+` FROM backups
		WHERE server_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`,
		serverID, perPage, (page-1)*perPage)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var backups []Backup
	for rows.Next() {
		b, err := scanBackup(rows)
		if err != nil {
			return nil, 0, err
		}
		backups = append(backups, b)
	}
	return backups, total, rows.Err()
}

// GetByUUID fetches one backup scoped to a server.
func (r *Repository) GetByUUID(ctx context.Context, serverID int64, backupUUID uuid.UUID) (Backup, error) {
	b, err := scanBackup(r.pool.QueryRow(ctx, `
		SELECT `+backupColumns+` FROM backups
		WHERE server_id = $1 AND uuid = $2`,
		serverID, backupUUID.String()))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Backup{}, ErrNotFound
		}
		return Backup{}, err
	}
	return b, nil
}

// Insert creates a backup row and returns it.
func (r *Repository) Insert(ctx context.Context, b Backup) (Backup, error) {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO backups (uuid, server_id, name, ignored_files, bytes, created_at)
		VALUES ($1, $2, $3, $4, 0, NOW())
		RETURNING `+backupColumns,
		b.UUID.String(), b.ServerID, b.Name, b.IgnoredFiles)
	return scanBackup(row)
}

// Delete removes a backup row.
func (r *Repository) Delete(ctx context.Context, id int64) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM backups WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
