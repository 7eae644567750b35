// Package databases manages per-server database users provisioned on the
// platform's shared database hosts.
package databases

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound indicates the database does not exist on this server.
var ErrNotFound = errors.New("databases: not found")

// Database is one provisioned database user on a shared host.
type Database struct {
	ID             int64
	ServerID       int64
	Name           string
	Username       string
	Password       string
	Remote         string
	HostAddress    string
	HostPort       int
	MaxConnections int
}

// Repository persists database rows in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const databaseColumns = `
	d.id, d.server_id, d.database_name, d.username, d.password, d.remote, d.max_connections,
	h.address, h.port`

const databaseQuery = `
	SELECT ` + databaseColumns + `
	FROM server_databases d
	JOIN database_hosts h ON h.id = d.host_id`

func scanDatabase(row pgx.Row) (Database, error) {
	var d Database
	err := row.Scan(&d.ID, &d.ServerID, &d.Name, &d.Username, &d.Password,
		&d.Remote, &d.MaxConnections, &d.HostAddress, &d.HostPort)
	return d, err
}

// CountForServer returns how many databases a server holds.
func (r *Repository) CountForServer(ctx context.Context, serverID int64) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM server_databases WHERE server_id = $1`, serverID).Scan(&count)
	return count, err
}

// ListForServer returns every database on a server.
func (r *Repository) ListForServer(ctx context.Context, serverID int64) ([]Database, error) {
	rows, err := r.pool.Query(ctx, databaseQuery+` WHERE d.server_id = $1 ORDER BY d.id`, serverID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var databases []Database
	for rows.Next() {
		d, err := scanDatabase(rows)
		if err != nil {
			return nil, err
		}
		databases = append(databases, d)
	}
	return databases, rows.Err()
}

// Get fetches one database scoped to a server.
func (r *Repository) Get(ctx context.Context, serverID, databaseID int64) (Database, error) {
	d, err := scanDatabase(r.pool.QueryRow(ctx,
		databaseQuery+` WHERE d.server_id = $1 AND d.id = $2`, serverID, databaseID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Database{}, ErrNotFound
		}
		return Database{}, err
	}
	return d, nil
}

// PickHost chooses the least loaded database host.
func (r *Repository) PickHost(ctx context.Context) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx, `
		SELECT h.id FROM database_hosts h
		LEFT JOIN server_databases d ON d.host_id = h.id
		GROUP BY h.id
		ORDER BY COUNT(d.id) ASC
		LIMIT 1`).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrNotFound
		}
		return 0, err
	}
	return id, nil
}

// Insert creates a database row and returns it with host details.
func (r *Repository) Insert(ctx context.Context, hostID int64, d Database) (Database, error) {
	var id int64
	err := r.pool.QueryRow(ctx, `
		INSERT INTO server_databases (server_id, host_id, database_name, username, password, remote, max_connections)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`,
		d.ServerID, hostID, d.Name, d.Username, d.Password, d.Remote, d.MaxConnections).Scan(&id)
	if err != nil {
		return Database{}, err
	}
	return r.Get(ctx, d.ServerID, id)
}

// UpdatePassword replaces the stored credential.
func (r *Repository) UpdatePassword(ctx context.Context, databaseID int64, password string) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE server_databases SET password = $2 WHERE id = $1`, databaseID, password)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes a database row.
func (r *Repository) Delete(ctx context.Context, databaseID int64) error {
	tag, err := r.pool.Exec(ctx,
		`DELETE FROM server_databases WHERE id = $1`, databaseID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
