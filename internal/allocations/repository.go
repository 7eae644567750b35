// Package allocations manages the network ports assigned to a server.
package allocations

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound indicates the allocation does not exist on this server.
var ErrNotFound = errors.New("allocations: not found")

// Allocation is one ip:port assignment.
type Allocation struct {
	ID        int64
	ServerID  int64
	IP        string
	IPAlias   string
	Port      int
	Notes     string
	IsPrimary bool
}

// Repository persists allocations in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const allocationColumns = `id, server_id, ip, ip_alias, port, notes, is_primary`

func scanAllocation(row pgx.Row) (Allocation, error) {
	var a Allocation
	err := row.Scan(&a.ID, &a.ServerID, &a.IP, &a.IPAlias, &a.Port, &a.Notes, &a.IsPrimary)
	return a, err
}

// ListForServer returns every allocation on a server, primary first.
func (r *Repository) ListForServer(ctx context.Context, serverID int64) ([]Allocation, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+allocationColumns+` FROM allocations
		WHERE server_id = $1 ORDER BY is_primary DESC, port`, serverID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var allocations []Allocation
	for rows.Next() {
		a, err := scanAllocation(rows)
		if err != nil {
			return nil, err
		}
		allocations = append(allocations, a)
	}
	return allocations, rows.Err()
}

// Get fetches one allocation scoped to a server.
func (r *Repository) Get(ctx context.Context, serverID, allocationID int64) (Allocation, error) {
	a, err := scanAllocation(r.pool.QueryRow(ctx,
		`SELECT `+allocationColumns+` FROM allocations WHERE server_id = $1 AND id = $2`,
		serverID, allocationID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Allocation{}, ErrNotFound
		}
		return Allocation{}, err
	}
	return a, nil
}

// UpdateNotes replaces the free-form notes on an allocation.
func (r *Repository) UpdateNotes(ctx context.Context, serverID, allocationID int64, notes string) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE allocations SET notes = $3 WHERE server_id = $1 AND id = $2`,
		serverID, allocationID, notes)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SetPrimary atomically moves the primary flag to one allocation.
func (r *Repository) SetPrimary(ctx context.Context, serverID, allocationID int64) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`UPDATE allocations SET is_primary = FALSE WHERE server_id = $1`, serverID); err != nil {
		return err
	}
	tag, err := tx.Exec(ctx,
		`UPDATE allocations SET is_primary = TRUE WHERE server_id = $1 AND id = $2`,
		serverID, allocationID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return tx.Commit(ctx)
}

// Release detaches an allocation from the server and clears its notes so
// the port returns to the node's free pool.
func (r *Repository) Release(ctx context.Context, serverID, allocationID int64) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE allocations SET server_id = NULL, notes = '', is_primary = FALSE
		WHERE server_id = $1 AND id = $2`,
		serverID, allocationID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
