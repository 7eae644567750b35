// Package subusers manages scoped permission grants for non-owner
// principals on one server.
package subusers

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrNotFound indicates the grant or principal does not exist.
	ErrNotFound = errors.New("subusers: not found")
	// ErrDuplicate indicates the principal already holds a grant here.
	ErrDuplicate = errors.New("subusers: grant already exists")
)

// Subuser is a grant joined with the granted principal's public identity.
type Subuser struct {
	GrantID       int64
	ServerID      int64
	PrincipalID   int64
	PrincipalUUID uuid.UUID
	Email         string
	Username      string
	Permissions   []string
}

// Repository persists subuser grants in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const subuserQuery = `
	SELECT s.id, s.server_id, s.principal_id, p.uuid, p.email, p.username, s.permissions
	FROM subusers s
	JOIN principals p ON p.id = s.principal_id`

func scanSubuser(row pgx.Row) (Subuser, error) {
	var (
		s       Subuser
		rawUUID string
	)
	err := row.Scan(&s.GrantID, &s.ServerID, &s.PrincipalID, &rawUUID, &s.Email, &s.Username, &s.Permissions)
	if err != nil {
		return Subuser{}, err
	}
	if s.PrincipalUUID, err = uuid.Parse(rawUUID); err != nil {
		return Subuser{}, err
	}
	return s, nil
}

// ListForServer returns every grant on a server.
func (r *Repository) ListForServer(ctx context.Context, serverID int64) ([]Subuser, error) {
	rows, err := r.pool.Query(ctx, subuserQuery+` WHERE s.server_id = $1 ORDER BY s.id`, serverID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var subusers []Subuser
	for rows.Next() {
		s, err := scanSubuser(rows)
		if err != nil {
			return nil, err
		}
		subusers = append(subusers, s)
	}
	return subusers, rows.Err()
}

// GetByPrincipalUUID fetches one grant by the subuser's public UUID.
func (r *Repository) GetByPrincipalUUID(ctx context.Context, serverID int64, principalUUID uuid.UUID) (Subuser, error) {
	s, err := scanSubuser(r.pool.QueryRow(ctx,
		subuserQuery+` WHERE s.server_id = $1 AND p.uuid = $2`,
		serverID, principalUUID.String()))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Subuser{}, ErrNotFound
		}
		return Subuser{}, err
	}
	return s, nil
}

// FindPrincipalIDByEmail resolves an email to a principal id.
func (r *Repository) FindPrincipalIDByEmail(ctx context.Context, email string) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx,
		`SELECT id FROM principals WHERE email = $1 AND deleted_at IS NULL`, email).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrNotFound
		}
		return 0, err
	}
	return id, nil
}

// Insert creates a grant. The unique (server_id, principal_id) index
// enforces at most one grant per principal per server.
func (r *Repository) Insert(ctx context.Context, serverID, principalID int64, permissions []string) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO subusers (server_id, principal_id, permissions)
		VALUES ($1, $2, $3)`,
		serverID, principalID, permissions)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrDuplicate
	}
	return err
}

// UpdatePermissions replaces a grant's permission list.
func (r *Repository) UpdatePermissions(ctx context.Context, grantID int64, permissions []string) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE subusers SET permissions = $2 WHERE id = $1`, grantID, permissions)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes a grant.
func (r *Repository) Delete(ctx context.Context, grantID int64) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM subusers WHERE id = $1`, grantID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
