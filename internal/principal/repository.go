package principal

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound indicates the key or principal does not exist.
var ErrNotFound = errors.New("principal: not found")

// Repository reads principals and API keys from PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// GetKeyByIdentifier loads an API key row by its public identifier.
func (r *Repository) GetKeyByIdentifier(ctx context.Context, identifier string) (APIKey, error) {
	const query = `
		SELECT id, principal_id, identifier, secret_hash, last_used_at
		FROM api_keys
		WHERE identifier = $1`
	var key APIKey
	err := r.pool.QueryRow(ctx, query, identifier).Scan(
		&key.ID, &key.PrincipalID, &key.Identifier, &key.SecretHash, &key.LastUsedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return APIKey{}, ErrNotFound
		}
		return APIKey{}, err
	}
	return key, nil
}

// GetPrincipal loads a principal with its admin scopes.
func (r *Repository) GetPrincipal(ctx context.Context, id int64) (Principal, error) {
	const query = `
		SELECT id, uuid, email, username, deleted_at
		FROM principals
		WHERE id = $1`
	var (
		p       Principal
		rawUUID string
	)
	err := r.pool.QueryRow(ctx, query, id).Scan(&p.ID, &rawUUID, &p.Email, &p.Username, &p.DeletedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Principal{}, ErrNotFound
		}
		return Principal{}, err
	}
	if p.UUID, err = uuid.Parse(rawUUID); err != nil {
		return Principal{}, err
	}

	const scopeQuery = `SELECT scope FROM principal_admin_scopes WHERE principal_id = $1`
	rows, err := r.pool.Query(ctx, scopeQuery, id)
	if err != nil {
		return Principal{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var scope string
		if err := rows.Scan(&scope); err != nil {
			return Principal{}, err
		}
		p.AdminScopes = append(p.AdminScopes, scope)
	}
	return p, rows.Err()
}

// TouchKey updates last_used_at, best effort.
func (r *Repository) TouchKey(ctx context.Context, keyID int64) error {
	_, err := r.pool.Exec(ctx, `UPDATE api_keys SET last_used_at = NOW() WHERE id = $1`, keyID)
	return err
}
