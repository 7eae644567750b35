package server

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound indicates the requested row does not exist.
var ErrNotFound = errors.New("server: not found")

// Repository reads servers, nodes and subuser grants from PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const serverColumns = `
	id, uuid, short_id, name, description, owner_id, node_id,
	suspended, installing, transferring, image, allowed_images,
	memory_mb, disk_mb, cpu_percent,
	database_limit, backup_limit, allocation_limit`

func scanServer(row pgx.Row) (Server, error) {
	var (
		s       Server
		rawUUID string
	)
	err := row.Scan(
		&s.ID, &rawUUID, &s.ShortID, &s.Name, &s.Description, &s.OwnerID, &s.NodeID,
		&s.Suspended, &s.Installing, &s.Transferring, &s.Image, &s.AllowedImages,
		&s.Limits.MemoryMB, &s.Limits.DiskMB, &s.Limits.CPUPercent,
		&s.FeatureLimits.Databases, &s.FeatureLimits.Backups, &s.FeatureLimits.Allocations,
	)
	if err != nil {
		return Server{}, err
	}
	if s.UUID, err = uuid.Parse(rawUUID); err != nil {
		return Server{}, err
	}
	return s, nil
}

// GetByIdentifier locates a server by full UUID or short identifier.
func (r *Repository) GetByIdentifier(ctx context.Context, identifier string) (Server, error) {
	query := `SELECT ` + serverColumns + ` FROM servers WHERE short_id = $1`
	if _, err := uuid.Parse(identifier); err == nil {
		query = `SELECT ` + serverColumns + ` FROM servers WHERE uuid = $1`
	}
	s, err := scanServer(r.pool.QueryRow(ctx, query, identifier))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Server{}, ErrNotFound
		}
		return Server{}, err
	}
	return s, nil
}

// ListForPrincipal returns a page of servers the principal owns or holds
// a grant on. With includeAll set, every server is returned instead;
// callers gate that on admin scope.
func (r *Repository) ListForPrincipal(ctx context.Context, principalID int64, includeAll bool, page, perPage int) ([]Server, int, error) {
	where := `WHERE owner_id = $1 OR id IN (SELECT server_id FROM subusers WHERE principal_id = $1)`
	if includeAll {
		// Keeps the placeholder arity identical across both shapes.
		where = `WHERE $1::bigint = $1::bigint`
	}

	var total int
	if err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM servers `+where, principalID).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.pool.Query(ctx,
		`SELECT `+serverColumns+` FROM servers `+where+` ORDER BY name LIMIT $2 OFFSET $3`,
		principalID, perPage, (page-1)*perPage)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var servers []Server
	for rows.Next() {
		s, err := scanServer(rows)
		if err != nil {
			return nil, 0, err
		}
		servers = append(servers, s)
	}
	return servers, total, rows.Err()
}

// GetByID loads a server by primary key. Used by background workers that
// hold a stored server id rather than a caller-supplied identifier.
func (r *Repository) GetByID(ctx context.Context, serverID int64) (Server, error) {
	s, err := scanServer(r.pool.QueryRow(ctx,
		`SELECT `+serverColumns+` FROM servers WHERE id = $1`, serverID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Server{}, ErrNotFound
		}
		return Server{}, err
	}
	return s, nil
}

// GetNode loads a node connection descriptor by id.
func (r *Repository) GetNode(ctx context.Context, nodeID int64) (Node, error) {
	const query = `SELECT id, name, scheme, host, port, token FROM nodes WHERE id = $1`
	var n Node
	err := r.pool.QueryRow(ctx, query, nodeID).Scan(&n.ID, &n.Name, &n.Scheme, &n.Host, &n.Port, &n.Token)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Node{}, ErrNotFound
		}
		return Node{}, err
	}
	return n, nil
}

// GetSubuserGrant fetches the grant for (server, principal), or ErrNotFound.
func (r *Repository) GetSubuserGrant(ctx context.Context, serverID, principalID int64) (*SubuserGrant, error) {
	const query = `
		SELECT id, server_id, principal_id, permissions
		FROM subusers
		WHERE server_id = $1 AND principal_id = $2`
	var g SubuserGrant
	err := r.pool.QueryRow(ctx, query, serverID, principalID).Scan(
		&g.ID, &g.ServerID, &g.PrincipalID, &g.Permissions,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &g, nil
}

// UpdateName persists a rename.
func (r *Repository) UpdateName(ctx context.Context, serverID int64, name, description string) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE servers SET name = $2, description = $3 WHERE id = $1`,
		serverID, name, description)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateImage persists a docker image change.
func (r *Repository) UpdateImage(ctx context.Context, serverID int64, image string) error {
	tag, err := r.pool.Exec(ctx, `UPDATE servers SET image = $2 WHERE id = $1`, serverID, image)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SetInstalling flips the installing flag around a reinstall round-trip.
func (r *Repository) SetInstalling(ctx context.Context, serverID int64, installing bool) error {
	_, err := r.pool.Exec(ctx, `UPDATE servers SET installing = $2 WHERE id = $1`, serverID, installing)
	return err
}
