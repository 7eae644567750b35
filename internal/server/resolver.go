package server

import (
	"context"
	"errors"
	"log/slog"

	"github.com/portside-host/portside/internal/apperr"
	"github.com/portside-host/portside/internal/permission"
	"github.com/portside-host/portside/internal/principal"
)

// Store defines the reads the resolver performs. Grants are fetched fresh
// on every request; authorization decisions are never cached.
type Store interface {
	GetByIdentifier(ctx context.Context, identifier string) (Server, error)
	GetSubuserGrant(ctx context.Context, serverID, principalID int64) (*SubuserGrant, error)
}

// Resolver computes the request Context for a (principal, server) pair.
type Resolver struct {
	store  Store
	logger *slog.Logger
}

// NewResolver constructs Resolver.
func NewResolver(store Store, logger *slog.Logger) *Resolver {
	return &Resolver{store: store, logger: logger}
}

// Resolve locates the server, decides ownership/admin status, and computes
// the effective permission set.
//
// A principal that is neither owner nor admin and holds no grant receives
// Forbidden, not NotFound: server existence is not hidden from ungranted
// principals.
func (r *Resolver) Resolve(ctx context.Context, p principal.Principal, identifier string) (*Context, error) {
	if p.IsDeleted() {
		return nil, apperr.Authorization()
	}

	srv, err := r.store.GetByIdentifier(ctx, identifier)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, apperr.NotFound("Server")
		}
		r.logger.Error("resolve server", slog.String("identifier", identifier), slog.Any("error", err))
		return nil, apperr.Internal("")
	}

	isOwner := srv.OwnerID == p.ID
	isAdmin := p.HasAdminScope()

	var grant *SubuserGrant
	if !isOwner && !isAdmin {
		grant, err = r.store.GetSubuserGrant(ctx, srv.ID, p.ID)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return nil, apperr.Authorization()
			}
			r.logger.Error("resolve subuser grant",
				slog.Int64("server_id", srv.ID),
				slog.Int64("principal_id", p.ID),
				slog.Any("error", err))
			return nil, apperr.Internal("")
		}
	}

	var perms []string
	if grant != nil {
		perms = grant.Permissions
	}

	return &Context{
		Principal:   p,
		Server:      srv,
		IsOwner:     isOwner,
		IsAdmin:     isAdmin,
		Grant:       grant,
		Permissions: permission.NewSet(isOwner, isAdmin, perms),
	}, nil
}
