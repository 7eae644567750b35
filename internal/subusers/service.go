package subusers

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/portside-host/portside/internal/apperr"
	"github.com/portside-host/portside/internal/permission"
	"github.com/portside-host/portside/internal/server"
)

// RepositoryPort defines the data access used by the service.
type RepositoryPort interface {
	ListForServer(ctx context.Context, serverID int64) ([]Subuser, error)
	GetByPrincipalUUID(ctx context.Context, serverID int64, principalUUID uuid.UUID) (Subuser, error)
	FindPrincipalIDByEmail(ctx context.Context, email string) (int64, error)
	Insert(ctx context.Context, serverID, principalID int64, permissions []string) error
	UpdatePermissions(ctx context.Context, grantID int64, permissions []string) error
	Delete(ctx context.Context, grantID int64) error
}

// Service implements subuser grant business logic. Requested permission
// lists are expanded through the catalog exactly once, when the grant is
// written.
type Service struct {
	repo   RepositoryPort
	logger *slog.Logger
}

// NewService constructs Service.
func NewService(repo RepositoryPort, logger *slog.Logger) *Service {
	return &Service{repo: repo, logger: logger}
}

// List returns every grant on the context server.
func (s *Service) List(ctx context.Context, sctx *server.Context) ([]Subuser, error) {
	subusers, err := s.repo.ListForServer(ctx, sctx.Server.ID)
	if err != nil {
		s.logger.Error("list subusers", slog.Int64("server_id", sctx.Server.ID), slog.Any("error", err))
		return nil, apperr.Internal("")
	}
	return subusers, nil
}

// Get fetches one grant by the subuser's UUID.
func (s *Service) Get(ctx context.Context, sctx *server.Context, principalUUID uuid.UUID) (Subuser, error) {
	sub, err := s.repo.GetByPrincipalUUID(ctx, sctx.Server.ID, principalUUID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Subuser{}, apperr.NotFound("Subuser")
		}
		s.logger.Error("get subuser", slog.String("subuser", principalUUID.String()), slog.Any("error", err))
		return Subuser{}, apperr.Internal("")
	}
	return sub, nil
}

// Create grants a principal, located by email, the expanded permission
// list. The owner can never be granted; a second grant for the same
// principal is rejected.
func (s *Service) Create(ctx context.Context, sctx *server.Context, email string, requested []string) (Subuser, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return Subuser{}, apperr.Validation("email", "required", "An email address must be provided.")
	}

	expanded, err := permission.Expand(requested)
	if err != nil {
		return Subuser{}, err
	}

	principalID, err := s.repo.FindPrincipalIDByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Subuser{}, apperr.NotFound("User")
		}
		s.logger.Error("find principal by email", slog.Any("error", err))
		return Subuser{}, apperr.Internal("")
	}
	if principalID == sctx.Server.OwnerID {
		return Subuser{}, apperr.Display("The server owner cannot be added as a subuser.")
	}

	if err := s.repo.Insert(ctx, sctx.Server.ID, principalID, expanded); err != nil {
		if errors.Is(err, ErrDuplicate) {
			return Subuser{}, apperr.Display("That user is already a subuser of this server.")
		}
		s.logger.Error("insert subuser", slog.Int64("server_id", sctx.Server.ID), slog.Any("error", err))
		return Subuser{}, apperr.Internal("")
	}

	// Re-read through the join so callers get the principal identity.
	subusers, err := s.repo.ListForServer(ctx, sctx.Server.ID)
	if err != nil {
		s.logger.Error("reload subusers", slog.Any("error", err))
		return Subuser{}, apperr.Internal("")
	}
	for _, sub := range subusers {
		if sub.PrincipalID == principalID {
			return sub, nil
		}
	}
	return Subuser{}, apperr.Internal("")
}

// Update replaces a grant's permissions with the expanded requested list.
func (s *Service) Update(ctx context.Context, sctx *server.Context, principalUUID uuid.UUID, requested []string) (Subuser, error) {
	expanded, err := permission.Expand(requested)
	if err != nil {
		return Subuser{}, err
	}
	sub, err := s.Get(ctx, sctx, principalUUID)
	if err != nil {
		return Subuser{}, err
	}
	if err := s.repo.UpdatePermissions(ctx, sub.GrantID, expanded); err != nil {
		s.logger.Error("update subuser", slog.Int64("grant_id", sub.GrantID), slog.Any("error", err))
		return Subuser{}, apperr.Internal("")
	}
	sub.Permissions = expanded
	return sub, nil
}

// Delete revokes a grant.
func (s *Service) Delete(ctx context.Context, sctx *server.Context, principalUUID uuid.UUID) error {
	sub, err := s.Get(ctx, sctx, principalUUID)
	if err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, sub.GrantID); err != nil {
		s.logger.Error("delete subuser", slog.Int64("grant_id", sub.GrantID), slog.Any("error", err))
		return apperr.Internal("")
	}
	return nil
}
