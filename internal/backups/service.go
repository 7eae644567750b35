package backups

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/portside-host/portside/internal/apperr"
	"github.com/portside-host/portside/internal/server"
)

// RepositoryPort defines the data access used by the service.
type RepositoryPort interface {
	CountForServer(ctx context.Context, serverID int64) (int, error)
	ListForServer(ctx context.Context, serverID int64, page, perPage int) ([]Backup, int, error)
	GetByUUID(ctx context.Context, serverID int64, backupUUID uuid.UUID) (Backup, error)
	Insert(ctx context.Context, b Backup) (Backup, error)
	Delete(ctx context.Context, id int64) error
}

// NodeBackups is the slice of the daemon facade this service drives.
type NodeBackups interface {
	CreateBackup(ctx context.Context, backupUUID uuid.UUID, ignore string) error
	DeleteBackup(ctx context.Context, backupUUID uuid.UUID) error
}

// Provider builds a request-scoped backup client for one server.
type Provider func(ctx context.Context, srv server.Server) (NodeBackups, error)

// Service implements backup business logic.
type Service struct {
	repo   RepositoryPort
	daemon Provider
	logger *slog.Logger
}

// NewService constructs Service.
func NewService(repo RepositoryPort, daemon Provider, logger *slog.Logger) *Service {
	return &Service{repo: repo, daemon: daemon, logger: logger}
}

// List returns a page of backups for the context server.
func (s *Service) List(ctx context.Context, sctx *server.Context, page, perPage int) ([]Backup, int, error) {
	backups, total, err := s.repo.ListForServer(ctx, sctx.Server.ID, page, perPage)
	if err != nil {
		s.logger.Error("list backups", slog.Int64("server_id", sctx.Server.ID), slog.Any("error", err))
		return nil, 0, apperr.Internal("")
	}
	return backups, total, nil
}

// Get fetches one backup scoped to the context server.
func (s *Service) Get(ctx context.Context, sctx *server.Context, backupUUID uuid.UUID) (Backup, error) {
	b, err := s.repo.GetByUUID(ctx, sctx.Server.ID, backupUUID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Backup{}, apperr.NotFound("Backup")
		}
		s.logger.Error("get backup", slog.String("backup", backupUUID.String()), slog.Any("error", err))
		return Backup{}, apperr.Internal("")
	}
	return b, nil
}

// Create enforces the server's backup limit, inserts the row, then asks
// the node to start the archive. The row insert models a remote create: a
// failed RPC rolls it back so a 5xx never leaves an orphan row behind.
func (s *Service) Create(ctx context.Context, sctx *server.Context, name, ignore string) (Backup, error) {
	limit := sctx.Server.FeatureLimits.Backups
	if limit <= 0 {
		return Backup{}, apperr.Display("Backups cannot be created for this server.")
	}
	count, err := s.repo.CountForServer(ctx, sctx.Server.ID)
	if err != nil {
		s.logger.Error("count backups", slog.Int64("server_id", sctx.Server.ID), slog.Any("error", err))
		return Backup{}, apperr.Internal("")
	}
	if count >= limit {
		return Backup{}, apperr.Display(fmt.Sprintf(
			"This server has reached its backup limit of %d.", limit))
	}

	if strings.TrimSpace(name) == "" {
		name = "Backup " + uuid.NewString()[:8]
	}

	b, err := s.repo.Insert(ctx, Backup{
		UUID:         uuid.New(),
		ServerID:     sctx.Server.ID,
		Name:         name,
		IgnoredFiles: ignore,
	})
	if err != nil {
		s.logger.Error("insert backup", slog.Int64("server_id", sctx.Server.ID), slog.Any("error", err))
		return Backup{}, apperr.Internal("")
	}

	nb, err := s.daemon(ctx, sctx.Server)
	if err != nil {
		s.compensate(ctx, b)
		return Backup{}, err
	}
	if err := nb.CreateBackup(ctx, b.UUID, ignore); err != nil {
		s.compensate(ctx, b)
		return Backup{}, err
	}
	return b, nil
}

// compensate removes the row created ahead of a failed node RPC.
func (s *Service) compensate(ctx context.Context, b Backup) {
	if err := s.repo.Delete(ctx, b.ID); err != nil {
		s.logger.Error("compensating backup delete",
			slog.String("backup", b.UUID.String()), slog.Any("error", err))
	}
}

// Delete removes the archive from the node, then the row. A node that no
// longer has the archive (404) does not block deleting the row.
func (s *Service) Delete(ctx context.Context, sctx *server.Context, backupUUID uuid.UUID) error {
	b, err := s.Get(ctx, sctx, backupUUID)
	if err != nil {
		return err
	}

	nb, err := s.daemon(ctx, sctx.Server)
	if err != nil {
		return err
	}
	if err := nb.DeleteBackup(ctx, b.UUID); err != nil {
		appErr := apperr.From(err)
		if appErr.Code != apperr.CodeDaemon || appErr.Status != http.StatusNotFound {
			return err
		}
	}

	if err := s.repo.Delete(ctx, b.ID); err != nil {
		s.logger.Error("delete backup row", slog.String("backup", b.UUID.String()), slog.Any("error", err))
		return apperr.Internal("")
	}
	return nil
}
