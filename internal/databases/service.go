package databases

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"regexp"
	"strings"

	"github.com/portside-host/portside/internal/apperr"
	"github.com/portside-host/portside/internal/server"
)

// RepositoryPort defines the data access used by the service.
type RepositoryPort interface {
	CountForServer(ctx context.Context, serverID int64) (int, error)
	ListForServer(ctx context.Context, serverID int64) ([]Database, error)
	Get(ctx context.Context, serverID, databaseID int64) (Database, error)
	PickHost(ctx context.Context) (int64, error)
	Insert(ctx context.Context, hostID int64, d Database) (Database, error)
	UpdatePassword(ctx context.Context, databaseID int64, password string) error
	Delete(ctx context.Context, databaseID int64) error
}

var databaseNamePattern = regexp.MustCompile(`^[A-Za-z0-9_\-.]{1,48}$`)

const passwordAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZabcdefghjkmnpqrstuvwxyz23456789!@#$%^&*"

const passwordLength = 24

// Service implements database provisioning rules.
type Service struct {
	repo   RepositoryPort
	logger *slog.Logger
}

// NewService constructs Service.
func NewService(repo RepositoryPort, logger *slog.Logger) *Service {
	return &Service{repo: repo, logger: logger}
}

func randomString(alphabet string, length int) (string, error) {
	var b strings.Builder
	max := big.NewInt(int64(len(alphabet)))
	for i := 0; i < length; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b.WriteByte(alphabet[n.Int64()])
	}
	return b.String(), nil
}

// generatePassword draws a fresh random credential.
func generatePassword() (string, error) {
	return randomString(passwordAlphabet, passwordLength)
}

// List returns the server's databases.
func (s *Service) List(ctx context.Context, sctx *server.Context) ([]Database, error) {
	databases, err := s.repo.ListForServer(ctx, sctx.Server.ID)
	if err != nil {
		s.logger.Error("list databases", slog.Int64("server_id", sctx.Server.ID), slog.Any("error", err))
		return nil, apperr.Internal("")
	}
	return databases, nil
}

// Get fetches one database.
func (s *Service) Get(ctx context.Context, sctx *server.Context, databaseID int64) (Database, error) {
	d, err := s.repo.Get(ctx, sctx.Server.ID, databaseID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Database{}, apperr.NotFound("Database")
		}
		s.logger.Error("get database", slog.Int64("database_id", databaseID), slog.Any("error", err))
		return Database{}, apperr.Internal("")
	}
	return d, nil
}

// Create provisions a database user on the least loaded host, enforcing
// the server's database limit.
func (s *Service) Create(ctx context.Context, sctx *server.Context, name, remote string) (Database, error) {
	if !databaseNamePattern.MatchString(name) {
		return Database{}, apperr.Validation("database", "regex",
			"Database names may only contain alphanumerics, dashes, underscores and dots.")
	}
	if remote == "" {
		remote = "%"
	}

	limit := sctx.Server.FeatureLimits.Databases
	if limit <= 0 {
		return Database{}, apperr.Display("Databases cannot be created for this server.")
	}
	count, err := s.repo.CountForServer(ctx, sctx.Server.ID)
	if err != nil {
		s.logger.Error("count databases", slog.Int64("server_id", sctx.Server.ID), slog.Any("error", err))
		return Database{}, apperr.Internal("")
	}
	if count >= limit {
		return Database{}, apperr.Display(fmt.Sprintf(
			"This server has reached its database limit of %d.", limit))
	}

	hostID, err := s.repo.PickHost(ctx)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Database{}, apperr.Display("No database host is available for this server.")
		}
		s.logger.Error("pick database host", slog.Any("error", err))
		return Database{}, apperr.Internal("")
	}

	password, err := generatePassword()
	if err != nil {
		s.logger.Error("generate database password", slog.Any("error", err))
		return Database{}, apperr.Internal("")
	}

	suffix, err := randomString("abcdefghijklmnopqrstuvwxyz0123456789", 10)
	if err != nil {
		s.logger.Error("generate database username", slog.Any("error", err))
		return Database{}, apperr.Internal("")
	}

	// Prefix with the short id so names stay unique per host.
	d := Database{
		ServerID: sctx.Server.ID,
		Name:     fmt.Sprintf("s%s_%s", sctx.Server.ShortID, name),
		Username: fmt.Sprintf("u%s_%s", sctx.Server.ShortID, suffix),
		Password: password,
		Remote:   remote,
	}
	created, err := s.repo.Insert(ctx, hostID, d)
	if err != nil {
		s.logger.Error("insert database", slog.Int64("server_id", sctx.Server.ID), slog.Any("error", err))
		return Database{}, apperr.Internal("")
	}
	return created, nil
}

// RotatePassword regenerates the credential for one database.
func (s *Service) RotatePassword(ctx context.Context, sctx *server.Context, databaseID int64) (Database, error) {
	d, err := s.Get(ctx, sctx, databaseID)
	if err != nil {
		return Database{}, err
	}
	password, err := generatePassword()
	if err != nil {
		s.logger.Error("generate database password", slog.Any("error", err))
		return Database{}, apperr.Internal("")
	}
	if err := s.repo.UpdatePassword(ctx, d.ID, password); err != nil {
		s.logger.Error("rotate database password", slog.Int64("database_id", d.ID), slog.Any("error", err))
		return Database{}, apperr.Internal("")
	}
	d.Password = password
	return d, nil
}

// Delete removes a database and its user.
func (s *Service) Delete(ctx context.Context, sctx *server.Context, databaseID int64) error {
	d, err := s.Get(ctx, sctx, databaseID)
	if err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, d.ID); err != nil {
		s.logger.Error("delete database", slog.Int64("database_id", d.ID), slog.Any("error", err))
		return apperr.Internal("")
	}
	return nil
}
