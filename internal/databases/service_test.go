package databases

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/portside-host/portside/internal/apperr"
	"github.com/portside-host/portside/internal/server"
)

type mockRepo struct {
	databases map[int64]Database
	nextID    int64
	hosts     bool
}

func newMockRepo() *mockRepo {
	return &mockRepo{databases: map[int64]Database{}, nextID: 1, hosts: true}
}

func (m *mockRepo) CountForServer(ctx context.Context, serverID int64) (int, error) {
	count := 0
	for _, d := range m.databases {
		if d.ServerID == serverID {
			count++
		}
	}
	return count, nil
}

func (m *mockRepo) ListForServer(ctx context.Context, serverID int64) ([]Database, error) {
	var out []Database
	for _, d := range m.databases {
		if d.ServerID == serverID {
			out = append(out, d)
		}
	}
	return out, nil
}

func (m *mockRepo) Get(ctx context.Context, serverID, databaseID int64) (Database, error) {
	d, ok := m.databases[databaseID]
	if !ok || d.ServerID != serverID {
		return Database{}, ErrNotFound
	}
	return d, nil
}

func (m *mockRepo) PickHost(ctx context.Context) (int64, error) {
	if !m.hosts {
		return 0, ErrNotFound
	}
	return 1, nil
}

func (m *mockRepo) Insert(ctx context.Context, hostID int64, d Database) (Database, error) {
	d.ID = m.nextID
	d.HostAddress = "db1.internal"
	d.HostPort = 3306
	m.nextID++
	m.databases[d.ID] = d
	return d, nil
}

func (m *mockRepo) UpdatePassword(ctx context.Context, databaseID int64, password string) error {
	d, ok := m.databases[databaseID]
	if !ok {
		return ErrNotFound
	}
	d.Password = password
	m.databases[databaseID] = d
	return nil
}

func (m *mockRepo) Delete(ctx context.Context, databaseID int64) error {
	if _, ok := m.databases[databaseID]; !ok {
		return ErrNotFound
	}
	delete(m.databases, databaseID)
	return nil
}

func limitedContext(limit int) *server.Context {
	return &server.Context{
		Server: server.Server{
			ID:            1,
			ShortID:       "ab12cd34",
			OwnerID:       10,
			FeatureLimits: server.FeatureLimits{Databases: limit},
		},
		IsOwner: true,
	}
}

func TestCreateGeneratesCredentials(t *testing.T) {
	svc := NewService(newMockRepo(), slog.New(slog.DiscardHandler))

	d, err := svc.Create(context.Background(), limitedContext(2), "worlds", "")
	require.NoError(t, err)
	assert.Equal(t, "sab12cd34_worlds", d.Name)
	assert.Len(t, d.Password, passwordLength)
	assert.Equal(t, "%", d.Remote)
	assert.Contains(t, d.Username, "uab12cd34_")
}

func TestCreateEnforcesLimit(t *testing.T) {
	svc := NewService(newMockRepo(), slog.New(slog.DiscardHandler))
	sctx := limitedContext(1)

	_, err := svc.Create(context.Background(), sctx, "worlds", "")
	require.NoError(t, err)

	_, err = svc.Create(context.Background(), sctx, "stats", "")
	var appErr *apperr.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, apperr.CodeDisplay, appErr.Code)
}

func TestCreateZeroLimit(t *testing.T) {
	svc := NewService(newMockRepo(), slog.New(slog.DiscardHandler))

	_, err := svc.Create(context.Background(), limitedContext(0), "worlds", "")
	var appErr *apperr.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, apperr.CodeDisplay, appErr.Code)
}

func TestCreateRejectsBadName(t *testing.T) {
	svc := NewService(newMockRepo(), slog.New(slog.DiscardHandler))

	_, err := svc.Create(context.Background(), limitedContext(2), "bad name!", "")
	var appErr *apperr.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, apperr.CodeValidation, appErr.Code)
	assert.Equal(t, "database", appErr.SourceField)
}

func TestCreateNoHostAvailable(t *testing.T) {
	repo := newMockRepo()
	repo.hosts = false
	svc := NewService(repo, slog.New(slog.DiscardHandler))

	_, err := svc.Create(context.Background(), limitedContext(2), "worlds", "")
	var appErr *apperr.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, apperr.CodeDisplay, appErr.Code)
}

func TestRotatePasswordChangesCredential(t *testing.T) {
	repo := newMockRepo()
	svc := NewService(repo, slog.New(slog.DiscardHandler))
	sctx := limitedContext(2)

	d, err := svc.Create(context.Background(), sctx, "worlds", "")
	require.NoError(t, err)

	rotated, err := svc.RotatePassword(context.Background(), sctx, d.ID)
	require.NoError(t, err)
	assert.NotEqual(t, d.Password, rotated.Password)
	assert.Len(t, rotated.Password, passwordLength)
}

func TestDeleteUnknownDatabase(t *testing.T) {
	svc := NewService(newMockRepo(), slog.New(slog.DiscardHandler))

	err := svc.Delete(context.Background(), limitedContext(2), 99)
	var appErr *apperr.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, apperr.CodeNotFound, appErr.Code)
}
