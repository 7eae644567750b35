package settings

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"

	"github.com/portside-host/portside/internal/apperr"
	"github.com/portside-host/portside/internal/permission"
	"github.com/portside-host/portside/internal/server"
)

type mockStore struct {
	name       string
	image      string
	installing bool
}

func (m *mockStore) UpdateName(ctx context.Context, serverID int64, name, description string) error {
	m.name = name
	return nil
}

func (m *mockStore) UpdateImage(ctx context.Context, serverID int64, image string) error {
	m.image = image
	return nil
}

func (m *mockStore) SetInstalling(ctx context.Context, serverID int64, installing bool) error {
	m.installing = installing
	return nil
}

type mockNode struct {
	synced      bool
	reinstalled bool
	err         error
}

func (m *mockNode) Sync(ctx context.Context) error {
	if m.err != nil {
		return m.err
	}
	m.synced = true
	return nil
}

func (m *mockNode) Reinstall(ctx context.Context) error {
	if m.err != nil {
		return m.err
	}
	m.reinstalled = true
	return nil
}

type mockRecorder struct {
	events []string
}

func (m *mockRecorder) Record(ctx context.Context, sctx *server.Context, event string, metadata map[string]any) {
	m.events = append(m.events, event)
}

type fixture struct {
	handler  *Handler
	store    *mockStore
	node     *mockNode
	recorder *mockRecorder
}

func newFixture() *fixture {
	f := &fixture{store: &mockStore{}, node: &mockNode{}, recorder: &mockRecorder{}}
	provider := func(ctx context.Context, srv server.Server) (NodeSettings, error) {
		return f.node, nil
	}
	f.handler = NewHandler(slog.New(slog.DiscardHandler), f.store, provider, f.recorder)
	return f
}

func (f *fixture) do(method, path, body string, sctx *server.Context) *httptest.ResponseRecorder {
	r := chi.NewRouter()
	r.Route("/", f.handler.MountRoutes)
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req = req.WithContext(server.ContextWith(req.Context(), sctx))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func ownerContext() *server.Context {
	return &server.Context{
		Server: server.Server{
			ID:            7,
			OwnerID:       1,
			Name:          "lobby",
			Image:         "ghcr.io/example/java:17",
			AllowedImages: []string{"ghcr.io/example/java:17", "ghcr.io/example/java:21"},
		},
		IsOwner:     true,
		Permissions: permission.NewSet(true, false, nil),
	}
}

func TestRenameSyncsNode(t *testing.T) {
	f := newFixture()
	rec := f.do(http.MethodPost, "/rename", `{"name":"survival"}`, ownerContext())

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "survival", f.store.name)
	assert.True(t, f.node.synced)
	assert.Equal(t, []string{"server:settings.rename"}, f.recorder.events)
}

func TestRenameRequiresName(t *testing.T) {
	f := newFixture()
	rec := f.do(http.MethodPost, "/rename", `{"name":""}`, ownerContext())

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Empty(t, f.store.name)
}

func TestReinstallFlagsThenTriggers(t *testing.T) {
	f := newFixture()
	rec := f.do(http.MethodPost, "/reinstall", "", ownerContext())

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.True(t, f.store.installing)
	assert.True(t, f.node.reinstalled)
}

func TestReinstallClearsFlagOnDaemonFailure(t *testing.T) {
	f := newFixture()
	f.node.err = apperr.Daemon(http.StatusBadGateway, "")
	rec := f.do(http.MethodPost, "/reinstall", "", ownerContext())

	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.False(t, f.store.installing)
}

func TestReinstallWhileInstalling(t *testing.T) {
	f := newFixture()
	sctx := ownerContext()
	sctx.Server.Installing = true
	rec := f.do(http.MethodPost, "/reinstall", "", sctx)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.False(t, f.node.reinstalled)
}

func TestDockerImageMustBeAllowed(t *testing.T) {
	f := newFixture()
	rec := f.do(http.MethodPut, "/docker-image", `{"docker_image":"ghcr.io/evil/image:1"}`, ownerContext())

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Empty(t, f.store.image)
}

func TestDockerImageAllowed(t *testing.T) {
	f := newFixture()
	rec := f.do(http.MethodPut, "/docker-image", `{"docker_image":"ghcr.io/example/java:21"}`, ownerContext())

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "ghcr.io/example/java:21", f.store.image)
}
