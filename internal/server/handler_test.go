package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/portside-host/portside/internal/permission"
	"github.com/portside-host/portside/internal/principal"
)

type mockListStore struct {
	servers []Server
}

func (m *mockListStore) ListForPrincipal(ctx context.Context, principalID int64, includeAll bool, page, perPage int) ([]Server, int, error) {
	if includeAll {
		return m.servers, len(m.servers), nil
	}
	var out []Server
	for _, s := range m.servers {
		if s.OwnerID == principalID {
			out = append(out, s)
		}
	}
	return out, len(out), nil
}

type staticResources struct {
	state string
}

func (s *staticResources) ResourceUsage(ctx context.Context) (json.RawMessage, error) {
	return json.RawMessage(`{"state":"` + s.state + `"}`), nil
}

func (s *staticResources) State(ctx context.Context) (string, error) {
	return s.state, nil
}

func listServers(t *testing.T, h *Handler, p principal.Principal, query string) map[string]any {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/"+query, nil)
	req = req.WithContext(principal.ContextWith(req.Context(), p))
	rec := httptest.NewRecorder()
	h.List(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestListShowsOwnedServersWithState(t *testing.T) {
	store := &mockListStore{servers: []Server{
		{ID: 1, UUID: uuid.New(), ShortID: "aaaa1111", Name: "lobby", OwnerID: 1},
		{ID: 2, UUID: uuid.New(), ShortID: "bbbb2222", Name: "other", OwnerID: 2},
	}}
	h := NewHandler(slog.New(slog.DiscardHandler), store,
		func(ctx context.Context, srv Server) (NodeResources, error) {
			return &staticResources{state: "running"}, nil
		})

	body := listServers(t, h, principal.Principal{ID: 1}, "")
	data := body["data"].([]any)
	require.Len(t, data, 1)
	attrs := data[0].(map[string]any)["attributes"].(map[string]any)
	assert.Equal(t, "lobby", attrs["name"])
	assert.Equal(t, true, attrs["server_owner"])
	assert.Equal(t, "running", attrs["state"])
}

func TestListToleratesUnreachableNodes(t *testing.T) {
	store := &mockListStore{servers: []Server{
		{ID: 1, UUID: uuid.New(), ShortID: "aaaa1111", Name: "lobby", OwnerID: 1},
	}}
	h := NewHandler(slog.New(slog.DiscardHandler), store,
		func(ctx context.Context, srv Server) (NodeResources, error) {
			return nil, errors.New("node down")
		})

	body := listServers(t, h, principal.Principal{ID: 1}, "")
	attrs := body["data"].([]any)[0].(map[string]any)["attributes"].(map[string]any)
	assert.Equal(t, "unknown", attrs["state"])
}

func TestListAdminTypeRequiresScope(t *testing.T) {
	store := &mockListStore{servers: []Server{
		{ID: 1, UUID: uuid.New(), ShortID: "aaaa1111", Name: "lobby", OwnerID: 1},
		{ID: 2, UUID: uuid.New(), ShortID: "bbbb2222", Name: "other", OwnerID: 2},
	}}
	h := NewHandler(slog.New(slog.DiscardHandler), store,
		func(ctx context.Context, srv Server) (NodeResources, error) {
			return &staticResources{state: "offline"}, nil
		})

	// Without the admin scope the type filter is ignored.
	body := listServers(t, h, principal.Principal{ID: 1}, "?type=admin")
	assert.Len(t, body["data"].([]any), 1)

	admin := principal.Principal{ID: 1, AdminScopes: []string{principal.ScopeServersView}}
	body = listServers(t, h, admin, "?type=admin")
	assert.Len(t, body["data"].([]any), 2)
}

func TestGetIncludesEffectivePermissions(t *testing.T) {
	h := NewHandler(slog.New(slog.DiscardHandler), &mockListStore{}, nil)
	sctx := &Context{
		Server:      Server{UUID: uuid.New(), ShortID: "aaaa1111", Name: "lobby", OwnerID: 2},
		Permissions: permission.NewSet(false, false, []string{permission.FileRead, permission.WebsocketConnect}),
	}
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(ContextWith(req.Context(), sctx))
	rec := httptest.NewRecorder()
	h.Get(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Meta struct {
			IsOwner         bool     `json:"is_server_owner"`
			UserPermissions []string `json:"user_permissions"`
		} `json:"meta"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.False(t, body.Meta.IsOwner)
	assert.Contains(t, body.Meta.UserPermissions, permission.FileRead)
}
