package allocations

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/portside-host/portside/internal/permission"
	"github.com/portside-host/portside/internal/server"
)

type mockStore struct {
	allocations map[int64]Allocation
}

func newMockStore(allocations ...Allocation) *mockStore {
	m := &mockStore{allocations: map[int64]Allocation{}}
	for _, a := range allocations {
		m.allocations[a.ID] = a
	}
	return m
}

func (m *mockStore) ListForServer(ctx context.Context, serverID int64) ([]Allocation, error) {
	var out []Allocation
	for _, a := range m.allocations {
		if a.ServerID == serverID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (m *mockStore) Get(ctx context.Context, serverID, allocationID int64) (Allocation, error) {
	a, ok := m.allocations[allocationID]
	if !ok || a.ServerID != serverID {
		return Allocation{}, ErrNotFound
	}
	return a, nil
}

func (m *mockStore) UpdateNotes(ctx context.Context, serverID, allocationID int64, notes string) error {
	a, err := m.Get(ctx, serverID, allocationID)
	if err != nil {
		return err
	}
	a.Notes = notes
	m.allocations[allocationID] = a
	return nil
}

func (m *mockStore) SetPrimary(ctx context.Context, serverID, allocationID int64) error {
	if _, err := m.Get(ctx, serverID, allocationID); err != nil {
		return err
	}
	for id, a := range m.allocations {
		a.IsPrimary = id == allocationID
		m.allocations[id] = a
	}
	return nil
}

func (m *mockStore) Release(ctx context.Context, serverID, allocationID int64) error {
	if _, err := m.Get(ctx, serverID, allocationID); err != nil {
		return err
	}
	delete(m.allocations, allocationID)
	return nil
}

type mockRecorder struct {
	events []string
}

func (m *mockRecorder) Record(ctx context.Context, sctx *server.Context, event string, metadata map[string]any) {
	m.events = append(m.events, event)
}

func ownerContext() *server.Context {
	return &server.Context{
		Server:      server.Server{ID: 7, OwnerID: 1},
		IsOwner:     true,
		Permissions: permission.NewSet(true, false, nil),
	}
}

func do(h *Handler, method, path, body string) *httptest.ResponseRecorder {
	r := chi.NewRouter()
	r.Route("/", h.MountRoutes)
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req = req.WithContext(server.ContextWith(req.Context(), ownerContext()))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestDeletePrimaryAllocationRejected(t *testing.T) {
	store := newMockStore(Allocation{ID: 1, ServerID: 7, IP: "10.0.0.1", Port: 25565, IsPrimary: true})
	h := NewHandler(slog.New(slog.DiscardHandler), store, &mockRecorder{})

	rec := do(h, http.MethodDelete, "/1", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "DisplayError")
	// Row survives.
	_, err := store.Get(context.Background(), 7, 1)
	require.NoError(t, err)
}

func TestDeleteSecondaryAllocation(t *testing.T) {
	store := newMockStore(
		Allocation{ID: 1, ServerID: 7, IP: "10.0.0.1", Port: 25565, IsPrimary: true},
		Allocation{ID: 2, ServerID: 7, IP: "10.0.0.1", Port: 25566},
	)
	rec := do(NewHandler(slog.New(slog.DiscardHandler), store, &mockRecorder{}),
		http.MethodDelete, "/2", "")

	assert.Equal(t, http.StatusNoContent, rec.Code)
	_, err := store.Get(context.Background(), 7, 2)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSetPrimaryMovesFlag(t *testing.T) {
	store := newMockStore(
		Allocation{ID: 1, ServerID: 7, IP: "10.0.0.1", Port: 25565, IsPrimary: true},
		Allocation{ID: 2, ServerID: 7, IP: "10.0.0.1", Port: 25566},
	)
	recorder := &mockRecorder{}
	rec := do(NewHandler(slog.New(slog.DiscardHandler), store, recorder),
		http.MethodPost, "/2/primary", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	a, _ := store.Get(context.Background(), 7, 1)
	assert.False(t, a.IsPrimary)
	a, _ = store.Get(context.Background(), 7, 2)
	assert.True(t, a.IsPrimary)
	assert.Equal(t, []string{"server:allocation.primary"}, recorder.events)
}

func TestUpdateNotes(t *testing.T) {
	store := newMockStore(Allocation{ID: 1, ServerID: 7, IP: "10.0.0.1", Port: 25565})
	rec := do(NewHandler(slog.New(slog.DiscardHandler), store, &mockRecorder{}),
		http.MethodPost, "/1", `{"notes":"lobby"}`)

	assert.Equal(t, http.StatusOK, rec.Code)
	a, _ := store.Get(context.Background(), 7, 1)
	assert.Equal(t, "lobby", a.Notes)
}

func TestUnknownAllocationIsNotFound(t *testing.T) {
	rec := do(NewHandler(slog.New(slog.DiscardHandler), newMockStore(), &mockRecorder{}),
		http.MethodDelete, "/99", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
