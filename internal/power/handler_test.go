package power

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/portside-host/portside/internal/apperr"
	"github.com/portside-host/portside/internal/permission"
	"github.com/portside-host/portside/internal/principal"
	"github.com/portside-host/portside/internal/server"
)

type mockCommander struct {
	powerSignals []string
	commands     []string
	err          error
}

func (m *mockCommander) SendPower(ctx context.Context, signal string) error {
	if m.err != nil {
		return m.err
	}
	m.powerSignals = append(m.powerSignals, signal)
	return nil
}

func (m *mockCommander) SendCommand(ctx context.Context, command string) error {
	if m.err != nil {
		return m.err
	}
	m.commands = append(m.commands, command)
	return nil
}

type mockRecorder struct {
	events []string
}

func (m *mockRecorder) Record(ctx context.Context, sctx *server.Context, event string, metadata map[string]any) {
	m.events = append(m.events, event)
}

type fixture struct {
	handler   *Handler
	commander *mockCommander
	recorder  *mockRecorder
	built     bool
	buildErr  error
}

func newFixture() *fixture {
	f := &fixture{commander: &mockCommander{}, recorder: &mockRecorder{}}
	provider := func(ctx context.Context, srv server.Server) (NodeCommander, error) {
		f.built = true
		if f.buildErr != nil {
			return nil, f.buildErr
		}
		return f.commander, nil
	}
	f.handler = NewHandler(slog.New(slog.DiscardHandler), provider, f.recorder)
	return f
}

func ownerContext() *server.Context {
	return &server.Context{
		Principal:   principal.Principal{ID: 1, UUID: uuid.New()},
		Server:      server.Server{ID: 7, UUID: uuid.New(), OwnerID: 1, NodeID: 3},
		IsOwner:     true,
		Permissions: permission.NewSet(true, false, nil),
	}
}

func subuserContext(perms ...string) *server.Context {
	return &server.Context{
		Principal:   principal.Principal{ID: 5, UUID: uuid.New()},
		Server:      server.Server{ID: 7, UUID: uuid.New(), OwnerID: 1, NodeID: 3},
		Permissions: permission.NewSet(false, false, perms),
	}
}

func doSignal(f *fixture, sctx *server.Context, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/power", strings.NewReader(body))
	req = req.WithContext(server.ContextWith(req.Context(), sctx))
	rec := httptest.NewRecorder()
	f.handler.SendSignal(rec, req)
	return rec
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Errors []struct {
			Code string `json:"code"`
			Meta struct {
				SourceField string `json:"source_field"`
			} `json:"meta"`
		} `json:"errors"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.NotEmpty(t, body.Errors)
	return body.Errors[0].Code
}

func TestSendSignalSuccess(t *testing.T) {
	f := newFixture()
	rec := doSignal(f, ownerContext(), `{"signal":"restart"}`)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, []string{"restart"}, f.commander.powerSignals)
	assert.Equal(t, []string{"server:power.restart"}, f.recorder.events)
}

func TestSendSignalRejectsUnknownSignalBeforeGateAndDaemon(t *testing.T) {
	f := newFixture()
	// An empty permission set would fail the gate, so a 422 here proves
	// validation ran first.
	rec := doSignal(f, subuserContext(), `{"signal":"terminate"}`)

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, string(apperr.CodeValidation), errorCode(t, rec))
	assert.Contains(t, rec.Body.String(), `"source_field":"signal"`)
	assert.False(t, f.built)
	assert.Empty(t, f.recorder.events)
}

func TestSendSignalPermissionPerSignal(t *testing.T) {
	f := newFixture()
	sctx := subuserContext(permission.ControlStart)

	assert.Equal(t, http.StatusNoContent, doSignal(f, sctx, `{"signal":"start"}`).Code)
	assert.Equal(t, http.StatusForbidden, doSignal(f, sctx, `{"signal":"stop"}`).Code)
	assert.Equal(t, http.StatusForbidden, doSignal(f, sctx, `{"signal":"kill"}`).Code)
}

func TestSendSignalUnreachableNodeNoActivity(t *testing.T) {
	f := newFixture()
	f.commander.err = apperr.Daemon(http.StatusBadGateway, "")

	rec := doSignal(f, ownerContext(), `{"signal":"kill"}`)

	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, string(apperr.CodeDaemon), errorCode(t, rec))
	assert.Empty(t, f.recorder.events)
}

func TestSendSignalSuspendedServer(t *testing.T) {
	f := newFixture()
	sctx := ownerContext()
	sctx.Server.Suspended = true

	rec := doSignal(f, sctx, `{"signal":"start"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.False(t, f.built)
}

func TestSendCommand(t *testing.T) {
	f := newFixture()
	req := httptest.NewRequest(http.MethodPost, "/command", strings.NewReader(`{"command":"say hi"}`))
	req = req.WithContext(server.ContextWith(req.Context(), ownerContext()))
	rec := httptest.NewRecorder()
	f.handler.SendCommand(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, []string{"say hi"}, f.commander.commands)
	assert.Equal(t, []string{"server:console.command"}, f.recorder.events)
}

func TestSendCommandRequiresBody(t *testing.T) {
	f := newFixture()
	req := httptest.NewRequest(http.MethodPost, "/command", strings.NewReader(`{"command":"  "}`))
	req = req.WithContext(server.ContextWith(req.Context(), ownerContext()))
	rec := httptest.NewRecorder()
	f.handler.SendCommand(rec, req)

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}
