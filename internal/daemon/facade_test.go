package daemon

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/portside-host/portside/internal/apperr"
	"github.com/portside-host/portside/internal/server"
)

func nodeFor(t *testing.T, ts *httptest.Server) server.Node {
	t.Helper()
	u, err := url.Parse(ts.URL)
	require.NoError(t, err)
	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)
	return server.Node{ID: 1, Scheme: u.Scheme, Host: u.Hostname(), Port: port, Token: "node-token"}
}

func testFacade(t *testing.T, ts *httptest.Server) *Facade {
	t.Helper()
	srv := server.Server{ID: 1, UUID: uuid.New()}
	f, err := ForServer(slog.New(slog.DiscardHandler), srv, nodeFor(t, ts))
	require.NoError(t, err)
	return f
}

func TestForServerMissingHost(t *testing.T) {
	_, err := ForServer(slog.New(slog.DiscardHandler), server.Server{UUID: uuid.New()}, server.Node{})
	require.Error(t, err)

	appErr := apperr.From(err)
	assert.Equal(t, apperr.CodeInternal, appErr.Code)
	assert.Equal(t, http.StatusInternalServerError, appErr.Status)
}

func TestSendPowerUnreachableNodeIs502(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	ts.Close() // connection refused from here on

	f := testFacade(t, ts)
	err := f.SendPower(context.Background(), "kill")
	require.Error(t, err)

	appErr := apperr.From(err)
	assert.Equal(t, apperr.CodeDaemon, appErr.Code)
	assert.Equal(t, http.StatusBadGateway, appErr.Status)
}

func TestDaemonFailurePassesThroughStatusAndDetail(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"The requested file was not found."}`))
	}))
	defer ts.Close()

	f := testFacade(t, ts)
	_, err := f.FileContents(context.Background(), "/missing.txt")
	require.Error(t, err)

	appErr := apperr.From(err)
	assert.Equal(t, apperr.CodeDaemon, appErr.Code)
	assert.Equal(t, http.StatusNotFound, appErr.Status)
	assert.Equal(t, "The requested file was not found.", appErr.Detail)
}

func TestDaemonCredentialRejectionIs502(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"error":"invalid token"}`))
	}))
	defer ts.Close()

	f := testFacade(t, ts)
	err := f.SendCommand(context.Background(), "say hello")
	require.Error(t, err)

	appErr := apperr.From(err)
	assert.Equal(t, http.StatusBadGateway, appErr.Status)
	assert.NotContains(t, appErr.Detail, "invalid token")
}

func TestWriteFileFailureIsPanelSide500(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	ts.Close()

	f := testFacade(t, ts)
	err := f.WriteFile(context.Background(), "/server.properties", []byte("motd=hi"))
	require.Error(t, err)
	assert.Equal(t, http.StatusInternalServerError, apperr.From(err).Status)
}

func TestSuccessfulRPCCarriesData(t *testing.T) {
	var gotAuth string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`[{"name":"server.jar","size":1024}]`))
	}))
	defer ts.Close()

	f := testFacade(t, ts)
	data, err := f.ListFiles(context.Background(), "/")
	require.NoError(t, err)
	assert.JSONEq(t, `[{"name":"server.jar","size":1024}]`, string(data))
	assert.Equal(t, "Bearer node-token", gotAuth)
}
