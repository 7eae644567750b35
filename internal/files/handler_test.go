package files

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"

	"github.com/portside-host/portside/internal/apperr"
	"github.com/portside-host/portside/internal/daemon"
	"github.com/portside-host/portside/internal/permission"
	"github.com/portside-host/portside/internal/server"
	"github.com/portside-host/portside/internal/tokens"
)

type mockNode struct {
	listed   []string
	written  map[string]string
	renamed  []daemon.RenamePair
	copied   []string
	deleted  []string
	folders  []string
	archives [][]string
	err      error
}

func newMockNode() *mockNode {
	return &mockNode{written: map[string]string{}}
}

func (m *mockNode) ListFiles(ctx context.Context, directory string) (json.RawMessage, error) {
	if m.err != nil {
		return nil, m.err
	}
	m.listed = append(m.listed, directory)
	return json.RawMessage(`[{"name":"server.properties"}]`), nil
}

func (m *mockNode) FileContents(ctx context.Context, path string) (json.RawMessage, error) {
	if m.err != nil {
		return nil, m.err
	}
	return json.RawMessage(`"motd=hello"`), nil
}

func (m *mockNode) WriteFile(ctx context.Context, path string, content []byte) error {
	if m.err != nil {
		return m.err
	}
	m.written[path] = string(content)
	return nil
}

func (m *mockNode) RenameFiles(ctx context.Context, root string, pairs []daemon.RenamePair) error {
	if m.err != nil {
		return m.err
	}
	m.renamed = append(m.renamed, pairs...)
	return nil
}

func (m *mockNode) CopyFile(ctx context.Context, location string) error {
	if m.err != nil {
		return m.err
	}
	m.copied = append(m.copied, location)
	return nil
}

func (m *mockNode) CompressFiles(ctx context.Context, root string, files []string) (json.RawMessage, error) {
	if m.err != nil {
		return nil, m.err
	}
	m.archives = append(m.archives, files)
	return json.RawMessage(`{"name":"archive.tar.gz"}`), nil
}

func (m *mockNode) DecompressFile(ctx context.Context, root, file string) error {
	return m.err
}

func (m *mockNode) DeleteFiles(ctx context.Context, root string, files []string) error {
	if m.err != nil {
		return m.err
	}
	m.deleted = append(m.deleted, files...)
	return nil
}

func (m *mockNode) CreateDirectory(ctx context.Context, root, name string) error {
	if m.err != nil {
		return m.err
	}
	m.folders = append(m.folders, name)
	return nil
}

type mockNodeStore struct {
	node server.Node
	err  error
}

func (m *mockNodeStore) GetNode(ctx context.Context, nodeID int64) (server.Node, error) {
	return m.node, m.err
}

type mockIssuer struct {
	purposes []tokens.Purpose
	extras   []tokens.Extra
}

func (m *mockIssuer) Issue(purpose tokens.Purpose, sctx *server.Context, node server.Node, extra tokens.Extra) (tokens.Signed, error) {
	m.purposes = append(m.purposes, purpose)
	m.extras = append(m.extras, extra)
	return tokens.Signed{
		Token: "signed-token",
		URL:   "https://node1.portside.test:8443/download/file?token=signed-token",
	}, nil
}

type mockRecorder struct {
	events []string
}

func (m *mockRecorder) Record(ctx context.Context, sctx *server.Context, event string, metadata map[string]any) {
	m.events = append(m.events, event)
}

type fixture struct {
	handler  *Handler
	node     *mockNode
	nodes    *mockNodeStore
	issuer   *mockIssuer
	recorder *mockRecorder
}

func newFixture() *fixture {
	f := &fixture{
		node:     newMockNode(),
		nodes:    &mockNodeStore{node: server.Node{Scheme: "https", Host: "node1.portside.test", Port: 8443}},
		issuer:   &mockIssuer{},
		recorder: &mockRecorder{},
	}
	provider := func(ctx context.Context, srv server.Server) (NodeFiles, error) {
		return f.node, nil
	}
	f.handler = NewHandler(slog.New(slog.DiscardHandler), provider, f.nodes, f.issuer, f.recorder)
	return f
}

func (f *fixture) do(method, path, body string) *httptest.ResponseRecorder {
	r := chi.NewRouter()
	r.Route("/", f.handler.MountRoutes)
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	sctx := &server.Context{
		Server:      server.Server{ID: 7, NodeID: 3, Name: "lobby"},
		IsOwner:     true,
		Permissions: permission.NewSet(true, false, nil),
	}
	req = req.WithContext(server.ContextWith(req.Context(), sctx))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestListDefaultsToRoot(t *testing.T) {
	f := newFixture()
	rec := f.do(http.MethodGet, "/list", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"/"}, f.node.listed)
	assert.Contains(t, rec.Body.String(), "server.properties")
}

func TestContentsRequiresFileParam(t *testing.T) {
	f := newFixture()
	rec := f.do(http.MethodGet, "/contents", "")

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, rec.Body.String(), `"source_field":"file"`)
}

func TestWritePersistsContent(t *testing.T) {
	f := newFixture()
	rec := f.do(http.MethodPost, "/write?file=server.properties", `{"content":"motd=hi"}`)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "motd=hi", f.node.written["server.properties"])
	assert.Equal(t, []string{"server:file.write"}, f.recorder.events)
}

func TestRenameRequiresEntries(t *testing.T) {
	f := newFixture()
	rec := f.do(http.MethodPut, "/rename", `{"root":"/","files":[]}`)

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, rec.Body.String(), `"source_field":"files"`)
	assert.Empty(t, f.node.renamed)
}

func TestCopyRequiresLocation(t *testing.T) {
	f := newFixture()
	rec := f.do(http.MethodPost, "/copy", `{"location":" "}`)

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Empty(t, f.node.copied)
}

func TestDeletePassesNodeErrorThrough(t *testing.T) {
	f := newFixture()
	f.node.err = apperr.Daemon(http.StatusBadGateway, "")
	rec := f.do(http.MethodPost, "/delete", `{"root":"/","files":["world"]}`)

	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Contains(t, rec.Body.String(), "DaemonError")
	assert.Empty(t, f.recorder.events)
}

func TestCompressReturnsArchiveDescriptor(t *testing.T) {
	f := newFixture()
	rec := f.do(http.MethodPost, "/compress", `{"root":"/","files":["world","plugins"]}`)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "archive.tar.gz")
	assert.Equal(t, [][]string{{"world", "plugins"}}, f.node.archives)
}

func TestDownloadIssuesSignedURL(t *testing.T) {
	f := newFixture()
	rec := f.do(http.MethodGet, "/download?file=logs/latest.log", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []tokens.Purpose{tokens.PurposeFileDownload}, f.issuer.purposes)
	assert.Equal(t, "logs/latest.log", f.issuer.extras[0].FilePath)
	assert.Contains(t, rec.Body.String(), "signed_url")
	assert.Contains(t, rec.Body.String(), "node1.portside.test")
}

func TestDownloadRequiresFileParam(t *testing.T) {
	f := newFixture()
	rec := f.do(http.MethodGet, "/download", "")

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Empty(t, f.issuer.purposes)
}

func TestUploadIssuesSignedURL(t *testing.T) {
	f := newFixture()
	rec := f.do(http.MethodGet, "/upload", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []tokens.Purpose{tokens.PurposeFileUpload}, f.issuer.purposes)
}

func TestUploadFailsWhenNodeLookupFails(t *testing.T) {
	f := newFixture()
	f.nodes.err = assert.AnError
	rec := f.do(http.MethodGet, "/upload", "")

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Empty(t, f.issuer.purposes)
}
