// Package files exposes the server filesystem operations, all of which
// are round-trips to the node agent, plus signed download/upload URLs.
package files

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/portside-host/portside/internal/apperr"
	"github.com/portside-host/portside/internal/daemon"
	"github.com/portside-host/portside/internal/permission"
	"github.com/portside-host/portside/internal/platform/httpx"
	"github.com/portside-host/portside/internal/server"
	"github.com/portside-host/portside/internal/tokens"
)

// NodeFiles is the slice of the daemon facade this package drives.
type NodeFiles interface {
	ListFiles(ctx context.Context, directory string) (json.RawMessage, error)
	FileContents(ctx context.Context, path string) (json.RawMessage, error)
	WriteFile(ctx context.Context, path string, content []byte) error
	RenameFiles(ctx context.Context, root string, pairs []daemon.RenamePair) error
	CopyFile(ctx context.Context, location string) error
	CompressFiles(ctx context.Context, root string, files []string) (json.RawMessage, error)
	DecompressFile(ctx context.Context, root, file string) error
	DeleteFiles(ctx context.Context, root string, files []string) error
	CreateDirectory(ctx context.Context, root, name string) error
}

// Provider builds a request-scoped file client for one server.
type Provider func(ctx context.Context, srv server.Server) (NodeFiles, error)

// NodeStore loads node descriptors for token issuing.
type NodeStore interface {
	GetNode(ctx context.Context, nodeID int64) (server.Node, error)
}

// TokenIssuer signs transfer capability tokens.
type TokenIssuer interface {
	Issue(purpose tokens.Purpose, sctx *server.Context, node server.Node, extra tokens.Extra) (tokens.Signed, error)
}

// Recorder appends audit events after successful mutations.
type Recorder interface {
	Record(ctx context.Context, sctx *server.Context, event string, metadata map[string]any)
}

// Handler serves the /files routes.
type Handler struct {
	logger   *slog.Logger
	daemon   Provider
	nodes    NodeStore
	issuer   TokenIssuer
	recorder Recorder
}

// NewHandler constructs Handler.
func NewHandler(logger *slog.Logger, daemon Provider, nodes NodeStore, issuer TokenIssuer, recorder Recorder) *Handler {
	return &Handler{logger: logger, daemon: daemon, nodes: nodes, issuer: issuer, recorder: recorder}
}

// MountRoutes registers routes on a server-scoped router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.With(server.RequirePermission(permission.FileRead)).Get("/list", h.List)
	r.With(server.RequirePermission(permission.FileReadContent)).Get("/contents", h.Contents)
	r.With(server.RequirePermission(permission.FileCreate)).Post("/write", h.Write)
	r.With(server.RequirePermission(permission.FileUpdate)).Put("/rename", h.Rename)
	r.With(server.RequirePermission(permission.FileCreate)).Post("/copy", h.Copy)
	r.With(server.RequirePermission(permission.FileArchive)).Post("/compress", h.Compress)
	r.With(server.RequirePermission(permission.FileArchive)).Post("/decompress", h.Decompress)
	r.With(server.RequirePermission(permission.FileDelete)).Post("/delete", h.Delete)
	r.With(server.RequirePermission(permission.FileCreate)).Post("/create-folder", h.CreateFolder)
	r.With(server.RequirePermission(permission.FileReadContent)).Get("/download", h.Download)
	r.With(server.RequirePermission(permission.FileCreate)).Get("/upload", h.Upload)
}

func (h *Handler) client(w http.ResponseWriter, r *http.Request) (NodeFiles, *server.Context, bool) {
	sctx := server.FromContext(r.Context())
	nf, err := h.daemon(r.Context(), sctx.Server)
	if err != nil {
		httpx.RespondError(w, err)
		return nil, nil, false
	}
	return nf, sctx, true
}

// List returns the node's directory listing verbatim.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	nf, _, ok := h.client(w, r)
	if !ok {
		return
	}
	directory := r.URL.Query().Get("directory")
	if directory == "" {
		directory = "/"
	}
	data, err := nf.ListFiles(r.Context(), directory)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.Item(w, http.StatusOK, "file_list", data)
}

// Contents returns one file's contents.
func (h *Handler) Contents(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("file")
	if path == "" {
		httpx.RespondError(w, apperr.Validation("file", "required", "A file path must be provided."))
		return
	}
	nf, _, ok := h.client(w, r)
	if !ok {
		return
	}
	data, err := nf.FileContents(r.Context(), path)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.Item(w, http.StatusOK, "file_contents", data)
}

type writeRequest struct {
	Content string `json:"content"`
}

// Write persists content to a file on the node.
func (h *Handler) Write(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("file")
	if path == "" {
		httpx.RespondError(w, apperr.Validation("file", "required", "A file path must be provided."))
		return
	}
	var req writeRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, apperr.Validation("content", "required", "A content body must be provided."))
		return
	}
	nf, sctx, ok := h.client(w, r)
	if !ok {
		return
	}
	if err := nf.WriteFile(r.Context(), path, []byte(req.Content)); err != nil {
		httpx.RespondError(w, err)
		return
	}
	h.recorder.Record(r.Context(), sctx, "server:file.write", map[string]any{"file": path})
	httpx.NoContent(w)
}

type renameRequest struct {
	Root  string              `json:"root"`
	Files []daemon.RenamePair `json:"files"`
}

// Rename moves or renames files under root.
func (h *Handler) Rename(w http.ResponseWriter, r *http.Request) {
	var req renameRequest
	if err := httpx.DecodeJSON(r, &req); err != nil || len(req.Files) == 0 {
		httpx.RespondError(w, apperr.Validation("files", "required", "At least one rename entry must be provided."))
		return
	}
	nf, sctx, ok := h.client(w, r)
	if !ok {
		return
	}
	if err := nf.RenameFiles(r.Context(), rootOrDefault(req.Root), req.Files); err != nil {
		httpx.RespondError(w, err)
		return
	}
	h.recorder.Record(r.Context(), sctx, "server:file.rename", map[string]any{"root": req.Root, "count": len(req.Files)})
	httpx.NoContent(w)
}

type copyRequest struct {
	Location string `json:"location"`
}

// Copy duplicates a single file.
func (h *Handler) Copy(w http.ResponseWriter, r *http.Request) {
	var req copyRequest
	if err := httpx.DecodeJSON(r, &req); err != nil || strings.TrimSpace(req.Location) == "" {
		httpx.RespondError(w, apperr.Validation("location", "required", "A file location must be provided."))
		return
	}
	nf, sctx, ok := h.client(w, r)
	if !ok {
		return
	}
	if err := nf.CopyFile(r.Context(), req.Location); err != nil {
		httpx.RespondError(w, err)
		return
	}
	h.recorder.Record(r.Context(), sctx, "server:file.copy", map[string]any{"file": req.Location})
	httpx.NoContent(w)
}

type compressRequest struct {
	Root  string   `json:"root"`
	Files []string `json:"files"`
}

// Compress archives files and returns the node's archive descriptor.
func (h *Handler) Compress(w http.ResponseWriter, r *http.Request) {
	var req compressRequest
	if err := httpx.DecodeJSON(r, &req); err != nil || len(req.Files) == 0 {
		httpx.RespondError(w, apperr.Validation("files", "required", "At least one file must be provided."))
		return
	}
	nf, sctx, ok := h.client(w, r)
	if !ok {
		return
	}
	data, err := nf.CompressFiles(r.Context(), rootOrDefault(req.Root), req.Files)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	h.recorder.Record(r.Context(), sctx, "server:file.compress", map[string]any{"root": req.Root, "count": len(req.Files)})
	httpx.Item(w, http.StatusOK, "file_object", data)
}

type decompressRequest struct {
	Root string `json:"root"`
	File string `json:"file"`
}

// Decompress expands an archive on the node.
func (h *Handler) Decompress(w http.ResponseWriter, r *http.Request) {
	var req decompressRequest
	if err := httpx.DecodeJSON(r, &req); err != nil || strings.TrimSpace(req.File) == "" {
		httpx.RespondError(w, apperr.Validation("file", "required", "An archive file must be provided."))
		return
	}
	nf, sctx, ok := h.client(w, r)
	if !ok {
		return
	}
	if err := nf.DecompressFile(r.Context(), rootOrDefault(req.Root), req.File); err != nil {
		httpx.RespondError(w, err)
		return
	}
	h.recorder.Record(r.Context(), sctx, "server:file.decompress", map[string]any{"file": req.File})
	httpx.NoContent(w)
}

type deleteRequest struct {
	Root  string   `json:"root"`
	Files []string `json:"files"`
}

// Delete removes files under root.
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	var req deleteRequest
	if err := httpx.DecodeJSON(r, &req); err != nil || len(req.Files) == 0 {
		httpx.RespondError(w, apperr.Validation("files", "required", "At least one file must be provided."))
		return
	}
	nf, sctx, ok := h.client(w, r)
	if !ok {
		return
	}
	if err := nf.DeleteFiles(r.Context(), rootOrDefault(req.Root), req.Files); err != nil {
		httpx.RespondError(w, err)
		return
	}
	h.recorder.Record(r.Context(), sctx, "server:file.delete", map[string]any{"root": req.Root, "count": len(req.Files)})
	httpx.NoContent(w)
}

type createFolderRequest struct {
	Root string `json:"root"`
	Name string `json:"name"`
}

// CreateFolder creates a directory under root.
func (h *Handler) CreateFolder(w http.ResponseWriter, r *http.Request) {
	var req createFolderRequest
	if err := httpx.DecodeJSON(r, &req); err != nil || strings.TrimSpace(req.Name) == "" {
		httpx.RespondError(w, apperr.Validation("name", "required", "A folder name must be provided."))
		return
	}
	nf, sctx, ok := h.client(w, r)
	if !ok {
		return
	}
	if err := nf.CreateDirectory(r.Context(), rootOrDefault(req.Root), req.Name); err != nil {
		httpx.RespondError(w, err)
		return
	}
	h.recorder.Record(r.Context(), sctx, "server:file.create-directory", map[string]any{"name": req.Name})
	httpx.NoContent(w)
}

type signedURLAttributes struct {
	URL string `json:"url"`
}

// Download issues a signed node URL for a one-off file download.
func (h *Handler) Download(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("file")
	if path == "" {
		httpx.RespondError(w, apperr.Validation("file", "required", "A file path must be provided."))
		return
	}
	h.issueToken(w, r, tokens.PurposeFileDownload, tokens.Extra{FilePath: path})
}

// Upload issues a signed node URL accepting multipart uploads.
func (h *Handler) Upload(w http.ResponseWriter, r *http.Request) {
	h.issueToken(w, r, tokens.PurposeFileUpload, tokens.Extra{})
}

func (h *Handler) issueToken(w http.ResponseWriter, r *http.Request, purpose tokens.Purpose, extra tokens.Extra) {
	sctx := server.FromContext(r.Context())
	node, err := h.nodes.GetNode(r.Context(), sctx.Server.NodeID)
	if err != nil {
		h.logger.Error("node lookup for transfer token",
			slog.Int64("node_id", sctx.Server.NodeID), slog.Any("error", err))
		httpx.RespondError(w, apperr.Internal("The node configuration for this server is invalid."))
		return
	}
	signed, err := h.issuer.Issue(purpose, sctx, node, extra)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.Item(w, http.StatusOK, "signed_url", signedURLAttributes{URL: signed.URL})
}

func rootOrDefault(root string) string {
	if strings.TrimSpace(root) == "" {
		return "/"
	}
	return root
}
