// Package daemon talks to the node agent supervising one server. The
// client returns a Result value for every RPC; transport failures come
// back as ordinary errors, never panics, so the facade can translate them
// into the stable external taxonomy.
package daemon

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/portside-host/portside/internal/server"
)

// ErrInvalidNode indicates the node descriptor cannot produce a client.
var ErrInvalidNode = errors.New("daemon: node host is missing or invalid")

// rpcTimeout bounds every daemon round-trip.
const rpcTimeout = 30 * time.Second

// Result is the transient outcome of one daemon RPC. Successful is false
// when the daemon was reached but reported a failure; the transport error
// path never produces a Result.
type Result struct {
	Successful bool
	StatusCode int
	Detail     string
	Data       json.RawMessage
}

// Client issues RPCs against one server on one node.
type Client struct {
	base       string
	token      string
	serverUUID uuid.UUID
	httpClient *http.Client
}

// NewClient validates the node descriptor and builds a client scoped to
// one server.
func NewClient(node server.Node, serverUUID uuid.UUID) (*Client, error) {
	if strings.TrimSpace(node.Host) == "" {
		return nil, ErrInvalidNode
	}
	scheme := node.Scheme
	if scheme == "" {
		scheme = "http"
	}
	base := fmt.Sprintf("%s://%s:%d", scheme, node.Host, node.Port)
	if _, err := url.Parse(base); err != nil {
		return nil, ErrInvalidNode
	}
	return &Client{
		base:       base,
		token:      node.Token,
		serverUUID: serverUUID,
		httpClient: &http.Client{Timeout: rpcTimeout},
	}, nil
}

type daemonError struct {
	Error string `json:"error"`
}

func (c *Client) do(ctx context.Context, method, path string, body any) (Result, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return Result{}, fmt.Errorf("daemon: encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	endpoint := c.base + "/api/servers/" + c.serverUUID.String() + path
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return Result{}, fmt.Errorf("daemon: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("daemon: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return Result{}, fmt.Errorf("daemon: read response: %w", err)
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return Result{Successful: true, StatusCode: resp.StatusCode, Data: raw}, nil
	}

	var derr daemonError
	_ = json.Unmarshal(raw, &derr)
	return Result{Successful: false, StatusCode: resp.StatusCode, Detail: derr.Error}, nil
}

// Power sends a power signal (start/stop/restart/kill).
func (c *Client) Power(ctx context.Context, signal string) (Result, error) {
	return c.do(ctx, http.MethodPost, "/power", map[string]string{"action": signal})
}

// Command submits a console command line.
func (c *Client) Command(ctx context.Context, command string) (Result, error) {
	return c.do(ctx, http.MethodPost, "/commands", map[string]string{"command": command})
}

// Sync pushes the panel's current server configuration to the node.
func (c *Client) Sync(ctx context.Context) (Result, error) {
	return c.do(ctx, http.MethodPost, "/sync", nil)
}

// Reinstall triggers the install process from scratch.
func (c *Client) Reinstall(ctx context.Context) (Result, error) {
	return c.do(ctx, http.MethodPost, "/reinstall", nil)
}

// ResourceUsage fetches live cpu/memory/disk figures.
func (c *Client) ResourceUsage(ctx context.Context) (Result, error) {
	return c.do(ctx, http.MethodGet, "/resources", nil)
}

// ListFiles lists a directory.
func (c *Client) ListFiles(ctx context.Context, directory string) (Result, error) {
	return c.do(ctx, http.MethodGet, "/files/list?directory="+url.QueryEscape(directory), nil)
}

// FileContents reads a file.
func (c *Client) FileContents(ctx context.Context, path string) (Result, error) {
	return c.do(ctx, http.MethodGet, "/files/contents?file="+url.QueryEscape(path), nil)
}

// WriteFile writes content to a file, creating it when absent.
func (c *Client) WriteFile(ctx context.Context, path string, content []byte) (Result, error) {
	return c.do(ctx, http.MethodPost, "/files/write?file="+url.QueryEscape(path), json.RawMessage(content))
}

// RenameFiles renames or moves files relative to root.
func (c *Client) RenameFiles(ctx context.Context, root string, pairs []RenamePair) (Result, error) {
	return c.do(ctx, http.MethodPut, "/files/rename", map[string]any{"root": root, "files": pairs})
}

// RenamePair is one from/to rename entry.
type RenamePair struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// CopyFile duplicates a file next to itself.
func (c *Client) CopyFile(ctx context.Context, location string) (Result, error) {
	return c.do(ctx, http.MethodPost, "/files/copy", map[string]string{"location": location})
}

// CompressFiles archives files under root into a single archive.
func (c *Client) CompressFiles(ctx context.Context, root string, files []string) (Result, error) {
	return c.do(ctx, http.MethodPost, "/files/compress", map[string]any{"root": root, "files": files})
}

// DecompressFile expands an archive under root.
func (c *Client) DecompressFile(ctx context.Context, root, file string) (Result, error) {
	return c.do(ctx, http.MethodPost, "/files/decompress", map[string]string{"root": root, "file": file})
}

// DeleteFiles removes files under root.
func (c *Client) DeleteFiles(ctx context.Context, root string, files []string) (Result, error) {
	return c.do(ctx, http.MethodPost, "/files/delete", map[string]any{"root": root, "files": files})
}

// CreateDirectory creates a folder under root.
func (c *Client) CreateDirectory(ctx context.Context, root, name string) (Result, error) {
	return c.do(ctx, http.MethodPost, "/files/create-directory", map[string]string{"root": root, "name": name})
}

// CreateBackup starts a backup on the node.
func (c *Client) CreateBackup(ctx context.Context, backupUUID uuid.UUID, ignore string) (Result, error) {
	return c.do(ctx, http.MethodPost, "/backup", map[string]string{
		"uuid":   backupUUID.String(),
		"ignore": ignore,
	})
}

// DeleteBackup removes a backup archive from the node.
func (c *Client) DeleteBackup(ctx context.Context, backupUUID uuid.UUID) (Result, error) {
	return c.do(ctx, http.MethodDelete, "/backup/"+backupUUID.String(), nil)
}
