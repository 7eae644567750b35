package daemon

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/portside-host/portside/internal/apperr"
	"github.com/portside-host/portside/internal/server"
)

// Facade wraps the node agent client for one server and normalizes every
// failure mode into the external error taxonomy. The distinction between
// "could not reach or authenticate to the daemon" (502) and "daemon
// reached but reported a failure" (status passthrough) is preserved
// end-to-end.
type Facade struct {
	client *Client
	srv    server.Server
	logger *slog.Logger
}

// ForServer builds a facade, or a 500 when the node descriptor is invalid.
// No RPC is attempted on construction failure.
func ForServer(logger *slog.Logger, srv server.Server, node server.Node) (*Facade, error) {
	client, err := NewClient(node, srv.UUID)
	if err != nil {
		logger.Error("daemon facade construction",
			slog.String("server", srv.UUID.String()),
			slog.Int64("node_id", node.ID),
			slog.Any("error", err))
		return nil, apperr.Internal("The node configuration for this server is invalid.")
	}
	return &Facade{client: client, srv: srv, logger: logger}, nil
}

// NodeStore loads node descriptors for facade construction.
type NodeStore interface {
	GetNode(ctx context.Context, nodeID int64) (server.Node, error)
}

// Builder constructs request-scoped facades from the resource store.
type Builder struct {
	Nodes  NodeStore
	Logger *slog.Logger
}

// ForServer resolves the server's node and wraps it.
func (b Builder) ForServer(ctx context.Context, srv server.Server) (*Facade, error) {
	node, err := b.Nodes.GetNode(ctx, srv.NodeID)
	if err != nil {
		b.Logger.Error("daemon node lookup",
			slog.Int64("node_id", srv.NodeID),
			slog.Any("error", err))
		return nil, apperr.Internal("The node configuration for this server is invalid.")
	}
	return ForServer(b.Logger, srv, node)
}

// call runs one RPC and translates its outcome. The underlying technical
// error is always logged before translation; callers only ever see the
// normalized status/detail pair.
func (f *Facade) call(op string, defaultStatus int, res Result, err error) (Result, error) {
	if err != nil {
		f.logger.Error("daemon rpc",
			slog.String("op", op),
			slog.String("server", f.srv.UUID.String()),
			slog.Any("error", err))
		return Result{}, apperr.Daemon(defaultStatus, "")
	}
	if !res.Successful {
		f.logger.Warn("daemon rpc rejected",
			slog.String("op", op),
			slog.String("server", f.srv.UUID.String()),
			slog.Int("status", res.StatusCode),
			slog.String("detail", res.Detail))
		// The daemon refusing the panel's credentials is indistinguishable
		// from an unreachable node as far as the caller is concerned.
		if res.StatusCode == http.StatusUnauthorized || res.StatusCode == http.StatusForbidden {
			return Result{}, apperr.Daemon(http.StatusBadGateway, "")
		}
		return Result{}, apperr.Daemon(res.StatusCode, res.Detail)
	}
	return res, nil
}

// SendPower issues a power signal.
func (f *Facade) SendPower(ctx context.Context, signal string) error {
	res, err := f.client.Power(ctx, signal)
	_, err = f.call("power", http.StatusBadGateway, res, err)
	return err
}

// SendCommand submits a console command line.
func (f *Facade) SendCommand(ctx context.Context, command string) error {
	res, err := f.client.Command(ctx, command)
	_, err = f.call("command", http.StatusBadGateway, res, err)
	return err
}

// Sync pushes the panel's configuration for this server to the node.
func (f *Facade) Sync(ctx context.Context) error {
	res, err := f.client.Sync(ctx)
	_, err = f.call("sync", http.StatusBadGateway, res, err)
	return err
}

// Reinstall triggers a from-scratch install on the node.
func (f *Facade) Reinstall(ctx context.Context) error {
	res, err := f.client.Reinstall(ctx)
	_, err = f.call("reinstall", http.StatusBadGateway, res, err)
	return err
}

// ResourceUsage returns the node's live usage document.
func (f *Facade) ResourceUsage(ctx context.Context) (json.RawMessage, error) {
	res, err := f.client.ResourceUsage(ctx)
	res, err = f.call("resources", http.StatusBadGateway, res, err)
	if err != nil {
		return nil, err
	}
	return res.Data, nil
}

// State reports the process state string ("running", "offline", ...)
// from the node's resource document.
func (f *Facade) State(ctx context.Context) (string, error) {
	data, err := f.ResourceUsage(ctx)
	if err != nil {
		return "", err
	}
	var doc struct {
		State string `json:"state"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		f.logger.Error("daemon resource document unreadable", slog.Any("error", err))
		return "", apperr.Daemon(http.StatusBadGateway, "")
	}
	return doc.State, nil
}

// ListFiles lists a directory on the node.
func (f *Facade) ListFiles(ctx context.Context, directory string) (json.RawMessage, error) {
	res, err := f.client.ListFiles(ctx, directory)
	res, err = f.call("files.list", http.StatusBadGateway, res, err)
	if err != nil {
		return nil, err
	}
	return res.Data, nil
}

// FileContents reads one file from the node.
func (f *Facade) FileContents(ctx context.Context, path string) (json.RawMessage, error) {
	res, err := f.client.FileContents(ctx, path)
	res, err = f.call("files.contents", http.StatusBadGateway, res, err)
	if err != nil {
		return nil, err
	}
	return res.Data, nil
}

// WriteFile persists content to a file. Slow or failed writes surface as a
// panel-side 500 rather than a 502: the node is assumed reachable once a
// write has been accepted for transfer.
func (f *Facade) WriteFile(ctx context.Context, path string, content []byte) error {
	res, err := f.client.WriteFile(ctx, path, content)
	_, err = f.call("files.write", http.StatusInternalServerError, res, err)
	return err
}

// RenameFiles renames or moves files under root.
func (f *Facade) RenameFiles(ctx context.Context, root string, pairs []RenamePair) error {
	res, err := f.client.RenameFiles(ctx, root, pairs)
	_, err = f.call("files.rename", http.StatusBadGateway, res, err)
	return err
}

// CopyFile duplicates a file.
func (f *Facade) CopyFile(ctx context.Context, location string) error {
	res, err := f.client.CopyFile(ctx, location)
	_, err = f.call("files.copy", http.StatusBadGateway, res, err)
	return err
}

// CompressFiles archives files; the archive name comes back from the node.
func (f *Facade) CompressFiles(ctx context.Context, root string, files []string) (json.RawMessage, error) {
	res, err := f.client.CompressFiles(ctx, root, files)
	res, err = f.call("files.compress", http.StatusInternalServerError, res, err)
	if err != nil {
		return nil, err
	}
	return res.Data, nil
}

// DecompressFile expands an archive. Large archives routinely exceed the
// client timeout, so the failure is attributed to the panel, not the node.
func (f *Facade) DecompressFile(ctx context.Context, root, file string) error {
	res, err := f.client.DecompressFile(ctx, root, file)
	_, err = f.call("files.decompress", http.StatusInternalServerError, res, err)
	return err
}

// DeleteFiles removes files under root.
func (f *Facade) DeleteFiles(ctx context.Context, root string, files []string) error {
	res, err := f.client.DeleteFiles(ctx, root, files)
	_, err = f.call("files.delete", http.StatusBadGateway, res, err)
	return err
}

// CreateDirectory creates a folder.
func (f *Facade) CreateDirectory(ctx context.Context, root, name string) error {
	res, err := f.client.CreateDirectory(ctx, root, name)
	_, err = f.call("files.mkdir", http.StatusBadGateway, res, err)
	return err
}

// CreateBackup starts a backup run on the node.
func (f *Facade) CreateBackup(ctx context.Context, backupUUID uuid.UUID, ignore string) error {
	res, err := f.client.CreateBackup(ctx, backupUUID, ignore)
	_, err = f.call("backup.create", http.StatusBadGateway, res, err)
	return err
}

// DeleteBackup removes a backup archive from the node.
func (f *Facade) DeleteBackup(ctx context.Context, backupUUID uuid.UUID) error {
	res, err := f.client.DeleteBackup(ctx, backupUUID)
	_, err = f.call("backup.delete", http.StatusBadGateway, res, err)
	return err
}
