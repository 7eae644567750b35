// Package websocket issues the credentials a browser needs to open a
// console stream directly against the server's node.
package websocket

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/portside-host/portside/internal/apperr"
	"github.com/portside-host/portside/internal/permission"
	"github.com/portside-host/portside/internal/platform/httpx"
	"github.com/portside-host/portside/internal/server"
	"github.com/portside-host/portside/internal/tokens"
)

// NodeStore loads node descriptors.
type NodeStore interface {
	GetNode(ctx context.Context, nodeID int64) (server.Node, error)
}

// TokenIssuer signs websocket capability tokens.
type TokenIssuer interface {
	Issue(purpose tokens.Purpose, sctx *server.Context, node server.Node, extra tokens.Extra) (tokens.Signed, error)
}

// Handler serves the websocket credential endpoint.
type Handler struct {
	logger *slog.Logger
	nodes  NodeStore
	issuer TokenIssuer
}

// NewHandler constructs Handler.
func NewHandler(logger *slog.Logger, nodes NodeStore, issuer TokenIssuer) *Handler {
	return &Handler{logger: logger, nodes: nodes, issuer: issuer}
}

// MountRoutes registers routes on a server-scoped router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.With(server.RequirePermission(permission.WebsocketConnect)).Get("/", h.Credentials)
}

type credentialAttributes struct {
	Token     string `json:"token"`
	SocketURL string `json:"socket"`
}

// Credentials returns a short-lived token and the node socket URL. The
// token embeds the caller's effective permission set so the node can
// enforce console and power scopes itself.
func (h *Handler) Credentials(w http.ResponseWriter, r *http.Request) {
	sctx := server.FromContext(r.Context())
	node, err := h.nodes.GetNode(r.Context(), sctx.Server.NodeID)
	if err != nil {
		h.logger.Error("node lookup for websocket",
			slog.Int64("node_id", sctx.Server.NodeID), slog.Any("error", err))
		httpx.RespondError(w, apperr.Internal("The node configuration for this server is invalid."))
		return
	}
	signed, err := h.issuer.Issue(tokens.PurposeWebsocket, sctx, node, tokens.Extra{})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.Item(w, http.StatusOK, "websocket_token", credentialAttributes{
		Token:     signed.Token,
		SocketURL: signed.URL,
	})
}
