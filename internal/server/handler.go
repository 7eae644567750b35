package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/portside-host/portside/internal/apperr"
	"github.com/portside-host/portside/internal/platform/httpx"
	"github.com/portside-host/portside/internal/principal"
)

// ListStore is the repository surface the list endpoint reads.
type ListStore interface {
	ListForPrincipal(ctx context.Context, principalID int64, includeAll bool, page, perPage int) ([]Server, int, error)
}

// NodeResources reads the live usage document for one server.
type NodeResources interface {
	ResourceUsage(ctx context.Context) (json.RawMessage, error)
	State(ctx context.Context) (string, error)
}

// ResourceProvider builds a usage client for one server.
type ResourceProvider func(ctx context.Context, srv Server) (NodeResources, error)

// statePollers caps how many nodes the list endpoint probes at once.
const statePollers = 8

// Handler serves the server list and detail endpoints.
type Handler struct {
	logger *slog.Logger
	store  ListStore
	nodes  ResourceProvider
}

// NewHandler constructs Handler.
func NewHandler(logger *slog.Logger, store ListStore, nodes ResourceProvider) *Handler {
	return &Handler{logger: logger, store: store, nodes: nodes}
}

type limitsAttributes struct {
	Memory int64 `json:"memory"`
	Disk   int64 `json:"disk"`
	CPU    int64 `json:"cpu"`
}

type featureLimitsAttributes struct {
	Databases   int `json:"databases"`
	Backups     int `json:"backups"`
	Allocations int `json:"allocations"`
}

type serverAttributes struct {
	UUID          string                  `json:"uuid"`
	Identifier    string                  `json:"identifier"`
	Name          string                  `json:"name"`
	Description   string                  `json:"description"`
	IsOwner       bool                    `json:"server_owner"`
	IsSuspended   bool                    `json:"is_suspended"`
	IsInstalling  bool                    `json:"is_installing"`
	IsTransfer    bool                    `json:"is_transferring"`
	DockerImage   string                  `json:"docker_image"`
	Limits        limitsAttributes        `json:"limits"`
	FeatureLimits featureLimitsAttributes `json:"feature_limits"`
	// Live process state from the node; "unknown" when the node could
	// not be reached in time.
	State string `json:"state,omitempty"`
}

func toAttributes(s Server, isOwner bool) serverAttributes {
	return serverAttributes{
		UUID:         s.UUID.String(),
		Identifier:   s.ShortID,
		Name:         s.Name,
		Description:  s.Description,
		IsOwner:      isOwner,
		IsSuspended:  s.Suspended,
		IsInstalling: s.Installing,
		IsTransfer:   s.Transferring,
		DockerImage:  s.Image,
		Limits: limitsAttributes{
			Memory: s.Limits.MemoryMB,
			Disk:   s.Limits.DiskMB,
			CPU:    s.Limits.CPUPercent,
		},
		FeatureLimits: featureLimitsAttributes{
			Databases:   s.FeatureLimits.Databases,
			Backups:     s.FeatureLimits.Backups,
			Allocations: s.FeatureLimits.Allocations,
		},
	}
}

// List returns the servers visible to the caller with the live process
// state of each, polled from the nodes concurrently. Admins may pass
// ?type=admin to list every server on the platform.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	p, ok := principal.FromContext(r.Context())
	if !ok {
		httpx.RespondError(w, apperr.Authentication(""))
		return
	}
	page := httpx.QueryInt(r, "page", 1)
	perPage := httpx.QueryInt(r, "per_page", 25)
	if perPage > 50 {
		perPage = 50
	}
	includeAll := r.URL.Query().Get("type") == "admin" && p.HasAdminScope()

	servers, total, err := h.store.ListForPrincipal(r.Context(), p.ID, includeAll, page, perPage)
	if err != nil {
		h.logger.Error("list servers", slog.Int64("principal_id", p.ID), slog.Any("error", err))
		httpx.RespondError(w, apperr.Internal(""))
		return
	}

	states := h.pollStates(r.Context(), servers)

	attrs := make([]any, 0, len(servers))
	for i, s := range servers {
		a := toAttributes(s, s.OwnerID == p.ID)
		a.State = states[i]
		attrs = append(attrs, a)
	}
	httpx.Collection(w, "server", attrs, httpx.NewPagination(page, perPage, len(servers), total))
}

// pollStates probes every server's node concurrently. A node that fails
// or times out yields "unknown" rather than failing the listing.
func (h *Handler) pollStates(ctx context.Context, servers []Server) []string {
	states := make([]string, len(servers))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(statePollers)
	for i, s := range servers {
		g.Go(func() error {
			state := "unknown"
			if client, err := h.nodes(gctx, s); err == nil {
				if probed, err := client.State(gctx); err == nil {
					state = probed
				}
			}
			mu.Lock()
			states[i] = state
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return states
}

// Get returns the resolved server with the caller's effective
// permission list.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	sctx := FromContext(r.Context())
	attrs := toAttributes(sctx.Server, sctx.IsOwner)
	body := struct {
		httpx.Object
		Meta struct {
			IsOwner         bool     `json:"is_server_owner"`
			UserPermissions []string `json:"user_permissions"`
		} `json:"meta"`
	}{Object: httpx.Object{ObjectType: "server", Attributes: attrs}}
	body.Meta.IsOwner = sctx.IsOwner
	body.Meta.UserPermissions = sctx.Permissions.List()
	httpx.JSON(w, http.StatusOK, body)
}

// Resources returns the node's live usage document for one server.
func (h *Handler) Resources(w http.ResponseWriter, r *http.Request) {
	sctx := FromContext(r.Context())
	client, err := h.nodes(r.Context(), sctx.Server)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	usage, err := client.ResourceUsage(r.Context())
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.Item(w, http.StatusOK, "stats", usage)
}
