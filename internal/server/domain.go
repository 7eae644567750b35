// Package server resolves who is calling, for which server, with which
// effective permission set. Every server-scoped operation consumes the
// Context produced here instead of re-deriving authorization facts.
package server

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/portside-host/portside/internal/permission"
	"github.com/portside-host/portside/internal/principal"
)

// Server is a tenant's provisioned game-server instance.
type Server struct {
	ID            int64
	UUID          uuid.UUID
	ShortID       string
	Name          string
	Description   string
	OwnerID       int64
	NodeID        int64
	Suspended     bool
	Installing    bool
	Transferring  bool
	Image         string
	AllowedImages []string
	Limits        Limits
	FeatureLimits FeatureLimits
}

// Limits holds resource limits enforced by the node agent.
type Limits struct {
	MemoryMB   int64
	DiskMB     int64
	CPUPercent int64
}

// FeatureLimits caps how many of each nested resource a server may hold.
type FeatureLimits struct {
	Databases   int
	Backups     int
	Allocations int
}

// Node is the connection descriptor for a server's node agent. Never
// mutated by this service.
type Node struct {
	ID     int64
	Name   string
	Scheme string
	Host   string
	Port   int
	Token  string
}

// BaseURL renders the node agent origin, e.g. "https://node1.example.com:8443".
func (n Node) BaseURL() string {
	return fmt.Sprintf("%s://%s:%d", n.Scheme, n.Host, n.Port)
}

// SubuserGrant is a (principal, server) pair with an explicit, already
// expanded permission list. Never includes the owner; at most one grant per
// principal per server.
type SubuserGrant struct {
	ID          int64
	ServerID    int64
	PrincipalID int64
	Permissions []string
}

// Context is the immutable result of authorization resolution for one
// request. Grant is nil for owners and admins.
type Context struct {
	Principal   principal.Principal
	Server      Server
	IsOwner     bool
	IsAdmin     bool
	Grant       *SubuserGrant
	Permissions permission.Set
}

// Allows applies the permission gate for this request.
func (c *Context) Allows(perm string) bool {
	return c.Permissions.Allows(perm)
}
