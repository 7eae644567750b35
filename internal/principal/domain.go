// Package principal resolves the calling identity from an opaque API key.
package principal

import (
	"time"

	"github.com/google/uuid"
)

// Admin key scopes that grant owner-equivalent access to any server.
const (
	ScopeServersView   = "servers.view"
	ScopeServersEdit   = "servers.edit"
	ScopeServersDelete = "servers.delete"
)

// Principal is the authenticated caller. Owned by the resource store and
// read-only here.
type Principal struct {
	ID          int64
	UUID        uuid.UUID
	Email       string
	Username    string
	AdminScopes []string
	DeletedAt   *time.Time
}

// IsDeleted reports whether the account has been soft-deleted.
func (p Principal) IsDeleted() bool {
	return p.DeletedAt != nil
}

// HasAdminScope reports whether the principal holds any of the admin
// server scopes.
func (p Principal) HasAdminScope() bool {
	for _, scope := range p.AdminScopes {
		switch scope {
		case ScopeServersView, ScopeServersEdit, ScopeServersDelete:
			return true
		}
	}
	return false
}

// APIKey is the stored credential a bearer token is checked against. The
// token is "<identifier><secret>"; only a bcrypt hash of the secret is
// kept.
type APIKey struct {
	ID          int64
	PrincipalID int64
	Identifier  string
	SecretHash  []byte
	LastUsedAt  *time.Time
}

// IdentifierLength is the fixed length of the public key prefix.
const IdentifierLength = 16
