// Package tokens issues short-lived signed credentials for operations the
// node agent serves directly: websocket sessions and file/backup
// transfers. Tokens are opaque to callers and verified only by the node.
package tokens

import (
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/portside-host/portside/internal/apperr"
	"github.com/portside-host/portside/internal/permission"
	"github.com/portside-host/portside/internal/server"
)

// Purpose scopes a token to one kind of node-served operation.
type Purpose string

const (
	PurposeWebsocket      Purpose = "websocket-connect"
	PurposeFileDownload   Purpose = "file-download"
	PurposeFileUpload     Purpose = "file-upload"
	PurposeBackupDownload Purpose = "backup-download"
)

// requiredPermission is force-included in every token of this purpose so
// the issuer and the permission gate can never disagree about what the
// token authorizes.
func (p Purpose) requiredPermission() string {
	switch p {
	case PurposeWebsocket:
		return permission.WebsocketConnect
	case PurposeFileDownload:
		return permission.FileReadContent
	case PurposeFileUpload:
		return permission.FileCreate
	case PurposeBackupDownload:
		return permission.BackupDownload
	default:
		return ""
	}
}

func (p Purpose) path(serverUUID string) string {
	switch p {
	case PurposeWebsocket:
		return "/api/servers/" + serverUUID + "/ws"
	case PurposeFileDownload:
		return "/download/file"
	case PurposeFileUpload:
		return "/upload/file"
	case PurposeBackupDownload:
		return "/download/backup"
	default:
		return "/"
	}
}

// Claims is the signed payload the node agent verifies.
type Claims struct {
	jwt.RegisteredClaims
	ServerUUID    string   `json:"server_uuid"`
	PrincipalUUID string   `json:"user_uuid"`
	Permissions   []string `json:"permissions"`
	Purpose       string   `json:"purpose"`
	FilePath      string   `json:"file_path,omitempty"`
	BackupUUID    string   `json:"backup_uuid,omitempty"`
}

// Extra carries the per-purpose resource binding.
type Extra struct {
	FilePath   string
	BackupUUID string
}

// Signed is the issued token plus a ready-to-use node URL embedding it.
type Signed struct {
	Token string
	URL   string
}

// Issuer signs capability tokens with a shared HS256 secret.
type Issuer struct {
	secret []byte
	ttl    time.Duration
}

// NewIssuer constructs Issuer. TTL defaults to 15 minutes.
func NewIssuer(secret string, ttl time.Duration) *Issuer {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &Issuer{secret: []byte(secret), ttl: ttl}
}

// Issue signs a token binding the caller's effective permission set to one
// server and purpose. The node descriptor must be usable before any
// signing is attempted.
func (i *Issuer) Issue(purpose Purpose, sctx *server.Context, node server.Node, extra Extra) (Signed, error) {
	if strings.TrimSpace(node.Host) == "" {
		return Signed{}, apperr.Internal("The node configuration for this server is invalid.")
	}
	required := purpose.requiredPermission()
	if required == "" {
		return Signed{}, apperr.Internal("")
	}

	perms := sctx.Permissions.List()
	found := false
	for _, p := range perms {
		if p == required {
			found = true
			break
		}
	}
	if !found {
		perms = append(perms, required)
	}

	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   sctx.Principal.UUID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
		},
		ServerUUID:    sctx.Server.UUID.String(),
		PrincipalUUID: sctx.Principal.UUID.String(),
		Permissions:   perms,
		Purpose:       string(purpose),
		FilePath:      extra.FilePath,
		BackupUUID:    extra.BackupUUID,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return Signed{}, apperr.Internal("")
	}

	q := url.Values{"token": {signed}}
	if extra.FilePath != "" {
		q.Set("file", extra.FilePath)
	}
	if extra.BackupUUID != "" {
		q.Set("backup", extra.BackupUUID)
	}
	return Signed{
		Token: signed,
		URL:   node.BaseURL() + purpose.path(sctx.Server.UUID.String()) + "?" + q.Encode(),
	}, nil
}
