// Package permission holds the closed catalog of fine-grained client
// permissions and the wildcard expansion applied when subuser grants are
// written.
package permission

import (
	"strings"

	"github.com/portside-host/portside/internal/apperr"
)

// Recognised permission strings, grouped by resource category.
const (
	WebsocketConnect = "websocket.connect"

	ControlConsole = "control.console"
	ControlStart   = "control.start"
	ControlStop    = "control.stop"
	ControlRestart = "control.restart"

	UserCreate = "user.create"
	UserRead   = "user.read"
	UserUpdate = "user.update"
	UserDelete = "user.delete"

	FileCreate      = "file.create"
	FileRead        = "file.read"
	FileReadContent = "file.read-content"
	FileUpdate      = "file.update"
	FileDelete      = "file.delete"
	FileArchive     = "file.archive"

	BackupCreate   = "backup.create"
	BackupRead     = "backup.read"
	BackupDelete   = "backup.delete"
	BackupDownload = "backup.download"

	AllocationRead   = "allocation.read"
	AllocationCreate = "allocation.create"
	AllocationUpdate = "allocation.update"
	AllocationDelete = "allocation.delete"

	DatabaseCreate       = "database.create"
	DatabaseRead         = "database.read"
	DatabaseUpdate       = "database.update"
	DatabaseDelete       = "database.delete"
	DatabaseViewPassword = "database.view_password"

	ScheduleCreate = "schedule.create"
	ScheduleRead   = "schedule.read"
	ScheduleUpdate = "schedule.update"
	ScheduleDelete = "schedule.delete"

	SettingsRename    = "settings.rename"
	SettingsReinstall = "settings.reinstall"
	SettingsImage     = "settings.docker-image"

	ActivityRead = "activity.read"
)

// Wildcard grants every registered permission.
const Wildcard = "*"

var catalog = []string{
	WebsocketConnect,
	ControlConsole, ControlStart, ControlStop, ControlRestart,
	UserCreate, UserRead, UserUpdate, UserDelete,
	FileCreate, FileRead, FileReadContent, FileUpdate, FileDelete, FileArchive,
	BackupCreate, BackupRead, BackupDelete, BackupDownload,
	AllocationRead, AllocationCreate, AllocationUpdate, AllocationDelete,
	DatabaseCreate, DatabaseRead, DatabaseUpdate, DatabaseDelete, DatabaseViewPassword,
	ScheduleCreate, ScheduleRead, ScheduleUpdate, ScheduleDelete,
	SettingsRename, SettingsReinstall, SettingsImage,
	ActivityRead,
}

var registered = func() map[string]struct{} {
	m := make(map[string]struct{}, len(catalog))
	for _, p := range catalog {
		m[p] = struct{}{}
	}
	return m
}()

// All returns every registered permission string in catalog order.
func All() []string {
	out := make([]string, len(catalog))
	copy(out, catalog)
	return out
}

// Registered reports whether perm is a recognised permission string.
func Registered(perm string) bool {
	_, ok := registered[perm]
	return ok
}

// Expand resolves wildcards in a requested grant into concrete permission
// strings. `*` short-circuits to the full catalog; `category.*` expands to
// every permission sharing that prefix. Unknown tokens and unmatched
// category wildcards are validation errors naming the token.
//
// websocket.connect is appended to every expanded grant regardless of the
// request: every subuser may observe connection state. This is product
// policy, applied once at grant-write time; authorization checks test
// literal membership against the stored list.
func Expand(requested []string) ([]string, error) {
	seen := make(map[string]struct{}, len(requested))
	out := make([]string, 0, len(requested)+1)

	add := func(perm string) {
		if _, dup := seen[perm]; dup {
			return
		}
		seen[perm] = struct{}{}
		out = append(out, perm)
	}

	for _, token := range requested {
		token = strings.TrimSpace(token)
		switch {
		case token == Wildcard:
			// Full catalog already includes websocket.connect.
			return All(), nil
		case strings.HasSuffix(token, ".*"):
			prefix := strings.TrimSuffix(token, "*")
			matched := false
			for _, perm := range catalog {
				if strings.HasPrefix(perm, prefix) {
					add(perm)
					matched = true
				}
			}
			if !matched {
				return nil, apperr.Validation("permissions", "registered",
					"The wildcard "+token+" does not match any registered permission category.")
			}
		default:
			if !Registered(token) {
				return nil, apperr.Validation("permissions", "registered",
					"The permission "+token+" is not registered.")
			}
			add(token)
		}
	}

	add(WebsocketConnect)
	return out, nil
}
