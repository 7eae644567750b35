// Package backups manages server backups: panel rows plus the node-side
// archive lifecycle.
package backups

import (
	"time"

	"github.com/google/uuid"
)

// Backup is one stored backup row. The archive itself lives on the node.
type Backup struct {
	ID           int64
	UUID         uuid.UUID
	ServerID     int64
	Name         string
	IgnoredFiles string
	Bytes        int64
	CompletedAt  *time.Time
	CreatedAt    time.Time
}
