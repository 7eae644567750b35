// Package jobs defines the background task types processed by the worker
// binary: best-effort activity log writes and the schedule sweep.
package jobs

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskActivityRecord appends one audit entry to the activity log.
	TaskActivityRecord = "activity:record"
	// TaskScheduleSweep runs due server schedules through the node agents.
	TaskScheduleSweep = "schedules:sweep"
)

// ActivityPayload describes one audit entry to persist.
type ActivityPayload struct {
	ServerID  int64          `json:"server_id"`
	ActorUUID string         `json:"actor_uuid"`
	Event     string         `json:"event"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// NewActivityTask constructs an Asynq task carrying one audit entry.
func NewActivityTask(payload ActivityPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskActivityRecord, data, asynq.Queue(QueueDefault)), nil
}

// NewScheduleSweepTask constructs the periodic schedule sweep task.
func NewScheduleSweepTask() *asynq.Task {
	return asynq.NewTask(TaskScheduleSweep, nil, asynq.Queue(QueueDefault))
}
