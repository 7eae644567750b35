// Package schedules manages recurring task schedules and their ordered
// task lists. Cron expressions are parsed by an external oracle; this
// package only stores the five fields and the computed next run.
package schedules

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/portside-host/portside/internal/apperr"
)

// Task actions.
const (
	ActionPower   = "power"
	ActionCommand = "command"
	ActionBackup  = "backup"
)

// actionsRequiringPayload is the hardcoded policy set: these actions are
// meaningless without a payload, backup tolerates an empty ignore list.
var actionsRequiringPayload = map[string]bool{
	ActionPower:   true,
	ActionCommand: true,
}

// Cron holds the five standard cron fields as the caller supplied them.
type Cron struct {
	Minute     string `json:"minute"`
	Hour       string `json:"hour"`
	DayOfMonth string `json:"day_of_month"`
	Month      string `json:"month"`
	DayOfWeek  string `json:"day_of_week"`
}

// Expression renders the five fields as one standard cron expression.
func (c Cron) Expression() string {
	return fmt.Sprintf("%s %s %s %s %s", c.Minute, c.Hour, c.DayOfMonth, c.Month, c.DayOfWeek)
}

// NextRun asks the cron parser for the first fire time after the given
// instant. An unparseable expression maps to a validation error on the
// cron fields.
func (c Cron) NextRun(after time.Time) (time.Time, error) {
	sched, err := cron.ParseStandard(c.Expression())
	if err != nil {
		return time.Time{}, apperr.Validation("cron", "cron_expression",
			fmt.Sprintf("The cron expression %q is not valid.", c.Expression()))
	}
	return sched.Next(after), nil
}

// Schedule is one recurring plan on a server.
type Schedule struct {
	ID             int64
	ServerID       int64
	Name           string
	Cron           Cron
	IsActive       bool
	OnlyWhenOnline bool
	IsProcessing   bool
	LastRunAt      *time.Time
	NextRunAt      time.Time
	CreatedAt      time.Time
	Tasks          []Task
}

// Task is one step of a schedule, executed in sequence order.
type Task struct {
	ID                int64
	ScheduleID        int64
	Sequence          int
	Action            string
	Payload           string
	TimeOffsetSeconds int
	ContinueOnFailure bool
}

// ValidateTask enforces the action catalog and the per-action payload
// policy.
func ValidateTask(action, payload string) error {
	switch action {
	case ActionPower, ActionCommand, ActionBackup:
	default:
		return apperr.Validation("action", "in:command,power,backup",
			fmt.Sprintf("%q is not a recognised task action.", action))
	}
	if actionsRequiringPayload[action] && payload == "" {
		return apperr.Validation("payload", "required",
			fmt.Sprintf("A payload must be provided for %s tasks.", action))
	}
	return nil
}
