package calibration

import (
	"time"

	"github.com/floorfix/floorfix/pkg/tracking"
)

// Phase defines phases of a floor fix session.
type Phase string

const (
	PhaseInactive           Phase = "Inactive"
	PhaseSelectingReference Phase = "SelectingReference"
	PhaseAccumulating       Phase = "Accumulating"
)

// Active reports whether a session is running in this phase.
func (p Phase) Active() bool {
	return p == PhaseSelectingReference || p == PhaseAccumulating
}

const (
	// DefaultSampleCount is the number of pose samples a session accumulates.
	DefaultSampleCount = 25
	// ControllerUpOffsetCorrection is the height of the tracked reference point
	// above the floor with the controller lying touchpad up.
	ControllerUpOffsetCorrection = 0.062
	// ControllerDownOffsetCorrection is the same height with the controller
	// lying touchpad down.
	ControllerDownOffsetCorrection = 0.006
)

// Grip is the resting orientation of the reference controller.
type Grip string

const (
	GripTouchpadUp   Grip = "TouchpadUp"
	GripTouchpadDown Grip = "TouchpadDown"
)

// Action defines user actions for the floor fix.
type Action string

const (
	ActionStart            Action = "Start"
	ActionAbort            Action = "Abort"
	ActionSchedule         Action = "Schedule"
	ActionScheduleDisable  Action = "ScheduleDisable"
	ActionScheduleSkip     Action = "ScheduleSkip"
	ActionSchedulePostpone Action = "SchedulePostpone"
	ActionScheduleUpcoming Action = "ScheduleUpcoming"
	ActionScheduleFailed   Action = "ScheduleFailed"
)

// Result is the outcome of a completed session.
type Result struct {
	Offset      float32           `json:"offset"`
	OffsetY     float64           `json:"offsetY"`
	Roll        float64           `json:"roll"`
	Correction  float64           `json:"correction"`
	Grip        Grip              `json:"grip"`
	Reference   tracking.DeviceID `json:"reference"`
	Samples     int               `json:"samples"`
	CompletedAt time.Time         `json:"completedAt"`
}

// Status is a synthesized view model exposed via HTTP and the CLI. Reference,
// RunningRoll and OffsetY are only meaningful during PhaseAccumulating.
type Status struct {
	Phase        Phase             `json:"phase"`
	Samples      int               `json:"samples"`
	SampleTarget int               `json:"sampleTarget"`
	Reference    tracking.DeviceID `json:"reference"`
	RunningRoll  float64           `json:"runningRoll"`
	OffsetY      float64           `json:"offsetY"`
	StartedAt    time.Time         `json:"startedAt"`
	Message      string            `json:"message"`
	LastResult   *Result           `json:"lastResult,omitempty"`
	CanStart     bool              `json:"canStart"`
	CanAbort     bool              `json:"canAbort"`
	// ScheduledAt is the next scheduled floor fix, zero when unscheduled.
	ScheduledAt time.Time `json:"scheduledAt,omitempty"`
}

// ScheduleInfo describes the floor fix schedule. An empty Cron means
// unscheduled.
type ScheduleInfo struct {
	Cron     string      `json:"cron"`
	NextRuns []time.Time `json:"nextRuns,omitempty"`
}

// LoopStats describes the daemon's frame loop for diagnostics.
type LoopStats struct {
	TickInterval time.Duration `json:"tickInterval"`
	TickRate     float64       `json:"tickRate"`
	MissedTicks  int           `json:"missedTicks"`
	SkippedTicks uint64        `json:"skippedTicks"`
	LastTick     time.Time     `json:"lastTick"`
}
