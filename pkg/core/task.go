package core

import (
	"encoding/json"
	"time"
)

// TimeoutMeasurement selects the clock a timeout is measured against.
type TimeoutMeasurement string

const (
	MeasureCPUTime  TimeoutMeasurement = "CPU_TIME"
	MeasureWallTime TimeoutMeasurement = "WALL_TIME"
)

// TimeoutType distinguishes cooperative from terminal timeouts.
type TimeoutType string

const (
	TimeoutSoft TimeoutType = "SOFT"
	TimeoutHard TimeoutType = "HARD"
)

// TimeoutDefinition is a single limit applied to an executing action.
type TimeoutDefinition struct {
	Measurement TimeoutMeasurement `json:"measurement"`
	Type        TimeoutType        `json:"type"`
	Seconds     float64            `json:"seconds"`
}

// Duration returns the limit as a time.Duration.
func (t TimeoutDefinition) Duration() time.Duration {
	return time.Duration(t.Seconds * float64(time.Second))
}

// TaskDescriptor is everything an executor needs to run one claimed action.
type TaskDescriptor struct {
	ActionID   string              `json:"action_id"`
	InstanceID string              `json:"instance_id"`
	RegistryID string              `json:"registry_id"`
	InputBody  json.RawMessage     `json:"input_body"`
	Attempt    int                 `json:"attempt"`
	Timeouts   []TimeoutDefinition `json:"timeouts"`
}

// NewTaskDescriptor builds the descriptor for a claimed action.
func NewTaskDescriptor(a *DaemonAction) *TaskDescriptor {
	d := &TaskDescriptor{
		ActionID:   a.ID,
		InstanceID: a.InstanceID,
		RegistryID: a.RegistryID,
		InputBody:  json.RawMessage(a.InputBody),
		Attempt:    a.RetryCurrentAttempt,
	}
	add := func(m TimeoutMeasurement, t TimeoutType, v *float64) {
		if v != nil && *v > 0 {
			d.Timeouts = append(d.Timeouts, TimeoutDefinition{Measurement: m, Type: t, Seconds: *v})
		}
	}
	add(MeasureWallTime, TimeoutSoft, a.WallSoftTimeout)
	add(MeasureWallTime, TimeoutHard, a.WallHardTimeout)
	add(MeasureCPUTime, TimeoutSoft, a.CPUSoftTimeout)
	add(MeasureCPUTime, TimeoutHard, a.CPUHardTimeout)
	return d
}

// Timeout returns the limit for the given clock and type, if any.
func (d *TaskDescriptor) Timeout(m TimeoutMeasurement, t TimeoutType) (time.Duration, bool) {
	for _, td := range d.Timeouts {
		if td.Measurement == m && td.Type == t {
			return td.Duration(), true
		}
	}
	return 0, false
}
