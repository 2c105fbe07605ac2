package core

import "time"

// Event is the interface for all worker events.
type Event interface {
	eventMarker()
}

// ActionStarted is emitted when an action worker begins an attempt.
type ActionStarted struct {
	Action    *DaemonAction
	Timestamp time.Time
}

func (*ActionStarted) eventMarker() {}

// ActionCompleted is emitted when an attempt returns without error.
type ActionCompleted struct {
	Action    *DaemonAction
	Duration  time.Duration
	Timestamp time.Time
}

func (*ActionCompleted) eventMarker() {}

// ActionFailed is emitted when an action is DONE with an exception.
type ActionFailed struct {
	Action    *DaemonAction
	Error     error
	Timestamp time.Time
}

func (*ActionFailed) eventMarker() {}

// ActionRetrying is emitted when a failed attempt is re-queued.
type ActionRetrying struct {
	Action        *DaemonAction
	Attempt       int
	Error         error
	ScheduleAfter time.Time
	Timestamp     time.Time
}

func (*ActionRetrying) eventMarker() {}

// ActionTimedOut is emitted when a soft or hard limit fires.
type ActionTimedOut struct {
	Action      *DaemonAction
	Type        TimeoutType
	Measurement TimeoutMeasurement
	Timestamp   time.Time
}

func (*ActionTimedOut) eventMarker() {}

// InstanceStarted is emitted when an instance worker claims an instance.
type InstanceStarted struct {
	Instance  *WorkflowInstance
	Timestamp time.Time
}

func (*InstanceStarted) eventMarker() {}

// InstanceCompleted is emitted when an instance reaches DONE.
type InstanceCompleted struct {
	Instance  *WorkflowInstance
	Duration  time.Duration
	Error     error
	Timestamp time.Time
}

func (*InstanceCompleted) eventMarker() {}

// WorkerReclaimed is emitted when a dead worker's rows are re-queued.
type WorkerReclaimed struct {
	WorkerID  string
	Instances int
	Actions   int
	Timestamp time.Time
}

func (*WorkerReclaimed) eventMarker() {}
