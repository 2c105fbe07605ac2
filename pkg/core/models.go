package core

import (
	"time"
)

// Status is the lifecycle state of a workflow instance or daemon action.
type Status string

const (
	StatusQueued     Status = "QUEUED"
	StatusInProgress Status = "IN_PROGRESS"
	StatusDone       Status = "DONE"
	StatusScheduled  Status = "SCHEDULED" // Instance waiting for its launch time
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusQueued, StatusInProgress, StatusDone, StatusScheduled:
		return true
	}
	return false
}

// Table names, also used as StatusEvent.RowTable values.
const (
	TableWorkflowInstances = "workflow_instances"
	TableDaemonActions     = "daemon_actions"
	TableActionResults     = "daemon_action_results"
	TableWorkerStatuses    = "worker_statuses"
	TableStatusEvents      = "status_events"
)

// Tracked is implemented by rows whose status transitions are recorded in the
// status event log.
type Tracked interface {
	TableName() string
	GetID() string
	GetStatus() Status
}

// WorkflowInstance is one execution of a registered workflow.
type WorkflowInstance struct {
	ID                     string     `gorm:"primaryKey;size:36"`
	WorkflowName           string     `gorm:"index;size:255;not null"`
	RegistryID             string     `gorm:"size:512;not null"`
	InputBody              []byte     `gorm:"type:bytes"`
	Status                 Status     `gorm:"index;size:20;default:'QUEUED'"`
	LaunchTime             *time.Time `gorm:"index"`
	EndTime                *time.Time
	AssignedWorkerStatusID *string    `gorm:"index;size:36"`
	Exception              string     `gorm:"type:text"`
	ExceptionStack         string     `gorm:"type:text"`
	ResultBody             []byte     `gorm:"type:bytes"`
	CreatedAt              time.Time  `gorm:"autoCreateTime"`
	UpdatedAt              time.Time  `gorm:"autoUpdateTime;index"`
}

func (WorkflowInstance) TableName() string    { return TableWorkflowInstances }
func (i *WorkflowInstance) GetID() string     { return i.ID }
func (i *WorkflowInstance) GetStatus() Status { return i.Status }

// Failed reports whether the instance finished with an exception.
func (i *WorkflowInstance) Failed() bool {
	return i.Status == StatusDone && i.Exception != ""
}

// DaemonAction is one durable step requested by a workflow instance.
type DaemonAction struct {
	ID                     string     `gorm:"primaryKey;size:36"`
	InstanceID             string     `gorm:"uniqueIndex:idx_action_instance_state;size:36;not null"`
	State                  string     `gorm:"uniqueIndex:idx_action_instance_state;size:64;not null"`
	RegistryID             string     `gorm:"size:512;not null"`
	InputBody              []byte     `gorm:"type:bytes"`
	Status                 Status     `gorm:"index;size:20;default:'QUEUED'"`
	StartedDatetime        *time.Time
	EndedDatetime          *time.Time
	AssignedWorkerStatusID *string    `gorm:"index;size:36"`
	RetryCurrentAttempt    int        `gorm:"default:0"`
	RetryMaxAttempts       *int       // nil means unlimited
	RetryBackoffSeconds    float64    `gorm:"default:1"`
	RetryBackoffFactor     float64    `gorm:"default:2"`
	RetryJitter            float64    `gorm:"default:0"`
	FinalResultID          *string    `gorm:"size:36"`
	WallSoftTimeout        *float64   `gorm:"column:wall_soft_timeout"`
	WallHardTimeout        *float64   `gorm:"column:wall_hard_timeout"`
	CPUSoftTimeout         *float64   `gorm:"column:cpu_soft_timeout"`
	CPUHardTimeout         *float64   `gorm:"column:cpu_hard_timeout"`
	ScheduleAfter          *time.Time `gorm:"index"`
	CreatedAt              time.Time  `gorm:"autoCreateTime"`
	UpdatedAt              time.Time  `gorm:"autoUpdateTime;index"`
}

func (DaemonAction) TableName() string    { return TableDaemonActions }
func (a *DaemonAction) GetID() string     { return a.ID }
func (a *DaemonAction) GetStatus() Status { return a.Status }

// DaemonActionResult is the append-only record of one execution attempt.
type DaemonActionResult struct {
	ID             string    `gorm:"primaryKey;size:36"`
	ActionID       string    `gorm:"index;size:36;not null"`
	InstanceID     string    `gorm:"index;size:36;not null"`
	AttemptNum     int       `gorm:"not null"`
	FinishedAt     time.Time `gorm:"not null"`
	Exception      string    `gorm:"type:text"`
	ExceptionStack string    `gorm:"type:text"`
	ResultBody     []byte    `gorm:"type:bytes"`
}

func (DaemonActionResult) TableName() string { return TableActionResults }

// Failed reports whether the attempt raised.
func (r *DaemonActionResult) Failed() bool { return r.Exception != "" }

// WorkerStatus is the health record of one worker process.
type WorkerStatus struct {
	ID                string    `gorm:"primaryKey;size:36"`
	InternalProcessID int       `gorm:"not null"`
	Hostname          string    `gorm:"size:255"`
	IsActionWorker    bool      `gorm:"default:false"`
	IsInstanceWorker  bool      `gorm:"default:false"`
	IsDraining        bool      `gorm:"default:false"`
	LaunchTime        time.Time `gorm:"not null"`
	LastPing          time.Time `gorm:"index"`
	CleanedUp         bool      `gorm:"index;default:false"`
}

func (WorkerStatus) TableName() string { return TableWorkerStatuses }

// StatusEvent is one entry of the status transition log. Seq is assigned in
// commit order and serves as the ready-stream cursor.
type StatusEvent struct {
	Seq       int64     `gorm:"primaryKey;autoIncrement"`
	RowTable  string    `gorm:"column:row_table;index:idx_event_table_status;size:64;not null"`
	RowID     string    `gorm:"size:36;not null"`
	Status    Status    `gorm:"index:idx_event_table_status;size:20;not null"`
	Queue     string    `gorm:"size:255"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
}

func (StatusEvent) TableName() string { return TableStatusEvents }

// ActionRequest is the value produced by calling an action definition. It
// describes a pending invocation; nothing executes until a workflow hands it
// to its context.
type ActionRequest struct {
	RegistryID string
	Args       any
}
