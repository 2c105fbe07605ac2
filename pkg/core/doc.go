// Package core provides the fundamental types shared by every layer of the
// workflow engine.
//
// This package contains:
//   - WorkflowInstance, DaemonAction, DaemonActionResult, WorkerStatus and
//     StatusEvent data models with GORM annotations
//   - The task descriptor handed from a worker to an action executor
//   - Event types for worker monitoring
//   - Error sentinels and typed errors
//
// Most users should import the root package
// github.com/jdziat/simple-durable-workflows instead of this package directly.
package core
