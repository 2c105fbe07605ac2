// Package worker runs the two kinds of worker process.
//
// An ActionWorker pulls QUEUED daemon actions from the ready stream, claims
// them and executes the registered action under soft and hard timeouts. An
// InstanceWorker pulls QUEUED workflow instances and hosts them as
// coroutines on a cooperative scheduler, dispatching their actions through a
// task manager.
//
// Both register a WorkerStatus row, ping it while alive and move through
// RUNNING, DRAINING and exit. Run returns an *ExitError when the process
// should terminate with a specific code.
package worker
