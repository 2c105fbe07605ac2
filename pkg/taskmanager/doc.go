// Package taskmanager connects workflow coroutines to durable actions.
//
// When a workflow hands an action request to its Context, the Manager
// derives the next state hash, persists a DaemonAction for
// (instance, state) and returns a future. A background loop follows DONE
// transitions of actions and settles the matching futures on the scheduler
// loop. Replayed instances reproduce the same state hashes, so actions that
// already finished resolve immediately instead of running again.
package taskmanager
