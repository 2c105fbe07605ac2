// Package scheduler is a cooperative, single-threaded run loop that hosts
// many workflow coroutines.
//
// Callbacks and coroutine steps run strictly one at a time, in the order they
// were submitted. A coroutine is a goroutine that holds the loop's baton while
// it runs and hands it back when it awaits an unresolved Future or returns.
// Futures are resolved from any goroutine; the resolution and the resumption
// of every waiter are queued on the loop.
package scheduler
