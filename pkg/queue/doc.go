// Package queue is the client side of the engine: it starts workflow
// instances, waits for their results and fans worker events out to
// subscribers.
//
// Most users should import the root package
// github.com/jdziat/simple-durable-workflows which re-exports these.
package queue
