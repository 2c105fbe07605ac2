// Package context provides internal context helpers for action execution.
//
// This package is internal and should not be imported directly.
// It provides the context value carrying the running task's descriptor and
// the worker executing it.
package context
