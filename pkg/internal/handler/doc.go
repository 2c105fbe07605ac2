// Package handler provides internal reflection-based invocation of
// registered action and workflow functions.
//
// This package is internal and should not be imported directly.
// It provides:
//   - Handler: signature metadata validated once at definition time
//   - Payload decoding and dependency injection at call time
//   - Panic recovery into core.PanicError
package handler
