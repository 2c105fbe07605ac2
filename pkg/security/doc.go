// Package security provides validation, sanitization, and limits for the
// workflow engine.
//
// This package includes:
//   - Input validation for registry ids and queue names
//   - Error message and stack sanitization before persistence
//   - Clamping functions that keep retry counts and pool sizes in bounds
//
// Most users should import the root package
// github.com/jdziat/simple-durable-workflows which re-exports these functions.
package security
