// Package retry computes when a failed daemon action may run again, and
// provides a bounded backoff helper for transient storage operations.
//
// The action policy is pure: delay = backoff_seconds * backoff_factor ^
// retry_current_attempt, perturbed by a uniform jitter fraction and added to
// the attempt's end time.
package retry
