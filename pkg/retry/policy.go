package retry

import (
	"math"
	"math/rand/v2"
	"time"

	"github.com/jdziat/simple-durable-workflows/pkg/core"
)

// Source yields uniform floats in [0, 1).
type Source interface {
	Float64() float64
}

type globalSource struct{}

func (globalSource) Float64() float64 { return rand.Float64() }

// DefaultSource draws from the process-wide generator.
var DefaultSource Source = globalSource{}

// MaxDelay caps a retry delay; larger backoff products saturate here.
const MaxDelay = time.Duration(math.MaxInt64)

// IsAllowed reports whether the action may be attempted again.
func IsAllowed(a *core.DaemonAction) bool {
	if a.RetryMaxAttempts == nil {
		return true
	}
	return a.RetryCurrentAttempt < *a.RetryMaxAttempts
}

// Delay returns the jittered delay for the action's current attempt.
func Delay(a *core.DaemonAction, src Source) time.Duration {
	if src == nil {
		src = DefaultSource
	}
	base := a.RetryBackoffSeconds * math.Pow(a.RetryBackoffFactor, float64(a.RetryCurrentAttempt))
	if a.RetryJitter > 0 {
		base += base * a.RetryJitter * (src.Float64()*2 - 1)
	}
	if base < 0 || math.IsNaN(base) {
		base = 0
	}
	ns := base * float64(time.Second)
	if ns >= float64(MaxDelay) {
		return MaxDelay
	}
	return time.Duration(ns)
}

// Calculate returns the earliest time the action may run again, measured from
// its last end time (or now when it never ended).
func Calculate(a *core.DaemonAction, src Source) time.Time {
	from := time.Now()
	if a.EndedDatetime != nil {
		from = *a.EndedDatetime
	}
	return from.Add(Delay(a, src))
}
