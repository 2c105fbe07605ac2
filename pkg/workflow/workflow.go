// Package workflow is the authoring surface for workflow functions.
//
// A workflow is an ordinary Go function taking a Context. Calling a
// registered action yields a *core.ActionRequest; handing it to the Context
// durably dispatches it and suspends the workflow until the action is DONE:
//
//	func Checkout(ctx workflow.Context, o Order) (Receipt, error) {
//		id, err := workflow.Execute[string](ctx, Charge.Call(o))
//		if err != nil {
//			return Receipt{}, err
//		}
//		return Receipt{PaymentID: id}, nil
//	}
//
// Workflow code must be deterministic: the same input must produce the same
// sequence of action requests, so a replayed instance finds its earlier
// actions already recorded.
package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/jdziat/simple-durable-workflows/pkg/core"
)

// Future is a pending action result.
type Future interface {
	// Ready reports whether the result is available without suspending.
	Ready() bool
}

// Context is passed to every workflow function. It is also a
// context.Context that is cancelled when the instance is cancelled.
type Context interface {
	context.Context

	// InstanceID returns the id of the running workflow instance.
	InstanceID() string

	// Logger returns a logger tagged with the instance id.
	Logger() *slog.Logger

	// Go dispatches req without waiting for it.
	Go(req *core.ActionRequest) Future

	// Wait suspends the workflow until f resolves and returns the raw result
	// body. Failed actions return *core.ActionError.
	Wait(f Future) ([]byte, error)
}

// Get waits for f and decodes its result into R.
func Get[R any](ctx Context, f Future) (R, error) {
	var zero R
	body, err := ctx.Wait(f)
	if err != nil {
		return zero, err
	}
	if len(body) == 0 {
		return zero, nil
	}
	var out R
	if err := json.Unmarshal(body, &out); err != nil {
		return zero, fmt.Errorf("decode action result: %w", err)
	}
	return out, nil
}

// Execute dispatches req and waits for its result.
func Execute[R any](ctx Context, req *core.ActionRequest) (R, error) {
	return Get[R](ctx, ctx.Go(req))
}

// GoAll dispatches every request, in order, without waiting.
func GoAll(ctx Context, reqs ...*core.ActionRequest) []Future {
	futures := make([]Future, len(reqs))
	for i, r := range reqs {
		futures[i] = ctx.Go(r)
	}
	return futures
}

// All waits for every future and returns the results in order. The first
// error encountered is returned after all futures have settled.
func All[R any](ctx Context, futures []Future) ([]R, error) {
	results := make([]R, len(futures))
	var firstErr error
	for i, f := range futures {
		r, err := Get[R](ctx, f)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		results[i] = r
	}
	return results, firstErr
}
