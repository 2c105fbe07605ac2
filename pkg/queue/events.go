package queue

import (
	"context"
	"sync"

	"github.com/jdziat/simple-durable-workflows/pkg/core"
)

// Hub broadcasts worker events and runs lifecycle hooks.
type Hub struct {
	mu         sync.RWMutex
	subs       []chan core.Event
	onStart    []func(context.Context, *core.DaemonAction)
	onComplete []func(context.Context, *core.DaemonAction)
	onFail     []func(context.Context, *core.DaemonAction, error)
	onRetry    []func(context.Context, *core.DaemonAction, int, error)
}

// NewHub creates an empty Hub.
func NewHub() *Hub { return &Hub{} }

// Events returns a channel that receives every event emitted after the
// call. Events are dropped for subscribers that fall behind.
func (h *Hub) Events() <-chan core.Event {
	ch := make(chan core.Event, 100)
	h.mu.Lock()
	h.subs = append(h.subs, ch)
	h.mu.Unlock()
	return ch
}

// Unsubscribe removes a channel created by Events. The channel is not
// closed.
func (h *Hub) Unsubscribe(ch <-chan core.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i, sub := range h.subs {
		if sub == ch {
			h.subs = append(h.subs[:i], h.subs[i+1:]...)
			return
		}
	}
}

// Emit sends e to every subscriber without blocking.
func (h *Hub) Emit(e core.Event) {
	if h == nil {
		return
	}
	h.mu.RLock()
	subs := make([]chan core.Event, len(h.subs))
	copy(subs, h.subs)
	h.mu.RUnlock()

	for _, ch := range subs {
		select {
		case ch <- e:
		default:
		}
	}
}

// OnActionStart registers a hook run before each attempt.
func (h *Hub) OnActionStart(fn func(context.Context, *core.DaemonAction)) {
	h.mu.Lock()
	h.onStart = append(h.onStart, fn)
	h.mu.Unlock()
}

// OnActionComplete registers a hook run after a successful attempt.
func (h *Hub) OnActionComplete(fn func(context.Context, *core.DaemonAction)) {
	h.mu.Lock()
	h.onComplete = append(h.onComplete, fn)
	h.mu.Unlock()
}

// OnActionFail registers a hook run when an action is DONE with an
// exception.
func (h *Hub) OnActionFail(fn func(context.Context, *core.DaemonAction, error)) {
	h.mu.Lock()
	h.onFail = append(h.onFail, fn)
	h.mu.Unlock()
}

// OnActionRetry registers a hook run when a failed attempt is re-queued.
func (h *Hub) OnActionRetry(fn func(context.Context, *core.DaemonAction, int, error)) {
	h.mu.Lock()
	h.onRetry = append(h.onRetry, fn)
	h.mu.Unlock()
}

// CallStartHooks runs the start hooks.
func (h *Hub) CallStartHooks(ctx context.Context, a *core.DaemonAction) {
	if h == nil {
		return
	}
	h.mu.RLock()
	hooks := append([]func(context.Context, *core.DaemonAction){}, h.onStart...)
	h.mu.RUnlock()
	for _, fn := range hooks {
		fn(ctx, a)
	}
}

// CallCompleteHooks runs the completion hooks.
func (h *Hub) CallCompleteHooks(ctx context.Context, a *core.DaemonAction) {
	if h == nil {
		return
	}
	h.mu.RLock()
	hooks := append([]func(context.Context, *core.DaemonAction){}, h.onComplete...)
	h.mu.RUnlock()
	for _, fn := range hooks {
		fn(ctx, a)
	}
}

// CallFailHooks runs the failure hooks.
func (h *Hub) CallFailHooks(ctx context.Context, a *core.DaemonAction, err error) {
	if h == nil {
		return
	}
	h.mu.RLock()
	hooks := append([]func(context.Context, *core.DaemonAction, error){}, h.onFail...)
	h.mu.RUnlock()
	for _, fn := range hooks {
		fn(ctx, a, err)
	}
}

// CallRetryHooks runs the retry hooks.
func (h *Hub) CallRetryHooks(ctx context.Context, a *core.DaemonAction, attempt int, err error) {
	if h == nil {
		return
	}
	h.mu.RLock()
	hooks := append([]func(context.Context, *core.DaemonAction, int, error){}, h.onRetry...)
	h.mu.RUnlock()
	for _, fn := range hooks {
		fn(ctx, a, attempt, err)
	}
}
