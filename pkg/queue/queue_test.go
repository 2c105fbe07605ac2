package queue_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jdziat/simple-durable-workflows/pkg/core"
	"github.com/jdziat/simple-durable-workflows/pkg/queue"
	"github.com/jdziat/simple-durable-workflows/pkg/registry"
	"github.com/jdziat/simple-durable-workflows/pkg/storage/storagetest"
	"github.com/jdziat/simple-durable-workflows/pkg/workflow"
)

type Order struct {
	SKU string `json:"sku" validate:"required"`
	Qty int    `json:"qty" validate:"gte=1"`
}

func placeOrder(_ workflow.Context, o Order) (string, error) { return o.SKU, nil }

var placeOrderWorkflow = registry.MustWorkflow(placeOrder, registry.WithInputSchema())

func TestQueueNew_Defaults(t *testing.T) {
	s := storagetest.Open(t)
	ctx := context.Background()

	h, err := queue.QueueNew(ctx, s, placeOrderWorkflow, Order{SKU: "abc", Qty: 1})
	require.NoError(t, err)
	assert.NotEmpty(t, h.ID)
	assert.Equal(t, placeOrderWorkflow.ID(), h.Queue)

	inst, err := h.Instance(ctx)
	require.NoError(t, err)
	assert.Equal(t, core.StatusQueued, inst.Status)
	assert.Equal(t, placeOrderWorkflow.ID(), inst.RegistryID)
	assert.JSONEq(t, `{"sku":"abc","qty":1}`, string(inst.InputBody))
}

func TestQueueNew_Options(t *testing.T) {
	s := storagetest.Open(t)
	ctx := context.Background()

	h, err := queue.QueueNew(ctx, s, placeOrderWorkflow, Order{SKU: "abc", Qty: 2},
		queue.Queue("orders"),
		queue.At(time.Now().Add(time.Hour)),
		queue.WithID("order-42"),
	)
	require.NoError(t, err)
	assert.Equal(t, "order-42", h.ID)

	inst, err := h.Instance(ctx)
	require.NoError(t, err)
	assert.Equal(t, "orders", inst.WorkflowName)
	assert.Equal(t, core.StatusScheduled, inst.Status)
}

func TestQueueNew_InvalidPayload(t *testing.T) {
	s := storagetest.Open(t)

	_, err := queue.QueueNew(context.Background(), s, placeOrderWorkflow, Order{Qty: 0})
	assert.ErrorIs(t, err, core.ErrInvalidInput)

	instances, err := s.ListInstances(context.Background(), "", 0)
	require.NoError(t, err)
	assert.Empty(t, instances)
}

func TestQueueNew_InvalidQueue(t *testing.T) {
	s := storagetest.Open(t)
	_, err := queue.QueueNew(context.Background(), s, placeOrderWorkflow, Order{SKU: "x", Qty: 1}, queue.Queue("no spaces"))
	assert.ErrorIs(t, err, core.ErrInvalidQueueName)
}

func TestInstanceHandle_Wait(t *testing.T) {
	s := storagetest.Open(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	w := storagetest.Worker(t, s, false)

	h, err := queue.QueueNew(ctx, s, placeOrderWorkflow, Order{SKU: "abc", Qty: 1})
	require.NoError(t, err)

	go func() {
		time.Sleep(50 * time.Millisecond)
		if _, err := s.ClaimInstance(ctx, h.ID, w); err != nil {
			return
		}
		_, _ = s.CompleteInstance(ctx, h.ID, w, []byte(`"abc"`), "", "")
	}()

	got, err := queue.WaitResult[string](ctx, h)
	require.NoError(t, err)
	assert.Equal(t, "abc", got)

	// Already DONE: returns immediately.
	body, err := h.Wait(ctx)
	require.NoError(t, err)
	assert.JSONEq(t, `"abc"`, string(body))
}

func TestInstanceHandle_WaitFollowsOwnQueue(t *testing.T) {
	s := storagetest.Open(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	w := storagetest.Worker(t, s, false)

	h, err := queue.QueueNew(ctx, s, placeOrderWorkflow, Order{SKU: "abc", Qty: 1}, queue.Queue("orders"))
	require.NoError(t, err)
	other := storagetest.Instance(t, s, "billing")

	handle := queue.Handle(s, h.ID)
	go func() {
		time.Sleep(50 * time.Millisecond)
		for _, id := range []string{other.ID, h.ID} {
			if _, err := s.ClaimInstance(ctx, id, w); err != nil {
				return
			}
			_, _ = s.CompleteInstance(ctx, id, w, []byte(`"`+id+`"`), "", "")
		}
	}()

	got, err := queue.WaitResult[string](ctx, handle)
	require.NoError(t, err)
	assert.Equal(t, h.ID, got)
	assert.Equal(t, "orders", handle.Queue)

	_, err = queue.Handle(s, "missing").Wait(ctx)
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestInstanceHandle_WaitFailure(t *testing.T) {
	s := storagetest.Open(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	w := storagetest.Worker(t, s, false)

	h, err := queue.QueueNew(ctx, s, placeOrderWorkflow, Order{SKU: "abc", Qty: 1})
	require.NoError(t, err)
	_, err = s.ClaimInstance(ctx, h.ID, w)
	require.NoError(t, err)
	_, err = s.CompleteInstance(ctx, h.ID, w, nil, "out of stock", "trace")
	require.NoError(t, err)

	_, err = queue.Handle(s, h.ID).Wait(ctx)
	var ie *core.InstanceError
	require.True(t, errors.As(err, &ie))
	assert.Equal(t, "out of stock", ie.Message)
	assert.Equal(t, "trace", ie.Stack)
}

func TestInstanceHandle_WaitContextDone(t *testing.T) {
	s := storagetest.Open(t)
	h, err := queue.QueueNew(context.Background(), s, placeOrderWorkflow, Order{SKU: "abc", Qty: 1})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err = h.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
