package registry

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/jdziat/simple-durable-workflows/pkg/core"
	"github.com/jdziat/simple-durable-workflows/pkg/workflow"
)

const pkgPath = "github.com/jdziat/simple-durable-workflows/pkg/registry"

type order struct {
	ID     string `json:"id" validate:"required"`
	Amount int    `json:"amount" validate:"gte=0"`
}

type mailer struct{ sent []string }

func chargeCard(_ context.Context, o order) (string, error) { return "pay-" + o.ID, nil }

func refundCard(_ context.Context, o order) (string, error) { return "refund-" + o.ID, nil }

func ping(_ context.Context) error { return nil }

func notify(_ context.Context, o order, m *mailer, l *slog.Logger) error {
	m.sent = append(m.sent, o.ID)
	l.Info("notified", "order", o.ID)
	return nil
}

func query(_ context.Context, db *gorm.DB) (int, error) {
	if db == nil {
		return 0, errors.New("nil session")
	}
	return 1, nil
}

func checkout(ctx workflow.Context, o order) (string, error) {
	return workflow.Execute[string](ctx, MustAction(chargeCard).Call(o))
}

func TestNewAction_DerivesSymbolID(t *testing.T) {
	a, err := NewAction(chargeCard)
	require.NoError(t, err)

	assert.Equal(t, pkgPath+".chargeCard", a.ID())
	assert.Equal(t, pkgPath, a.Module())
	assert.Equal(t, KindAction, a.Kind())
}

func TestNewAction_NameOverride(t *testing.T) {
	a, err := NewAction(chargeCard, Name("billing.Charge"))
	require.NoError(t, err)
	assert.Equal(t, "billing.Charge", a.ID())
	assert.Equal(t, pkgPath, a.Module())
}

func TestNewAction_ValidatesSignature(t *testing.T) {
	cases := map[string]any{
		"not a function":  42,
		"no context":      func(o order) error { return nil },
		"two payloads":    func(_ context.Context, _ order, _ int) error { return nil },
		"bad return":      func(_ context.Context) string { return "" },
		"workflow ctx":    func(_ workflow.Context) error { return nil },
		"nil function":    (func(context.Context) error)(nil),
		"undeclared deps": func(_ context.Context, _ order, _ *mailer) error { return nil },
	}
	for name, fn := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := NewAction(fn)
			require.Error(t, err)
			assert.ErrorIs(t, err, core.ErrValidation)
			var ve *core.ValidationError
			assert.ErrorAs(t, err, &ve)
		})
	}
}

func TestNewAction_AcceptsInjectedDeps(t *testing.T) {
	a, err := NewAction(notify, Inject[*mailer]())
	require.NoError(t, err)
	assert.Len(t, a.handler.DepTypes, 2)
}

func TestNewWorkflow(t *testing.T) {
	w, err := NewWorkflow(checkout, Queue("orders"))
	require.NoError(t, err)
	assert.Equal(t, KindWorkflow, w.Kind())
	assert.Equal(t, "orders", w.Queue())

	w2, err := NewWorkflow(checkout)
	require.NoError(t, err)
	assert.Equal(t, w2.ID(), w2.Queue())

	_, err = NewWorkflow(chargeCard)
	assert.ErrorIs(t, err, core.ErrValidation)
}

func TestRegister_ConflictOnDifferentFunction(t *testing.T) {
	r := New()
	require.NoError(t, r.Register(MustAction(chargeCard, Name("shared"))))

	err := r.Register(MustAction(refundCard, Name("shared")))
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrRegistrationConflict)
}

func TestRegister_IdenticalFunctionIsNoop(t *testing.T) {
	r := New()
	a := MustAction(chargeCard)

	require.NoError(t, r.Register(a))
	require.NoError(t, r.Register(a))
	require.NoError(t, r.Register(MustAction(chargeCard)))

	assert.Equal(t, []string{a.ID()}, r.IDs(KindAction))
}

func TestRegister_RequiresProviders(t *testing.T) {
	r := New()
	err := r.Register(MustAction(notify, Inject[*mailer]()))
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrValidation)

	Provide(r, func(context.Context) (*mailer, error) { return &mailer{}, nil })
	assert.NoError(t, r.Register(MustAction(notify, Inject[*mailer]())))

	err = r.Register(MustAction(query))
	assert.ErrorIs(t, err, core.ErrValidation, "*gorm.DB needs a session resolver")
}

func TestRegister_AllOrNothing(t *testing.T) {
	r := New()
	charge := MustAction(chargeCard)

	err := r.Register(charge, MustAction(notify, Inject[*mailer]()))
	assert.ErrorIs(t, err, core.ErrValidation)
	assert.Empty(t, r.IDs(KindAction))
	_, err = r.Lookup(charge.ID())
	assert.ErrorIs(t, err, core.ErrNotFound)

	err = r.Register(charge, MustAction(chargeCard, Name("shared")), MustAction(refundCard, Name("shared")))
	assert.ErrorIs(t, err, core.ErrRegistrationConflict)
	assert.Empty(t, r.IDs(KindAction))

	require.NoError(t, r.Register(charge, charge))
	assert.Equal(t, []string{charge.ID()}, r.IDs(KindAction))
}

func TestLookup_NotFound(t *testing.T) {
	r := New()
	_, err := r.Lookup("missing.Fn")
	assert.ErrorIs(t, err, core.ErrNotFound)

	require.NoError(t, r.Register(MustAction(ping)))
	_, err = r.Workflow(MustAction(ping).ID())
	assert.ErrorIs(t, err, core.ErrNotFound)

	a, err := r.Action(MustAction(ping).ID())
	require.NoError(t, err)
	assert.Equal(t, pkgPath+".ping", a.ID())
}

func TestExportedModulesAndQueues(t *testing.T) {
	r := New()
	require.NoError(t, r.Register(
		MustAction(chargeCard),
		MustAction(refundCard),
		MustWorkflow(checkout, Queue("orders")),
	))

	assert.Equal(t, []string{pkgPath}, r.ExportedModules())
	assert.Equal(t, []string{"orders"}, r.Queues())
}

func TestCall_BuildsRequest(t *testing.T) {
	a := MustAction(chargeCard)
	req := a.Call(order{ID: "o1"})

	assert.Equal(t, a.ID(), req.RegistryID)
	assert.Equal(t, order{ID: "o1"}, req.Args)
}

func TestOptions_CopiedToConfig(t *testing.T) {
	a := MustAction(chargeCard,
		Retries(5),
		Backoff(2*time.Second, 3),
		Jitter(0.2),
		SoftTimeout(time.Second),
		HardTimeout(5*time.Second),
		CPUHardTimeout(1500*time.Millisecond),
	)
	cfg := a.Config()

	require.NotNil(t, cfg.MaxRetries)
	assert.Equal(t, 5, *cfg.MaxRetries)
	assert.Equal(t, 2.0, cfg.BackoffSeconds)
	assert.Equal(t, 3.0, cfg.BackoffFactor)
	assert.Equal(t, 0.2, cfg.Jitter)

	ws, wh, cs, ch := a.Timeouts()
	assert.Equal(t, 1.0, *ws)
	assert.Equal(t, 5.0, *wh)
	assert.Nil(t, cs)
	assert.Equal(t, 1.5, *ch)

	assert.Nil(t, MustAction(chargeCard, UnlimitedRetries()).Config().MaxRetries)
	assert.Equal(t, DefaultRetries, *MustAction(ping).Config().MaxRetries)
}

func TestEncode_InputSchema(t *testing.T) {
	a := MustAction(chargeCard, WithInputSchema())

	_, err := a.Encode(order{})
	assert.ErrorIs(t, err, core.ErrInvalidInput)

	body, err := a.Encode(&order{ID: "o1", Amount: 3})
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"o1","amount":3}`, string(body))

	_, err = MustAction(chargeCard).Encode(order{})
	assert.NoError(t, err, "schema validation is opt-in")
}

func TestInvokeAction_InjectsDependencies(t *testing.T) {
	r := New()
	m := &mailer{}
	Provide(r, func(context.Context) (*mailer, error) { return m, nil })
	a := MustAction(notify, Inject[*mailer]())
	require.NoError(t, r.Register(a))

	out, err := r.InvokeAction(context.Background(), a, []byte(`{"id":"o9"}`))
	require.NoError(t, err)
	assert.Nil(t, out)
	assert.Equal(t, []string{"o9"}, m.sent)
}

func TestInvokeAction_SessionResolver(t *testing.T) {
	released := 0
	r := New().WithSessionResolver(func(context.Context) (*gorm.DB, func(), error) {
		return &gorm.DB{Config: &gorm.Config{}, Statement: &gorm.Statement{}}, func() { released++ }, nil
	})
	a := MustAction(query)
	require.NoError(t, r.Register(a))

	out, err := r.InvokeAction(context.Background(), a, nil)
	require.NoError(t, err)
	assert.Equal(t, "1", string(out))
	assert.Equal(t, 1, released)
}

func TestInvokeAction_ReturnsResult(t *testing.T) {
	r := New()
	a := MustAction(chargeCard)
	require.NoError(t, r.Register(a))

	out, err := r.InvokeAction(context.Background(), a, []byte(`{"id":"o1"}`))
	require.NoError(t, err)
	assert.Equal(t, `"pay-o1"`, string(out))
}
