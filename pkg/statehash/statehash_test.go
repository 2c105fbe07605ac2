package statehash

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type step struct {
	id   string
	body string
}

func run(input string, steps ...step) string {
	c := NewChain([]byte(input))
	for _, s := range steps {
		c.Advance(s.id, []byte(s.body))
	}
	return c.State()
}

func TestChain_Deterministic(t *testing.T) {
	steps := []step{{"app.Fetch", `{"n":1}`}, {"app.Store", `{"n":2}`}}

	assert.Equal(t, run(`{"order":7}`, steps...), run(`{"order":7}`, steps...))
}

func TestChain_InputChangesHash(t *testing.T) {
	steps := []step{{"app.Fetch", `{"n":1}`}}

	assert.NotEqual(t, run(`{"order":7}`, steps...), run(`{"order":8}`, steps...))
}

func TestChain_OrderChangesHash(t *testing.T) {
	a := step{"app.Fetch", `{"n":1}`}
	b := step{"app.Store", `{"n":2}`}

	assert.NotEqual(t, run(`{}`, a, b), run(`{}`, b, a))
}

func TestNext_SeparatesIDFromBody(t *testing.T) {
	assert.NotEqual(t, Next("s", "ab", []byte("c")), Next("s", "a", []byte("bc")))
}

func TestInitial_Hex(t *testing.T) {
	assert.Len(t, Initial(nil), 64)
	assert.Equal(t, Initial([]byte("x")), NewChain([]byte("x")).State())
}
