// Package statehash derives the deterministic state chain of a workflow
// instance. Each action request advances the chain, and the resulting value
// identifies the request within its instance across replays.
package statehash

import (
	"crypto/sha256"
	"encoding/hex"
)

func sum(parts ...[]byte) []byte {
	h := sha256.New()
	for _, p := range parts {
		h.Write(p)
	}
	return h.Sum(nil)
}

// Initial returns state_0 for an instance input body.
func Initial(inputBody []byte) string {
	return hex.EncodeToString(sum(inputBody))
}

// Next advances prev by one action request.
func Next(prev, registryID string, inputBody []byte) string {
	req := sum([]byte(registryID), []byte{0}, inputBody)
	return hex.EncodeToString(sum([]byte(prev), req))
}

// Chain tracks the current state of one instance. It is not safe for
// concurrent use; the cooperative scheduler serializes its callers.
type Chain struct {
	state string
}

// NewChain starts a chain at state_0 for inputBody.
func NewChain(inputBody []byte) *Chain {
	return &Chain{state: Initial(inputBody)}
}

// Advance moves the chain forward and returns the new state.
func (c *Chain) Advance(registryID string, inputBody []byte) string {
	c.state = Next(c.state, registryID, inputBody)
	return c.state
}

// State returns the current state.
func (c *Chain) State() string { return c.state }
