// Package registry maps deterministic registry ids to action and workflow
// definitions.
//
// A definition's id is the fully-qualified Go symbol of its function, for
// example "github.com/acme/shop/billing.Charge", unless overridden with Name.
// Worker processes rebuild an equivalent Registry from a Catalog of module
// constructors compiled into the same binary, so identities survive process
// boundaries without shipping code.
//
// Signatures are checked when a definition is built:
//
//	actions:   func(context.Context[, payload][, deps...]) (R, error) or ... error
//	workflows: func(workflow.Context[, payload]) (R, error) or ... error
//
// Dependencies are declared with Inject and supplied per call by providers
// registered on the Registry (Provide, WithSessionResolver).
package registry
