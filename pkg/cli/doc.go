// Package cli builds the durable command line around a registry.Catalog.
//
// A binary links its modules into a catalog and hands it to NewRootCommand:
//
//	catalog := registry.NewCatalog().AddDefinitions(billing.Charge, billing.Invoice)
//	os.Exit(cli.Main(catalog))
//
// The same binary then serves as supervisor ("durable run"), as the worker
// processes the supervisor spawns ("durable worker action|instance") and as
// an operator tool ("durable submit", "durable status", "durable migrate").
package cli
