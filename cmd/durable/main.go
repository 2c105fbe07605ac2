// Command durable is the engine binary without any linked workflows. It can
// migrate and inspect a store and run the supervisor's maintenance loops.
// Applications build their own binary with cli.Main and a catalog of their
// modules.
package main

import (
	"os"

	"github.com/jdziat/simple-durable-workflows/pkg/cli"
	"github.com/jdziat/simple-durable-workflows/pkg/registry"
)

func main() {
	os.Exit(cli.Main(registry.NewCatalog()))
}
