// Command codegraphsync ingests and synchronizes a code knowledge graph: it
// wires config, storage, rollback, monitoring and the sync engine together
// behind the sync and rollback subcommands.
package main

import (
	"os"

	"github.com/vitaliisemenov/codegraph-sync/cmd/codegraphsync/cmd"
)

func main() {
	if err := cmd.NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
