// Command triggersync runs the event/marker synchronisation service.
package main

import (
	"os"

	"github.com/MrWong99/triggersync/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
