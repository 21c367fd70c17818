// Command auditkv runs the audited key-value store.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/auditkv/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
