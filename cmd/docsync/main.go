// Command docsync copies the documents of a collection that match a filter
// into a SQLite target and keeps the copy in step.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/docsync/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(cli.GetExitCode(err))
	}
}
