// Command minidb inspects and edits minidb databases.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/minidb/internal/cli"
)

func main() {
	cmd := cli.NewRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "minidb:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
