// Command xfilter runs, serves and tests linked-view dashboards.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/xfilter/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "xfilter:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
