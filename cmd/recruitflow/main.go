// Command recruitflow runs the recruiting funnel service and its audit tools.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/recruitflow/internal/cli"
)

func main() {
	cmd := cli.NewRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
