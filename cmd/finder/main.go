package main

import (
	"fmt"
	"os"

	"github.com/security-mcp/winsandbox/internal/cli"
)

func main() {
	if err := cli.ExecuteFinder(); err != nil {
		if !cli.IsUsageError(err) {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
		os.Exit(cli.ExitFailure)
	}
}
