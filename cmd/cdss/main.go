// Package main is the cdss command: training, scoring, interaction checks and
// the HTTP and MCP servers.
package main

import (
	"fmt"
	"os"

	"github.com/cdss-mcp-server/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
