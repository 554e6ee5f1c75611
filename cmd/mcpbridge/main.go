// Package main is the entry point for the mcpbridge proxy server.
package main

import (
	"fmt"
	"os"

	"github.com/open-mcp/mcpbridge/cmd/mcpbridge/app"
)

func main() {
	if err := app.NewRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "mcpbridge: %v\n", err)
		os.Exit(1)
	}
}
