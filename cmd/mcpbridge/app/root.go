// Package app wires the mcpbridge cobra commands around pkg/api's App.
package app

import (
	"github.com/spf13/cobra"

	"github.com/open-mcp/mcpbridge/pkg/logger"
)

// NewRootCmd builds the mcpbridge root command.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "mcpbridge",
		Short:        "REST proxy for a fleet of MCP backends",
		SilenceUsage: true,
		PersistentPreRun: func(*cobra.Command, []string) {
			logger.Initialize()
		},
	}
	root.AddCommand(newServeCmd())
	root.AddCommand(newVersionCmd())
	return root
}
