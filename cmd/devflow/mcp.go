package main

import (
	"github.com/spf13/cobra"

	"devflow/internal/mcpserver"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the run ledger as MCP tools over stdio",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		l, store, err := state(cfg)
		if err != nil {
			return err
		}
		return mcpserver.New(l, store, version).ServeStdio()
	},
}
