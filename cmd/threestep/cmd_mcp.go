package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nvandessel/threestep/internal/mcp"
)

func newMCPServerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mcp-server",
		Short: "Run the MCP server over stdio",
		Long: `Serve threestep's tools to MCP clients over stdin/stdout.

Tools: threestep_generate, threestep_verify, threestep_simulate and
threestep_history. The most recent generation is also exposed as the
threestep://generations/latest resource.

Example client configuration:
  {"mcpServers": {"threestep": {"command": "threestep", "args": ["mcp-server", "--root", "/path/to/study"]}}}`,
		RunE: func(cmd *cobra.Command, args []string) error {
			root, err := projectRoot(cmd)
			if err != nil {
				return err
			}

			server, err := mcp.NewServer(&mcp.Config{
				Name:    "threestep",
				Version: version,
				Root:    root,
			})
			if err != nil {
				return fmt.Errorf("failed to create MCP server: %w", err)
			}
			defer server.Close()

			return server.Run(cmd.Context())
		},
	}
}
