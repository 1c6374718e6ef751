package cmd

import (
	"github.com/samsaffron/relaychat/internal/mcp"
	"github.com/samsaffron/relaychat/internal/signal"
	"github.com/spf13/cobra"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the chat tools over MCP stdio",
	Long: `Expose the same tools the chat relay offers models (random numbers,
current date and time, web reader and search) as a Model Context Protocol
server on stdin/stdout.

Example MCP client config:
  {"command": "relaychat", "args": ["mcp"]}`,
	RunE: runMCP,
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}

func runMCP(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(cmd.Context())
	defer stop()
	return mcp.ServeStdio(ctx, newToolRegistry(cfg), Version)
}
