// ABOUTME: CLI command for starting the MCP server.
// ABOUTME: Runs a stdio-based MCP server for AI assistant integration.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/harperreed/kpi/internal/engine"
	"github.com/harperreed/kpi/internal/mcp"
	"github.com/spf13/cobra"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start MCP server",
	Long: `Start the Model Context Protocol (MCP) server for AI assistant integration.

MCP allows AI assistants like Claude to read and update your metrics through
a standardized protocol. The server communicates via stdin/stdout.

CLAUDE DESKTOP CONFIGURATION:

  Add this to your Claude Desktop config (claude_desktop_config.json):

  {
    "mcpServers": {
      "kpi": {
        "command": "kpi",
        "args": ["mcp"]
      }
    }
  }

AVAILABLE TOOLS:

  list_metrics            List metric definitions
  add_metric              Define a native metric
  add_calculated_metric   Define a metric from a formula
  set_value               Store a manual value for a month
  clear_value             Remove a stored value
  compute_series          Compute values over a range and granularity
  preview_formula         Evaluate a draft formula without saving
  delete_metric           Delete a metric and its values

AVAILABLE RESOURCES:

  kpi://metrics      All metric definitions
  kpi://categories   Category tree with member metrics`,
	RunE: func(cmd *cobra.Command, args []string) error {
		server, err := mcp.NewServer(repo, log, engine.WithPreviewMonths(cfg.GetPreviewMonths()))
		if err != nil {
			return err
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		// Handle shutdown signals
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		go func() {
			<-sigChan
			cancel()
		}()

		return server.Serve(ctx)
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}
