// ABOUTME: CLI command for starting the HTTP JSON API.
// ABOUTME: Serves series, overviews, value overrides, and formula previews.
package main

import (
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/harperreed/kpi/internal/api"
	"github.com/harperreed/kpi/internal/engine"
	"github.com/spf13/cobra"
)

var (
	serveAddr  string
	serveQuiet bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API",
	Long: `Start an HTTP server exposing KPI data as JSON.

ENDPOINTS:

  GET    /healthz
  GET    /api/categories
  GET    /api/categories/{id}/overview?from=&to=&granularity=
  GET    /api/metrics?category=
  GET    /api/metrics/{id}/series?from=&to=&granularity=
  PUT    /api/metrics/{id}/values/{period}     {"value": 12.5}
  DELETE /api/metrics/{id}/values/{period}
  POST   /api/preview                          {"generation": 1, "formula": {...}}

The listen address defaults to http_addr in the config file, or
127.0.0.1:8420.

EXAMPLES:

  kpi serve
  kpi serve --addr :9000 --quiet`,
	RunE: func(cmd *cobra.Command, args []string) error {
		addr := serveAddr
		if addr == "" {
			addr = cfg.GetHTTPAddr()
		}
		var accessLog io.Writer = os.Stderr
		if serveQuiet {
			accessLog = nil
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		server := api.NewServer(repo, log, engine.WithPreviewMonths(cfg.GetPreviewMonths()))
		color.Green("✓ Listening on http://%s", addr)
		return server.ListenAndServe(ctx, addr, accessLog)
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (default from config)")
	serveCmd.Flags().BoolVarP(&serveQuiet, "quiet", "q", false, "disable the access log")
	rootCmd.AddCommand(serveCmd)
}
