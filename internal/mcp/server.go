// ABOUTME: MCP server setup for the KPI store and calculation engine.
// ABOUTME: Wraps the MCP server with storage and engine access.
package mcp

import (
	"context"

	"github.com/harperreed/kpi/internal/engine"
	"github.com/harperreed/kpi/internal/logger"
	"github.com/harperreed/kpi/internal/storage"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// Server wraps the MCP server with storage access.
type Server struct {
	mcpServer *mcp.Server
	repo      storage.Repository
	engine    *engine.Service
	log       *logger.Logger
}

// NewServer creates a new MCP server with the given storage.
func NewServer(repo storage.Repository, log *logger.Logger, opts ...engine.Option) (*Server, error) {
	if log == nil {
		log = logger.Nop()
	}
	mcpServer := mcp.NewServer(
		&mcp.Implementation{
			Name:    "kpi",
			Version: "1.0.0",
		},
		nil,
	)

	s := &Server{
		mcpServer: mcpServer,
		repo:      repo,
		engine:    engine.NewService(repo, log, opts...),
		log:       log.With("component", "mcp"),
	}

	s.registerTools()
	s.registerResources()

	return s, nil
}

// Serve starts the MCP server using stdio transport.
func (s *Server) Serve(ctx context.Context) error {
	s.log.Info("mcp server starting", "transport", "stdio")
	return s.mcpServer.Run(ctx, &mcp.StdioTransport{})
}
