// Package server provides MCP server integration for x402 payment gating.
// It enables payment-gated AI tools via the Model Context Protocol.
package server

import (
	"fmt"
	"log/slog"
	"net/http"

	mcpproto "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/mark3labs/x402-paygate"
	httpx402 "github.com/mark3labs/x402-paygate/http"
)

// X402Server wraps an MCP server and adds x402 payment protection
type X402Server struct {
	mcpServer *mcpserver.MCPServer
	config    *Config
}

// NewX402Server creates a new MCP server with x402 payment support
func NewX402Server(name, version string, config *Config) *X402Server {
	if config == nil {
		config = DefaultConfig()
	}
	if config.PaymentTools == nil {
		config.PaymentTools = make(map[string]x402.RouteConfig)
	}

	return &X402Server{
		mcpServer: mcpserver.NewMCPServer(name, version),
		config:    config,
	}
}

// AddTool adds a free tool (no payment required)
func (s *X402Server) AddTool(tool mcpproto.Tool, handler mcpserver.ToolHandlerFunc) {
	s.mcpServer.AddTool(tool, handler)
}

// AddPayableTool adds a paid tool. The route config is checked when the
// handler is built.
func (s *X402Server) AddPayableTool(tool mcpproto.Tool, handler mcpserver.ToolHandlerFunc, route x402.RouteConfig) error {
	if len(route.Accepts) == 0 {
		return fmt.Errorf("at least one payment option must be provided for payable tool %s", tool.Name)
	}
	s.config.AddPaymentTool(tool.Name, route)
	s.mcpServer.AddTool(tool, handler)
	return nil
}

// Handler returns the streamable HTTP transport wrapped with x402 payment gating.
func (s *X402Server) Handler(opts ...mcpserver.StreamableHTTPOption) (http.Handler, error) {
	cfg := s.config.gateConfig()
	g, err := httpx402.NewGate(cfg)
	if err != nil {
		return nil, err
	}
	return NewX402Handler(mcpserver.NewStreamableHTTPServer(s.mcpServer, opts...), g, cfg.Logger), nil
}

// Start starts the MCP server on the given address
func (s *X402Server) Start(addr string) error {
	handler, err := s.Handler()
	if err != nil {
		return err
	}
	logger := slog.Default()
	if s.config.HTTPConfig != nil && s.config.HTTPConfig.Logger != nil {
		logger = s.config.HTTPConfig.Logger
	}
	logger.Info("starting x402 MCP server", "addr", addr, "protectedTools", len(s.config.PaymentTools))
	return http.ListenAndServe(addr, handler)
}

// GetMCPServer returns the underlying MCP server (for advanced usage)
func (s *X402Server) GetMCPServer() *mcpserver.MCPServer {
	return s.mcpServer
}
