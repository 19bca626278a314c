package server

import (
	"net/http"

	"github.com/mark3labs/x402-paygate"
	httpx402 "github.com/mark3labs/x402-paygate/http"
	"github.com/mark3labs/x402-paygate/mcp"
)

// Config holds configuration for the MCP server with x402 payment support
type Config struct {
	// HTTPConfig carries the facilitator, timeout, recorder and logger
	// settings. Its Routes are ignored; tools are priced through PaymentTools.
	HTTPConfig *httpx402.Config

	// PaymentTools maps tool names to how they are paid for.
	PaymentTools map[string]x402.RouteConfig
}

// DefaultConfig returns a Config with default settings
func DefaultConfig() *Config {
	return &Config{
		HTTPConfig:   &httpx402.Config{FacilitatorURL: "https://x402.org/facilitator"},
		PaymentTools: make(map[string]x402.RouteConfig),
	}
}

// AddPaymentTool sets how a tool is paid for.
func (c *Config) AddPaymentTool(toolName string, route x402.RouteConfig) {
	if c.PaymentTools == nil {
		c.PaymentTools = make(map[string]x402.RouteConfig)
	}
	c.PaymentTools[toolName] = route
}

// RequiresPayment checks if a tool requires payment
func (c *Config) RequiresPayment(toolName string) bool {
	route, ok := c.PaymentTools[toolName]
	return ok && len(route.Accepts) > 0
}

// gateConfig returns the HTTP config with one POST route per paid tool.
func (c *Config) gateConfig() *httpx402.Config {
	var cfg httpx402.Config
	if c.HTTPConfig != nil {
		cfg = *c.HTTPConfig
	}
	cfg.Routes = make(map[string]x402.RouteConfig, len(c.PaymentTools))
	for name, route := range c.PaymentTools {
		cfg.Routes[http.MethodPost+" "+mcp.ToolPath(name)] = route
	}
	return &cfg
}
