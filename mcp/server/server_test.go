package server

import (
	mcpproto "github.com/mark3labs/mcp-go/mcp"
)

func newTool(name string) mcpproto.Tool {
	return mcpproto.NewTool(name,
		mcpproto.WithDescription("test tool"),
		mcpproto.WithString("q", mcpproto.Description("query")),
	)
}
