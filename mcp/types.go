// Package mcp provides x402 payment integration for MCP (Model Context Protocol).
package mcp

// MCP-specific constants for payment metadata keys
const (
	// MetaKeyPayment is the key for payment data in MCP request params._meta
	MetaKeyPayment = "x402/payment"

	// MetaKeyPaymentResponse is the key for settlement response in MCP result._meta
	MetaKeyPaymentResponse = "x402/payment-response"
)

// JSON-RPC error codes used by payment-gated MCP servers.
const (
	// CodePaymentRequired signals that a tool call needs (another) payment.
	// The error data is the 402 body listing the accepted requirements.
	CodePaymentRequired = 402

	CodeParseError    = -32700
	CodeInvalidParams = -32602
	CodeInternalError = -32603
)

// ToolPath is the registry path under which a tool's payment options are kept.
func ToolPath(tool string) string {
	return "/tools/" + tool
}

// ToolResource is the resource URL advertised for a tool.
func ToolResource(tool string) string {
	return "mcp://tools/" + tool
}
