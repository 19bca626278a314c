package server

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strings"

	"github.com/mark3labs/x402-paygate"
	"github.com/mark3labs/x402-paygate/gate"
	"github.com/mark3labs/x402-paygate/mcp"
)

// maxRequestBody caps the JSON-RPC request read before gating.
const maxRequestBody = 1 << 20

// X402Handler wraps an MCP HTTP handler and gates paid tools/call requests.
type X402Handler struct {
	mcpHandler http.Handler
	gate       *gate.Gate
	logger     *slog.Logger
}

// NewX402Handler creates a new x402 payment handler
func NewX402Handler(mcpHandler http.Handler, g *gate.Gate, logger *slog.Logger) *X402Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &X402Handler{mcpHandler: mcpHandler, gate: g, logger: logger}
}

type jsonrpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
	ID      interface{}     `json:"id"`
}

type toolCallParams struct {
	Name string                     `json:"name"`
	Meta map[string]json.RawMessage `json:"_meta"`
}

// ServeHTTP intercepts HTTP requests to check for x402 payments
func (h *X402Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// Only intercept POST requests (JSON-RPC calls)
	if r.Method != http.MethodPost {
		h.mcpHandler.ServeHTTP(w, r)
		return
	}

	bodyBytes, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRequestBody))
	if err != nil {
		writeError(w, nil, mcp.CodeParseError, "Parse error", nil)
		return
	}
	r.Body = io.NopCloser(bytes.NewReader(bodyBytes))

	var rpc jsonrpcRequest
	if err := json.Unmarshal(bodyBytes, &rpc); err != nil {
		writeError(w, nil, mcp.CodeParseError, "Parse error", nil)
		return
	}
	if rpc.Method != "tools/call" {
		h.mcpHandler.ServeHTTP(w, r)
		return
	}

	var params toolCallParams
	if err := json.Unmarshal(rpc.Params, &params); err != nil {
		writeError(w, rpc.ID, mcp.CodeInvalidParams, "Invalid params", nil)
		return
	}
	logger := h.logger.With("requestID", rpc.ID, "tool", params.Name)

	path := mcp.ToolPath(params.Name)
	if !h.gate.Gated(http.MethodPost, path) {
		h.mcpHandler.ServeHTTP(w, r)
		return
	}

	req := gate.Request{
		Method:      http.MethodPost,
		Path:        path,
		ResourceURL: mcp.ToolResource(params.Name),
		ProofHeader: proofHeader(params.Meta),
	}
	ctx := r.Context()

	if req.ProofHeader == "" {
		logger.InfoContext(ctx, "no payment provided")
		challenge, err := h.gate.Challenge(ctx, req)
		if err != nil {
			h.writeDenial(w, r, rpc.ID, req, err)
			return
		}
		writeError(w, rpc.ID, mcp.CodePaymentRequired, "Payment required", challenge)
		return
	}

	auth, err := h.gate.Authorize(ctx, req)
	if err != nil {
		logger.InfoContext(ctx, "payment rejected", "error", err)
		h.writeDenial(w, r, rpc.ID, req, err)
		return
	}

	h.forwardAndSettle(w, r, bodyBytes, auth, logger)
}

// proofHeader re-encodes params._meta["x402/payment"] as a payment header.
func proofHeader(meta map[string]json.RawMessage) string {
	raw, ok := meta[mcp.MetaKeyPayment]
	if !ok || len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	// Some clients send the header value itself rather than the object
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return s
	}
	return base64.StdEncoding.EncodeToString(raw)
}

func (h *X402Handler) writeDenial(w http.ResponseWriter, r *http.Request, id interface{}, req gate.Request, err error) {
	status, body := h.gate.Denial(r.Context(), req, err)
	code := mcp.CodeInternalError
	if status == http.StatusPaymentRequired || status == http.StatusBadRequest {
		code = mcp.CodePaymentRequired
	}
	writeError(w, id, code, body.Error, body)
}

type jsonrpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   json.RawMessage `json:"error,omitempty"`
	ID      interface{}     `json:"id"`
}

// forwardAndSettle executes the tool and, when it succeeds, settles the
// payment and reports the settlement in result._meta.
func (h *X402Handler) forwardAndSettle(w http.ResponseWriter, r *http.Request, requestBody []byte, auth *gate.Authorization, logger *slog.Logger) {
	recorder := &responseRecorder{headerMap: make(http.Header), statusCode: http.StatusOK}
	r.Body = io.NopCloser(bytes.NewReader(requestBody))
	h.mcpHandler.ServeHTTP(recorder, r)
	body := recorder.body.Bytes()

	if recorder.statusCode >= 400 {
		logger.InfoContext(r.Context(), "tool execution failed, payment will not be settled", "status", recorder.statusCode)
		recorder.copyTo(w, body)
		return
	}

	var out []byte
	if isEventStream(recorder.headerMap) {
		out = h.settleEventStream(r.Context(), body, auth, logger)
	} else {
		out = h.settleMessage(r.Context(), body, auth, logger)
	}
	if !bytes.Equal(out, body) {
		recorder.headerMap.Del("Content-Length")
	}
	recorder.copyTo(w, out)
}

// settleMessage settles the payment for a successful tools/call response and
// returns the response with the settlement in result._meta. Any other message
// is returned unchanged.
func (h *X402Handler) settleMessage(ctx context.Context, raw []byte, auth *gate.Authorization, logger *slog.Logger) []byte {
	var resp jsonrpcResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		logger.WarnContext(ctx, "failed to parse MCP response, skipping settlement", "error", err)
		return raw
	}

	var result map[string]interface{}
	if len(resp.Result) > 0 {
		if err := json.Unmarshal(resp.Result, &result); err != nil {
			result = nil
		}
	}
	if len(resp.Error) > 0 || result == nil || result["isError"] == true {
		logger.InfoContext(ctx, "tool execution failed, payment will not be settled")
		return raw
	}

	settlement, err := h.gate.Settle(ctx, auth)
	switch {
	case err != nil:
		logger.ErrorContext(ctx, "settlement failed after tool execution", "payer", auth.Payer, "error", err)
		settlement = &x402.SettlementResponse{
			Success:     false,
			Network:     auth.Requirement.Network,
			Payer:       auth.Payer,
			ErrorReason: string(x402.CodeOf(err)),
		}
	case settlement == nil:
		// Verify-only: Success=false means settlement was not attempted.
		settlement = &x402.SettlementResponse{Network: auth.Requirement.Network, Payer: auth.Payer}
	}

	meta, ok := result["_meta"].(map[string]interface{})
	if !ok {
		meta = make(map[string]interface{})
	}
	meta[mcp.MetaKeyPaymentResponse] = settlement
	result["_meta"] = meta

	modified, err := json.Marshal(result)
	if err != nil {
		return raw
	}
	resp.Result = modified
	out, err := json.Marshal(resp)
	if err != nil {
		return raw
	}
	return out
}

func isEventStream(header http.Header) bool {
	mediaType, _, err := mime.ParseMediaType(header.Get("Content-Type"))
	return err == nil && mediaType == "text/event-stream"
}

// sseEvent is one server-sent event. Lines other than data are kept verbatim.
type sseEvent struct {
	fields []string
	data   []string
}

// settleEventStream finds the JSON-RPC response among the stream's events,
// settles it like a plain JSON reply and re-emits the stream. Notifications
// sent ahead of the response pass through untouched.
func (h *X402Handler) settleEventStream(ctx context.Context, raw []byte, auth *gate.Authorization, logger *slog.Logger) []byte {
	events := parseEvents(string(raw))
	for i, ev := range events {
		data := strings.Join(ev.data, "\n")
		var msg jsonrpcResponse
		if data == "" || json.Unmarshal([]byte(data), &msg) != nil {
			continue
		}
		if len(msg.Result) == 0 && len(msg.Error) == 0 {
			continue
		}
		out := h.settleMessage(ctx, []byte(data), auth, logger)
		if string(out) == data {
			return raw
		}
		events[i].data = []string{string(out)}
		return formatEvents(events)
	}
	logger.WarnContext(ctx, "event stream carried no JSON-RPC response, skipping settlement")
	return raw
}

func parseEvents(s string) []sseEvent {
	var events []sseEvent
	var cur sseEvent
	flush := func() {
		if len(cur.fields) > 0 || len(cur.data) > 0 {
			events = append(events, cur)
		}
		cur = sseEvent{}
	}
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimSuffix(line, "\r")
		switch {
		case line == "":
			flush()
		case strings.HasPrefix(line, "data:"):
			cur.data = append(cur.data, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		default:
			cur.fields = append(cur.fields, line)
		}
	}
	flush()
	return events
}

func formatEvents(events []sseEvent) []byte {
	var b bytes.Buffer
	for _, ev := range events {
		for _, f := range ev.fields {
			b.WriteString(f)
			b.WriteByte('\n')
		}
		for _, d := range ev.data {
			b.WriteString("data: ")
			b.WriteString(d)
			b.WriteByte('\n')
		}
		b.WriteByte('\n')
	}
	return b.Bytes()
}

// writeError writes a JSON-RPC error response
func writeError(w http.ResponseWriter, id interface{}, code int, message string, data interface{}) {
	rpcErr := map[string]interface{}{
		"code":    code,
		"message": message,
	}
	if data != nil {
		rpcErr["data"] = data
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK) // JSON-RPC errors use 200 status
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      id,
		"error":   rpcErr,
	})
}

// responseRecorder records HTTP responses for modification
type responseRecorder struct {
	headerMap  http.Header
	body       bytes.Buffer
	statusCode int
}

func (r *responseRecorder) Header() http.Header {
	return r.headerMap
}

func (r *responseRecorder) Write(b []byte) (int, error) {
	return r.body.Write(b)
}

func (r *responseRecorder) WriteHeader(statusCode int) {
	r.statusCode = statusCode
}

func (r *responseRecorder) copyTo(w http.ResponseWriter, body []byte) {
	for k, v := range r.headerMap {
		w.Header()[k] = v
	}
	w.WriteHeader(r.statusCode)
	// Ignore write errors - headers are already sent
	_, _ = w.Write(body)
}
