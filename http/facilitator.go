package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/mark3labs/x402-paygate"
	"github.com/mark3labs/x402-paygate/facilitator"
	"github.com/mark3labs/x402-paygate/retry"
)

// AuthorizationProvider is a function that returns an Authorization header value.
// This is useful for dynamic tokens (e.g., JWT refresh) where the value may change.
//
// The provider is called on each HTTP request, including retries of the
// supported-kinds lookup, and must be safe for concurrent use.
type AuthorizationProvider func(*http.Request) string

// OnBeforeFunc is a function that returns an error to abort an operation.
type OnBeforeFunc func(context.Context, x402.PaymentProof, x402.PaymentRequirement) error

// OnAfterVerifyFunc is a function that is called after a Verify operation completes
type OnAfterVerifyFunc func(context.Context, x402.PaymentProof, x402.PaymentRequirement, *facilitator.VerifyResponse, error)

// OnAfterSettleFunc is a function that is called after a Settle operation completes
type OnAfterSettleFunc func(context.Context, x402.PaymentProof, x402.PaymentRequirement, *x402.SettlementResponse, error)

// FacilitatorClient is a client for communicating with x402 facilitator services.
type FacilitatorClient struct {
	BaseURL  string
	Client   *http.Client
	Timeouts x402.TimeoutConfig // Per-call deadlines unless the caller's context is tighter

	// MaxRetries and RetryDelay apply to Supported only.
	MaxRetries int
	RetryDelay time.Duration

	// Authorization is a static Authorization header value (e.g., "Bearer token" or "Basic base64").
	// If AuthorizationProvider is also set, the provider takes precedence.
	Authorization string

	// AuthorizationProvider is a function that returns an Authorization header value.
	AuthorizationProvider AuthorizationProvider

	// OnBeforeVerify is called before the Verify operation starts.
	// If it returns an error, the operation is aborted immediately.
	OnBeforeVerify OnBeforeFunc

	// OnAfterVerify is called after the Verify operation completes (success or failure).
	OnAfterVerify OnAfterVerifyFunc

	// OnBeforeSettle is called before the Settle operation starts.
	// If it returns an error, the operation is aborted immediately.
	OnBeforeSettle OnBeforeFunc

	// OnAfterSettle is called after the Settle operation completes (success or failure).
	OnAfterSettle OnAfterSettleFunc

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// NewFacilitatorClient creates a client for the facilitator at baseURL with default timeouts.
func NewFacilitatorClient(baseURL string) *FacilitatorClient {
	return &FacilitatorClient{
		BaseURL:  strings.TrimRight(baseURL, "/"),
		Client:   &http.Client{},
		Timeouts: x402.DefaultTimeouts,
	}
}

var _ facilitator.Interface = (*FacilitatorClient)(nil)

// FacilitatorRequest is the request payload sent to the facilitator.
type FacilitatorRequest struct {
	X402Version         int                     `json:"x402Version"`
	PaymentPayload      x402.PaymentProof       `json:"paymentPayload"`
	PaymentRequirements x402.PaymentRequirement `json:"paymentRequirements"`
}

func (c *FacilitatorClient) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}

func (c *FacilitatorClient) httpClient() *http.Client {
	if c.Client != nil {
		return c.Client
	}
	return http.DefaultClient
}

// setAuthorizationHeader sets the Authorization header on the request if configured.
func (c *FacilitatorClient) setAuthorizationHeader(req *http.Request) {
	var authValue string
	if c.AuthorizationProvider != nil {
		authValue = c.AuthorizationProvider(req)
	} else if c.Authorization != "" {
		authValue = c.Authorization
	}
	if authValue != "" {
		req.Header.Set("Authorization", authValue)
	}
}

func unavailable(op string, err error) *x402.PaymentError {
	return x402.NewPaymentError(x402.ErrFacilitatorUnavailable, x402.ErrCodeFacilitatorUnavailable,
		"facilitator "+op+" unavailable", err)
}

// transient reports whether a status means the facilitator could not serve the call.
func transient(status int) bool {
	return status >= 500 || status == http.StatusTooManyRequests
}

// post sends body to path under timeout and returns the status and response body.
// Transport failures and deadline expiry are reported as unavailability.
func (c *FacilitatorClient) post(ctx context.Context, op, path string, timeout time.Duration, body []byte) (int, []byte, error) {
	ctx, cancel := x402.WithDeadline(ctx, timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return 0, nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	c.setAuthorizationHeader(httpReq)

	resp, err := c.httpClient().Do(httpReq)
	if err != nil {
		return 0, nil, unavailable(op, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return 0, nil, unavailable(op, fmt.Errorf("failed to read response: %w", err))
	}
	if transient(resp.StatusCode) {
		return resp.StatusCode, data, unavailable(op, fmt.Errorf("status %d", resp.StatusCode))
	}
	return resp.StatusCode, data, nil
}

func (c *FacilitatorClient) marshalRequest(proof x402.PaymentProof, requirement x402.PaymentRequirement) ([]byte, error) {
	version := proof.X402Version
	if version == 0 {
		version = x402.ProtocolVersion
	}
	data, err := json.Marshal(FacilitatorRequest{
		X402Version:         version,
		PaymentPayload:      proof,
		PaymentRequirements: requirement,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	return data, nil
}

// Verify verifies a payment authorization without executing the transaction.
//
// A rejection, whether a 200 with isValid false or another non-success status,
// is returned as a VerifyResponse with IsValid false and a nil error. Errors are
// reserved for calls that did not produce a judgement.
func (c *FacilitatorClient) Verify(ctx context.Context, proof x402.PaymentProof, requirement x402.PaymentRequirement) (*facilitator.VerifyResponse, error) {
	if c.OnBeforeVerify != nil {
		if err := c.OnBeforeVerify(ctx, proof, requirement); err != nil {
			return nil, err
		}
	}

	resp, resultErr := c.verify(ctx, proof, requirement)

	if c.OnAfterVerify != nil {
		c.OnAfterVerify(ctx, proof, requirement, resp, resultErr)
	}
	return resp, resultErr
}

func (c *FacilitatorClient) verify(ctx context.Context, proof x402.PaymentProof, requirement x402.PaymentRequirement) (*facilitator.VerifyResponse, error) {
	data, err := c.marshalRequest(proof, requirement)
	if err != nil {
		return nil, err
	}

	status, body, err := c.post(ctx, "verify", "/verify", c.Timeouts.VerifyTimeout, data)
	if err != nil {
		return nil, err
	}

	var verifyResp facilitator.VerifyResponse
	if status != http.StatusOK {
		reason := fmt.Sprintf("status %d", status)
		var errBody map[string]interface{}
		if json.Unmarshal(body, &errBody) == nil {
			if r, ok := errBody["invalidReason"].(string); ok && r != "" {
				reason = r
			} else if r, ok := errBody["error"].(string); ok && r != "" {
				reason = r
			}
		} else if len(body) > 0 && len(body) < 500 {
			reason = fmt.Sprintf("status %d, body: %s", status, string(body))
		}
		c.logger().Warn("facilitator rejected verify request", "status", status, "reason", reason)
		return &facilitator.VerifyResponse{IsValid: false, InvalidReason: reason}, nil
	}

	if err := json.Unmarshal(body, &verifyResp); err != nil {
		return nil, unavailable("verify", fmt.Errorf("failed to decode verify response: %w", err))
	}
	if verifyResp.Payer == "" {
		verifyResp.Payer = proof.Payload.Authorization.From
	}
	return &verifyResp, nil
}

// Settle executes a verified payment on the blockchain.
//
// Failures carry x402.ErrSettlementFailed, or x402.ErrFacilitatorUnavailable
// when the facilitator could not be reached. A response with success false is
// returned together with the error.
func (c *FacilitatorClient) Settle(ctx context.Context, proof x402.PaymentProof, requirement x402.PaymentRequirement) (*x402.SettlementResponse, error) {
	if c.OnBeforeSettle != nil {
		if err := c.OnBeforeSettle(ctx, proof, requirement); err != nil {
			return nil, err
		}
	}

	resp, resultErr := c.settle(ctx, proof, requirement)

	if c.OnAfterSettle != nil {
		c.OnAfterSettle(ctx, proof, requirement, resp, resultErr)
	}
	return resp, resultErr
}

func (c *FacilitatorClient) settle(ctx context.Context, proof x402.PaymentProof, requirement x402.PaymentRequirement) (*x402.SettlementResponse, error) {
	data, err := c.marshalRequest(proof, requirement)
	if err != nil {
		return nil, err
	}

	status, body, err := c.post(ctx, "settle", "/settle", c.Timeouts.SettleTimeout, data)
	if err != nil {
		return nil, err
	}

	if status != http.StatusOK {
		pe := x402.NewPaymentError(x402.ErrSettlementFailed, x402.ErrCodeSettlementFailed,
			"facilitator refused settlement", fmt.Errorf("status %d", status))
		var errBody map[string]interface{}
		if json.Unmarshal(body, &errBody) == nil {
			if reason, ok := errBody["errorReason"].(string); ok {
				pe.WithDetails("errorReason", reason)
			}
		} else if len(body) > 0 && len(body) < 500 {
			pe.WithDetails("body", string(body))
		}
		return nil, pe
	}

	var settlementResp x402.SettlementResponse
	if err := json.Unmarshal(body, &settlementResp); err != nil {
		return nil, x402.NewPaymentError(x402.ErrSettlementFailed, x402.ErrCodeSettlementFailed,
			"failed to decode settlement response", err)
	}
	if !settlementResp.Success {
		return &settlementResp, x402.NewPaymentError(x402.ErrSettlementFailed, x402.ErrCodeSettlementFailed,
			"settlement unsuccessful", nil).WithDetails("errorReason", settlementResp.ErrorReason)
	}
	if settlementResp.Payer == "" {
		settlementResp.Payer = proof.Payload.Authorization.From
	}
	return &settlementResp, nil
}

// Supported queries the facilitator for supported payment types. Unlike
// Verify and Settle it is idempotent and is retried on unavailability.
func (c *FacilitatorClient) Supported(ctx context.Context) (*facilitator.SupportedResponse, error) {
	cfg := retry.Backoff(c.MaxRetries, c.RetryDelay)
	cfg.OnRetry = func(attempt int, err error) {
		c.logger().Warn("retrying facilitator supported lookup", "attempt", attempt, "error", err)
	}

	return retry.WithRetry(ctx, cfg, isFacilitatorUnavailableError, func(ctx context.Context) (*facilitator.SupportedResponse, error) {
		ctx, cancel := x402.WithDeadline(ctx, c.Timeouts.VerifyTimeout)
		defer cancel()

		httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/supported", nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		c.setAuthorizationHeader(httpReq)

		resp, err := c.httpClient().Do(httpReq)
		if err != nil {
			return nil, unavailable("supported", err)
		}
		defer resp.Body.Close()

		if transient(resp.StatusCode) {
			return nil, unavailable("supported", fmt.Errorf("status %d", resp.StatusCode))
		}
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("supported endpoint failed: status %d", resp.StatusCode)
		}

		var supportedResp facilitator.SupportedResponse
		if err := json.NewDecoder(resp.Body).Decode(&supportedResp); err != nil {
			return nil, fmt.Errorf("failed to decode supported response: %w", err)
		}
		return &supportedResp, nil
	})
}

// EnrichRequirements fetches supported payment types from the facilitator and
// merges their extra data (such as an SVM feePayer) into the requirements.
// Values already present on a requirement take precedence.
func (c *FacilitatorClient) EnrichRequirements(ctx context.Context, requirements []x402.PaymentRequirement) ([]x402.PaymentRequirement, error) {
	supported, err := c.Supported(ctx)
	if err != nil {
		return requirements, fmt.Errorf("failed to fetch supported payment types: %w", err)
	}
	return MergeSupported(requirements, supported), nil
}

// MergeSupported returns copies of requirements with the matching kinds' extra data merged in.
func MergeSupported(requirements []x402.PaymentRequirement, supported *facilitator.SupportedResponse) []x402.PaymentRequirement {
	enriched := make([]x402.PaymentRequirement, len(requirements))
	for i, req := range requirements {
		enriched[i] = req.WithPayTo(req.PayTo)
		kind, ok := supported.Lookup(req.Scheme, req.Network)
		if !ok || kind.Extra == nil {
			continue
		}
		if enriched[i].Extra == nil {
			enriched[i].Extra = make(map[string]interface{})
		}
		for k, v := range kind.Extra {
			if _, exists := enriched[i].Extra[k]; !exists {
				enriched[i].Extra[k] = v
			}
		}
	}
	return enriched
}

// isFacilitatorUnavailableError checks if an error is a facilitator unavailable error.
func isFacilitatorUnavailableError(err error) bool {
	return errors.Is(err, x402.ErrFacilitatorUnavailable)
}
