package gin

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/mark3labs/x402-paygate"
	"github.com/mark3labs/x402-paygate/gate"
	"github.com/mark3labs/x402-paygate/internal/gatetest"
)

func init() {
	// Disable Gin debug mode for cleaner test output
	gin.SetMode(gin.TestMode)
}

func newEngine(f *gatetest.Fixture, handler gin.HandlerFunc) *gin.Engine {
	r := gin.New()
	r.Use(Middleware(f.Gate, gatetest.Logger()))
	r.GET("/paid", handler)
	r.GET("/free", func(c *gin.Context) { c.String(http.StatusOK, "free") })
	return r
}

func payerHandler(c *gin.Context) {
	auth := c.MustGet(PaymentKey).(*gate.Authorization)
	c.JSON(http.StatusOK, gin.H{"foo": "bar", "payer": auth.Payer})
}

// TestGinMiddleware_NoPaymentReturns402 tests that requests without a payment header return 402
func TestGinMiddleware_NoPaymentReturns402(t *testing.T) {
	f := gatetest.New(t)
	r := newEngine(f, payerHandler)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest("GET", "/paid", nil))

	if rec.Code != http.StatusPaymentRequired {
		t.Errorf("Expected status %d, got %d", http.StatusPaymentRequired, rec.Code)
	}

	// Check response is JSON (Gin adds charset automatically)
	contentType := rec.Header().Get("Content-Type")
	if contentType != "application/json; charset=utf-8" {
		t.Errorf("Expected Content-Type application/json; charset=utf-8, got %s", contentType)
	}
	if rec.Header().Get("PAYMENT-REQUIRED") == "" {
		t.Error("expected PAYMENT-REQUIRED header")
	}
	var body x402.PaymentRequired
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid body: %v", err)
	}
	if len(body.Accepts) != 1 || body.Accepts[0].Amount != "10000" {
		t.Errorf("unexpected challenge: %+v", body)
	}
}

func TestGinMiddleware_ValidPayment(t *testing.T) {
	f := gatetest.New(t)
	r := newEngine(f, payerHandler)

	req := httptest.NewRequest("GET", "/paid", nil)
	req.Header.Set("PAYMENT-SIGNATURE", gatetest.ProofHeader(t, "10000"))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if rec.Header().Get("PAYMENT-RESPONSE") == "" {
		t.Error("expected PAYMENT-RESPONSE header")
	}
	var body map[string]string
	_ = json.Unmarshal(rec.Body.Bytes(), &body)
	if body["payer"] != gatetest.Payer {
		t.Errorf("unexpected body %v", body)
	}
	if _, s := f.Facilitator.Calls(); s != 1 {
		t.Errorf("expected one settlement, got %d", s)
	}
}

func TestGinMiddleware_StatusOnlyHandlerSettles(t *testing.T) {
	f := gatetest.New(t)
	r := newEngine(f, func(c *gin.Context) { c.Status(http.StatusNoContent) })

	req := httptest.NewRequest("GET", "/paid", nil)
	req.Header.Set("PAYMENT-SIGNATURE", gatetest.ProofHeader(t, "10000"))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Errorf("Expected status 204, got %d", rec.Code)
	}
	if _, s := f.Facilitator.Calls(); s != 1 {
		t.Errorf("expected one settlement, got %d", s)
	}
}

func TestGinMiddleware_HandlerErrorSkipsSettlement(t *testing.T) {
	f := gatetest.New(t)
	r := newEngine(f, func(c *gin.Context) { c.JSON(http.StatusInternalServerError, gin.H{"error": "boom"}) })

	req := httptest.NewRequest("GET", "/paid", nil)
	req.Header.Set("PAYMENT-SIGNATURE", gatetest.ProofHeader(t, "10000"))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("Expected status 500, got %d", rec.Code)
	}
	if _, s := f.Facilitator.Calls(); s != 0 {
		t.Error("settlement must be skipped for error responses")
	}
}

func TestGinMiddleware_SettlementFailureStillServes(t *testing.T) {
	f := gatetest.New(t)
	f.Facilitator.SettleErr = errors.New("chain congested")
	r := newEngine(f, payerHandler)

	req := httptest.NewRequest("GET", "/paid", nil)
	req.Header.Set("PAYMENT-SIGNATURE", gatetest.ProofHeader(t, "10000"))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("response must still be delivered, got %d", rec.Code)
	}
	if len(f.Recorder.Events()) != 1 {
		t.Errorf("expected one reconciliation event, got %d", len(f.Recorder.Events()))
	}
}

func TestGinMiddleware_FacilitatorRejects(t *testing.T) {
	f := gatetest.New(t)
	f.Facilitator.Reject = "invalid_signature"
	called := false
	r := newEngine(f, func(c *gin.Context) { called = true })

	req := httptest.NewRequest("GET", "/paid", nil)
	req.Header.Set("PAYMENT-SIGNATURE", gatetest.ProofHeader(t, "10000"))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusPaymentRequired {
		t.Errorf("Expected status 402, got %d", rec.Code)
	}
	if called {
		t.Error("handler must not run")
	}
	var body x402.PaymentRequired
	_ = json.Unmarshal(rec.Body.Bytes(), &body)
	if body.Reason != x402.ErrCodeFacilitatorRejected || body.Details["invalidReason"] != "invalid_signature" {
		t.Errorf("unexpected denial: %+v", body)
	}
}

func TestGinMiddleware_VerifyOnlyMode(t *testing.T) {
	f := gatetest.New(t, func(c *gate.Config) { c.VerifyOnly = true })
	r := newEngine(f, payerHandler)

	req := httptest.NewRequest("GET", "/paid", nil)
	req.Header.Set("PAYMENT-SIGNATURE", gatetest.ProofHeader(t, "10000"))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", rec.Code)
	}
	if rec.Header().Get("PAYMENT-RESPONSE") != "" {
		t.Error("Expected no PAYMENT-RESPONSE header in verify-only mode")
	}
	if _, s := f.Facilitator.Calls(); s != 0 {
		t.Error("verify-only must not settle")
	}
}

func TestGinMiddleware_FreeRoute(t *testing.T) {
	f := gatetest.New(t)
	r := newEngine(f, payerHandler)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest("GET", "/free", nil))
	if rec.Code != http.StatusOK || rec.Body.String() != "free" {
		t.Errorf("unexpected response %d %q", rec.Code, rec.Body.String())
	}
}
