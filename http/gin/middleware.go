// Package gin provides Gin-compatible middleware for x402 payment gating.
// This package is a thin adapter that translates gin.Context to stdlib http patterns
// and delegates all payment verification and settlement logic to the gate.
package gin

import (
	"context"
	"log/slog"

	"github.com/gin-gonic/gin"

	"github.com/mark3labs/x402-paygate/gate"
	httpx402 "github.com/mark3labs/x402-paygate/http"
	"github.com/mark3labs/x402-paygate/http/internal/helpers"
)

// PaymentKey is the gin context key holding the verified *gate.Authorization.
const PaymentKey = "x402_payment"

// NewGinX402Middleware creates a new x402 payment middleware for Gin.
// It returns a Gin-compatible middleware function that wraps handlers with payment gating.
//
// The middleware:
//   - Answers requests without a payment header with a 402 challenge
//   - Calls c.Abort() on payment failure to stop the handler chain
//   - Stores the authorization via c.Set("x402_payment", auth)
//   - Settles the payment when the handler writes a successful response (unless VerifyOnly=true)
//
// Example usage:
//
//	mw, err := NewGinX402Middleware(config)
//	r := gin.Default()
//	r.Use(mw)
//	r.GET("/paid", func(c *gin.Context) {
//	    auth := c.MustGet("x402_payment").(*gate.Authorization)
//	    c.JSON(200, gin.H{"payer": auth.Payer})
//	})
func NewGinX402Middleware(config *httpx402.Config) (gin.HandlerFunc, error) {
	g, err := httpx402.NewGate(config)
	if err != nil {
		return nil, err
	}
	return Middleware(g, config.Logger), nil
}

// Middleware gates gin handlers with an existing gate.
func Middleware(g *gate.Gate, logger *slog.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = slog.Default()
	}
	return func(c *gin.Context) {
		d := helpers.Decide(c.Request.Context(), g, c.Request, logger)
		if !d.Allowed() {
			helpers.SetChallengeHeader(c.Writer.Header(), d.Body)
			c.AbortWithStatusJSON(d.Status, d.Body)
			return
		}
		if d.Pass {
			c.Next()
			return
		}

		c.Set(PaymentKey, d.Authorization)

		// Also store in stdlib context for compatibility with http package helpers
		ctx := context.WithValue(c.Request.Context(), httpx402.PaymentContextKey, d.Authorization)
		c.Request = c.Request.WithContext(ctx)

		w := &settleWriter{
			ResponseWriter: c.Writer,
			settle:         helpers.Settler(ctx, g, d.Authorization, c.Writer.Header, logger),
		}
		c.Writer = w
		c.Next()
		w.commit()
		c.Writer = w.ResponseWriter
	}
}

// settleWriter settles right before gin writes the response headers.
type settleWriter struct {
	gin.ResponseWriter
	settle func(status int)
	done   bool
}

func (w *settleWriter) commit() {
	if w.done {
		return
	}
	w.done = true
	w.settle(w.ResponseWriter.Status())
}

func (w *settleWriter) WriteHeaderNow() {
	w.commit()
	w.ResponseWriter.WriteHeaderNow()
}

func (w *settleWriter) Write(b []byte) (int, error) {
	w.commit()
	return w.ResponseWriter.Write(b)
}

func (w *settleWriter) WriteString(s string) (int, error) {
	w.commit()
	return w.ResponseWriter.WriteString(s)
}

func (w *settleWriter) Flush() {
	w.commit()
	w.ResponseWriter.Flush()
}
