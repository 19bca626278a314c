// Package pocketbase provides PocketBase-compatible middleware for x402 payment gating.
// This package is a thin adapter that translates core.RequestEvent to stdlib http patterns
// and delegates payment verification and settlement to the gate.
package pocketbase

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/pocketbase/pocketbase/core"

	"github.com/mark3labs/x402-paygate/gate"
	httpx402 "github.com/mark3labs/x402-paygate/http"
	"github.com/mark3labs/x402-paygate/http/internal/helpers"
)

// PaymentKey is the request store key holding the verified *gate.Authorization.
const PaymentKey = "x402_payment"

// NewPocketBaseX402Middleware creates a new x402 payment middleware for PocketBase.
//
// After successful verification the authorization is stored in the request
// store with key "x402_payment". Handlers can access it via:
//
//	auth := e.Get("x402_payment").(*gate.Authorization)
//
// Example usage:
//
//	middleware, err := NewPocketBaseX402Middleware(config)
//	app.OnServe().BindFunc(func(se *core.ServeEvent) error {
//	    se.Router.GET("/paid", handler).BindFunc(middleware)
//	    return se.Next()
//	})
func NewPocketBaseX402Middleware(config *httpx402.Config) (func(*core.RequestEvent) error, error) {
	g, err := httpx402.NewGate(config)
	if err != nil {
		return nil, err
	}
	return Middleware(g, config.Logger), nil
}

// Middleware gates PocketBase handlers with an existing gate.
//
// The response writer is wrapped for the rest of the chain so the payment
// settles when the handler commits a non-error status. A handler returning
// an error leaves the error response to PocketBase and skips settlement.
func Middleware(g *gate.Gate, logger *slog.Logger) func(*core.RequestEvent) error {
	if logger == nil {
		logger = slog.Default()
	}
	return func(e *core.RequestEvent) error {
		d := helpers.Decide(e.Request.Context(), g, e.Request, logger)
		if !d.Allowed() {
			helpers.SetChallengeHeader(e.Response.Header(), d.Body)
			return e.JSON(d.Status, d.Body)
		}
		if d.Pass {
			return e.Next()
		}

		e.Set(PaymentKey, d.Authorization)
		ctx := context.WithValue(e.Request.Context(), httpx402.PaymentContextKey, d.Authorization)
		e.Request = e.Request.WithContext(ctx)

		original := e.Response
		cw := helpers.NewCommitWriter(original, helpers.Settler(ctx, g, d.Authorization, original.Header, logger))
		e.Response = cw
		err := e.Next()
		e.Response = original
		if err != nil {
			return err
		}
		if !cw.Committed() {
			cw.WriteHeader(http.StatusOK)
		}
		return nil
	}
}
