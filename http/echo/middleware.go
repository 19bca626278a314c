// Package echo provides Echo-compatible middleware for x402 payment gating.
// Settlement runs in an echo Response.Before hook, so it completes right
// before the handler's headers are written.
package echo

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/mark3labs/x402-paygate/gate"
	httpx402 "github.com/mark3labs/x402-paygate/http"
	"github.com/mark3labs/x402-paygate/http/internal/helpers"
)

// PaymentKey is the echo context key holding the verified *gate.Authorization.
const PaymentKey = "x402_payment"

// NewEchoX402Middleware creates a new x402 payment middleware for Echo.
//
// Example usage:
//
//	mw, err := NewEchoX402Middleware(config)
//	e := echo.New()
//	e.Use(mw)
//	e.GET("/paid", func(c echo.Context) error {
//	    auth := c.Get("x402_payment").(*gate.Authorization)
//	    return c.JSON(http.StatusOK, map[string]string{"payer": auth.Payer})
//	})
func NewEchoX402Middleware(config *httpx402.Config) (echo.MiddlewareFunc, error) {
	g, err := httpx402.NewGate(config)
	if err != nil {
		return nil, err
	}
	return Middleware(g, config.Logger), nil
}

// Middleware gates echo handlers with an existing gate.
func Middleware(g *gate.Gate, logger *slog.Logger) echo.MiddlewareFunc {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			d := helpers.Decide(req.Context(), g, req, logger)
			if !d.Allowed() {
				helpers.SetChallengeHeader(c.Response().Header(), d.Body)
				return c.JSON(d.Status, d.Body)
			}
			if d.Pass {
				return next(c)
			}

			c.Set(PaymentKey, d.Authorization)
			ctx := context.WithValue(req.Context(), httpx402.PaymentContextKey, d.Authorization)
			c.SetRequest(req.WithContext(ctx))

			res := c.Response()
			settle := helpers.Settler(ctx, g, d.Authorization, res.Header, logger)
			res.Before(func() { settle(res.Status) })

			err := next(c)
			if err == nil && !res.Committed {
				res.WriteHeader(http.StatusOK)
			}
			return err
		}
	}
}
