package server

import (
	"github.com/mark3labs/x402-paygate"
)

// Helper functions returning x402.RouteConfig for common configurations

// RequireUSDCBase prices a tool in USDC on Base mainnet.
func RequireUSDCBase(payTo x402.PayToResolver, price, description string) x402.RouteConfig {
	return requireUSDC(x402.BaseMainnet.NetworkID, payTo, price, description)
}

// RequireUSDCBaseSepolia prices a tool in USDC on the Base Sepolia testnet.
func RequireUSDCBaseSepolia(payTo x402.PayToResolver, price, description string) x402.RouteConfig {
	return requireUSDC(x402.BaseSepolia.NetworkID, payTo, price, description)
}

// RequireUSDCPolygon prices a tool in USDC on Polygon.
func RequireUSDCPolygon(payTo x402.PayToResolver, price, description string) x402.RouteConfig {
	return requireUSDC(x402.PolygonMainnet.NetworkID, payTo, price, description)
}

// RequireUSDCSolana prices a tool in USDC on Solana.
func RequireUSDCSolana(payTo x402.PayToResolver, price, description string) x402.RouteConfig {
	return requireUSDC(x402.SolanaMainnet.NetworkID, payTo, price, description)
}

func requireUSDC(network string, payTo x402.PayToResolver, price, description string) x402.RouteConfig {
	return x402.RouteConfig{
		Accepts: []x402.PaymentOption{{
			Scheme:            x402.SchemeExact,
			Price:             price,
			Network:           network,
			PayTo:             payTo,
			MaxTimeoutSeconds: 60,
		}},
		Description: description,
		MimeType:    "application/json",
	}
}
