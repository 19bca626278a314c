// Command paygate serves a paid data endpoint behind an x402 gate. Each
// challenge carries a fresh deposit address from Stripe (or an HD wallet);
// retried requests are checked against the address in their proof.
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
