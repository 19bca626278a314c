package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mark3labs/x402-paygate"
	"github.com/mark3labs/x402-paygate/deposit/hdwallet"
	"github.com/mark3labs/x402-paygate/deposit/stripe"
	"github.com/mark3labs/x402-paygate/gate"
	"github.com/mark3labs/x402-paygate/internal/gatetest"
	"github.com/mark3labs/x402-paygate/metrics"
	"github.com/mark3labs/x402-paygate/reconcile"
)

const testMnemonic = "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about"

func validConfig() serverConfig {
	return serverConfig{
		StripeSecretKey: "sk_test_123",
		FacilitatorURL:  "https://x402.org/facilitator",
		Port:            4242,
		Network:         "eip155:84532",
		Price:           "$0.01",
		LogLevel:        "info",
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*serverConfig)
		wantErr string
	}{
		{"valid", func(c *serverConfig) {}, ""},
		{"hd instead of stripe", func(c *serverConfig) { c.StripeSecretKey = ""; c.HDMnemonic = testMnemonic }, ""},
		{"no address source", func(c *serverConfig) { c.StripeSecretKey = "" }, "StripeSecretKey"},
		{"both hd keys", func(c *serverConfig) { c.HDXPub = "xpub"; c.HDMnemonic = testMnemonic }, "HDXPub"},
		{"bad facilitator", func(c *serverConfig) { c.FacilitatorURL = "not a url" }, "FacilitatorURL"},
		{"port out of range", func(c *serverConfig) { c.Port = 70000 }, "Port"},
		{"price without dollar", func(c *serverConfig) { c.Price = "0.01" }, "Price"},
		{"cdp name without secret", func(c *serverConfig) { c.CDPKeyName = "organizations/x/apiKeys/y" }, "CDPKeySecret"},
		{"bad log level", func(c *serverConfig) { c.LogLevel = "loud" }, "LogLevel"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %v, want mention of %s", err, tt.wantErr)
			}
		})
	}
}

func TestEnvironmentAndFlags(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, ".env")
	if err := os.WriteFile(envFile, []byte("STRIPE_SECRET_KEY=sk_test_env\nPORT=8080\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("FACILITATOR_URL", "https://facilitator.example.com")
	// registered for restore, then cleared so the .env file can set them
	for _, key := range []string{"STRIPE_SECRET_KEY", "PORT"} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}

	if err := loadEnvFile(envFile); err != nil {
		t.Fatalf("loadEnvFile: %v", err)
	}

	cmd := newRootCmd()
	cfg := &serverConfig{}
	cmd.ResetFlags()
	bindFlags(cmd, cfg)
	if err := cmd.Flags().Parse([]string{"--port", "9090"}); err != nil {
		t.Fatal(err)
	}
	if err := applyEnv(cmd); err != nil {
		t.Fatalf("applyEnv: %v", err)
	}

	if cfg.StripeSecretKey != "sk_test_env" {
		t.Errorf("StripeSecretKey = %q, want value from .env", cfg.StripeSecretKey)
	}
	if cfg.FacilitatorURL != "https://facilitator.example.com" {
		t.Errorf("FacilitatorURL = %q, want value from environment", cfg.FacilitatorURL)
	}
	if cfg.Port != 9090 {
		t.Errorf("Port = %d, the flag must win over the environment", cfg.Port)
	}
	if cfg.Network != "eip155:84532" || cfg.Price != "$0.01" {
		t.Errorf("unexpected defaults: %+v", cfg)
	}
}

func TestLoadEnvFile_Missing(t *testing.T) {
	if err := loadEnvFile(filepath.Join(t.TempDir(), "missing.env")); err != nil {
		t.Errorf("missing env file should be ignored: %v", err)
	}
}

func TestApplyEnv_InvalidValue(t *testing.T) {
	t.Setenv("PORT", "not-a-port")
	cmd := newRootCmd()
	if err := applyEnv(cmd); err == nil || !strings.Contains(err.Error(), "PORT") {
		t.Errorf("expected PORT error, got %v", err)
	}
}

func TestNewProcessor(t *testing.T) {
	logger := gatetest.Logger()

	cfg := validConfig()
	p, err := newProcessor(&cfg, logger)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := p.(*stripe.Processor); !ok {
		t.Errorf("expected Stripe processor, got %T", p)
	}

	cfg.HDMnemonic = testMnemonic
	p, err = newProcessor(&cfg, logger)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := p.(*hdwallet.Processor); !ok {
		t.Errorf("expected HD processor, got %T", p)
	}
}

func TestNewRecorder_LogOnly(t *testing.T) {
	cfg := validConfig()
	rec, closeFn, err := newRecorder(t.Context(), &cfg, gatetest.Logger())
	if err != nil {
		t.Fatal(err)
	}
	defer closeFn()
	if _, ok := rec.(reconcile.LogRecorder); !ok {
		t.Errorf("expected LogRecorder, got %T", rec)
	}
}

func TestGateConfig(t *testing.T) {
	cfg := validConfig()
	config, err := gateConfig(&cfg, x402.StaticPayTo(gatetest.PayTo), reconcile.LogRecorder{}, metrics.NoopRecorder{}, gatetest.Logger())
	if err != nil {
		t.Fatal(err)
	}
	route, ok := config.Routes["GET /paid"]
	if !ok || len(route.Accepts) != 1 {
		t.Fatalf("unexpected routes: %+v", config.Routes)
	}
	if route.Description != "Data retrieval endpoint" || route.Accepts[0].Price != "$0.01" {
		t.Errorf("unexpected route: %+v", route)
	}
	if config.FacilitatorAuthorizationProvider != nil {
		t.Error("no CDP key configured, provider must be nil")
	}

	cfg.CDPKeyName = "organizations/x/apiKeys/y"
	cfg.CDPKeySecret = "not a key"
	if _, err := gateConfig(&cfg, x402.StaticPayTo(gatetest.PayTo), nil, nil, gatetest.Logger()); err == nil {
		t.Error("expected error for an invalid CDP key")
	}
}

func TestRouter(t *testing.T) {
	f := gatetest.New(t)
	router := newRouter(f.Gate, nil, gatetest.Logger())

	t.Run("health is free", func(t *testing.T) {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest("GET", "/healthz", nil))
		if rec.Code != http.StatusNoContent {
			t.Errorf("status = %d", rec.Code)
		}
	})

	t.Run("paid requires payment", func(t *testing.T) {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest("GET", "/paid", nil))
		if rec.Code != http.StatusPaymentRequired {
			t.Errorf("status = %d", rec.Code)
		}
	})

	t.Run("paid serves data", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/paid", nil)
		req.Header.Set("PAYMENT-SIGNATURE", gatetest.ProofHeader(t, "10000"))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
		}
		var body map[string]string
		if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil || body["foo"] != "bar" {
			t.Errorf("body = %q", rec.Body.String())
		}
		if rec.Header().Get("PAYMENT-RESPONSE") == "" {
			t.Error("expected PAYMENT-RESPONSE header")
		}
	})
}

func TestRouter_Metrics(t *testing.T) {
	rec, reg, err := newMetrics()
	if err != nil {
		t.Fatal(err)
	}
	f := gatetest.New(t, func(c *gate.Config) { c.Metrics = rec })
	router := newRouter(f.Gate, reg, gatetest.Logger())

	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/paid", nil))

	res := httptest.NewRecorder()
	router.ServeHTTP(res, httptest.NewRequest("GET", "/metrics", nil))
	if res.Code != http.StatusOK {
		t.Fatalf("status = %d", res.Code)
	}
	body := res.Body.String()
	for _, want := range []string{"x402_events_total{", `network="` + gatetest.Network + `"`, `type="challenged"`, "x402_latency_seconds_bucket{"} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics output lacks %s", want)
		}
	}
	if !strings.Contains(res.Body.String(), "go_goroutines") {
		t.Error("expected Go runtime metrics")
	}
}
