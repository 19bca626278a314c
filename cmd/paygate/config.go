package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// serverConfig is the assembled binary configuration.
type serverConfig struct {
	StripeSecretKey        string `validate:"required_without_all=HDXPub HDMnemonic"`
	FacilitatorURL         string `validate:"required,url"`
	FallbackFacilitatorURL string `validate:"omitempty,url"`
	Port                   int    `validate:"min=1,max=65535"`
	Network                string `validate:"required"`
	Price                  string `validate:"required,startswith=$"`
	HDXPub                 string `validate:"omitempty,excluded_with=HDMnemonic"`
	HDMnemonic             string
	HDStartIndex           uint32
	RedisURL               string `validate:"omitempty,url"`
	CDPKeyName             string `validate:"required_with=CDPKeySecret"`
	CDPKeySecret           string `validate:"required_with=CDPKeyName"`
	VerifyOnly             bool
	LogLevel               string `validate:"oneof=debug info warn error"`
}

// envFlags maps flags to the environment variables that set them when the
// flag is not given on the command line.
var envFlags = map[string]string{
	"stripe-secret-key":    "STRIPE_SECRET_KEY",
	"facilitator":          "FACILITATOR_URL",
	"fallback-facilitator": "FALLBACK_FACILITATOR_URL",
	"port":                 "PORT",
	"network":              "NETWORK",
	"price":                "PRICE",
	"hd-xpub":              "HD_XPUB",
	"hd-mnemonic":          "HD_MNEMONIC",
	"hd-start-index":       "HD_START_INDEX",
	"redis-url":            "REDIS_URL",
	"cdp-key-name":         "CDP_API_KEY_NAME",
	"cdp-key-secret":       "CDP_API_KEY_SECRET",
	"verify-only":          "VERIFY_ONLY",
	"log-level":            "LOG_LEVEL",
}

func bindFlags(cmd *cobra.Command, cfg *serverConfig) {
	f := cmd.Flags()
	f.StringVar(&cfg.StripeSecretKey, "stripe-secret-key", "", "Stripe secret API key")
	f.StringVar(&cfg.FacilitatorURL, "facilitator", "https://x402.org/facilitator", "Facilitator URL")
	f.StringVar(&cfg.FallbackFacilitatorURL, "fallback-facilitator", "", "Fallback facilitator URL")
	f.IntVar(&cfg.Port, "port", 4242, "Server port")
	f.StringVar(&cfg.Network, "network", "eip155:84532", "Network to accept payments on")
	f.StringVar(&cfg.Price, "price", "$0.01", "Price of GET /paid")
	f.StringVar(&cfg.HDXPub, "hd-xpub", "", "Extended public key deriving deposit addresses instead of Stripe")
	f.StringVar(&cfg.HDMnemonic, "hd-mnemonic", "", "BIP-39 mnemonic deriving deposit addresses instead of Stripe")
	f.Uint32Var(&cfg.HDStartIndex, "hd-start-index", 0, "First HD child index to hand out")
	f.StringVar(&cfg.RedisURL, "redis-url", "", "Redis URL for the reconciliation stream")
	f.StringVar(&cfg.CDPKeyName, "cdp-key-name", "", "CDP API key name for facilitator auth")
	f.StringVar(&cfg.CDPKeySecret, "cdp-key-secret", "", "CDP API key secret for facilitator auth")
	f.BoolVar(&cfg.VerifyOnly, "verify-only", false, "Verify payments without settling them")
	f.StringVar(&cfg.LogLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	f.String("env-file", ".env", "Environment file loaded before reading variables")
}

// loadEnvFile loads path into the environment. A missing file is not an error.
func loadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// applyEnv sets every flag not given on the command line from its variable.
func applyEnv(cmd *cobra.Command) error {
	f := cmd.Flags()
	for name, key := range envFlags {
		v, ok := os.LookupEnv(key)
		if !ok || v == "" || f.Changed(name) {
			continue
		}
		if err := f.Set(name, v); err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
	}
	return nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

func (c *serverConfig) validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Field(), fe.Tag()))
			}
			return fmt.Errorf("invalid configuration: %s", strings.Join(msgs, "; "))
		}
		return err
	}
	return nil
}

func (c *serverConfig) logLevel() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return level
}
