// Package cdp authenticates facilitator calls against the Coinbase Developer
// Platform with short-lived JWT bearer tokens.
package cdp

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"gopkg.in/square/go-jose.v2"
	"gopkg.in/square/go-jose.v2/jwt"
)

// FacilitatorURL is the CDP-hosted x402 facilitator.
const FacilitatorURL = "https://api.cdp.coinbase.com/platform/v2/x402"

// TokenLifetime is how long a bearer token stays valid.
const TokenLifetime = 2 * time.Minute

// ErrInvalidKey is returned when the API key secret cannot be parsed.
var ErrInvalidKey = errors.New("cdp: invalid API key secret")

// Auth signs CDP bearer tokens. It is immutable after construction and safe
// for concurrent use.
type Auth struct {
	keyName string
	key     crypto.Signer
	alg     jose.SignatureAlgorithm
	now     func() time.Time
}

// Claims is the JWT claim set CDP expects.
type Claims struct {
	*jwt.Claims
	// URI is "{METHOD} {host}{path}" of the authenticated request.
	URI string `json:"uri"`
}

// NewAuth parses the API key secret. The secret may be a PEM block (SEC1 or
// PKCS8 ECDSA), or base64 as issued by the CDP portal: DER for ECDSA keys,
// 64 raw bytes for Ed25519 keys.
func NewAuth(keyName, keySecret string) (*Auth, error) {
	if keyName == "" {
		return nil, errors.New("cdp: API key name must not be empty")
	}
	key, err := parseKey(keySecret)
	if err != nil {
		return nil, err
	}

	a := &Auth{keyName: keyName, key: key, now: time.Now}
	switch key.(type) {
	case *ecdsa.PrivateKey:
		a.alg = jose.ES256
	case ed25519.PrivateKey:
		a.alg = jose.EdDSA
	default:
		return nil, fmt.Errorf("%w: unsupported key type %T", ErrInvalidKey, key)
	}
	return a, nil
}

func parseKey(secret string) (crypto.Signer, error) {
	secret = strings.TrimSpace(strings.ReplaceAll(secret, `\n`, "\n"))
	if secret == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalidKey)
	}

	var der []byte
	if block, _ := pem.Decode([]byte(secret)); block != nil {
		der = block.Bytes
	} else {
		raw, err := base64.StdEncoding.DecodeString(secret)
		if err != nil {
			return nil, fmt.Errorf("%w: neither PEM nor base64", ErrInvalidKey)
		}
		if len(raw) == ed25519.PrivateKeySize {
			return ed25519.PrivateKey(raw), nil
		}
		der = raw
	}

	if k, err := x509.ParseECPrivateKey(der); err == nil {
		return k, nil
	}
	k, err := x509.ParsePKCS8PrivateKey(der)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	signer, ok := k.(crypto.Signer)
	if !ok {
		return nil, fmt.Errorf("%w: unsupported key type %T", ErrInvalidKey, k)
	}
	return signer, nil
}

// Token returns a bearer token for one request.
func (a *Auth) Token(method, host, path string) (string, error) {
	sig, err := jose.NewSigner(
		jose.SigningKey{Algorithm: a.alg, Key: a.key},
		(&jose.SignerOptions{}).WithType("JWT").WithHeader("kid", a.keyName),
	)
	if err != nil {
		return "", fmt.Errorf("cdp: create signer: %w", err)
	}

	now := a.now()
	claims := Claims{
		Claims: &jwt.Claims{
			Subject:   a.keyName,
			Issuer:    "cdp",
			NotBefore: jwt.NewNumericDate(now),
			Expiry:    jwt.NewNumericDate(now.Add(TokenLifetime)),
		},
		URI: method + " " + host + path,
	}
	token, err := jwt.Signed(sig).Claims(claims).CompactSerialize()
	if err != nil {
		return "", fmt.Errorf("cdp: sign token: %w", err)
	}
	return token, nil
}

// Provider returns an Authorization header provider for the facilitator
// client. A token that cannot be signed is logged and the request goes out
// unauthenticated, so the facilitator answers 401.
func (a *Auth) Provider(logger *slog.Logger) func(*http.Request) string {
	if logger == nil {
		logger = slog.Default()
	}
	return func(r *http.Request) string {
		token, err := a.Token(r.Method, r.URL.Host, r.URL.Path)
		if err != nil {
			logger.Error("failed to sign CDP token", "path", r.URL.Path, "error", err)
			return ""
		}
		return "Bearer " + token
	}
}
