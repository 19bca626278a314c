// Package encoding provides utilities for encoding and decoding x402 header values.
// It handles base64 and JSON marshaling for payment proofs, challenges, and settlements.
package encoding

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/mark3labs/x402-paygate"
)

// proofSchema describes the fields a payment proof must carry before it is
// handed to a scheme verifier.
const proofSchema = `{
  "type": "object",
  "required": ["x402Version", "payload"],
  "properties": {
    "x402Version": {"type": "integer", "enum": [1, 2]},
    "scheme": {"type": "string", "minLength": 1},
    "network": {"type": "string", "minLength": 1},
    "accepted": {
      "type": "object",
      "properties": {
        "scheme": {"type": "string"},
        "network": {"type": "string"},
        "asset": {"type": "string"},
        "amount": {"type": "string"},
        "payTo": {"type": "string"}
      }
    },
    "payload": {
      "type": "object",
      "required": ["authorization"],
      "properties": {
        "signature": {"type": "string"},
        "authorization": {
          "type": "object",
          "required": ["from", "to", "value", "validAfter", "validBefore", "nonce"],
          "properties": {
            "from": {"type": "string"},
            "to": {"type": "string"},
            "value": {"type": "string"},
            "validAfter": {"type": "string"},
            "validBefore": {"type": "string"},
            "nonce": {"type": "string"}
          }
        }
      }
    }
  },
  "anyOf": [
    {"required": ["scheme", "network"]},
    {
      "required": ["accepted"],
      "properties": {
        "accepted": {
          "required": ["scheme", "network"],
          "properties": {
            "scheme": {"minLength": 1},
            "network": {"minLength": 1}
          }
        }
      }
    }
  ]
}`

var compiledProofSchema = mustSchema(proofSchema)

func mustSchema(s string) *gojsonschema.Schema {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(s))
	if err != nil {
		panic(fmt.Sprintf("encoding: invalid proof schema: %v", err))
	}
	return schema
}

// DecodeBase64 decodes a header value in standard or URL-safe base64, padded or not.
func DecodeBase64(encoded string) ([]byte, error) {
	s := strings.TrimSpace(encoded)
	var lastErr error
	for _, enc := range []*base64.Encoding{base64.StdEncoding, base64.RawStdEncoding, base64.URLEncoding, base64.RawURLEncoding} {
		b, err := enc.DecodeString(s)
		if err == nil {
			return b, nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("failed to decode base64: %w", lastErr)
}

// DecodeProof converts a base64-encoded payment header into a validated PaymentProof.
//
// Malformed base64 or JSON yields a DecodeError with code malformed_header;
// missing or mistyped fields yield code schema_mismatch with the violations
// attached as details. No partial proof is returned on error.
func DecodeProof(encoded string) (x402.PaymentProof, error) {
	if strings.TrimSpace(encoded) == "" {
		return x402.PaymentProof{}, x402.DecodeError(x402.ErrCodeMalformedHeader, "payment header is empty", nil)
	}

	decoded, err := DecodeBase64(encoded)
	if err != nil {
		return x402.PaymentProof{}, x402.DecodeError(x402.ErrCodeMalformedHeader, "payment header is not valid base64", err)
	}
	if !json.Valid(decoded) {
		return x402.PaymentProof{}, x402.DecodeError(x402.ErrCodeMalformedHeader, "payment header is not valid JSON", nil)
	}

	result, err := compiledProofSchema.Validate(gojsonschema.NewBytesLoader(decoded))
	if err != nil {
		return x402.PaymentProof{}, x402.DecodeError(x402.ErrCodeMalformedHeader, "payment header could not be validated", err)
	}
	if !result.Valid() {
		violations := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			violations = append(violations, e.String())
		}
		return x402.PaymentProof{}, x402.DecodeError(x402.ErrCodeSchemaMismatch, "payment proof does not match the expected shape", nil).
			WithDetails("violations", violations)
	}

	var proof x402.PaymentProof
	if err := json.Unmarshal(decoded, &proof); err != nil {
		return x402.PaymentProof{}, x402.DecodeError(x402.ErrCodeSchemaMismatch, "payment proof does not match the expected shape", err)
	}

	// v2 clients may only echo scheme and network under accepted
	if proof.Accepted != nil {
		if proof.Scheme == "" {
			proof.Scheme = proof.Accepted.Scheme
		}
		if proof.Network == "" {
			proof.Network = proof.Accepted.Network
		}
	}
	proof.Network = x402.CanonicalNetwork(proof.Network)

	return proof, nil
}

// EncodeProof converts a PaymentProof to a base64-encoded JSON string.
func EncodeProof(proof x402.PaymentProof) (string, error) {
	return encode(proof, "proof")
}

// EncodeChallenge converts a 402 body to the base64 value of the PAYMENT-REQUIRED header.
func EncodeChallenge(challenge x402.PaymentRequired) (string, error) {
	return encode(challenge, "challenge")
}

// DecodeChallenge converts a PAYMENT-REQUIRED header value back to a 402 body.
func DecodeChallenge(encoded string) (x402.PaymentRequired, error) {
	var challenge x402.PaymentRequired
	err := decode(encoded, &challenge, "challenge")
	return challenge, err
}

// EncodeSettlement converts a SettlementResponse to base64-encoded JSON string.
// This is used for the PAYMENT-RESPONSE header.
func EncodeSettlement(settlement x402.SettlementResponse) (string, error) {
	return encode(settlement, "settlement")
}

// DecodeSettlement converts a base64-encoded JSON string to SettlementResponse.
func DecodeSettlement(encoded string) (x402.SettlementResponse, error) {
	var settlement x402.SettlementResponse
	err := decode(encoded, &settlement, "settlement")
	return settlement, err
}

func encode(v interface{}, what string) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to marshal %s: %w", what, err)
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

func decode(encoded string, v interface{}, what string) error {
	data, err := DecodeBase64(encoded)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to unmarshal %s: %w", what, err)
	}
	return nil
}
