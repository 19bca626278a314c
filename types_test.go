package x402

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestPaymentRequirement_WithPayTo(t *testing.T) {
	tmpl := PaymentRequirement{
		Scheme:  "exact",
		Network: "eip155:84532",
		Amount:  "10000",
		Extra:   map[string]interface{}{"name": "USDC"},
	}

	bound := tmpl.WithPayTo("0x209693Bc6afc0C5328bA36FaF03C514EF312287C")
	if bound.PayTo != "0x209693Bc6afc0C5328bA36FaF03C514EF312287C" {
		t.Errorf("PayTo = %s", bound.PayTo)
	}
	if tmpl.PayTo != "" {
		t.Error("template was modified")
	}

	bound.Extra["feePayer"] = "x"
	if _, ok := tmpl.Extra["feePayer"]; ok {
		t.Error("bound requirement shares its Extra map with the template")
	}
}

func TestPaymentRequired_WireFields(t *testing.T) {
	body := PaymentRequired{
		X402Version: ProtocolVersion,
		Error:       "Payment required",
		Resource:    &ResourceInfo{URL: "http://localhost:4242/paid", MimeType: "application/json"},
		Accepts: []PaymentRequirement{{
			Scheme:            "exact",
			Network:           "eip155:84532",
			Price:             "$0.01",
			Amount:            "10000",
			Asset:             BaseSepolia.USDCAddress,
			PayTo:             "0x209693Bc6afc0C5328bA36FaF03C514EF312287C",
			MaxTimeoutSeconds: 300,
		}},
	}

	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("Failed to marshal: %v", err)
	}

	s := string(data)
	for _, want := range []string{`"x402Version":2`, `"accepts":[`, `"payTo":"0x2096`, `"price":"$0.01"`, `"amount":"10000"`, `"maxTimeoutSeconds":300`, `"resource":{"url":"http://localhost:4242/paid"`} {
		if !strings.Contains(s, want) {
			t.Errorf("marshaled body %s missing %s", s, want)
		}
	}
	// A plain challenge carries no reason
	if strings.Contains(s, `"reason"`) {
		t.Errorf("unexpected reason in %s", s)
	}
}

func TestPaymentProof_Unmarshal(t *testing.T) {
	raw := `{
		"x402Version": 2,
		"scheme": "exact",
		"network": "eip155:84532",
		"accepted": {"asset": "0x036CbD53842c5426634e7929541eC2318f3dCF7e"},
		"payload": {
			"signature": "0x2d6a",
			"authorization": {
				"from": "0x857b06519E91e3A54538791bDbb0E22373e36b66",
				"to": "0x209693Bc6afc0C5328bA36FaF03C514EF312287C",
				"value": "10000",
				"validAfter": "1740672089",
				"validBefore": "1740672154",
				"nonce": "0xf3746613c2d920b5fdabc0856f2aeb2d4f88ee6037b8cc5d04a71a4462f13480"
			}
		}
	}`

	var proof PaymentProof
	if err := json.Unmarshal([]byte(raw), &proof); err != nil {
		t.Fatalf("Failed to unmarshal: %v", err)
	}
	if proof.Payload.Authorization.To != "0x209693Bc6afc0C5328bA36FaF03C514EF312287C" {
		t.Errorf("To = %s", proof.Payload.Authorization.To)
	}
	if proof.Accepted == nil || proof.Accepted.Asset != BaseSepolia.USDCAddress {
		t.Errorf("Accepted = %+v", proof.Accepted)
	}
}
