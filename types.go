package x402

// ProtocolVersion is the x402 protocol version emitted in challenges.
const ProtocolVersion = 2

// SchemeExact is the identifier of the exact-amount payment scheme.
const SchemeExact = "exact"

// PaymentRequirement is a single payment option as it appears on the wire,
// with its payTo address already resolved.
type PaymentRequirement struct {
	// Scheme is the payment scheme identifier (e.g., "exact").
	Scheme string `json:"scheme"`

	// Network is the CAIP-2 network identifier (e.g., "eip155:84532").
	Network string `json:"network"`

	// Price is the display price declared by the route (e.g., "$0.01").
	Price string `json:"price,omitempty"`

	// Amount is the price in the asset's atomic units (e.g., "10000" for $0.01 USDC).
	Amount string `json:"amount"`

	// Asset is the token contract address (EVM) or mint address (Solana).
	Asset string `json:"asset"`

	// PayTo is the address the payer must transfer funds to.
	PayTo string `json:"payTo"`

	// Description is a human-readable description of the resource.
	Description string `json:"description,omitempty"`

	// MimeType is the content type of the protected resource.
	MimeType string `json:"mimeType,omitempty"`

	// MaxTimeoutSeconds is the validity period the server allows for an authorization.
	MaxTimeoutSeconds int `json:"maxTimeoutSeconds,omitempty"`

	// Extra contains scheme-specific data such as the EIP-3009 domain name and version.
	Extra map[string]interface{} `json:"extra,omitempty"`
}

// WithPayTo returns a copy of the requirement bound to the given address.
// Extra is copied so resolved requirements never share a map with the template.
func (r PaymentRequirement) WithPayTo(address string) PaymentRequirement {
	r.PayTo = address
	if r.Extra != nil {
		extra := make(map[string]interface{}, len(r.Extra))
		for k, v := range r.Extra {
			extra[k] = v
		}
		r.Extra = extra
	}
	return r
}

// ResourceInfo describes the resource a challenge refers to.
type ResourceInfo struct {
	URL         string `json:"url"`
	Description string `json:"description,omitempty"`
	MimeType    string `json:"mimeType,omitempty"`
}

// PaymentRequired is the 402 challenge or denial body.
type PaymentRequired struct {
	// X402Version is the protocol version.
	X402Version int `json:"x402Version"`

	// Error is a human-readable message.
	Error string `json:"error"`

	// Reason is the machine-readable reason code for a denial. Empty for a plain challenge.
	Reason ErrorCode `json:"reason,omitempty"`

	// Details carries diagnostic data attached to the denial.
	Details map[string]interface{} `json:"details,omitempty"`

	// Resource describes the protected resource.
	Resource *ResourceInfo `json:"resource,omitempty"`

	// Accepts lists the acceptable payment options, in order of preference.
	Accepts []PaymentRequirement `json:"accepts,omitempty"`
}

// PaymentProof is the decoded payment header.
type PaymentProof struct {
	// X402Version is the protocol version the client used.
	X402Version int `json:"x402Version"`

	// Scheme is the payment scheme identifier.
	Scheme string `json:"scheme"`

	// Network is the network the authorization was signed for.
	Network string `json:"network"`

	// Accepted is the requirement the client chose, when the client echoes it (protocol v2).
	Accepted *AcceptedRequirement `json:"accepted,omitempty"`

	// Payload is the scheme payload.
	Payload ExactPayload `json:"payload"`
}

// AcceptedRequirement is the subset of a requirement echoed back in a v2 proof.
type AcceptedRequirement struct {
	Scheme  string `json:"scheme,omitempty"`
	Network string `json:"network,omitempty"`
	Asset   string `json:"asset,omitempty"`
	Amount  string `json:"amount,omitempty"`
	PayTo   string `json:"payTo,omitempty"`
}

// ExactPayload is the EIP-3009 payload carried by an exact-scheme proof.
type ExactPayload struct {
	// Signature is the hex-encoded signature over the authorization.
	Signature string `json:"signature"`

	// Authorization contains the transferWithAuthorization parameters.
	Authorization Authorization `json:"authorization"`
}

// Authorization represents EIP-3009 transferWithAuthorization parameters.
type Authorization struct {
	// From is the payer's address.
	From string `json:"from"`

	// To is the recipient's address.
	To string `json:"to"`

	// Value is the payment amount in atomic units.
	Value string `json:"value"`

	// ValidAfter is the unix timestamp after which the authorization is valid.
	ValidAfter string `json:"validAfter"`

	// ValidBefore is the unix timestamp before which the authorization is valid.
	ValidBefore string `json:"validBefore"`

	// Nonce is a unique 32-byte hex string to prevent replay attacks.
	Nonce string `json:"nonce"`
}

// DepositAddress is an address a payer must transfer funds to, scoped to a network.
type DepositAddress struct {
	// Address is the chain address.
	Address string

	// Network is the CAIP-2 network the address belongs to.
	Network string

	// IntentID is the processor-side intent that produced the address, if any.
	IntentID string
}

// SettlementResponse represents the result of settling a payment.
type SettlementResponse struct {
	// Success indicates whether the payment was successfully settled.
	Success bool `json:"success"`

	// ErrorReason provides details if the payment failed.
	ErrorReason string `json:"errorReason,omitempty"`

	// Transaction is the blockchain transaction hash.
	Transaction string `json:"transaction,omitempty"`

	// Network is the blockchain network where the payment was settled.
	Network string `json:"network"`

	// Payer is the address that made the payment.
	Payer string `json:"payer,omitempty"`
}
