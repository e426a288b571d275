package types

import "encoding/json"

// =============================================================================
// Canonical request/response shapes, internal representation is v2
// =============================================================================

// PaymentPayload is the client's signed offer. Its Payload field is kept as
// raw JSON because its shape is scheme-specific; each scheme handler parses
// it against its own concrete struct.
type PaymentPayload struct {
	X402Version int             `json:"x402Version"`
	Scheme      string          `json:"scheme"`
	Network     string          `json:"network"`
	Payload     json.RawMessage `json:"payload"`
}

func (p PaymentPayload) IsV2() bool { return p.X402Version == int(X402VersionV2) }

// PaymentRequirements is the server's declaration of what it will accept.
type PaymentRequirements struct {
	Scheme            string          `json:"scheme"`
	Network           string          `json:"network"`
	MaxAmountRequired string          `json:"maxAmountRequired"`
	Resource          string          `json:"resource,omitempty"`
	Description       string          `json:"description,omitempty"`
	MimeType          string          `json:"mimeType,omitempty"`
	PayTo             string          `json:"payTo"`
	Asset             string          `json:"asset"`
	MaxTimeoutSeconds int             `json:"maxTimeoutSeconds"`
	Extra             json.RawMessage `json:"extra,omitempty"`
}

// PaymentVerifyRequest is the request body sent to the facilitator's /verify endpoint.
type PaymentVerifyRequest struct {
	X402Version         int                 `json:"x402Version"`
	PaymentPayload      PaymentPayload      `json:"paymentPayload"`
	PaymentRequirements PaymentRequirements `json:"paymentRequirements"`
}

// PaymentVerifyResponse is the response returned from the /verify endpoint.
type PaymentVerifyResponse struct {
	IsValid       bool   `json:"isValid"`
	InvalidReason Reason `json:"invalidReason,omitempty"`
	Payer         string `json:"payer,omitempty"`
}

// PaymentSettleRequest is the request body sent to the facilitator's /settle endpoint.
type PaymentSettleRequest struct {
	X402Version         int                 `json:"x402Version"`
	PaymentPayload      PaymentPayload      `json:"paymentPayload"`
	PaymentRequirements PaymentRequirements `json:"paymentRequirements"`
}

// PaymentSettleResponse is the response from the /settle endpoint.
type PaymentSettleResponse struct {
	Success     bool   `json:"success"`
	Payer       string `json:"payer,omitempty"`
	Transaction string `json:"transaction,omitempty"`
	Network     string `json:"network"`
	ErrorReason Reason `json:"errorReason,omitempty"`
}

// SupportedKind describes one live (version, scheme, network) handler.
type SupportedKind struct {
	X402Version int             `json:"x402Version"`
	Scheme      string          `json:"scheme"`
	Network     string          `json:"network"`
	Extra       json.RawMessage `json:"extra,omitempty"`
}

// SupportedResponse is the response from the /supported endpoint.
type SupportedResponse struct {
	Kinds   []SupportedKind      `json:"kinds"`
	Signers map[string][]string  `json:"signers,omitempty"`
}

// X402Version represents the protocol version.
type X402Version int

const (
	X402VersionV1 X402Version = 1
	X402VersionV2 X402Version = 2
)
