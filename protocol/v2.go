package protocol

import "encoding/json"

// V2 wire shapes: CAIP-2 network labels, a single top-level resource object,
// "amount" instead of "maxAmountRequired".

type ResourceInfo struct {
	URL         string `json:"url"`
	Description string `json:"description,omitempty"`
	MimeType    string `json:"mimeType,omitempty"`
}

type RequirementV2 struct {
	Scheme            string          `json:"scheme"`
	Network           string          `json:"network"`
	Amount            string          `json:"amount"`
	PayTo             string          `json:"payTo"`
	Asset             string          `json:"asset"`
	MaxTimeoutSeconds int             `json:"maxTimeoutSeconds"`
	Extra             json.RawMessage `json:"extra,omitempty"`
}

type PaymentRequiredV2 struct {
	X402Version int             `json:"x402Version"`
	Error       string          `json:"error,omitempty"`
	Resource    ResourceInfo    `json:"resource"`
	Accepts     []RequirementV2 `json:"accepts"`
	Extensions  json.RawMessage `json:"extensions,omitempty"`
}

type PaymentSignatureV2 struct {
	X402Version int             `json:"x402Version"`
	Accepted    RequirementV2   `json:"accepted"`
	Payload     json.RawMessage `json:"payload"`
	Resource    ResourceInfo    `json:"resource"`
	Extensions  json.RawMessage `json:"extensions,omitempty"`
}
