// Package scheme defines the handler contract that every (protocol-version,
// chain-namespace, scheme-name) implementation satisfies, and the registry
// that dispatches requests to one.
package scheme

import (
	"context"

	x402 "github.com/gosuda/x402-facilitator/types"
)

// VerifyOutcome is the result of a handler's verification pass.
type VerifyOutcome struct {
	Valid  bool
	Payer  string
	Reason x402.Reason
	Detail string
}

// SettleOutcome is the result of a handler's settlement pass.
type SettleOutcome struct {
	Success     bool
	Payer       string
	Transaction string
	Network     string
	Reason      x402.Reason
	Detail      string
}

// Handler implements one slug's capability set: parse, verify, settle, advertise.
// Payload parsing happens inside each handler against its own concrete struct
// rather than a shared tagged union.
type Handler interface {
	Slug() x402.SchemeSlug
	Verify(ctx context.Context, payload x402.PaymentPayload, reqs x402.PaymentRequirements) (VerifyOutcome, error)
	Settle(ctx context.Context, payload x402.PaymentPayload, reqs x402.PaymentRequirements) (SettleOutcome, error)
	Advertise() x402.SupportedKind
	// Signers reports the facilitator-controlled addresses (EVM signer set,
	// Solana fee payer) that settlement on this handler's chain broadcasts
	// from, for /supported and /health to report sponsorable-chain identity.
	Signers() []string
}
