package scheme

import (
	"context"
	"encoding/json"

	x402 "github.com/gosuda/x402-facilitator/types"
)

// ExactRouter dispatches the "exact" slug on one EVM chain between an
// ERC-3009 handler and a Permit2 fallback, keyed on which payload shape the
// client sent. Both mechanisms advertise the same (version, namespace,
// scheme) slug, so the registry can hold only one handler per chain for it;
// this composes the two behind that single registration.
type ExactRouter struct {
	primary Handler
	permit2 Handler
}

// NewExactRouter builds a router over primary (ERC-3009). permit2 may be nil
// when the chain has no configured Permit2 proxy.
func NewExactRouter(primary, permit2 Handler) *ExactRouter {
	return &ExactRouter{primary: primary, permit2: permit2}
}

func (r *ExactRouter) Slug() x402.SchemeSlug { return r.primary.Slug() }

func (r *ExactRouter) Advertise() x402.SupportedKind { return r.primary.Advertise() }

// Signers reports the primary mechanism's signers; both mechanisms settle
// from the same EVM signer set on this chain, so there is nothing to merge.
func (r *ExactRouter) Signers() []string { return r.primary.Signers() }

func (r *ExactRouter) route(payload x402.PaymentPayload) Handler {
	if r.permit2 != nil && isPermit2Payload(payload.Payload) {
		return r.permit2
	}
	return r.primary
}

func (r *ExactRouter) Verify(ctx context.Context, payload x402.PaymentPayload, reqs x402.PaymentRequirements) (VerifyOutcome, error) {
	return r.route(payload).Verify(ctx, payload, reqs)
}

func (r *ExactRouter) Settle(ctx context.Context, payload x402.PaymentPayload, reqs x402.PaymentRequirements) (SettleOutcome, error) {
	return r.route(payload).Settle(ctx, payload, reqs)
}

func isPermit2Payload(raw json.RawMessage) bool {
	var probe struct {
		Permit2Authorization json.RawMessage `json:"permit2Authorization"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return false
	}
	return len(probe.Permit2Authorization) > 0
}
