// Package facilitator exposes the three-operation façade (verify, settle,
// supported) that the HTTP adapter calls into. It is stateless across calls
// and safe for concurrent invocation; the registry is its sole owned state.
package facilitator

import (
	"context"
	"fmt"

	"github.com/gosuda/x402-facilitator/scheme"
	x402 "github.com/gosuda/x402-facilitator/types"
)

// Facilitator matches a request's (version, scheme, network) to a registered
// handler, forwards the typed payload, and returns a typed outcome.
type Facilitator struct {
	registry *scheme.Registry
}

func New(registry *scheme.Registry) *Facilitator {
	return &Facilitator{registry: registry}
}

func (f *Facilitator) resolve(version int, network, schemeName string) (scheme.Handler, error) {
	chain, err := x402.ParseChainId(network)
	if err != nil {
		return nil, fmt.Errorf("facilitator: %w", err)
	}
	h, ok := f.registry.Lookup(version, chain.Namespace, chain.Reference, schemeName)
	if !ok {
		return nil, nil
	}
	return h, nil
}

// Verify matches the request to a handler and forwards to its Verify method.
// An unmatched (version, scheme, network) triple yields UnsupportedScheme.
func (f *Facilitator) Verify(ctx context.Context, payload x402.PaymentPayload, reqs x402.PaymentRequirements) (scheme.VerifyOutcome, error) {
	h, err := f.resolve(payload.X402Version, payload.Network, payload.Scheme)
	if err != nil {
		return scheme.VerifyOutcome{Valid: false, Reason: x402.ReasonUnsupportedNetwork, Detail: err.Error()}, nil
	}
	if h == nil {
		return scheme.VerifyOutcome{Valid: false, Reason: x402.ReasonUnsupportedScheme, Detail: fmt.Sprintf("no handler for v%d:%s:%s", payload.X402Version, payload.Network, payload.Scheme)}, nil
	}
	return h.Verify(ctx, payload, reqs)
}

// Settle matches the request to a handler and forwards to its Settle method.
// The handler re-runs verification in full; settle never trusts a prior
// verify call.
func (f *Facilitator) Settle(ctx context.Context, payload x402.PaymentPayload, reqs x402.PaymentRequirements) (scheme.SettleOutcome, error) {
	h, err := f.resolve(payload.X402Version, payload.Network, payload.Scheme)
	if err != nil {
		return scheme.SettleOutcome{Success: false, Reason: x402.ReasonUnsupportedNetwork, Detail: err.Error(), Network: payload.Network}, nil
	}
	if h == nil {
		return scheme.SettleOutcome{Success: false, Reason: x402.ReasonUnsupportedScheme, Detail: fmt.Sprintf("no handler for v%d:%s:%s", payload.X402Version, payload.Network, payload.Scheme), Network: payload.Network}, nil
	}
	return h.Settle(ctx, payload, reqs)
}

// Supported enumerates the registry's live handlers. It is a pure function of
// build-time configuration and does not change within a process lifetime.
func (f *Facilitator) Supported() []x402.SupportedKind {
	return f.registry.Supported()
}

// Signers reports the facilitator's settlement addresses per sponsorable
// network, for /supported and /health.
func (f *Facilitator) Signers() map[string][]string {
	return f.registry.Signers()
}
