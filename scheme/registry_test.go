package scheme

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	x402 "github.com/gosuda/x402-facilitator/types"
)

type stubHandler struct {
	slug    x402.SchemeSlug
	signers []string
}

func (s stubHandler) Slug() x402.SchemeSlug { return s.slug }
func (s stubHandler) Verify(context.Context, x402.PaymentPayload, x402.PaymentRequirements) (VerifyOutcome, error) {
	return VerifyOutcome{}, nil
}
func (s stubHandler) Settle(context.Context, x402.PaymentPayload, x402.PaymentRequirements) (SettleOutcome, error) {
	return SettleOutcome{}, nil
}
func (s stubHandler) Advertise() x402.SupportedKind {
	return x402.SupportedKind{X402Version: s.slug.Version, Scheme: s.slug.Scheme, Network: s.slug.Namespace}
}
func (s stubHandler) Signers() []string { return s.signers }

func TestRegistryRegisterAndLookup(t *testing.T) {
	r := NewRegistry()
	h := stubHandler{slug: x402.SchemeSlug{Version: 2, Namespace: "eip155", Scheme: "exact"}}

	require.NoError(t, r.Register("84532", h))

	found, ok := r.Lookup(2, "eip155", "84532", "exact")
	assert.True(t, ok)
	assert.Equal(t, h, found)

	_, ok = r.Lookup(2, "eip155", "8453", "exact")
	assert.False(t, ok, "different chain reference must not match")

	_, ok = r.Lookup(1, "eip155", "84532", "exact")
	assert.False(t, ok, "different version must not match")
}

func TestRegistryRejectsDuplicates(t *testing.T) {
	r := NewRegistry()
	slug := x402.SchemeSlug{Version: 2, Namespace: "eip155", Scheme: "exact"}
	require.NoError(t, r.Register("84532", stubHandler{slug: slug}))

	err := r.Register("84532", stubHandler{slug: slug})
	assert.Error(t, err)
}

func TestRegistrySupportedEnumeratesAll(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register("84532", stubHandler{slug: x402.SchemeSlug{Version: 2, Namespace: "eip155", Scheme: "exact"}}))
	require.NoError(t, r.Register("84532", stubHandler{slug: x402.SchemeSlug{Version: 2, Namespace: "eip155", Scheme: "upto"}}))

	kinds := r.Supported()
	assert.Len(t, kinds, 2)
}

func TestRegistrySignersDeduplicatesPerNetwork(t *testing.T) {
	r := NewRegistry()
	slug := x402.SchemeSlug{Version: 2, Namespace: "eip155", Scheme: "exact"}
	require.NoError(t, r.Register("84532", stubHandler{slug: slug, signers: []string{"0xabc"}}))
	require.NoError(t, r.Register("84532", stubHandler{slug: x402.SchemeSlug{Version: 2, Namespace: "eip155", Scheme: "upto"}, signers: []string{"0xabc"}}))

	signers := r.Signers()
	assert.Equal(t, []string{"0xabc"}, signers["eip155"])
}
