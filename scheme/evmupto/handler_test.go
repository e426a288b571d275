package evmupto

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	x402 "github.com/gosuda/x402-facilitator/types"
)

var testChain = x402.ChainId{Namespace: "eip155", Reference: "84532"}

func newTestHandler(t *testing.T) *Handler {
	t.Helper()
	h, err := New(testChain, nil)
	require.NoError(t, err)
	return h
}

func marshalPayload(t *testing.T, p payload) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(p)
	require.NoError(t, err)
	return b
}

func TestVerifyRejectsSchemeMismatch(t *testing.T) {
	h := newTestHandler(t)
	outcome, err := h.Verify(context.Background(), x402.PaymentPayload{Scheme: "exact"}, x402.PaymentRequirements{Scheme: "upto"})
	require.NoError(t, err)
	assert.False(t, outcome.Valid)
	assert.Equal(t, x402.ReasonInvalidFormat, outcome.Reason)
}

func TestVerifyRejectsChainMismatch(t *testing.T) {
	h := newTestHandler(t)
	outcome, err := h.Verify(context.Background(), x402.PaymentPayload{Scheme: "upto", Network: "eip155:8453"}, x402.PaymentRequirements{Scheme: "upto", Network: "eip155:84532"})
	require.NoError(t, err)
	assert.False(t, outcome.Valid)
	assert.Equal(t, x402.ReasonChainIdMismatch, outcome.Reason)
}

func TestVerifyRejectsMalformedPayload(t *testing.T) {
	h := newTestHandler(t)
	req := x402.PaymentPayload{Scheme: "upto", Network: "eip155:84532", Payload: json.RawMessage(`not json`)}
	outcome, err := h.Verify(context.Background(), req, x402.PaymentRequirements{Scheme: "upto", Network: "eip155:84532"})
	require.NoError(t, err)
	assert.False(t, outcome.Valid)
	assert.Equal(t, x402.ReasonInvalidFormat, outcome.Reason)
}

func TestVerifyRejectsNonPositiveRequiredAmount(t *testing.T) {
	h := newTestHandler(t)
	req := x402.PaymentPayload{Scheme: "upto", Network: "eip155:84532", Payload: marshalPayload(t, payload{})}
	outcome, err := h.Verify(context.Background(), req, x402.PaymentRequirements{Scheme: "upto", Network: "eip155:84532", MaxAmountRequired: "not-a-number"})
	require.NoError(t, err)
	assert.False(t, outcome.Valid)
	assert.Equal(t, x402.ReasonInvalidFormat, outcome.Reason)
}

func TestVerifyRejectsNonPositivePermitValue(t *testing.T) {
	h := newTestHandler(t)
	req := x402.PaymentPayload{Scheme: "upto", Network: "eip155:84532", Payload: marshalPayload(t, payload{
		Authorization: authorization{Value: "0"},
	})}
	outcome, err := h.Verify(context.Background(), req, x402.PaymentRequirements{Scheme: "upto", Network: "eip155:84532", MaxAmountRequired: "100"})
	require.NoError(t, err)
	assert.False(t, outcome.Valid)
	assert.Equal(t, x402.ReasonInvalidPaymentAmount, outcome.Reason)
}

func TestVerifyRejectsPermitValueBelowRequiredAmount(t *testing.T) {
	h := newTestHandler(t)
	req := x402.PaymentPayload{Scheme: "upto", Network: "eip155:84532", Payload: marshalPayload(t, payload{
		Authorization: authorization{Value: "50"},
	})}
	outcome, err := h.Verify(context.Background(), req, x402.PaymentRequirements{Scheme: "upto", Network: "eip155:84532", MaxAmountRequired: "100"})
	require.NoError(t, err)
	assert.False(t, outcome.Valid)
	assert.Equal(t, x402.ReasonInvalidPaymentAmount, outcome.Reason)
}

func TestVerifyRejectsPermitValueBelowExtraMaxAmount(t *testing.T) {
	h := newTestHandler(t)
	req := x402.PaymentPayload{
		Scheme:  "upto",
		Network: "eip155:84532",
		Payload: marshalPayload(t, payload{Authorization: authorization{Value: "100"}}),
	}
	reqs := x402.PaymentRequirements{
		Scheme:            "upto",
		Network:           "eip155:84532",
		MaxAmountRequired: "50",
		Extra:             json.RawMessage(`{"maxAmountRequired":"200"}`),
	}
	outcome, err := h.Verify(context.Background(), req, reqs)
	require.NoError(t, err)
	assert.False(t, outcome.Valid)
	assert.Equal(t, x402.ReasonInvalidPaymentAmount, outcome.Reason)
}

func TestAdvertiseReflectsChain(t *testing.T) {
	h := newTestHandler(t)
	adv := h.Advertise()
	assert.Equal(t, "upto", adv.Scheme)
	assert.Equal(t, testChain.String(), adv.Network)
}
