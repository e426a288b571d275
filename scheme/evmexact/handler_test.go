package evmexact

import (
	"context"
	"encoding/json"
	"strconv"
	"testing"
	"time"

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

func TestParseRejectsMalformedPayload(t *testing.T) {
	h := newTestHandler(t)
	_, _, _, err := h.parse(x402.PaymentPayload{Payload: json.RawMessage(`not json`)}, x402.PaymentRequirements{})
	assert.Error(t, err)
}

func TestParseRejectsSchemeMismatch(t *testing.T) {
	h := newTestHandler(t)
	req := x402.PaymentPayload{Scheme: "upto", Payload: marshalPayload(t, payload{})}
	_, _, _, err := h.parse(req, x402.PaymentRequirements{Scheme: "exact"})
	assert.Error(t, err)
}

func TestParseRejectsChainMismatch(t *testing.T) {
	h := newTestHandler(t)
	req := x402.PaymentPayload{Scheme: "exact", Network: "eip155:8453", Payload: marshalPayload(t, payload{})}
	_, _, _, err := h.parse(req, x402.PaymentRequirements{Scheme: "exact", Network: "eip155:84532"})
	assert.Error(t, err)
}

func TestParseRejectsInvalidAmount(t *testing.T) {
	h := newTestHandler(t)
	req := x402.PaymentPayload{Scheme: "exact", Network: "eip155:84532", Payload: marshalPayload(t, payload{})}
	_, _, _, err := h.parse(req, x402.PaymentRequirements{Scheme: "exact", Network: "eip155:84532", MaxAmountRequired: "nope"})
	assert.Error(t, err)
}

func TestParseSucceeds(t *testing.T) {
	h := newTestHandler(t)
	req := x402.PaymentPayload{
		Scheme:  "exact",
		Network: "eip155:84532",
		Payload: marshalPayload(t, payload{Authorization: authorization{Value: "100"}}),
	}
	reqs := x402.PaymentRequirements{
		Scheme: "exact", Network: "eip155:84532", MaxAmountRequired: "100",
		Extra: json.RawMessage(`{"name":"USDC","version":"2"}`),
	}
	p, extra, amount, err := h.parse(req, reqs)
	require.NoError(t, err)
	assert.Equal(t, "100", p.Authorization.Value)
	assert.Equal(t, "USDC", extra.Name)
	assert.Equal(t, int64(100), amount.Int64())
}

func validAuthPayload(t *testing.T, now time.Time) x402.PaymentPayload {
	t.Helper()
	return x402.PaymentPayload{
		Scheme:  "exact",
		Network: "eip155:84532",
		Payload: marshalPayload(t, payload{
			Authorization: authorization{
				From:        "0x1111111111111111111111111111111111111a",
				To:          "0x2222222222222222222222222222222222222b",
				Value:       "100",
				ValidAfter:  "0",
				ValidBefore: "9999999999",
			},
		}),
	}
}

func TestVerifyRejectsNonPositiveValue(t *testing.T) {
	h := newTestHandler(t)
	req := x402.PaymentPayload{
		Scheme: "exact", Network: "eip155:84532",
		Payload: marshalPayload(t, payload{Authorization: authorization{Value: "0"}}),
	}
	outcome, err := h.Verify(context.Background(), req, x402.PaymentRequirements{Scheme: "exact", Network: "eip155:84532", MaxAmountRequired: "100"})
	require.NoError(t, err)
	assert.False(t, outcome.Valid)
	assert.Equal(t, x402.ReasonInvalidPaymentAmount, outcome.Reason)
}

func TestVerifyRejectsValueNotEqualToAmount(t *testing.T) {
	h := newTestHandler(t)
	req := x402.PaymentPayload{
		Scheme: "exact", Network: "eip155:84532",
		Payload: marshalPayload(t, payload{Authorization: authorization{Value: "50"}}),
	}
	outcome, err := h.Verify(context.Background(), req, x402.PaymentRequirements{Scheme: "exact", Network: "eip155:84532", MaxAmountRequired: "100"})
	require.NoError(t, err)
	assert.False(t, outcome.Valid)
	assert.Equal(t, x402.ReasonInvalidPaymentAmount, outcome.Reason)
}

func TestVerifyRejectsExpiredValidBefore(t *testing.T) {
	h := newTestHandler(t)
	req := x402.PaymentPayload{
		Scheme: "exact", Network: "eip155:84532",
		Payload: marshalPayload(t, payload{Authorization: authorization{
			Value: "100", ValidAfter: "0", ValidBefore: "1",
		}}),
	}
	outcome, err := h.Verify(context.Background(), req, x402.PaymentRequirements{Scheme: "exact", Network: "eip155:84532", MaxAmountRequired: "100"})
	require.NoError(t, err)
	assert.False(t, outcome.Valid)
	assert.Equal(t, x402.ReasonExpired, outcome.Reason)
}

func TestVerifyRejectsNotYetValid(t *testing.T) {
	h := newTestHandler(t)
	future := time.Now().Add(365 * 24 * time.Hour).Unix()
	req := x402.PaymentPayload{
		Scheme: "exact", Network: "eip155:84532",
		Payload: marshalPayload(t, payload{Authorization: authorization{
			Value: "100", ValidAfter: bigIntString(future), ValidBefore: "9999999999",
		}}),
	}
	outcome, err := h.Verify(context.Background(), req, x402.PaymentRequirements{Scheme: "exact", Network: "eip155:84532", MaxAmountRequired: "100"})
	require.NoError(t, err)
	assert.False(t, outcome.Valid)
	assert.Equal(t, x402.ReasonNotYetValid, outcome.Reason)
}

func TestVerifyRejectsRecipientMismatch(t *testing.T) {
	h := newTestHandler(t)
	req := validAuthPayload(t, time.Now())
	outcome, err := h.Verify(context.Background(), req, x402.PaymentRequirements{
		Scheme: "exact", Network: "eip155:84532", MaxAmountRequired: "100",
		PayTo: "0x3333333333333333333333333333333333333c",
	})
	require.NoError(t, err)
	assert.False(t, outcome.Valid)
	assert.Equal(t, x402.ReasonRecipientMismatch, outcome.Reason)
}

func bigIntString(v int64) string {
	return strconv.FormatInt(v, 10)
}
