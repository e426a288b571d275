package scheme

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	x402 "github.com/gosuda/x402-facilitator/types"
)

type recordingHandler struct {
	stubHandler
	verified bool
}

func (r *recordingHandler) Verify(ctx context.Context, p x402.PaymentPayload, req x402.PaymentRequirements) (VerifyOutcome, error) {
	r.verified = true
	return VerifyOutcome{Valid: true}, nil
}

func TestIsPermit2Payload(t *testing.T) {
	t.Run("erc3009 shaped payload is not permit2", func(t *testing.T) {
		assert.False(t, isPermit2Payload([]byte(`{"signature":"0x1","authorization":{"from":"0xabc"}}`)))
	})

	t.Run("permit2 shaped payload is detected", func(t *testing.T) {
		assert.True(t, isPermit2Payload([]byte(`{"signature":"0x1","permit2Authorization":{"from":"0xabc"}}`)))
	})

	t.Run("malformed json is not permit2", func(t *testing.T) {
		assert.False(t, isPermit2Payload([]byte(`not json`)))
	})
}

func TestExactRouterDispatchesOnPayloadShape(t *testing.T) {
	primary := &recordingHandler{stubHandler: stubHandler{slug: x402.SchemeSlug{Version: 2, Namespace: "eip155", Scheme: "exact"}}}
	permit2 := &recordingHandler{stubHandler: stubHandler{slug: x402.SchemeSlug{Version: 2, Namespace: "eip155", Scheme: "exact"}}}
	router := NewExactRouter(primary, permit2)

	t.Run("routes erc3009 payloads to primary", func(t *testing.T) {
		_, err := router.Verify(context.Background(), x402.PaymentPayload{Payload: []byte(`{"authorization":{}}`)}, x402.PaymentRequirements{})
		require.NoError(t, err)
		assert.True(t, primary.verified)
		assert.False(t, permit2.verified)
	})

	t.Run("routes permit2 payloads to permit2 handler", func(t *testing.T) {
		primary.verified, permit2.verified = false, false
		_, err := router.Verify(context.Background(), x402.PaymentPayload{Payload: []byte(`{"permit2Authorization":{}}`)}, x402.PaymentRequirements{})
		require.NoError(t, err)
		assert.False(t, primary.verified)
		assert.True(t, permit2.verified)
	})

	t.Run("falls back to primary when no permit2 handler configured", func(t *testing.T) {
		soloRouter := NewExactRouter(primary, nil)
		primary.verified = false
		_, err := soloRouter.Verify(context.Background(), x402.PaymentPayload{Payload: []byte(`{"permit2Authorization":{}}`)}, x402.PaymentRequirements{})
		require.NoError(t, err)
		assert.True(t, primary.verified)
	})
}
