package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	x402 "github.com/gosuda/x402-facilitator/types"
)

func TestNetworkNameToChainID(t *testing.T) {
	t.Run("known name maps to CAIP-2 id", func(t *testing.T) {
		chain, err := NetworkNameToChainID("base-sepolia")
		require.NoError(t, err)
		assert.Equal(t, x402.ChainId{Namespace: "eip155", Reference: "84532"}, chain)
	})

	t.Run("unknown name is rejected", func(t *testing.T) {
		_, err := NetworkNameToChainID("ethereum-mainnet")
		assert.Error(t, err)
	})
}

func TestChainIDToNetworkNameRoundTrip(t *testing.T) {
	for name, chain := range networkNames {
		got, err := ChainIDToNetworkName(chain)
		require.NoError(t, err)
		assert.Equal(t, name, got)
	}
}

func TestChainIDToNetworkNameUnmapped(t *testing.T) {
	_, err := ChainIDToNetworkName(x402.ChainId{Namespace: "eip155", Reference: "1"})
	assert.Error(t, err)
}

func TestDecodeRequirementsV1(t *testing.T) {
	v1 := RequirementV1{
		Scheme:            "exact",
		Network:           "base-sepolia",
		MaxAmountRequired: "10000",
		Resource:          "https://example.com/resource",
		PayTo:             "0x209693Bc6afc0C5328bA36FaF03C514EF312287C",
		Asset:             "0x036CbD53842c5426634e7929541eC2318f3dCF7e",
		MaxTimeoutSeconds: 60,
	}
	reqs, err := DecodeRequirementsV1(v1)
	require.NoError(t, err)
	assert.Equal(t, "eip155:84532", reqs.Network)
	assert.Equal(t, "10000", reqs.MaxAmountRequired)
	assert.Equal(t, v1.Resource, reqs.Resource)
}

func TestEncodeRequirementsV1(t *testing.T) {
	reqs := x402.PaymentRequirements{
		Scheme:            "exact",
		Network:           "eip155:8453",
		MaxAmountRequired: "5000",
		PayTo:             "0xabc",
		Asset:             "0xdef",
		MaxTimeoutSeconds: 30,
	}
	v1, err := EncodeRequirementsV1(reqs)
	require.NoError(t, err)
	assert.Equal(t, "base", v1.Network)
	assert.Equal(t, "5000", v1.MaxAmountRequired)
}

func TestEncodeRequirementsV1UnsupportedChain(t *testing.T) {
	reqs := x402.PaymentRequirements{Network: "eip155:1"}
	_, err := EncodeRequirementsV1(reqs)
	assert.Error(t, err)
}

func TestDecodePayloadV1(t *testing.T) {
	v1 := PaymentPayloadV1{X402Version: 1, Scheme: "exact", Network: "solana-devnet", Payload: []byte(`{"transaction":"abc"}`)}
	payload, err := DecodePayloadV1(v1)
	require.NoError(t, err)
	assert.Equal(t, "solana:EtWTRABZaYq6iMfeYKouRu166VU2xqa1", payload.Network)
	assert.Equal(t, "exact", payload.Scheme)
}

func TestDecodePayloadV1UnsupportedNetwork(t *testing.T) {
	_, err := DecodePayloadV1(PaymentPayloadV1{Network: "polygon"})
	assert.Error(t, err)
}
