package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseChainId(t *testing.T) {
	t.Run("valid eip155 chain id", func(t *testing.T) {
		chain, err := ParseChainId("eip155:84532")
		require.NoError(t, err)
		assert.Equal(t, "eip155", chain.Namespace)
		assert.Equal(t, "84532", chain.Reference)
		assert.Equal(t, "eip155:84532", chain.String())
	})

	t.Run("valid solana chain id", func(t *testing.T) {
		chain, err := ParseChainId("solana:EtWTRABZaYq6iMfeYKouRu166VU2xqa1")
		require.NoError(t, err)
		assert.Equal(t, "solana", chain.Namespace)
		assert.Equal(t, "EtWTRABZaYq6iMfeYKouRu166VU2xqa1", chain.Reference)
	})

	t.Run("missing colon is an error", func(t *testing.T) {
		_, err := ParseChainId("base-sepolia")
		assert.Error(t, err)
	})

	t.Run("empty namespace is an error", func(t *testing.T) {
		_, err := ParseChainId(":84532")
		assert.Error(t, err)
	})

	t.Run("empty reference is an error", func(t *testing.T) {
		_, err := ParseChainId("eip155:")
		assert.Error(t, err)
	})
}

func TestChainIdIsZero(t *testing.T) {
	assert.True(t, ChainId{}.IsZero())
	assert.False(t, ChainId{Namespace: "eip155", Reference: "8453"}.IsZero())
}

func TestSchemeSlugString(t *testing.T) {
	slug := SchemeSlug{Version: 2, Namespace: "eip155", Scheme: "exact"}
	assert.Equal(t, "v2:eip155:exact", slug.String())
}

func TestMatchesChainPattern(t *testing.T) {
	base := ChainId{Namespace: "eip155", Reference: "8453"}

	t.Run("exact match", func(t *testing.T) {
		assert.True(t, MatchesChainPattern("eip155:8453", base))
	})

	t.Run("wildcard reference matches any reference in namespace", func(t *testing.T) {
		assert.True(t, MatchesChainPattern("eip155:*", base))
	})

	t.Run("wrong namespace never matches", func(t *testing.T) {
		assert.False(t, MatchesChainPattern("solana:*", base))
	})

	t.Run("wrong reference does not match", func(t *testing.T) {
		assert.False(t, MatchesChainPattern("eip155:1", base))
	})

	t.Run("malformed pattern does not match", func(t *testing.T) {
		assert.False(t, MatchesChainPattern("eip155", base))
	})
}
