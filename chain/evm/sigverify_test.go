package evm

import (
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecoverEOA(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	want := crypto.PubkeyToAddress(key.PublicKey)

	digest := crypto.Keccak256([]byte("recover me"))

	t.Run("recovers the signer from a 27/28-style v byte", func(t *testing.T) {
		sig, err := crypto.Sign(digest, key)
		require.NoError(t, err)
		raised := make([]byte, 65)
		copy(raised, sig)
		raised[64] += 27

		got, err := RecoverEOA(digest, raised)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	})

	t.Run("recovers the signer from a 0/1-style v byte", func(t *testing.T) {
		sig, err := crypto.Sign(digest, key)
		require.NoError(t, err)

		got, err := RecoverEOA(digest, sig)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	})

	t.Run("rejects wrong-length signatures", func(t *testing.T) {
		_, err := RecoverEOA(digest, make([]byte, 64))
		assert.Error(t, err)
	})

	t.Run("mismatched digest recovers a different address", func(t *testing.T) {
		sig, err := crypto.Sign(digest, key)
		require.NoError(t, err)
		other := crypto.Keccak256([]byte("different message"))

		got, err := RecoverEOA(other, sig)
		require.NoError(t, err)
		assert.NotEqual(t, want, got)
	})
}
