package solana

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeSolanaKey(t *testing.T) {
	t.Run("rejects empty key", func(t *testing.T) {
		_, err := decodeSolanaKey("")
		assert.Error(t, err)
	})

	t.Run("decodes hex key with 0x prefix", func(t *testing.T) {
		decoded, err := decodeSolanaKey("0x0102030405")
		require.NoError(t, err)
		assert.Equal(t, []byte{0x01, 0x02, 0x03, 0x04, 0x05}, decoded)
	})

	t.Run("decodes hex key without prefix", func(t *testing.T) {
		decoded, err := decodeSolanaKey("0a0b0c")
		require.NoError(t, err)
		assert.Equal(t, []byte{0x0a, 0x0b, 0x0c}, decoded)
	})

	t.Run("rejects malformed input", func(t *testing.T) {
		_, err := decodeSolanaKey("not-a-valid-key!!")
		assert.Error(t, err)
	})
}

func TestIsAlreadyProcessed(t *testing.T) {
	t.Run("nil error is not already-processed", func(t *testing.T) {
		assert.False(t, isAlreadyProcessed(nil))
	})

	t.Run("matches regardless of case", func(t *testing.T) {
		assert.True(t, isAlreadyProcessed(errors.New("Transaction has ALREADY BEEN PROCESSED")))
	})

	t.Run("unrelated error is not already-processed", func(t *testing.T) {
		assert.False(t, isAlreadyProcessed(errors.New("blockhash not found")))
	})
}
