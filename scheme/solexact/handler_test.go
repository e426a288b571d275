package solexact

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeTransferChecked(t *testing.T) {
	t.Run("decodes amount from a well-formed instruction", func(t *testing.T) {
		// discriminator 12, amount 1_000_000 little-endian, decimals 6
		data := []byte{12, 0x40, 0x42, 0x0f, 0, 0, 0, 0, 0, 6}
		decoded, err := decodeTransferChecked(data)
		require.NoError(t, err)
		assert.Equal(t, uint64(1_000_000), decoded.Amount)
		assert.Equal(t, uint8(6), decoded.Decimals)
	})

	t.Run("rejects wrong discriminator", func(t *testing.T) {
		data := []byte{3, 0, 0, 0, 0, 0, 0, 0, 0, 6}
		_, err := decodeTransferChecked(data)
		assert.Error(t, err)
	})

	t.Run("rejects short data", func(t *testing.T) {
		_, err := decodeTransferChecked([]byte{12, 1, 2})
		assert.Error(t, err)
	})
}

func TestDecodeComputeBudget(t *testing.T) {
	t.Run("decodes unit limit and price", func(t *testing.T) {
		limitData := []byte{2, 0x40, 0x0d, 0x03, 0} // 200_000
		priceData := []byte{3, 0x40, 0x42, 0x0f, 0, 0, 0, 0, 0} // 1_000_000
		limit, price, err := decodeComputeBudget(limitData, priceData)
		require.NoError(t, err)
		assert.Equal(t, uint32(200_000), limit)
		assert.Equal(t, uint64(1_000_000), price)
	})

	t.Run("rejects wrong discriminators", func(t *testing.T) {
		_, _, err := decodeComputeBudget([]byte{1, 0, 0, 0, 0}, []byte{3, 0, 0, 0, 0, 0, 0, 0, 0})
		assert.Error(t, err)
	})
}

func TestParseUint64(t *testing.T) {
	t.Run("parses decimal digits", func(t *testing.T) {
		n, ok := parseUint64("1000000")
		assert.True(t, ok)
		assert.Equal(t, uint64(1_000_000), n)
	})

	t.Run("rejects empty string", func(t *testing.T) {
		_, ok := parseUint64("")
		assert.False(t, ok)
	})

	t.Run("rejects non-digit characters", func(t *testing.T) {
		_, ok := parseUint64("100x")
		assert.False(t, ok)
	})
}

func TestContains(t *testing.T) {
	list := []string{"a", "b", "c"}
	assert.True(t, contains(list, "b"))
	assert.False(t, contains(list, "z"))
	assert.False(t, contains(nil, "a"))
}
