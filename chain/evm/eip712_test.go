package evm

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestERC3009DigestIsDeterministic(t *testing.T) {
	chainID := big.NewInt(84532)
	asset := common.HexToAddress("0x036CbD53842c5426634e7929541eC2318f3dCF7e")
	from := common.HexToAddress("0x1111111111111111111111111111111111111a")
	to := common.HexToAddress("0x209693Bc6afc0C5328bA36FaF03C514EF312287C")
	value := big.NewInt(10000)
	var nonce [32]byte
	nonce[31] = 1

	digest1, err := ERC3009Digest("USDC", "2", chainID, asset, from, to, value, 0, 1893456000, nonce)
	require.NoError(t, err)
	assert.Len(t, digest1, 32)

	digest2, err := ERC3009Digest("USDC", "2", chainID, asset, from, to, value, 0, 1893456000, nonce)
	require.NoError(t, err)
	assert.Equal(t, digest1, digest2, "same inputs must hash to the same digest")

	digest3, err := ERC3009Digest("USDC", "2", chainID, asset, from, to, big.NewInt(9999), 0, 1893456000, nonce)
	require.NoError(t, err)
	assert.NotEqual(t, digest1, digest3, "different value must change the digest")
}

func TestPermit2612DigestIsDeterministic(t *testing.T) {
	chainID := big.NewInt(8453)
	asset := common.HexToAddress("0x036CbD53842c5426634e7929541eC2318f3dCF7e")
	owner := common.HexToAddress("0x1111111111111111111111111111111111111a")
	spender := common.HexToAddress("0x209693Bc6afc0C5328bA36FaF03C514EF312287C")

	digest1, err := Permit2612Digest("USDC", "2", chainID, asset, owner, spender, big.NewInt(10000), big.NewInt(0), 1893456000)
	require.NoError(t, err)
	assert.Len(t, digest1, 32)

	digest2, err := Permit2612Digest("USDC", "2", chainID, asset, owner, spender, big.NewInt(10000), big.NewInt(1), 1893456000)
	require.NoError(t, err)
	assert.NotEqual(t, digest1, digest2, "different nonce must change the digest")
}

func TestPermit2WitnessDigestBindsRecipient(t *testing.T) {
	chainID := big.NewInt(8453)
	permit2 := common.HexToAddress("0x000000000022D473030F116dDEE9F6B43aC78BA")
	token := common.HexToAddress("0x036CbD53842c5426634e7929541eC2318f3dCF7e")
	spender := common.HexToAddress("0x209693Bc6afc0C5328bA36FaF03C514EF312287C")
	to1 := common.HexToAddress("0x1111111111111111111111111111111111111a")
	to2 := common.HexToAddress("0x2222222222222222222222222222222222222b")

	digest1, err := Permit2WitnessDigest(chainID, permit2, token, spender, big.NewInt(10000), big.NewInt(1), 1893456000, to1, 0)
	require.NoError(t, err)

	digest2, err := Permit2WitnessDigest(chainID, permit2, token, spender, big.NewInt(10000), big.NewInt(1), 1893456000, to2, 0)
	require.NoError(t, err)

	assert.NotEqual(t, digest1, digest2, "different witness recipient must change the digest")
}

func TestIsEIP6492(t *testing.T) {
	suffix := common.FromHex("6492649264926492649264926492649264926492649264926492649264926492")

	t.Run("detects wrapped signature", func(t *testing.T) {
		sig := append(make([]byte, 65), suffix...)
		assert.True(t, IsEIP6492(sig))
	})

	t.Run("plain 65-byte signature is not wrapped", func(t *testing.T) {
		assert.False(t, IsEIP6492(make([]byte, 65)))
	})

	t.Run("too-short input is not wrapped", func(t *testing.T) {
		assert.False(t, IsEIP6492(make([]byte, 10)))
	})
}
