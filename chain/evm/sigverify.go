package evm

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// eip6492Suffix marks a signature as ERC-6492 counterfactual-wallet wrapped.
var eip6492Suffix = common.FromHex("6492649264926492649264926492649264926492649264926492649264926492")

// IsEIP6492 reports whether sig carries the ERC-6492 wrapper suffix.
func IsEIP6492(sig []byte) bool {
	return len(sig) >= len(eip6492Suffix) && bytes.Equal(sig[len(sig)-len(eip6492Suffix):], eip6492Suffix)
}

const isValidSignatureABI = `[{"constant":true,"inputs":[{"name":"hash","type":"bytes32"},{"name":"signature","type":"bytes"}],"name":"isValidSignature","outputs":[{"name":"","type":"bytes4"}],"stateMutability":"view","type":"function"}]`

var eip1271MagicValue = [4]byte{0x16, 0x26, 0xba, 0x7e}

// RecoverEOA recovers the signing address from a 65-byte ECDSA signature over digest.
func RecoverEOA(digest, sig []byte) (common.Address, error) {
	if len(sig) != 65 {
		return common.Address{}, fmt.Errorf("signature must be 65 bytes, got %d", len(sig))
	}
	normalized := make([]byte, 65)
	copy(normalized, sig)
	if normalized[64] >= 27 {
		normalized[64] -= 27
	}
	pub, err := crypto.SigToPub(digest, normalized)
	if err != nil {
		return common.Address{}, fmt.Errorf("recover signer: %w", err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// VerifyContractWallet calls isValidSignature(digest, sig) per EIP-1271 and
// reports whether the wallet accepted the signature.
func VerifyContractWallet(ctx context.Context, p *Provider, wallet common.Address, digest, sig []byte) (bool, error) {
	parsedABI, err := abi.JSON(strings.NewReader(isValidSignatureABI))
	if err != nil {
		return false, fmt.Errorf("parse isValidSignature abi: %w", err)
	}
	var digest32 [32]byte
	copy(digest32[:], digest)
	data, err := parsedABI.Pack("isValidSignature", digest32, sig)
	if err != nil {
		return false, fmt.Errorf("pack isValidSignature: %w", err)
	}
	client, err := p.client(ctx)
	if err != nil {
		return false, err
	}
	out, err := client.CallContract(ctx, ethereum.CallMsg{To: &wallet, Data: data}, nil)
	if err != nil {
		return false, fmt.Errorf("call isValidSignature: %w", err)
	}
	if len(out) < 4 {
		return false, nil
	}
	var got [4]byte
	copy(got[:], out[:4])
	return got == eip1271MagicValue, nil
}

// VerifySignature verifies sig over digest against expectedSigner, trying EOA
// recovery first and falling back to EIP-1271 for contract wallets.
func VerifySignature(ctx context.Context, p *Provider, expectedSigner common.Address, digest, sig []byte) (bool, error) {
	if recovered, err := RecoverEOA(digest, sig); err == nil && recovered == expectedSigner {
		return true, nil
	}
	return VerifyContractWallet(ctx, p, expectedSigner, digest, sig)
}
