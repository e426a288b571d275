package evm

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// ERC3009Digest recomputes the EIP-712 digest for a transferWithAuthorization
// authorization, using the token's declared domain name/version.
func ERC3009Digest(domainName, domainVersion string, chainID *big.Int, verifyingContract, from, to common.Address, value *big.Int, validAfter, validBefore int64, nonce [32]byte) ([]byte, error) {
	td := apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": {
				{Name: "name", Type: "string"},
				{Name: "version", Type: "string"},
				{Name: "chainId", Type: "uint256"},
				{Name: "verifyingContract", Type: "address"},
			},
			"TransferWithAuthorization": {
				{Name: "from", Type: "address"},
				{Name: "to", Type: "address"},
				{Name: "value", Type: "uint256"},
				{Name: "validAfter", Type: "uint256"},
				{Name: "validBefore", Type: "uint256"},
				{Name: "nonce", Type: "bytes32"},
			},
		},
		PrimaryType: "TransferWithAuthorization",
		Domain: apitypes.TypedDataDomain{
			Name:              domainName,
			Version:           domainVersion,
			ChainId:           math.NewHexOrDecimal256(chainID.Int64()),
			VerifyingContract: verifyingContract.Hex(),
		},
		Message: apitypes.TypedDataMessage{
			"from":        from.Hex(),
			"to":          to.Hex(),
			"value":       value.String(),
			"validAfter":  fmt.Sprintf("%d", validAfter),
			"validBefore": fmt.Sprintf("%d", validBefore),
			"nonce":       hexutil.Encode(nonce[:]),
		},
	}
	return hashTypedData(td)
}

// Permit2612Digest recomputes the EIP-712 digest for an EIP-2612 Permit.
func Permit2612Digest(domainName, domainVersion string, chainID *big.Int, verifyingContract, owner, spender common.Address, value, nonce *big.Int, deadline int64) ([]byte, error) {
	td := apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": {
				{Name: "name", Type: "string"},
				{Name: "version", Type: "string"},
				{Name: "chainId", Type: "uint256"},
				{Name: "verifyingContract", Type: "address"},
			},
			"Permit": {
				{Name: "owner", Type: "address"},
				{Name: "spender", Type: "address"},
				{Name: "value", Type: "uint256"},
				{Name: "nonce", Type: "uint256"},
				{Name: "deadline", Type: "uint256"},
			},
		},
		PrimaryType: "Permit",
		Domain: apitypes.TypedDataDomain{
			Name:              domainName,
			Version:           domainVersion,
			ChainId:           math.NewHexOrDecimal256(chainID.Int64()),
			VerifyingContract: verifyingContract.Hex(),
		},
		Message: apitypes.TypedDataMessage{
			"owner":    owner.Hex(),
			"spender":  spender.Hex(),
			"value":    value.String(),
			"nonce":    nonce.String(),
			"deadline": fmt.Sprintf("%d", deadline),
		},
	}
	return hashTypedData(td)
}

// Permit2WitnessDigest recomputes the PermitWitnessTransferFrom digest for the
// Permit2 exact scheme, binding recipient and validity window into the witness
// so a signature cannot be replayed against a different recipient or window.
func Permit2WitnessDigest(chainID *big.Int, permit2Address, token, spender common.Address, amount, nonce *big.Int, deadline int64, to common.Address, validAfter int64) ([]byte, error) {
	td := apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": {
				{Name: "name", Type: "string"},
				{Name: "chainId", Type: "uint256"},
				{Name: "verifyingContract", Type: "address"},
			},
			"TokenPermissions": {
				{Name: "token", Type: "address"},
				{Name: "amount", Type: "uint256"},
			},
			"PermitWitnessTransferFrom": {
				{Name: "permitted", Type: "TokenPermissions"},
				{Name: "spender", Type: "address"},
				{Name: "nonce", Type: "uint256"},
				{Name: "deadline", Type: "uint256"},
				{Name: "witness", Type: "PaymentWitness"},
			},
			"PaymentWitness": {
				{Name: "to", Type: "address"},
				{Name: "validAfter", Type: "uint256"},
			},
		},
		PrimaryType: "PermitWitnessTransferFrom",
		Domain: apitypes.TypedDataDomain{
			Name:              "Permit2",
			ChainId:           math.NewHexOrDecimal256(chainID.Int64()),
			VerifyingContract: permit2Address.Hex(),
		},
		Message: apitypes.TypedDataMessage{
			"permitted": map[string]interface{}{
				"token":  token.Hex(),
				"amount": amount.String(),
			},
			"spender":  spender.Hex(),
			"nonce":    nonce.String(),
			"deadline": fmt.Sprintf("%d", deadline),
			"witness": map[string]interface{}{
				"to":         to.Hex(),
				"validAfter": fmt.Sprintf("%d", validAfter),
			},
		},
	}
	return hashTypedData(td)
}

// PaymentWitnessHash computes the hash of the witness struct carried in a
// Permit2 PermitWitnessTransferFrom call. Permit2 does not recompute this
// from its arguments: the caller supplies `witness` as an opaque bytes32 and
// `witnessTypeString` describing its layout, and the contract folds both
// straight into the outer PermitWitnessTransferFrom digest. Passing the
// wrong hash here produces a digest the signer never signed.
func PaymentWitnessHash(to common.Address, validAfter int64) ([32]byte, error) {
	td := apitypes.TypedData{
		Types: apitypes.Types{
			"PaymentWitness": {
				{Name: "to", Type: "address"},
				{Name: "validAfter", Type: "uint256"},
			},
		},
		PrimaryType: "PaymentWitness",
	}
	hash, err := td.HashStruct("PaymentWitness", apitypes.TypedDataMessage{
		"to":         to.Hex(),
		"validAfter": fmt.Sprintf("%d", validAfter),
	})
	if err != nil {
		return [32]byte{}, fmt.Errorf("hash witness struct: %w", err)
	}
	var out [32]byte
	copy(out[:], hash)
	return out, nil
}

func hashTypedData(td apitypes.TypedData) ([]byte, error) {
	domainSeparator, err := td.HashStruct("EIP712Domain", td.Domain.Map())
	if err != nil {
		return nil, fmt.Errorf("hash domain: %w", err)
	}
	messageHash, err := td.HashStruct(td.PrimaryType, td.Message)
	if err != nil {
		return nil, fmt.Errorf("hash message: %w", err)
	}
	rawData := append([]byte{0x19, 0x01}, append(domainSeparator, messageHash...)...)
	return crypto.Keccak256(rawData), nil
}
