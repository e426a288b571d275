// Package evmexact implements the v2:eip155:exact scheme handler: ERC-3009
// transferWithAuthorization verification and settlement.
package evmexact

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	chainevm "github.com/gosuda/x402-facilitator/chain/evm"
	"github.com/gosuda/x402-facilitator/scheme"
	x402 "github.com/gosuda/x402-facilitator/types"
)

const erc3009ABI = `[
{"constant":true,"inputs":[{"name":"owner","type":"address"}],"name":"balanceOf","outputs":[{"name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
{"constant":true,"inputs":[{"name":"authorizer","type":"address"},{"name":"nonce","type":"bytes32"}],"name":"authorizationState","outputs":[{"name":"","type":"bool"}],"stateMutability":"view","type":"function"},
{"constant":false,"inputs":[{"name":"from","type":"address"},{"name":"to","type":"address"},{"name":"value","type":"uint256"},{"name":"validAfter","type":"uint256"},{"name":"validBefore","type":"uint256"},{"name":"nonce","type":"bytes32"},{"name":"v","type":"uint8"},{"name":"r","type":"bytes32"},{"name":"s","type":"bytes32"}],"name":"transferWithAuthorization","outputs":[],"stateMutability":"nonpayable","type":"function"}
]`

// validityBuffer is the safety margin subtracted from validBefore to survive
// block latency between verify and on-chain inclusion.
const validityBuffer = 6 * time.Second

type authorization struct {
	From        string `json:"from"`
	To          string `json:"to"`
	Value       string `json:"value"`
	ValidAfter  string `json:"validAfter"`
	ValidBefore string `json:"validBefore"`
	Nonce       string `json:"nonce"`
}

type payload struct {
	Signature     string        `json:"signature"`
	Authorization authorization `json:"authorization"`
}

type tokenExtra struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// Handler implements the exact (ERC-3009) scheme against one EVM chain.
type Handler struct {
	chain       x402.ChainId
	provider    *chainevm.Provider
	parsedABI   abi.ABI
	nowFunc     func() time.Time
}

func New(chain x402.ChainId, provider *chainevm.Provider) (*Handler, error) {
	parsedABI, err := abi.JSON(strings.NewReader(erc3009ABI))
	if err != nil {
		return nil, fmt.Errorf("evmexact: parse abi: %w", err)
	}
	return &Handler{chain: chain, provider: provider, parsedABI: parsedABI, nowFunc: time.Now}, nil
}

func (h *Handler) Slug() x402.SchemeSlug {
	return x402.SchemeSlug{Version: 2, Namespace: "eip155", Scheme: "exact"}
}

func (h *Handler) Advertise() x402.SupportedKind {
	return x402.SupportedKind{X402Version: 2, Scheme: "exact", Network: h.chain.String()}
}

func (h *Handler) Signers() []string {
	return h.provider.SignerAddresses()
}

// parse decodes payload and requirements into the concrete shapes this
// handler understands, and checks envelope well-formedness (spec step 1).
func (h *Handler) parse(payload_ x402.PaymentPayload, reqs x402.PaymentRequirements) (payload, tokenExtra, *big.Int, error) {
	var p payload
	if err := json.Unmarshal(payload_.Payload, &p); err != nil {
		return payload{}, tokenExtra{}, nil, fmt.Errorf("invalid format: %w", err)
	}
	if payload_.Scheme != "exact" || reqs.Scheme != "exact" {
		return payload{}, tokenExtra{}, nil, fmt.Errorf("scheme mismatch")
	}
	if payload_.Network != reqs.Network || payload_.Network != h.chain.String() {
		return payload{}, tokenExtra{}, nil, fmt.Errorf("chain mismatch")
	}
	var extra tokenExtra
	if len(reqs.Extra) > 0 {
		if err := json.Unmarshal(reqs.Extra, &extra); err != nil {
			return payload{}, tokenExtra{}, nil, fmt.Errorf("invalid format: %w", err)
		}
	}
	amount, ok := new(big.Int).SetString(reqs.MaxAmountRequired, 10)
	if !ok {
		return payload{}, tokenExtra{}, nil, fmt.Errorf("invalid format: amount")
	}
	return p, extra, amount, nil
}

func invalid(reason x402.Reason, detail string) (scheme.VerifyOutcome, error) {
	return scheme.VerifyOutcome{Valid: false, Reason: reason, Detail: detail}, nil
}

// Verify implements the §4.3 check sequence in order.
func (h *Handler) Verify(ctx context.Context, payload_ x402.PaymentPayload, reqs x402.PaymentRequirements) (scheme.VerifyOutcome, error) {
	p, extra, amount, err := h.parse(payload_, reqs)
	if err != nil {
		return invalid(x402.ReasonInvalidFormat, err.Error())
	}

	value, ok := new(big.Int).SetString(p.Authorization.Value, 10)
	if !ok || value.Sign() <= 0 {
		return invalid(x402.ReasonInvalidPaymentAmount, "authorization value is not a positive integer")
	}
	if value.Cmp(amount) != 0 {
		return invalid(x402.ReasonInvalidPaymentAmount, "authorization.value must equal requirements.amount for exact")
	}

	validAfter, okA := new(big.Int).SetString(p.Authorization.ValidAfter, 10)
	validBefore, okB := new(big.Int).SetString(p.Authorization.ValidBefore, 10)
	if !okA || !okB {
		return invalid(x402.ReasonInvalidFormat, "invalid validity window")
	}
	now := h.nowFunc()
	if validBefore.Int64() <= now.Add(validityBuffer).Unix() {
		return invalid(x402.ReasonExpired, "validBefore within safety buffer of now")
	}
	if validAfter.Int64() > now.Unix() {
		return invalid(x402.ReasonNotYetValid, "validAfter is in the future")
	}

	from := common.HexToAddress(p.Authorization.From)
	to := common.HexToAddress(p.Authorization.To)
	payTo := common.HexToAddress(reqs.PayTo)
	if to != payTo {
		return invalid(x402.ReasonRecipientMismatch, "authorization.to does not match requirements.payTo")
	}

	asset := common.HexToAddress(reqs.Asset)

	nonceBytes := common.FromHex(p.Authorization.Nonce)
	if len(nonceBytes) != 32 {
		return invalid(x402.ReasonInvalidFormat, "nonce must be 32 bytes")
	}
	var nonce [32]byte
	copy(nonce[:], nonceBytes)

	digest, err := chainevm.ERC3009Digest(extra.Name, extra.Version, h.provider.ChainID(), asset, from, to, value, validAfter.Int64(), validBefore.Int64(), nonce)
	if err != nil {
		return invalid(x402.ReasonInvalidFormat, fmt.Sprintf("digest: %v", err))
	}
	sig := common.FromHex(p.Signature)
	if chainevm.IsEIP6492(sig) {
		// A 6492 wrapper's first 65 bytes are the ABI-encoded (factory,
		// factoryCalldata, signature) tuple's head, not the signature itself;
		// verifying a counterfactual wallet would require deploying it first.
		// That is out of scope here, so reject rather than recover garbage.
		return invalid(x402.ReasonInvalidSignature, "EIP-6492 counterfactual signatures are not accepted for exact")
	}
	ok, err := chainevm.VerifySignature(ctx, h.provider, from, digest, sig)
	if err != nil {
		return invalid(x402.ReasonInvalidSignature, err.Error())
	}
	if !ok {
		return invalid(x402.ReasonInvalidSignature, "signature does not recover to authorization.from")
	}

	balanceOut, err := h.provider.ReadContract(ctx, asset, h.parsedABI, "balanceOf", from)
	if err != nil {
		return scheme.VerifyOutcome{}, fmt.Errorf("evmexact: read balance: %w", err)
	}
	balance := balanceOut[0].(*big.Int)
	if balance.Cmp(value) < 0 {
		return invalid(x402.ReasonInsufficientBalance, "payer balance below authorization value")
	}

	usedOut, err := h.provider.ReadContract(ctx, asset, h.parsedABI, "authorizationState", from, nonce)
	if err != nil {
		return scheme.VerifyOutcome{}, fmt.Errorf("evmexact: read authorizationState: %w", err)
	}
	if usedOut[0].(bool) {
		return invalid(x402.ReasonNonceAlreadyUsed, "authorization nonce already consumed")
	}

	return scheme.VerifyOutcome{Valid: true, Payer: from.Hex()}, nil
}

// Settle re-runs verification in full (settlement never trusts a prior
// verify call), then submits transferWithAuthorization.
func (h *Handler) Settle(ctx context.Context, payload_ x402.PaymentPayload, reqs x402.PaymentRequirements) (scheme.SettleOutcome, error) {
	v, err := h.Verify(ctx, payload_, reqs)
	if err != nil {
		return scheme.SettleOutcome{}, err
	}
	if !v.Valid {
		if v.Reason == x402.ReasonNonceAlreadyUsed {
			// Benign: a prior settlement likely already consumed this nonce.
			return scheme.SettleOutcome{Success: true, Payer: v.Payer, Network: h.chain.String()}, nil
		}
		return scheme.SettleOutcome{Success: false, Payer: v.Payer, Reason: v.Reason, Detail: v.Detail, Network: h.chain.String()}, nil
	}

	var p payload
	if err := json.Unmarshal(payload_.Payload, &p); err != nil {
		return scheme.SettleOutcome{}, fmt.Errorf("evmexact: re-parse payload: %w", err)
	}
	value, _ := new(big.Int).SetString(p.Authorization.Value, 10)
	validAfter, _ := new(big.Int).SetString(p.Authorization.ValidAfter, 10)
	validBefore, _ := new(big.Int).SetString(p.Authorization.ValidBefore, 10)
	from := common.HexToAddress(p.Authorization.From)
	to := common.HexToAddress(p.Authorization.To)
	asset := common.HexToAddress(reqs.Asset)
	sig := common.FromHex(p.Signature)
	if len(sig) != 65 {
		return scheme.SettleOutcome{Success: false, Reason: x402.ReasonInvalidSignature, Network: h.chain.String()}, nil
	}
	r := [32]byte{}
	s := [32]byte{}
	copy(r[:], sig[0:32])
	copy(s[:], sig[32:64])
	vByte := sig[64]
	if vByte < 27 {
		vByte += 27
	}

	nonceBytes := common.FromHex(p.Authorization.Nonce)
	var nonce [32]byte
	copy(nonce[:], nonceBytes)

	signers := h.provider.SignerAddresses()
	if len(signers) == 0 {
		return scheme.SettleOutcome{}, fmt.Errorf("evmexact: no signers configured for %s", h.chain)
	}
	signer, _ := h.provider.SignerFor(common.HexToAddress(signers[0]))

	txHash, err := h.provider.WriteContract(ctx, signer, asset, h.parsedABI, "transferWithAuthorization",
		from, to, value, validAfter, validBefore, nonce, vByte, r, s)
	if err != nil {
		return scheme.SettleOutcome{Success: false, Payer: v.Payer, Reason: x402.ReasonTransferFailed, Detail: err.Error(), Network: h.chain.String()}, nil
	}

	return scheme.SettleOutcome{Success: true, Payer: v.Payer, Transaction: txHash.Hex(), Network: h.chain.String()}, nil
}
