// Package evmupto implements the v2:eip155:upto scheme handler: EIP-2612
// permit + transferFrom, with settling-signer pinned to the permit's spender.
package evmupto

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

const eip2612ABI = `[
{"constant":true,"inputs":[{"name":"owner","type":"address"}],"name":"nonces","outputs":[{"name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
{"constant":true,"inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],"name":"allowance","outputs":[{"name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
{"constant":false,"inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"},{"name":"value","type":"uint256"},{"name":"deadline","type":"uint256"},{"name":"v","type":"uint8"},{"name":"r","type":"bytes32"},{"name":"s","type":"bytes32"}],"name":"permit","outputs":[],"stateMutability":"nonpayable","type":"function"},
{"constant":false,"inputs":[{"name":"from","type":"address"},{"name":"to","type":"address"},{"name":"value","type":"uint256"}],"name":"transferFrom","outputs":[{"name":"","type":"bool"}],"stateMutability":"nonpayable","type":"function"}
]`

const minDeadlineSkew = 6 * time.Second

type authorization struct {
	From        string `json:"from"`
	To          string `json:"to"`
	Value       string `json:"value"`
	Nonce       string `json:"nonce"`
	ValidBefore string `json:"validBefore"`
}

type payload struct {
	Signature     string        `json:"signature"`
	Authorization authorization `json:"authorization"`
}

type tokenExtra struct {
	Name             string `json:"name"`
	Version          string `json:"version"`
	MaxAmountRequired string `json:"maxAmountRequired"`
}

// Handler implements the upto (EIP-2612 permit + transferFrom) scheme against
// one EVM chain.
type Handler struct {
	chain     x402.ChainId
	provider  *chainevm.Provider
	parsedABI abi.ABI
	nowFunc   func() time.Time
}

func New(chain x402.ChainId, provider *chainevm.Provider) (*Handler, error) {
	parsedABI, err := abi.JSON(strings.NewReader(eip2612ABI))
	if err != nil {
		return nil, fmt.Errorf("evmupto: parse abi: %w", err)
	}
	return &Handler{chain: chain, provider: provider, parsedABI: parsedABI, nowFunc: time.Now}, nil
}

func (h *Handler) Slug() x402.SchemeSlug {
	return x402.SchemeSlug{Version: 2, Namespace: "eip155", Scheme: "upto"}
}

func (h *Handler) Advertise() x402.SupportedKind {
	return x402.SupportedKind{X402Version: 2, Scheme: "upto", Network: h.chain.String()}
}

func (h *Handler) Signers() []string {
	return h.provider.SignerAddresses()
}

func invalid(reason x402.Reason, detail string) (scheme.VerifyOutcome, error) {
	return scheme.VerifyOutcome{Valid: false, Reason: reason, Detail: detail}, nil
}

// Verify implements the §4.4 check sequence: cap check, spender-is-signer
// check, deadline, nonce-or-allowance-fallback, and signature validity.
func (h *Handler) Verify(ctx context.Context, payload_ x402.PaymentPayload, reqs x402.PaymentRequirements) (scheme.VerifyOutcome, error) {
	if payload_.Scheme != "upto" || reqs.Scheme != "upto" {
		return invalid(x402.ReasonInvalidFormat, "scheme mismatch")
	}
	if payload_.Network != reqs.Network || payload_.Network != h.chain.String() {
		return invalid(x402.ReasonChainIdMismatch, "chain mismatch")
	}
	var p payload
	if err := json.Unmarshal(payload_.Payload, &p); err != nil {
		return invalid(x402.ReasonInvalidFormat, err.Error())
	}
	var extra tokenExtra
	if len(reqs.Extra) > 0 {
		_ = json.Unmarshal(reqs.Extra, &extra)
	}

	amount, ok := new(big.Int).SetString(reqs.MaxAmountRequired, 10)
	if !ok || amount.Sign() <= 0 {
		return invalid(x402.ReasonInvalidFormat, "invalid requirements amount")
	}
	value, ok := new(big.Int).SetString(p.Authorization.Value, 10)
	if !ok || value.Sign() <= 0 {
		return invalid(x402.ReasonInvalidPaymentAmount, "permit value is not a positive integer")
	}
	if value.Cmp(amount) < 0 {
		return invalid(x402.ReasonInvalidPaymentAmount, "permit.value below requirements.amount")
	}
	if extra.MaxAmountRequired != "" {
		if maxReq, ok := new(big.Int).SetString(extra.MaxAmountRequired, 10); ok && value.Cmp(maxReq) < 0 {
			return invalid(x402.ReasonInvalidPaymentAmount, "permit.value below extra.maxAmountRequired")
		}
	}

	owner := common.HexToAddress(p.Authorization.From)
	spender := common.HexToAddress(p.Authorization.To)
	if _, isSigner := h.provider.SignerFor(spender); !isSigner {
		return invalid(x402.ReasonRecipientMismatch, "permit.spender is not a facilitator signer")
	}

	deadline, ok := new(big.Int).SetString(p.Authorization.ValidBefore, 10)
	if !ok {
		return invalid(x402.ReasonInvalidFormat, "invalid deadline")
	}
	now := h.nowFunc()
	if deadline.Int64() < now.Add(minDeadlineSkew).Unix() {
		return invalid(x402.ReasonExpired, "deadline within safety buffer of now")
	}

	asset := common.HexToAddress(reqs.Asset)
	sig := common.FromHex(p.Signature)
	if chainevm.IsEIP6492(sig) {
		// Counterfactual wallets must deploy first for upto; 6492 is rejected.
		return invalid(x402.ReasonInvalidSignature, "EIP-6492 counterfactual signatures are not accepted for upto")
	}

	nonceOut, err := h.provider.ReadContract(ctx, asset, h.parsedABI, "nonces", owner)
	if err != nil {
		return scheme.VerifyOutcome{}, fmt.Errorf("evmupto: read nonces: %w", err)
	}
	onChainNonce := nonceOut[0].(*big.Int)
	requestNonce, ok := new(big.Int).SetString(p.Authorization.Nonce, 10)
	if !ok {
		return invalid(x402.ReasonInvalidFormat, "invalid nonce")
	}

	if onChainNonce.Cmp(requestNonce) != 0 {
		// This permit may already have been consumed by a prior settlement
		// under the same cap; fall back to checking remaining allowance.
		allowanceOut, err := h.provider.ReadContract(ctx, asset, h.parsedABI, "allowance", owner, spender)
		if err != nil {
			return scheme.VerifyOutcome{}, fmt.Errorf("evmupto: read allowance: %w", err)
		}
		allowance := allowanceOut[0].(*big.Int)
		if allowance.Cmp(amount) < 0 {
			return invalid(x402.ReasonPermit2AllowanceRequired, "permit nonce stale and remaining allowance insufficient")
		}
	}

	digest, err := chainevm.Permit2612Digest(extra.Name, extra.Version, h.provider.ChainID(), asset, owner, spender, value, requestNonce, deadline.Int64())
	if err != nil {
		return invalid(x402.ReasonInvalidFormat, fmt.Sprintf("digest: %v", err))
	}
	ok2, err := chainevm.VerifySignature(ctx, h.provider, owner, digest, sig)
	if err != nil {
		return invalid(x402.ReasonInvalidSignature, err.Error())
	}
	if !ok2 {
		return invalid(x402.ReasonInvalidSignature, "signature does not recover to permit owner")
	}

	return scheme.VerifyOutcome{Valid: true, Payer: owner.Hex()}, nil
}

// Settle runs the two-phase flow of §4.4: permit (unless already consumed
// with sufficient remaining allowance), then transferFrom from the pinned
// spender signer — never a round-robin selection.
func (h *Handler) Settle(ctx context.Context, payload_ x402.PaymentPayload, reqs x402.PaymentRequirements) (scheme.SettleOutcome, error) {
	v, err := h.Verify(ctx, payload_, reqs)
	if err != nil {
		return scheme.SettleOutcome{}, err
	}
	if !v.Valid {
		return scheme.SettleOutcome{Success: false, Payer: v.Payer, Reason: v.Reason, Detail: v.Detail, Network: h.chain.String()}, nil
	}

	var p payload
	_ = json.Unmarshal(payload_.Payload, &p)
	var extra tokenExtra
	if len(reqs.Extra) > 0 {
		_ = json.Unmarshal(reqs.Extra, &extra)
	}

	owner := common.HexToAddress(p.Authorization.From)
	spender := common.HexToAddress(p.Authorization.To)
	asset := common.HexToAddress(reqs.Asset)
	value, _ := new(big.Int).SetString(p.Authorization.Value, 10)
	deadline, _ := new(big.Int).SetString(p.Authorization.ValidBefore, 10)
	amount, _ := new(big.Int).SetString(reqs.MaxAmountRequired, 10)

	spenderSigner, ok := h.provider.SignerFor(spender)
	if !ok {
		return scheme.SettleOutcome{}, fmt.Errorf("evmupto: spender %s is not a known signer", spender)
	}

	nonceOut, err := h.provider.ReadContract(ctx, asset, h.parsedABI, "nonces", owner)
	if err != nil {
		return scheme.SettleOutcome{}, fmt.Errorf("evmupto: read nonces: %w", err)
	}
	onChainNonce := nonceOut[0].(*big.Int)
	requestNonce, _ := new(big.Int).SetString(p.Authorization.Nonce, 10)

	if onChainNonce.Cmp(requestNonce) == 0 {
		sig := common.FromHex(p.Signature)
		r := [32]byte{}
		s := [32]byte{}
		copy(r[:], sig[0:32])
		copy(s[:], sig[32:64])
		vByte := sig[64]
		if vByte < 27 {
			vByte += 27
		}
		if _, err := h.provider.WriteContract(ctx, spenderSigner, asset, h.parsedABI, "permit", owner, spender, value, deadline, vByte, r, s); err != nil {
			allowanceOut, readErr := h.provider.ReadContract(ctx, asset, h.parsedABI, "allowance", owner, spender)
			if readErr != nil || allowanceOut[0].(*big.Int).Cmp(amount) < 0 {
				return scheme.SettleOutcome{Success: false, Payer: v.Payer, Reason: x402.ReasonPermitFailed, Detail: err.Error(), Network: h.chain.String()}, nil
			}
		}
	}

	txHash, err := h.provider.WriteContract(ctx, spenderSigner, asset, h.parsedABI, "transferFrom", owner, common.HexToAddress(reqs.PayTo), amount)
	if err != nil {
		return scheme.SettleOutcome{Success: false, Payer: v.Payer, Reason: x402.ReasonTransferFailed, Detail: err.Error(), Network: h.chain.String()}, nil
	}

	return scheme.SettleOutcome{Success: true, Payer: v.Payer, Transaction: txHash.Hex(), Network: h.chain.String()}, nil
}
