// Package evmpermit2 implements the v2:eip155:exact sub-handler for tokens
// that never adopted ERC-3009, routed through Uniswap's Permit2 contract.
// It is registered for a chain only when that chain's provider has a
// configured Permit2 address.
package evmpermit2

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

const permit2ABI = `[
{"constant":true,"inputs":[{"name":"owner","type":"address"},{"name":"word","type":"uint256"}],"name":"nonceBitmap","outputs":[{"name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
{"constant":false,"inputs":[
  {"components":[{"components":[{"name":"token","type":"address"},{"name":"amount","type":"uint256"}],"name":"permitted","type":"tuple"},{"name":"nonce","type":"uint256"},{"name":"deadline","type":"uint256"}],"name":"permit","type":"tuple"},
  {"components":[{"name":"to","type":"address"},{"name":"requestedAmount","type":"uint256"}],"name":"transferDetails","type":"tuple"},
  {"name":"owner","type":"address"},
  {"name":"witness","type":"bytes32"},
  {"name":"witnessTypeString","type":"string"},
  {"name":"signature","type":"bytes"}],
  "name":"permitWitnessTransferFrom","outputs":[],"stateMutability":"nonpayable","type":"function"}
]`

const minDeadlineSkew = 6 * time.Second

type tokenPermissions struct {
	Token  string `json:"token"`
	Amount string `json:"amount"`
}

type witness struct {
	To         string          `json:"to"`
	ValidAfter string          `json:"validAfter"`
	Extra      json.RawMessage `json:"extra,omitempty"`
}

type permit2Authorization struct {
	Permitted tokenPermissions `json:"permitted"`
	From      string           `json:"from"`
	Spender   string           `json:"spender"`
	Nonce     string           `json:"nonce"`
	Deadline  string           `json:"deadline"`
	Witness   witness          `json:"witness"`
}

type payload struct {
	Signature             string                `json:"signature"`
	Permit2Authorization  permit2Authorization  `json:"permit2Authorization"`
}

// Handler implements the Permit2 exact sub-scheme against one EVM chain.
type Handler struct {
	chain          x402.ChainId
	provider       *chainevm.Provider
	permit2Address common.Address
	parsedABI      abi.ABI
	nowFunc        func() time.Time
}

// New constructs the handler. It returns ok=false when the chain has no
// configured Permit2 address, meaning this sub-handler should not be
// registered for that chain at all.
func New(chain x402.ChainId, provider *chainevm.Provider) (h *Handler, ok bool, err error) {
	addr, configured := provider.Permit2Address()
	if !configured {
		return nil, false, nil
	}
	parsedABI, err := abi.JSON(strings.NewReader(permit2ABI))
	if err != nil {
		return nil, false, fmt.Errorf("evmpermit2: parse abi: %w", err)
	}
	return &Handler{chain: chain, provider: provider, permit2Address: addr, parsedABI: parsedABI, nowFunc: time.Now}, true, nil
}

func (h *Handler) Slug() x402.SchemeSlug {
	return x402.SchemeSlug{Version: 2, Namespace: "eip155", Scheme: "exact"}
}

func (h *Handler) Advertise() x402.SupportedKind {
	extra, _ := json.Marshal(map[string]string{"permit2Address": h.permit2Address.Hex()})
	return x402.SupportedKind{X402Version: 2, Scheme: "exact", Network: h.chain.String(), Extra: extra}
}

func (h *Handler) Signers() []string {
	return h.provider.SignerAddresses()
}

func invalid(reason x402.Reason, detail string) (scheme.VerifyOutcome, error) {
	return scheme.VerifyOutcome{Valid: false, Reason: reason, Detail: detail}, nil
}

func (h *Handler) parse(payload_ x402.PaymentPayload, reqs x402.PaymentRequirements) (payload, *big.Int, error) {
	var p payload
	if err := json.Unmarshal(payload_.Payload, &p); err != nil {
		return payload{}, nil, fmt.Errorf("invalid format: %w", err)
	}
	if payload_.Network != reqs.Network || payload_.Network != h.chain.String() {
		return payload{}, nil, fmt.Errorf("chain mismatch")
	}
	amount, ok := new(big.Int).SetString(reqs.MaxAmountRequired, 10)
	if !ok {
		return payload{}, nil, fmt.Errorf("invalid format: amount")
	}
	return p, amount, nil
}

// Verify implements §4.3a: witness-bound PermitWitnessTransferFrom digest,
// spender-is-signer, window checks, and a Permit2 bitmap nonce check.
func (h *Handler) Verify(ctx context.Context, payload_ x402.PaymentPayload, reqs x402.PaymentRequirements) (scheme.VerifyOutcome, error) {
	p, amount, err := h.parse(payload_, reqs)
	if err != nil {
		return invalid(x402.ReasonInvalidFormat, err.Error())
	}
	auth := p.Permit2Authorization

	amt, ok := new(big.Int).SetString(auth.Permitted.Amount, 10)
	if !ok || amt.Cmp(amount) != 0 {
		return invalid(x402.ReasonInvalidPaymentAmount, "permitted.amount must equal requirements.amount")
	}
	token := common.HexToAddress(auth.Permitted.Token)
	if token != common.HexToAddress(reqs.Asset) {
		return invalid(x402.ReasonAssetMismatch, "permitted.token does not match requirements.asset")
	}

	spender := common.HexToAddress(auth.Spender)
	if _, isSigner := h.provider.SignerFor(spender); !isSigner {
		return invalid(x402.ReasonRecipientMismatch, "spender is not a facilitator signer")
	}

	deadline, ok := new(big.Int).SetString(auth.Deadline, 10)
	if !ok {
		return invalid(x402.ReasonInvalidFormat, "invalid deadline")
	}
	validAfter, ok := new(big.Int).SetString(auth.Witness.ValidAfter, 10)
	if !ok {
		return invalid(x402.ReasonInvalidFormat, "invalid witness.validAfter")
	}
	now := h.nowFunc()
	if deadline.Int64() < now.Add(minDeadlineSkew).Unix() {
		return invalid(x402.ReasonExpired, "deadline within safety buffer of now")
	}
	if validAfter.Int64() > now.Unix() {
		return invalid(x402.ReasonNotYetValid, "witness.validAfter is in the future")
	}

	to := common.HexToAddress(auth.Witness.To)
	if to != common.HexToAddress(reqs.PayTo) {
		return invalid(x402.ReasonRecipientMismatch, "witness.to does not match requirements.payTo")
	}

	from := common.HexToAddress(auth.From)
	nonce, ok := new(big.Int).SetString(auth.Nonce, 10)
	if !ok {
		return invalid(x402.ReasonInvalidFormat, "invalid nonce")
	}
	word := new(big.Int).Rsh(nonce, 8)
	bit := new(big.Int).And(nonce, big.NewInt(0xFF)).Uint64()
	bitmapOut, err := h.provider.ReadContract(ctx, h.permit2Address, h.parsedABI, "nonceBitmap", from, word)
	if err != nil {
		return scheme.VerifyOutcome{}, fmt.Errorf("evmpermit2: read nonceBitmap: %w", err)
	}
	bitmap := bitmapOut[0].(*big.Int)
	if bitmap.Bit(int(bit)) == 1 {
		return invalid(x402.ReasonNonceAlreadyUsed, "permit2 nonce bit already set")
	}

	digest, err := chainevm.Permit2WitnessDigest(h.provider.ChainID(), h.permit2Address, token, spender, amt, nonce, deadline.Int64(), to, validAfter.Int64())
	if err != nil {
		return invalid(x402.ReasonInvalidFormat, fmt.Sprintf("digest: %v", err))
	}
	sig := common.FromHex(p.Signature)
	ok2, err := chainevm.VerifySignature(ctx, h.provider, from, digest, sig)
	if err != nil {
		return invalid(x402.ReasonInvalidSignature, err.Error())
	}
	if !ok2 {
		return invalid(x402.ReasonInvalidSignature, "signature does not recover to permitted owner")
	}

	return scheme.VerifyOutcome{Valid: true, Payer: from.Hex()}, nil
}

// Settle calls Permit2's permitWitnessTransferFrom in one transaction; there
// is no separate allowance-setting step unlike the upto handler.
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
	auth := p.Permit2Authorization

	amount, _ := new(big.Int).SetString(auth.Permitted.Amount, 10)
	nonce, _ := new(big.Int).SetString(auth.Nonce, 10)
	deadline, _ := new(big.Int).SetString(auth.Deadline, 10)
	token := common.HexToAddress(auth.Permitted.Token)
	from := common.HexToAddress(auth.From)
	spender := common.HexToAddress(auth.Spender)
	payTo := common.HexToAddress(reqs.PayTo)

	spenderSigner, ok := h.provider.SignerFor(spender)
	if !ok {
		return scheme.SettleOutcome{}, fmt.Errorf("evmpermit2: spender %s is not a known signer", spender)
	}

	permitted := struct {
		Token  common.Address
		Amount *big.Int
	}{token, amount}
	permitStruct := struct {
		Permitted struct {
			Token  common.Address
			Amount *big.Int
		}
		Nonce    *big.Int
		Deadline *big.Int
	}{permitted, nonce, deadline}
	transferDetails := struct {
		To              common.Address
		RequestedAmount *big.Int
	}{payTo, amount}

	validAfter, _ := new(big.Int).SetString(auth.Witness.ValidAfter, 10)
	witnessHash, err := chainevm.PaymentWitnessHash(payTo, validAfter.Int64())
	if err != nil {
		return scheme.SettleOutcome{}, fmt.Errorf("evmpermit2: witness hash: %w", err)
	}

	sig := common.FromHex(p.Signature)
	const witnessTypeString = "PaymentWitness witness)TokenPermissions(address token,uint256 amount)PaymentWitness(address to,uint256 validAfter)"

	txHash, err := h.provider.WriteContract(ctx, spenderSigner, h.permit2Address, h.parsedABI, "permitWitnessTransferFrom",
		permitStruct, transferDetails, from, witnessHash, witnessTypeString, sig)
	if err != nil {
		return scheme.SettleOutcome{Success: false, Payer: v.Payer, Reason: x402.ReasonTransferFailed, Detail: err.Error(), Network: h.chain.String()}, nil
	}

	return scheme.SettleOutcome{Success: true, Payer: v.Payer, Transaction: txHash.Hex(), Network: h.chain.String()}, nil
}
