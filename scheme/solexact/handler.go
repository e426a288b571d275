// Package solexact implements the v2:solana:exact scheme handler: a client
// pre-signs a fee-payer-placeholder VersionedTransaction carrying a SPL
// TransferChecked instruction; the facilitator validates its shape and fills
// the fee-payer slot at settlement.
package solexact

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/blocto/solana-go-sdk/common"
	"github.com/blocto/solana-go-sdk/types"
	"golang.org/x/crypto/ed25519"

	chainsolana "github.com/gosuda/x402-facilitator/chain/solana"
	"github.com/gosuda/x402-facilitator/scheme"
	x402 "github.com/gosuda/x402-facilitator/types"
)

// Well-known program ids this handler recognizes by position.
const (
	computeBudgetProgramID = "ComputeBudget111111111111111111111111111111"
	tokenProgramID         = "TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA"
	token2022ProgramID     = "TokenzQdBNbLqP5VEhdkAS6EPFLC1PHnBqCXEpPxuEb"
	associatedTokenProgram = "ATokenGPvbdGVxr1b2hvZbsiqW5xWH25efTNsLJA8knL"
	// lighthouseProgramID is Phantom's wallet-safety assertion program,
	// admitted by default in the Solana exact handler's program allowlist.
	lighthouseProgramID = "L2TExMFKdjpN9kozasaurPirfHy9P8sbXoAN1qA3S95"
)

type svmPayload struct {
	Transaction string `json:"transaction"`
}

// Handler implements the exact scheme against one Solana chain.
type Handler struct {
	chain    x402.ChainId
	provider *chainsolana.Provider
}

func New(chain x402.ChainId, provider *chainsolana.Provider) *Handler {
	return &Handler{chain: chain, provider: provider}
}

func (h *Handler) Slug() x402.SchemeSlug {
	return x402.SchemeSlug{Version: 2, Namespace: "solana", Scheme: "exact"}
}

func (h *Handler) Advertise() x402.SupportedKind {
	return x402.SupportedKind{X402Version: 2, Scheme: "exact", Network: h.chain.String()}
}

func (h *Handler) Signers() []string {
	return []string{h.provider.FeePayer().PublicKey.ToBase58()}
}

func invalid(reason x402.Reason, detail string) (scheme.VerifyOutcome, error) {
	return scheme.VerifyOutcome{Valid: false, Reason: reason, Detail: detail}, nil
}

// decoded holds the facts this handler needs out of a parsed transaction.
type decoded struct {
	tx           types.Transaction
	accounts     []common.PublicKey
	feePayer     common.PublicKey
	instructions []types.CompiledInstruction
}

func (h *Handler) decode(payload_ x402.PaymentPayload) (decoded, error) {
	var p svmPayload
	if err := json.Unmarshal(payload_.Payload, &p); err != nil {
		return decoded{}, fmt.Errorf("invalid format: %w", err)
	}
	raw, err := base64.StdEncoding.DecodeString(p.Transaction)
	if err != nil {
		return decoded{}, fmt.Errorf("invalid format: transaction is not valid base64: %w", err)
	}
	tx, err := types.TransactionDeserialize(raw)
	if err != nil {
		return decoded{}, fmt.Errorf("invalid format: %w", err)
	}
	accounts := tx.Message.Accounts
	if len(accounts) == 0 {
		return decoded{}, fmt.Errorf("invalid format: empty account list")
	}
	return decoded{
		tx:           tx,
		accounts:     accounts,
		feePayer:     accounts[0],
		instructions: tx.Message.Instructions,
	}, nil
}

func (h *Handler) programIDOf(d decoded, ix types.CompiledInstruction) string {
	if int(ix.ProgramIDIndex) >= len(d.accounts) {
		return ""
	}
	return d.accounts[ix.ProgramIDIndex].ToBase58()
}

// Verify implements the §4.5 check sequence: instruction shape, compute
// budget ceilings, transfer binding, fee-payer safety, program allowlist,
// client signature, balance, and simulation.
func (h *Handler) Verify(ctx context.Context, payload_ x402.PaymentPayload, reqs x402.PaymentRequirements) (scheme.VerifyOutcome, error) {
	cfg := h.provider.Config()
	d, err := h.decode(payload_)
	if err != nil {
		return invalid(x402.ReasonInvalidFormat, err.Error())
	}

	if len(d.instructions) < 3 {
		return invalid(x402.ReasonInvalidFormat, "transaction must contain at least compute-budget and transfer instructions")
	}
	if uint32(len(d.instructions)) > cfg.MaxInstructionCount {
		return invalid(x402.ReasonAdditionalInstructionsNotAllowed, "instruction count exceeds configured maximum")
	}

	if h.programIDOf(d, d.instructions[0]) != computeBudgetProgramID || h.programIDOf(d, d.instructions[1]) != computeBudgetProgramID {
		return invalid(x402.ReasonInvalidFormat, "first two instructions must be ComputeBudget unit limit and price")
	}

	transferIx := d.instructions[2]
	transferProgram := h.programIDOf(d, transferIx)
	if transferProgram != tokenProgramID && transferProgram != token2022ProgramID {
		return invalid(x402.ReasonInvalidFormat, "third instruction must be SplToken TransferChecked")
	}

	if len(d.instructions) > 3 {
		if !cfg.AllowAdditional {
			return invalid(x402.ReasonAdditionalInstructionsNotAllowed, "additional instructions are not permitted by configuration")
		}
		for _, ix := range d.instructions[3:] {
			pid := h.programIDOf(d, ix)
			if contains(cfg.ProgramBlocklist, pid) {
				return invalid(x402.ReasonProgramNotAllowed, fmt.Sprintf("program %s is blocklisted", pid))
			}
			allowlist := cfg.ProgramAllowlist
			if len(allowlist) == 0 {
				allowlist = []string{lighthouseProgramID}
			}
			if !contains(allowlist, pid) {
				return invalid(x402.ReasonProgramNotAllowed, fmt.Sprintf("program %s is not in the allowlist", pid))
			}
		}
	}

	// Fee-payer safety: the fee payer must not appear in any instruction's
	// account list in a position that could make it a source of funds or the
	// transfer authority. Position-based, not just address inequality.
	for _, ix := range d.instructions {
		for pos, accIdx := range ix.Accounts {
			if int(accIdx) >= len(d.accounts) {
				continue
			}
			if d.accounts[accIdx] != d.feePayer {
				continue
			}
			// Position 0 of TransferChecked is the source token account,
			// authority is typically the last signer account — either role
			// being the fee payer is unsafe regardless of instruction.
			if h.programIDOf(d, ix) == transferProgram && pos != len(ix.Accounts)-1 {
				continue
			}
			return invalid(x402.ReasonFeePayerIncludedInInstructionAccounts, "fee payer appears in an instruction account slot that could source funds")
		}
	}

	mint := common.PublicKeyFromString(reqs.Asset)
	payToOwner := common.PublicKeyFromString(reqs.PayTo)
	destinationATA, _, err := common.FindAssociatedTokenAddress(payToOwner, mint)
	if err != nil {
		return scheme.VerifyOutcome{}, fmt.Errorf("solexact: derive ATA: %w", err)
	}

	unitLimit, unitPrice, err := decodeComputeBudget(d.instructions[0].Data, d.instructions[1].Data)
	if err != nil {
		return invalid(x402.ReasonInvalidFormat, err.Error())
	}
	if unitLimit > cfg.MaxComputeUnitLimit {
		return invalid(x402.ReasonInvalidFormat, "compute unit limit exceeds configured maximum")
	}
	if unitPrice > cfg.MaxComputeUnitPrice {
		return invalid(x402.ReasonInvalidFormat, "compute unit price exceeds configured maximum")
	}

	transferData, err := decodeTransferChecked(transferIx.Data)
	if err != nil {
		return invalid(x402.ReasonInvalidFormat, err.Error())
	}
	if int(transferIx.Accounts[1]) >= len(d.accounts) || d.accounts[transferIx.Accounts[1]] != mint {
		return invalid(x402.ReasonAssetMismatch, "transfer mint does not match requirements.asset")
	}
	if int(transferIx.Accounts[2]) >= len(d.accounts) || d.accounts[transferIx.Accounts[2]] != destinationATA {
		return invalid(x402.ReasonRecipientMismatch, "transfer destination is not the recipient's associated token account")
	}
	requiredAmount, ok := parseUint64(reqs.MaxAmountRequired)
	if !ok || transferData.Amount != requiredAmount {
		return invalid(x402.ReasonInvalidPaymentAmount, "transfer amount does not match requirements.amount")
	}

	mintDecimals, err := h.provider.MintDecimals(ctx, mint.ToBase58())
	if err != nil {
		return scheme.VerifyOutcome{}, fmt.Errorf("solexact: read mint decimals: %w", err)
	}
	if transferData.Decimals != mintDecimals {
		return invalid(x402.ReasonAssetMismatch, "transfer decimals does not match the mint's registered decimals")
	}

	sourceIdx := transferIx.Accounts[0]
	if int(sourceIdx) >= len(d.accounts) {
		return invalid(x402.ReasonInvalidFormat, "invalid source account index")
	}
	sourceATA := d.accounts[sourceIdx]
	balance, err := h.provider.TokenAccountBalance(ctx, sourceATA.ToBase58())
	if err != nil {
		return scheme.VerifyOutcome{}, fmt.Errorf("solexact: read balance: %w", err)
	}
	if balance < requiredAmount {
		return invalid(x402.ReasonInsufficientBalance, "payer token balance below requirements.amount")
	}

	authorityIdx := transferIx.Accounts[len(transferIx.Accounts)-1]
	if int(authorityIdx) >= len(d.accounts) {
		return invalid(x402.ReasonInvalidFormat, "invalid authority account index")
	}
	if int(authorityIdx) >= int(d.tx.Message.Header.NumRequiredSignatures) || int(authorityIdx) >= len(d.tx.Signatures) {
		return invalid(x402.ReasonInvalidSignature, "transfer authority is not a signer of the transaction")
	}
	payer := d.accounts[authorityIdx]

	msg := d.tx.Message.Serialize()
	authoritySig := d.tx.Signatures[authorityIdx]
	if !ed25519.Verify(payer.Bytes(), msg, authoritySig[:]) {
		return invalid(x402.ReasonInvalidSignature, "transfer authority's ed25519 signature does not verify")
	}

	if err := h.provider.SimulateTransaction(ctx, d.tx); err != nil {
		return invalid(x402.ReasonSimulationFailed, err.Error())
	}

	return scheme.VerifyOutcome{Valid: true, Payer: payer.ToBase58()}, nil
}

// Settle fills the fee-payer slot with the chain's single fee-payer signer,
// submits, and confirms. An "already processed" send result is treated as a
// successful settlement (§4.5 idempotency).
func (h *Handler) Settle(ctx context.Context, payload_ x402.PaymentPayload, reqs x402.PaymentRequirements) (scheme.SettleOutcome, error) {
	v, err := h.Verify(ctx, payload_, reqs)
	if err != nil {
		return scheme.SettleOutcome{}, err
	}
	if !v.Valid {
		return scheme.SettleOutcome{Success: false, Payer: v.Payer, Reason: v.Reason, Detail: v.Detail, Network: h.chain.String()}, nil
	}

	d, err := h.decode(payload_)
	if err != nil {
		return scheme.SettleOutcome{}, fmt.Errorf("solexact: re-decode payload: %w", err)
	}

	feePayer := h.provider.FeePayer()
	if err := d.tx.AddSignature(feePayer.PrivateKey.Sign(d.tx.Message.Serialize())); err != nil {
		return scheme.SettleOutcome{}, fmt.Errorf("solexact: sign fee payer slot: %w", err)
	}

	sig, err := h.provider.SendAndConfirm(ctx, d.tx)
	if err != nil {
		return scheme.SettleOutcome{Success: false, Payer: v.Payer, Reason: x402.ReasonTransferFailed, Detail: err.Error(), Network: h.chain.String()}, nil
	}

	return scheme.SettleOutcome{Success: true, Payer: v.Payer, Transaction: sig, Network: h.chain.String()}, nil
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

func parseUint64(s string) (uint64, bool) {
	var n uint64
	if s == "" {
		return 0, false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0, false
		}
		n = n*10 + uint64(c-'0')
	}
	return n, true
}

type transferCheckedData struct {
	Amount   uint64
	Decimals uint8
}

// decodeTransferChecked parses the SPL-Token TransferChecked instruction data
// layout: 1-byte discriminator (12), 8-byte little-endian amount, 1-byte decimals.
func decodeTransferChecked(data []byte) (transferCheckedData, error) {
	if len(data) < 10 || data[0] != 12 {
		return transferCheckedData{}, fmt.Errorf("instruction is not TransferChecked")
	}
	var amount uint64
	for i := 0; i < 8; i++ {
		amount |= uint64(data[1+i]) << (8 * i)
	}
	return transferCheckedData{Amount: amount, Decimals: data[9]}, nil
}

// decodeComputeBudget parses SetComputeUnitLimit (discriminator 2, u32 LE)
// and SetComputeUnitPrice (discriminator 3, u64 LE) instruction data.
func decodeComputeBudget(limitData, priceData []byte) (uint32, uint64, error) {
	if len(limitData) < 5 || limitData[0] != 2 {
		return 0, 0, fmt.Errorf("first instruction is not SetComputeUnitLimit")
	}
	if len(priceData) < 9 || priceData[0] != 3 {
		return 0, 0, fmt.Errorf("second instruction is not SetComputeUnitPrice")
	}
	var limit uint32
	for i := 0; i < 4; i++ {
		limit |= uint32(limitData[1+i]) << (8 * i)
	}
	var price uint64
	for i := 0; i < 8; i++ {
		price |= uint64(priceData[1+i]) << (8 * i)
	}
	return limit, price, nil
}
