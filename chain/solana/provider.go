// Package solana abstracts Solana RPC access and the single fee-payer signer
// shared by the Solana exact scheme handler.
package solana

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/blocto/solana-go-sdk/client"
	"github.com/blocto/solana-go-sdk/types"
	"github.com/gorilla/websocket"
	"github.com/mr-tron/base58"

	x402 "github.com/gosuda/x402-facilitator/types"
)

// Config describes one Solana chain's provider construction.
type Config struct {
	Chain               x402.ChainId
	RPC                 string
	PubSub              string
	FeePayerPrivateKey  string
	MaxComputeUnitLimit uint32
	MaxComputeUnitPrice uint64
	AllowAdditional     bool
	ProgramAllowlist    []string
	ProgramBlocklist    []string
	MaxInstructionCount uint32
	ConfirmTimeout      time.Duration
}

// Provider abstracts RPC access and the single fee-payer signer for one
// Solana chain. The protocol assumes a single fee payer, so unlike the EVM
// provider there is no signer set or pinning concern here.
type Provider struct {
	chain    x402.ChainId
	rpc      *client.Client
	feePayer types.Account
	cfg      Config
}

func NewProvider(cfg Config) (*Provider, error) {
	if cfg.RPC == "" {
		return nil, fmt.Errorf("solana provider %s: rpc endpoint is required", cfg.Chain)
	}
	keyBytes, err := decodeSolanaKey(cfg.FeePayerPrivateKey)
	if err != nil {
		return nil, fmt.Errorf("solana provider %s: fee payer key: %w", cfg.Chain, err)
	}
	account, err := types.AccountFromBytes(keyBytes)
	if err != nil {
		return nil, fmt.Errorf("solana provider %s: fee payer account: %w", cfg.Chain, err)
	}

	if cfg.MaxComputeUnitLimit == 0 {
		cfg.MaxComputeUnitLimit = 400_000
	}
	if cfg.MaxComputeUnitPrice == 0 {
		cfg.MaxComputeUnitPrice = 1_000_000
	}
	if cfg.MaxInstructionCount == 0 {
		cfg.MaxInstructionCount = 10
	}
	if cfg.ConfirmTimeout == 0 {
		cfg.ConfirmTimeout = 30 * time.Second
	}

	return &Provider{
		chain:    cfg.Chain,
		rpc:      client.NewClient(cfg.RPC),
		feePayer: account,
		cfg:      cfg,
	}, nil
}

func (p *Provider) Chain() x402.ChainId     { return p.chain }
func (p *Provider) FeePayer() types.Account { return p.feePayer }
func (p *Provider) Config() Config          { return p.cfg }
func (p *Provider) RPC() *client.Client     { return p.rpc }

func (p *Provider) TokenAccountBalance(ctx context.Context, tokenAccount string) (uint64, error) {
	balance, err := p.rpc.GetTokenAccountBalance(ctx, tokenAccount)
	if err != nil {
		return 0, fmt.Errorf("solana provider %s: token balance: %w", p.chain, err)
	}
	return balance.Amount, nil
}

// MintDecimals reads the decimals registered on a mint account, for
// validating a TransferChecked instruction's decimals byte.
func (p *Provider) MintDecimals(ctx context.Context, mint string) (uint8, error) {
	supply, err := p.rpc.GetTokenSupply(ctx, mint)
	if err != nil {
		return 0, fmt.Errorf("solana provider %s: mint decimals: %w", p.chain, err)
	}
	return supply.Decimals, nil
}

// SimulateTransaction dry-runs a client-signed transaction with the fee-payer
// signature still unfilled, asking the RPC node to swap in a recent blockhash
// and skip signature verification so an otherwise-valid transaction isn't
// rejected purely for having an empty fee-payer slot.
func (p *Provider) SimulateTransaction(ctx context.Context, tx types.Transaction) error {
	result, err := p.rpc.SimulateTransactionWithConfig(ctx, tx, client.SimulateTransactionConfig{
		SigVerify:              false,
		ReplaceRecentBlockhash: true,
	})
	if err != nil {
		return fmt.Errorf("solana provider %s: simulate transaction: %w", p.chain, err)
	}
	if result.Err != nil {
		return fmt.Errorf("solana provider %s: simulation reverted: %v", p.chain, result.Err)
	}
	return nil
}

// SendAndConfirm submits a transaction whose fee-payer slot the provider has
// already signed, then confirms it: by subscribing to signature notifications
// over the configured pub/sub WebSocket endpoint if one is set, falling back
// to polling getSignatureStatuses either when pub/sub isn't configured or
// when the subscription attempt itself fails. An "already processed" response
// from sendTransaction is treated as a benign replay, not an error.
func (p *Provider) SendAndConfirm(ctx context.Context, tx types.Transaction) (string, error) {
	sig, err := p.rpc.SendTransaction(ctx, tx)
	if err != nil {
		if isAlreadyProcessed(err) {
			if existing := firstSignature(tx); existing != "" {
				return existing, nil
			}
		}
		return "", fmt.Errorf("solana provider %s: send transaction: %w", p.chain, err)
	}

	deadline := time.Now().Add(p.cfg.ConfirmTimeout)

	if p.cfg.PubSub != "" {
		if err := p.confirmViaSubscription(ctx, sig, time.Until(deadline)); err == nil {
			return sig, nil
		}
		// Subscription failed or timed out; fall through to polling for
		// whatever's left of the deadline rather than giving up outright.
	}

	for time.Now().Before(deadline) {
		statuses, err := p.rpc.GetSignatureStatuses(ctx, []string{sig})
		if err == nil && len(statuses) > 0 && statuses[0] != nil && statuses[0].ConfirmationStatus != nil {
			return sig, nil
		}
		select {
		case <-ctx.Done():
			return "", fmt.Errorf("solana provider %s: %w", p.chain, ctx.Err())
		case <-time.After(500 * time.Millisecond):
		}
	}
	return "", fmt.Errorf("solana provider %s: confirmation timed out", p.chain)
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int    `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type signatureSubscribeResult struct {
	ID     int `json:"id"`
	Result int `json:"result"`
}

type signatureNotification struct {
	Params struct {
		Subscription int `json:"subscription"`
		Result       struct {
			Value struct {
				Err any `json:"err"`
			} `json:"value"`
		} `json:"result"`
	} `json:"params"`
}

// confirmViaSubscription opens a short-lived WebSocket connection to the
// configured pub/sub endpoint and waits for a signatureNotification for sig.
func (p *Provider) confirmViaSubscription(ctx context.Context, sig string, timeout time.Duration) error {
	if timeout <= 0 {
		return fmt.Errorf("solana provider %s: no time left for subscription confirm", p.chain)
	}
	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, p.cfg.PubSub, nil)
	if err != nil {
		return fmt.Errorf("solana provider %s: pubsub dial: %w", p.chain, err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(timeout))

	sub := rpcRequest{
		JSONRPC: "2.0",
		ID:      1,
		Method:  "signatureSubscribe",
		Params:  []any{sig, map[string]string{"commitment": "confirmed"}},
	}
	if err := conn.WriteJSON(sub); err != nil {
		return fmt.Errorf("solana provider %s: pubsub subscribe: %w", p.chain, err)
	}

	var subID int
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("solana provider %s: pubsub read: %w", p.chain, err)
		}
		var ack signatureSubscribeResult
		if err := json.Unmarshal(raw, &ack); err == nil && ack.ID == sub.ID {
			subID = ack.Result
			break
		}
	}

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("solana provider %s: pubsub read: %w", p.chain, err)
		}
		var notif signatureNotification
		if err := json.Unmarshal(raw, &notif); err != nil {
			continue
		}
		if notif.Params.Subscription != subID {
			continue
		}
		if notif.Params.Result.Value.Err != nil {
			return fmt.Errorf("solana provider %s: transaction failed: %v", p.chain, notif.Params.Result.Value.Err)
		}
		return nil
	}
}

func isAlreadyProcessed(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "already been processed")
}

func firstSignature(tx types.Transaction) string {
	if len(tx.Signatures) == 0 {
		return ""
	}
	return base58.Encode(tx.Signatures[0][:])
}

func decodeSolanaKey(raw string) ([]byte, error) {
	if raw == "" {
		return nil, fmt.Errorf("empty key")
	}
	if decoded, err := base58.Decode(raw); err == nil && len(decoded) == 64 {
		return decoded, nil
	}
	return hex.DecodeString(strings.TrimPrefix(raw, "0x"))
}
