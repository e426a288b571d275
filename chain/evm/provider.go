// Package evm abstracts EVM RPC access, signer rotation, and transaction
// construction behind a single Provider shared by every EVM scheme handler.
package evm

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"
	"sync/atomic"
	"time"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"golang.org/x/time/rate"

	x402 "github.com/gosuda/x402-facilitator/types"
)

// Endpoint is one RPC client in the provider's pool, rate-limited independently.
type Endpoint struct {
	Client  *ethclient.Client
	Limiter *rate.Limiter
}

// Signer is a facilitator-owned EVM key able to sign and broadcast transactions.
type Signer struct {
	Address common.Address
	key     *ecdsa.PrivateKey
}

func (s *Signer) sign(tx *ethtypes.Transaction, chainID *big.Int) (*ethtypes.Transaction, error) {
	return ethtypes.SignTx(tx, ethtypes.LatestSignerForChainID(chainID), s.key)
}

// EndpointConfig is one RPC endpoint in a chain's pool.
type EndpointConfig struct {
	HTTP      string
	RateLimit float64 // requests/sec; 0 disables limiting
}

// Config describes one EVM chain's provider construction.
type Config struct {
	Chain             x402.ChainId
	ChainID           *big.Int
	Endpoints         []EndpointConfig
	SignerPrivateKeys []string
	EIP1559           bool
	Flashblocks       bool
	ReceiptTimeout    time.Duration
	Permit2Address    string
}

// Provider abstracts RPC access, signer rotation, and transaction construction
// for one EVM chain. It is reentrant across concurrent requests.
type Provider struct {
	chain          x402.ChainId
	chainID        *big.Int
	endpoints      []*Endpoint
	next           atomic.Uint64
	signers        []*Signer
	signersByAddr  map[common.Address]*Signer
	eip1559        bool
	flashblocks    bool
	receiptTimeout time.Duration
	permit2Address *common.Address
}

func NewProvider(ctx context.Context, cfg Config) (*Provider, error) {
	if len(cfg.Endpoints) == 0 {
		return nil, fmt.Errorf("evm provider %s: at least one RPC endpoint is required", cfg.Chain)
	}
	endpoints := make([]*Endpoint, 0, len(cfg.Endpoints))
	for _, ec := range cfg.Endpoints {
		c, err := ethclient.DialContext(ctx, ec.HTTP)
		if err != nil {
			return nil, fmt.Errorf("evm provider %s: dial %s: %w", cfg.Chain, ec.HTTP, err)
		}
		var limiter *rate.Limiter
		if ec.RateLimit > 0 {
			limiter = rate.NewLimiter(rate.Limit(ec.RateLimit), int(ec.RateLimit)+1)
		}
		endpoints = append(endpoints, &Endpoint{Client: c, Limiter: limiter})
	}

	if len(cfg.SignerPrivateKeys) == 0 {
		return nil, fmt.Errorf("evm provider %s: at least one signer is required", cfg.Chain)
	}
	signers := make([]*Signer, 0, len(cfg.SignerPrivateKeys))
	byAddr := make(map[common.Address]*Signer, len(cfg.SignerPrivateKeys))
	for _, hexKey := range cfg.SignerPrivateKeys {
		key, err := crypto.HexToECDSA(strings.TrimPrefix(hexKey, "0x"))
		if err != nil {
			return nil, fmt.Errorf("evm provider %s: invalid signer key: %w", cfg.Chain, err)
		}
		addr := crypto.PubkeyToAddress(key.PublicKey)
		s := &Signer{Address: addr, key: key}
		signers = append(signers, s)
		byAddr[addr] = s
	}

	receiptTimeout := cfg.ReceiptTimeout
	if receiptTimeout == 0 {
		receiptTimeout = 30 * time.Second
	}

	p := &Provider{
		chain:          cfg.Chain,
		chainID:        cfg.ChainID,
		endpoints:      endpoints,
		signers:        signers,
		signersByAddr:  byAddr,
		eip1559:        cfg.EIP1559,
		flashblocks:    cfg.Flashblocks,
		receiptTimeout: receiptTimeout,
	}
	if cfg.Permit2Address != "" {
		addr := common.HexToAddress(cfg.Permit2Address)
		p.permit2Address = &addr
	}
	return p, nil
}

func (p *Provider) Chain() x402.ChainId { return p.chain }
func (p *Provider) ChainID() *big.Int   { return p.chainID }

// Permit2Address reports the chain's configured Permit2 proxy, if any. The
// Permit2 scheme handler is registered for a chain only when this is set.
func (p *Provider) Permit2Address() (common.Address, bool) {
	if p.permit2Address == nil {
		return common.Address{}, false
	}
	return *p.permit2Address, true
}

func (p *Provider) SignerAddresses() []string {
	out := make([]string, len(p.signers))
	for i, s := range p.signers {
		out[i] = s.Address.Hex()
	}
	return out
}

// SignerFor returns the facilitator signer bound to addr, used when a scheme
// (e.g. EIP-2612 upto) requires the settling key to match a signed-over spender.
func (p *Provider) SignerFor(addr common.Address) (*Signer, bool) {
	s, ok := p.signersByAddr[addr]
	return s, ok
}

// nextClient round-robins across the endpoint pool with sync/atomic, never a mutex.
func (p *Provider) nextClient() *Endpoint {
	i := p.next.Add(1) - 1
	return p.endpoints[i%uint64(len(p.endpoints))]
}

func (p *Provider) client(ctx context.Context) (*ethclient.Client, error) {
	ep := p.nextClient()
	if ep.Limiter != nil {
		if err := ep.Limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("evm provider %s: rate limited endpoint: %w", p.chain, err)
		}
	}
	return ep.Client, nil
}

// ReadContract performs an eth_call against method, packing args with parsedABI.
func (p *Provider) ReadContract(ctx context.Context, contract common.Address, parsedABI abi.ABI, method string, args ...interface{}) ([]interface{}, error) {
	data, err := parsedABI.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("evm provider %s: pack %s: %w", p.chain, method, err)
	}
	client, err := p.client(ctx)
	if err != nil {
		return nil, err
	}
	out, err := client.CallContract(ctx, ethereum.CallMsg{To: &contract, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("evm provider %s: call %s: %w", p.chain, method, err)
	}
	return parsedABI.Unpack(method, out)
}

// WriteContract signs and broadcasts a call to method from signer, waiting for
// one confirmation, and returns the transaction hash.
func (p *Provider) WriteContract(ctx context.Context, signer *Signer, contract common.Address, parsedABI abi.ABI, method string, args ...interface{}) (common.Hash, error) {
	data, err := parsedABI.Pack(method, args...)
	if err != nil {
		return common.Hash{}, fmt.Errorf("evm provider %s: pack %s: %w", p.chain, method, err)
	}
	return p.SendRaw(ctx, signer, contract, data, nil)
}

// SendRaw signs and broadcasts an arbitrary call, choosing legacy or EIP-1559
// encoding per chain configuration, and waits for one confirmation.
func (p *Provider) SendRaw(ctx context.Context, signer *Signer, to common.Address, data []byte, value *big.Int) (common.Hash, error) {
	client, err := p.client(ctx)
	if err != nil {
		return common.Hash{}, err
	}
	if value == nil {
		value = big.NewInt(0)
	}
	nonce, err := client.PendingNonceAt(ctx, signer.Address)
	if err != nil {
		return common.Hash{}, fmt.Errorf("evm provider %s: nonce: %w", p.chain, err)
	}
	gasLimit, err := client.EstimateGas(ctx, ethereum.CallMsg{From: signer.Address, To: &to, Data: data, Value: value})
	if err != nil {
		return common.Hash{}, fmt.Errorf("evm provider %s: estimate gas: %w", p.chain, err)
	}

	var tx *ethtypes.Transaction
	if p.eip1559 {
		tipCap, err := client.SuggestGasTipCap(ctx)
		if err != nil {
			return common.Hash{}, fmt.Errorf("evm provider %s: tip cap: %w", p.chain, err)
		}
		var feeCap *big.Int
		if p.flashblocks {
			// Flashblocks advances "latest" faster than finality; several
			// flashblocks can land before this transaction is included, so
			// sample the base fee from latest and double it rather than
			// relying on a single block's worth of headroom.
			head, err := client.HeaderByNumber(ctx, nil)
			if err != nil {
				return common.Hash{}, fmt.Errorf("evm provider %s: header: %w", p.chain, err)
			}
			feeCap = new(big.Int).Add(tipCap, new(big.Int).Mul(head.BaseFee, big.NewInt(2)))
		} else {
			// Standard 1559 chains: SuggestGasPrice already folds the current
			// base fee and network congestion into one figure; use it as the
			// fee cap directly instead of resampling the base fee ourselves.
			gasPrice, err := client.SuggestGasPrice(ctx)
			if err != nil {
				return common.Hash{}, fmt.Errorf("evm provider %s: gas price: %w", p.chain, err)
			}
			feeCap = new(big.Int).Add(gasPrice, tipCap)
		}
		tx = ethtypes.NewTx(&ethtypes.DynamicFeeTx{
			ChainID:   p.chainID,
			Nonce:     nonce,
			GasTipCap: tipCap,
			GasFeeCap: feeCap,
			Gas:       gasLimit,
			To:        &to,
			Value:     value,
			Data:      data,
		})
	} else {
		gasPrice, err := client.SuggestGasPrice(ctx)
		if err != nil {
			return common.Hash{}, fmt.Errorf("evm provider %s: gas price: %w", p.chain, err)
		}
		tx = ethtypes.NewTx(&ethtypes.LegacyTx{
			Nonce:    nonce,
			GasPrice: gasPrice,
			Gas:      gasLimit,
			To:       &to,
			Value:    value,
			Data:     data,
		})
	}

	signed, err := signer.sign(tx, p.chainID)
	if err != nil {
		return common.Hash{}, fmt.Errorf("evm provider %s: sign: %w", p.chain, err)
	}
	if err := client.SendTransaction(ctx, signed); err != nil {
		return common.Hash{}, fmt.Errorf("evm provider %s: broadcast: %w", p.chain, err)
	}

	waitCtx, cancel := context.WithTimeout(ctx, p.receiptTimeout)
	defer cancel()
	if _, err := bind.WaitMined(waitCtx, client, signed); err != nil {
		return signed.Hash(), fmt.Errorf("evm provider %s: wait mined: %w", p.chain, err)
	}
	return signed.Hash(), nil
}

func (p *Provider) NativeBalance(ctx context.Context, addr common.Address) (*big.Int, error) {
	client, err := p.client(ctx)
	if err != nil {
		return nil, err
	}
	return client.BalanceAt(ctx, addr, nil)
}

func (p *Provider) Close() {
	for _, ep := range p.endpoints {
		ep.Client.Close()
	}
}
