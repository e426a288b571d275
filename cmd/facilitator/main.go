package main

import (
	"context"
	"fmt"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/gosuda/x402-facilitator/api"
	chainevm "github.com/gosuda/x402-facilitator/chain/evm"
	chainsolana "github.com/gosuda/x402-facilitator/chain/solana"
	"github.com/gosuda/x402-facilitator/facilitator"
	"github.com/gosuda/x402-facilitator/scheme"
	"github.com/gosuda/x402-facilitator/scheme/evmexact"
	"github.com/gosuda/x402-facilitator/scheme/evmpermit2"
	"github.com/gosuda/x402-facilitator/scheme/evmupto"
	"github.com/gosuda/x402-facilitator/scheme/solexact"
	x402 "github.com/gosuda/x402-facilitator/types"
)

func main() {
	for _, arg := range os.Args[1:] {
		if arg == "-h" || arg == "-help" || arg == "--help" {
			printUsage()
			os.Exit(0)
		}
	}

	config, err := LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log.Logger = zerolog.New(os.Stdout).With().Timestamp().Caller().Logger()

	registry, err := buildRegistry(context.Background(), config)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to build scheme registry, shutting down...")
	}

	fac := facilitator.New(registry)
	apiServer := api.NewServer(fac)

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", config.Port),
		Handler: apiServer,
	}

	go func() {
		log.Info().Msgf("Starting server on port %d", config.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Failed to start server, shutting down...")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to shutdown server gracefully")
	}
	log.Info().Msg("Server shutdown gracefully")
}

// schemeEnabled reports whether some entry in entries names slug and admits
// chain via its chain_pattern, and if so whether that entry is enabled. A
// chain with no matching entry builds nothing for that slug: every handler
// the registry can construct must be named by an entry (§4.2).
func schemeEnabled(entries []SchemeEntry, slug string, chain x402.ChainId) bool {
	for _, e := range entries {
		if e.Slug != slug {
			continue
		}
		if x402.MatchesChainPattern(e.ChainPattern, chain) {
			return e.Enabled
		}
	}
	return false
}

// validateSchemeEntries rejects two entries that expand to the same
// (slug, chain) pair across the configured chains, per §4.2's "two entries
// producing the same (slug, chain) are a configuration error".
func validateSchemeEntries(entries []SchemeEntry, chains []x402.ChainId) error {
	type resolved struct{ slug, chain string }
	seen := make(map[resolved]bool)
	for _, e := range entries {
		for _, chain := range chains {
			if !x402.MatchesChainPattern(e.ChainPattern, chain) {
				continue
			}
			r := resolved{e.Slug, chain.String()}
			if seen[r] {
				return fmt.Errorf("scheme config: duplicate entry for slug %q on chain %s", e.Slug, chain)
			}
			seen[r] = true
		}
	}
	return nil
}

// buildRegistry constructs one chain provider per configured chain and, for
// each chain, builds and registers the handler blueprints its scheme
// entries name and enable (§4.2). A blueprint is refused a provider of the
// wrong namespace at compile time: evmexact.New etc. take a *chainevm.Provider,
// solexact.New takes a *chainsolana.Provider, so a scheme entry whose slug
// names the wrong namespace simply never matches a constructed provider.
func buildRegistry(ctx context.Context, config *Config) (*scheme.Registry, error) {
	registry := scheme.NewRegistry()

	chains := make([]x402.ChainId, 0, len(config.EVMChains)+len(config.SolanaChains))
	for _, ec := range config.EVMChains {
		chains = append(chains, x402.ChainId{Namespace: "eip155", Reference: ec.ChainID})
	}
	for _, sc := range config.SolanaChains {
		chains = append(chains, x402.ChainId{Namespace: "solana", Reference: sc.Genesis})
	}
	if err := validateSchemeEntries(config.Schemes, chains); err != nil {
		return nil, err
	}

	for _, ec := range config.EVMChains {
		chainID, ok := new(big.Int).SetString(ec.ChainID, 10)
		if !ok {
			return nil, fmt.Errorf("evm chain config: invalid chainId %q", ec.ChainID)
		}
		chain := x402.ChainId{Namespace: "eip155", Reference: ec.ChainID}

		wantExact := schemeEnabled(config.Schemes, "v2:eip155:exact", chain)
		wantPermit2 := schemeEnabled(config.Schemes, "v2:eip155:exact:permit2", chain)
		wantUpto := schemeEnabled(config.Schemes, "v2:eip155:upto", chain)
		if !wantExact && !wantPermit2 && !wantUpto {
			log.Info().Str("chain", chain.String()).Msg("evm chain has no enabled scheme entries, skipping")
			continue
		}

		endpoints := make([]chainevm.EndpointConfig, 0, len(ec.RPCEndpoints))
		for _, e := range ec.RPCEndpoints {
			endpoints = append(endpoints, chainevm.EndpointConfig{HTTP: e.HTTP, RateLimit: e.RateLimit})
		}

		provider, err := chainevm.NewProvider(ctx, chainevm.Config{
			Chain:             chain,
			ChainID:           chainID,
			Endpoints:         endpoints,
			SignerPrivateKeys: ec.Signers,
			EIP1559:           ec.EIP1559,
			Flashblocks:       ec.Flashblocks,
			ReceiptTimeout:    time.Duration(ec.ReceiptTimeoutSecs) * time.Second,
			Permit2Address:    ec.Permit2Address,
		})
		if err != nil {
			return nil, fmt.Errorf("evm chain %s: %w", chain, err)
		}

		if wantExact {
			exactHandler, err := evmexact.New(chain, provider)
			if err != nil {
				return nil, fmt.Errorf("evm chain %s: exact handler: %w", chain, err)
			}

			var exact scheme.Handler = exactHandler
			if wantPermit2 {
				permit2Handler, ok2, err := evmpermit2.New(chain, provider)
				if err != nil {
					return nil, fmt.Errorf("evm chain %s: permit2 handler: %w", chain, err)
				}
				if ok2 {
					// ERC-3009 and Permit2 both advertise the "exact" slug; route on
					// payload shape rather than registering two handlers under one key.
					exact = scheme.NewExactRouter(exactHandler, permit2Handler)
				}
			}
			if err := registry.Register(ec.ChainID, exact); err != nil {
				return nil, err
			}
		}

		if wantUpto {
			uptoHandler, err := evmupto.New(chain, provider)
			if err != nil {
				return nil, fmt.Errorf("evm chain %s: upto handler: %w", chain, err)
			}
			if err := registry.Register(ec.ChainID, uptoHandler); err != nil {
				return nil, err
			}
		}

		log.Info().Str("chain", chain.String()).Int("signers", len(provider.SignerAddresses())).Msg("evm chain registered")
	}

	for _, sc := range config.SolanaChains {
		chain := x402.ChainId{Namespace: "solana", Reference: sc.Genesis}

		if !schemeEnabled(config.Schemes, "v2:solana:exact", chain) {
			log.Info().Str("chain", chain.String()).Msg("solana chain has no enabled scheme entries, skipping")
			continue
		}

		provider, err := chainsolana.NewProvider(chainsolana.Config{
			Chain:               chain,
			RPC:                 sc.RPC,
			PubSub:              sc.PubSub,
			FeePayerPrivateKey:  sc.Signer,
			MaxComputeUnitLimit: sc.MaxComputeUnitLimit,
			MaxComputeUnitPrice: sc.MaxComputeUnitPrice,
			AllowAdditional:     sc.AllowAdditionalInstructions,
			ProgramAllowlist:    sc.ProgramAllowlist,
			ProgramBlocklist:    sc.ProgramBlocklist,
			MaxInstructionCount: sc.MaxInstructionCount,
		})
		if err != nil {
			return nil, fmt.Errorf("solana chain %s: %w", chain, err)
		}

		handler := solexact.New(chain, provider)
		if err := registry.Register(sc.Genesis, handler); err != nil {
			return nil, err
		}

		log.Info().Str("chain", chain.String()).Str("feePayer", provider.FeePayer().PublicKey.ToBase58()).Msg("solana chain registered")
	}

	return registry, nil
}
