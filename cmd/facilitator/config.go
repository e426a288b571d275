package main

import (
	"fmt"
	"os"
	"reflect"
	"strings"

	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"
)

// RPCEndpointConfig is one RPC endpoint in an EVM chain's pool.
type RPCEndpointConfig struct {
	HTTP      string  `mapstructure:"http"`
	RateLimit float64 `mapstructure:"rateLimit"`
}

// EVMChainConfig is the closed configuration schema for one EVM chain (§6.5).
type EVMChainConfig struct {
	ChainID            string              `mapstructure:"chainId"`
	Signers            []string            `mapstructure:"signers"`
	RPCEndpoints       []RPCEndpointConfig `mapstructure:"rpcEndpoints"`
	EIP1559            bool                `mapstructure:"eip1559"`
	Flashblocks        bool                `mapstructure:"flashblocks"`
	ReceiptTimeoutSecs uint32              `mapstructure:"receiptTimeoutSecs"`
	Permit2Address     string              `mapstructure:"permit2Address"`
}

// SolanaChainConfig is the closed configuration schema for one Solana chain (§6.5).
type SolanaChainConfig struct {
	Genesis                     string   `mapstructure:"genesis"`
	Signer                      string   `mapstructure:"signer"`
	RPC                         string   `mapstructure:"rpc"`
	PubSub                      string   `mapstructure:"pubsub"`
	MaxComputeUnitLimit         uint32   `mapstructure:"maxComputeUnitLimit"`
	MaxComputeUnitPrice         uint64   `mapstructure:"maxComputeUnitPrice"`
	AllowAdditionalInstructions bool     `mapstructure:"allowAdditionalInstructions"`
	ProgramAllowlist            []string `mapstructure:"programAllowlist"`
	ProgramBlocklist            []string `mapstructure:"programBlocklist"`
	MaxInstructionCount         uint32   `mapstructure:"maxInstructionCount"`
}

// SchemeEntry is one build-time scheme-registry entry (§4.2, §6.5): a
// handler's slug, the chain pattern it is built against, and whether it is
// active. ChainPattern follows types.MatchesChainPattern ("eip155:*" or an
// exact "eip155:8453"). Two entries that expand to the same (slug, chain)
// are a configuration error, caught in buildRegistry before any handler is
// constructed.
type SchemeEntry struct {
	Slug         string `mapstructure:"slug"`
	ChainPattern string `mapstructure:"chainPattern"`
	Enabled      bool   `mapstructure:"enabled"`
}

// Config is the closed, process-wide configuration schema. Unrecognized keys
// in the TOML file or X402_-prefixed environment are a startup error, not a
// silently dropped typo (§6.5, §9 "Configuration as a closed enum").
type Config struct {
	Port         int                 `mapstructure:"port"`
	EVMChains    []EVMChainConfig    `mapstructure:"evmChains"`
	SolanaChains []SolanaChainConfig `mapstructure:"solanaChains"`
	Schemes      []SchemeEntry       `mapstructure:"schemes"`
}

// defaultSchemeEntries is installed when a deployment does not list any
// scheme entries, preserving the facilitator's historical behavior: every
// handler a chain's namespace supports is built and enabled. ERC-3009 and
// Permit2 are split into separate entries even though they share the
// "exact" slug on the wire (scheme.ExactRouter), so Permit2 alone can be
// disabled per deployment without dropping ERC-3009.
var defaultSchemeEntries = []SchemeEntry{
	{Slug: "v2:eip155:exact", ChainPattern: "eip155:*", Enabled: true},
	{Slug: "v2:eip155:exact:permit2", ChainPattern: "eip155:*", Enabled: true},
	{Slug: "v2:eip155:upto", ChainPattern: "eip155:*", Enabled: true},
	{Slug: "v2:solana:exact", ChainPattern: "solana:*", Enabled: true},
}

// LoadConfig loads configuration from, in ascending priority: compiled-in
// defaults, a TOML file, X402_-prefixed environment variables, then CLI
// flags.
func LoadConfig() (*Config, error) {
	k := koanf.New(".")

	k.Set("port", 9090)

	f := pflag.NewFlagSet("config", pflag.ContinueOnError)
	f.String("config", "config.toml", "Path to configuration file")
	f.Int("port", 9090, "Server port")
	if err := f.Parse(os.Args[1:]); err != nil {
		return nil, err
	}

	configPath, _ := f.GetString("config")
	if _, err := os.Stat(configPath); err == nil {
		if err := k.Load(file.Provider(configPath), toml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file: %w", err)
		}
	}

	if err := k.Load(env.Provider("X402_", ".", func(s string) string {
		return strings.ToLower(strings.TrimPrefix(s, "X402_"))
	}), nil); err != nil {
		return nil, fmt.Errorf("load env config: %w", err)
	}

	if err := k.Load(posflag.Provider(f, ".", k), nil); err != nil {
		return nil, fmt.Errorf("load flag config: %w", err)
	}

	if err := rejectUnknownKeys(k, reflect.TypeOf(Config{})); err != nil {
		return nil, err
	}

	var config Config
	if err := k.Unmarshal("", &config); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	applyDefaults(&config)
	return &config, nil
}

func applyDefaults(c *Config) {
	if len(c.Schemes) == 0 {
		c.Schemes = defaultSchemeEntries
	}
	for i := range c.EVMChains {
		chain := &c.EVMChains[i]
		if chain.ReceiptTimeoutSecs == 0 {
			chain.ReceiptTimeoutSecs = 30
		}
	}
	for i := range c.SolanaChains {
		chain := &c.SolanaChains[i]
		if chain.MaxComputeUnitLimit == 0 {
			chain.MaxComputeUnitLimit = 400_000
		}
		if chain.MaxComputeUnitPrice == 0 {
			chain.MaxComputeUnitPrice = 1_000_000
		}
		if chain.MaxInstructionCount == 0 {
			chain.MaxInstructionCount = 10
		}
	}
}

// rejectUnknownKeys diffs the flattened koanf key set against the struct's
// mapstructure tags (recursively) and fails startup on a typo such as
// "alowAdditionalInstructions" that would otherwise silently disable a
// safety check.
func rejectUnknownKeys(k *koanf.Koanf, t reflect.Type) error {
	known := knownKeys(t, "")
	for _, flatKey := range k.Keys() {
		if !isKnownKey(flatKey, known) {
			return fmt.Errorf("unrecognized configuration key %q", flatKey)
		}
	}
	return nil
}

// knownKeys collects every dotted mapstructure path reachable from t,
// including slice-of-struct element fields (indexed keys are matched
// positionally, not literally, by isKnownKey).
func knownKeys(t reflect.Type, prefix string) map[string]bool {
	keys := make(map[string]bool)
	if t.Kind() == reflect.Slice || t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		if prefix != "" {
			keys[prefix] = true
		}
		return keys
	}
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		tag := field.Tag.Get("mapstructure")
		if tag == "" {
			tag = strings.ToLower(field.Name)
		}
		full := tag
		if prefix != "" {
			full = prefix + "." + tag
		}
		ft := field.Type
		if ft.Kind() == reflect.Slice && ft.Elem().Kind() == reflect.Struct {
			for k := range knownKeys(ft.Elem(), full) {
				keys[k] = true
			}
			continue
		}
		keys[full] = true
	}
	return keys
}

// isKnownKey matches a flattened key like "evmChains.0.rpcEndpoints.1.http"
// against a schema path like "evmChains.rpcEndpoints.http" by stripping
// purely numeric path segments before comparison.
func isKnownKey(flatKey string, known map[string]bool) bool {
	parts := strings.Split(flatKey, ".")
	filtered := parts[:0]
	for _, p := range parts {
		if isAllDigits(p) {
			continue
		}
		filtered = append(filtered, p)
	}
	return known[strings.Join(filtered, ".")] || known["port"] && flatKey == "port" || known["config"] && flatKey == "config"
}

func isAllDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

func printUsage() {
	println("Usage: x402-facilitator [options]")
	println()
	println("x402-facilitator - payment facilitator server for the x402 protocol")
	println()
	println("Options:")
	println("  --config string")
	println("        Path to configuration file (default \"config.toml\")")
	println("  --port int")
	println("        Server port (default 9090)")
	println("  -h, --help")
	println("        Show this help message")
	println()
	println("Configuration priority (highest to lowest):")
	println("  1. Command line flags")
	println("  2. Environment variables (X402_*)")
	println("  3. Configuration file")
	println("  4. Default values")
}
