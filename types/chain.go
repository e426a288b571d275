package types

import (
	"fmt"
	"strings"
)

// ChainId is a CAIP-2 chain identifier: a namespace ("eip155", "solana") and a
// reference (a numeric chain id for eip155, a base58 genesis hash for solana).
type ChainId struct {
	Namespace string
	Reference string
}

func (c ChainId) String() string {
	return fmt.Sprintf("%s:%s", c.Namespace, c.Reference)
}

func (c ChainId) IsZero() bool {
	return c.Namespace == "" && c.Reference == ""
}

// ParseChainId parses a "namespace:reference" CAIP-2 string.
func ParseChainId(s string) (ChainId, error) {
	ns, ref, found := strings.Cut(s, ":")
	if !found || ns == "" || ref == "" {
		return ChainId{}, fmt.Errorf("invalid CAIP-2 chain id %q", s)
	}
	return ChainId{Namespace: ns, Reference: ref}, nil
}

// SchemeSlug identifies a registry handler: v{1|2}:{namespace}:{scheme}.
type SchemeSlug struct {
	Version   int
	Namespace string
	Scheme    string
}

func (s SchemeSlug) String() string {
	return fmt.Sprintf("v%d:%s:%s", s.Version, s.Namespace, s.Scheme)
}

// MatchesChainPattern reports whether a pattern such as "eip155:*" or the
// exact "eip155:8453" admits chain.
func MatchesChainPattern(pattern string, chain ChainId) bool {
	ns, ref, found := strings.Cut(pattern, ":")
	if !found || ns != chain.Namespace {
		return false
	}
	return ref == "*" || ref == chain.Reference
}
