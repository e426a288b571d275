// Package protocol translates between the x402 v1 and v2 wire envelopes. The
// internal canonical shape (types.PaymentPayload / types.PaymentRequirements)
// follows v2; handlers never see v1 framing.
package protocol

import (
	"fmt"

	x402 "github.com/gosuda/x402-facilitator/types"
)

// networkNames maps v1's informal network names to CAIP-2 chain ids. A v1
// request naming an unmapped network fails with UnsupportedNetwork.
var networkNames = map[string]x402.ChainId{
	"base":            {Namespace: "eip155", Reference: "8453"},
	"base-sepolia":    {Namespace: "eip155", Reference: "84532"},
	"avalanche":       {Namespace: "eip155", Reference: "43114"},
	"avalanche-fuji":  {Namespace: "eip155", Reference: "43113"},
	"solana":          {Namespace: "solana", Reference: "5eykt4UsFv8P8NJdTREpY1vzqKqZKvdpKuc147dw2N9d"},
	"solana-devnet":   {Namespace: "solana", Reference: "EtWTRABZaYq6iMfeYKouRu166VU2xqa1"},
}

var chainToNetworkName = func() map[x402.ChainId]string {
	inverted := make(map[x402.ChainId]string, len(networkNames))
	for name, chain := range networkNames {
		inverted[chain] = name
	}
	return inverted
}()

// NetworkNameToChainID maps a v1 informal network name to its CAIP-2 id.
func NetworkNameToChainID(name string) (x402.ChainId, error) {
	chain, ok := networkNames[name]
	if !ok {
		return x402.ChainId{}, fmt.Errorf("unsupported network name %q", name)
	}
	return chain, nil
}

// ChainIDToNetworkName maps a CAIP-2 id back to its v1 informal name, for
// egress to v1 clients.
func ChainIDToNetworkName(chain x402.ChainId) (string, error) {
	name, ok := chainToNetworkName[chain]
	if !ok {
		return "", fmt.Errorf("no v1 network name registered for %s", chain)
	}
	return name, nil
}

// DecodeRequirementsV1 translates one v1 requirement into the canonical shape.
func DecodeRequirementsV1(r RequirementV1) (x402.PaymentRequirements, error) {
	chain, err := NetworkNameToChainID(r.Network)
	if err != nil {
		return x402.PaymentRequirements{}, err
	}
	return x402.PaymentRequirements{
		Scheme:            r.Scheme,
		Network:           chain.String(),
		MaxAmountRequired: r.MaxAmountRequired,
		Resource:          r.Resource,
		Description:       r.Description,
		MimeType:          r.MimeType,
		PayTo:             r.PayTo,
		Asset:             r.Asset,
		MaxTimeoutSeconds: r.MaxTimeoutSeconds,
		Extra:             r.Extra,
	}, nil
}

// EncodeRequirementsV1 translates a canonical requirement back to v1 shape.
func EncodeRequirementsV1(r x402.PaymentRequirements) (RequirementV1, error) {
	chain, err := x402.ParseChainId(r.Network)
	if err != nil {
		return RequirementV1{}, err
	}
	name, err := ChainIDToNetworkName(chain)
	if err != nil {
		return RequirementV1{}, err
	}
	return RequirementV1{
		Scheme:            r.Scheme,
		Network:           name,
		MaxAmountRequired: r.MaxAmountRequired,
		Resource:          r.Resource,
		Description:       r.Description,
		MimeType:          r.MimeType,
		PayTo:             r.PayTo,
		Asset:             r.Asset,
		MaxTimeoutSeconds: r.MaxTimeoutSeconds,
		Extra:             r.Extra,
	}, nil
}

// DecodePayloadV1 translates a v1 payment payload into the canonical shape.
func DecodePayloadV1(p PaymentPayloadV1) (x402.PaymentPayload, error) {
	chain, err := NetworkNameToChainID(p.Network)
	if err != nil {
		return x402.PaymentPayload{}, err
	}
	return x402.PaymentPayload{
		X402Version: 1,
		Scheme:      p.Scheme,
		Network:     chain.String(),
		Payload:     p.Payload,
	}, nil
}

// DecodeRequirementsV2 translates a v2 requirement, plus the envelope's
// top-level resource info, into the canonical shape. Network is already
// CAIP-2 on the wire, so unlike v1 this never fails.
func DecodeRequirementsV2(r RequirementV2, resource ResourceInfo) x402.PaymentRequirements {
	return x402.PaymentRequirements{
		Scheme:            r.Scheme,
		Network:           r.Network,
		MaxAmountRequired: r.Amount,
		Resource:          resource.URL,
		Description:       resource.Description,
		MimeType:          resource.MimeType,
		PayTo:             r.PayTo,
		Asset:             r.Asset,
		MaxTimeoutSeconds: r.MaxTimeoutSeconds,
		Extra:             r.Extra,
	}
}

// EncodeRequirementsV2 translates a canonical requirement back to v2 shape,
// splitting out the resource info that v2 carries at the envelope's top level.
func EncodeRequirementsV2(r x402.PaymentRequirements) (RequirementV2, ResourceInfo) {
	v2 := RequirementV2{
		Scheme:            r.Scheme,
		Network:           r.Network,
		Amount:            r.MaxAmountRequired,
		PayTo:             r.PayTo,
		Asset:             r.Asset,
		MaxTimeoutSeconds: r.MaxTimeoutSeconds,
		Extra:             r.Extra,
	}
	resource := ResourceInfo{URL: r.Resource, Description: r.Description, MimeType: r.MimeType}
	return v2, resource
}

// DecodePayloadV2 translates a v2 Payment-Signature envelope into the
// canonical shape. Unlike v1, scheme and network live under Accepted rather
// than on the envelope itself.
func DecodePayloadV2(sig PaymentSignatureV2) x402.PaymentPayload {
	return x402.PaymentPayload{
		X402Version: 2,
		Scheme:      sig.Accepted.Scheme,
		Network:     sig.Accepted.Network,
		Payload:     sig.Payload,
	}
}
