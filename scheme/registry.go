package scheme

import (
	"fmt"

	x402 "github.com/gosuda/x402-facilitator/types"
)

type key struct {
	version   int
	namespace string
	reference string
	scheme    string
}

// Registry maps a (version, namespace, reference, scheme) tuple to a bound
// Handler instance. The façade is the registry's sole owner.
type Registry struct {
	handlers map[key]Handler
	all      []Handler
}

func NewRegistry() *Registry {
	return &Registry{handlers: make(map[key]Handler)}
}

// Register binds h to a concrete chain reference already resolved from its
// configured chain pattern. Two entries producing the same (slug, chain) are
// a configuration error.
func (r *Registry) Register(reference string, h Handler) error {
	slug := h.Slug()
	k := key{version: slug.Version, namespace: slug.Namespace, reference: reference, scheme: slug.Scheme}
	if _, exists := r.handlers[k]; exists {
		return fmt.Errorf("scheme registry: duplicate handler for %s on %s:%s", slug, slug.Namespace, reference)
	}
	r.handlers[k] = h
	r.all = append(r.all, h)
	return nil
}

// Lookup finds the handler for a request's (version, namespace, reference, scheme).
func (r *Registry) Lookup(version int, namespace, reference, scheme string) (Handler, bool) {
	h, ok := r.handlers[key{version: version, namespace: namespace, reference: reference, scheme: scheme}]
	return h, ok
}

// Supported enumerates every registered handler's advertisement. It is a pure
// function of the registry's build-time configuration.
func (r *Registry) Supported() []x402.SupportedKind {
	kinds := make([]x402.SupportedKind, 0, len(r.all))
	for _, h := range r.all {
		kinds = append(kinds, h.Advertise())
	}
	return kinds
}

// Signers reports, per sponsorable network, the facilitator-controlled
// addresses that may broadcast a settlement there. Multiple handlers on the
// same chain (e.g. exact and upto on one eip155 network) share one signer
// set, so addresses are deduplicated per network.
func (r *Registry) Signers() map[string][]string {
	out := make(map[string][]string)
	seen := make(map[string]map[string]bool)
	for _, h := range r.all {
		network := h.Advertise().Network
		if seen[network] == nil {
			seen[network] = make(map[string]bool)
		}
		for _, addr := range h.Signers() {
			if seen[network][addr] {
				continue
			}
			seen[network][addr] = true
			out[network] = append(out[network], addr)
		}
	}
	return out
}
