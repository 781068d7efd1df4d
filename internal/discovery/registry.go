package discovery

import (
	"fmt"
	"sync"
)

// Registry holds the signatures used to classify files.
// Signatures are tried in registration order.
type Registry struct {
	mu         sync.RWMutex
	signatures []*Signature
}

// NewRegistry creates a new empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// DefaultRegistry returns a registry holding the EVTX signature.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	// The built-in signature is always valid.
	_ = r.Register(EVTXSignature())
	return r
}

// Register adds a signature to the registry.
// A signature with the same kind replaces the existing one in place.
func (r *Registry) Register(sig *Signature) error {
	if sig == nil {
		return fmt.Errorf("cannot register nil signature")
	}
	if sig.Kind == "" {
		return fmt.Errorf("signature kind cannot be empty")
	}
	if sig.Matcher == nil {
		return fmt.Errorf("signature matcher cannot be nil")
	}
	if sig.HeaderLen <= 0 {
		return fmt.Errorf("signature header length must be positive")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for i, existing := range r.signatures {
		if existing.Kind == sig.Kind {
			r.signatures[i] = sig
			return nil
		}
	}
	r.signatures = append(r.signatures, sig)
	return nil
}

// Get retrieves a signature by kind.
func (r *Registry) Get(kind Kind) (*Signature, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, sig := range r.signatures {
		if sig.Kind == kind {
			return sig, true
		}
	}
	return nil, false
}

// Has checks if a kind is registered.
func (r *Registry) Has(kind Kind) bool {
	_, ok := r.Get(kind)
	return ok
}

// List returns all registered kinds in registration order.
func (r *Registry) List() []Kind {
	r.mu.RLock()
	defer r.mu.RUnlock()

	kinds := make([]Kind, 0, len(r.signatures))
	for _, sig := range r.signatures {
		kinds = append(kinds, sig.Kind)
	}
	return kinds
}

// HeaderLen returns the number of leading bytes needed to test every signature.
func (r *Registry) HeaderLen() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, sig := range r.signatures {
		if sig.HeaderLen > n {
			n = sig.HeaderLen
		}
	}
	return n
}

// Classify returns the first signature whose matcher accepts buf.
func (r *Registry) Classify(buf []byte) (*Signature, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, sig := range r.signatures {
		if sig.Matcher.Match(buf) {
			return sig, true
		}
	}
	return nil, false
}
