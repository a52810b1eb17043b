package gateway

import (
	"strings"
	"sync"

	dompayment "github.com/smartshop/commerce/internal/domain/payment"
)

// Registry maps gateway names to adapters. Lookup is case-insensitive so
// "Stripe" and "stripe" resolve to the same adapter.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]dompayment.Gateway
}

func NewRegistry(adapters ...dompayment.Gateway) *Registry {
	r := &Registry{adapters: make(map[string]dompayment.Gateway)}
	for _, adapter := range adapters {
		r.Register(adapter)
	}
	return r
}

func (r *Registry) Register(adapter dompayment.Gateway) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[strings.ToLower(adapter.Name())] = adapter
}

func (r *Registry) Resolve(name string) (dompayment.Gateway, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	adapter, ok := r.adapters[strings.ToLower(name)]
	return adapter, ok
}
