package asset

import (
	"sync"

	"github.com/achilleasa/scenerelay/types"
)

// Provider resolves resource identities to payloads.
type Provider interface {
	Resolve(hash types.ResourceHash) (*Resource, bool)
}

// Pool is a concurrency-safe in-memory resource store shared between the
// transport threads that receive resources and the render thread that
// uploads them.
type Pool struct {
	mu        sync.RWMutex
	resources map[types.ResourceHash]*Resource
}

// Create an empty pool.
func NewPool() *Pool {
	return &Pool{
		resources: make(map[types.ResourceHash]*Resource),
	}
}

// Put stores a resource. It returns false if a resource with the same
// identity is already present; the existing one is kept.
func (p *Pool) Put(res *Resource) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, exists := p.resources[res.Hash]; exists {
		return false
	}
	p.resources[res.Hash] = res
	return true
}

func (p *Pool) Resolve(hash types.ResourceHash) (*Resource, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	res, ok := p.resources[hash]
	return res, ok
}

func (p *Pool) Has(hash types.ResourceHash) bool {
	_, ok := p.Resolve(hash)
	return ok
}

// Remove drops a resource from the pool.
func (p *Pool) Remove(hash types.ResourceHash) {
	p.mu.Lock()
	delete(p.resources, hash)
	p.mu.Unlock()
}

func (p *Pool) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.resources)
}
