package knowledgebase

import (
	"fmt"
	"sync"

	"github.com/markdave123-py/contexta-kb/internal/core"
	"github.com/markdave123-py/contexta-kb/internal/models"
)

// Registry maps backend kinds to the backends configured in this process.
type Registry struct {
	mu       sync.RWMutex
	backends map[models.BackendKind]Backend
}

func NewRegistry(backends ...Backend) *Registry {
	r := &Registry{backends: make(map[models.BackendKind]Backend)}
	for _, b := range backends {
		r.Register(b)
	}
	return r
}

func (r *Registry) Register(b Backend) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.backends[b.Kind()] = b
}

// Get returns core.ErrBackendUnavailable for kinds nobody registered.
func (r *Registry) Get(kind models.BackendKind) (Backend, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.backends[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %s", core.ErrBackendUnavailable, kind)
	}
	return b, nil
}

// Kinds lists the registered backend kinds.
func (r *Registry) Kinds() []models.BackendKind {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]models.BackendKind, 0, len(r.backends))
	for k := range r.backends {
		out = append(out, k)
	}
	return out
}
