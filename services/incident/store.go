package incident

import (
	"context"
	"sync"

	"github.com/upb/llm-safety-gateway/models"
)

// Store persists deduplicated incidents keyed by dedupe key. Callers
// serialize access per key; implementations only need atomic Get/Put.
type Store interface {
	// Get returns the incident for the key, or nil when none exists.
	Get(ctx context.Context, dedupeKey string) (*models.SafetyIncident, error)
	// Put creates or replaces the incident under its dedupe key.
	Put(ctx context.Context, incident models.SafetyIncident) error
	// ListByTenant returns the tenant's incidents in unspecified order.
	ListByTenant(ctx context.Context, tenantID string) ([]models.SafetyIncident, error)
}

// MemoryStore is the in-process store used in tests and single-node
// deployments.
type MemoryStore struct {
	mu        sync.RWMutex
	incidents map[string]models.SafetyIncident
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{incidents: make(map[string]models.SafetyIncident)}
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, dedupeKey string) (*models.SafetyIncident, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	inc, ok := s.incidents[dedupeKey]
	if !ok {
		return nil, nil
	}
	return &inc, nil
}

// Put implements Store.
func (s *MemoryStore) Put(_ context.Context, incident models.SafetyIncident) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.incidents[incident.DedupeKey] = incident
	return nil
}

// ListByTenant implements Store.
func (s *MemoryStore) ListByTenant(_ context.Context, tenantID string) ([]models.SafetyIncident, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.SafetyIncident
	for _, inc := range s.incidents {
		if inc.TenantID == tenantID {
			out = append(out, inc)
		}
	}
	return out, nil
}
