package policycache

import (
	"context"
	"sync"
	"time"

	"github.com/upb/llm-safety-gateway/models"
	"github.com/upb/llm-safety-gateway/services"
	"go.uber.org/zap"
)

// Clock abstracts time for deterministic tests.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// RealClock returns the wall clock.
func RealClock() Clock { return realClock{} }

// SnapshotFetcher retrieves a signed policy snapshot from the policy
// authority. Implementations must respect the context deadline.
type SnapshotFetcher interface {
	FetchSnapshot(ctx context.Context, tenantID string) (*models.PolicySnapshot, error)
}

// cacheEntry holds one tenant's snapshot. Entries are replaced atomically
// under the cache mutex and never mutated in place.
type cacheEntry struct {
	snapshot  *models.PolicySnapshot
	fetchedAt time.Time
}

// fetchCall is a single in-flight remote fetch shared by all concurrent
// callers for the same tenant.
type fetchCall struct {
	done     chan struct{}
	snapshot *models.PolicySnapshot
	err      error
}

// Config holds the cache TTLs and the remote fetch bound.
type Config struct {
	FreshTTL     time.Duration // age below which entries are served as-is
	HardTTL      time.Duration // age at which entries stop being servable
	FetchTimeout time.Duration // bound on one remote fetch
}

// DefaultConfig returns the gateway defaults: 60s fresh, 5min hard, 500ms fetch.
func DefaultConfig() Config {
	return Config{
		FreshTTL:     60 * time.Second,
		HardTTL:      5 * time.Minute,
		FetchTimeout: 500 * time.Millisecond,
	}
}

// Service caches per-tenant policy snapshots with staleness and fail-open
// semantics. One entry per tenant; at most one in-flight remote fetch per
// tenant at a time.
type Service struct {
	mu       sync.RWMutex
	entries  map[string]*cacheEntry
	inflight map[string]*fetchCall

	fetcher SnapshotFetcher
	clock   Clock
	cfg     Config
	logger  *zap.Logger

	hits        uint64
	misses      uint64
	staleServes uint64
}

// NewService creates a policy snapshot cache.
func NewService(fetcher SnapshotFetcher, clock Clock, cfg Config, logger *zap.Logger) *Service {
	if cfg.FreshTTL <= 0 {
		cfg.FreshTTL = 60 * time.Second
	}
	if cfg.HardTTL <= 0 {
		cfg.HardTTL = 5 * time.Minute
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 500 * time.Millisecond
	}
	return &Service{
		entries:  make(map[string]*cacheEntry),
		inflight: make(map[string]*fetchCall),
		fetcher:  fetcher,
		clock:    clock,
		cfg:      cfg,
		logger:   logger,
	}
}

// Fetch resolves the tenant's policy snapshot. The degraded flag is true
// whenever the returned snapshot is stale or was served under fail-open.
func (s *Service) Fetch(ctx context.Context, tenantID string) (*models.PolicySnapshot, bool, error) {
	now := s.clock.Now()

	s.mu.Lock()
	entry := s.entries[tenantID]
	if entry != nil {
		age := now.Sub(entry.fetchedAt)
		if age < s.cfg.FreshTTL {
			s.hits++
			s.mu.Unlock()
			return entry.snapshot, false, nil
		}
		if age < s.cfg.HardTTL {
			// Stale but servable: hand it out and refresh in the background.
			s.hits++
			s.staleServes++
			s.startFetchLocked(tenantID)
			s.mu.Unlock()
			s.logger.Debug("serving stale policy snapshot",
				zap.String("tenant_id", tenantID),
				zap.Duration("age", age))
			return entry.snapshot, true, nil
		}
	}
	s.misses++
	call := s.startFetchLocked(tenantID)
	s.mu.Unlock()

	select {
	case <-call.done:
	case <-ctx.Done():
		return nil, false, ctx.Err()
	}

	if call.err == nil {
		return call.snapshot, false, nil
	}

	s.logger.Warn("policy snapshot fetch failed",
		zap.String("tenant_id", tenantID),
		zap.Error(call.err))

	// The fetch failed. Another caller may have refreshed the entry in the
	// meantime, or the old entry may still be within the hard TTL.
	now = s.clock.Now()
	s.mu.RLock()
	entry = s.entries[tenantID]
	s.mu.RUnlock()

	if entry != nil {
		age := now.Sub(entry.fetchedAt)
		if age < s.cfg.HardTTL {
			return entry.snapshot, true, nil
		}
		if entry.snapshot.FailOpenAllowed {
			s.logger.Warn("serving expired policy snapshot under fail-open",
				zap.String("tenant_id", tenantID),
				zap.String("snapshot_id", entry.snapshot.SnapshotID))
			return entry.snapshot, true, nil
		}
	}

	return nil, false, services.WrapError(services.ErrorTypePolicyUnavailable,
		"policy snapshot unavailable for tenant "+tenantID, call.err)
}

// startFetchLocked joins the in-flight fetch for the tenant or starts a new
// one. Must be called with s.mu held.
func (s *Service) startFetchLocked(tenantID string) *fetchCall {
	if call, ok := s.inflight[tenantID]; ok {
		return call
	}
	call := &fetchCall{done: make(chan struct{})}
	s.inflight[tenantID] = call

	go func() {
		// Detached from any single caller so one disconnect does not fail
		// the waiters sharing this fetch.
		fetchCtx, cancel := context.WithTimeout(context.Background(), s.cfg.FetchTimeout)
		defer cancel()

		snapshot, err := s.fetcher.FetchSnapshot(fetchCtx, tenantID)

		s.mu.Lock()
		delete(s.inflight, tenantID)
		if err == nil && snapshot != nil {
			s.entries[tenantID] = &cacheEntry{snapshot: snapshot, fetchedAt: s.clock.Now()}
		}
		s.mu.Unlock()

		call.snapshot = snapshot
		call.err = err
		close(call.done)
	}()

	return call
}

// Invalidate drops the tenant's cached snapshot.
func (s *Service) Invalidate(tenantID string) {
	s.mu.Lock()
	delete(s.entries, tenantID)
	s.mu.Unlock()
}

// Stats reports cache effectiveness counters.
type Stats struct {
	Size        int
	Hits        uint64
	Misses      uint64
	StaleServes uint64
}

// Stats returns a snapshot of the cache counters.
func (s *Service) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Stats{
		Size:        len(s.entries),
		Hits:        s.hits,
		Misses:      s.misses,
		StaleServes: s.staleServes,
	}
}
