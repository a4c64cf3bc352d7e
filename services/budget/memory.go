package budget

import (
	"context"
	"fmt"
	"sync"

	"github.com/upb/llm-safety-gateway/services"
)

// MemoryLedger is an in-process quota ledger used when no external ledger is
// configured. Each tenant gets the same flat allowance; spend never resets.
type MemoryLedger struct {
	mu        sync.Mutex
	allowance float64
	spent     map[string]float64
}

// NewMemoryLedger creates a ledger granting every tenant the given allowance.
// A non-positive allowance means unlimited.
func NewMemoryLedger(allowance float64) *MemoryLedger {
	return &MemoryLedger{
		allowance: allowance,
		spent:     make(map[string]float64),
	}
}

// Check implements Ledger.
func (l *MemoryLedger) Check(ctx context.Context, tenantID string, cost float64) error {
	if l.allowance <= 0 {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.spent[tenantID]+cost > l.allowance {
		return services.WrapError(services.ErrorTypeBudget,
			fmt.Sprintf("quota exhausted for tenant %s", tenantID), nil)
	}
	return nil
}

// RecordUsage implements Ledger.
func (l *MemoryLedger) RecordUsage(ctx context.Context, tenantID string, cost float64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.spent[tenantID] += cost
	return nil
}

// Spent returns the recorded spend for a tenant.
func (l *MemoryLedger) Spent(tenantID string) float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.spent[tenantID]
}
