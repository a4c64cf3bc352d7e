package budget

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/upb/llm-safety-gateway/services"
)

func TestMemoryLedger_AllowanceEnforced(t *testing.T) {
	ledger := NewMemoryLedger(1.0)
	ctx := context.Background()

	require.NoError(t, ledger.Check(ctx, "acme", 0.6))
	require.NoError(t, ledger.RecordUsage(ctx, "acme", 0.6))

	err := ledger.Check(ctx, "acme", 0.6)
	require.Error(t, err)
	assert.True(t, services.IsBudgetError(err))

	// A different tenant has its own allowance.
	assert.NoError(t, ledger.Check(ctx, "globex", 0.6))
}

func TestMemoryLedger_UnlimitedWhenNonPositive(t *testing.T) {
	ledger := NewMemoryLedger(0)
	ctx := context.Background()

	require.NoError(t, ledger.RecordUsage(ctx, "acme", 1e9))
	assert.NoError(t, ledger.Check(ctx, "acme", 1e9))
}

func TestMemoryLedger_ConcurrentRecording(t *testing.T) {
	ledger := NewMemoryLedger(0)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = ledger.RecordUsage(ctx, "acme", 1)
		}()
	}
	wg.Wait()

	assert.Equal(t, 50.0, ledger.Spent("acme"))
}
