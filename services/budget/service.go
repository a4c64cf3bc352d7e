package budget

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/upb/llm-safety-gateway/models"
	"github.com/upb/llm-safety-gateway/services"
	"go.uber.org/zap"
)

// Ledger is the external quota ledger contract. The ledger owns quota
// atomicity; the gateway never caches a mutable quota counter locally.
type Ledger interface {
	// Check reports whether the tenant can spend the estimated cost.
	Check(ctx context.Context, tenantID string, cost float64) error
	// RecordUsage charges actual spend after a successful provider call.
	RecordUsage(ctx context.Context, tenantID string, cost float64) error
}

// Guard gates provider invocation on the tenant's remaining quota. It must
// run after input-safety checks pass, so blocked content is never charged.
type Guard struct {
	ledger Ledger
	logger *zap.Logger
}

// NewGuard creates a budget guard over the given ledger.
func NewGuard(ledger Ledger, logger *zap.Logger) *Guard {
	return &Guard{ledger: ledger, logger: logger}
}

// Check fails fast on exhausted quota. Budget failures are terminal: no
// provider call happens and fallback/degradation logic does not apply.
func (g *Guard) Check(ctx context.Context, tenantID string, estimatedCost float64) error {
	if err := g.ledger.Check(ctx, tenantID, estimatedCost); err != nil {
		g.logger.Info("budget check rejected request",
			zap.String("tenant_id", tenantID),
			zap.Float64("estimated_cost", estimatedCost),
			zap.Error(err))
		if services.IsBudgetError(err) {
			return err
		}
		return services.WrapError(services.ErrorTypeBudget, "quota ledger rejected request", err)
	}
	return nil
}

// RecordUsage charges actual spend. Failures are logged, not surfaced: the
// response has already been produced and the ledger reconciles separately.
func (g *Guard) RecordUsage(ctx context.Context, tenantID string, cost float64) {
	if err := g.ledger.RecordUsage(ctx, tenantID, cost); err != nil {
		g.logger.Error("failed to record usage",
			zap.String("tenant_id", tenantID),
			zap.Float64("cost", cost),
			zap.Error(err))
	}
}

// EstimateCost produces the pre-invocation cost estimate used for the quota
// check. Deliberately coarse: four characters per token, flat per-capability
// rates.
func EstimateCost(capability models.Capability, prompt string) float64 {
	tokens := float64(len(prompt)) / 4.0
	switch capability {
	case models.CapabilityEmbedding:
		return tokens * 0.00000002
	default:
		return tokens * 0.0000015
	}
}

// HTTPLedger talks to the quota ledger service over HTTP.
type HTTPLedger struct {
	baseURL string
	client  *http.Client
}

// NewHTTPLedger creates a ledger client with a bounded request timeout.
func NewHTTPLedger(baseURL string, timeout time.Duration) *HTTPLedger {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &HTTPLedger{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

type ledgerRequest struct {
	TenantID string  `json:"tenant_id"`
	Cost     float64 `json:"cost"`
}

func (l *HTTPLedger) post(ctx context.Context, path, tenantID string, cost float64) (*http.Response, error) {
	body, err := json.Marshal(ledgerRequest{TenantID: tenantID, Cost: cost})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, l.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return l.client.Do(req)
}

// Check implements Ledger.
func (l *HTTPLedger) Check(ctx context.Context, tenantID string, cost float64) error {
	resp, err := l.post(ctx, "/v1/budget/check", tenantID, cost)
	if err != nil {
		return fmt.Errorf("budget ledger unreachable: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		return nil
	case http.StatusTooManyRequests, http.StatusPaymentRequired:
		return services.WrapError(services.ErrorTypeBudget,
			fmt.Sprintf("quota exhausted for tenant %s", tenantID), nil)
	default:
		return fmt.Errorf("budget ledger returned status %d", resp.StatusCode)
	}
}

// RecordUsage implements Ledger.
func (l *HTTPLedger) RecordUsage(ctx context.Context, tenantID string, cost float64) error {
	resp, err := l.post(ctx, "/v1/budget/usage", tenantID, cost)
	if err != nil {
		return fmt.Errorf("budget ledger unreachable: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return fmt.Errorf("budget ledger returned status %d", resp.StatusCode)
	}
	return nil
}
