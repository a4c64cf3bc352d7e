package router

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/upb/llm-safety-gateway/models"
	"github.com/upb/llm-safety-gateway/services"
	"go.uber.org/zap"
)

// Payload is the provider-bound request. The prompt here is the redacted
// form, never the raw inbound text.
type Payload struct {
	Capability     models.Capability
	Prompt         string
	SystemPromptID string
	// Chain, when non-empty, overrides the routing table with the fallback
	// chain from the tenant's policy snapshot.
	Chain []string
}

// Result is a successful provider invocation.
type Result struct {
	Output           string
	Provider         string
	DegradationStage int
	ChainUsed        []string
}

// Provider is one model backend.
type Provider interface {
	Name() string
	Invoke(ctx context.Context, payload Payload) (string, error)
}

// Config holds router tuning.
type Config struct {
	FailureThreshold int           // consecutive failures before a circuit opens
	Cooldown         time.Duration // OPEN to HALF_OPEN interval
	ProviderTimeout  time.Duration // bound on one provider attempt
}

// DefaultConfig returns the gateway defaults.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 3,
		Cooldown:         30 * time.Second,
		ProviderTimeout:  30 * time.Second,
	}
}

// Service routes requests to ranked providers with per-provider circuit
// breaking. Breaker state is shared across all concurrent requests that
// touch a provider.
type Service struct {
	mu        sync.RWMutex
	providers map[string]Provider
	breakers  map[string]*Breaker
	routes    map[string]map[models.Capability][]string // tenant overrides
	defaults  map[models.Capability][]string

	cfg    Config
	clock  Clock
	logger *zap.Logger
}

// NewService creates an empty router.
func NewService(cfg Config, clock Clock, logger *zap.Logger) *Service {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 3
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 30 * time.Second
	}
	if cfg.ProviderTimeout <= 0 {
		cfg.ProviderTimeout = 30 * time.Second
	}
	return &Service{
		providers: make(map[string]Provider),
		breakers:  make(map[string]*Breaker),
		routes:    make(map[string]map[models.Capability][]string),
		defaults:  make(map[models.Capability][]string),
		cfg:       cfg,
		clock:     clock,
		logger:    logger,
	}
}

// Register adds a provider and its breaker.
func (s *Service) Register(provider Provider) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.providers[provider.Name()] = provider
	s.breakers[provider.Name()] = NewBreaker(s.cfg.FailureThreshold, s.cfg.Cooldown, s.clock)
	s.logger.Info("provider registered", zap.String("provider", provider.Name()))
}

// SetDefaultChain sets the fallback chain used when no tenant route matches.
func (s *Service) SetDefaultChain(capability models.Capability, chain []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.defaults[capability] = chain
}

// SetTenantChain sets a tenant-specific fallback chain.
func (s *Service) SetTenantChain(tenantID string, capability models.Capability, chain []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.routes[tenantID] == nil {
		s.routes[tenantID] = make(map[models.Capability][]string)
	}
	s.routes[tenantID][capability] = chain
}

// resolveChain picks the fallback chain: payload override, tenant route,
// then capability default.
func (s *Service) resolveChain(tenantID string, capability models.Capability, payload Payload) []string {
	if len(payload.Chain) > 0 {
		return payload.Chain
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if tenant, ok := s.routes[tenantID]; ok {
		if chain, ok := tenant[capability]; ok && len(chain) > 0 {
			return chain
		}
	}
	return s.defaults[capability]
}

// BreakerState exposes a provider's circuit state for readiness reporting.
func (s *Service) BreakerState(provider string) (CircuitState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.breakers[provider]
	if !ok {
		return "", false
	}
	return b.State(), true
}

// Invoke walks the fallback chain: OPEN circuits are skipped, the first
// CLOSED or HALF_OPEN provider is invoked, failures advance down the chain.
// The degradation stage is the chain index of the provider that served.
func (s *Service) Invoke(ctx context.Context, tenantID string, capability models.Capability, payload Payload) (*Result, error) {
	chain := s.resolveChain(tenantID, capability, payload)
	if len(chain) == 0 {
		return nil, services.NewProviderUnavailableError(nil,
			fmt.Errorf("no fallback chain for tenant %s capability %s", tenantID, capability))
	}

	var lastErr error
	for stage, name := range chain {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		s.mu.RLock()
		provider := s.providers[name]
		breaker := s.breakers[name]
		s.mu.RUnlock()

		if provider == nil || breaker == nil {
			s.logger.Warn("chain references unknown provider",
				zap.String("provider", name),
				zap.String("tenant_id", tenantID))
			lastErr = fmt.Errorf("provider %s not registered", name)
			continue
		}
		if !breaker.Allow() {
			s.logger.Debug("skipping provider with open circuit",
				zap.String("provider", name),
				zap.String("tenant_id", tenantID))
			lastErr = fmt.Errorf("provider %s circuit open", name)
			continue
		}

		attemptCtx, cancel := context.WithTimeout(ctx, s.cfg.ProviderTimeout)
		output, err := provider.Invoke(attemptCtx, payload)
		cancel()

		if err != nil {
			breaker.RecordFailure()
			lastErr = err
			s.logger.Warn("provider invocation failed",
				zap.String("provider", name),
				zap.Int("stage", stage),
				zap.Error(err))
			// Caller disconnects must not be charged against the provider's
			// health any further, and no later stage may run.
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			continue
		}

		breaker.RecordSuccess()
		return &Result{
			Output:           output,
			Provider:         name,
			DegradationStage: stage,
			ChainUsed:        chain[:stage+1],
		}, nil
	}

	return nil, services.NewProviderUnavailableError(chain, lastErr)
}

// HTTPProvider invokes a model backend over HTTP.
type HTTPProvider struct {
	name    string
	baseURL string
	client  *http.Client
}

// NewHTTPProvider creates a provider adapter for the given backend URL.
func NewHTTPProvider(name, baseURL string, timeout time.Duration) *HTTPProvider {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPProvider{
		name:    name,
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

// Name implements Provider.
func (p *HTTPProvider) Name() string { return p.name }

type providerRequest struct {
	Capability     string `json:"capability"`
	Prompt         string `json:"prompt"`
	SystemPromptID string `json:"system_prompt_id,omitempty"`
}

type providerResponse struct {
	Output string `json:"output"`
}

// Invoke implements Provider.
func (p *HTTPProvider) Invoke(ctx context.Context, payload Payload) (string, error) {
	body, err := json.Marshal(providerRequest{
		Capability:     string(payload.Capability),
		Prompt:         payload.Prompt,
		SystemPromptID: payload.SystemPromptID,
	})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/v1/invoke", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("provider %s unreachable: %w", p.name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("provider %s returned status %d", p.name, resp.StatusCode)
	}
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", err
	}
	var parsed providerResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", fmt.Errorf("provider %s returned malformed body: %w", p.name, err)
	}
	return parsed.Output, nil
}
