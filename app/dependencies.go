package app

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/upb/llm-safety-gateway/config"
	"github.com/upb/llm-safety-gateway/handlers"
	"github.com/upb/llm-safety-gateway/identity"
	"github.com/upb/llm-safety-gateway/middleware"
	"github.com/upb/llm-safety-gateway/models"
	"github.com/upb/llm-safety-gateway/repositories/postgres"
	"github.com/upb/llm-safety-gateway/services/budget"
	"github.com/upb/llm-safety-gateway/services/gateway"
	"github.com/upb/llm-safety-gateway/services/incident"
	"github.com/upb/llm-safety-gateway/services/policycache"
	"github.com/upb/llm-safety-gateway/services/redaction"
	"github.com/upb/llm-safety-gateway/services/router"
	"github.com/upb/llm-safety-gateway/services/safety"
	"github.com/upb/llm-safety-gateway/services/telemetry"
)

// Dependencies holds all application dependencies. This is the central
// wiring point for dependency injection.
type Dependencies struct {
	// Infrastructure
	Config *config.Config
	Logger *zap.Logger
	DB     *postgres.DB  // nil when durable receipts are disabled
	Redis  *redis.Client // nil when the in-memory incident store is used

	// Pipeline services
	Metrics     *telemetry.Registry
	PolicyCache *policycache.Service
	Safety      *safety.Pipeline
	Budget      *budget.Guard
	Router      *router.Service
	Incidents   *incident.Service
	Telemetry   *telemetry.Emitter
	Gateway     *gateway.Service

	// HTTP surface
	AuthMiddleware *middleware.AuthMiddleware
	LLMHandler     *handlers.LLMHandler
	HealthHandler  *handlers.HealthHandler
}

// NewDependencies creates and wires up all application dependencies.
func NewDependencies(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Dependencies, error) {
	deps := &Dependencies{
		Config: cfg,
		Logger: logger,
	}

	if err := deps.initEvidence(ctx); err != nil {
		return nil, fmt.Errorf("failed to initialize evidence store: %w", err)
	}
	deps.initTelemetry()
	deps.initPipeline()
	if err := deps.initIncidents(ctx); err != nil {
		return nil, fmt.Errorf("failed to initialize incident store: %w", err)
	}
	deps.initGateway()
	deps.initHTTP()

	logger.Info("all dependencies initialized successfully")
	return deps, nil
}

// initEvidence connects the optional receipt database. No configuration
// means decisions are logged only.
func (d *Dependencies) initEvidence(ctx context.Context) error {
	if d.Config.Evidence == nil {
		d.Logger.Info("evidence store not configured, durable receipts disabled")
		return nil
	}

	db, err := postgres.NewDB(*d.Config.Evidence, d.Logger)
	if err != nil {
		return err
	}
	if err := db.InitSchema(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to initialize receipt schema: %w", err)
	}

	d.DB = db
	d.Logger.Info("evidence store connected",
		zap.String("connection", d.Config.Evidence.LogString()))
	return nil
}

func (d *Dependencies) initTelemetry() {
	d.Metrics = telemetry.NewRegistry()

	var evidence telemetry.EvidenceStore
	if d.DB != nil {
		evidence = postgres.NewReceiptRepository(d.DB, d.Logger)
	}
	d.Telemetry = telemetry.NewEmitter(d.Metrics, evidence, d.Logger)
}

// initPipeline builds the policy cache, safety pipeline, budget guard and
// provider router from configuration.
func (d *Dependencies) initPipeline() {
	cfg := d.Config

	fetcher := policycache.NewHTTPFetcher(cfg.PolicyCache.AuthorityURL, cfg.PolicyCache.FetchTimeout)
	d.PolicyCache = policycache.NewService(fetcher, policycache.RealClock(), policycache.Config{
		FreshTTL:     cfg.PolicyCache.FreshTTL,
		HardTTL:      cfg.PolicyCache.HardTTL,
		FetchTimeout: cfg.PolicyCache.FetchTimeout,
	}, d.Logger)

	d.Safety = safety.DefaultPipeline(d.Logger, cfg.Safety.InjectionBlockThreshold)

	var ledger budget.Ledger
	if cfg.Budget.LedgerURL != "" {
		ledger = budget.NewHTTPLedger(cfg.Budget.LedgerURL, cfg.Budget.Timeout)
	} else {
		d.Logger.Warn("no quota ledger configured, using in-process ledger")
		ledger = budget.NewMemoryLedger(0)
	}
	d.Budget = budget.NewGuard(ledger, d.Logger)

	d.Router = router.NewService(router.Config{
		FailureThreshold: cfg.Router.FailureThreshold,
		Cooldown:         cfg.Router.Cooldown,
		ProviderTimeout:  cfg.Router.ProviderTimeout,
	}, router.RealClock(), d.Logger)

	for _, p := range cfg.Providers {
		d.Router.Register(router.NewHTTPProvider(p.Name, p.BaseURL, p.Timeout))
	}
	if len(cfg.Providers) == 0 {
		d.Logger.Warn("no providers configured")
	}
	d.Router.SetDefaultChain(models.CapabilityChat, cfg.Router.ChatChain)
	d.Router.SetDefaultChain(models.CapabilityEmbedding, cfg.Router.EmbeddingChain)
}

// initIncidents selects the shared Redis store when configured, otherwise
// the per-process memory store.
func (d *Dependencies) initIncidents(ctx context.Context) error {
	cfg := d.Config

	var store incident.Store
	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return fmt.Errorf("redis ping failed: %w", err)
		}
		d.Redis = client
		store = incident.NewRedisStore(client, cfg.Incidents.Retention)
		d.Logger.Info("incident store using redis", zap.String("addr", cfg.Redis.Addr))
	} else {
		store = incident.NewMemoryStore()
		d.Logger.Info("incident store using process memory")
	}

	d.Incidents = incident.NewService(store, incident.NewLogDispatcher(d.Logger), incident.Config{
		EscalationThreshold: cfg.Incidents.EscalationThreshold,
		EscalationWindow:    cfg.Incidents.EscalationWindow,
	}, incident.RealClock(), d.Logger)
	return nil
}

func (d *Dependencies) initGateway() {
	var redactor redaction.Redactor
	if d.Config.Redaction.BaseURL != "" {
		redactor = redaction.NewHTTPClient(d.Config.Redaction.BaseURL, d.Config.Redaction.Timeout, d.Logger)
	} else {
		redactor = redaction.Passthrough{}
	}

	d.Gateway = gateway.NewService(
		d.PolicyCache,
		d.Safety,
		d.Budget,
		d.Router,
		d.Incidents,
		d.Telemetry,
		redactor,
		d.Logger,
	)
}

func (d *Dependencies) initHTTP() {
	validator := identity.NewValidator(
		d.Config.Auth.Issuer,
		d.Config.Auth.Audience,
		d.Config.Auth.SigningSecret,
		d.Logger,
	)
	d.AuthMiddleware = middleware.NewAuthMiddleware(validator, d.Telemetry, d.Logger)
	d.LLMHandler = handlers.NewLLMHandler(d.Gateway, d.Logger)

	var checks []handlers.ReadinessCheck
	if d.DB != nil {
		checks = append(checks, handlers.ReadinessCheck{
			Name:  "evidence_store",
			Probe: d.DB.HealthCheck,
		})
	}
	if d.Redis != nil {
		checks = append(checks, handlers.ReadinessCheck{
			Name: "incident_store",
			Probe: func(ctx context.Context) error {
				return d.Redis.Ping(ctx).Err()
			},
		})
	}
	d.HealthHandler = handlers.NewHealthHandler(checks, d.Logger)
}

// Close gracefully shuts down all dependencies
func (d *Dependencies) Close(ctx context.Context) error {
	d.Logger.Info("shutting down dependencies")

	var errs []error

	if d.DB != nil {
		if err := d.DB.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close evidence store: %w", err))
		} else {
			d.Logger.Info("evidence store connection closed")
		}
	}
	if d.Redis != nil {
		if err := d.Redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close redis client: %w", err))
		}
	}

	if d.Logger != nil {
		_ = d.Logger.Sync()
	}

	if len(errs) > 0 {
		return fmt.Errorf("errors during shutdown: %v", errs)
	}
	return nil
}
