package incident

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/upb/llm-safety-gateway/models"
	"go.uber.org/zap"
)

const lockStripes = 64

// Clock abstracts time for deterministic escalation tests.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// RealClock returns the wall clock.
func RealClock() Clock { return realClock{} }

// AlertDispatcher receives incident notifications. Dispatch failures must
// not fail the request path.
type AlertDispatcher interface {
	Dispatch(ctx context.Context, incident models.SafetyIncident, reason string) error
}

// LogDispatcher emits alerts as structured log lines. The default sink when
// no pager integration is configured.
type LogDispatcher struct {
	logger *zap.Logger
}

// NewLogDispatcher creates a log-backed dispatcher.
func NewLogDispatcher(logger *zap.Logger) *LogDispatcher {
	return &LogDispatcher{logger: logger}
}

// Dispatch implements AlertDispatcher.
func (d *LogDispatcher) Dispatch(_ context.Context, inc models.SafetyIncident, reason string) error {
	d.logger.Warn("safety incident alert",
		zap.String("incident_id", inc.ID.String()),
		zap.String("tenant_id", inc.TenantID),
		zap.String("risk_class", string(inc.RiskClass)),
		zap.String("severity", string(inc.Severity)),
		zap.Int("occurrence_count", inc.OccurrenceCount),
		zap.String("reason", reason))
	return nil
}

// Config holds gateway-wide escalation defaults. Tenants override both knobs
// through their policy rules.
type Config struct {
	EscalationThreshold int
	EscalationWindow    time.Duration
}

// DefaultConfig returns the escalation defaults.
func DefaultConfig() Config {
	return Config{
		EscalationThreshold: 5,
		EscalationWindow:    time.Hour,
	}
}

// Service deduplicates risk flags into incidents and escalates repeats.
// Updates to the same dedupe key are serialized through striped locks, so
// concurrent identical flags produce exactly one incident with an accurate
// occurrence count.
type Service struct {
	store      Store
	dispatcher AlertDispatcher
	cfg        Config
	clock      Clock
	logger     *zap.Logger

	locks [lockStripes]sync.Mutex
}

// NewService creates the incident recorder.
func NewService(store Store, dispatcher AlertDispatcher, cfg Config, clock Clock, logger *zap.Logger) *Service {
	if cfg.EscalationThreshold <= 0 {
		cfg.EscalationThreshold = 5
	}
	if cfg.EscalationWindow <= 0 {
		cfg.EscalationWindow = time.Hour
	}
	return &Service{
		store:      store,
		dispatcher: dispatcher,
		cfg:        cfg,
		clock:      clock,
		logger:     logger,
	}
}

func (s *Service) lockFor(key string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(key))
	return &s.locks[h.Sum32()%lockStripes]
}

func (s *Service) threshold(rules models.PolicyRules) int {
	if rules.EscalationThreshold > 0 {
		return rules.EscalationThreshold
	}
	return s.cfg.EscalationThreshold
}

func (s *Service) window(rules models.PolicyRules) time.Duration {
	if rules.EscalationWindow > 0 {
		return rules.EscalationWindow
	}
	return s.cfg.EscalationWindow
}

// RecordFlags records every alertable flag from an assessment. Store or
// dispatch failures are logged and skipped; incident recording never fails
// the request that produced the flags.
func (s *Service) RecordFlags(ctx context.Context, tenantID string, rules models.PolicyRules, flags []models.RiskFlag) {
	for _, flag := range flags {
		if flag.Action == models.ActionNone {
			continue
		}
		if _, err := s.Record(ctx, tenantID, rules, flag); err != nil {
			s.logger.Error("failed to record incident",
				zap.String("tenant_id", tenantID),
				zap.String("risk_class", string(flag.RiskClass)),
				zap.Error(err))
		}
	}
}

// Record folds one flag into its deduplicated incident. A new incident
// alerts once on creation; a repeat bumps the occurrence count, and crossing
// the escalation threshold inside the window raises WARN to CRITICAL with
// exactly one escalation alert. Repeats outside the window restart the
// streak.
func (s *Service) Record(ctx context.Context, tenantID string, rules models.PolicyRules, flag models.RiskFlag) (models.SafetyIncident, error) {
	key := models.IncidentDedupeKey(tenantID, flag.RiskClass, flag.ContextDigest)
	now := s.clock.Now().UTC()

	lock := s.lockFor(key)
	lock.Lock()
	defer lock.Unlock()

	existing, err := s.store.Get(ctx, key)
	if err != nil {
		return models.SafetyIncident{}, err
	}

	if existing == nil {
		inc := models.SafetyIncident{
			ID:              uuid.New(),
			DedupeKey:       key,
			TenantID:        tenantID,
			RiskClass:       flag.RiskClass,
			Severity:        flag.Severity,
			FirstSeenAt:     now,
			LastSeenAt:      now,
			OccurrenceCount: 1,
		}
		if err := s.store.Put(ctx, inc); err != nil {
			return models.SafetyIncident{}, err
		}
		s.dispatch(ctx, inc, "incident created")
		return inc, nil
	}

	inc := *existing
	if now.Sub(inc.LastSeenAt) > s.window(rules) {
		// Stale streak: keep the incident but restart the escalation count.
		inc.FirstSeenAt = now
		inc.OccurrenceCount = 1
	} else {
		inc.OccurrenceCount++
	}
	inc.LastSeenAt = now

	escalated := false
	if flag.Severity == models.SeverityCritical && inc.Severity == models.SeverityWarn {
		inc.Severity = models.SeverityCritical
		escalated = true
	}
	if inc.Severity == models.SeverityWarn && inc.OccurrenceCount >= s.threshold(rules) {
		inc.Severity = models.SeverityCritical
		escalated = true
	}

	if err := s.store.Put(ctx, inc); err != nil {
		return models.SafetyIncident{}, err
	}
	if escalated {
		s.dispatch(ctx, inc, "incident escalated to CRITICAL")
	}
	return inc, nil
}

// ListByTenant returns the tenant's current incidents.
func (s *Service) ListByTenant(ctx context.Context, tenantID string) ([]models.SafetyIncident, error) {
	return s.store.ListByTenant(ctx, tenantID)
}

func (s *Service) dispatch(ctx context.Context, inc models.SafetyIncident, reason string) {
	if s.dispatcher == nil {
		return
	}
	if err := s.dispatcher.Dispatch(ctx, inc, reason); err != nil {
		s.logger.Error("alert dispatch failed",
			zap.String("incident_id", inc.ID.String()),
			zap.Error(err))
	}
}
