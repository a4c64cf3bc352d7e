package telemetry

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/upb/llm-safety-gateway/models"
	"go.uber.org/zap"
)

// DecisionRecord is the telemetry view of one terminal request. It carries
// content digests only, never prompt or output text.
type DecisionRecord struct {
	Timestamp        time.Time         `json:"timestamp_utc"`
	RequestID        uuid.UUID         `json:"request_id"`
	TenantID         string            `json:"tenant_id"`
	WorkspaceID      string            `json:"workspace_id,omitempty"`
	ActorID          string            `json:"actor_id"`
	Capability       models.Capability `json:"capability"`
	Decision         models.Decision   `json:"decision"`
	TerminalState    string            `json:"terminal_state"`
	RiskFlags        []models.RiskFlag `json:"risk_flags,omitempty"`
	PolicySnapshotID string            `json:"policy_snapshot_id,omitempty"`
	PolicyVersionIDs []string          `json:"policy_version_ids,omitempty"`
	PolicyDegraded   bool              `json:"policy_degraded,omitempty"`
	DegradationStage int               `json:"degradation_stage"`
	Provider         string            `json:"provider,omitempty"`
	PromptDigest     string            `json:"prompt_digest"`
	OutputDigest     string            `json:"output_digest,omitempty"`
	DryRun           bool              `json:"dry_run,omitempty"`
	LatencyMillis    int64             `json:"latency_ms"`
}

// EvidenceStore appends decision receipts to durable append-only storage.
type EvidenceStore interface {
	AppendReceipt(ctx context.Context, record DecisionRecord) error
}

// Emitter fans one decision record out to the structured log, the metrics
// registry and the evidence store. Emission must never fail the request that
// produced the record.
type Emitter struct {
	registry *Registry
	evidence EvidenceStore
	logger   *zap.Logger
}

// NewEmitter creates a telemetry emitter. The evidence store may be nil when
// receipt persistence is disabled.
func NewEmitter(registry *Registry, evidence EvidenceStore, logger *zap.Logger) *Emitter {
	return &Emitter{registry: registry, evidence: evidence, logger: logger}
}

// Registry exposes the metrics registry for HTTP wiring.
func (e *Emitter) Registry() *Registry {
	return e.registry
}

// RecordDecision emits exactly one record per terminal request state.
func (e *Emitter) RecordDecision(ctx context.Context, record DecisionRecord) {
	if record.Timestamp.IsZero() {
		record.Timestamp = time.Now().UTC()
	}

	fields := []zap.Field{
		zap.Time("timestamp_utc", record.Timestamp),
		zap.String("request_id", record.RequestID.String()),
		zap.String("tenant_id", record.TenantID),
		zap.String("actor_id", record.ActorID),
		zap.String("capability", string(record.Capability)),
		zap.String("decision", string(record.Decision)),
		zap.String("terminal_state", record.TerminalState),
		zap.String("policy_snapshot_id", record.PolicySnapshotID),
		zap.Strings("policy_version_ids", record.PolicyVersionIDs),
		zap.Int("degradation_stage", record.DegradationStage),
		zap.String("prompt_digest", record.PromptDigest),
		zap.Int64("latency_ms", record.LatencyMillis),
	}
	if record.WorkspaceID != "" {
		fields = append(fields, zap.String("workspace_id", record.WorkspaceID))
	}
	if record.Provider != "" {
		fields = append(fields, zap.String("provider", record.Provider))
	}
	if record.PolicyDegraded {
		fields = append(fields, zap.Bool("policy_degraded", true))
	}
	if record.DryRun {
		fields = append(fields, zap.Bool("dry_run", true))
	}
	for _, flag := range record.RiskFlags {
		fields = append(fields, zap.String("risk_class", string(flag.RiskClass)))
		break
	}
	e.logger.Info("request decision", fields...)

	e.registry.IncDecision(string(record.Decision), record.TerminalState)
	for _, flag := range record.RiskFlags {
		e.registry.IncRiskFlag(string(flag.RiskClass), string(flag.Severity))
	}
	if record.Provider != "" {
		e.registry.IncProvider(record.Provider, record.TerminalState)
	}
	e.registry.ObserveLatency("decision", time.Duration(record.LatencyMillis)*time.Millisecond)

	if e.evidence != nil {
		if err := e.evidence.AppendReceipt(ctx, record); err != nil {
			e.logger.Error("failed to append decision receipt",
				zap.String("request_id", record.RequestID.String()),
				zap.Error(err))
		}
	}
}
