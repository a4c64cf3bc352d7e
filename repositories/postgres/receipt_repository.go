package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/upb/llm-safety-gateway/models"
	"github.com/upb/llm-safety-gateway/services/telemetry"
	"go.uber.org/zap"
)

// ReceiptRepository persists decision receipts. Implements
// telemetry.EvidenceStore.
type ReceiptRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewReceiptRepository creates a receipt repository
func NewReceiptRepository(db *DB, logger *zap.Logger) *ReceiptRepository {
	return &ReceiptRepository{
		db:     db,
		logger: logger,
	}
}

// AppendReceipt inserts one decision receipt. Receipts carry digests only;
// prompt and output text never reach this table.
func (r *ReceiptRepository) AppendReceipt(ctx context.Context, record telemetry.DecisionRecord) error {
	query := `
		INSERT INTO decision_receipts (
			request_id, tenant_id, workspace_id, actor_id, capability,
			decision, terminal_state, risk_flags, policy_snapshot_id,
			policy_version_ids, policy_degraded, degradation_stage,
			provider, prompt_digest, output_digest, dry_run, latency_ms,
			recorded_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18
		)
	`

	flags, err := json.Marshal(record.RiskFlags)
	if err != nil {
		return fmt.Errorf("failed to encode risk flags: %w", err)
	}
	versions, err := json.Marshal(record.PolicyVersionIDs)
	if err != nil {
		return fmt.Errorf("failed to encode policy versions: %w", err)
	}

	_, err = r.db.ExecContext(ctx, query,
		record.RequestID,
		record.TenantID,
		record.WorkspaceID,
		record.ActorID,
		string(record.Capability),
		string(record.Decision),
		record.TerminalState,
		flags,
		record.PolicySnapshotID,
		versions,
		record.PolicyDegraded,
		record.DegradationStage,
		record.Provider,
		record.PromptDigest,
		record.OutputDigest,
		record.DryRun,
		record.LatencyMillis,
		record.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to insert decision receipt: %w", err)
	}

	r.logger.Debug("decision receipt appended",
		zap.String("request_id", record.RequestID.String()),
		zap.String("tenant_id", record.TenantID))
	return nil
}

// CountByTenant returns the number of receipts recorded for a tenant since
// the given time. Used by operational reporting, not the request path.
func (r *ReceiptRepository) CountByTenant(ctx context.Context, tenantID string, since time.Time) (int64, error) {
	query := `SELECT COUNT(*) FROM decision_receipts WHERE tenant_id = $1 AND recorded_at >= $2`

	var count int64
	if err := r.db.QueryRowContext(ctx, query, tenantID, since).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count receipts: %w", err)
	}
	return count, nil
}

// CountByDecision returns per-decision receipt totals for a tenant since the
// given time.
func (r *ReceiptRepository) CountByDecision(ctx context.Context, tenantID string, since time.Time) (map[models.Decision]int64, error) {
	query := `
		SELECT decision, COUNT(*)
		FROM decision_receipts
		WHERE tenant_id = $1 AND recorded_at >= $2
		GROUP BY decision
	`

	rows, err := r.db.QueryContext(ctx, query, tenantID, since)
	if err != nil {
		return nil, fmt.Errorf("failed to query receipt totals: %w", err)
	}
	defer rows.Close()

	out := make(map[models.Decision]int64)
	for rows.Next() {
		var decision string
		var count int64
		if err := rows.Scan(&decision, &count); err != nil {
			return nil, fmt.Errorf("failed to scan receipt total: %w", err)
		}
		out[models.Decision(decision)] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating receipt totals: %w", err)
	}
	return out, nil
}
