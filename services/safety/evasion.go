package safety

import (
	"context"

	"github.com/upb/llm-safety-gateway/models"
)

// EvasionClassifier is the R5 policy-evasion / signature-staleness check.
// A request evaluated against a stale or fail-open snapshot is flagged so
// repeated traffic timed against policy refresh windows becomes visible.
type EvasionClassifier struct{}

// NewEvasionClassifier creates the R5 classifier.
func NewEvasionClassifier() *EvasionClassifier { return &EvasionClassifier{} }

func (c *EvasionClassifier) Name() string                { return "policy-evasion" }
func (c *EvasionClassifier) Version() string             { return "r5-2026.08" }
func (c *EvasionClassifier) Phase() Phase                { return PhaseInput }
func (c *EvasionClassifier) RiskClass() models.RiskClass { return models.RiskClassPolicyEvasion }

// Evaluate flags requests served under a degraded policy snapshot.
func (c *EvasionClassifier) Evaluate(_ context.Context, input *EvalInput) ([]models.RiskFlag, error) {
	if !input.PolicyDegraded {
		return nil, nil
	}
	snapshotID := ""
	if input.Policy != nil {
		snapshotID = input.Policy.SnapshotID
	}
	return []models.RiskFlag{{
		RiskClass:         models.RiskClassPolicyEvasion,
		Severity:          models.SeverityWarn,
		Action:            models.ActionAlert,
		ClassifierVersion: c.Version(),
		ContextDigest:     models.ContextDigest(snapshotID),
		Rationale:         "request evaluated against stale policy snapshot",
	}}, nil
}
