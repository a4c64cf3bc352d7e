package safety

import (
	"context"

	"github.com/upb/llm-safety-gateway/models"
)

// ToolGuardClassifier is the R4 tool/action matrix: every tool call the
// caller proposed must appear on the tenant policy's allowlist before any
// output is released.
type ToolGuardClassifier struct{}

// NewToolGuardClassifier creates the R4 classifier.
func NewToolGuardClassifier() *ToolGuardClassifier { return &ToolGuardClassifier{} }

func (c *ToolGuardClassifier) Name() string                { return "tool-action-matrix" }
func (c *ToolGuardClassifier) Version() string             { return "r4-2026.08" }
func (c *ToolGuardClassifier) Phase() Phase                { return PhaseOutput }
func (c *ToolGuardClassifier) RiskClass() models.RiskClass { return models.RiskClassToolAbuse }

// Evaluate blocks on the first proposed tool call outside the allowlist.
func (c *ToolGuardClassifier) Evaluate(_ context.Context, input *EvalInput) ([]models.RiskFlag, error) {
	if input.Policy == nil || len(input.Request.ProposedToolCalls) == 0 {
		return nil, nil
	}

	var flags []models.RiskFlag
	for _, call := range input.Request.ProposedToolCalls {
		if input.Policy.AllowsTool(call.Name) {
			continue
		}
		flags = append(flags, models.RiskFlag{
			RiskClass:         models.RiskClassToolAbuse,
			Severity:          models.SeverityCritical,
			Action:            models.ActionBlock,
			ClassifierVersion: c.Version(),
			ContextDigest:     models.ContextDigest(call.Name + ":" + call.Arguments),
			Rationale:         "tool " + call.Name + " not on tenant allowlist",
		})
	}
	return flags, nil
}
