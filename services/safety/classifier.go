package safety

import (
	"context"

	"github.com/upb/llm-safety-gateway/models"
)

// Phase separates classifiers that inspect inbound prompts from those that
// inspect provider output.
type Phase string

const (
	PhaseInput  Phase = "input"
	PhaseOutput Phase = "output"
)

// EvalInput carries everything a classifier may inspect. Classifiers must
// treat it as read-only.
type EvalInput struct {
	Request        *models.LLMRequest
	Policy         *models.PolicySnapshot
	OutputDraft    string
	PolicyDegraded bool
}

// Classifier is one pluggable risk detector. Implementations must be bounded
// and non-blocking: no external model calls on the hot path. The pipeline
// depends only on this interface, never on a concrete vendor.
type Classifier interface {
	Name() string
	Version() string
	Phase() Phase
	RiskClass() models.RiskClass
	Evaluate(ctx context.Context, input *EvalInput) ([]models.RiskFlag, error)
}

// versionUnavailable marks flags synthesized when a classifier itself failed.
const versionUnavailable = "unavailable"
