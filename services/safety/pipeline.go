package safety

import (
	"context"
	"fmt"

	"github.com/upb/llm-safety-gateway/models"
	"github.com/upb/llm-safety-gateway/services"
	"go.uber.org/zap"
)

// Pipeline runs an ordered set of risk classifiers over a request. The order
// of registration is the order of evaluation within each phase.
type Pipeline struct {
	classifiers []Classifier
	logger      *zap.Logger
}

// NewPipeline creates a pipeline over the given classifiers, evaluated in
// the order supplied.
func NewPipeline(logger *zap.Logger, classifiers ...Classifier) *Pipeline {
	return &Pipeline{classifiers: classifiers, logger: logger}
}

// DefaultPipeline wires the standard R1-R5 classifier set.
func DefaultPipeline(logger *zap.Logger, injectionBlockThreshold float64) *Pipeline {
	return NewPipeline(logger,
		NewInjectionClassifier(injectionBlockThreshold),
		NewPIIClassifier(),
		NewEvasionClassifier(),
		NewContentClassifier(),
		NewToolGuardClassifier(),
	)
}

// RunInputChecks evaluates all input-phase classifiers against the request.
// The pipeline short-circuits on the first BLOCK flag: later input
// classifiers are skipped and the provider is never invoked.
func (p *Pipeline) RunInputChecks(ctx context.Context, req *models.LLMRequest, policy *models.PolicySnapshot, policyDegraded bool) (*models.SafetyAssessment, error) {
	input := &EvalInput{Request: req, Policy: policy, PolicyDegraded: policyDegraded}
	return p.run(ctx, PhaseInput, input)
}

// RunOutputChecks evaluates all output-phase classifiers against the
// provider's draft response, with the same short-circuit rule.
func (p *Pipeline) RunOutputChecks(ctx context.Context, req *models.LLMRequest, policy *models.PolicySnapshot, outputDraft string) (*models.SafetyAssessment, error) {
	input := &EvalInput{Request: req, Policy: policy, OutputDraft: outputDraft}
	return p.run(ctx, PhaseOutput, input)
}

func (p *Pipeline) run(ctx context.Context, phase Phase, input *EvalInput) (*models.SafetyAssessment, error) {
	assessment := &models.SafetyAssessment{Verdict: models.DecisionAllow}

	for _, classifier := range p.classifiers {
		if classifier.Phase() != phase {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		flags, err := p.evaluate(ctx, classifier, input)
		if err != nil {
			// A broken classifier must not hard-fail the request unless the
			// tenant policy marks its risk class fail-closed.
			if input.Policy != nil && input.Policy.Rules.FailClosed(classifier.RiskClass()) {
				return nil, services.WrapError(services.ErrorTypeClassifier,
					fmt.Sprintf("classifier %s failed with risk class %s marked fail-closed",
						classifier.Name(), classifier.RiskClass()), err)
			}
			p.logger.Warn("classifier failed, downgrading to WARN flag",
				zap.String("classifier", classifier.Name()),
				zap.String("risk_class", string(classifier.RiskClass())),
				zap.Error(err))
			assessment.Flags = append(assessment.Flags, models.RiskFlag{
				RiskClass:         classifier.RiskClass(),
				Severity:          models.SeverityWarn,
				Action:            models.ActionAlert,
				ClassifierVersion: versionUnavailable,
				Rationale:         "classifier unavailable: " + classifier.Name(),
			})
			continue
		}

		assessment.Flags = append(assessment.Flags, flags...)
		for _, flag := range flags {
			if flag.Action == models.ActionBlock {
				assessment.Verdict = models.DecisionBlock
				return assessment, nil
			}
		}
	}
	return assessment, nil
}

// evaluate isolates one classifier call, converting panics into errors so a
// misbehaving vendor implementation degrades instead of crashing the request.
func (p *Pipeline) evaluate(ctx context.Context, classifier Classifier, input *EvalInput) (flags []models.RiskFlag, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("classifier %s panicked: %v", classifier.Name(), r)
		}
	}()
	return classifier.Evaluate(ctx, input)
}
