package gateway

import (
	"context"
	"time"

	"github.com/upb/llm-safety-gateway/models"
	"github.com/upb/llm-safety-gateway/services"
	"github.com/upb/llm-safety-gateway/services/budget"
	"github.com/upb/llm-safety-gateway/services/redaction"
	"github.com/upb/llm-safety-gateway/services/router"
	"github.com/upb/llm-safety-gateway/services/telemetry"
	"go.uber.org/zap"
)

// Terminal request states. Telemetry fires exactly once per request on
// whichever of these the request reaches.
const (
	StateResponded   = "RESPONDED"
	StateBlocked     = "BLOCKED"
	StateDenied      = "DENIED"
	StateUnavailable = "UNAVAILABLE"
	StateThrottled   = "THROTTLED"
	StateAbandoned   = "ABANDONED"
)

// PolicySource resolves a tenant's policy snapshot, reporting whether the
// snapshot is degraded (stale or served under fail-open).
type PolicySource interface {
	Fetch(ctx context.Context, tenantID string) (*models.PolicySnapshot, bool, error)
}

// SafetyChecker runs the phased risk classifiers.
type SafetyChecker interface {
	RunInputChecks(ctx context.Context, req *models.LLMRequest, policy *models.PolicySnapshot, policyDegraded bool) (*models.SafetyAssessment, error)
	RunOutputChecks(ctx context.Context, req *models.LLMRequest, policy *models.PolicySnapshot, outputDraft string) (*models.SafetyAssessment, error)
}

// BudgetGuard gates provider invocation on the tenant's quota.
type BudgetGuard interface {
	Check(ctx context.Context, tenantID string, estimatedCost float64) error
	RecordUsage(ctx context.Context, tenantID string, cost float64)
}

// ProviderInvoker walks the fallback chain.
type ProviderInvoker interface {
	Invoke(ctx context.Context, tenantID string, capability models.Capability, payload router.Payload) (*router.Result, error)
}

// IncidentRecorder folds risk flags into deduplicated incidents.
type IncidentRecorder interface {
	RecordFlags(ctx context.Context, tenantID string, rules models.PolicyRules, flags []models.RiskFlag)
}

// DecisionEmitter receives the terminal telemetry record.
type DecisionEmitter interface {
	RecordDecision(ctx context.Context, record telemetry.DecisionRecord)
}

// Service composes the decision pipeline: policy, input safety, redaction,
// budget, provider, output safety, incidents, telemetry. Phases run strictly
// in that order; no phase observes a later phase's result.
type Service struct {
	policy    PolicySource
	safety    SafetyChecker
	budget    BudgetGuard
	providers ProviderInvoker
	incidents IncidentRecorder
	telemetry DecisionEmitter
	redactor  redaction.Redactor
	logger    *zap.Logger
}

// NewService wires the orchestrator.
func NewService(
	policy PolicySource,
	safety SafetyChecker,
	budgetGuard BudgetGuard,
	providers ProviderInvoker,
	incidents IncidentRecorder,
	emitter DecisionEmitter,
	redactor redaction.Redactor,
	logger *zap.Logger,
) *Service {
	if redactor == nil {
		redactor = redaction.Passthrough{}
	}
	return &Service{
		policy:    policy,
		safety:    safety,
		budget:    budgetGuard,
		providers: providers,
		incidents: incidents,
		telemetry: emitter,
		redactor:  redactor,
		logger:    logger,
	}
}

// run carries the per-request pipeline state.
type run struct {
	req      *models.LLMRequest
	start    time.Time
	policy   *models.PolicySnapshot
	degraded bool
	flags    []models.RiskFlag
	dryRun   bool
}

// Process drives one request to a terminal state. The returned error, when
// non-nil, is a DomainError the HTTP layer maps to a status code; the
// response carries the decision and accumulated flags in either case.
func (s *Service) Process(ctx context.Context, req *models.LLMRequest) (*models.LLMResponse, error) {
	return s.process(ctx, req, false)
}

// DryRun evaluates policy and input safety only. BudgetGuard and the
// provider router are never touched, and nothing is charged.
func (s *Service) DryRun(ctx context.Context, req *models.LLMRequest) (*models.LLMResponse, error) {
	return s.process(ctx, req, true)
}

func (s *Service) process(ctx context.Context, req *models.LLMRequest, dryRun bool) (*models.LLMResponse, error) {
	r := &run{req: req, start: time.Now(), dryRun: dryRun}

	// POLICY_RESOLVED
	policy, degraded, err := s.policy.Fetch(ctx, req.TenantID)
	if err != nil {
		s.finish(ctx, r, models.DecisionBlock, StateUnavailable, nil)
		return s.response(r, models.DecisionBlock, nil), err
	}
	r.policy = policy
	r.degraded = degraded

	// INPUT_SAFE
	input, err := s.safety.RunInputChecks(ctx, req, policy, degraded)
	if err != nil {
		s.finish(ctx, r, models.DecisionBlock, s.errState(ctx, err), nil)
		return s.response(r, models.DecisionBlock, nil), err
	}
	r.flags = append(r.flags, input.Flags...)
	if input.Verdict == models.DecisionBlock {
		s.recordIncidents(ctx, r)
		s.finish(ctx, r, models.DecisionBlock, StateBlocked, nil)
		return s.response(r, models.DecisionBlock, nil), blockError(input)
	}

	if dryRun {
		s.recordIncidents(ctx, r)
		s.finish(ctx, r, models.DecisionAllow, StateResponded, nil)
		return s.response(r, models.DecisionAllow, nil), nil
	}

	// Redaction produces the provider-bound payload; the stored request is
	// never mutated. Engine failure degrades to the unredacted prompt since
	// the R2 classifier has already flagged anything it found.
	prompt := req.Prompt
	if redacted, err := s.redactor.Redact(ctx, req.TenantID, req.Prompt, policy); err != nil {
		s.logger.Warn("redaction failed, forwarding unredacted payload",
			zap.String("request_id", req.RequestID.String()),
			zap.Error(err))
	} else {
		prompt = redacted.Redacted
	}

	// BUDGET_OK
	estimated := budget.EstimateCost(req.Capability, prompt)
	if err := s.budget.Check(ctx, req.TenantID, estimated); err != nil {
		s.recordIncidents(ctx, r)
		s.finish(ctx, r, models.DecisionBlock, StateThrottled, nil)
		return s.response(r, models.DecisionBlock, nil), err
	}

	// PROVIDER_INVOKED
	payload := router.Payload{
		Capability:     req.Capability,
		Prompt:         prompt,
		SystemPromptID: req.SystemPromptID,
	}
	if policy != nil {
		payload.Chain = policy.Rules.Routes[req.Capability]
	}
	result, err := s.providers.Invoke(ctx, req.TenantID, req.Capability, payload)
	if err != nil {
		s.recordIncidents(ctx, r)
		s.finish(ctx, r, models.DecisionBlock, s.errState(ctx, err), nil)
		return s.response(r, models.DecisionBlock, nil), err
	}

	// OUTPUT_SAFE
	output, err := s.safety.RunOutputChecks(ctx, req, policy, result.Output)
	if err != nil {
		s.recordIncidents(ctx, r)
		s.finish(ctx, r, models.DecisionBlock, s.errState(ctx, err), result)
		return s.response(r, models.DecisionBlock, result), err
	}
	r.flags = append(r.flags, output.Flags...)
	if output.Verdict == models.DecisionBlock {
		// The provider produced content but it never reaches the caller.
		s.recordIncidents(ctx, r)
		s.finish(ctx, r, models.DecisionBlock, StateBlocked, result)
		return s.response(r, models.DecisionBlock, result), blockError(output)
	}

	s.budget.RecordUsage(ctx, req.TenantID, estimated+budget.EstimateCost(req.Capability, result.Output))

	// RESPONDED
	s.recordIncidents(ctx, r)
	s.finish(ctx, r, models.DecisionAllow, StateResponded, result)
	resp := s.response(r, models.DecisionAllow, result)
	resp.Output = result.Output
	return resp, nil
}

// errState maps a pipeline error to its terminal state. Caller disconnects
// win over whatever error they caused downstream.
func (s *Service) errState(ctx context.Context, err error) string {
	if ctx.Err() != nil {
		return StateAbandoned
	}
	switch services.GetErrorType(err) {
	case services.ErrorTypeBudget:
		return StateThrottled
	case services.ErrorTypeAuth:
		return StateDenied
	default:
		return StateUnavailable
	}
}

func blockError(assessment *models.SafetyAssessment) error {
	flag := assessment.BlockingFlag()
	if flag == nil {
		return services.ErrSafetyBlock
	}
	return services.NewSafetyBlockError(string(flag.RiskClass), flag.Rationale)
}

func (s *Service) recordIncidents(ctx context.Context, r *run) {
	if len(r.flags) == 0 {
		return
	}
	var rules models.PolicyRules
	if r.policy != nil {
		rules = r.policy.Rules
	}
	s.incidents.RecordFlags(ctx, r.req.TenantID, rules, r.flags)
}

func (s *Service) response(r *run, decision models.Decision, result *router.Result) *models.LLMResponse {
	resp := &models.LLMResponse{
		RequestID: r.req.RequestID,
		Decision:  decision,
		RiskFlags: r.flags,
	}
	if result != nil {
		resp.DegradationStage = result.DegradationStage
		resp.FallbackChainUsed = result.ChainUsed
	}
	return resp
}

// finish emits the single terminal telemetry record for the request.
func (s *Service) finish(ctx context.Context, r *run, decision models.Decision, state string, result *router.Result) {
	record := telemetry.DecisionRecord{
		Timestamp:      time.Now().UTC(),
		RequestID:      r.req.RequestID,
		TenantID:       r.req.TenantID,
		Capability:     r.req.Capability,
		Decision:       decision,
		TerminalState:  state,
		RiskFlags:      r.flags,
		PolicyDegraded: r.degraded,
		PromptDigest:   models.ContextDigest(r.req.Prompt),
		DryRun:         r.dryRun,
		LatencyMillis:  time.Since(r.start).Milliseconds(),
	}
	if r.req.Actor != nil {
		record.ActorID = r.req.Actor.ActorID
		record.WorkspaceID = r.req.Actor.WorkspaceID
	}
	if r.policy != nil {
		record.PolicySnapshotID = r.policy.SnapshotID
		record.PolicyVersionIDs = r.policy.VersionIDs
	}
	if result != nil {
		record.DegradationStage = result.DegradationStage
		record.Provider = result.Provider
		record.OutputDigest = models.ContextDigest(result.Output)
	}
	// Telemetry must survive caller cancellation.
	s.telemetry.RecordDecision(context.WithoutCancel(ctx), record)
}
