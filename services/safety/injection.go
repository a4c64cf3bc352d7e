package safety

import (
	"context"
	"regexp"

	"github.com/upb/llm-safety-gateway/models"
)

// injectionPattern pairs a compiled pattern with its contribution to the
// request's injection risk score.
type injectionPattern struct {
	re          *regexp.Regexp
	weight      float64
	description string
}

var injectionPatterns = []injectionPattern{
	// System prompt leak attempts.
	{regexp.MustCompile(`(?i)ignore\s+(previous|all|above|prior)\s+(instructions?|prompts?|commands?)`), 0.9, "instruction override attempt"},
	{regexp.MustCompile(`(?i)(show|reveal|print|repeat)\s+(me\s+)?(your|the)\s+(system|original|initial|hidden|secret)\s+(prompt|instructions?)`), 0.9, "system prompt leak attempt"},
	{regexp.MustCompile(`(?i)disregard\s+(all|previous|above|any)\s+(instructions?|rules|commands?)`), 0.9, "instruction override attempt"},
	{regexp.MustCompile(`(?i)forget\s+(everything|all\s+previous|what\s+you\s+learned)`), 0.8, "instruction override attempt"},
	// Role manipulation.
	{regexp.MustCompile(`(?i)assume\s+(the\s+)?(role|identity)\s+of`), 0.6, "role manipulation"},
	{regexp.MustCompile(`(?i)pretend\s+(to\s+)?be\s+(a|an)\b`), 0.5, "role manipulation"},
	{regexp.MustCompile(`(?i)from\s+now\s+on[,]?\s+(you|your)\s+(are|will)`), 0.6, "role manipulation"},
	// Jailbreak phrases.
	{regexp.MustCompile(`(?i)\b(DAN|developer|unrestricted|god)\s+mode\b`), 0.85, "jailbreak phrase"},
	{regexp.MustCompile(`(?i)\bjailbreak\b`), 0.85, "jailbreak phrase"},
	{regexp.MustCompile(`(?i)without\s+(any|ethical|moral)\s+(restrictions?|limitations?|guidelines?)`), 0.7, "jailbreak phrase"},
	// Conversation delimiter smuggling.
	{regexp.MustCompile(`(\[/?SYSTEM\]|\[/?USER\]|\[/?ASSISTANT\])`), 0.8, "delimiter smuggling"},
	{regexp.MustCompile(`<\|(system|user|assistant|end)\|>`), 0.8, "delimiter smuggling"},
	// Encoded payloads.
	{regexp.MustCompile(`(?i)base64\s*[:\s=]\s*[A-Za-z0-9+/]{20,}={0,2}`), 0.6, "encoded payload"},
	{regexp.MustCompile(`(?:\\x[0-9a-fA-F]{2}){10,}`), 0.6, "encoded payload"},
}

// InjectionClassifier detects prompt-injection attempts in the inbound
// prompt. The highest-weight matching pattern sets the risk score; at or
// above the policy's block threshold the flag carries a BLOCK action.
type InjectionClassifier struct {
	blockThreshold float64
}

// NewInjectionClassifier creates the R1 classifier with the gateway-default
// block threshold. A tenant policy's MaxInjectionRisk overrides it per request.
func NewInjectionClassifier(blockThreshold float64) *InjectionClassifier {
	if blockThreshold <= 0 {
		blockThreshold = 0.7
	}
	return &InjectionClassifier{blockThreshold: blockThreshold}
}

func (c *InjectionClassifier) Name() string                { return "prompt-injection" }
func (c *InjectionClassifier) Version() string             { return "r1-2026.08" }
func (c *InjectionClassifier) Phase() Phase                { return PhaseInput }
func (c *InjectionClassifier) RiskClass() models.RiskClass { return models.RiskClassInjection }

// Evaluate scores the prompt against the injection pattern set.
func (c *InjectionClassifier) Evaluate(_ context.Context, input *EvalInput) ([]models.RiskFlag, error) {
	prompt := input.Request.Prompt

	score := 0.0
	description := ""
	for _, p := range injectionPatterns {
		if p.re.MatchString(prompt) && p.weight > score {
			score = p.weight
			description = p.description
		}
	}
	if score == 0 {
		return nil, nil
	}

	threshold := c.blockThreshold
	if input.Policy != nil && input.Policy.Rules.MaxInjectionRisk > 0 {
		threshold = input.Policy.Rules.MaxInjectionRisk
	}

	flag := models.RiskFlag{
		RiskClass:         models.RiskClassInjection,
		Severity:          models.SeverityWarn,
		Action:            models.ActionAlert,
		ClassifierVersion: c.Version(),
		ContextDigest:     models.ContextDigest(prompt),
		Rationale:         description,
	}
	if score >= threshold {
		flag.Severity = models.SeverityCritical
		flag.Action = models.ActionBlock
	}
	return []models.RiskFlag{flag}, nil
}
