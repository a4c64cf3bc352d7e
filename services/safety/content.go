package safety

import (
	"context"
	"regexp"

	"github.com/upb/llm-safety-gateway/models"
)

// contentRule maps an output pattern to a category and whether matches block
// release of the output.
type contentRule struct {
	re       *regexp.Regexp
	category string
	block    bool
}

var contentRules = []contentRule{
	// Leaked secret material in output always blocks release.
	{regexp.MustCompile(`-----BEGIN\s+(?:RSA\s+|OPENSSH\s+|EC\s+|DSA\s+)?PRIVATE\s+KEY-----`), "secret_leak", true},
	{regexp.MustCompile(`\bAKIA[0-9A-Z]{16}\b`), "secret_leak", true},
	{regexp.MustCompile(`\bsk-[A-Za-z0-9\-_]{20,}\b`), "secret_leak", true},
	// System prompt echoes suggest a successful extraction.
	{regexp.MustCompile(`(?i)my\s+(system|initial)\s+(prompt|instructions?)\s+(is|are|say)`), "system_prompt_echo", true},
	// Harmful instruction content warns for review.
	{regexp.MustCompile(`(?i)how\s+to\s+(build|make|synthesi[sz]e)\s+(a\s+)?(bomb|explosive|nerve\s+agent)`), "harmful_instructions", true},
	{regexp.MustCompile(`(?i)step[-\s]by[-\s]step\s+.{0,40}(malware|ransomware|keylogger)`), "harmful_instructions", true},
	// PII appearing in output is advisory.
	{regexp.MustCompile(`\b[0-9]{3}-[0-9]{2}-[0-9]{4}\b`), "pii_leak", false},
	{regexp.MustCompile(`\b[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}\b`), "pii_leak", false},
}

// ContentClassifier is the R3 output-content safety check applied to the
// provider's draft response before it is released to the caller.
type ContentClassifier struct{}

// NewContentClassifier creates the R3 classifier.
func NewContentClassifier() *ContentClassifier { return &ContentClassifier{} }

func (c *ContentClassifier) Name() string                { return "output-content-safety" }
func (c *ContentClassifier) Version() string             { return "r3-2026.08" }
func (c *ContentClassifier) Phase() Phase                { return PhaseOutput }
func (c *ContentClassifier) RiskClass() models.RiskClass { return models.RiskClassOutputContent }

// Evaluate inspects the output draft against the content rule set.
func (c *ContentClassifier) Evaluate(_ context.Context, input *EvalInput) ([]models.RiskFlag, error) {
	draft := input.OutputDraft
	if draft == "" {
		return nil, nil
	}
	digest := models.ContextDigest(draft)

	var flags []models.RiskFlag
	seen := make(map[string]bool)
	for _, rule := range contentRules {
		if seen[rule.category] || !rule.re.MatchString(draft) {
			continue
		}
		seen[rule.category] = true
		flag := models.RiskFlag{
			RiskClass:         models.RiskClassOutputContent,
			Severity:          models.SeverityWarn,
			Action:            models.ActionAlert,
			ClassifierVersion: c.Version(),
			ContextDigest:     digest,
			Rationale:         rule.category + " in provider output",
		}
		if rule.block {
			flag.Severity = models.SeverityCritical
			flag.Action = models.ActionBlock
		}
		flags = append(flags, flag)
	}
	return flags, nil
}
