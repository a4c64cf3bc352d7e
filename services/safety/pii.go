package safety

import (
	"context"
	"regexp"

	"github.com/upb/llm-safety-gateway/models"
)

// piiPattern names a category of PII or secret material.
type piiPattern struct {
	re       *regexp.Regexp
	category string
}

var piiPatterns = []piiPattern{
	{regexp.MustCompile(`\b[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}\b`), "email"},
	{regexp.MustCompile(`\b[0-9]{3}-[0-9]{2}-[0-9]{4}\b`), "ssn"},
	{regexp.MustCompile(`\b4[0-9]{12}(?:[0-9]{3})?\b`), "credit_card"},
	{regexp.MustCompile(`\b5[1-5][0-9]{14}\b`), "credit_card"},
	{regexp.MustCompile(`\b3[47][0-9]{13}\b`), "credit_card"},
	{regexp.MustCompile(`\b(\+?1[-.]?)?\(?([0-9]{3})\)?[-.]?([0-9]{3})[-.]?([0-9]{4})\b`), "phone"},
}

var secretPatterns = []piiPattern{
	{regexp.MustCompile(`\bAKIA[0-9A-Z]{16}\b`), "aws_access_key"},
	{regexp.MustCompile(`\bAIza[0-9A-Za-z\-_]{35}\b`), "gcp_api_key"},
	{regexp.MustCompile(`\beyJ[A-Za-z0-9_\-]+\.eyJ[A-Za-z0-9_\-]+\.[A-Za-z0-9_\-]+\b`), "jwt"},
	{regexp.MustCompile(`-----BEGIN\s+(?:RSA\s+|OPENSSH\s+|EC\s+|DSA\s+)?PRIVATE\s+KEY-----`), "private_key"},
	{regexp.MustCompile(`\bxox[baprs]-[A-Za-z0-9\-]{10,}\b`), "slack_token"},
	{regexp.MustCompile(`\bgh[pousr]_[A-Za-z0-9]{36,}\b`), "github_token"},
	{regexp.MustCompile(`\bsk-[A-Za-z0-9\-_]{20,}\b`), "provider_api_key"},
	{regexp.MustCompile(`(?i)api[_\-]?key[:\s=]+['"]?[A-Za-z0-9_\-]{20,}['"]?`), "generic_api_key"},
	{regexp.MustCompile(`(?i)password[:\s=]+['"]?[^\s'"]{8,}['"]?`), "password"},
}

// PIIClassifier is the R2 pre-filter for PII and secret material in inbound
// prompts. It is advisory only: authoritative redaction happens in the
// external redaction engine, so flags carry ALERT, never BLOCK.
type PIIClassifier struct{}

// NewPIIClassifier creates the R2 classifier.
func NewPIIClassifier() *PIIClassifier { return &PIIClassifier{} }

func (c *PIIClassifier) Name() string                { return "pii-secret-prefilter" }
func (c *PIIClassifier) Version() string             { return "r2-2026.08" }
func (c *PIIClassifier) Phase() Phase                { return PhaseInput }
func (c *PIIClassifier) RiskClass() models.RiskClass { return models.RiskClassPII }

// Evaluate emits one advisory flag per detected category. Secret material is
// CRITICAL; plain PII is WARN.
func (c *PIIClassifier) Evaluate(_ context.Context, input *EvalInput) ([]models.RiskFlag, error) {
	prompt := input.Request.Prompt
	digest := models.ContextDigest(prompt)

	var flags []models.RiskFlag
	seen := make(map[string]bool)

	for _, p := range piiPatterns {
		if seen[p.category] || !p.re.MatchString(prompt) {
			continue
		}
		seen[p.category] = true
		flags = append(flags, models.RiskFlag{
			RiskClass:         models.RiskClassPII,
			Severity:          models.SeverityWarn,
			Action:            models.ActionAlert,
			ClassifierVersion: c.Version(),
			ContextDigest:     digest,
			Rationale:         "possible " + p.category + " in prompt",
		})
	}
	for _, p := range secretPatterns {
		if seen[p.category] || !p.re.MatchString(prompt) {
			continue
		}
		seen[p.category] = true
		flags = append(flags, models.RiskFlag{
			RiskClass:         models.RiskClassPII,
			Severity:          models.SeverityCritical,
			Action:            models.ActionAlert,
			ClassifierVersion: c.Version(),
			ContextDigest:     digest,
			Rationale:         "possible " + p.category + " in prompt",
		})
	}
	return flags, nil
}
