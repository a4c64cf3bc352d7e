package models

import (
	"crypto/sha256"
	"encoding/hex"
)

// RiskClass identifies a category of safety violation.
type RiskClass string

const (
	// RiskClassInjection flags prompt-injection attempts in the input.
	RiskClassInjection RiskClass = "R1"
	// RiskClassPII flags PII or secret material in the input. Advisory only;
	// authoritative redaction happens in the external redaction engine.
	RiskClassPII RiskClass = "R2"
	// RiskClassOutputContent flags unsafe content in provider output.
	RiskClassOutputContent RiskClass = "R3"
	// RiskClassToolAbuse flags proposed tool calls outside the allowlist.
	RiskClassToolAbuse RiskClass = "R4"
	// RiskClassPolicyEvasion flags requests evaluated against a stale or
	// degraded policy snapshot.
	RiskClassPolicyEvasion RiskClass = "R5"
)

// Severity ranks how serious a risk flag is.
type Severity string

const (
	SeverityWarn     Severity = "WARN"
	SeverityCritical Severity = "CRITICAL"
)

// FlagAction is what the pipeline does about a flag.
type FlagAction string

const (
	ActionBlock FlagAction = "BLOCK"
	ActionAlert FlagAction = "ALERT"
	ActionNone  FlagAction = "NONE"
)

// RiskFlag is one finding produced by a safety classifier. Flags are
// immutable; a request accumulates zero or more of them.
type RiskFlag struct {
	RiskClass         RiskClass  `json:"risk_class"`
	Severity          Severity   `json:"severity"`
	Action            FlagAction `json:"action"`
	ClassifierVersion string     `json:"classifier_version"`
	ContextDigest     string     `json:"context_digest"`
	Rationale         string     `json:"rationale,omitempty"`
}

// SafetyAssessment is the ordered result of one pipeline phase plus the
// phase verdict. Computed once per request per phase.
type SafetyAssessment struct {
	Flags   []RiskFlag `json:"flags"`
	Verdict Decision   `json:"verdict"`
}

// Blocked reports whether any flag in the assessment carries a BLOCK action.
func (a *SafetyAssessment) Blocked() bool {
	for _, f := range a.Flags {
		if f.Action == ActionBlock {
			return true
		}
	}
	return false
}

// BlockingFlag returns the first BLOCK flag, or nil when the phase passed.
func (a *SafetyAssessment) BlockingFlag() *RiskFlag {
	for i := range a.Flags {
		if a.Flags[i].Action == ActionBlock {
			return &a.Flags[i]
		}
	}
	return nil
}

// ContextDigest produces the hex SHA-256 digest used to tie flags and
// incidents to content without retaining the content itself.
func ContextDigest(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}
