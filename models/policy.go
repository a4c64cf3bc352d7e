package models

import (
	"time"
)

// PolicySnapshot is a signed, versioned view of one tenant's policy at a
// point in time. Snapshots are immutable once fetched; signature verification
// happens at the policy authority and is out of scope here.
type PolicySnapshot struct {
	SnapshotID      string      `json:"snapshot_id"`
	TenantID        string      `json:"tenant_id"`
	VersionIDs      []string    `json:"version_ids"`
	FailOpenAllowed bool        `json:"fail_open_allowed"`
	ToolAllowlist   []string    `json:"tool_allowlist"`
	Rules           PolicyRules `json:"rules"`
}

// PolicyRules holds the tenant-tunable knobs consumed by the decision
// pipeline. Zero values fall back to gateway-wide defaults from config.
type PolicyRules struct {
	// FailClosedRiskClasses lists risk classes whose classifier errors must
	// fail the request instead of degrading to a WARN flag.
	FailClosedRiskClasses []RiskClass `json:"fail_closed_risk_classes,omitempty"`

	// MaxInjectionRisk is the score at which the prompt-injection classifier
	// escalates from WARN to BLOCK. Range 0.0-1.0.
	MaxInjectionRisk float64 `json:"max_injection_risk,omitempty"`

	// EscalationThreshold is the repeat count at which a deduplicated WARN
	// incident is promoted to CRITICAL.
	EscalationThreshold int `json:"escalation_threshold,omitempty"`

	// EscalationWindow bounds how long repeats of the same incident keep
	// counting toward escalation.
	EscalationWindow time.Duration `json:"escalation_window,omitempty"`

	// Routes maps capability to an ordered provider fallback chain.
	Routes map[Capability][]string `json:"routes,omitempty"`
}

// FailClosed reports whether classifier errors for the given risk class must
// fail the request.
func (r *PolicyRules) FailClosed(class RiskClass) bool {
	for _, c := range r.FailClosedRiskClasses {
		if c == class {
			return true
		}
	}
	return false
}

// AllowsTool reports whether the snapshot's tool allowlist permits the named
// tool. An empty allowlist permits nothing.
func (s *PolicySnapshot) AllowsTool(name string) bool {
	for _, t := range s.ToolAllowlist {
		if t == name {
			return true
		}
	}
	return false
}
