package models

// AssuranceLevel represents the strength of the session that produced the
// actor's claims, as asserted by the external identity issuer.
type AssuranceLevel string

const (
	AssuranceLevelLow    AssuranceLevel = "low"
	AssuranceLevelMedium AssuranceLevel = "medium"
	AssuranceLevelHigh   AssuranceLevel = "high"
)

// Actor represents the authenticated caller of a request. It is supplied by
// the external identity issuer and immutable for the lifetime of the request.
type Actor struct {
	ActorID        string         `json:"actor_id"`
	TenantID       string         `json:"tenant_id"`
	WorkspaceID    string         `json:"workspace_id"`
	Roles          []string       `json:"roles"`
	Capabilities   []string       `json:"capabilities"`
	Scopes         []string       `json:"scopes"`
	AssuranceLevel AssuranceLevel `json:"session_assurance_level"`
}

// HasScope reports whether the actor holds the given scope.
func (a *Actor) HasScope(scope string) bool {
	for _, s := range a.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// HasCapability reports whether the actor is allowed to use the given
// gateway capability (e.g. "chat", "embedding").
func (a *Actor) HasCapability(capability string) bool {
	for _, c := range a.Capabilities {
		if c == capability {
			return true
		}
	}
	return false
}
