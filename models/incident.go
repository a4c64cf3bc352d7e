package models

import (
	"time"

	"github.com/google/uuid"
)

// SafetyIncident is a deduplicated record of repeated safety violations.
// Incidents are created on first occurrence and updated in place on repeats
// within the escalation window; retention and deletion are external.
type SafetyIncident struct {
	ID              uuid.UUID `json:"id"`
	DedupeKey       string    `json:"dedupe_key"`
	TenantID        string    `json:"tenant_id"`
	RiskClass       RiskClass `json:"risk_class"`
	Severity        Severity  `json:"severity"`
	FirstSeenAt     time.Time `json:"first_seen_at"`
	LastSeenAt      time.Time `json:"last_seen_at"`
	OccurrenceCount int       `json:"occurrence_count"`
}

// IncidentDedupeKey collapses repeated identical violations into one
// incident: tenant + risk class + the flag's context digest.
func IncidentDedupeKey(tenantID string, class RiskClass, contextDigest string) string {
	return tenantID + ":" + string(class) + ":" + contextDigest
}
