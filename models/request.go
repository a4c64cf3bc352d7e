package models

import (
	"github.com/google/uuid"
)

// Capability identifies which gateway surface a request targets.
type Capability string

const (
	CapabilityChat      Capability = "chat"
	CapabilityEmbedding Capability = "embedding"
)

// Valid reports whether the capability is one the gateway serves.
func (c Capability) Valid() bool {
	return c == CapabilityChat || c == CapabilityEmbedding
}

// ToolCall represents a tool invocation proposed by the caller alongside the
// prompt. Tool calls are validated against the tenant policy's tool allowlist
// before any output is released.
type ToolCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments,omitempty"`
}

// LLMRequest is the validated, immutable form of one inbound call. It is
// never mutated after validation; redaction produces a derived payload.
type LLMRequest struct {
	RequestID         uuid.UUID  `json:"request_id"`
	Actor             *Actor     `json:"actor"`
	TenantID          string     `json:"tenant_id"`
	Capability        Capability `json:"capability"`
	Prompt            string     `json:"prompt"`
	SystemPromptID    string     `json:"system_prompt_id,omitempty"`
	ProposedToolCalls []ToolCall `json:"proposed_tool_calls,omitempty"`
}

// Decision is the terminal verdict of the gateway for one request.
type Decision string

const (
	DecisionAllow Decision = "allow"
	DecisionBlock Decision = "block"
)

// LLMResponse is the terminal artifact of one request. It is handed to the
// telemetry emitter exactly once, regardless of outcome.
type LLMResponse struct {
	RequestID         uuid.UUID  `json:"request_id"`
	Decision          Decision   `json:"decision"`
	DegradationStage  int        `json:"degradation_stage"`
	FallbackChainUsed []string   `json:"fallback_chain_used,omitempty"`
	RiskFlags         []RiskFlag `json:"risk_flags,omitempty"`
	Output            string     `json:"output,omitempty"`
}
