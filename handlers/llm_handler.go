package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/upb/llm-safety-gateway/middleware"
	"github.com/upb/llm-safety-gateway/models"
	"github.com/upb/llm-safety-gateway/utils"
)

// LLMCallRequest is the request body for the chat and embedding endpoints.
type LLMCallRequest struct {
	Prompt            string            `json:"prompt" validate:"required"`
	SystemPromptID    string            `json:"system_prompt_id,omitempty"`
	ProposedToolCalls []ToolCallRequest `json:"proposed_tool_calls,omitempty" validate:"omitempty,dive"`
}

// ToolCallRequest is one tool invocation proposed alongside the prompt.
type ToolCallRequest struct {
	Name      string `json:"name" validate:"required"`
	Arguments string `json:"arguments,omitempty"`
}

// DryRunRequest is the request body for the policy dry-run endpoint. It names
// the capability explicitly since dry-run is a single surface.
type DryRunRequest struct {
	Capability        string            `json:"capability" validate:"required,oneof=chat embedding"`
	Prompt            string            `json:"prompt" validate:"required"`
	SystemPromptID    string            `json:"system_prompt_id,omitempty"`
	ProposedToolCalls []ToolCallRequest `json:"proposed_tool_calls,omitempty" validate:"omitempty,dive"`
}

// GatewayService drives a request through the decision pipeline.
type GatewayService interface {
	Process(ctx context.Context, req *models.LLMRequest) (*models.LLMResponse, error)
	DryRun(ctx context.Context, req *models.LLMRequest) (*models.LLMResponse, error)
}

// LLMHandler handles the brokered LLM call endpoints.
type LLMHandler struct {
	service GatewayService
	logger  *zap.Logger
}

// NewLLMHandler creates a new LLMHandler
func NewLLMHandler(service GatewayService, logger *zap.Logger) *LLMHandler {
	return &LLMHandler{
		service: service,
		logger:  logger,
	}
}

// HandleChat handles POST /api/v1/llm/chat
func (h *LLMHandler) HandleChat(w http.ResponseWriter, r *http.Request) {
	h.handleCall(w, r, models.CapabilityChat)
}

// HandleEmbedding handles POST /api/v1/llm/embedding
func (h *LLMHandler) HandleEmbedding(w http.ResponseWriter, r *http.Request) {
	h.handleCall(w, r, models.CapabilityEmbedding)
}

func (h *LLMHandler) handleCall(w http.ResponseWriter, r *http.Request, capability models.Capability) {
	ctx := r.Context()
	requestID := middleware.GetRequestIDFromContext(ctx)

	actor := middleware.GetActorFromContext(ctx)
	if actor == nil {
		h.logger.Error("actor not found in context",
			zap.String("request_id", requestID))
		_ = utils.WriteUnauthorized(w, "Authentication required")
		return
	}

	var body LLMCallRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.logger.Warn("failed to parse request body",
			zap.String("request_id", requestID),
			zap.Error(err))
		_ = utils.WriteBadRequest(w, "Invalid request body", nil)
		return
	}

	if err := utils.ValidateStruct(&body); err != nil {
		h.logger.Warn("request validation failed",
			zap.String("request_id", requestID),
			zap.Error(err))
		HandleValidationError(w, err, h.logger)
		return
	}

	req := buildRequest(actor, capability, body.Prompt, body.SystemPromptID, body.ProposedToolCalls)

	h.logger.Debug("processing llm call",
		zap.String("request_id", req.RequestID.String()),
		zap.String("tenant_id", actor.TenantID),
		zap.String("capability", string(capability)))

	resp, err := h.service.Process(ctx, req)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	h.logger.Info("llm call allowed",
		zap.String("request_id", req.RequestID.String()),
		zap.String("tenant_id", actor.TenantID),
		zap.Int("degradation_stage", resp.DegradationStage))

	if err := utils.WriteOK(w, resp); err != nil {
		h.logger.Error("failed to write response",
			zap.String("request_id", req.RequestID.String()),
			zap.Error(err))
	}
}

// HandleDryRun handles POST /api/v1/llm/policy/dry-run. The pipeline runs
// policy and input safety only; nothing is forwarded or charged.
func (h *LLMHandler) HandleDryRun(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestIDFromContext(ctx)

	actor := middleware.GetActorFromContext(ctx)
	if actor == nil {
		h.logger.Error("actor not found in context",
			zap.String("request_id", requestID))
		_ = utils.WriteUnauthorized(w, "Authentication required")
		return
	}

	var body DryRunRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.logger.Warn("failed to parse request body",
			zap.String("request_id", requestID),
			zap.Error(err))
		_ = utils.WriteBadRequest(w, "Invalid request body", nil)
		return
	}

	if err := utils.ValidateStruct(&body); err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}

	req := buildRequest(actor, models.Capability(body.Capability), body.Prompt, body.SystemPromptID, body.ProposedToolCalls)

	resp, err := h.service.DryRun(ctx, req)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	if err := utils.WriteOK(w, resp); err != nil {
		h.logger.Error("failed to write dry-run response",
			zap.String("request_id", req.RequestID.String()),
			zap.Error(err))
	}
}

func buildRequest(actor *models.Actor, capability models.Capability, prompt, systemPromptID string, tools []ToolCallRequest) *models.LLMRequest {
	req := &models.LLMRequest{
		RequestID:      uuid.New(),
		Actor:          actor,
		TenantID:       actor.TenantID,
		Capability:     capability,
		Prompt:         prompt,
		SystemPromptID: systemPromptID,
	}
	for _, tc := range tools {
		req.ProposedToolCalls = append(req.ProposedToolCalls, models.ToolCall{
			Name:      tc.Name,
			Arguments: tc.Arguments,
		})
	}
	return req
}
