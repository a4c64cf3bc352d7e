package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/upb/llm-safety-gateway/services"
	"github.com/upb/llm-safety-gateway/utils"
)

// HandleServiceError maps domain errors to HTTP responses. The mapping is the
// error taxonomy contract: every pipeline outcome surfaces as exactly one
// status code.
func HandleServiceError(w http.ResponseWriter, err error, logger *zap.Logger) {
	if err == nil {
		return
	}

	details := services.GetErrorDetails(err)

	switch {
	case services.IsValidationError(err):
		if err := utils.WriteBadRequest(w, err.Error(), details); err != nil {
			logger.Error("failed to write bad request response", zap.Error(err))
		}

	case services.IsAuthError(err):
		if err := utils.WriteUnauthorized(w, err.Error()); err != nil {
			logger.Error("failed to write unauthorized response", zap.Error(err))
		}

	case services.IsSafetyBlockError(err):
		// Safety BLOCK verdicts are 403 with the risk class and rationale.
		if err := utils.WriteError(w, http.StatusForbidden, err.Error(), details); err != nil {
			logger.Error("failed to write safety block response", zap.Error(err))
		}

	case services.IsBudgetError(err):
		if err := utils.WriteTooManyRequests(w, err.Error(), details); err != nil {
			logger.Error("failed to write budget error response", zap.Error(err))
		}

	case services.IsPolicyUnavailableError(err):
		// Fail-closed policy resolution. Retryable by the caller.
		if err := utils.WriteServiceUnavailable(w, err.Error(), details); err != nil {
			logger.Error("failed to write policy unavailable response", zap.Error(err))
		}

	case services.IsProviderUnavailableError(err):
		// Fallback chain exhausted. The attempted chain rides in details.
		if err := utils.WriteServiceUnavailable(w, err.Error(), details); err != nil {
			logger.Error("failed to write provider unavailable response", zap.Error(err))
		}

	case services.IsClassifierError(err):
		if err := utils.WriteServiceUnavailable(w, err.Error(), details); err != nil {
			logger.Error("failed to write classifier error response", zap.Error(err))
		}

	default:
		// Log internal errors but return a generic message.
		logger.Error("internal server error",
			zap.Error(err),
			zap.String("error_type", string(services.GetErrorType(err))))
		if err := utils.WriteInternalServerError(w, "An internal error occurred"); err != nil {
			logger.Error("failed to write internal error response", zap.Error(err))
		}
	}
}

// HandleValidationError handles validation errors from request parsing
func HandleValidationError(w http.ResponseWriter, err error, logger *zap.Logger) {
	if utils.IsValidationError(err) {
		fields := utils.GetValidationFields(err)
		details := make(map[string]interface{})
		for k, v := range fields {
			details[k] = v
		}
		if err := utils.WriteBadRequest(w, "Validation failed", details); err != nil {
			logger.Error("failed to write validation error response", zap.Error(err))
		}
		return
	}

	if err := utils.WriteBadRequest(w, err.Error(), nil); err != nil {
		logger.Error("failed to write validation error response", zap.Error(err))
	}
}
