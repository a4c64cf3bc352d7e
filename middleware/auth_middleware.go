package middleware

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/upb/llm-safety-gateway/models"
	"github.com/upb/llm-safety-gateway/services/gateway"
	"github.com/upb/llm-safety-gateway/services/telemetry"
	"github.com/upb/llm-safety-gateway/utils"
)

// TokenValidator verifies a bearer token and returns the authenticated actor.
type TokenValidator interface {
	ValidateToken(ctx context.Context, token string) (*models.Actor, error)
}

// DecisionEmitter records terminal telemetry for requests the pipeline never
// sees. Identity and entitlement rejections terminate here, so the middleware
// owns their decision record.
type DecisionEmitter interface {
	RecordDecision(ctx context.Context, record telemetry.DecisionRecord)
}

// AuthMiddleware provides authentication middleware functionality
type AuthMiddleware struct {
	validator TokenValidator
	emitter   DecisionEmitter
	logger    *zap.Logger
}

// NewAuthMiddleware creates a new AuthMiddleware
func NewAuthMiddleware(validator TokenValidator, emitter DecisionEmitter, logger *zap.Logger) *AuthMiddleware {
	return &AuthMiddleware{
		validator: validator,
		emitter:   emitter,
		logger:    logger,
	}
}

// RequireAuth is a middleware that requires a valid bearer token. On success
// the authenticated actor is placed on the request context.
func (m *AuthMiddleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		requestID := GetRequestIDFromContext(ctx)

		token := extractBearerToken(r)
		if token == "" {
			m.logger.Warn("missing bearer token",
				zap.String("request_id", requestID))
			m.emitDenied(ctx, nil)
			_ = utils.WriteUnauthorized(w, "Missing or invalid authorization")
			return
		}

		actor, err := m.validator.ValidateToken(ctx, token)
		if err != nil {
			m.logger.Warn("token validation failed",
				zap.String("request_id", requestID),
				zap.Error(err))
			m.emitDenied(ctx, nil)
			_ = utils.WriteUnauthorized(w, "Invalid or expired token")
			return
		}

		ctx = WithActor(ctx, actor)

		m.logger.Debug("authentication successful",
			zap.String("request_id", requestID),
			zap.String("actor_id", actor.ActorID),
			zap.String("tenant_id", actor.TenantID))

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireScope is a middleware that requires the actor to hold a specific
// scope. This should be called after RequireAuth.
func (m *AuthMiddleware) RequireScope(scope string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			requestID := GetRequestIDFromContext(ctx)

			actor := GetActorFromContext(ctx)
			if actor == nil {
				m.logger.Error("actor not found in context",
					zap.String("request_id", requestID))
				m.emitDenied(ctx, nil)
				_ = utils.WriteUnauthorized(w, "Authentication required")
				return
			}

			if !actor.HasScope(scope) {
				m.logger.Warn("required scope not granted",
					zap.String("request_id", requestID),
					zap.String("required_scope", scope),
					zap.Strings("actor_scopes", actor.Scopes))
				m.emitDenied(ctx, actor)
				_ = utils.WriteForbidden(w, "Insufficient permissions")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// RequireCapability is a middleware that requires the actor to be entitled to
// a gateway capability. This should be called after RequireAuth.
func (m *AuthMiddleware) RequireCapability(capability string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			requestID := GetRequestIDFromContext(ctx)

			actor := GetActorFromContext(ctx)
			if actor == nil {
				m.logger.Error("actor not found in context",
					zap.String("request_id", requestID))
				m.emitDenied(ctx, nil)
				_ = utils.WriteUnauthorized(w, "Authentication required")
				return
			}

			if !actor.HasCapability(capability) {
				m.logger.Warn("capability not entitled",
					zap.String("request_id", requestID),
					zap.String("tenant_id", actor.TenantID),
					zap.String("required_capability", capability))
				m.emitDenied(ctx, actor)
				_ = utils.WriteForbidden(w, "Capability not entitled")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// emitDenied records the DENIED terminal state for a request rejected before
// the pipeline ran. The record carries only what the request itself proved;
// a rejected token contributes no actor fields.
func (m *AuthMiddleware) emitDenied(ctx context.Context, actor *models.Actor) {
	if m.emitter == nil {
		return
	}
	record := telemetry.DecisionRecord{
		Timestamp:     time.Now().UTC(),
		RequestID:     uuid.New(),
		Decision:      models.DecisionBlock,
		TerminalState: gateway.StateDenied,
	}
	if actor != nil {
		record.TenantID = actor.TenantID
		record.WorkspaceID = actor.WorkspaceID
		record.ActorID = actor.ActorID
	}
	m.emitter.RecordDecision(ctx, record)
}

// extractBearerToken extracts the Bearer token from the Authorization header
func extractBearerToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return ""
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
		return ""
	}

	return strings.TrimSpace(parts[1])
}
