package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"go.uber.org/zap"

	"github.com/upb/llm-safety-gateway/models"
	"github.com/upb/llm-safety-gateway/services"
	"github.com/upb/llm-safety-gateway/services/gateway"
	"github.com/upb/llm-safety-gateway/services/telemetry"
)

// MockTokenValidator is a mock implementation of TokenValidator
type MockTokenValidator struct {
	mock.Mock
}

func (m *MockTokenValidator) ValidateToken(ctx context.Context, token string) (*models.Actor, error) {
	args := m.Called(ctx, token)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Actor), args.Error(1)
}

// MockDecisionEmitter is a mock implementation of DecisionEmitter
type MockDecisionEmitter struct {
	mock.Mock
}

func (m *MockDecisionEmitter) RecordDecision(ctx context.Context, record telemetry.DecisionRecord) {
	m.Called(ctx, record)
}

func deniedRecord(rec telemetry.DecisionRecord) bool {
	return rec.TerminalState == gateway.StateDenied && rec.Decision == models.DecisionBlock
}

func testActor() *models.Actor {
	return &models.Actor{
		ActorID:      "user-123",
		TenantID:     "acme",
		WorkspaceID:  "ws-1",
		Capabilities: []string{"chat"},
		Scopes:       []string{"llm:chat"},
	}
}

func TestRequireAuth(t *testing.T) {
	logger := zap.NewNop()

	t.Run("valid bearer token allows request", func(t *testing.T) {
		mockValidator := new(MockTokenValidator)
		mockEmitter := new(MockDecisionEmitter)
		mw := NewAuthMiddleware(mockValidator, mockEmitter, logger)

		actor := testActor()
		mockValidator.On("ValidateToken", mock.Anything, "valid-token").Return(actor, nil)

		handler := mw.RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := GetActorFromContext(r.Context())
			assert.NotNil(t, got)
			assert.Equal(t, "user-123", got.ActorID)
			assert.Equal(t, "acme", got.TenantID)
			w.WriteHeader(http.StatusOK)
		}))

		req := httptest.NewRequest(http.MethodGet, "/test", nil)
		req.Header.Set("Authorization", "Bearer valid-token")
		w := httptest.NewRecorder()

		handler.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		mockValidator.AssertExpectations(t)
		mockEmitter.AssertNotCalled(t, "RecordDecision")
	})

	t.Run("missing authorization header returns 401 and records denial", func(t *testing.T) {
		mockValidator := new(MockTokenValidator)
		mockEmitter := new(MockDecisionEmitter)
		mw := NewAuthMiddleware(mockValidator, mockEmitter, logger)

		mockEmitter.On("RecordDecision", mock.Anything, mock.MatchedBy(deniedRecord)).Once()

		handler := mw.RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			t.Fatal("handler should not be called")
		}))

		req := httptest.NewRequest(http.MethodGet, "/test", nil)
		w := httptest.NewRecorder()

		handler.ServeHTTP(w, req)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
		mockValidator.AssertNotCalled(t, "ValidateToken")
		mockEmitter.AssertExpectations(t)
	})

	t.Run("malformed authorization header returns 401", func(t *testing.T) {
		mockValidator := new(MockTokenValidator)
		mockEmitter := new(MockDecisionEmitter)
		mw := NewAuthMiddleware(mockValidator, mockEmitter, logger)

		mockEmitter.On("RecordDecision", mock.Anything, mock.MatchedBy(deniedRecord)).Once()

		handler := mw.RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			t.Fatal("handler should not be called")
		}))

		req := httptest.NewRequest(http.MethodGet, "/test", nil)
		req.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
		w := httptest.NewRecorder()

		handler.ServeHTTP(w, req)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
		mockValidator.AssertNotCalled(t, "ValidateToken")
		mockEmitter.AssertExpectations(t)
	})

	t.Run("invalid token returns 401 and records denial", func(t *testing.T) {
		mockValidator := new(MockTokenValidator)
		mockEmitter := new(MockDecisionEmitter)
		mw := NewAuthMiddleware(mockValidator, mockEmitter, logger)

		mockValidator.On("ValidateToken", mock.Anything, "bad-token").Return(nil, services.ErrInvalidToken)
		mockEmitter.On("RecordDecision", mock.Anything, mock.MatchedBy(func(rec telemetry.DecisionRecord) bool {
			// A rejected token proves nothing, so no actor fields are recorded.
			return deniedRecord(rec) && rec.TenantID == "" && rec.ActorID == ""
		})).Once()

		handler := mw.RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			t.Fatal("handler should not be called")
		}))

		req := httptest.NewRequest(http.MethodGet, "/test", nil)
		req.Header.Set("Authorization", "Bearer bad-token")
		w := httptest.NewRecorder()

		handler.ServeHTTP(w, req)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
		mockValidator.AssertExpectations(t)
		mockEmitter.AssertExpectations(t)
	})

	t.Run("expired token returns 401", func(t *testing.T) {
		mockValidator := new(MockTokenValidator)
		mockEmitter := new(MockDecisionEmitter)
		mw := NewAuthMiddleware(mockValidator, mockEmitter, logger)

		mockValidator.On("ValidateToken", mock.Anything, "expired-token").Return(nil, services.ErrTokenExpired)
		mockEmitter.On("RecordDecision", mock.Anything, mock.MatchedBy(deniedRecord)).Once()

		handler := mw.RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			t.Fatal("handler should not be called")
		}))

		req := httptest.NewRequest(http.MethodGet, "/test", nil)
		req.Header.Set("Authorization", "Bearer expired-token")
		w := httptest.NewRecorder()

		handler.ServeHTTP(w, req)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
		mockEmitter.AssertExpectations(t)
	})

	t.Run("nil emitter still rejects cleanly", func(t *testing.T) {
		mockValidator := new(MockTokenValidator)
		mw := NewAuthMiddleware(mockValidator, nil, logger)

		handler := mw.RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			t.Fatal("handler should not be called")
		}))

		req := httptest.NewRequest(http.MethodGet, "/test", nil)
		w := httptest.NewRecorder()

		handler.ServeHTTP(w, req)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})
}

func TestRequireScope(t *testing.T) {
	logger := zap.NewNop()

	t.Run("actor with scope passes", func(t *testing.T) {
		mockEmitter := new(MockDecisionEmitter)
		mw := NewAuthMiddleware(new(MockTokenValidator), mockEmitter, logger)

		handler := mw.RequireScope("llm:chat")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))

		req := httptest.NewRequest(http.MethodPost, "/test", nil)
		req = req.WithContext(WithActor(req.Context(), testActor()))
		w := httptest.NewRecorder()

		handler.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		mockEmitter.AssertNotCalled(t, "RecordDecision")
	})

	t.Run("actor without scope gets 403 and records denial", func(t *testing.T) {
		mockEmitter := new(MockDecisionEmitter)
		mw := NewAuthMiddleware(new(MockTokenValidator), mockEmitter, logger)

		mockEmitter.On("RecordDecision", mock.Anything, mock.MatchedBy(func(rec telemetry.DecisionRecord) bool {
			return deniedRecord(rec) && rec.TenantID == "acme" && rec.ActorID == "user-123"
		})).Once()

		handler := mw.RequireScope("llm:admin")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			t.Fatal("handler should not be called")
		}))

		req := httptest.NewRequest(http.MethodPost, "/test", nil)
		req = req.WithContext(WithActor(req.Context(), testActor()))
		w := httptest.NewRecorder()

		handler.ServeHTTP(w, req)

		assert.Equal(t, http.StatusForbidden, w.Code)
		mockEmitter.AssertExpectations(t)
	})

	t.Run("no actor in context gets 401", func(t *testing.T) {
		mockEmitter := new(MockDecisionEmitter)
		mw := NewAuthMiddleware(new(MockTokenValidator), mockEmitter, logger)

		mockEmitter.On("RecordDecision", mock.Anything, mock.MatchedBy(deniedRecord)).Once()

		handler := mw.RequireScope("llm:chat")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			t.Fatal("handler should not be called")
		}))

		req := httptest.NewRequest(http.MethodPost, "/test", nil)
		w := httptest.NewRecorder()

		handler.ServeHTTP(w, req)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
		mockEmitter.AssertExpectations(t)
	})
}

func TestRequireCapability(t *testing.T) {
	logger := zap.NewNop()

	t.Run("entitled capability passes", func(t *testing.T) {
		mockEmitter := new(MockDecisionEmitter)
		mw := NewAuthMiddleware(new(MockTokenValidator), mockEmitter, logger)

		handler := mw.RequireCapability("chat")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))

		req := httptest.NewRequest(http.MethodPost, "/test", nil)
		req = req.WithContext(WithActor(req.Context(), testActor()))
		w := httptest.NewRecorder()

		handler.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		mockEmitter.AssertNotCalled(t, "RecordDecision")
	})

	t.Run("missing capability gets 403 and records denial", func(t *testing.T) {
		mockEmitter := new(MockDecisionEmitter)
		mw := NewAuthMiddleware(new(MockTokenValidator), mockEmitter, logger)

		mockEmitter.On("RecordDecision", mock.Anything, mock.MatchedBy(func(rec telemetry.DecisionRecord) bool {
			return deniedRecord(rec) && rec.TenantID == "acme"
		})).Once()

		handler := mw.RequireCapability("embedding")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			t.Fatal("handler should not be called")
		}))

		req := httptest.NewRequest(http.MethodPost, "/test", nil)
		req = req.WithContext(WithActor(req.Context(), testActor()))
		w := httptest.NewRecorder()

		handler.ServeHTTP(w, req)

		assert.Equal(t, http.StatusForbidden, w.Code)
		mockEmitter.AssertExpectations(t)
	})
}

func TestExtractBearerToken(t *testing.T) {
	tests := []struct {
		name   string
		header string
		want   string
	}{
		{"well formed", "Bearer abc123", "abc123"},
		{"lowercase scheme", "bearer abc123", "abc123"},
		{"missing header", "", ""},
		{"wrong scheme", "Basic abc123", ""},
		{"no token", "Bearer", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			assert.Equal(t, tt.want, extractBearerToken(req))
		})
	}
}

func TestRequestIDContext(t *testing.T) {
	ctx := WithRequestID(context.Background(), "req-42")
	assert.Equal(t, "req-42", GetRequestIDFromContext(ctx))
	assert.Equal(t, "", GetRequestIDFromContext(context.Background()))
}
