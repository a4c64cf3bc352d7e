package identity

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/upb/llm-safety-gateway/models"
	"github.com/upb/llm-safety-gateway/services"
)

const (
	testIssuer   = "https://identity.internal"
	testAudience = "llm-gateway"
	testSecret   = "test-signing-secret"
)

func newTestValidator() *Validator {
	return NewValidator(testIssuer, testAudience, testSecret, zap.NewNop())
}

func mintToken(t *testing.T, secret string, mutate func(*Claims)) string {
	t.Helper()

	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-7",
			Issuer:    testIssuer,
			Audience:  jwt.ClaimStrings{testAudience},
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
		TenantID:       "acme",
		WorkspaceID:    "ws-1",
		Roles:          []string{"developer"},
		Capabilities:   []string{"chat", "embedding"},
		Scopes:         []string{"llm:chat"},
		AssuranceLevel: "high",
	}
	if mutate != nil {
		mutate(claims)
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func TestValidateToken_Valid(t *testing.T) {
	v := newTestValidator()

	actor, err := v.ValidateToken(context.Background(), mintToken(t, testSecret, nil))
	require.NoError(t, err)
	require.NotNil(t, actor)

	assert.Equal(t, "user-7", actor.ActorID)
	assert.Equal(t, "acme", actor.TenantID)
	assert.Equal(t, "ws-1", actor.WorkspaceID)
	assert.Equal(t, []string{"developer"}, actor.Roles)
	assert.Equal(t, []string{"chat", "embedding"}, actor.Capabilities)
	assert.Equal(t, models.AssuranceLevelHigh, actor.AssuranceLevel)
	assert.True(t, actor.HasScope("llm:chat"))
}

func TestValidateToken_Expired(t *testing.T) {
	v := newTestValidator()

	token := mintToken(t, testSecret, func(c *Claims) {
		c.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Minute))
	})

	_, err := v.ValidateToken(context.Background(), token)
	assert.ErrorIs(t, err, services.ErrTokenExpired)
}

func TestValidateToken_WrongSecret(t *testing.T) {
	v := newTestValidator()

	_, err := v.ValidateToken(context.Background(), mintToken(t, "other-secret", nil))
	assert.ErrorIs(t, err, services.ErrInvalidToken)
}

func TestValidateToken_WrongIssuer(t *testing.T) {
	v := newTestValidator()

	token := mintToken(t, testSecret, func(c *Claims) {
		c.Issuer = "https://somebody-else"
	})

	_, err := v.ValidateToken(context.Background(), token)
	assert.ErrorIs(t, err, services.ErrInvalidToken)
}

func TestValidateToken_WrongAudience(t *testing.T) {
	v := newTestValidator()

	token := mintToken(t, testSecret, func(c *Claims) {
		c.Audience = jwt.ClaimStrings{"another-service"}
	})

	_, err := v.ValidateToken(context.Background(), token)
	assert.ErrorIs(t, err, services.ErrInvalidToken)
}

func TestValidateToken_MissingTenant(t *testing.T) {
	v := newTestValidator()

	token := mintToken(t, testSecret, func(c *Claims) {
		c.TenantID = ""
	})

	_, err := v.ValidateToken(context.Background(), token)
	assert.ErrorIs(t, err, services.ErrTenantMissing)
}

func TestValidateToken_EmptyToken(t *testing.T) {
	v := newTestValidator()

	_, err := v.ValidateToken(context.Background(), "")
	assert.ErrorIs(t, err, services.ErrInvalidToken)
}

func TestValidateToken_Garbage(t *testing.T) {
	v := newTestValidator()

	_, err := v.ValidateToken(context.Background(), "not.a.jwt")
	assert.ErrorIs(t, err, services.ErrInvalidToken)
}

func TestValidateToken_MissingExpiry(t *testing.T) {
	v := newTestValidator()

	token := mintToken(t, testSecret, func(c *Claims) {
		c.ExpiresAt = nil
	})

	_, err := v.ValidateToken(context.Background(), token)
	assert.ErrorIs(t, err, services.ErrInvalidToken)
}
