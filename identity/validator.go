package identity

import (
	"context"
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/upb/llm-safety-gateway/models"
	"github.com/upb/llm-safety-gateway/services"
)

// Claims is the JWT payload the external identity issuer signs for gateway
// callers. Tenant and workspace identifiers ride as private claims next to
// the registered set.
type Claims struct {
	jwt.RegisteredClaims
	TenantID       string   `json:"tenant_id"`
	WorkspaceID    string   `json:"workspace_id"`
	Roles          []string `json:"roles"`
	Capabilities   []string `json:"capabilities"`
	Scopes         []string `json:"scopes"`
	AssuranceLevel string   `json:"session_assurance_level"`
}

// Validator verifies issuer-signed bearer tokens and maps their claims to an
// Actor. Tokens are HMAC-signed with a secret shared with the issuer.
type Validator struct {
	issuer   string
	audience string
	secret   []byte
	logger   *zap.Logger
}

// NewValidator creates a token validator for the given issuer and audience.
func NewValidator(issuer, audience, signingSecret string, logger *zap.Logger) *Validator {
	return &Validator{
		issuer:   issuer,
		audience: audience,
		secret:   []byte(signingSecret),
		logger:   logger,
	}
}

// ValidateToken verifies the token signature, expiry, issuer and audience,
// and returns the authenticated actor. Claims without a tenant are rejected
// since every downstream decision is tenant-scoped.
func (v *Validator) ValidateToken(ctx context.Context, tokenString string) (*models.Actor, error) {
	if tokenString == "" {
		return nil, services.ErrInvalidToken
	}

	claims := &Claims{}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	if v.audience != "" {
		opts = append(opts, jwt.WithAudience(v.audience))
	}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return v.secret, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, services.ErrTokenExpired
		}
		v.logger.Debug("token validation failed", zap.Error(err))
		return nil, services.ErrInvalidToken
	}
	if !token.Valid {
		return nil, services.ErrInvalidToken
	}

	if claims.TenantID == "" {
		return nil, services.ErrTenantMissing
	}

	return &models.Actor{
		ActorID:        claims.Subject,
		TenantID:       claims.TenantID,
		WorkspaceID:    claims.WorkspaceID,
		Roles:          claims.Roles,
		Capabilities:   claims.Capabilities,
		Scopes:         claims.Scopes,
		AssuranceLevel: models.AssuranceLevel(claims.AssuranceLevel),
	}, nil
}
