package services

import (
	"errors"
	"fmt"
)

// ErrorType represents the type/category of error
type ErrorType string

const (
	ErrorTypeAuth                ErrorType = "auth"
	ErrorTypeValidation          ErrorType = "validation"
	ErrorTypePolicyUnavailable   ErrorType = "policy_unavailable"
	ErrorTypeSafetyBlock         ErrorType = "safety_block"
	ErrorTypeBudget              ErrorType = "budget"
	ErrorTypeProviderUnavailable ErrorType = "provider_unavailable"
	ErrorTypeClassifier          ErrorType = "classifier"
	ErrorTypeInternal            ErrorType = "internal"
)

// DomainError represents a structured error with additional context
type DomainError struct {
	Type    ErrorType
	Message string
	Err     error
	Details map[string]interface{}
}

// Error implements the error interface
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap implements errors.Unwrap
func (e *DomainError) Unwrap() error {
	return e.Err
}

// Is implements errors.Is
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return e.Type == t.Type
}

// WithDetail adds a detail to the error
func (e *DomainError) WithDetail(key string, value interface{}) *DomainError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// NewDomainError creates a new domain error
func NewDomainError(errType ErrorType, message string, err error) *DomainError {
	return &DomainError{
		Type:    errType,
		Message: message,
		Err:     err,
		Details: make(map[string]interface{}),
	}
}

// Domain error variables

var (
	// Identity/scope failures. Surfaced as 401, never retried.
	ErrInvalidToken  = NewDomainError(ErrorTypeAuth, "invalid authentication token", nil)
	ErrTokenExpired  = NewDomainError(ErrorTypeAuth, "authentication token expired", nil)
	ErrMissingScope  = NewDomainError(ErrorTypeAuth, "required scope not granted", nil)
	ErrTenantMissing = NewDomainError(ErrorTypeAuth, "tenant identity missing from claims", nil)

	// Validation failures. Surfaced as 400.
	ErrInvalidInput      = NewDomainError(ErrorTypeValidation, "invalid input", nil)
	ErrEmptyPrompt       = NewDomainError(ErrorTypeValidation, "prompt cannot be empty", nil)
	ErrInvalidCapability = NewDomainError(ErrorTypeValidation, "unknown capability", nil)

	// Fail-closed policy resolution failure. Surfaced as 503.
	ErrPolicyUnavailable = NewDomainError(ErrorTypePolicyUnavailable, "policy snapshot unavailable", nil)

	// Safety BLOCK verdicts. Surfaced as 403 with risk class and rationale,
	// never retried, never silently downgraded.
	ErrSafetyBlock = NewDomainError(ErrorTypeSafetyBlock, "request blocked by safety pipeline", nil)

	// Budget/quota exhaustion. Surfaced as 429; the caller may retry later.
	ErrBudgetExceeded = NewDomainError(ErrorTypeBudget, "budget exceeded", nil)

	// Raised only after the full fallback chain is exhausted. Surfaced as 503
	// with the attempted chain recorded.
	ErrProviderUnavailable = NewDomainError(ErrorTypeProviderUnavailable, "all providers unavailable", nil)

	// Classifier failures are caught internally and downgraded to WARN flags;
	// this error only surfaces when policy marks the risk class fail-closed.
	ErrClassifierFailed = NewDomainError(ErrorTypeClassifier, "safety classifier failed", nil)

	ErrInternal = NewDomainError(ErrorTypeInternal, "internal server error", nil)
)

// NewSafetyBlockError builds a block error carrying the risk class and
// rationale that produced the verdict.
func NewSafetyBlockError(riskClass, rationale string) *DomainError {
	return NewDomainError(ErrorTypeSafetyBlock, "request blocked by safety pipeline", nil).
		WithDetail("risk_class", riskClass).
		WithDetail("rationale", rationale)
}

// NewProviderUnavailableError builds an exhaustion error recording the chain
// that was attempted.
func NewProviderUnavailableError(attemptedChain []string, err error) *DomainError {
	return NewDomainError(ErrorTypeProviderUnavailable, "all providers unavailable", err).
		WithDetail("attempted_chain", attemptedChain)
}

// Error type checking helper functions

// IsAuthError checks if an error is an identity/scope failure
func IsAuthError(err error) bool {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Type == ErrorTypeAuth
	}
	return false
}

// IsValidationError checks if an error is a validation error
func IsValidationError(err error) bool {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Type == ErrorTypeValidation
	}
	return false
}

// IsPolicyUnavailableError checks if an error is a fail-closed policy failure
func IsPolicyUnavailableError(err error) bool {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Type == ErrorTypePolicyUnavailable
	}
	return false
}

// IsSafetyBlockError checks if an error is a safety BLOCK verdict
func IsSafetyBlockError(err error) bool {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Type == ErrorTypeSafetyBlock
	}
	return false
}

// IsBudgetError checks if an error is a budget exhaustion error
func IsBudgetError(err error) bool {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Type == ErrorTypeBudget
	}
	return false
}

// IsProviderUnavailableError checks if an error is a chain exhaustion error
func IsProviderUnavailableError(err error) bool {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Type == ErrorTypeProviderUnavailable
	}
	return false
}

// IsClassifierError checks if an error is a classifier failure
func IsClassifierError(err error) bool {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Type == ErrorTypeClassifier
	}
	return false
}

// GetErrorType returns the ErrorType of a domain error, or empty string if not a domain error
func GetErrorType(err error) ErrorType {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Type
	}
	return ""
}

// GetErrorDetails returns the details map of a domain error, or nil if not a domain error
func GetErrorDetails(err error) map[string]interface{} {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Details
	}
	return nil
}

// WrapError wraps an error with additional context
func WrapError(errType ErrorType, message string, err error) error {
	return NewDomainError(errType, message, err)
}

// WrapInternal wraps an error as an internal error
func WrapInternal(message string, err error) error {
	return NewDomainError(ErrorTypeInternal, message, err)
}
