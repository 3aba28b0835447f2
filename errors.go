package agentpay

import (
	"errors"
	"fmt"
)

// AgentPayError represents a payment-demo-specific error
type AgentPayError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
	cause   error
}

func (e *AgentPayError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AgentPayError) Unwrap() error {
	return e.cause
}

// Common error codes
const (
	ErrCodeNotFound          = "not_found"
	ErrCodeInvalidTransition = "invalid_transition"
	ErrCodeNotInitialized    = "not_initialized"
	ErrCodeNoProvider        = "no_provider"
	ErrCodeProviderCall      = "provider_call_failed"
	ErrCodeValidation        = "validation_failed"
)

// NewAgentPayError creates a new error with the given code and context
func NewAgentPayError(code, message string, details map[string]interface{}) *AgentPayError {
	return &AgentPayError{
		Code:    code,
		Message: message,
		Details: details,
	}
}

// NewNotFoundError reports an unknown payment or agent id
func NewNotFoundError(kind, id string) *AgentPayError {
	return &AgentPayError{
		Code:    ErrCodeNotFound,
		Message: fmt.Sprintf("%s %s not found", kind, id),
		Details: map[string]interface{}{
			"kind": kind,
			"id":   id,
		},
	}
}

// NewInvalidTransitionError reports an illegal state-machine transition.
// The details carry the current status and the full allowed set so the
// failure is diagnosable without consulting the transition table.
func NewInvalidTransitionError(paymentID string, current, requested PaymentStatus, allowed []PaymentStatus) *AgentPayError {
	allowedStrs := make([]string, len(allowed))
	for i, s := range allowed {
		allowedStrs[i] = string(s)
	}
	return &AgentPayError{
		Code: ErrCodeInvalidTransition,
		Message: fmt.Sprintf("payment %s cannot transition from %s to %s (allowed: %v)",
			paymentID, current, requested, allowedStrs),
		Details: map[string]interface{}{
			"payment_id":       paymentID,
			"current_status":   string(current),
			"requested_status": string(requested),
			"allowed":          allowedStrs,
		},
	}
}

// NewNotInitializedError reports an operation that requires initialized agents
func NewNotInitializedError(operation string) *AgentPayError {
	return &AgentPayError{
		Code:    ErrCodeNotInitialized,
		Message: fmt.Sprintf("%s requires initialized agents", operation),
		Details: map[string]interface{}{
			"operation": operation,
		},
	}
}

// NewNoProviderError reports that no registered agent offers the service
func NewNoProviderError(serviceType string) *AgentPayError {
	return &AgentPayError{
		Code:    ErrCodeNoProvider,
		Message: fmt.Sprintf("no agent offers service %q", serviceType),
		Details: map[string]interface{}{
			"service_type": serviceType,
		},
	}
}

// NewProviderCallError wraps a failed external payment-provider call
func NewProviderCallError(operation string, cause error) *AgentPayError {
	e := &AgentPayError{
		Code:    ErrCodeProviderCall,
		Message: fmt.Sprintf("provider %s failed", operation),
		Details: map[string]interface{}{
			"operation": operation,
		},
		cause: cause,
	}
	if cause != nil {
		e.Details["error"] = cause.Error()
	}
	return e
}

// NewValidationError reports malformed or out-of-range input
func NewValidationError(message string, details map[string]interface{}) *AgentPayError {
	return &AgentPayError{
		Code:    ErrCodeValidation,
		Message: message,
		Details: details,
	}
}

// ErrorCode extracts the error code, or "" if err is not an AgentPayError
func ErrorCode(err error) string {
	var apErr *AgentPayError
	if errors.As(err, &apErr) {
		return apErr.Code
	}
	return ""
}

// IsNotFound reports whether err is a not_found error
func IsNotFound(err error) bool {
	return ErrorCode(err) == ErrCodeNotFound
}

// IsInvalidTransition reports whether err is an invalid_transition error
func IsInvalidTransition(err error) bool {
	return ErrorCode(err) == ErrCodeInvalidTransition
}

// IsNotInitialized reports whether err is a not_initialized error
func IsNotInitialized(err error) bool {
	return ErrorCode(err) == ErrCodeNotInitialized
}

// IsNoProvider reports whether err is a no_provider error
func IsNoProvider(err error) bool {
	return ErrorCode(err) == ErrCodeNoProvider
}

// IsProviderCall reports whether err is a provider_call_failed error
func IsProviderCall(err error) bool {
	return ErrorCode(err) == ErrCodeProviderCall
}
