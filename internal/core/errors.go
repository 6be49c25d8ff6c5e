package core

import (
	"errors"
	"fmt"
)

// ErrorCategory classifies errors for handling decisions.
type ErrorCategory string

const (
	ErrCatValidation ErrorCategory = "validation" // Workflow failed schema or semantic checks
	ErrCatPolicy     ErrorCategory = "policy"     // Path/command/quota denial
	ErrCatTimeout    ErrorCategory = "timeout"    // Subprocess exceeded its deadline
	ErrCatExecution  ErrorCategory = "execution"  // Subprocess or step runtime failure
	ErrCatResume     ErrorCategory = "resume"     // Unknown run or step id on resume
	ErrCatArtifact   ErrorCategory = "artifact"   // Artifact persistence failure (fatal)
	ErrCatState      ErrorCategory = "state"      // Run state corruption/conflict
	ErrCatNotFound   ErrorCategory = "not_found"  // Resource not found
	ErrCatInternal   ErrorCategory = "internal"   // Unexpected internal error
)

// DomainError represents a structured error from the engine.
type DomainError struct {
	Category  ErrorCategory
	Code      string
	Message   string
	Retryable bool
	Cause     error
	Details   map[string]interface{}
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %s (%v)", e.Category, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Category, e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *DomainError) Unwrap() error {
	return e.Cause
}

// Is checks if this error matches a target.
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return e.Category == t.Category && e.Code == t.Code
}

// WithCause wraps an underlying error.
func (e *DomainError) WithCause(cause error) *DomainError {
	e.Cause = cause
	return e
}

// WithDetail adds contextual information.
func (e *DomainError) WithDetail(key string, value interface{}) *DomainError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// ErrValidation creates a validation error.
func ErrValidation(code, message string) *DomainError {
	return &DomainError{Category: ErrCatValidation, Code: code, Message: message}
}

// ErrPolicy creates a policy violation error.
func ErrPolicy(code, message string) *DomainError {
	return &DomainError{Category: ErrCatPolicy, Code: code, Message: message}
}

// ErrTimeout creates a subprocess timeout error.
func ErrTimeout(message string) *DomainError {
	return &DomainError{Category: ErrCatTimeout, Code: "TIMEOUT", Message: message, Retryable: true}
}

// ErrExecution creates an execution error.
func ErrExecution(code, message string) *DomainError {
	return &DomainError{Category: ErrCatExecution, Code: code, Message: message, Retryable: true}
}

// ErrResume creates a resume error.
func ErrResume(code, message string) *DomainError {
	return &DomainError{Category: ErrCatResume, Code: code, Message: message}
}

// ErrArtifact creates an artifact persistence error.
func ErrArtifact(message string) *DomainError {
	return &DomainError{Category: ErrCatArtifact, Code: "ARTIFACT_WRITE_FAILED", Message: message}
}

// ErrState creates a state error.
func ErrState(code, message string) *DomainError {
	return &DomainError{Category: ErrCatState, Code: code, Message: message}
}

// ErrNotFound creates a not found error.
func ErrNotFound(resource, id string) *DomainError {
	return &DomainError{
		Category: ErrCatNotFound,
		Code:     "NOT_FOUND",
		Message:  fmt.Sprintf("%s not found: %s", resource, id),
	}
}

// GetCategory extracts the error category.
func GetCategory(err error) ErrorCategory {
	var domErr *DomainError
	if errors.As(err, &domErr) {
		return domErr.Category
	}
	return ErrCatInternal
}

// IsCategory checks if an error belongs to a category.
func IsCategory(err error, cat ErrorCategory) bool {
	return GetCategory(err) == cat
}

// IsRetryable reports whether the step that produced the error may be
// retried via resume without changing the workflow.
func IsRetryable(err error) bool {
	var domErr *DomainError
	if errors.As(err, &domErr) {
		return domErr.Retryable
	}
	return false
}

// Predefined error codes.
const (
	CodeRunNotFound      = "RUN_NOT_FOUND"
	CodeStepNotFound     = "STEP_NOT_FOUND"
	CodeInvalidState     = "INVALID_STATE"
	CodeStateCorrupted   = "STATE_CORRUPTED"
	CodeAgentUnavailable = "AGENT_UNAVAILABLE"
	CodePathDenied       = "PATH_DENIED"
	CodeCommandDenied    = "COMMAND_DENIED"
	CodeQuotaExceeded    = "QUOTA_EXCEEDED"
	CodeApprovalRequired = "APPROVAL_REQUIRED"
	CodeDiffMalformed    = "DIFF_MALFORMED"
)
