// Package errors provides the structured error type shared by the editor,
// the persistence clients and the reference project API.
//
// Every failure that crosses a package boundary is a *PlaypenError carrying
// an ErrorType. Callers branch on the type with the Is* helpers rather than
// on message text, so the HTTP client and the directory store can report
// "not found" the same way.
package errors

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorType represents different categories of errors.
type ErrorType string

const (
	ErrorTypeNotFound     ErrorType = "not_found"
	ErrorTypeUnauthorized ErrorType = "unauthorized"
	ErrorTypeNetwork      ErrorType = "network"
	ErrorTypeValidation   ErrorType = "validation"
	ErrorTypeConfig       ErrorType = "config"
	ErrorTypeStorage      ErrorType = "storage"
	ErrorTypeInternal     ErrorType = "internal"
)

// Common error codes.
const (
	ErrCodeProjectNotFound = "ERR_PROJECT_NOT_FOUND"
	ErrCodeUnauthorized    = "ERR_UNAUTHORIZED"
	ErrCodeNetwork         = "ERR_NETWORK"
	ErrCodeBadStatus       = "ERR_BAD_STATUS"
	ErrCodeInvalidProject  = "ERR_INVALID_PROJECT"
	ErrCodeConfigInvalid   = "ERR_CONFIG_INVALID"
	ErrCodeStorage         = "ERR_STORAGE"
	ErrCodeInternalError   = "ERR_INTERNAL"
)

// Operations recorded on errors that escape the persistence layer.
const (
	OpLoad = "load"
	OpSave = "save"
)

// PlaypenError is a structured error type with context.
type PlaypenError struct {
	Type      ErrorType
	Code      string
	Message   string
	Op        string
	ProjectID string
	Status    int
	Cause     error
	Context   map[string]interface{}
}

// Error implements the error interface.
func (e *PlaypenError) Error() string {
	var parts []string

	if e.Code != "" {
		parts = append(parts, fmt.Sprintf("[%s]", e.Code))
	}

	if e.Op != "" {
		parts = append(parts, e.Op)
	}

	if e.ProjectID != "" {
		parts = append(parts, "project:"+e.ProjectID)
	}

	parts = append(parts, e.Message)

	result := strings.Join(parts, " ")

	if e.Cause != nil {
		result += fmt.Sprintf(": %v", e.Cause)
	}

	return result
}

// Unwrap returns the underlying cause error.
func (e *PlaypenError) Unwrap() error {
	return e.Cause
}

// Is implements error comparison.
func (e *PlaypenError) Is(target error) bool {
	var t *PlaypenError
	if errors.As(target, &t) {
		return e.Type == t.Type && e.Code == t.Code
	}

	return false
}

// WithContext adds context information to the error.
func (e *PlaypenError) WithContext(key string, value interface{}) *PlaypenError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value

	return e
}

// WithProject records the project the failing operation targeted.
func (e *PlaypenError) WithProject(id string) *PlaypenError {
	e.ProjectID = id

	return e
}

// WithStatus records the HTTP status code returned by a remote store.
func (e *PlaypenError) WithStatus(status int) *PlaypenError {
	e.Status = status

	return e
}

// Error creation functions

// NewNotFoundError creates a not-found error.
func NewNotFoundError(code, message string) *PlaypenError {
	return &PlaypenError{
		Type:    ErrorTypeNotFound,
		Code:    code,
		Message: message,
	}
}

// NewUnauthorizedError creates an authentication error.
func NewUnauthorizedError(code, message string) *PlaypenError {
	return &PlaypenError{
		Type:    ErrorTypeUnauthorized,
		Code:    code,
		Message: message,
	}
}

// NewNetworkError creates a transport-level error.
func NewNetworkError(code, message string, cause error) *PlaypenError {
	return &PlaypenError{
		Type:    ErrorTypeNetwork,
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// NewValidationError creates a validation error.
func NewValidationError(code, message string) *PlaypenError {
	return &PlaypenError{
		Type:    ErrorTypeValidation,
		Code:    code,
		Message: message,
	}
}

// NewConfigError creates a configuration error.
func NewConfigError(code, message string) *PlaypenError {
	return &PlaypenError{
		Type:    ErrorTypeConfig,
		Code:    code,
		Message: message,
	}
}

// NewStorageError creates a storage error.
func NewStorageError(code, message string, cause error) *PlaypenError {
	return &PlaypenError{
		Type:    ErrorTypeStorage,
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// NewInternalError creates an internal error.
func NewInternalError(code, message string, cause error) *PlaypenError {
	return &PlaypenError{
		Type:    ErrorTypeInternal,
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// Helper functions for common errors

// ErrProjectNotFound creates a project not found error.
func ErrProjectNotFound(id string) *PlaypenError {
	return NewNotFoundError(ErrCodeProjectNotFound, "project not found").WithProject(id)
}

// ErrUnauthorized creates a missing or rejected credential error.
func ErrUnauthorized(message string) *PlaypenError {
	return NewUnauthorizedError(ErrCodeUnauthorized, message)
}

// LoadError marks err as the failure of loading project id. The error type
// of err is preserved so IsNotFound and friends keep working.
func LoadError(id string, err error) *PlaypenError {
	return wrapOp(OpLoad, id, err)
}

// SaveError marks err as the failure of saving project id.
func SaveError(id string, err error) *PlaypenError {
	return wrapOp(OpSave, id, err)
}

func wrapOp(op, id string, err error) *PlaypenError {
	var pe *PlaypenError
	if errors.As(err, &pe) {
		return &PlaypenError{
			Type:      pe.Type,
			Code:      pe.Code,
			Message:   pe.Message,
			Op:        op,
			ProjectID: id,
			Status:    pe.Status,
			Cause:     pe.Cause,
			Context:   pe.Context,
		}
	}

	return &PlaypenError{
		Type:      ErrorTypeInternal,
		Code:      ErrCodeInternalError,
		Message:   op + " failed",
		Op:        op,
		ProjectID: id,
		Cause:     err,
	}
}

// Error classification helpers

// TypeOf returns the ErrorType of err, or ErrorTypeInternal for foreign errors.
func TypeOf(err error) ErrorType {
	var pe *PlaypenError
	if errors.As(err, &pe) {
		return pe.Type
	}

	return ErrorTypeInternal
}

// IsNotFound checks if an error reports a missing project.
func IsNotFound(err error) bool {
	return err != nil && TypeOf(err) == ErrorTypeNotFound
}

// IsUnauthorized checks if an error reports a missing or rejected token.
func IsUnauthorized(err error) bool {
	return err != nil && TypeOf(err) == ErrorTypeUnauthorized
}

// IsNetwork checks if an error is transport-related.
func IsNetwork(err error) bool {
	return err != nil && TypeOf(err) == ErrorTypeNetwork
}

// IsValidation checks if an error is validation-related.
func IsValidation(err error) bool {
	return err != nil && TypeOf(err) == ErrorTypeValidation
}

// UserMessage returns the short, user-facing description of err shown in
// the editor status line. Causes are omitted; they end up in the logs.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}

	switch TypeOf(err) {
	case ErrorTypeNotFound:
		return "project not found"
	case ErrorTypeUnauthorized:
		return "not signed in or session expired"
	case ErrorTypeNetwork:
		return "could not reach the project server"
	case ErrorTypeValidation:
		var pe *PlaypenError
		if errors.As(err, &pe) {
			return pe.Message
		}
	}

	return "unexpected error"
}
