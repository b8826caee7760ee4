package app

import (
	"fmt"
	"net/http"
)

// Error codes sent in the "code" field of every error body.
const (
	codeNotFound          = "NOT_FOUND"
	codeForbidden         = "FORBIDDEN"
	codeUnauthorized      = "UNAUTHORIZED"
	codeConflict          = "CONFLICT"
	codeValidation        = "VALIDATION_ERROR"
	codeInvalidBody       = "INVALID_BODY"
	codePersistence       = "PERSISTENCE_FAILED"
	codeExportUnavailable = "EXPORT_UNAVAILABLE"
	codeServer            = "SERVER_ERROR"
)

// DomainError is an error the service has already classified for the
// HTTP boundary. Details is serialized as-is.
type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s (%d): %s", e.Code, e.Status, e.Message)
}

func notFound(message string, details any) *DomainError {
	return &DomainError{Status: http.StatusNotFound, Code: codeNotFound, Message: message, Details: details}
}

func forbidden() *DomainError {
	return &DomainError{Status: http.StatusForbidden, Code: codeForbidden, Message: "Forbidden"}
}

func conflict(message string, details any) *DomainError {
	return &DomainError{Status: http.StatusConflict, Code: codeConflict, Message: message, Details: details}
}

func validationFailed(message string, details any) *DomainError {
	return &DomainError{Status: http.StatusUnprocessableEntity, Code: codeValidation, Message: message, Details: details}
}
