package app

import (
	"fmt"
	"net/http"
)

const (
	CodeValidation           = "VALIDATION_ERROR"
	CodeNotFound             = "NOT_FOUND"
	CodeRateLimited          = "RATE_LIMITED"
	CodeGenerationFailed     = "GENERATION_FAILED"
	CodeExportNotReady       = "EXPORT_NOT_READY"
	CodeExportsUnavailable   = "EXPORTS_UNAVAILABLE"
	CodeArtifactsUnavailable = "ARTIFACTS_UNAVAILABLE"
	CodeServerError          = "SERVER_ERROR"
)

// DomainError is an error the HTTP layer renders as {code, error, details}
// with Status as the response code.
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

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{Status: status, Code: code, Message: message, Details: details}
}

func invalid(message string, details any) *DomainError {
	return domainError(http.StatusUnprocessableEntity, CodeValidation, message, details)
}

func notFound(message string) *DomainError {
	return domainError(http.StatusNotFound, CodeNotFound, message, nil)
}

func unavailable(code, message string) *DomainError {
	return domainError(http.StatusServiceUnavailable, code, message, nil)
}
