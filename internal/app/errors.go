package app

import (
	"errors"
	"fmt"
	"net/http"

	"altan/workspace/internal/restapi"
)

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
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}

func notFound(message string) *DomainError {
	return domainError(http.StatusNotFound, "NOT_FOUND", message, nil)
}

func disabled(feature string) *DomainError {
	return domainError(http.StatusServiceUnavailable, "DISABLED", feature+" is not configured", nil)
}

// upstreamError converts a failed upstream call into a 502 carrying the upstream
// status and the best message available.
func upstreamError(err error, fallback string) error {
	var apiErr *restapi.APIError
	if errors.As(err, &apiErr) {
		message := apiErr.ResponseMessage()
		if message == "" {
			message = fallback
		}
		return domainError(http.StatusBadGateway, "UPSTREAM_ERROR", message, map[string]any{"status": apiErr.StatusCode})
	}
	return fmt.Errorf("%s: %w", fallback, err)
}
