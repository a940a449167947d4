// Package errors provides error handling and HTTP status code mapping.
package errors

import (
	"context"
	"errors"
	"net/http"

	"github.com/remiblancher/certengine/internal/api/dto"
	"github.com/remiblancher/certengine/pkg/ca"
)

// Error codes for API responses.
const (
	CodeInvalidRequest = "INVALID_REQUEST"
	CodeUnauthorized   = "UNAUTHORIZED"
	CodeValidation     = "VALIDATION_ERROR"
	CodeConfiguration  = "CONFIGURATION_ERROR"
	CodeIssuance       = "ISSUANCE_ERROR"
	CodeTimeout        = "TIMEOUT"
	CodeInternal       = "INTERNAL_ERROR"
)

// MapError maps an internal error to an HTTP status code and APIError.
func MapError(err error) (int, *dto.APIError) {
	if err == nil {
		return http.StatusOK, nil
	}

	var (
		ve *ca.ValidationError
		ce *ca.ConfigurationError
		ie *ca.IssuanceError
	)
	switch {
	case errors.As(err, &ve):
		details := map[string]string{"operation": ve.Op}
		if ve.Field != "" {
			details["field"] = ve.Field
		}
		return http.StatusBadRequest, &dto.APIError{
			Code:    CodeValidation,
			Message: err.Error(),
			Details: details,
		}
	case errors.As(err, &ce):
		return http.StatusPreconditionFailed, &dto.APIError{
			Code:    CodeConfiguration,
			Message: err.Error(),
			Details: map[string]string{"operation": ce.Op},
		}
	case errors.As(err, &ie):
		return http.StatusBadGateway, &dto.APIError{
			Code:    CodeIssuance,
			Message: err.Error(),
			Details: map[string]string{
				"operation": ie.Op,
				"variant":   string(ie.Variant),
			},
		}
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, &dto.APIError{
			Code:    CodeTimeout,
			Message: err.Error(),
		}
	}

	// Default internal error
	return http.StatusInternalServerError, &dto.APIError{
		Code:    CodeInternal,
		Message: "An internal error occurred",
	}
}

// NewBadRequest creates a bad request error.
func NewBadRequest(message string) *dto.APIError {
	return &dto.APIError{
		Code:    CodeInvalidRequest,
		Message: message,
	}
}

// NewUnauthorized creates an authentication error.
func NewUnauthorized() *dto.APIError {
	return &dto.APIError{
		Code:    CodeUnauthorized,
		Message: "missing or invalid bearer token",
	}
}
