package api

import (
	"errors"
	"net/http"

	"github.com/agentgate/agentgate/types"
)

// Anthropic error type strings.
const (
	ErrTypeInvalidRequest = "invalid_request_error"
	ErrTypeAuthentication = "authentication_error"
	ErrTypeNotFound       = "not_found_error"
	ErrTypeRateLimit      = "rate_limit_error"
	ErrTypeAPI            = "api_error"
	ErrTypeOverloaded     = "overloaded_error"
)

// ErrorDetail is the inner error object.
type ErrorDetail struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// ErrorResponse is the wire envelope for every error the gateway returns.
type ErrorResponse struct {
	Type  string      `json:"type"`
	Error ErrorDetail `json:"error"`
}

// NewErrorResponse wraps a detail into the envelope.
func NewErrorResponse(errType, message string) *ErrorResponse {
	return &ErrorResponse{Type: "error", Error: ErrorDetail{Type: errType, Message: message}}
}

// ErrorResponseFor maps a gateway error onto the Anthropic error envelope
// plus the HTTP status to send it with.
func ErrorResponseFor(err error) (int, *ErrorResponse) {
	var ge *types.Error
	if !errors.As(err, &ge) {
		code := types.GetErrorCode(err)
		if code == "" {
			return http.StatusInternalServerError, NewErrorResponse(ErrTypeAPI, err.Error())
		}
		ge = types.NewError(code, err.Error())
	}

	status := ge.HTTPStatus
	errType := ErrTypeAPI
	switch ge.Code {
	case types.ErrInvalidRequest, types.ErrBatchTooLarge, types.ErrBatchEnded:
		errType = ErrTypeInvalidRequest
		if status == 0 {
			status = http.StatusBadRequest
		}
	case types.ErrAuthentication:
		errType = ErrTypeAuthentication
		if status == 0 {
			status = http.StatusUnauthorized
		}
	case types.ErrSessionNotFound, types.ErrBatchNotFound:
		errType = ErrTypeNotFound
		if status == 0 {
			status = http.StatusNotFound
		}
	case types.ErrRateLimited:
		errType = ErrTypeRateLimit
		if status == 0 {
			status = http.StatusTooManyRequests
		}
	case types.ErrPoolExhausted, types.ErrBackendUnavailable:
		errType = ErrTypeOverloaded
		if status == 0 {
			status = http.StatusServiceUnavailable
		}
	case types.ErrBackendTimeout:
		if status == 0 {
			status = http.StatusGatewayTimeout
		}
	case types.ErrCanceled:
		// Client is gone; the status is moot but 499-style closes fit.
		if status == 0 {
			status = 499
		}
	default:
		if status == 0 {
			status = http.StatusInternalServerError
		}
	}
	return status, NewErrorResponse(errType, ge.Message)
}
