// Package apperrors defines the error model of the control API. Errors carry
// a stable machine code and the HTTP status they map to, so handlers can
// return them directly.
package apperrors

import (
	"errors"
	"net/http"

	"github.com/hgdev/sonos-bridge/internal/device"
	"github.com/hgdev/sonos-bridge/internal/soap"
)

// ErrorCode is a stable machine-readable error identifier.
type ErrorCode string

const (
	ErrorCodeInternalError   ErrorCode = "INTERNAL_ERROR"
	ErrorCodeValidationError ErrorCode = "VALIDATION_ERROR"
	ErrorCodeNotFound        ErrorCode = "NOT_FOUND"
	ErrorCodeUnauthorized    ErrorCode = "UNAUTHORIZED"

	ErrorCodePeerNotFound    ErrorCode = "PEER_NOT_FOUND"
	ErrorCodePeerBusy        ErrorCode = "PEER_BUSY"
	ErrorCodePeerUnreachable ErrorCode = "PEER_UNREACHABLE"
	ErrorCodeSoapTimeout     ErrorCode = "SOAP_TIMEOUT"
	ErrorCodeSoapRejected    ErrorCode = "SOAP_REJECTED"
	ErrorCodeTTSDisabled     ErrorCode = "TTS_DISABLED"

	ErrorCodeAuthTokenExpired   ErrorCode = "AUTH_TOKEN_EXPIRED"
	ErrorCodeAuthTokenInvalid   ErrorCode = "AUTH_TOKEN_INVALID"
	ErrorCodeAuthPairingInvalid ErrorCode = "AUTH_PAIRING_INVALID"
	ErrorCodeAuthPairingExpired ErrorCode = "AUTH_PAIRING_EXPIRED"
)

// ErrorType buckets codes the way API clients branch on them.
type ErrorType string

const (
	ErrorTypeAPIError       ErrorType = "api_error"
	ErrorTypeInvalidRequest ErrorType = "invalid_request_error"
	ErrorTypeAuthError      ErrorType = "authentication_error"
)

// ErrorBody is the wire form of an error.
type ErrorBody struct {
	Type    ErrorType      `json:"type"`
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// AppError is the base error type for HTTP responses.
type AppError struct {
	Code       ErrorCode
	Message    string
	StatusCode int
	Details    map[string]any
}

func (err *AppError) Error() string {
	return err.Message
}

// Body returns the error in wire form.
func (err *AppError) Body() ErrorBody {
	errType := ErrorTypeAPIError
	switch {
	case err.StatusCode == http.StatusUnauthorized || err.StatusCode == http.StatusForbidden:
		errType = ErrorTypeAuthError
	case err.StatusCode >= 400 && err.StatusCode < 500:
		errType = ErrorTypeInvalidRequest
	}
	return ErrorBody{
		Type:    errType,
		Code:    string(err.Code),
		Message: err.Message,
		Details: err.Details,
	}
}

func NewAppError(code ErrorCode, message string, statusCode int, details map[string]any) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		StatusCode: statusCode,
		Details:    details,
	}
}

func NewValidationError(message string, details map[string]any) *AppError {
	return NewAppError(ErrorCodeValidationError, message, http.StatusBadRequest, details)
}

func NewUnauthorizedError(message string, code ...ErrorCode) *AppError {
	errCode := ErrorCodeUnauthorized
	if len(code) > 0 {
		errCode = code[0]
	}
	return NewAppError(errCode, message, http.StatusUnauthorized, nil)
}

func NewNotFoundResource(resource, id string) *AppError {
	message := resource + " not found"
	details := map[string]any{"resource": resource}
	if id != "" {
		message = resource + " not found: " + id
		details["id"] = id
	}
	code := ErrorCodeNotFound
	if resource == "peer" {
		code = ErrorCodePeerNotFound
	}
	return NewAppError(code, message, http.StatusNotFound, details)
}

func NewInternalError(message string) *AppError {
	return NewAppError(ErrorCodeInternalError, message, http.StatusInternalServerError, nil)
}

// EnsureAppError converts an arbitrary error into an AppError, mapping the
// protocol error types onto their API codes.
func EnsureAppError(err error) *AppError {
	if err == nil {
		return NewInternalError("Unknown error")
	}

	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}

	var timeout *soap.TimeoutError
	if errors.As(err, &timeout) {
		return NewAppError(ErrorCodeSoapTimeout, err.Error(), http.StatusGatewayTimeout, nil)
	}
	var unreachable *soap.UnreachableError
	if errors.As(err, &unreachable) {
		return NewAppError(ErrorCodePeerUnreachable, err.Error(), http.StatusBadGateway, nil)
	}
	var rejected *soap.RejectedError
	if errors.As(err, &rejected) {
		return NewAppError(ErrorCodeSoapRejected, err.Error(), http.StatusBadGateway, map[string]any{
			"upnp_error_code": rejected.Code,
		})
	}
	if errors.Is(err, device.ErrBusy) {
		return NewAppError(ErrorCodePeerBusy, err.Error(), http.StatusConflict, nil)
	}

	return NewInternalError("Internal server error")
}
