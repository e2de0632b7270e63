package errors

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/render"
)

// Error codes carried by APIError. The error handler maps them onto
// problem types.
const (
	CodeInvalidRequest   = "INVALID_REQUEST"
	CodeValidationFailed = "VALIDATION_FAILED"
	CodeUnauthorized     = "UNAUTHORIZED"
	CodeRateLimited      = "RATE_LIMIT_EXCEEDED"
	CodeUpgradeFailed    = "WEBSOCKET_UPGRADE_FAILED"
	CodePayloadTooLarge  = "PAYLOAD_TOO_LARGE"
	CodeUnsupportedMedia = "UNSUPPORTED_MEDIA_TYPE"
)

// APIError is an HTTP-facing failure of the session API or the gateway
// upgrade. Session-control failures are not APIErrors; they travel as
// typed errors until the error handler maps them.
type APIError struct {
	StatusCode int         `json:"status_code"`
	ErrorCode  string      `json:"error_code"`
	Message    string      `json:"message"`
	Details    interface{} `json:"details,omitempty"`
}

func (e *APIError) Error() string {
	return e.Message
}

// Render implements render.Renderer
func (e *APIError) Render(w http.ResponseWriter, r *http.Request) error {
	render.Status(r, e.StatusCode)
	return nil
}

// New creates an APIError
func New(statusCode int, errorCode, message string) *APIError {
	return &APIError{StatusCode: statusCode, ErrorCode: errorCode, Message: message}
}

// NewWithDetails creates an APIError with a details payload
func NewWithDetails(statusCode int, errorCode, message string, details interface{}) *APIError {
	return &APIError{StatusCode: statusCode, ErrorCode: errorCode, Message: message, Details: details}
}

var (
	// ErrUnauthorized rejects session API calls without a valid API key
	ErrUnauthorized = New(http.StatusUnauthorized, CodeUnauthorized, "Valid API key required")

	// ErrRateLimitExceeded rejects callers over their request budget
	ErrRateLimitExceeded = New(http.StatusTooManyRequests, CodeRateLimited, "Rate limit exceeded")
)

// InvalidRequestWithError reports an unreadable request body
func InvalidRequestWithError(err error) *APIError {
	return NewWithDetails(http.StatusBadRequest, CodeInvalidRequest, "Invalid request format", err.Error())
}

// ValidationError names one rejected request field
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationErrors groups the rejected fields of one request
type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

// ErrValidation reports a single rejected field
func ErrValidation(field, message string) *APIError {
	return NewWithDetails(http.StatusBadRequest, CodeValidationFailed, "Request validation failed",
		ValidationError{Field: field, Message: message})
}

// NewValidationErrors reports several rejected fields at once
func NewValidationErrors(errs []ValidationError) *APIError {
	return NewWithDetails(http.StatusBadRequest, CodeValidationFailed, "Request validation failed",
		ValidationErrors{Errors: errs})
}

// UpgradeError reports a refused websocket handshake. status is the code
// the upgrader chose; a missing one becomes 400.
func UpgradeError(status int, reason error) *APIError {
	if status < http.StatusBadRequest {
		status = http.StatusBadRequest
	}
	apiErr := New(status, CodeUpgradeFailed, "WebSocket upgrade failed")
	if reason != nil {
		apiErr.Details = reason.Error()
	}
	return apiErr
}

// ErrorResponse is the body written by WriteError
type ErrorResponse struct {
	Success bool      `json:"success"`
	Error   *APIError `json:"error"`
}

// WriteError writes err as JSON without a chi request context. The
// websocket upgrader calls it before any router middleware can render.
func WriteError(w http.ResponseWriter, err *APIError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(err.StatusCode)
	_ = json.NewEncoder(w).Encode(ErrorResponse{Error: err})
}
