package errors

import (
	"fmt"
	"net/http"

	"github.com/go-chi/render"
)

// APIError represents a structured API error response
type APIError struct {
	StatusCode int         `json:"status_code"`
	ErrorCode  string      `json:"error_code"`
	Message    string      `json:"message"`
	Details    interface{} `json:"details,omitempty"`
}

// Error implements the error interface
func (e *APIError) Error() string {
	return e.Message
}

// Render implements the render.Renderer interface for chi/render
func (e *APIError) Render(w http.ResponseWriter, r *http.Request) error {
	render.Status(r, e.StatusCode)
	return nil
}

// New creates a new APIError with the given parameters
func New(statusCode int, errorCode, message string) *APIError {
	return &APIError{
		StatusCode: statusCode,
		ErrorCode:  errorCode,
		Message:    message,
	}
}

// NewWithDetails creates a new APIError with additional details
func NewWithDetails(statusCode int, errorCode, message string, details interface{}) *APIError {
	return &APIError{
		StatusCode: statusCode,
		ErrorCode:  errorCode,
		Message:    message,
		Details:    details,
	}
}

// Predefined error types for the gateway's failure taxonomy
var (
	// 400 Bad Request
	ErrMalformedRequest = New(http.StatusBadRequest, "MALFORMED_REQUEST", "Malformed command request")

	// 401 Unauthorized
	ErrAuthMissing  = New(http.StatusUnauthorized, "AUTH_MISSING", "Authentication required")
	ErrAuthRejected = New(http.StatusUnauthorized, "AUTH_REJECTED", "Invalid credentials")

	// 503 Service Unavailable
	ErrShuttingDown = New(http.StatusServiceUnavailable, "SHUTTING_DOWN", "Server is shutting down")

	// 500 Internal Server Error
	ErrInternalServer = New(http.StatusInternalServerError, "INTERNAL_SERVER_ERROR", "Internal server error")
)

// MalformedRequestWithError creates a malformed request error carrying the cause
func MalformedRequestWithError(err error) *APIError {
	return NewWithDetails(http.StatusBadRequest, "MALFORMED_REQUEST", "Malformed command request", err.Error())
}

// WebSocketUpgradeWithError reports a failed handshake with the status the
// upgrader chose
func WebSocketUpgradeWithError(status int, err error) *APIError {
	return NewWithDetails(status, "WEBSOCKET_UPGRADE_FAILED", "WebSocket upgrade failed", err.Error())
}

// WriteError renders err as JSON with its status code
func WriteError(w http.ResponseWriter, r *http.Request, err *APIError) {
	if renderErr := render.Render(w, r, err); renderErr != nil {
		http.Error(w, err.Message, err.StatusCode)
	}
}

// WriteAuthChallenge writes a Basic-Auth login-required response for realm
func WriteAuthChallenge(w http.ResponseWriter, r *http.Request, realm string, err *APIError) {
	if err == nil {
		err = ErrAuthMissing
	}
	w.Header().Set("WWW-Authenticate", fmt.Sprintf("Basic realm=%q", realm))
	WriteError(w, r, err)
}
