// Package errors provides error handling and HTTP status code mapping for the API Gateway.
package errors

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"net/http"

	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/devrev/pairdb/api-gateway/internal/router"
)

// ErrorCode represents application-specific error codes.
type ErrorCode string

const (
	// General errors
	ErrorCodeUnknown        ErrorCode = "UNKNOWN"
	ErrorCodeInvalidRequest ErrorCode = "INVALID_REQUEST"
	ErrorCodeInternalError  ErrorCode = "INTERNAL_ERROR"
	ErrorCodeServiceDown    ErrorCode = "SERVICE_UNAVAILABLE"
	ErrorCodeTimeout        ErrorCode = "TIMEOUT"
	ErrorCodeRateLimited    ErrorCode = "RATE_LIMITED"

	// Key-Value errors
	ErrorCodeKeyNotFound   ErrorCode = "KEY_NOT_FOUND"
	ErrorCodeStaleWrite    ErrorCode = "STALE_WRITE"
	ErrorCodeValueTooLarge ErrorCode = "VALUE_TOO_LARGE"

	// Routing errors
	ErrorCodeNoHashSpace       ErrorCode = "HASH_SPACE_UNKNOWN"
	ErrorCodeReplicasExhausted ErrorCode = "REPLICAS_EXHAUSTED"
)

// ErrorResponse represents the standard error response format.
type ErrorResponse struct {
	Status    string    `json:"status"`
	ErrorCode ErrorCode `json:"error_code"`
	Message   string    `json:"message"`
	RequestID string    `json:"request_id,omitempty"`
}

// Handler provides error handling functionality.
type Handler struct {
	logger *zap.Logger
}

// NewHandler creates a new error handler.
func NewHandler(logger *zap.Logger) *Handler {
	return &Handler{
		logger: logger,
	}
}

// HandleError processes an error and writes an appropriate HTTP response.
func (h *Handler) HandleError(w http.ResponseWriter, r *http.Request, err error) {
	statusCode, errorCode := h.Classify(err)
	message := err.Error()

	// Extract gRPC status message if available
	if st, ok := status.FromError(err); ok {
		message = st.Message()
	}

	h.WriteErrorResponse(w, statusCode, errorCode, message, r.Header.Get("X-Request-ID"))
}

// Classify maps an error to an HTTP status and an application error code.
// Router errors are checked before gRPC status codes because a retry
// exhaustion wraps the last replica error.
func (h *Handler) Classify(err error) (int, ErrorCode) {
	switch {
	case err == nil:
		return http.StatusOK, ErrorCodeUnknown
	case stderrors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, ErrorCodeTimeout
	case stderrors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable, ErrorCodeServiceDown
	case stderrors.Is(err, router.ErrNoHashSpace) && !stderrors.Is(err, router.ErrExhausted):
		return http.StatusServiceUnavailable, ErrorCodeNoHashSpace
	case stderrors.Is(err, router.ErrExhausted):
		return http.StatusServiceUnavailable, ErrorCodeReplicasExhausted
	}
	return h.GRPCToHTTPStatus(err), h.GRPCToErrorCode(err)
}

// GRPCToHTTPStatus converts a gRPC error to an HTTP status code.
func (h *Handler) GRPCToHTTPStatus(err error) int {
	if err == nil {
		return http.StatusOK
	}

	st, ok := status.FromError(err)
	if !ok {
		return http.StatusInternalServerError
	}

	switch st.Code() {
	case codes.OK:
		return http.StatusOK
	case codes.InvalidArgument:
		return http.StatusBadRequest
	case codes.NotFound:
		return http.StatusNotFound
	case codes.AlreadyExists:
		return http.StatusConflict
	case codes.PermissionDenied:
		return http.StatusForbidden
	case codes.Unauthenticated:
		return http.StatusUnauthorized
	case codes.ResourceExhausted:
		return http.StatusTooManyRequests
	case codes.FailedPrecondition:
		return http.StatusPreconditionFailed
	case codes.Aborted:
		return http.StatusConflict
	case codes.OutOfRange:
		return http.StatusBadRequest
	case codes.Unimplemented:
		return http.StatusNotImplemented
	case codes.Internal:
		return http.StatusInternalServerError
	case codes.Unavailable:
		return http.StatusServiceUnavailable
	case codes.DeadlineExceeded:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// GRPCToErrorCode converts a gRPC error to an application error code.
func (h *Handler) GRPCToErrorCode(err error) ErrorCode {
	if err == nil {
		return ErrorCodeUnknown
	}

	st, ok := status.FromError(err)
	if !ok {
		return ErrorCodeInternalError
	}

	switch st.Code() {
	case codes.InvalidArgument, codes.OutOfRange:
		return ErrorCodeInvalidRequest
	case codes.NotFound:
		return ErrorCodeKeyNotFound
	case codes.AlreadyExists:
		// storage nodes answer AlreadyExists when a newer version is stored
		return ErrorCodeStaleWrite
	case codes.ResourceExhausted:
		return ErrorCodeRateLimited
	case codes.Unavailable:
		return ErrorCodeServiceDown
	case codes.DeadlineExceeded:
		return ErrorCodeTimeout
	default:
		return ErrorCodeInternalError
	}
}

// WriteErrorResponse writes a formatted error response to the HTTP response writer.
func (h *Handler) WriteErrorResponse(w http.ResponseWriter, statusCode int, errorCode ErrorCode, message string, requestID string) {
	h.logger.Warn("HTTP error response",
		zap.Int("status_code", statusCode),
		zap.String("error_code", string(errorCode)),
		zap.String("message", message),
		zap.String("request_id", requestID),
	)

	resp := ErrorResponse{
		Status:    "error",
		ErrorCode: errorCode,
		Message:   message,
		RequestID: requestID,
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		h.logger.Error("failed to encode error response", zap.Error(err))
	}
}

// WriteValidationError writes a validation error response.
func (h *Handler) WriteValidationError(w http.ResponseWriter, message string, requestID string) {
	h.WriteErrorResponse(w, http.StatusBadRequest, ErrorCodeInvalidRequest, message, requestID)
}

// WriteNotFound writes a key not found response.
func (h *Handler) WriteNotFound(w http.ResponseWriter, key string, requestID string) {
	h.WriteErrorResponse(w, http.StatusNotFound, ErrorCodeKeyNotFound, "key not found: "+key, requestID)
}

// WriteInternalError writes an internal error response.
func (h *Handler) WriteInternalError(w http.ResponseWriter, message string, requestID string) {
	h.WriteErrorResponse(w, http.StatusInternalServerError, ErrorCodeInternalError, message, requestID)
}

// WriteServiceUnavailable writes a service unavailable response.
func (h *Handler) WriteServiceUnavailable(w http.ResponseWriter, message string, requestID string) {
	h.WriteErrorResponse(w, http.StatusServiceUnavailable, ErrorCodeServiceDown, message, requestID)
}

// WriteRateLimitedError writes a rate limit exceeded response.
func (h *Handler) WriteRateLimitedError(w http.ResponseWriter, requestID string) {
	h.WriteErrorResponse(w, http.StatusTooManyRequests, ErrorCodeRateLimited, "rate limit exceeded", requestID)
}
