package errors

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/devrev/pairdb/api-gateway/internal/router"
)

func TestErrorHandler_GRPCToHTTPStatus(t *testing.T) {
	handler := NewHandler(zap.NewNop())

	tests := []struct {
		name         string
		grpcCode     codes.Code
		expectedHTTP int
	}{
		{"OK", codes.OK, http.StatusOK},
		{"InvalidArgument", codes.InvalidArgument, http.StatusBadRequest},
		{"NotFound", codes.NotFound, http.StatusNotFound},
		{"AlreadyExists", codes.AlreadyExists, http.StatusConflict},
		{"ResourceExhausted", codes.ResourceExhausted, http.StatusTooManyRequests},
		{"FailedPrecondition", codes.FailedPrecondition, http.StatusPreconditionFailed},
		{"Unimplemented", codes.Unimplemented, http.StatusNotImplemented},
		{"Internal", codes.Internal, http.StatusInternalServerError},
		{"Unavailable", codes.Unavailable, http.StatusServiceUnavailable},
		{"DeadlineExceeded", codes.DeadlineExceeded, http.StatusGatewayTimeout},
		{"Unknown", codes.Unknown, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := status.Error(tt.grpcCode, "test error")
			assert.Equal(t, tt.expectedHTTP, handler.GRPCToHTTPStatus(err))
		})
	}

	t.Run("nil error", func(t *testing.T) {
		assert.Equal(t, http.StatusOK, handler.GRPCToHTTPStatus(nil))
	})

	t.Run("non-gRPC error", func(t *testing.T) {
		assert.Equal(t, http.StatusInternalServerError, handler.GRPCToHTTPStatus(fmt.Errorf("plain")))
	})
}

func TestErrorHandler_Classify(t *testing.T) {
	handler := NewHandler(zap.NewNop())

	exhausted := fmt.Errorf("%w after 6 attempts: %w", router.ErrExhausted, status.Error(codes.Unavailable, "down"))
	noRing := fmt.Errorf("%w after 6 attempts: %w", router.ErrExhausted, router.ErrNoHashSpace)

	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   ErrorCode
	}{
		{"deadline", context.DeadlineExceeded, http.StatusGatewayTimeout, ErrorCodeTimeout},
		{"canceled", context.Canceled, http.StatusServiceUnavailable, ErrorCodeServiceDown},
		{"no hash space", router.ErrNoHashSpace, http.StatusServiceUnavailable, ErrorCodeNoHashSpace},
		{"replicas exhausted", exhausted, http.StatusServiceUnavailable, ErrorCodeReplicasExhausted},
		{"exhausted without ring", noRing, http.StatusServiceUnavailable, ErrorCodeReplicasExhausted},
		{"stale write", status.Error(codes.AlreadyExists, "stale"), http.StatusConflict, ErrorCodeStaleWrite},
		{"invalid key", status.Error(codes.InvalidArgument, "key too long"), http.StatusBadRequest, ErrorCodeInvalidRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gotStatus, gotCode := handler.Classify(tt.err)
			assert.Equal(t, tt.wantStatus, gotStatus)
			assert.Equal(t, tt.wantCode, gotCode)
		})
	}
}

func TestErrorHandler_HandleError(t *testing.T) {
	handler := NewHandler(zap.NewNop())

	req := httptest.NewRequest(http.MethodPut, "/v1/keys/a", nil)
	req.Header.Set("X-Request-ID", "req-1")
	w := httptest.NewRecorder()

	handler.HandleError(w, req, status.Error(codes.AlreadyExists, "newer version stored"))

	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "error", resp.Status)
	assert.Equal(t, ErrorCodeStaleWrite, resp.ErrorCode)
	assert.Equal(t, "newer version stored", resp.Message)
	assert.Equal(t, "req-1", resp.RequestID)
}

func TestErrorHandler_WriteHelpers(t *testing.T) {
	handler := NewHandler(zap.NewNop())

	tests := []struct {
		name       string
		write      func(w http.ResponseWriter)
		wantStatus int
		wantCode   ErrorCode
	}{
		{"validation", func(w http.ResponseWriter) { handler.WriteValidationError(w, "bad", "") }, http.StatusBadRequest, ErrorCodeInvalidRequest},
		{"not found", func(w http.ResponseWriter) { handler.WriteNotFound(w, "k", "") }, http.StatusNotFound, ErrorCodeKeyNotFound},
		{"internal", func(w http.ResponseWriter) { handler.WriteInternalError(w, "boom", "") }, http.StatusInternalServerError, ErrorCodeInternalError},
		{"unavailable", func(w http.ResponseWriter) { handler.WriteServiceUnavailable(w, "down", "") }, http.StatusServiceUnavailable, ErrorCodeServiceDown},
		{"rate limited", func(w http.ResponseWriter) { handler.WriteRateLimitedError(w, "") }, http.StatusTooManyRequests, ErrorCodeRateLimited},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			tt.write(w)

			assert.Equal(t, tt.wantStatus, w.Code)
			var resp ErrorResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.Equal(t, tt.wantCode, resp.ErrorCode)
		})
	}
}
