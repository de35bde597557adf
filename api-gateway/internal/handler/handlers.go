// Package handler provides HTTP request handlers for the API Gateway.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/devrev/pairdb/api-gateway/internal/converter"
	apierrors "github.com/devrev/pairdb/api-gateway/internal/errors"
	"github.com/devrev/pairdb/pkg/clock"
	"github.com/devrev/pairdb/pkg/hashring"
	pb "github.com/devrev/pairdb/pkg/proto"
)

// KeyRouter picks replicas for a key and retries across them.
type KeyRouter interface {
	Do(ctx context.Context, key []byte, write bool, fn func(ctx context.Context, addr string) error) error
	Rings() (write, read *hashring.Ring)
}

// StorageAPI is the data path to a single storage node.
type StorageAPI interface {
	Get(ctx context.Context, addr string, key []byte) (*pb.GetResponse, error)
	Set(ctx context.Context, addr string, key, value []byte) (clock.Timestamp, error)
	Delete(ctx context.Context, addr string, key []byte) (clock.Timestamp, error)
}

// Handlers contains all HTTP handlers and their dependencies.
type Handlers struct {
	router       KeyRouter
	storage      StorageAPI
	httpToGRPC   *converter.HTTPToGRPC
	grpcToHTTP   *converter.GRPCToHTTP
	errorHandler *apierrors.Handler
	logger       *zap.Logger
	timeout      time.Duration
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(
	router KeyRouter,
	storage StorageAPI,
	errorHandler *apierrors.Handler,
	logger *zap.Logger,
	timeout time.Duration,
	maxValueSize int64,
) *Handlers {
	return &Handlers{
		router:       router,
		storage:      storage,
		httpToGRPC:   converter.NewHTTPToGRPC(maxValueSize),
		grpcToHTTP:   converter.NewGRPCToHTTP(),
		errorHandler: errorHandler,
		logger:       logger,
		timeout:      timeout,
	}
}

// GetKey handles GET /v1/keys/{key} requests.
func (h *Handlers) GetKey(w http.ResponseWriter, r *http.Request) {
	requestID := r.Header.Get("X-Request-ID")

	req, err := h.httpToGRPC.GetRequest(r)
	if err != nil {
		h.errorHandler.WriteValidationError(w, err.Error(), requestID)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	var (
		resp *pb.GetResponse
		node string
	)
	err = h.router.Do(ctx, req.Key, false, func(ctx context.Context, addr string) error {
		var err error
		resp, err = h.storage.Get(ctx, addr, req.Key)
		node = addr
		return err
	})
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	if !resp.Found {
		h.errorHandler.WriteNotFound(w, string(req.Key), requestID)
		return
	}

	h.writeJSONResponse(w, http.StatusOK, h.grpcToHTTP.GetKeyResponse(req.Key, resp, node))
}

// PutKey handles PUT /v1/keys/{key} requests.
func (h *Handlers) PutKey(w http.ResponseWriter, r *http.Request) {
	requestID := r.Header.Get("X-Request-ID")

	req, err := h.httpToGRPC.SetRequest(r)
	if err != nil {
		if errors.Is(err, converter.ErrValueTooLarge) {
			h.errorHandler.WriteErrorResponse(w, http.StatusRequestEntityTooLarge, apierrors.ErrorCodeValueTooLarge, err.Error(), requestID)
			return
		}
		h.errorHandler.WriteValidationError(w, err.Error(), requestID)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	var (
		ts   clock.Timestamp
		node string
	)
	err = h.router.Do(ctx, req.Key, true, func(ctx context.Context, addr string) error {
		var err error
		ts, err = h.storage.Set(ctx, addr, req.Key, req.Value)
		node = addr
		return err
	})
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	h.writeJSONResponse(w, http.StatusOK, h.grpcToHTTP.WriteKeyResponse(req.Key, ts, node))
}

// DeleteKey handles DELETE /v1/keys/{key} requests.
func (h *Handlers) DeleteKey(w http.ResponseWriter, r *http.Request) {
	requestID := r.Header.Get("X-Request-ID")

	req, err := h.httpToGRPC.DeleteRequest(r)
	if err != nil {
		h.errorHandler.WriteValidationError(w, err.Error(), requestID)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	var (
		ts   clock.Timestamp
		node string
	)
	err = h.router.Do(ctx, req.Key, true, func(ctx context.Context, addr string) error {
		var err error
		ts, err = h.storage.Delete(ctx, addr, req.Key)
		node = addr
		return err
	})
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	h.writeJSONResponse(w, http.StatusOK, h.grpcToHTTP.WriteKeyResponse(req.Key, ts, node))
}

// GetRing handles GET /v1/ring requests.
func (h *Handlers) GetRing(w http.ResponseWriter, r *http.Request) {
	write, read := h.router.Rings()
	h.writeJSONResponse(w, http.StatusOK, h.grpcToHTTP.RingResponse(write, read))
}

// writeJSONResponse writes a JSON response to the HTTP response writer.
func (h *Handlers) writeJSONResponse(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", zap.Error(err))
	}
}
