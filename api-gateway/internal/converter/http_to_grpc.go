// Package converter provides HTTP to gRPC and gRPC to HTTP conversion utilities.
package converter

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	pb "github.com/devrev/pairdb/pkg/proto"
)

// MaxKeySize matches the storage node limit.
const MaxKeySize = 1024

// ErrValueTooLarge is returned when a request body exceeds the configured value size.
var ErrValueTooLarge = errors.New("value too large")

// HTTPToGRPC handles conversion of HTTP requests to gRPC requests.
type HTTPToGRPC struct {
	maxValueSize int64
}

// NewHTTPToGRPC creates a new HTTPToGRPC converter.
func NewHTTPToGRPC(maxValueSize int64) *HTTPToGRPC {
	return &HTTPToGRPC{maxValueSize: maxValueSize}
}

// PutKeyHTTPRequest represents the HTTP request body for PUT /v1/keys/{key}.
type PutKeyHTTPRequest struct {
	Value *string `json:"value"`
}

// Key extracts and validates the {key} path variable.
func (c *HTTPToGRPC) Key(r *http.Request) ([]byte, error) {
	key := mux.Vars(r)["key"]
	if key == "" {
		return nil, fmt.Errorf("key is required")
	}
	if len(key) > MaxKeySize {
		return nil, fmt.Errorf("key exceeds %d bytes", MaxKeySize)
	}
	return []byte(key), nil
}

// GetRequest converts GET /v1/keys/{key} to a storage GetRequest.
func (c *HTTPToGRPC) GetRequest(r *http.Request) (*pb.GetRequest, error) {
	key, err := c.Key(r)
	if err != nil {
		return nil, err
	}
	return &pb.GetRequest{Key: key}, nil
}

// SetRequest converts PUT /v1/keys/{key} to a storage SetRequest. The body is
// either a JSON object {"value": "..."} or, for any other content type, the
// raw value bytes.
func (c *HTTPToGRPC) SetRequest(r *http.Request) (*pb.SetRequest, error) {
	key, err := c.Key(r)
	if err != nil {
		return nil, err
	}
	defer r.Body.Close()

	isJSON := strings.HasPrefix(r.Header.Get("Content-Type"), "application/json")

	// JSON bodies get room for the envelope and escaped characters
	readLimit := c.maxValueSize
	if isJSON {
		readLimit = 2*c.maxValueSize + 64
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, readLimit+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read request body: %w", err)
	}
	if int64(len(body)) > readLimit {
		return nil, fmt.Errorf("%w: limit is %d bytes", ErrValueTooLarge, c.maxValueSize)
	}

	value := body
	if isJSON {
		var httpReq PutKeyHTTPRequest
		if err := json.Unmarshal(body, &httpReq); err != nil {
			return nil, fmt.Errorf("failed to parse request body: %w", err)
		}
		if httpReq.Value == nil {
			return nil, fmt.Errorf("value is required")
		}
		value = []byte(*httpReq.Value)
	}
	if int64(len(value)) > c.maxValueSize {
		return nil, fmt.Errorf("%w: limit is %d bytes", ErrValueTooLarge, c.maxValueSize)
	}

	return &pb.SetRequest{Key: key, Value: value}, nil
}

// DeleteRequest converts DELETE /v1/keys/{key} to a storage DeleteRequest.
func (c *HTTPToGRPC) DeleteRequest(r *http.Request) (*pb.DeleteRequest, error) {
	key, err := c.Key(r)
	if err != nil {
		return nil, err
	}
	return &pb.DeleteRequest{Key: key}, nil
}
