// Package converter provides HTTP to gRPC and gRPC to HTTP conversion utilities.
package converter

import (
	"github.com/devrev/pairdb/pkg/clock"
	"github.com/devrev/pairdb/pkg/hashring"
	pb "github.com/devrev/pairdb/pkg/proto"
)

// GRPCToHTTP handles conversion of gRPC responses to HTTP responses.
type GRPCToHTTP struct{}

// NewGRPCToHTTP creates a new GRPCToHTTP converter.
func NewGRPCToHTTP() *GRPCToHTTP {
	return &GRPCToHTTP{}
}

// GetKeyHTTPResponse represents the HTTP response for GET /v1/keys/{key}.
type GetKeyHTTPResponse struct {
	Status    string `json:"status"`
	Key       string `json:"key"`
	Value     string `json:"value"`
	Timestamp string `json:"timestamp"`
	Node      string `json:"node"`
}

// WriteKeyHTTPResponse represents the HTTP response for PUT and DELETE.
type WriteKeyHTTPResponse struct {
	Status    string `json:"status"`
	Key       string `json:"key"`
	Timestamp string `json:"timestamp"`
	Node      string `json:"node"`
}

// RingHTTPResponse represents the HTTP response for GET /v1/ring.
type RingHTTPResponse struct {
	Status string       `json:"status"`
	Write  RingSnapshot `json:"write"`
	Read   RingSnapshot `json:"read"`
}

// RingSnapshot describes one ring.
type RingSnapshot struct {
	Timestamp string          `json:"timestamp"`
	Nodes     []hashring.Node `json:"nodes"`
}

// GetKeyResponse converts a storage GetResponse.
func (c *GRPCToHTTP) GetKeyResponse(key []byte, resp *pb.GetResponse, node string) *GetKeyHTTPResponse {
	return &GetKeyHTTPResponse{
		Status:    "success",
		Key:       string(key),
		Value:     string(resp.Value),
		Timestamp: resp.Timestamp.String(),
		Node:      node,
	}
}

// WriteKeyResponse converts the timestamp a storage node assigned to a write or delete.
func (c *GRPCToHTTP) WriteKeyResponse(key []byte, ts clock.Timestamp, node string) *WriteKeyHTTPResponse {
	return &WriteKeyHTTPResponse{
		Status:    "success",
		Key:       string(key),
		Timestamp: ts.String(),
		Node:      node,
	}
}

// RingResponse describes both routing rings.
func (c *GRPCToHTTP) RingResponse(write, read *hashring.Ring) *RingHTTPResponse {
	return &RingHTTPResponse{
		Status: "success",
		Write:  snapshot(write),
		Read:   snapshot(read),
	}
}

func snapshot(r *hashring.Ring) RingSnapshot {
	nodes := r.Nodes()
	if nodes == nil {
		nodes = []hashring.Node{}
	}
	return RingSnapshot{Timestamp: r.Timestamp().String(), Nodes: nodes}
}
