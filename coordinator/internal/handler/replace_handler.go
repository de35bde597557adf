package handler

import (
	"context"
	"errors"

	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/devrev/pairdb/coordinator/internal/service"
	pb "github.com/devrev/pairdb/pkg/proto"
)

// ReplaceHandler serves the ring and replace protocol RPCs
type ReplaceHandler struct {
	manager *service.Manager
	logger  *zap.Logger
}

// NewReplaceHandler creates a new replace handler
func NewReplaceHandler(manager *service.Manager, logger *zap.Logger) *ReplaceHandler {
	return &ReplaceHandler{
		manager: manager,
		logger:  logger,
	}
}

// KeepAlive handles keepalives from data nodes and the partner coordinator
func (h *ReplaceHandler) KeepAlive(ctx context.Context, req *pb.KeepAliveRequest) (*pb.KeepAliveResponse, error) {
	if req.Addr == "" {
		return nil, status.Error(codes.InvalidArgument, "addr is required")
	}
	if req.Role != pb.RoleStorageNode && req.Role != pb.RoleCoordinator {
		return nil, status.Errorf(codes.InvalidArgument, "unknown role %q", req.Role)
	}

	return &pb.KeepAliveResponse{Clock: h.manager.HandleKeepAlive(req)}, nil
}

// HashSpaceSync merges rings pushed by the partner coordinator
func (h *ReplaceHandler) HashSpaceSync(ctx context.Context, req *pb.HashSpaceSyncRequest) (*pb.HashSpaceSyncResponse, error) {
	accepted := h.manager.HandleHashSpaceSync(req)
	return &pb.HashSpaceSyncResponse{Accepted: accepted, Clock: h.manager.Clock()}, nil
}

// HashSpaceRequest returns the current rings
func (h *ReplaceHandler) HashSpaceRequest(ctx context.Context, req *pb.HashSpaceRequest) (*pb.HashSpaceResponse, error) {
	write, read := h.manager.HashSpace()
	if write.Empty() {
		return nil, status.Error(codes.Unavailable, "hash space is empty")
	}
	return &pb.HashSpaceResponse{Write: write, Read: read, Clock: h.manager.Clock()}, nil
}

// ReplaceElection handles a delegation from the partner coordinator
func (h *ReplaceHandler) ReplaceElection(ctx context.Context, req *pb.ReplaceElectionRequest) (*pb.ReplaceElectionResponse, error) {
	h.logger.Info("Received replace election",
		zap.String("from", req.From),
		zap.Stringer("seed_ts", req.Seed.Timestamp))

	accepted := h.manager.HandleReplaceElection(context.WithoutCancel(ctx), req)
	return &pb.ReplaceElectionResponse{Accepted: accepted, Clock: h.manager.Clock()}, nil
}

// ReplaceCopyEnd records a data node's copy acknowledgement
func (h *ReplaceHandler) ReplaceCopyEnd(ctx context.Context, req *pb.ReplaceEndRequest) (*pb.ReplaceEndResponse, error) {
	if err := validateEnd(req); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	accepted := h.manager.HandleCopyEnd(req.Addr, req.Epoch, req.Clock)
	return &pb.ReplaceEndResponse{Accepted: accepted}, nil
}

// ReplaceDeleteEnd records a data node's delete acknowledgement
func (h *ReplaceHandler) ReplaceDeleteEnd(ctx context.Context, req *pb.ReplaceEndRequest) (*pb.ReplaceEndResponse, error) {
	if err := validateEnd(req); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	accepted := h.manager.HandleDeleteEnd(req.Addr, req.Epoch, req.Clock)
	return &pb.ReplaceEndResponse{Accepted: accepted}, nil
}

func validateEnd(req *pb.ReplaceEndRequest) error {
	if req.Addr == "" {
		return errors.New("addr is required")
	}
	if req.Epoch.IsZero() {
		return errors.New("epoch is required")
	}
	return nil
}
