package handler

import (
	"context"

	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/devrev/pairdb/pkg/clock"
	pb "github.com/devrev/pairdb/pkg/proto"
	"github.com/devrev/pairdb/storage-node/internal/errors"
	"github.com/devrev/pairdb/storage-node/internal/service"
)

// StorageHandler implements the pairdb.StorageNode gRPC service
type StorageHandler struct {
	storageService *service.StorageService
	participant    *service.Participant
	clock          *clock.LogicalClock
	logger         *zap.Logger
}

// NewStorageHandler creates a new storage handler
func NewStorageHandler(
	storageSvc *service.StorageService,
	participant *service.Participant,
	clk *clock.LogicalClock,
	logger *zap.Logger,
) *StorageHandler {
	return &StorageHandler{
		storageService: storageSvc,
		participant:    participant,
		clock:          clk,
		logger:         logger,
	}
}

// KeepAlive answers liveness probes and exchanges clocks
func (h *StorageHandler) KeepAlive(ctx context.Context, req *pb.KeepAliveRequest) (*pb.KeepAliveResponse, error) {
	h.clock.Update(req.Clock)
	return &pb.KeepAliveResponse{Clock: h.clock.Get()}, nil
}

// HashSpaceSync merges rings pushed by a coordinator
func (h *StorageHandler) HashSpaceSync(ctx context.Context, req *pb.HashSpaceSyncRequest) (*pb.HashSpaceSyncResponse, error) {
	accepted := h.participant.HandleHashSpaceSync(req)
	return &pb.HashSpaceSyncResponse{Accepted: accepted, Clock: h.clock.Get()}, nil
}

// ReplaceCopyStart starts or re-acknowledges a copy phase
func (h *StorageHandler) ReplaceCopyStart(ctx context.Context, req *pb.ReplaceStartRequest) (*pb.ReplaceStartResponse, error) {
	if req.Coordinator == "" {
		return nil, status.Error(codes.InvalidArgument, "coordinator is required")
	}
	h.logger.Info("Received copy start",
		zap.String("coordinator", req.Coordinator),
		zap.Stringer("epoch", req.Epoch),
		zap.Int("nodes", len(req.Seed.Nodes)))

	return &pb.ReplaceStartResponse{Accepted: h.participant.HandleCopyStart(req)}, nil
}

// ReplaceDeleteStart starts or re-acknowledges a delete phase
func (h *StorageHandler) ReplaceDeleteStart(ctx context.Context, req *pb.ReplaceStartRequest) (*pb.ReplaceStartResponse, error) {
	if req.Coordinator == "" {
		return nil, status.Error(codes.InvalidArgument, "coordinator is required")
	}
	h.logger.Info("Received delete start",
		zap.String("coordinator", req.Coordinator),
		zap.Stringer("epoch", req.Epoch))

	return &pb.ReplaceStartResponse{Accepted: h.participant.HandleDeleteStart(req)}, nil
}

// Get handles read requests. A missing key is a successful reply with Found=false.
func (h *StorageHandler) Get(ctx context.Context, req *pb.GetRequest) (*pb.GetResponse, error) {
	entry, err := h.storageService.Read(ctx, string(req.Key))
	if err != nil {
		if errors.GetCode(err) == errors.ErrCodeKeyNotFound {
			return &pb.GetResponse{Found: false}, nil
		}
		return nil, errors.ToGRPCError(err)
	}

	return &pb.GetResponse{
		Found:     true,
		Value:     entry.Value,
		Timestamp: entry.Timestamp,
	}, nil
}

// Set handles write requests
func (h *StorageHandler) Set(ctx context.Context, req *pb.SetRequest) (*pb.SetResponse, error) {
	ts, err := h.storageService.Write(ctx, string(req.Key), req.Value, req.Timestamp, req.Forwarded)
	if err != nil {
		if errors.GetCode(err) != errors.ErrCodeStaleWrite {
			h.logger.Warn("Set failed", zap.ByteString("key", req.Key), zap.Error(err))
		}
		return nil, errors.ToGRPCError(err)
	}
	return &pb.SetResponse{Timestamp: ts}, nil
}

// Delete handles delete requests
func (h *StorageHandler) Delete(ctx context.Context, req *pb.DeleteRequest) (*pb.DeleteResponse, error) {
	ts, err := h.storageService.Delete(ctx, string(req.Key), req.Timestamp, req.Forwarded)
	if err != nil {
		if errors.GetCode(err) != errors.ErrCodeStaleWrite {
			h.logger.Warn("Delete failed", zap.ByteString("key", req.Key), zap.Error(err))
		}
		return nil, errors.ToGRPCError(err)
	}
	return &pb.DeleteResponse{Timestamp: ts}, nil
}
