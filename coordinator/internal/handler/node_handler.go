package handler

import (
	"context"

	"go.uber.org/zap"

	"github.com/devrev/pairdb/coordinator/internal/service"
	pb "github.com/devrev/pairdb/pkg/proto"
)

// NodeHandler handles operator requests
type NodeHandler struct {
	manager *service.Manager
	logger  *zap.Logger
}

// NewNodeHandler creates a new node handler
func NewNodeHandler(manager *service.Manager, logger *zap.Logger) *NodeHandler {
	return &NodeHandler{
		manager: manager,
		logger:  logger,
	}
}

// StartReplace runs the election and starts a replace on demand
func (h *NodeHandler) StartReplace(ctx context.Context, req *pb.StartReplaceRequest) (*pb.StartReplaceResponse, error) {
	h.logger.Info("Received start replace request")

	h.manager.ReplaceElection(context.WithoutCancel(ctx))
	status := h.manager.Status()
	return &pb.StartReplaceResponse{
		Started: status.Phase != service.PhaseIdle,
		Epoch:   status.Epoch,
	}, nil
}

// ListNodes returns both rings, membership and replace progress
func (h *NodeHandler) ListNodes(ctx context.Context, req *pb.ListNodesRequest) (*pb.ListNodesResponse, error) {
	status := h.manager.Status()
	return &pb.ListNodesResponse{
		Write:     status.Write,
		Read:      status.Read,
		Joined:    status.Joined,
		Newcomers: status.Newcomers,
		Phase:     status.Phase.String(),
		Epoch:     status.Epoch,
		Remaining: status.Remaining,
	}, nil
}
