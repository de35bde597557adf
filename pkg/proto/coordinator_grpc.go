package proto

import (
	"context"
	"time"

	"google.golang.org/grpc"
)

const coordinatorService = "pairdb.Coordinator"

const (
	CoordinatorKeepAliveMethod        = "/" + coordinatorService + "/KeepAlive"
	CoordinatorHashSpaceSyncMethod    = "/" + coordinatorService + "/HashSpaceSync"
	CoordinatorHashSpaceRequestMethod = "/" + coordinatorService + "/HashSpaceRequest"
	CoordinatorReplaceElectionMethod  = "/" + coordinatorService + "/ReplaceElection"
	CoordinatorReplaceCopyEndMethod   = "/" + coordinatorService + "/ReplaceCopyEnd"
	CoordinatorReplaceDeleteEndMethod = "/" + coordinatorService + "/ReplaceDeleteEnd"
	CoordinatorStartReplaceMethod     = "/" + coordinatorService + "/StartReplace"
	CoordinatorListNodesMethod        = "/" + coordinatorService + "/ListNodes"
)

// CoordinatorServer is implemented by the coordinator process.
type CoordinatorServer interface {
	KeepAlive(context.Context, *KeepAliveRequest) (*KeepAliveResponse, error)
	HashSpaceSync(context.Context, *HashSpaceSyncRequest) (*HashSpaceSyncResponse, error)
	HashSpaceRequest(context.Context, *HashSpaceRequest) (*HashSpaceResponse, error)
	ReplaceElection(context.Context, *ReplaceElectionRequest) (*ReplaceElectionResponse, error)
	ReplaceCopyEnd(context.Context, *ReplaceEndRequest) (*ReplaceEndResponse, error)
	ReplaceDeleteEnd(context.Context, *ReplaceEndRequest) (*ReplaceEndResponse, error)
	StartReplace(context.Context, *StartReplaceRequest) (*StartReplaceResponse, error)
	ListNodes(context.Context, *ListNodesRequest) (*ListNodesResponse, error)
}

// CoordinatorServiceDesc describes the pairdb.Coordinator service.
var CoordinatorServiceDesc = grpc.ServiceDesc{
	ServiceName: coordinatorService,
	HandlerType: (*CoordinatorServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "KeepAlive", Handler: unaryHandler(CoordinatorKeepAliveMethod, CoordinatorServer.KeepAlive)},
		{MethodName: "HashSpaceSync", Handler: unaryHandler(CoordinatorHashSpaceSyncMethod, CoordinatorServer.HashSpaceSync)},
		{MethodName: "HashSpaceRequest", Handler: unaryHandler(CoordinatorHashSpaceRequestMethod, CoordinatorServer.HashSpaceRequest)},
		{MethodName: "ReplaceElection", Handler: unaryHandler(CoordinatorReplaceElectionMethod, CoordinatorServer.ReplaceElection)},
		{MethodName: "ReplaceCopyEnd", Handler: unaryHandler(CoordinatorReplaceCopyEndMethod, CoordinatorServer.ReplaceCopyEnd)},
		{MethodName: "ReplaceDeleteEnd", Handler: unaryHandler(CoordinatorReplaceDeleteEndMethod, CoordinatorServer.ReplaceDeleteEnd)},
		{MethodName: "StartReplace", Handler: unaryHandler(CoordinatorStartReplaceMethod, CoordinatorServer.StartReplace)},
		{MethodName: "ListNodes", Handler: unaryHandler(CoordinatorListNodesMethod, CoordinatorServer.ListNodes)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "pairdb/coordinator",
}

// RegisterCoordinatorServer registers srv on s.
func RegisterCoordinatorServer(s grpc.ServiceRegistrar, srv CoordinatorServer) {
	s.RegisterService(&CoordinatorServiceDesc, srv)
}

// CoordinatorClient calls a coordinator.
type CoordinatorClient struct {
	cc      grpc.ClientConnInterface
	timeout time.Duration
}

// NewCoordinatorClient wraps cc. Each call is bounded by timeout when it is positive.
func NewCoordinatorClient(cc grpc.ClientConnInterface, timeout time.Duration) *CoordinatorClient {
	return &CoordinatorClient{cc: cc, timeout: timeout}
}

func (c *CoordinatorClient) KeepAlive(ctx context.Context, in *KeepAliveRequest) (*KeepAliveResponse, error) {
	return invoke[KeepAliveResponse](ctx, c.cc, c.timeout, CoordinatorKeepAliveMethod, in)
}

func (c *CoordinatorClient) HashSpaceSync(ctx context.Context, in *HashSpaceSyncRequest) (*HashSpaceSyncResponse, error) {
	return invoke[HashSpaceSyncResponse](ctx, c.cc, c.timeout, CoordinatorHashSpaceSyncMethod, in)
}

func (c *CoordinatorClient) HashSpaceRequest(ctx context.Context, in *HashSpaceRequest) (*HashSpaceResponse, error) {
	return invoke[HashSpaceResponse](ctx, c.cc, c.timeout, CoordinatorHashSpaceRequestMethod, in)
}

func (c *CoordinatorClient) ReplaceElection(ctx context.Context, in *ReplaceElectionRequest) (*ReplaceElectionResponse, error) {
	return invoke[ReplaceElectionResponse](ctx, c.cc, c.timeout, CoordinatorReplaceElectionMethod, in)
}

func (c *CoordinatorClient) ReplaceCopyEnd(ctx context.Context, in *ReplaceEndRequest) (*ReplaceEndResponse, error) {
	return invoke[ReplaceEndResponse](ctx, c.cc, c.timeout, CoordinatorReplaceCopyEndMethod, in)
}

func (c *CoordinatorClient) ReplaceDeleteEnd(ctx context.Context, in *ReplaceEndRequest) (*ReplaceEndResponse, error) {
	return invoke[ReplaceEndResponse](ctx, c.cc, c.timeout, CoordinatorReplaceDeleteEndMethod, in)
}

func (c *CoordinatorClient) StartReplace(ctx context.Context, in *StartReplaceRequest) (*StartReplaceResponse, error) {
	return invoke[StartReplaceResponse](ctx, c.cc, c.timeout, CoordinatorStartReplaceMethod, in)
}

func (c *CoordinatorClient) ListNodes(ctx context.Context, in *ListNodesRequest) (*ListNodesResponse, error) {
	return invoke[ListNodesResponse](ctx, c.cc, c.timeout, CoordinatorListNodesMethod, in)
}
