package proto

import (
	"context"
	"time"

	"google.golang.org/grpc"
)

const storageNodeService = "pairdb.StorageNode"

const (
	StorageKeepAliveMethod          = "/" + storageNodeService + "/KeepAlive"
	StorageHashSpaceSyncMethod      = "/" + storageNodeService + "/HashSpaceSync"
	StorageReplaceCopyStartMethod   = "/" + storageNodeService + "/ReplaceCopyStart"
	StorageReplaceDeleteStartMethod = "/" + storageNodeService + "/ReplaceDeleteStart"
	StorageGetMethod                = "/" + storageNodeService + "/Get"
	StorageSetMethod                = "/" + storageNodeService + "/Set"
	StorageDeleteMethod             = "/" + storageNodeService + "/Delete"
)

// StorageNodeServer is implemented by data nodes.
type StorageNodeServer interface {
	KeepAlive(context.Context, *KeepAliveRequest) (*KeepAliveResponse, error)
	HashSpaceSync(context.Context, *HashSpaceSyncRequest) (*HashSpaceSyncResponse, error)
	ReplaceCopyStart(context.Context, *ReplaceStartRequest) (*ReplaceStartResponse, error)
	ReplaceDeleteStart(context.Context, *ReplaceStartRequest) (*ReplaceStartResponse, error)
	Get(context.Context, *GetRequest) (*GetResponse, error)
	Set(context.Context, *SetRequest) (*SetResponse, error)
	Delete(context.Context, *DeleteRequest) (*DeleteResponse, error)
}

// StorageNodeServiceDesc describes the pairdb.StorageNode service.
var StorageNodeServiceDesc = grpc.ServiceDesc{
	ServiceName: storageNodeService,
	HandlerType: (*StorageNodeServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "KeepAlive", Handler: unaryHandler(StorageKeepAliveMethod, StorageNodeServer.KeepAlive)},
		{MethodName: "HashSpaceSync", Handler: unaryHandler(StorageHashSpaceSyncMethod, StorageNodeServer.HashSpaceSync)},
		{MethodName: "ReplaceCopyStart", Handler: unaryHandler(StorageReplaceCopyStartMethod, StorageNodeServer.ReplaceCopyStart)},
		{MethodName: "ReplaceDeleteStart", Handler: unaryHandler(StorageReplaceDeleteStartMethod, StorageNodeServer.ReplaceDeleteStart)},
		{MethodName: "Get", Handler: unaryHandler(StorageGetMethod, StorageNodeServer.Get)},
		{MethodName: "Set", Handler: unaryHandler(StorageSetMethod, StorageNodeServer.Set)},
		{MethodName: "Delete", Handler: unaryHandler(StorageDeleteMethod, StorageNodeServer.Delete)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "pairdb/storage_node",
}

// RegisterStorageNodeServer registers srv on s.
func RegisterStorageNodeServer(s grpc.ServiceRegistrar, srv StorageNodeServer) {
	s.RegisterService(&StorageNodeServiceDesc, srv)
}

// StorageNodeClient calls a data node.
type StorageNodeClient struct {
	cc      grpc.ClientConnInterface
	timeout time.Duration
}

// NewStorageNodeClient wraps cc. Each call is bounded by timeout when it is positive.
func NewStorageNodeClient(cc grpc.ClientConnInterface, timeout time.Duration) *StorageNodeClient {
	return &StorageNodeClient{cc: cc, timeout: timeout}
}

func (c *StorageNodeClient) KeepAlive(ctx context.Context, in *KeepAliveRequest) (*KeepAliveResponse, error) {
	return invoke[KeepAliveResponse](ctx, c.cc, c.timeout, StorageKeepAliveMethod, in)
}

func (c *StorageNodeClient) HashSpaceSync(ctx context.Context, in *HashSpaceSyncRequest) (*HashSpaceSyncResponse, error) {
	return invoke[HashSpaceSyncResponse](ctx, c.cc, c.timeout, StorageHashSpaceSyncMethod, in)
}

func (c *StorageNodeClient) ReplaceCopyStart(ctx context.Context, in *ReplaceStartRequest) (*ReplaceStartResponse, error) {
	return invoke[ReplaceStartResponse](ctx, c.cc, c.timeout, StorageReplaceCopyStartMethod, in)
}

func (c *StorageNodeClient) ReplaceDeleteStart(ctx context.Context, in *ReplaceStartRequest) (*ReplaceStartResponse, error) {
	return invoke[ReplaceStartResponse](ctx, c.cc, c.timeout, StorageReplaceDeleteStartMethod, in)
}

func (c *StorageNodeClient) Get(ctx context.Context, in *GetRequest) (*GetResponse, error) {
	return invoke[GetResponse](ctx, c.cc, c.timeout, StorageGetMethod, in)
}

func (c *StorageNodeClient) Set(ctx context.Context, in *SetRequest) (*SetResponse, error) {
	return invoke[SetResponse](ctx, c.cc, c.timeout, StorageSetMethod, in)
}

func (c *StorageNodeClient) Delete(ctx context.Context, in *DeleteRequest) (*DeleteResponse, error) {
	return invoke[DeleteResponse](ctx, c.cc, c.timeout, StorageDeleteMethod, in)
}
