package proto

import (
	"context"
	"time"

	"google.golang.org/grpc"
)

// unaryHandler adapts a typed method into a grpc.MethodHandler.
func unaryHandler[S any, Req any, Resp any](fullMethod string, call func(S, context.Context, *Req) (*Resp, error)) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(S), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(S), ctx, req.(*Req))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// invoke performs a unary call bounded by timeout.
func invoke[Resp any](ctx context.Context, cc grpc.ClientConnInterface, timeout time.Duration, method string, in any) (*Resp, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	out := new(Resp)
	if err := cc.Invoke(ctx, method, in, out, CallOption()); err != nil {
		return nil, err
	}
	return out, nil
}
