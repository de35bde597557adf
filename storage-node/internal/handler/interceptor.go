package handler

import (
	"context"
	"path"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"

	"github.com/devrev/pairdb/storage-node/internal/metrics"
)

// MetricsInterceptor records every unary call with its status code
func MetricsInterceptor(m *metrics.Metrics, logger *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		method := path.Base(info.FullMethod)
		start := time.Now()

		resp, err := handler(ctx, req)

		code := status.Code(err)
		m.RecordRequest(method, time.Since(start).Seconds(), code.String())
		if err != nil {
			logger.Debug("Request failed", zap.String("method", method), zap.Error(err))
		}
		return resp, err
	}
}
