package handler

import (
	"context"
	"path"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"

	"github.com/devrev/pairdb/coordinator/internal/metrics"
)

// MetricsInterceptor records request counts, durations and error codes
func MetricsInterceptor(m *metrics.Metrics, logger *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		method := path.Base(info.FullMethod)
		start := time.Now()

		resp, err := handler(ctx, req)

		m.RequestsTotal.WithLabelValues(method).Inc()
		m.RequestDuration.WithLabelValues(method).Observe(time.Since(start).Seconds())
		if err != nil {
			code := status.Code(err)
			m.RequestErrors.WithLabelValues(method, code.String()).Inc()
			logger.Debug("Request failed", zap.String("method", method), zap.Error(err))
		}
		return resp, err
	}
}
