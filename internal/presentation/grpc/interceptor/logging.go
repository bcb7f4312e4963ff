package interceptor

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	otelinfra "gift-server/internal/infrastructure/observability/otel"
)

// RecoveryInterceptor ハンドラーのpanicをInternalエラーに変換する
func RecoveryInterceptor(logger *otelinfra.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp interface{}, err error) {
		defer func() {
			if r := recover(); r != nil {
				logger.Error(ctx, "gRPC handler panicked", fmt.Errorf("%v", r), map[string]interface{}{
					"method": info.FullMethod,
				})
				err = status.Error(codes.Internal, "internal error")
			}
		}()
		return handler(ctx, req)
	}
}

// LoggingInterceptor アクセスログとリクエストメトリクスを記録する
// 業務上の拒否（4xx相当）はWarn、サーバー側の失敗はErrorで記録する
func LoggingInterceptor(logger *otelinfra.Logger, metrics *otelinfra.Metrics) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		start := time.Now()
		metrics.RecordRequest(ctx, "grpc", info.FullMethod)

		resp, err := handler(ctx, req)

		elapsed := time.Since(start)
		metrics.RecordResponseTime(ctx, "grpc", info.FullMethod, elapsed.Seconds())

		code := status.Code(err)
		fields := map[string]interface{}{
			"method":      info.FullMethod,
			"code":        code.String(),
			"duration_ms": elapsed.Milliseconds(),
		}
		if userID := UserIDFromContext(ctx); userID != "" {
			fields["user_id"] = userID
		}

		switch {
		case err == nil:
			logger.Info(ctx, "gRPC request completed", fields)
		case isServerError(code):
			metrics.RecordError(ctx, "server_error")
			logger.Error(ctx, "gRPC request failed", err, fields)
		default:
			metrics.RecordError(ctx, "client_error")
			logger.Warn(ctx, "gRPC request rejected", fields)
		}
		return resp, err
	}
}

func isServerError(code codes.Code) bool {
	switch code {
	case codes.Internal, codes.Unknown, codes.DataLoss, codes.Unimplemented:
		return true
	}
	return false
}
