package middleware

import (
	"time"

	"github.com/labstack/echo/v4"

	otelinfra "gift-server/internal/infrastructure/observability/otel"
)

// LoggingMiddleware アクセスログミドルウェア
// 4xxはWarn、5xxまたは未処理のエラーはErrorで記録する
func LoggingMiddleware(logger *otelinfra.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			req := c.Request()

			err := next(c)

			fields := map[string]interface{}{
				"method":      req.Method,
				"path":        req.URL.Path,
				"route":       c.Path(),
				"status_code": c.Response().Status,
				"duration_ms": time.Since(start).Milliseconds(),
				"remote_addr": req.RemoteAddr,
				"user_agent":  req.UserAgent(),
			}
			if requestID := c.Response().Header().Get(echo.HeaderXRequestID); requestID != "" {
				fields["request_id"] = requestID
			}
			if userID := UserID(c); userID != "" {
				fields["user_id"] = userID
			}

			ctx := req.Context()
			switch status := c.Response().Status; {
			case err != nil:
				logger.Error(ctx, "HTTP request failed", err, fields)
			case status >= 500:
				logger.Error(ctx, "HTTP request failed", nil, fields)
			case status >= 400:
				logger.Warn(ctx, "HTTP request rejected", fields)
			default:
				logger.Info(ctx, "HTTP request completed", fields)
			}

			return err
		}
	}
}
