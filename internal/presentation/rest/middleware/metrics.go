package middleware

import (
	"time"

	"github.com/labstack/echo/v4"

	otelinfra "gift-server/internal/infrastructure/observability/otel"
)

// MetricsMiddleware メトリクス記録ミドルウェア
func MetricsMiddleware(metrics *otelinfra.Metrics) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			ctx := c.Request().Context()
			method := c.Request().Method

			metrics.RecordRequest(ctx, method, c.Path())

			err := next(c)

			// ルートパターン単位で集計する（/vouchers/:id など）
			metrics.RecordResponseTime(ctx, method, c.Path(), time.Since(start).Seconds())

			if errorType := classifyStatus(c.Response().Status, err); errorType != "" {
				metrics.RecordError(ctx, errorType)
			}

			return err
		}
	}
}

// classifyStatus エラー種別を返す（成功なら空文字）
func classifyStatus(status int, err error) string {
	switch {
	case status >= 500:
		return "server_error"
	case status >= 400:
		return "client_error"
	case err != nil:
		return "server_error"
	}
	return ""
}
