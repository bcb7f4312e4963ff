package middleware

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	authapp "gift-server/internal/application/auth"
	"gift-server/internal/domain/currency"
	"gift-server/internal/domain/sharelink"
	"gift-server/internal/domain/transaction"
	"gift-server/internal/domain/voucher"
	otelinfra "gift-server/internal/infrastructure/observability/otel"
)

// ErrorResponse エラーレスポンス
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// reasonStatus 業務エラーの理由コードとHTTPステータスの対応
var reasonStatus = map[string]int{
	"not_active":               http.StatusConflict,
	"expired":                  http.StatusConflict,
	"exhausted":                http.StatusConflict,
	"already_claimed":          http.StatusConflict,
	"cancellation_not_allowed": http.StatusConflict,
	"delete_not_allowed":       http.StatusConflict,
	"refund_pending":           http.StatusConflict,
	"refund_failed":            http.StatusConflict,
	"insufficient_balance":     http.StatusConflict,
	"contention":               http.StatusServiceUnavailable,
	"voucher_not_found":        http.StatusNotFound,
	"validation_error":         http.StatusBadRequest,
	"forbidden":                http.StatusForbidden,
}

// ErrorHandlerMiddleware エラーハンドリングミドルウェア
func ErrorHandlerMiddleware(logger *otelinfra.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			err := next(c)
			if err == nil {
				return nil
			}
			return handleError(c, err, logger)
		}
	}
}

// StatusFor エラーに対応するHTTPステータスと理由コードを返す
func StatusFor(err error) (int, string) {
	if reason := voucher.Reason(err); reason != "" {
		return reasonStatus[reason], reason
	}

	switch {
	case errors.Is(err, sharelink.ErrInvalidShareURI):
		return http.StatusBadRequest, "invalid_share_uri"
	case errors.Is(err, currency.ErrInvalidAmount):
		return http.StatusBadRequest, "invalid_amount"
	case errors.Is(err, currency.ErrInvalidSymbol), errors.Is(err, currency.ErrUnsupportedSymbol):
		return http.StatusBadRequest, "invalid_symbol"
	case errors.Is(err, currency.ErrInvalidOwner), errors.Is(err, authapp.ErrInvalidUserID):
		return http.StatusBadRequest, "invalid_user_id"
	case errors.Is(err, transaction.ErrInvalidTransaction):
		return http.StatusBadRequest, "invalid_transaction_type"
	case errors.Is(err, currency.ErrCurrencyNotFound):
		return http.StatusNotFound, "currency_not_found"
	case errors.Is(err, transaction.ErrTransactionNotFound):
		return http.StatusNotFound, "transaction_not_found"
	}
	return http.StatusInternalServerError, ""
}

// handleError エラーを処理して適切なHTTPレスポンスを返す
func handleError(c echo.Context, err error, logger *otelinfra.Logger) error {
	ctx := c.Request().Context()

	// EchoのHTTPエラー
	var httpErr *echo.HTTPError
	if errors.As(err, &httpErr) {
		logger.Warn(ctx, "HTTP error", map[string]interface{}{
			"status_code": httpErr.Code,
			"message":     httpErr.Message,
		})
		message, ok := httpErr.Message.(string)
		if !ok {
			message = http.StatusText(httpErr.Code)
		}
		return c.JSON(httpErr.Code, ErrorResponse{
			Error:   http.StatusText(httpErr.Code),
			Message: message,
		})
	}

	status, reason := StatusFor(err)
	if status == http.StatusInternalServerError {
		logger.Error(ctx, "Internal server error", err, map[string]interface{}{
			"path": c.Request().URL.Path,
		})
		return c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "internal_server_error",
			Message: "An unexpected error occurred",
		})
	}

	logger.Warn(ctx, "Request rejected", map[string]interface{}{
		"reason": reason,
		"error":  err.Error(),
	})
	if status == http.StatusServiceUnavailable {
		c.Response().Header().Set("Retry-After", "1")
	}
	return c.JSON(status, ErrorResponse{
		Error:   reason,
		Message: err.Error(),
	})
}
