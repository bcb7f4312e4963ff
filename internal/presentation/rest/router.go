package rest

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	authapp "gift-server/internal/application/auth"
	historyapp "gift-server/internal/application/history"
	voucherapp "gift-server/internal/application/voucher"
	walletapp "gift-server/internal/application/wallet"
	"gift-server/internal/infrastructure/config"
	otelinfra "gift-server/internal/infrastructure/observability/otel"
	"gift-server/internal/presentation/rest/handler"
	restmiddleware "gift-server/internal/presentation/rest/middleware"
)

// Services ルーターが使うアプリケーションサービス
type Services struct {
	Auth    *authapp.AuthApplicationService
	Voucher *voucherapp.VoucherApplicationService
	Wallet  *walletapp.WalletApplicationService
	History *historyapp.HistoryApplicationService
}

// Router REST APIルーター
type Router struct {
	echo        *echo.Echo
	rateLimiter *restmiddleware.RateLimiter
}

// NewRouter 新しいRouterを作成
func NewRouter(
	cfg *config.Config,
	logger *otelinfra.Logger,
	metrics *otelinfra.Metrics,
	services Services,
) (*Router, error) {
	e := echo.New()
	e.HideBanner = true
	e.Server.ReadTimeout = cfg.Server.ReadTimeout
	e.Server.WriteTimeout = cfg.Server.WriteTimeout
	e.Server.IdleTimeout = cfg.Server.IdleTimeout

	// Echoのデフォルトエラーハンドラーを無効化（カスタムエラーハンドラーを使用）
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		// エラーハンドリングミドルウェアで処理される
	}

	setupMiddleware(e, logger, metrics)

	rateLimiter := restmiddleware.NewRateLimiter(&cfg.RateLimit, logger)
	setupRoutes(e, cfg, logger, rateLimiter, services)

	// Swagger UI / ReDoc統合
	SetupSwagger(e)

	return &Router{
		echo:        e,
		rateLimiter: rateLimiter,
	}, nil
}

// setupMiddleware ミドルウェアを設定
func setupMiddleware(e *echo.Echo, logger *otelinfra.Logger, metrics *otelinfra.Metrics) {
	e.Use(middleware.Recover())

	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"}, // 本番環境では適切に設定
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization, "X-API-Key"},
	}))

	e.Use(middleware.RequestID())
	e.Use(restmiddleware.SecurityHeadersMiddleware())
	e.Use(restmiddleware.TracingMiddleware())
	e.Use(restmiddleware.MetricsMiddleware(metrics))
	e.Use(restmiddleware.LoggingMiddleware(logger))
	e.Use(restmiddleware.ErrorHandlerMiddleware(logger))
}

// setupRoutes ルーティングを設定
func setupRoutes(
	e *echo.Echo,
	cfg *config.Config,
	logger *otelinfra.Logger,
	rateLimiter *restmiddleware.RateLimiter,
	services Services,
) {
	authHandler := handler.NewAuthHandler(services.Auth)
	voucherHandler := handler.NewVoucherHandler(services.Voucher)
	walletHandler := handler.NewWalletHandler(services.Wallet)
	historyHandler := handler.NewHistoryHandler(services.History)
	adminHandler := handler.NewAdminHandler(services.Voucher, cfg.Voucher.SweepBatchSize)

	api := e.Group("/api/v1")

	// トークン発行（認証不要）
	api.POST("/auth/token", authHandler.GenerateToken)

	authGroup := api.Group("", restmiddleware.AuthMiddleware(&cfg.JWT, logger))

	// ギフト
	authGroup.POST("/vouchers", voucherHandler.CreateVoucher)
	authGroup.GET("/vouchers/public", voucherHandler.ListPublicVouchers)
	authGroup.GET("/vouchers/:id", voucherHandler.GetVoucher)
	authGroup.DELETE("/vouchers/:id", voucherHandler.DeleteVoucher)
	authGroup.POST("/vouchers/:id/end", voucherHandler.EndVoucher)
	authGroup.GET("/vouchers/:id/claims", voucherHandler.ListClaims)
	authGroup.GET("/vouchers/:id/share", voucherHandler.GetShareLink)
	authGroup.POST("/share/parse", voucherHandler.ParseShareURI)

	// 受取はユーザーごとにレート制限する
	claimGroup := authGroup.Group("", rateLimiter.Middleware())
	claimGroup.POST("/vouchers/claim", voucherHandler.ClaimByURI)
	claimGroup.POST("/vouchers/:id/claim", voucherHandler.ClaimVoucher)

	// 自分のデータ
	authGroup.GET("/me/vouchers", voucherHandler.ListMyVouchers)
	authGroup.GET("/me/balance", walletHandler.GetMyBalance)
	authGroup.GET("/me/transactions", historyHandler.GetTransactionHistory)

	// 管理API（APIキー認証）
	admin := api.Group("/admin", restmiddleware.APIKeyMiddleware(&cfg.AdminAPI, logger))
	admin.POST("/users/:user_id/grant", walletHandler.Grant)
	admin.GET("/users/:user_id/balance", walletHandler.GetBalanceAdmin)
	admin.GET("/users/:user_id/transactions", historyHandler.GetTransactionHistoryAdmin)
	admin.POST("/vouchers/expire", adminHandler.ExpireVouchers)
	admin.POST("/vouchers/retry-payouts", adminHandler.RetryPayouts)

	// ヘルスチェックエンドポイント（認証不要）
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
}

// RateLimiter 受取APIのレート制限（定期的な掃除に使う）
func (r *Router) RateLimiter() *restmiddleware.RateLimiter {
	return r.rateLimiter
}

// Handler テスト用にhttp.Handlerを返す
func (r *Router) Handler() http.Handler {
	return r.echo
}

// Start サーバーを起動
func (r *Router) Start(address string) error {
	return r.echo.Start(address)
}

// Shutdown サーバーをグレースフルにシャットダウン
func (r *Router) Shutdown(ctx context.Context) error {
	return r.echo.Shutdown(ctx)
}
