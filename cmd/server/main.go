package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	authapp "gift-server/internal/application/auth"
	historyapp "gift-server/internal/application/history"
	voucherapp "gift-server/internal/application/voucher"
	walletapp "gift-server/internal/application/wallet"
	"gift-server/internal/domain/currency"
	"gift-server/internal/domain/sharelink"
	"gift-server/internal/domain/voucher"
	"gift-server/internal/infrastructure/clock"
	"gift-server/internal/infrastructure/config"
	otelinfra "gift-server/internal/infrastructure/observability/otel"
	"gift-server/internal/infrastructure/persistence/migrations"
	"gift-server/internal/infrastructure/persistence/mysql"
	redisstore "gift-server/internal/infrastructure/persistence/redis"
	"gift-server/internal/infrastructure/persistence/sqlite"
	"gift-server/internal/infrastructure/scheduler"
	grpcserver "gift-server/internal/presentation/grpc"
	"gift-server/internal/presentation/rest"
)

// rateLimiterIdle この時間使われていない利用者のレート制限状態を破棄する
const rateLimiterIdle = 10 * time.Minute

func main() {
	// 設定の読み込み
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// OpenTelemetryの初期化
	tracerShutdown, err := otelinfra.InitTracer(&cfg.OpenTelemetry)
	if err != nil {
		log.Fatalf("Failed to initialize tracer: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tracerShutdown(ctx); err != nil {
			log.Printf("Failed to shutdown tracer: %v", err)
		}
	}()

	meterShutdown, err := otelinfra.InitMeter(&cfg.OpenTelemetry)
	if err != nil {
		log.Fatalf("Failed to initialize meter: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := meterShutdown(ctx); err != nil {
			log.Printf("Failed to shutdown meter: %v", err)
		}
	}()

	// ロガーとメトリクスの初期化
	tracer := otelinfra.Tracer("gift-server")
	logger := otelinfra.NewLogger(tracer).WithLevel(otelinfra.ParseLogLevel(cfg.OpenTelemetry.LogLevel))
	metrics, err := otelinfra.NewMetrics("gift-server")
	if err != nil {
		log.Fatalf("Failed to create metrics: %v", err)
	}

	ctx := context.Background()

	// データベース接続の初期化
	db, err := openDatabase(&cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	if cfg.Database.AutoMigrate {
		if err := migrations.Up(db); err != nil {
			log.Fatalf("Failed to run migrations: %v", err)
		}
	}

	registry, err := currency.ParseRegistry(cfg.Voucher.SupportedCurrencies)
	if err != nil {
		log.Fatalf("Failed to parse supported currencies: %v", err)
	}
	codec, err := sharelink.NewCodec(cfg.Voucher.ShareURIScheme, cfg.Voucher.ShareLinkBase)
	if err != nil {
		log.Fatalf("Failed to create share link codec: %v", err)
	}

	// ギフトの保存先（Redis有効時はRedis、それ以外はDB）
	var voucherRepo voucher.VoucherRepository
	if cfg.Redis.Enabled {
		client, err := redisstore.NewClient(ctx, &cfg.Redis)
		if err != nil {
			log.Fatalf("Failed to connect to redis: %v", err)
		}
		defer client.Close()
		voucherRepo = redisstore.NewVoucherRepository(client)
	} else {
		voucherRepo = mysql.NewVoucherRepository(db)
	}

	// アプリケーションサービスの初期化
	walletAppService := walletapp.NewWalletApplicationService(
		mysql.NewCurrencyRepository(db),
		mysql.NewTransactionRepository(db),
		mysql.NewTransactionManager(db),
		registry,
		logger,
		metrics,
	)

	voucherAppService := voucherapp.NewVoucherApplicationService(
		voucherRepo,
		walletAppService,
		codec,
		registry,
		clock.NewSystem(),
		logger,
		metrics,
		voucherapp.Settings{
			MaxRetries:     cfg.Voucher.MaxRetries,
			RetryBaseDelay: cfg.Voucher.RetryBaseDelay,
			MaxClaimLimit:  cfg.Voucher.MaxClaimLimit,
		},
	)

	historyAppService := historyapp.NewHistoryApplicationService(
		mysql.NewTransactionRepository(db),
		logger,
		metrics,
	)

	// REST APIルーターの初期化
	router, err := rest.NewRouter(cfg, logger, metrics, rest.Services{
		Auth:    authapp.NewAuthApplicationService(&cfg.JWT, logger),
		Voucher: voucherAppService,
		Wallet:  walletAppService,
		History: historyAppService,
	})
	if err != nil {
		log.Fatalf("Failed to create router: %v", err)
	}

	// gRPCサーバーの初期化
	grpcSrv, err := grpcserver.NewServer(cfg, logger, metrics, voucherAppService)
	if err != nil {
		log.Fatalf("Failed to create gRPC server: %v", err)
	}

	// 定期ジョブ（期限切れ処理・入金再送・レート制限の掃除）
	jobs := scheduler.NewScheduler(logger, time.Minute)
	batch := cfg.Voucher.SweepBatchSize
	mustRegister(jobs, "voucher-expiry-sweep", cfg.Voucher.ExpirySweepSchedule, func(ctx context.Context) error {
		_, err := voucherAppService.ExpireDueVouchers(ctx, batch)
		return err
	})
	mustRegister(jobs, "voucher-payout-retry", cfg.Voucher.PayoutRetrySchedule, func(ctx context.Context) error {
		_, err := voucherAppService.RetryPendingPayouts(ctx, batch)
		return err
	})
	mustRegister(jobs, "rate-limiter-cleanup", "@every 5m", func(ctx context.Context) error {
		router.RateLimiter().Cleanup(ctx, rateLimiterIdle)
		return nil
	})
	jobs.Start()

	// サーバーアドレスの設定
	address := fmt.Sprintf(":%d", cfg.Server.Port)

	// グレースフルシャットダウンの設定
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	// REST APIサーバーを別ゴルーチンで起動
	go func() {
		logger.Info(ctx, "REST API server starting", map[string]interface{}{"address": address})
		if err := router.Start(address); err != nil {
			logger.Warn(ctx, "REST API server stopped", map[string]interface{}{"error": err.Error()})
		}
	}()

	// gRPCサーバーを別ゴルーチンで起動
	go func() {
		if err := grpcSrv.Start(); err != nil {
			logger.Error(ctx, "gRPC server error", err, nil)
		}
	}()

	// シグナルを待機
	<-quit
	logger.Info(ctx, "Shutting down servers", nil)

	// グレースフルシャットダウン
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := jobs.Stop(shutdownCtx); err != nil {
		logger.Error(ctx, "Error stopping scheduler", err, nil)
	}

	// REST APIサーバーのシャットダウン
	if err := router.Shutdown(shutdownCtx); err != nil {
		logger.Error(ctx, "Error shutting down REST API server", err, nil)
	}

	// gRPCサーバーのシャットダウン
	if err := grpcSrv.Stop(shutdownCtx); err != nil {
		logger.Error(ctx, "Error shutting down gRPC server", err, nil)
	}

	logger.Info(ctx, "Servers stopped", nil)
}

func openDatabase(cfg *config.DatabaseConfig) (*mysql.DB, error) {
	if cfg.Driver == "sqlite" {
		return sqlite.Open(cfg.SQLitePath)
	}
	return mysql.NewDB(cfg)
}

func mustRegister(s *scheduler.Scheduler, name, spec string, job scheduler.Job) {
	if err := s.Register(name, spec, job); err != nil {
		log.Fatalf("Failed to register job %s: %v", name, err)
	}
}
