package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	historyapp "gift-server/internal/application/history"
	voucherapp "gift-server/internal/application/voucher"
	walletapp "gift-server/internal/application/wallet"
	"gift-server/internal/domain/currency"
	"gift-server/internal/domain/sharelink"
	"gift-server/internal/infrastructure/clock"
	otelinfra "gift-server/internal/infrastructure/observability/otel"
	"gift-server/internal/infrastructure/persistence/memory"
	"gift-server/internal/infrastructure/persistence/migrations"
	"gift-server/internal/infrastructure/persistence/mysql"
	"gift-server/internal/infrastructure/persistence/sqlite"
	restmiddleware "gift-server/internal/presentation/rest/middleware"
)

var fixtureNow = time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)

// testEnv ハンドラーテスト用の実サービス一式
// 残高はインメモリSQLite、ギフトはメモリリポジトリに保存する
type testEnv struct {
	echo    *echo.Echo
	clock   *clock.Manual
	wallet  *walletapp.WalletApplicationService
	voucher *voucherapp.VoucherApplicationService
	history *historyapp.HistoryApplicationService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db, err := sqlite.Open(sqlite.MemoryPath)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, migrations.Up(db))

	logger := otelinfra.NewLogger(noop.NewTracerProvider().Tracer("test"))
	metrics, err := otelinfra.NewMetrics("test")
	require.NoError(t, err)

	registry := currency.MustParseRegistry("USDT:6,GEM:0")
	codec, err := sharelink.NewCodec("gift", "https://gift.example.com")
	require.NoError(t, err)
	clk := clock.NewManual(fixtureNow)

	transactionRepo := mysql.NewTransactionRepository(db)
	wallet := walletapp.NewWalletApplicationService(
		mysql.NewCurrencyRepository(db),
		transactionRepo,
		mysql.NewTransactionManager(db),
		registry,
		logger,
		metrics,
	)
	vouchers := voucherapp.NewVoucherApplicationService(
		memory.NewVoucherRepository(),
		wallet,
		codec,
		registry,
		clk,
		logger,
		metrics,
		voucherapp.Settings{MaxRetries: 5, MaxClaimLimit: 100},
	)

	e := echo.New()
	e.Use(restmiddleware.ErrorHandlerMiddleware(logger))
	e.Use(withUser)

	return &testEnv{
		echo:    e,
		clock:   clk,
		wallet:  wallet,
		voucher: vouchers,
		history: historyapp.NewHistoryApplicationService(transactionRepo, logger, metrics),
	}
}

// grant テスト前提の残高を用意する
func (env *testEnv) grant(t *testing.T, owner, symbol, amount string) {
	t.Helper()
	_, err := env.wallet.Grant(context.Background(), &walletapp.GrantRequest{
		Owner:  owner,
		Symbol: symbol,
		Amount: amount,
		Reason: "test",
	})
	require.NoError(t, err)
}

// createVoucher サービス経由でギフトを作成しIDを返す
func (env *testEnv) createVoucher(t *testing.T, req *voucherapp.CreateVoucherRequest) string {
	t.Helper()
	resp, err := env.voucher.CreateVoucher(context.Background(), req)
	require.NoError(t, err)
	return resp.Voucher.ID
}

const testUserHeader = "X-Test-User"

// withUser 認証ミドルウェアの代わりにヘッダーのユーザーIDを設定する
func withUser(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if userID := c.Request().Header.Get(testUserHeader); userID != "" {
			c.Set(restmiddleware.UserIDKey, userID)
		}
		return next(c)
	}
}

// do userIDのリクエストを実行する。bodyがnilでなければJSONとして送る
func (env *testEnv) do(t *testing.T, userID, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if userID != "" {
		req.Header.Set(testUserHeader, userID)
	}
	rec := httptest.NewRecorder()
	env.echo.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v), rec.Body.String())
}

func assertErrorReason(t *testing.T, rec *httptest.ResponseRecorder, status int, reason string) {
	t.Helper()
	require.Equal(t, status, rec.Code, rec.Body.String())
	var resp ErrorResponse
	decode(t, rec, &resp)
	require.Equal(t, reason, resp.Error)
}
