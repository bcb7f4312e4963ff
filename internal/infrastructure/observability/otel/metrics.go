package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics メトリクス定義
type Metrics struct {
	// ギフト作成数
	VoucherCreated metric.Int64Counter

	// 受取の試行数（result属性で成功/拒否理由を区別）
	ClaimCount metric.Int64Counter

	// 受取金額の分布
	PayoutAmount metric.Float64Histogram

	// 払い戻し数
	RefundCount metric.Int64Counter

	// 楽観ロック競合によるリトライ数
	RetryCount metric.Int64Counter

	// ウォレットのトランザクション数
	TransactionCount metric.Int64Counter

	// リクエスト数
	RequestCount metric.Int64Counter

	// レスポンス時間
	ResponseTime metric.Float64Histogram

	// エラー率
	ErrorCount metric.Int64Counter
}

// NewMetrics 新しいMetricsを作成
func NewMetrics(meterName string) (*Metrics, error) {
	meter := otel.Meter(meterName)

	voucherCreated, err := meter.Int64Counter(
		"voucher_created_total",
		metric.WithDescription("Total number of vouchers created"),
	)
	if err != nil {
		return nil, err
	}

	claimCount, err := meter.Int64Counter(
		"voucher_claims_total",
		metric.WithDescription("Total number of claim attempts by result"),
	)
	if err != nil {
		return nil, err
	}

	payoutAmount, err := meter.Float64Histogram(
		"voucher_payout_amount",
		metric.WithDescription("Amount paid out per successful claim"),
	)
	if err != nil {
		return nil, err
	}

	refundCount, err := meter.Int64Counter(
		"voucher_refunds_total",
		metric.WithDescription("Total number of refunds issued to creators"),
	)
	if err != nil {
		return nil, err
	}

	retryCount, err := meter.Int64Counter(
		"voucher_tx_retries_total",
		metric.WithDescription("Total number of optimistic transaction retries"),
	)
	if err != nil {
		return nil, err
	}

	transactionCount, err := meter.Int64Counter(
		"transactions_total",
		metric.WithDescription("Total number of wallet transactions"),
	)
	if err != nil {
		return nil, err
	}

	requestCount, err := meter.Int64Counter(
		"requests_total",
		metric.WithDescription("Total number of requests"),
	)
	if err != nil {
		return nil, err
	}

	responseTime, err := meter.Float64Histogram(
		"response_time_seconds",
		metric.WithDescription("Response time in seconds"),
	)
	if err != nil {
		return nil, err
	}

	errorCount, err := meter.Int64Counter(
		"errors_total",
		metric.WithDescription("Total number of errors"),
	)
	if err != nil {
		return nil, err
	}

	return &Metrics{
		VoucherCreated:   voucherCreated,
		ClaimCount:       claimCount,
		PayoutAmount:     payoutAmount,
		RefundCount:      refundCount,
		RetryCount:       retryCount,
		TransactionCount: transactionCount,
		RequestCount:     requestCount,
		ResponseTime:     responseTime,
		ErrorCount:       errorCount,
	}, nil
}

// RecordVoucherCreated ギフト作成を記録
func (m *Metrics) RecordVoucherCreated(ctx context.Context, mode, symbol string) {
	m.VoucherCreated.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("mode", mode),
			attribute.String("symbol", symbol),
		),
	)
}

// RecordClaim 受取の結果を記録（result は "success" または拒否理由）
func (m *Metrics) RecordClaim(ctx context.Context, result string) {
	m.ClaimCount.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("result", result),
		),
	)
}

// RecordPayout 受取金額を記録
func (m *Metrics) RecordPayout(ctx context.Context, symbol string, amount float64) {
	m.PayoutAmount.Record(ctx, amount,
		metric.WithAttributes(
			attribute.String("symbol", symbol),
		),
	)
}

// RecordRefund 払い戻しを記録
func (m *Metrics) RecordRefund(ctx context.Context, reason string) {
	m.RefundCount.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("reason", reason),
		),
	)
}

// RecordRetry 競合リトライを記録
func (m *Metrics) RecordRetry(ctx context.Context, operation string) {
	m.RetryCount.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("operation", operation),
		),
	)
}

// RecordTransaction トランザクションを記録
func (m *Metrics) RecordTransaction(ctx context.Context, transactionType, symbol string) {
	m.TransactionCount.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("transaction_type", transactionType),
			attribute.String("symbol", symbol),
		),
	)
}

// RecordRequest リクエストを記録
func (m *Metrics) RecordRequest(ctx context.Context, method, path string) {
	m.RequestCount.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("method", method),
			attribute.String("path", path),
		),
	)
}

// RecordResponseTime レスポンス時間を記録
func (m *Metrics) RecordResponseTime(ctx context.Context, method, path string, duration float64) {
	m.ResponseTime.Record(ctx, duration,
		metric.WithAttributes(
			attribute.String("method", method),
			attribute.String("path", path),
		),
	)
}

// RecordError エラーを記録
func (m *Metrics) RecordError(ctx context.Context, errorType string) {
	m.ErrorCount.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("error_type", errorType),
		),
	)
}
