package history

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"gift-server/internal/domain/currency"
	"gift-server/internal/domain/transaction"
	otelinfra "gift-server/internal/infrastructure/observability/otel"
)

const (
	defaultLimit = 50
	maxLimit     = 100
)

// HistoryApplicationService 履歴アプリケーションサービス
type HistoryApplicationService struct {
	transactionRepo transaction.TransactionRepository
	logger          *otelinfra.Logger
	metrics         *otelinfra.Metrics
	tracer          trace.Tracer
}

// NewHistoryApplicationService 新しいHistoryApplicationServiceを作成
func NewHistoryApplicationService(
	transactionRepo transaction.TransactionRepository,
	logger *otelinfra.Logger,
	metrics *otelinfra.Metrics,
) *HistoryApplicationService {
	return &HistoryApplicationService{
		transactionRepo: transactionRepo,
		logger:          logger,
		metrics:         metrics,
		tracer:          otel.Tracer("history-service"),
	}
}

// GetTransactionHistory 残高の増減履歴を取得（新しい順）
func (s *HistoryApplicationService) GetTransactionHistory(ctx context.Context, req *GetTransactionHistoryRequest) (*GetTransactionHistoryResponse, error) {
	ctx, span := s.tracer.Start(ctx, "HistoryApplicationService.GetTransactionHistory")
	defer span.End()

	// バリデーション
	if req.Limit <= 0 {
		req.Limit = defaultLimit
	}
	if req.Limit > maxLimit {
		req.Limit = maxLimit
	}
	if req.Offset < 0 {
		req.Offset = 0
	}

	span.SetAttributes(
		attribute.String("owner", req.Owner),
		attribute.Int("limit", req.Limit),
		attribute.Int("offset", req.Offset),
	)

	var (
		symbolFilter currency.Symbol
		typeFilter   transaction.TransactionType
		err          error
	)
	if req.Symbol != "" {
		if symbolFilter, err = currency.NewSymbol(req.Symbol); err != nil {
			span.RecordError(err)
			span.SetStatus(otelcodes.Error, err.Error())
			return nil, err
		}
	}
	if req.TransactionType != "" {
		if typeFilter, err = transaction.NewTransactionType(req.TransactionType); err != nil {
			err = fmt.Errorf("%w: %v", transaction.ErrInvalidTransaction, err)
			span.RecordError(err)
			span.SetStatus(otelcodes.Error, err.Error())
			return nil, err
		}
	}

	transactions, err := s.transactionRepo.FindByOwner(ctx, req.Owner, req.Limit, req.Offset)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
		s.logger.Error(ctx, "Failed to get transaction history", err, map[string]interface{}{
			"owner": req.Owner,
		})
		return nil, fmt.Errorf("failed to get transaction history: %w", err)
	}

	total, err := s.transactionRepo.CountByOwner(ctx, req.Owner)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
		s.logger.Error(ctx, "Failed to count transactions", err, map[string]interface{}{
			"owner": req.Owner,
		})
		return nil, fmt.Errorf("failed to count transactions: %w", err)
	}

	filtered := make([]*transaction.Transaction, 0, len(transactions))
	for _, txn := range transactions {
		if symbolFilter != "" && txn.Symbol() != symbolFilter {
			continue
		}
		if typeFilter != "" && txn.TransactionType() != typeFilter {
			continue
		}
		filtered = append(filtered, txn)
	}

	return &GetTransactionHistoryResponse{
		Transactions: filtered,
		Total:        total,
		Limit:        req.Limit,
		Offset:       req.Offset,
	}, nil
}
