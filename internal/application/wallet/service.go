// Package wallet ギフトの引き当て・入金・払い戻しを受け持つ残高ゲートウェイ
package wallet

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"gift-server/internal/domain/currency"
	"gift-server/internal/domain/transaction"
	otelinfra "gift-server/internal/infrastructure/observability/otel"
)

const defaultMaxRetries = 5

// errAlreadyApplied 同じrefの移動が既に記録されている
var errAlreadyApplied = errors.New("already applied")

// WalletApplicationService 残高アプリケーションサービス
// voucher.BalanceGateway を満たす
type WalletApplicationService struct {
	currencyRepo    currency.CurrencyRepository
	transactionRepo transaction.TransactionRepository
	txManager       transaction.TransactionManager
	registry        *currency.Registry
	logger          *otelinfra.Logger
	metrics         *otelinfra.Metrics
	tracer          trace.Tracer
	maxRetries      int
	retryBaseDelay  time.Duration
}

// NewWalletApplicationService 新しいWalletApplicationServiceを作成
func NewWalletApplicationService(
	currencyRepo currency.CurrencyRepository,
	transactionRepo transaction.TransactionRepository,
	txManager transaction.TransactionManager,
	registry *currency.Registry,
	logger *otelinfra.Logger,
	metrics *otelinfra.Metrics,
) *WalletApplicationService {
	return &WalletApplicationService{
		currencyRepo:    currencyRepo,
		transactionRepo: transactionRepo,
		txManager:       txManager,
		registry:        registry,
		logger:          logger,
		metrics:         metrics,
		tracer:          otel.Tracer("wallet-service"),
		maxRetries:      defaultMaxRetries,
		retryBaseDelay:  10 * time.Millisecond,
	}
}

// movement 1回分の残高移動
type movement struct {
	ref       string
	owner     string
	symbol    currency.Symbol
	amount    decimal.Decimal
	txType    transaction.TransactionType
	requester *string
	metadata  map[string]interface{}
}

// moveResult 移動後の残高
type moveResult struct {
	balanceAfter decimal.Decimal
	applied      bool // falseなら既に記録済みだった
}

// Debit ギフト作成時の引き当て
func (s *WalletApplicationService) Debit(ctx context.Context, owner string, symbol currency.Symbol, amount decimal.Decimal, ref string) error {
	_, err := s.move(ctx, "WalletApplicationService.Debit", movement{
		ref:    ref,
		owner:  owner,
		symbol: symbol,
		amount: amount,
		txType: transaction.TransactionTypeReserve,
	})
	return err
}

// Credit 受取者への入金または作成者への払い戻し
// refの接頭辞で記録するトランザクションタイプを決める
func (s *WalletApplicationService) Credit(ctx context.Context, owner string, symbol currency.Symbol, amount decimal.Decimal, ref string) error {
	_, err := s.move(ctx, "WalletApplicationService.Credit", movement{
		ref:    ref,
		owner:  owner,
		symbol: symbol,
		amount: amount,
		txType: creditType(ref),
	})
	return err
}

func creditType(ref string) transaction.TransactionType {
	switch {
	case strings.HasPrefix(ref, "payout_"):
		return transaction.TransactionTypePayout
	case strings.HasPrefix(ref, "refund_"):
		return transaction.TransactionTypeRefund
	default:
		return transaction.TransactionTypeGrant
	}
}

// GetBalance 取り扱い通貨すべての残高を取得（レコードがない通貨は0）
func (s *WalletApplicationService) GetBalance(ctx context.Context, req *GetBalanceRequest) (*GetBalanceResponse, error) {
	ctx, span := s.tracer.Start(ctx, "WalletApplicationService.GetBalance")
	defer span.End()

	span.SetAttributes(attribute.String("owner", req.Owner))

	if !currency.ValidOwner(req.Owner) {
		err := currency.ErrInvalidOwner
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
		return nil, err
	}

	currencies, err := s.currencyRepo.FindByOwner(ctx, req.Owner)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
		s.logger.Error(ctx, "Failed to find balances", err, map[string]interface{}{
			"owner": req.Owner,
		})
		return nil, fmt.Errorf("failed to find balances: %w", err)
	}

	bySymbol := make(map[currency.Symbol]Balance, len(currencies))
	for _, sym := range s.registry.Symbols() {
		bySymbol[sym] = Balance{Symbol: sym.String(), Amount: "0"}
	}
	for _, c := range currencies {
		bySymbol[c.Symbol()] = Balance{
			Symbol:  c.Symbol().String(),
			Amount:  c.Balance().String(),
			Version: c.Version(),
		}
	}

	balances := make([]Balance, 0, len(bySymbol))
	for _, b := range bySymbol {
		balances = append(balances, b)
	}
	sort.Slice(balances, func(i, j int) bool { return balances[i].Symbol < balances[j].Symbol })

	return &GetBalanceResponse{
		Owner:    req.Owner,
		Balances: balances,
	}, nil
}

// Grant 管理者による付与
func (s *WalletApplicationService) Grant(ctx context.Context, req *GrantRequest) (*GrantResponse, error) {
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", currency.ErrInvalidAmount, req.Amount)
	}
	symbol, err := currency.NewSymbol(req.Symbol)
	if err != nil {
		return nil, err
	}

	metadata := req.Metadata
	if req.Reason != "" {
		if metadata == nil {
			metadata = make(map[string]interface{})
		}
		metadata["reason"] = req.Reason
	}
	var requester *string
	if req.Requester != "" {
		r := req.Requester
		requester = &r
	}

	transactionID := "grant_" + uuid.New().String()
	res, err := s.move(ctx, "WalletApplicationService.Grant", movement{
		ref:       transactionID,
		owner:     req.Owner,
		symbol:    symbol,
		amount:    amount,
		txType:    transaction.TransactionTypeGrant,
		requester: requester,
		metadata:  metadata,
	})
	if err != nil {
		return nil, err
	}

	return &GrantResponse{
		TransactionID: transactionID,
		BalanceAfter:  res.balanceAfter.String(),
		Status:        transaction.TransactionStatusCompleted.String(),
	}, nil
}

// move 残高を1回分移動して台帳に記録する
// 同じrefが記録済みなら何もせず成功を返す。楽観ロック競合はトランザクションごとやり直す
func (s *WalletApplicationService) move(ctx context.Context, spanName string, m movement) (*moveResult, error) {
	ctx, span := s.tracer.Start(ctx, spanName)
	defer span.End()

	span.SetAttributes(
		attribute.String("owner", m.owner),
		attribute.String("symbol", m.symbol.String()),
		attribute.String("amount", m.amount.String()),
		attribute.String("transaction_id", m.ref),
		attribute.String("transaction_type", m.txType.String()),
	)

	if err := s.validate(m); err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
		return nil, err
	}

	var (
		result *moveResult
		err    error
	)
	for attempt := 0; attempt < s.maxRetries; attempt++ {
		if attempt > 0 {
			// 指数バックオフ
			backoff := time.Duration(math.Pow(2, float64(attempt-1))) * s.retryBaseDelay
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
			s.metrics.RecordRetry(ctx, m.txType.String())
		}

		result, err = s.apply(ctx, m)
		if err == nil {
			break
		}
		if !retryable(err) {
			break
		}
	}

	if err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
		if errors.Is(err, currency.ErrInsufficientBalance) {
			s.logger.Warn(ctx, "Insufficient balance", map[string]interface{}{
				"owner":          m.owner,
				"symbol":         m.symbol.String(),
				"amount":         m.amount.String(),
				"transaction_id": m.ref,
			})
		} else {
			s.logger.Error(ctx, "Failed to move balance", err, map[string]interface{}{
				"owner":            m.owner,
				"symbol":           m.symbol.String(),
				"amount":           m.amount.String(),
				"transaction_id":   m.ref,
				"transaction_type": m.txType.String(),
			})
			s.metrics.RecordError(ctx, m.txType.String()+"_failed")
		}
		return nil, err
	}

	if !result.applied {
		s.logger.Info(ctx, "Balance move already recorded", map[string]interface{}{
			"transaction_id": m.ref,
		})
		return result, nil
	}

	s.metrics.RecordTransaction(ctx, m.txType.String(), m.symbol.String())
	s.logger.Info(ctx, "Balance moved successfully", map[string]interface{}{
		"owner":            m.owner,
		"symbol":           m.symbol.String(),
		"amount":           m.amount.String(),
		"transaction_id":   m.ref,
		"transaction_type": m.txType.String(),
		"balance_after":    result.balanceAfter.String(),
	})
	return result, nil
}

func (s *WalletApplicationService) validate(m movement) error {
	if !currency.ValidOwner(m.owner) {
		return fmt.Errorf("%w: %q", currency.ErrInvalidOwner, m.owner)
	}
	if m.ref == "" {
		return transaction.ErrInvalidTransactionID
	}
	return s.registry.ValidateAmount(m.symbol, m.amount)
}

func (s *WalletApplicationService) apply(ctx context.Context, m movement) (*moveResult, error) {
	var result *moveResult
	err := s.txManager.WithTransaction(ctx, func(ctx context.Context) error {
		// 冪等性チェック
		existing, err := s.transactionRepo.FindByTransactionID(ctx, m.ref)
		if err == nil {
			result = &moveResult{balanceAfter: existing.BalanceAfter()}
			return errAlreadyApplied
		}
		if !errors.Is(err, transaction.ErrTransactionNotFound) {
			return fmt.Errorf("failed to find transaction: %w", err)
		}

		c, err := s.currencyRepo.FindByOwnerAndSymbol(ctx, m.owner, m.symbol)
		if err != nil && !errors.Is(err, currency.ErrCurrencyNotFound) {
			return fmt.Errorf("failed to find currency: %w", err)
		}
		if c == nil {
			if m.txType.Direction() == transaction.DirectionDebit {
				return currency.ErrInsufficientBalance
			}
			// 残高レコードが存在しない場合は作成
			c, err = currency.NewCurrency(m.owner, m.symbol, decimal.Zero, 0)
			if err != nil {
				return err
			}
			if err := s.currencyRepo.Create(ctx, c); err != nil {
				return fmt.Errorf("failed to create currency: %w", err)
			}
		}

		balanceBefore := c.Balance()
		if m.txType.Direction() == transaction.DirectionDebit {
			err = c.Debit(m.amount)
		} else {
			err = c.Credit(m.amount)
		}
		if err != nil {
			return err
		}

		// 保存（楽観的ロック）
		if err := s.currencyRepo.Save(ctx, c); err != nil {
			return fmt.Errorf("failed to save currency: %w", err)
		}

		txn, err := transaction.NewTransaction(
			m.ref,
			m.owner,
			m.txType,
			m.symbol,
			m.amount,
			balanceBefore,
			c.Balance(),
			transaction.TransactionStatusCompleted,
			m.requester,
			m.metadata,
		)
		if err != nil {
			return err
		}
		if err := s.transactionRepo.Save(ctx, txn); err != nil {
			return fmt.Errorf("failed to save transaction: %w", err)
		}

		result = &moveResult{balanceAfter: c.Balance(), applied: true}
		return nil
	})
	if errors.Is(err, errAlreadyApplied) {
		return result, nil
	}
	if err != nil {
		return nil, err
	}
	return result, nil
}

// retryable トランザクションをやり直せば成功しうるエラーか
// 同じrefの同時実行は再試行時の冪等性チェックで解消する
func retryable(err error) bool {
	return errors.Is(err, currency.ErrOptimisticLock) ||
		errors.Is(err, currency.ErrCurrencyAlreadyExists) ||
		errors.Is(err, transaction.ErrDuplicateTransactionID)
}
