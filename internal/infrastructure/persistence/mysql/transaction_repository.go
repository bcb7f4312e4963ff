package mysql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"gift-server/internal/domain/currency"
	"gift-server/internal/domain/transaction"
)

// TransactionRepository SQL実装のTransactionRepository
type TransactionRepository struct {
	db     *DB
	tracer trace.Tracer
}

// NewTransactionRepository 新しいTransactionRepositoryを作成
func NewTransactionRepository(db *DB) *TransactionRepository {
	return &TransactionRepository{
		db:     db,
		tracer: otel.Tracer("transaction-repository"),
	}
}

const transactionColumns = `
	transaction_id, owner, transaction_type, symbol,
	amount, balance_before, balance_after, status,
	requester, metadata, created_at, updated_at`

// rowScanner *sql.Row と *sql.Rows の共通部分
type rowScanner interface {
	Scan(dest ...interface{}) error
}

// Save トランザクションを保存。同じIDが既にある場合は ErrDuplicateTransactionID
func (r *TransactionRepository) Save(ctx context.Context, t *transaction.Transaction) error {
	ctx, span := r.tracer.Start(ctx, "TransactionRepository.Save")
	defer span.End()

	span.SetAttributes(
		attribute.String("db.transaction_id", t.TransactionID()),
		attribute.String("db.owner", t.Owner()),
		attribute.String("db.transaction_type", t.TransactionType().String()),
		attribute.String("db.symbol", t.Symbol().String()),
		attribute.String("db.amount", t.Amount().String()),
		attribute.String("db.operation", "INSERT"),
		attribute.String("db.table", "transactions"),
	)

	query := `INSERT INTO transactions (` + transactionColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	var metadataValue interface{}
	if t.Metadata() != nil {
		metadataJSON, err := json.Marshal(t.Metadata())
		if err != nil {
			span.RecordError(err)
			span.SetStatus(otelcodes.Error, err.Error())
			return fmt.Errorf("failed to marshal metadata: %w", err)
		}
		metadataValue = string(metadataJSON)
	}

	var requesterValue interface{}
	if requester := t.Requester(); requester != nil {
		requesterValue = *requester
	}

	_, err := r.db.conn(ctx).ExecContext(ctx, query,
		t.TransactionID(),
		t.Owner(),
		t.TransactionType().String(),
		t.Symbol().String(),
		t.Amount(),
		t.BalanceBefore(),
		t.BalanceAfter(),
		t.Status().String(),
		requesterValue,
		metadataValue,
		t.CreatedAt().UTC(),
		t.UpdatedAt().UTC(),
	)
	if isDuplicateKey(err) {
		span.SetStatus(otelcodes.Error, "duplicate transaction id")
		return transaction.ErrDuplicateTransactionID
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
		return fmt.Errorf("failed to save transaction: %w", err)
	}

	span.SetStatus(otelcodes.Ok, "transaction saved")
	return nil
}

// FindByTransactionID トランザクションIDでトランザクションを取得
func (r *TransactionRepository) FindByTransactionID(ctx context.Context, transactionID string) (*transaction.Transaction, error) {
	ctx, span := r.tracer.Start(ctx, "TransactionRepository.FindByTransactionID")
	defer span.End()

	span.SetAttributes(
		attribute.String("db.transaction_id", transactionID),
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.table", "transactions"),
	)

	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE transaction_id = ?`

	t, err := scanTransaction(r.db.conn(ctx).QueryRowContext(ctx, query, transactionID))
	if errors.Is(err, sql.ErrNoRows) {
		span.SetStatus(otelcodes.Ok, "transaction not found")
		return nil, transaction.ErrTransactionNotFound
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
		return nil, fmt.Errorf("failed to find transaction: %w", err)
	}

	span.SetStatus(otelcodes.Ok, "transaction found")
	return t, nil
}

// FindByOwner 所有者IDでトランザクション一覧を取得（新しい順、ページネーション対応）
func (r *TransactionRepository) FindByOwner(ctx context.Context, owner string, limit, offset int) ([]*transaction.Transaction, error) {
	ctx, span := r.tracer.Start(ctx, "TransactionRepository.FindByOwner")
	defer span.End()

	span.SetAttributes(
		attribute.String("db.owner", owner),
		attribute.Int("db.limit", limit),
		attribute.Int("db.offset", offset),
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.table", "transactions"),
	)

	query := `SELECT ` + transactionColumns + `
		FROM transactions
		WHERE owner = ?
		ORDER BY created_at DESC, transaction_id
		LIMIT ? OFFSET ?`

	rows, err := r.db.conn(ctx).QueryContext(ctx, query, owner, limit, offset)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer rows.Close()

	var transactions []*transaction.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(otelcodes.Error, err.Error())
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		transactions = append(transactions, t)
	}

	if err := rows.Err(); err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
		return nil, fmt.Errorf("failed to iterate transactions: %w", err)
	}

	span.SetAttributes(attribute.Int("db.result_count", len(transactions)))
	span.SetStatus(otelcodes.Ok, fmt.Sprintf("found %d transactions", len(transactions)))
	return transactions, nil
}

// CountByOwner 所有者IDのトランザクション総数を取得
func (r *TransactionRepository) CountByOwner(ctx context.Context, owner string) (int, error) {
	ctx, span := r.tracer.Start(ctx, "TransactionRepository.CountByOwner")
	defer span.End()

	span.SetAttributes(
		attribute.String("db.owner", owner),
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.table", "transactions"),
	)

	var count int
	err := r.db.conn(ctx).QueryRowContext(ctx, `SELECT COUNT(*) FROM transactions WHERE owner = ?`, owner).Scan(&count)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
		return 0, fmt.Errorf("failed to count transactions: %w", err)
	}

	span.SetAttributes(attribute.Int("db.count", count))
	span.SetStatus(otelcodes.Ok, "transactions counted")
	return count, nil
}

func scanTransaction(s rowScanner) (*transaction.Transaction, error) {
	var dbTransactionID, dbOwner, dbTransactionType, dbSymbol, dbStatus string
	var amount, balanceBefore, balanceAfter decimal.Decimal
	var requester, metadataJSON sql.NullString
	var createdAt, updatedAt time.Time

	if err := s.Scan(
		&dbTransactionID,
		&dbOwner,
		&dbTransactionType,
		&dbSymbol,
		&amount,
		&balanceBefore,
		&balanceAfter,
		&dbStatus,
		&requester,
		&metadataJSON,
		&createdAt,
		&updatedAt,
	); err != nil {
		return nil, err
	}

	tt, err := transaction.NewTransactionType(dbTransactionType)
	if err != nil {
		return nil, fmt.Errorf("invalid transaction type: %w", err)
	}
	sym, err := currency.NewSymbol(dbSymbol)
	if err != nil {
		return nil, fmt.Errorf("invalid symbol: %w", err)
	}
	ts, err := transaction.NewTransactionStatus(dbStatus)
	if err != nil {
		return nil, fmt.Errorf("invalid transaction status: %w", err)
	}

	var metadata map[string]interface{}
	if metadataJSON.Valid && metadataJSON.String != "" {
		if err := json.Unmarshal([]byte(metadataJSON.String), &metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}

	var requesterPtr *string
	if requester.Valid {
		requesterPtr = &requester.String
	}

	t, err := transaction.NewTransaction(
		dbTransactionID,
		dbOwner,
		tt,
		sym,
		amount,
		balanceBefore,
		balanceAfter,
		ts,
		requesterPtr,
		metadata,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to reconstruct transaction entity: %w", err)
	}
	t.SetTimestamps(createdAt, updatedAt)
	return t, nil
}
