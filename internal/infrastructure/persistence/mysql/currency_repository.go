package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"gift-server/internal/domain/currency"
)

// CurrencyRepository SQL実装のCurrencyRepository
type CurrencyRepository struct {
	db     *DB
	tracer trace.Tracer
}

// NewCurrencyRepository 新しいCurrencyRepositoryを作成
func NewCurrencyRepository(db *DB) *CurrencyRepository {
	return &CurrencyRepository{
		db:     db,
		tracer: otel.Tracer("currency-repository"),
	}
}

// FindByOwnerAndSymbol 所有者と通貨シンボルで残高を取得
func (r *CurrencyRepository) FindByOwnerAndSymbol(ctx context.Context, owner string, symbol currency.Symbol) (*currency.Currency, error) {
	ctx, span := r.tracer.Start(ctx, "CurrencyRepository.FindByOwnerAndSymbol")
	defer span.End()

	span.SetAttributes(
		attribute.String("db.owner", owner),
		attribute.String("db.symbol", symbol.String()),
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.table", "currency_balances"),
	)

	query := `
		SELECT owner, symbol, balance, version
		FROM currency_balances
		WHERE owner = ? AND symbol = ?
	`

	var dbOwner, dbSymbol string
	var balance decimal.Decimal
	var version int

	err := r.db.conn(ctx).QueryRowContext(ctx, query, owner, symbol.String()).Scan(
		&dbOwner,
		&dbSymbol,
		&balance,
		&version,
	)

	if errors.Is(err, sql.ErrNoRows) {
		span.SetStatus(otelcodes.Ok, "currency not found")
		return nil, currency.ErrCurrencyNotFound
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
		return nil, fmt.Errorf("failed to find currency: %w", err)
	}

	span.SetAttributes(attribute.Int("db.version", version))
	span.SetStatus(otelcodes.Ok, "currency found")

	return toCurrency(dbOwner, dbSymbol, balance, version)
}

// FindByOwner 所有者の全通貨の残高を取得
func (r *CurrencyRepository) FindByOwner(ctx context.Context, owner string) ([]*currency.Currency, error) {
	ctx, span := r.tracer.Start(ctx, "CurrencyRepository.FindByOwner")
	defer span.End()

	span.SetAttributes(
		attribute.String("db.owner", owner),
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.table", "currency_balances"),
	)

	query := `
		SELECT owner, symbol, balance, version
		FROM currency_balances
		WHERE owner = ?
		ORDER BY symbol
	`

	rows, err := r.db.conn(ctx).QueryContext(ctx, query, owner)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
		return nil, fmt.Errorf("failed to query currencies: %w", err)
	}
	defer rows.Close()

	var result []*currency.Currency
	for rows.Next() {
		var dbOwner, dbSymbol string
		var balance decimal.Decimal
		var version int
		if err := rows.Scan(&dbOwner, &dbSymbol, &balance, &version); err != nil {
			span.RecordError(err)
			span.SetStatus(otelcodes.Error, err.Error())
			return nil, fmt.Errorf("failed to scan currency: %w", err)
		}
		c, err := toCurrency(dbOwner, dbSymbol, balance, version)
		if err != nil {
			return nil, err
		}
		result = append(result, c)
	}
	if err := rows.Err(); err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
		return nil, fmt.Errorf("failed to iterate currencies: %w", err)
	}

	span.SetAttributes(attribute.Int("db.count", len(result)))
	span.SetStatus(otelcodes.Ok, "currencies found")
	return result, nil
}

// Save 残高を保存（更新、楽観的ロック対応）
func (r *CurrencyRepository) Save(ctx context.Context, c *currency.Currency) error {
	ctx, span := r.tracer.Start(ctx, "CurrencyRepository.Save")
	defer span.End()

	span.SetAttributes(
		attribute.String("db.owner", c.Owner()),
		attribute.String("db.symbol", c.Symbol().String()),
		attribute.String("db.balance", c.Balance().String()),
		attribute.Int("db.version", c.Version()),
		attribute.String("db.operation", "UPDATE"),
		attribute.String("db.table", "currency_balances"),
	)

	query := `
		UPDATE currency_balances
		SET balance = ?, version = version + 1, updated_at = CURRENT_TIMESTAMP
		WHERE owner = ? AND symbol = ? AND version = ?
	`

	result, err := r.db.conn(ctx).ExecContext(ctx, query,
		c.Balance(),
		c.Owner(),
		c.Symbol().String(),
		c.Version(),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
		return fmt.Errorf("failed to save currency: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		span.RecordError(currency.ErrOptimisticLock)
		span.SetStatus(otelcodes.Error, currency.ErrOptimisticLock.Error())
		return currency.ErrOptimisticLock
	}

	c.IncrementVersion()
	span.SetAttributes(attribute.Int64("db.rows_affected", rowsAffected))
	span.SetStatus(otelcodes.Ok, "currency saved")
	return nil
}

// Create 新しい残高レコードを作成
func (r *CurrencyRepository) Create(ctx context.Context, c *currency.Currency) error {
	ctx, span := r.tracer.Start(ctx, "CurrencyRepository.Create")
	defer span.End()

	span.SetAttributes(
		attribute.String("db.owner", c.Owner()),
		attribute.String("db.symbol", c.Symbol().String()),
		attribute.String("db.balance", c.Balance().String()),
		attribute.String("db.operation", "INSERT"),
		attribute.String("db.table", "currency_balances"),
	)

	query := `
		INSERT INTO currency_balances (owner, symbol, balance, version)
		VALUES (?, ?, ?, ?)
	`

	_, err := r.db.conn(ctx).ExecContext(ctx, query,
		c.Owner(),
		c.Symbol().String(),
		c.Balance(),
		c.Version(),
	)
	if isDuplicateKey(err) {
		span.SetStatus(otelcodes.Error, "currency already exists")
		return currency.ErrCurrencyAlreadyExists
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
		return fmt.Errorf("failed to create currency: %w", err)
	}

	span.SetStatus(otelcodes.Ok, "currency created")
	return nil
}

func toCurrency(owner, symbol string, balance decimal.Decimal, version int) (*currency.Currency, error) {
	sym, err := currency.NewSymbol(symbol)
	if err != nil {
		return nil, fmt.Errorf("invalid symbol in currency_balances: %w", err)
	}
	c, err := currency.NewCurrency(owner, sym, balance, version)
	if err != nil {
		return nil, fmt.Errorf("failed to reconstruct currency entity: %w", err)
	}
	return c, nil
}
