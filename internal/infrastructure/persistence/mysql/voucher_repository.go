package mysql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"gift-server/internal/domain/voucher"
)

// VoucherRepository SQL実装のVoucherRepository
// Update はバージョン比較付きのUPDATEで同時更新を検出する
type VoucherRepository struct {
	db     *DB
	tracer trace.Tracer
}

// NewVoucherRepository 新しいVoucherRepositoryを作成
func NewVoucherRepository(db *DB) *VoucherRepository {
	return &VoucherRepository{
		db:     db,
		tracer: otel.Tracer("voucher-repository"),
	}
}

const voucherColumns = `
	id, creator_id, symbol, mode, total_policy, per_claim_amount,
	claim_limit, total_amount, total_people, max_claims_per_identity,
	expires_at, status, claimed_count, claimed_total, claimants,
	message, is_public, refund_amount, refund_status, version,
	created_at, updated_at`

const claimColumns = `
	claim_id, voucher_id, claimant_id, recipient_address,
	symbol, amount, payout_status, claimed_at`

// Create 新しいギフトを保存
func (r *VoucherRepository) Create(ctx context.Context, v *voucher.Voucher) error {
	ctx, span := r.tracer.Start(ctx, "VoucherRepository.Create")
	defer span.End()

	span.SetAttributes(
		attribute.String("db.voucher_id", v.ID()),
		attribute.String("db.operation", "INSERT"),
		attribute.String("db.table", "vouchers"),
	)

	rec := v.Record()
	claimants, err := json.Marshal(rec.Claimants)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
		return fmt.Errorf("failed to marshal claimants: %w", err)
	}

	query := `INSERT INTO vouchers (` + voucherColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err = r.db.conn(ctx).ExecContext(ctx, query,
		rec.ID,
		rec.CreatorID,
		rec.Symbol,
		rec.Mode,
		rec.TotalPolicy,
		rec.PerClaimAmount,
		rec.ClaimLimit,
		rec.TotalAmount,
		rec.TotalPeople,
		rec.MaxClaimsPerIdentity,
		nullTime(rec.ExpiresAt),
		rec.Status,
		rec.ClaimedCount,
		rec.ClaimedTotal,
		string(claimants),
		rec.Message,
		rec.Public,
		rec.RefundAmount,
		rec.RefundStatus,
		rec.Version,
		rec.CreatedAt.UTC(),
		rec.UpdatedAt.UTC(),
	)
	if isDuplicateKey(err) {
		span.SetStatus(otelcodes.Error, "voucher already exists")
		return voucher.ErrVoucherAlreadyExists
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
		return fmt.Errorf("failed to create voucher: %w", err)
	}

	span.SetStatus(otelcodes.Ok, "voucher created")
	return nil
}

// FindByID IDでギフトを取得
func (r *VoucherRepository) FindByID(ctx context.Context, id string) (*voucher.Voucher, error) {
	ctx, span := r.tracer.Start(ctx, "VoucherRepository.FindByID")
	defer span.End()

	span.SetAttributes(
		attribute.String("db.voucher_id", id),
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.table", "vouchers"),
	)

	v, err := r.findByID(ctx, id)
	if err != nil {
		if !errors.Is(err, voucher.ErrVoucherNotFound) {
			span.RecordError(err)
			span.SetStatus(otelcodes.Error, err.Error())
		}
		return nil, err
	}

	span.SetAttributes(
		attribute.String("db.status", v.Status().String()),
		attribute.Int("db.version", v.Version()),
	)
	span.SetStatus(otelcodes.Ok, "voucher found")
	return v, nil
}

func (r *VoucherRepository) findByID(ctx context.Context, id string) (*voucher.Voucher, error) {
	query := `SELECT ` + voucherColumns + ` FROM vouchers WHERE id = ?`

	v, err := scanVoucher(r.db.conn(ctx).QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, voucher.ErrVoucherNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find voucher: %w", err)
	}
	return v, nil
}

// Update 最新のギフトを読み、fnを適用してバージョン比較付きで書き込む
func (r *VoucherRepository) Update(ctx context.Context, id string, fn voucher.UpdateFunc) (*voucher.Voucher, error) {
	ctx, span := r.tracer.Start(ctx, "VoucherRepository.Update")
	defer span.End()

	span.SetAttributes(
		attribute.String("db.voucher_id", id),
		attribute.String("db.operation", "UPDATE"),
		attribute.String("db.table", "vouchers"),
	)

	var (
		current   *voucher.Voucher
		fnErr     error
		persisted bool
	)
	err := r.db.inTx(ctx, func(ctx context.Context) error {
		v, err := r.findByID(ctx, id)
		if err != nil {
			return err
		}

		persist, ferr := fn(v)
		current, fnErr = v, ferr
		if !persist {
			return nil
		}

		if err := r.updateRow(ctx, v); err != nil {
			return err
		}
		for _, c := range v.NewClaims() {
			if err := r.insertClaim(ctx, c); err != nil {
				return err
			}
		}
		persisted = true
		return nil
	})
	if err != nil {
		if isBusy(err) {
			err = voucher.ErrConflict
		}
		if errors.Is(err, voucher.ErrConflict) || errors.Is(err, voucher.ErrVoucherNotFound) {
			span.SetStatus(otelcodes.Error, err.Error())
		} else {
			span.RecordError(err)
			span.SetStatus(otelcodes.Error, err.Error())
		}
		return nil, err
	}

	if persisted {
		current.IncrementVersion()
	}
	span.SetAttributes(
		attribute.Bool("db.persisted", persisted),
		attribute.Int("db.new_claims", len(current.NewClaims())),
	)
	span.SetStatus(otelcodes.Ok, "voucher updated")
	return current, fnErr
}

func (r *VoucherRepository) updateRow(ctx context.Context, v *voucher.Voucher) error {
	rec := v.Record()
	claimants, err := json.Marshal(rec.Claimants)
	if err != nil {
		return fmt.Errorf("failed to marshal claimants: %w", err)
	}

	query := `
		UPDATE vouchers
		SET status = ?, claimed_count = ?, claimed_total = ?, claimants = ?,
			refund_amount = ?, refund_status = ?, updated_at = ?, version = version + 1
		WHERE id = ? AND version = ?
	`

	result, err := r.db.conn(ctx).ExecContext(ctx, query,
		rec.Status,
		rec.ClaimedCount,
		rec.ClaimedTotal,
		string(claimants),
		rec.RefundAmount,
		rec.RefundStatus,
		rec.UpdatedAt.UTC(),
		rec.ID,
		rec.Version,
	)
	if err != nil {
		return fmt.Errorf("failed to update voucher: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return voucher.ErrConflict
	}
	return nil
}

func (r *VoucherRepository) insertClaim(ctx context.Context, c *voucher.Claim) error {
	rec := c.Record()
	query := `INSERT INTO voucher_claims (` + claimColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := r.db.conn(ctx).ExecContext(ctx, query,
		rec.ClaimID,
		rec.VoucherID,
		rec.ClaimantID,
		rec.RecipientAddress,
		rec.Symbol,
		rec.Amount,
		rec.PayoutStatus,
		rec.ClaimedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert claim: %w", err)
	}
	return nil
}

// Delete ギフトと受取記録を削除
func (r *VoucherRepository) Delete(ctx context.Context, id string) error {
	ctx, span := r.tracer.Start(ctx, "VoucherRepository.Delete")
	defer span.End()

	span.SetAttributes(
		attribute.String("db.voucher_id", id),
		attribute.String("db.operation", "DELETE"),
		attribute.String("db.table", "vouchers"),
	)

	err := r.db.inTx(ctx, func(ctx context.Context) error {
		if _, err := r.db.conn(ctx).ExecContext(ctx, `DELETE FROM voucher_claims WHERE voucher_id = ?`, id); err != nil {
			return fmt.Errorf("failed to delete claims: %w", err)
		}
		result, err := r.db.conn(ctx).ExecContext(ctx, `DELETE FROM vouchers WHERE id = ?`, id)
		if err != nil {
			return fmt.Errorf("failed to delete voucher: %w", err)
		}
		rowsAffected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get rows affected: %w", err)
		}
		if rowsAffected == 0 {
			return voucher.ErrVoucherNotFound
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
		return err
	}

	span.SetStatus(otelcodes.Ok, "voucher deleted")
	return nil
}

// FindByCreator 作成者のギフト一覧
func (r *VoucherRepository) FindByCreator(ctx context.Context, creatorID string, limit, offset int) ([]*voucher.Voucher, error) {
	query := `SELECT ` + voucherColumns + `
		FROM vouchers
		WHERE creator_id = ?
		ORDER BY created_at DESC, id
		LIMIT ? OFFSET ?`
	return r.queryVouchers(ctx, "VoucherRepository.FindByCreator", query, creatorID, limit, offset)
}

// FindActivePublic 公開中のActiveなギフト一覧
func (r *VoucherRepository) FindActivePublic(ctx context.Context, limit, offset int) ([]*voucher.Voucher, error) {
	query := `SELECT ` + voucherColumns + `
		FROM vouchers
		WHERE status = ? AND is_public = ?
		ORDER BY created_at DESC, id
		LIMIT ? OFFSET ?`
	return r.queryVouchers(ctx, "VoucherRepository.FindActivePublic", query, voucher.StatusActive.String(), true, limit, offset)
}

// FindExpired 期限を過ぎたActiveなギフト
func (r *VoucherRepository) FindExpired(ctx context.Context, now time.Time, limit int) ([]*voucher.Voucher, error) {
	query := `SELECT ` + voucherColumns + `
		FROM vouchers
		WHERE status = ? AND expires_at IS NOT NULL AND expires_at <= ?
		ORDER BY expires_at, id
		LIMIT ?`
	return r.queryVouchers(ctx, "VoucherRepository.FindExpired", query, voucher.StatusActive.String(), now.UTC(), limit)
}

// FindPendingRefunds 払い戻し未完了のギフト
func (r *VoucherRepository) FindPendingRefunds(ctx context.Context, limit int) ([]*voucher.Voucher, error) {
	query := `SELECT ` + voucherColumns + `
		FROM vouchers
		WHERE refund_status = ?
		ORDER BY updated_at, id
		LIMIT ?`
	return r.queryVouchers(ctx, "VoucherRepository.FindPendingRefunds", query, voucher.RefundStatusPending.String(), limit)
}

func (r *VoucherRepository) queryVouchers(ctx context.Context, spanName, query string, args ...interface{}) ([]*voucher.Voucher, error) {
	ctx, span := r.tracer.Start(ctx, spanName)
	defer span.End()

	span.SetAttributes(
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.table", "vouchers"),
	)

	rows, err := r.db.conn(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
		return nil, fmt.Errorf("failed to query vouchers: %w", err)
	}
	defer rows.Close()

	var vouchers []*voucher.Voucher
	for rows.Next() {
		v, err := scanVoucher(rows)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(otelcodes.Error, err.Error())
			return nil, fmt.Errorf("failed to scan voucher: %w", err)
		}
		vouchers = append(vouchers, v)
	}
	if err := rows.Err(); err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
		return nil, fmt.Errorf("failed to iterate vouchers: %w", err)
	}

	span.SetAttributes(attribute.Int("db.result_count", len(vouchers)))
	span.SetStatus(otelcodes.Ok, fmt.Sprintf("found %d vouchers", len(vouchers)))
	return vouchers, nil
}

// FindClaims ギフトの受取記録
func (r *VoucherRepository) FindClaims(ctx context.Context, voucherID string) ([]*voucher.Claim, error) {
	query := `SELECT ` + claimColumns + `
		FROM voucher_claims
		WHERE voucher_id = ?
		ORDER BY claimed_at, claim_id`
	return r.queryClaims(ctx, "VoucherRepository.FindClaims", query, voucherID)
}

// FindPendingClaims 入金未完了の受取記録
func (r *VoucherRepository) FindPendingClaims(ctx context.Context, limit int) ([]*voucher.Claim, error) {
	query := `SELECT ` + claimColumns + `
		FROM voucher_claims
		WHERE payout_status = ?
		ORDER BY claimed_at, claim_id
		LIMIT ?`
	return r.queryClaims(ctx, "VoucherRepository.FindPendingClaims", query, voucher.PayoutStatusPending.String(), limit)
}

func (r *VoucherRepository) queryClaims(ctx context.Context, spanName, query string, args ...interface{}) ([]*voucher.Claim, error) {
	ctx, span := r.tracer.Start(ctx, spanName)
	defer span.End()

	span.SetAttributes(
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.table", "voucher_claims"),
	)

	rows, err := r.db.conn(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
		return nil, fmt.Errorf("failed to query claims: %w", err)
	}
	defer rows.Close()

	var claims []*voucher.Claim
	for rows.Next() {
		var rec voucher.ClaimRecord
		if err := rows.Scan(
			&rec.ClaimID,
			&rec.VoucherID,
			&rec.ClaimantID,
			&rec.RecipientAddress,
			&rec.Symbol,
			&rec.Amount,
			&rec.PayoutStatus,
			&rec.ClaimedAt,
		); err != nil {
			span.RecordError(err)
			span.SetStatus(otelcodes.Error, err.Error())
			return nil, fmt.Errorf("failed to scan claim: %w", err)
		}
		c, err := voucher.RestoreClaim(rec)
		if err != nil {
			return nil, fmt.Errorf("failed to reconstruct claim: %w", err)
		}
		claims = append(claims, c)
	}
	if err := rows.Err(); err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
		return nil, fmt.Errorf("failed to iterate claims: %w", err)
	}

	span.SetAttributes(attribute.Int("db.result_count", len(claims)))
	span.SetStatus(otelcodes.Ok, fmt.Sprintf("found %d claims", len(claims)))
	return claims, nil
}

// MarkClaimPaid 受取記録を入金完了にする
func (r *VoucherRepository) MarkClaimPaid(ctx context.Context, claimID string) error {
	return r.setPayoutStatus(ctx, "VoucherRepository.MarkClaimPaid", claimID, voucher.PayoutStatusCompleted)
}

// MarkClaimFailed 受取記録を入金打ち切りにする
func (r *VoucherRepository) MarkClaimFailed(ctx context.Context, claimID string) error {
	return r.setPayoutStatus(ctx, "VoucherRepository.MarkClaimFailed", claimID, voucher.PayoutStatusFailed)
}

func (r *VoucherRepository) setPayoutStatus(ctx context.Context, spanName, claimID string, payoutStatus voucher.PayoutStatus) error {
	ctx, span := r.tracer.Start(ctx, spanName)
	defer span.End()

	span.SetAttributes(
		attribute.String("db.claim_id", claimID),
		attribute.String("db.operation", "UPDATE"),
		attribute.String("db.table", "voucher_claims"),
	)

	result, err := r.db.conn(ctx).ExecContext(ctx,
		`UPDATE voucher_claims SET payout_status = ? WHERE claim_id = ?`,
		payoutStatus.String(), claimID,
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
		return fmt.Errorf("failed to update payout status: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		// MySQLは値が変わらない行を数えないため、存在確認で区別する
		var count int
		if err := r.db.conn(ctx).QueryRowContext(ctx,
			`SELECT COUNT(*) FROM voucher_claims WHERE claim_id = ?`, claimID,
		).Scan(&count); err != nil {
			span.RecordError(err)
			span.SetStatus(otelcodes.Error, err.Error())
			return fmt.Errorf("failed to check claim: %w", err)
		}
		if count == 0 {
			span.SetStatus(otelcodes.Error, "claim not found")
			return voucher.ErrClaimNotFound
		}
	}

	span.SetStatus(otelcodes.Ok, "claim marked "+payoutStatus.String())
	return nil
}

func scanVoucher(s rowScanner) (*voucher.Voucher, error) {
	var rec voucher.Record
	var expiresAt sql.NullTime
	var claimants string

	if err := s.Scan(
		&rec.ID,
		&rec.CreatorID,
		&rec.Symbol,
		&rec.Mode,
		&rec.TotalPolicy,
		&rec.PerClaimAmount,
		&rec.ClaimLimit,
		&rec.TotalAmount,
		&rec.TotalPeople,
		&rec.MaxClaimsPerIdentity,
		&expiresAt,
		&rec.Status,
		&rec.ClaimedCount,
		&rec.ClaimedTotal,
		&claimants,
		&rec.Message,
		&rec.Public,
		&rec.RefundAmount,
		&rec.RefundStatus,
		&rec.Version,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	); err != nil {
		return nil, err
	}

	if expiresAt.Valid {
		t := expiresAt.Time
		rec.ExpiresAt = &t
	}
	if claimants != "" {
		if err := json.Unmarshal([]byte(claimants), &rec.Claimants); err != nil {
			return nil, fmt.Errorf("failed to unmarshal claimants: %w", err)
		}
	}

	v, err := voucher.Restore(rec)
	if err != nil {
		return nil, fmt.Errorf("failed to reconstruct voucher: %w", err)
	}
	return v, nil
}

func nullTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UTC()
}

// isBusy SQLiteの書き込みロック競合かどうか
func isBusy(err error) bool {
	return err != nil && strings.Contains(err.Error(), "database is locked")
}
