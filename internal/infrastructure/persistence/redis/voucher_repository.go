package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"gift-server/internal/domain/voucher"
)

// キー構成
//
//	voucher:<id>                 ギフト本体（JSON）
//	voucher:<id>:claims          受取IDのリスト（受取順）
//	voucher_claim:<claimId>      受取記録（JSON）
//	vouchers:creator:<creatorId> 作成者ごとのインデックス（score=作成時刻）
//	vouchers:active_public       公開中インデックス（score=作成時刻）
//	vouchers:expiring            期限付きActiveギフト（score=期限）
//	vouchers:refund_pending      払い戻し待ち（score=更新時刻）
//	voucher_claims:pending       入金待ちの受取（score=受取時刻）
const (
	keyActivePublic   = "vouchers:active_public"
	keyExpiring       = "vouchers:expiring"
	keyRefundPending  = "vouchers:refund_pending"
	keyPendingClaims  = "voucher_claims:pending"
	voucherKeyPrefix  = "voucher:"
	claimKeyPrefix    = "voucher_claim:"
	creatorKeyPrefix  = "vouchers:creator:"
	claimsListPostfix = ":claims"
)

func voucherKey(id string) string { return voucherKeyPrefix + id }
func claimsListKey(id string) string { return voucherKeyPrefix + id + claimsListPostfix }
func claimKey(claimID string) string { return claimKeyPrefix + claimID }
func creatorKey(creatorID string) string { return creatorKeyPrefix + creatorID }
func score(t time.Time) float64 { return float64(t.UnixMilli()) }
func scoreArg(t time.Time) string { return strconv.FormatInt(t.UnixMilli(), 10) }

// VoucherRepository Redis実装のVoucherRepository
// Update はWATCH/MULTIの楽観的トランザクションで同時更新を検出する
type VoucherRepository struct {
	client goredis.UniversalClient
	tracer trace.Tracer
}

// NewVoucherRepository 新しいVoucherRepositoryを作成
func NewVoucherRepository(client goredis.UniversalClient) *VoucherRepository {
	return &VoucherRepository{
		client: client,
		tracer: otel.Tracer("redis-voucher-repository"),
	}
}

// Create 新しいギフトを保存
func (r *VoucherRepository) Create(ctx context.Context, v *voucher.Voucher) error {
	ctx, span := r.tracer.Start(ctx, "RedisVoucherRepository.Create")
	defer span.End()
	span.SetAttributes(attribute.String("db.voucher_id", v.ID()), attribute.String("db.system", "redis"))

	key := voucherKey(v.ID())
	err := r.client.Watch(ctx, func(tx *goredis.Tx) error {
		exists, err := tx.Exists(ctx, key).Result()
		if err != nil {
			return err
		}
		if exists > 0 {
			return voucher.ErrVoucherAlreadyExists
		}
		data, err := json.Marshal(v.Record())
		if err != nil {
			return fmt.Errorf("failed to marshal voucher: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			pipe.ZAdd(ctx, creatorKey(v.CreatorID()), &goredis.Z{Score: score(v.CreatedAt()), Member: v.ID()})
			writeIndexes(ctx, pipe, v)
			return nil
		})
		return err
	}, key)
	if errors.Is(err, goredis.TxFailedErr) {
		err = voucher.ErrVoucherAlreadyExists
	}
	if err != nil {
		span.SetStatus(otelcodes.Error, err.Error())
		if errors.Is(err, voucher.ErrVoucherAlreadyExists) {
			return err
		}
		span.RecordError(err)
		return fmt.Errorf("failed to create voucher: %w", err)
	}

	span.SetStatus(otelcodes.Ok, "voucher created")
	return nil
}

// FindByID IDでギフトを取得
func (r *VoucherRepository) FindByID(ctx context.Context, id string) (*voucher.Voucher, error) {
	ctx, span := r.tracer.Start(ctx, "RedisVoucherRepository.FindByID")
	defer span.End()
	span.SetAttributes(attribute.String("db.voucher_id", id), attribute.String("db.system", "redis"))

	v, err := getVoucher(ctx, r.client, id)
	if err != nil {
		span.SetStatus(otelcodes.Error, err.Error())
		return nil, err
	}
	span.SetStatus(otelcodes.Ok, "voucher found")
	return v, nil
}

// Update WATCHしたギフトにfnを適用し、MULTI/EXECで書き込む
func (r *VoucherRepository) Update(ctx context.Context, id string, fn voucher.UpdateFunc) (*voucher.Voucher, error) {
	ctx, span := r.tracer.Start(ctx, "RedisVoucherRepository.Update")
	defer span.End()
	span.SetAttributes(attribute.String("db.voucher_id", id), attribute.String("db.system", "redis"))

	var (
		current *voucher.Voucher
		fnErr   error
	)
	key := voucherKey(id)
	err := r.client.Watch(ctx, func(tx *goredis.Tx) error {
		v, err := getVoucher(ctx, tx, id)
		if err != nil {
			return err
		}

		persist, ferr := fn(v)
		current, fnErr = v, ferr
		if !persist {
			return nil
		}

		v.IncrementVersion()
		data, err := json.Marshal(v.Record())
		if err != nil {
			return fmt.Errorf("failed to marshal voucher: %w", err)
		}
		claims := make([][]byte, 0, len(v.NewClaims()))
		for _, c := range v.NewClaims() {
			b, err := json.Marshal(c.Record())
			if err != nil {
				return fmt.Errorf("failed to marshal claim: %w", err)
			}
			claims = append(claims, b)
		}

		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			writeIndexes(ctx, pipe, v)
			for i, c := range v.NewClaims() {
				pipe.Set(ctx, claimKey(c.ClaimID()), claims[i], 0)
				pipe.RPush(ctx, claimsListKey(id), c.ClaimID())
				pipe.ZAdd(ctx, keyPendingClaims, &goredis.Z{Score: score(c.ClaimedAt()), Member: c.ClaimID()})
			}
			return nil
		})
		return err
	}, key)
	if errors.Is(err, goredis.TxFailedErr) {
		err = voucher.ErrConflict
	}
	if err != nil {
		span.SetStatus(otelcodes.Error, err.Error())
		if errors.Is(err, voucher.ErrConflict) || errors.Is(err, voucher.ErrVoucherNotFound) {
			return nil, err
		}
		span.RecordError(err)
		return nil, fmt.Errorf("failed to update voucher: %w", err)
	}

	span.SetStatus(otelcodes.Ok, "voucher updated")
	return current, fnErr
}

// Delete ギフトと受取記録を削除
func (r *VoucherRepository) Delete(ctx context.Context, id string) error {
	ctx, span := r.tracer.Start(ctx, "RedisVoucherRepository.Delete")
	defer span.End()
	span.SetAttributes(attribute.String("db.voucher_id", id), attribute.String("db.system", "redis"))

	key := voucherKey(id)
	err := r.client.Watch(ctx, func(tx *goredis.Tx) error {
		v, err := getVoucher(ctx, tx, id)
		if err != nil {
			return err
		}
		claimIDs, err := tx.LRange(ctx, claimsListKey(id), 0, -1).Result()
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.Del(ctx, key, claimsListKey(id))
			for _, claimID := range claimIDs {
				pipe.Del(ctx, claimKey(claimID))
				pipe.ZRem(ctx, keyPendingClaims, claimID)
			}
			pipe.ZRem(ctx, creatorKey(v.CreatorID()), id)
			pipe.ZRem(ctx, keyActivePublic, id)
			pipe.ZRem(ctx, keyExpiring, id)
			pipe.ZRem(ctx, keyRefundPending, id)
			return nil
		})
		return err
	}, key, claimsListKey(id))
	if errors.Is(err, goredis.TxFailedErr) {
		err = voucher.ErrConflict
	}
	if err != nil {
		span.SetStatus(otelcodes.Error, err.Error())
		if errors.Is(err, voucher.ErrVoucherNotFound) || errors.Is(err, voucher.ErrConflict) {
			return err
		}
		span.RecordError(err)
		return fmt.Errorf("failed to delete voucher: %w", err)
	}

	span.SetStatus(otelcodes.Ok, "voucher deleted")
	return nil
}

// FindByCreator 作成者のギフト一覧（新しい順）
func (r *VoucherRepository) FindByCreator(ctx context.Context, creatorID string, limit, offset int) ([]*voucher.Voucher, error) {
	ids, err := r.client.ZRevRange(ctx, creatorKey(creatorID), int64(offset), int64(offset+limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to query creator index: %w", err)
	}
	return r.loadVouchers(ctx, ids, nil)
}

// FindActivePublic 公開中のActiveなギフト一覧（新しい順）
func (r *VoucherRepository) FindActivePublic(ctx context.Context, limit, offset int) ([]*voucher.Voucher, error) {
	ids, err := r.client.ZRevRange(ctx, keyActivePublic, int64(offset), int64(offset+limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to query public index: %w", err)
	}
	return r.loadVouchers(ctx, ids, func(v *voucher.Voucher) bool {
		return v.Status().IsActive() && v.Public()
	})
}

// FindExpired 期限を過ぎたActiveなギフト
func (r *VoucherRepository) FindExpired(ctx context.Context, now time.Time, limit int) ([]*voucher.Voucher, error) {
	ids, err := r.client.ZRangeByScore(ctx, keyExpiring, &goredis.ZRangeBy{
		Min:   "-inf",
		Max:   scoreArg(now),
		Count: int64(limit),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to query expiring index: %w", err)
	}
	// スコアはミリ秒単位のため、期限は読み出した値で判定し直す
	return r.loadVouchers(ctx, ids, func(v *voucher.Voucher) bool {
		return v.Status().IsActive() && v.IsExpiredAt(now)
	})
}

// FindPendingRefunds 払い戻し未完了のギフト
func (r *VoucherRepository) FindPendingRefunds(ctx context.Context, limit int) ([]*voucher.Voucher, error) {
	ids, err := r.client.ZRange(ctx, keyRefundPending, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to query refund index: %w", err)
	}
	return r.loadVouchers(ctx, ids, func(v *voucher.Voucher) bool {
		return v.RefundStatus() == voucher.RefundStatusPending
	})
}

// FindClaims ギフトの受取記録（古い順）
func (r *VoucherRepository) FindClaims(ctx context.Context, voucherID string) ([]*voucher.Claim, error) {
	ids, err := r.client.LRange(ctx, claimsListKey(voucherID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to query claims: %w", err)
	}
	return r.loadClaims(ctx, ids)
}

// FindPendingClaims 入金未完了の受取記録
func (r *VoucherRepository) FindPendingClaims(ctx context.Context, limit int) ([]*voucher.Claim, error) {
	ids, err := r.client.ZRange(ctx, keyPendingClaims, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to query pending claims: %w", err)
	}
	return r.loadClaims(ctx, ids)
}

// MarkClaimPaid 受取記録を入金完了にする
func (r *VoucherRepository) MarkClaimPaid(ctx context.Context, claimID string) error {
	return r.setPayoutStatus(ctx, "RedisVoucherRepository.MarkClaimPaid", claimID, voucher.PayoutStatusCompleted)
}

// MarkClaimFailed 受取記録を入金打ち切りにする
func (r *VoucherRepository) MarkClaimFailed(ctx context.Context, claimID string) error {
	return r.setPayoutStatus(ctx, "RedisVoucherRepository.MarkClaimFailed", claimID, voucher.PayoutStatusFailed)
}

// setPayoutStatus 受取記録の入金状況を更新し、入金待ちインデックスから外す
func (r *VoucherRepository) setPayoutStatus(ctx context.Context, spanName, claimID string, payoutStatus voucher.PayoutStatus) error {
	ctx, span := r.tracer.Start(ctx, spanName)
	defer span.End()
	span.SetAttributes(attribute.String("db.claim_id", claimID), attribute.String("db.system", "redis"))

	key := claimKey(claimID)
	err := r.client.Watch(ctx, func(tx *goredis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, goredis.Nil) {
			return voucher.ErrClaimNotFound
		}
		if err != nil {
			return err
		}
		var rec voucher.ClaimRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			return fmt.Errorf("failed to unmarshal claim: %w", err)
		}
		rec.PayoutStatus = payoutStatus.String()
		updated, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("failed to marshal claim: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.Set(ctx, key, updated, 0)
			pipe.ZRem(ctx, keyPendingClaims, claimID)
			return nil
		})
		return err
	}, key)
	if errors.Is(err, goredis.TxFailedErr) {
		err = voucher.ErrConflict
	}
	if err != nil {
		span.SetStatus(otelcodes.Error, err.Error())
		if errors.Is(err, voucher.ErrClaimNotFound) || errors.Is(err, voucher.ErrConflict) {
			return err
		}
		span.RecordError(err)
		return fmt.Errorf("failed to update payout status: %w", err)
	}

	span.SetStatus(otelcodes.Ok, "claim marked "+payoutStatus.String())
	return nil
}

// writeIndexes ギフトの状態に合わせてインデックスを更新
func writeIndexes(ctx context.Context, pipe goredis.Pipeliner, v *voucher.Voucher) {
	if v.Status().IsActive() && v.Public() {
		pipe.ZAdd(ctx, keyActivePublic, &goredis.Z{Score: score(v.CreatedAt()), Member: v.ID()})
	} else {
		pipe.ZRem(ctx, keyActivePublic, v.ID())
	}
	if v.Status().IsActive() && v.ExpiresAt() != nil {
		pipe.ZAdd(ctx, keyExpiring, &goredis.Z{Score: score(*v.ExpiresAt()), Member: v.ID()})
	} else {
		pipe.ZRem(ctx, keyExpiring, v.ID())
	}
	if v.RefundStatus() == voucher.RefundStatusPending {
		pipe.ZAdd(ctx, keyRefundPending, &goredis.Z{Score: score(v.UpdatedAt()), Member: v.ID()})
	} else {
		pipe.ZRem(ctx, keyRefundPending, v.ID())
	}
}

// getter *goredis.Client と *goredis.Tx の共通部分
type getter interface {
	Get(ctx context.Context, key string) *goredis.StringCmd
}

func getVoucher(ctx context.Context, c getter, id string) (*voucher.Voucher, error) {
	data, err := c.Get(ctx, voucherKey(id)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, voucher.ErrVoucherNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get voucher: %w", err)
	}
	return decodeVoucher(data)
}

func decodeVoucher(data []byte) (*voucher.Voucher, error) {
	var rec voucher.Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal voucher: %w", err)
	}
	v, err := voucher.Restore(rec)
	if err != nil {
		return nil, fmt.Errorf("failed to reconstruct voucher: %w", err)
	}
	return v, nil
}

// loadVouchers インデックスのIDからギフトを読み出す。消えたIDやkeepに合わないものは飛ばす
func (r *VoucherRepository) loadVouchers(ctx context.Context, ids []string, keep func(*voucher.Voucher) bool) ([]*voucher.Voucher, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = voucherKey(id)
	}
	values, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load vouchers: %w", err)
	}

	result := make([]*voucher.Voucher, 0, len(values))
	for _, raw := range values {
		s, ok := raw.(string)
		if !ok {
			continue
		}
		v, err := decodeVoucher([]byte(s))
		if err != nil {
			return nil, err
		}
		if keep != nil && !keep(v) {
			continue
		}
		result = append(result, v)
	}
	return result, nil
}

func (r *VoucherRepository) loadClaims(ctx context.Context, ids []string) ([]*voucher.Claim, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = claimKey(id)
	}
	values, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load claims: %w", err)
	}

	result := make([]*voucher.Claim, 0, len(values))
	for _, raw := range values {
		s, ok := raw.(string)
		if !ok {
			continue
		}
		var rec voucher.ClaimRecord
		if err := json.Unmarshal([]byte(s), &rec); err != nil {
			return nil, fmt.Errorf("failed to unmarshal claim: %w", err)
		}
		c, err := voucher.RestoreClaim(rec)
		if err != nil {
			return nil, fmt.Errorf("failed to reconstruct claim: %w", err)
		}
		result = append(result, c)
	}
	return result, nil
}
