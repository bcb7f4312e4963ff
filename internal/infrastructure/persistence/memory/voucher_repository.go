// Package memory プロセス内で完結するギフトストア（テスト・開発用）
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"gift-server/internal/domain/voucher"
)

// VoucherRepository インメモリ実装のVoucherRepository
// Update の読み取りから書き込みまでをストア全体のロックで直列化する
type VoucherRepository struct {
	mu       sync.RWMutex
	vouchers map[string]*voucher.Voucher
	claims   map[string]*voucher.Claim
	order    map[string][]string // voucherID -> claimID（受取順）
}

// NewVoucherRepository 新しいVoucherRepositoryを作成
func NewVoucherRepository() *VoucherRepository {
	return &VoucherRepository{
		vouchers: make(map[string]*voucher.Voucher),
		claims:   make(map[string]*voucher.Claim),
		order:    make(map[string][]string),
	}
}

// Create 新しいギフトを保存
func (r *VoucherRepository) Create(_ context.Context, v *voucher.Voucher) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.vouchers[v.ID()]; ok {
		return voucher.ErrVoucherAlreadyExists
	}
	r.vouchers[v.ID()] = v.Clone()
	return nil
}

// FindByID IDでギフトを取得
func (r *VoucherRepository) FindByID(_ context.Context, id string) (*voucher.Voucher, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	v, ok := r.vouchers[id]
	if !ok {
		return nil, voucher.ErrVoucherNotFound
	}
	return v.Clone(), nil
}

// Update 最新のギフトにfnを適用して保存
func (r *VoucherRepository) Update(_ context.Context, id string, fn voucher.UpdateFunc) (*voucher.Voucher, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.vouchers[id]
	if !ok {
		return nil, voucher.ErrVoucherNotFound
	}

	v := stored.Clone()
	persist, err := fn(v)
	if !persist {
		return v, err
	}

	v.IncrementVersion()
	r.vouchers[id] = v.Clone()
	for _, c := range v.NewClaims() {
		cp := *c
		r.claims[c.ClaimID()] = &cp
		r.order[id] = append(r.order[id], c.ClaimID())
	}
	return v, err
}

// Delete ギフトと受取記録を削除
func (r *VoucherRepository) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.vouchers[id]; !ok {
		return voucher.ErrVoucherNotFound
	}
	for _, claimID := range r.order[id] {
		delete(r.claims, claimID)
	}
	delete(r.order, id)
	delete(r.vouchers, id)
	return nil
}

// FindByCreator 作成者のギフト一覧（新しい順）
func (r *VoucherRepository) FindByCreator(_ context.Context, creatorID string, limit, offset int) ([]*voucher.Voucher, error) {
	return r.list(func(v *voucher.Voucher) bool {
		return v.CreatorID() == creatorID
	}, newestFirst, limit, offset), nil
}

// FindActivePublic 公開中のActiveなギフト一覧（新しい順）
func (r *VoucherRepository) FindActivePublic(_ context.Context, limit, offset int) ([]*voucher.Voucher, error) {
	return r.list(func(v *voucher.Voucher) bool {
		return v.Status().IsActive() && v.Public()
	}, newestFirst, limit, offset), nil
}

// FindExpired 期限を過ぎたActiveなギフト
func (r *VoucherRepository) FindExpired(_ context.Context, now time.Time, limit int) ([]*voucher.Voucher, error) {
	return r.list(func(v *voucher.Voucher) bool {
		return v.Status().IsActive() && v.IsExpiredAt(now)
	}, func(a, b *voucher.Voucher) bool {
		if !a.ExpiresAt().Equal(*b.ExpiresAt()) {
			return a.ExpiresAt().Before(*b.ExpiresAt())
		}
		return a.ID() < b.ID()
	}, limit, 0), nil
}

// FindPendingRefunds 払い戻し未完了のギフト
func (r *VoucherRepository) FindPendingRefunds(_ context.Context, limit int) ([]*voucher.Voucher, error) {
	return r.list(func(v *voucher.Voucher) bool {
		return v.RefundStatus() == voucher.RefundStatusPending
	}, func(a, b *voucher.Voucher) bool {
		if !a.UpdatedAt().Equal(b.UpdatedAt()) {
			return a.UpdatedAt().Before(b.UpdatedAt())
		}
		return a.ID() < b.ID()
	}, limit, 0), nil
}

// FindClaims ギフトの受取記録（古い順）
func (r *VoucherRepository) FindClaims(_ context.Context, voucherID string) ([]*voucher.Claim, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := r.order[voucherID]
	result := make([]*voucher.Claim, 0, len(ids))
	for _, claimID := range ids {
		cp := *r.claims[claimID]
		result = append(result, &cp)
	}
	return result, nil
}

// FindPendingClaims 入金未完了の受取記録
func (r *VoucherRepository) FindPendingClaims(_ context.Context, limit int) ([]*voucher.Claim, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []*voucher.Claim
	for _, c := range r.claims {
		if c.PayoutStatus() == voucher.PayoutStatusPending {
			cp := *c
			result = append(result, &cp)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].ClaimedAt().Equal(result[j].ClaimedAt()) {
			return result[i].ClaimedAt().Before(result[j].ClaimedAt())
		}
		return result[i].ClaimID() < result[j].ClaimID()
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// MarkClaimPaid 受取記録を入金完了にする
func (r *VoucherRepository) MarkClaimPaid(_ context.Context, claimID string) error {
	return r.markClaim(claimID, (*voucher.Claim).MarkPaid)
}

// MarkClaimFailed 受取記録を入金打ち切りにする
func (r *VoucherRepository) MarkClaimFailed(_ context.Context, claimID string) error {
	return r.markClaim(claimID, (*voucher.Claim).MarkFailed)
}

func (r *VoucherRepository) markClaim(claimID string, mark func(*voucher.Claim)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.claims[claimID]
	if !ok {
		return voucher.ErrClaimNotFound
	}
	mark(c)
	return nil
}

func newestFirst(a, b *voucher.Voucher) bool {
	if !a.CreatedAt().Equal(b.CreatedAt()) {
		return a.CreatedAt().After(b.CreatedAt())
	}
	return a.ID() < b.ID()
}

func (r *VoucherRepository) list(match func(*voucher.Voucher) bool, less func(a, b *voucher.Voucher) bool, limit, offset int) []*voucher.Voucher {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []*voucher.Voucher
	for _, v := range r.vouchers {
		if match(v) {
			result = append(result, v.Clone())
		}
	}
	sort.Slice(result, func(i, j int) bool { return less(result[i], result[j]) })

	if offset >= len(result) {
		return nil
	}
	result = result[offset:]
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result
}
