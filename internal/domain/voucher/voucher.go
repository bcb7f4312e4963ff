package voucher

import (
	"fmt"
	"time"
	"unicode/utf8"

	"gift-server/internal/domain/currency"

	"github.com/shopspring/decimal"
)

// MaxMessageLength 挨拶メッセージの最大文字数
const MaxMessageLength = 200

// DefaultMaxClaimLimit 1つのギフトで許可する受取枠の既定上限
const DefaultMaxClaimLimit = 10000

// Params ギフト作成パラメータ
type Params struct {
	ID                   string
	CreatorID            string
	Symbol               currency.Symbol
	Mode                 Mode
	TotalPolicy          TotalPolicy
	PerClaimAmount       decimal.Decimal
	ClaimLimit           int
	TotalAmount          decimal.Decimal
	TotalPeople          int
	MaxClaimsPerIdentity int
	ExpiresAt            *time.Time
	Message              string
	Public               bool
}

// Voucher ギフト（お年玉）エンティティ
type Voucher struct {
	id                   string
	creatorID            string
	symbol               currency.Symbol
	mode                 Mode
	totalPolicy          TotalPolicy
	perClaimAmount       decimal.Decimal
	claimLimit           int
	totalAmount          decimal.Decimal
	totalPeople          int
	maxClaimsPerIdentity int
	expiresAt            *time.Time
	status               Status
	claimedCount         int
	claimedTotal         decimal.Decimal
	claimants            map[string]int
	message              string
	public               bool
	refundAmount         decimal.Decimal
	refundStatus         RefundStatus
	version              int
	createdAt            time.Time
	updatedAt            time.Time

	newClaims []*Claim
}

// NewVoucher パラメータを検証して新しいギフトを作成する
// maxClaimLimit が0以下の場合は DefaultMaxClaimLimit を使う
func NewVoucher(p Params, registry *currency.Registry, now time.Time, maxClaimLimit int) (*Voucher, error) {
	if maxClaimLimit <= 0 {
		maxClaimLimit = DefaultMaxClaimLimit
	}
	if p.ID == "" {
		return nil, validationError("voucher id is required")
	}
	if p.CreatorID == "" || !currency.ValidOwner(p.CreatorID) {
		return nil, validationError("invalid creator id: %q", p.CreatorID)
	}
	if !registry.Supports(p.Symbol) {
		return nil, validationError("unsupported symbol: %s", p.Symbol)
	}
	if p.MaxClaimsPerIdentity < 0 {
		return nil, validationError("max claims per identity must not be negative")
	}
	if p.MaxClaimsPerIdentity == 0 {
		p.MaxClaimsPerIdentity = 1
	}
	if p.ExpiresAt != nil && !p.ExpiresAt.After(now) {
		return nil, validationError("expires at must be in the future")
	}
	if utf8.RuneCountInString(p.Message) > MaxMessageLength {
		return nil, validationError("message must be at most %d characters", MaxMessageLength)
	}

	v := &Voucher{
		id:                   p.ID,
		creatorID:            p.CreatorID,
		symbol:               p.Symbol,
		mode:                 p.Mode,
		maxClaimsPerIdentity: p.MaxClaimsPerIdentity,
		status:               StatusActive,
		claimedTotal:         decimal.Zero,
		claimants:            make(map[string]int),
		message:              p.Message,
		public:               p.Public,
		refundAmount:         decimal.Zero,
		refundStatus:         RefundStatusNone,
		createdAt:            now,
		updatedAt:            now,
	}
	if p.ExpiresAt != nil {
		t := *p.ExpiresAt
		v.expiresAt = &t
	}

	switch p.Mode {
	case ModePerClaim:
		if p.TotalPolicy != TotalPolicyNone {
			return nil, validationError("total policy is only allowed in total mode")
		}
		if err := registry.ValidateAmount(p.Symbol, p.PerClaimAmount); err != nil {
			return nil, validationError("per claim amount: %v", err)
		}
		if p.ClaimLimit < 1 || p.ClaimLimit > maxClaimLimit {
			return nil, validationError("claim limit must be between 1 and %d", maxClaimLimit)
		}
		v.perClaimAmount = p.PerClaimAmount
		v.claimLimit = p.ClaimLimit
		v.totalAmount = p.PerClaimAmount.Mul(decimal.NewFromInt(int64(p.ClaimLimit)))

	case ModeTotal:
		if err := registry.ValidateAmount(p.Symbol, p.TotalAmount); err != nil {
			return nil, validationError("total amount: %v", err)
		}
		v.totalPolicy = p.TotalPolicy
		v.totalAmount = p.TotalAmount
		switch p.TotalPolicy {
		case TotalPolicyAll:
			v.perClaimAmount = decimal.Zero
			v.claimLimit = 1
		case TotalPolicyEqual:
			if p.TotalPeople < 1 || p.TotalPeople > maxClaimLimit {
				return nil, validationError("total people must be between 1 and %d", maxClaimLimit)
			}
			share, err := registry.SplitFloor(p.Symbol, p.TotalAmount, p.TotalPeople)
			if err != nil {
				return nil, validationError("equal split: %v", err)
			}
			if !share.IsPositive() {
				return nil, validationError("equal share of %s for %d people is below the minimum unit", p.TotalAmount, p.TotalPeople)
			}
			v.perClaimAmount = share
			v.claimLimit = p.TotalPeople
			v.totalPeople = p.TotalPeople
		default:
			return nil, validationError("invalid total policy: %q", p.TotalPolicy)
		}

	default:
		return nil, validationError("invalid mode: %q", p.Mode)
	}

	return v, nil
}

// ID ギフトIDを取得
func (v *Voucher) ID() string { return v.id }

// CreatorID 作成者IDを取得
func (v *Voucher) CreatorID() string { return v.creatorID }

// Symbol 通貨シンボルを取得
func (v *Voucher) Symbol() currency.Symbol { return v.symbol }

// Mode 配布方式を取得
func (v *Voucher) Mode() Mode { return v.mode }

// TotalPolicy 総額配布ポリシーを取得
func (v *Voucher) TotalPolicy() TotalPolicy { return v.totalPolicy }

// PerClaimAmount 1回あたりの受取額を取得（Allポリシーではゼロ）
func (v *Voucher) PerClaimAmount() decimal.Decimal { return v.perClaimAmount }

// ClaimLimit 受取回数の上限を取得
func (v *Voucher) ClaimLimit() int { return v.claimLimit }

// TotalAmount 確保済みの総額を取得
func (v *Voucher) TotalAmount() decimal.Decimal { return v.totalAmount }

// TotalPeople 均等分割の人数を取得
func (v *Voucher) TotalPeople() int { return v.totalPeople }

// MaxClaimsPerIdentity 1人あたりの受取上限を取得
func (v *Voucher) MaxClaimsPerIdentity() int { return v.maxClaimsPerIdentity }

// ExpiresAt 有効期限を取得
func (v *Voucher) ExpiresAt() *time.Time { return v.expiresAt }

// Status ステータスを取得
func (v *Voucher) Status() Status { return v.status }

// ClaimedCount 受取済み回数を取得
func (v *Voucher) ClaimedCount() int { return v.claimedCount }

// ClaimedTotal 受取済み総額を取得
func (v *Voucher) ClaimedTotal() decimal.Decimal { return v.claimedTotal }

// Message 挨拶メッセージを取得
func (v *Voucher) Message() string { return v.message }

// Public 公開一覧に載せるかどうか
func (v *Voucher) Public() bool { return v.public }

// RefundAmount 払い戻し額を取得
func (v *Voucher) RefundAmount() decimal.Decimal { return v.refundAmount }

// RefundStatus 払い戻し状況を取得
func (v *Voucher) RefundStatus() RefundStatus { return v.refundStatus }

// Version バージョンを取得
func (v *Voucher) Version() int { return v.version }

// CreatedAt 作成日時を取得
func (v *Voucher) CreatedAt() time.Time { return v.createdAt }

// UpdatedAt 更新日時を取得
func (v *Voucher) UpdatedAt() time.Time { return v.updatedAt }

// ClaimsBy 指定IDの受取回数を取得
func (v *Voucher) ClaimsBy(identity string) int { return v.claimants[identity] }

// Claimants 受取者ごとの受取回数のコピーを取得
func (v *Voucher) Claimants() map[string]int {
	out := make(map[string]int, len(v.claimants))
	for k, n := range v.claimants {
		out[k] = n
	}
	return out
}

// Capacity 受取枠の数
func (v *Voucher) Capacity() int { return v.claimLimit }

// RemainingAmount 未受取の残額
func (v *Voucher) RemainingAmount() decimal.Decimal {
	return v.totalAmount.Sub(v.claimedTotal)
}

// Progress 受取の進捗率（0〜1）。表示用
func (v *Voucher) Progress() float64 {
	if v.claimLimit == 0 {
		return 0
	}
	return float64(v.claimedCount) / float64(v.claimLimit)
}

// NewClaims この操作で追加された受取記録。リポジトリが同じトランザクションで保存する
func (v *Voucher) NewClaims() []*Claim { return v.newClaims }

// IsExpiredAt 指定時刻で有効期限を過ぎているか
func (v *Voucher) IsExpiredAt(now time.Time) bool {
	return v.expiresAt != nil && !now.Before(*v.expiresAt)
}

// ExpireIfDue 期限切れのActiveギフトをExpiredに遷移させる。遷移した場合trueを返す
// 未受取の残額は払い戻し対象になる
func (v *Voucher) ExpireIfDue(now time.Time) bool {
	if v.status != StatusActive || !v.IsExpiredAt(now) {
		return false
	}
	v.status = StatusExpired
	v.scheduleRefund()
	v.updatedAt = now
	return true
}

// Claim 受取を判定して適用する
// 判定はこのギフトの状態と引数だけで決まり、何度実行しても同じ結果になる
func (v *Voucher) Claim(claimantID, recipient string, now time.Time, claimID string) (*Claim, error) {
	if claimantID == "" {
		return nil, validationError("claimant id is required")
	}
	if recipient == "" {
		return nil, validationError("recipient address is required")
	}
	if !currency.ValidOwner(recipient) {
		return nil, validationError("invalid recipient address %q", recipient)
	}
	if v.status != StatusActive {
		return nil, &NotActiveError{Status: v.status}
	}
	if v.IsExpiredAt(now) {
		return nil, ErrExpired
	}
	if v.claimants[claimantID] >= v.maxClaimsPerIdentity {
		return nil, ErrAlreadyClaimed
	}

	var payout decimal.Decimal
	switch {
	case v.mode == ModeTotal && v.totalPolicy == TotalPolicyAll:
		remaining := v.RemainingAmount()
		if !remaining.IsPositive() {
			return nil, ErrExhausted
		}
		payout = remaining
	default:
		if v.claimedCount >= v.claimLimit {
			return nil, ErrExhausted
		}
		payout = v.perClaimAmount
	}

	v.claimedCount++
	v.claimedTotal = v.claimedTotal.Add(payout)
	v.claimants[claimantID]++
	if v.claimedCount == v.claimLimit || (v.mode == ModeTotal && v.claimedTotal.GreaterThanOrEqual(v.totalAmount)) {
		v.status = StatusExhausted
	}
	v.updatedAt = now

	c := &Claim{
		claimID:          claimID,
		voucherID:        v.id,
		claimantID:       claimantID,
		recipientAddress: recipient,
		symbol:           v.symbol,
		amount:           payout,
		payoutStatus:     PayoutStatusPending,
		claimedAt:        now,
	}
	v.newClaims = append(v.newClaims, c)
	return c, nil
}

// CanEnd 終了できる進捗かどうか（未受取、または80%以上）
func (v *Voucher) CanEnd() bool {
	return v.claimedCount == 0 || v.claimedCount*10 >= v.claimLimit*8
}

// End 作成者がギフトを終了する。未受取の残額は払い戻し対象になる
func (v *Voucher) End(requesterID string, now time.Time) error {
	if requesterID != v.creatorID {
		return ErrForbidden
	}
	if v.status != StatusActive {
		return &NotActiveError{Status: v.status}
	}
	if !v.CanEnd() {
		return fmt.Errorf("%w: %d of %d claimed", ErrCancellationNotAllowed, v.claimedCount, v.claimLimit)
	}
	v.status = StatusCancelled
	v.scheduleRefund()
	v.updatedAt = now
	return nil
}

// CanDelete 削除できるかどうかを検証
func (v *Voucher) CanDelete(requesterID string) error {
	if requesterID != v.creatorID {
		return ErrForbidden
	}
	if v.status != StatusCancelled {
		return fmt.Errorf("%w: status is %s", ErrDeleteNotAllowed, v.status)
	}
	switch v.refundStatus {
	case RefundStatusPending:
		return ErrRefundPending
	case RefundStatusFailed:
		return ErrRefundFailed
	}
	return nil
}

// CompleteRefund 払い戻し完了を記録
func (v *Voucher) CompleteRefund(now time.Time) bool {
	if v.refundStatus != RefundStatusPending {
		return false
	}
	v.refundStatus = RefundStatusCompleted
	v.updatedAt = now
	return true
}

// FailRefund 払い戻しを打ち切ったことを記録。払い戻し額は残す
func (v *Voucher) FailRefund(now time.Time) bool {
	if v.refundStatus != RefundStatusPending {
		return false
	}
	v.refundStatus = RefundStatusFailed
	v.updatedAt = now
	return true
}

func (v *Voucher) scheduleRefund() {
	v.refundAmount = v.RemainingAmount()
	if v.refundAmount.IsPositive() {
		v.refundStatus = RefundStatusPending
	} else {
		v.refundAmount = decimal.Zero
		v.refundStatus = RefundStatusNone
	}
}

// Clone 独立したコピーを作成（追加済みの受取記録は含まない）
func (v *Voucher) Clone() *Voucher {
	c := *v
	c.claimants = v.Claimants()
	if v.expiresAt != nil {
		t := *v.expiresAt
		c.expiresAt = &t
	}
	c.newClaims = nil
	return &c
}

// IncrementVersion バージョンをインクリメント（リポジトリが保存成功時に呼ぶ）
func (v *Voucher) IncrementVersion() {
	v.version++
}
