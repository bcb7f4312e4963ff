package voucher

import (
	"context"
	"time"

	"gift-server/internal/domain/currency"

	"github.com/shopspring/decimal"
)

// UpdateFunc 最新のギフトに判定を適用する関数
// persist がtrueの場合、errの有無にかかわらず変更を保存してからerrを返す
type UpdateFunc func(v *Voucher) (persist bool, err error)

// VoucherRepository ギフトリポジトリインターフェース
type VoucherRepository interface {
	// Create 新しいギフトを保存。同じIDが既にある場合は ErrVoucherAlreadyExists
	Create(ctx context.Context, v *Voucher) error

	// FindByID IDでギフトを取得。見つからない場合は ErrVoucherNotFound
	FindByID(ctx context.Context, id string) (*Voucher, error)

	// Update 最新のギフトを読み、fnを適用してバージョン比較付きで書き込む
	// 他の書き込みと競合した場合は ErrConflict（呼び出し側が最初からやり直す）
	Update(ctx context.Context, id string, fn UpdateFunc) (*Voucher, error)

	// Delete ギフトと受取記録を削除
	Delete(ctx context.Context, id string) error

	// FindByCreator 作成者のギフト一覧（新しい順）
	FindByCreator(ctx context.Context, creatorID string, limit, offset int) ([]*Voucher, error)

	// FindActivePublic 公開中のActiveなギフト一覧（新しい順）
	FindActivePublic(ctx context.Context, limit, offset int) ([]*Voucher, error)

	// FindExpired 期限を過ぎたActiveなギフト
	FindExpired(ctx context.Context, now time.Time, limit int) ([]*Voucher, error)

	// FindPendingRefunds 払い戻し未完了のギフト
	FindPendingRefunds(ctx context.Context, limit int) ([]*Voucher, error)

	// FindClaims ギフトの受取記録（古い順）
	FindClaims(ctx context.Context, voucherID string) ([]*Claim, error)

	// FindPendingClaims 入金未完了の受取記録
	FindPendingClaims(ctx context.Context, limit int) ([]*Claim, error)

	// MarkClaimPaid 受取記録を入金完了にする。見つからない場合は ErrClaimNotFound
	MarkClaimPaid(ctx context.Context, claimID string) error

	// MarkClaimFailed 受取記録を入金打ち切りにし、FindPendingClaims の対象から外す
	// 見つからない場合は ErrClaimNotFound
	MarkClaimFailed(ctx context.Context, claimID string) error
}

// BalanceGateway 残高の引き落としと入金を行うゲートウェイ
// ref は冪等キー。同じrefでの再実行は成功扱いで二重に反映されない
type BalanceGateway interface {
	// Debit 引き落とし。残高不足は currency.ErrInsufficientBalance
	Debit(ctx context.Context, owner string, symbol currency.Symbol, amount decimal.Decimal, ref string) error

	// Credit 入金
	Credit(ctx context.Context, owner string, symbol currency.Symbol, amount decimal.Decimal, ref string) error
}
