package voucher

import (
	"errors"
	"fmt"

	"gift-server/internal/domain/currency"
)

var (
	// ErrValidation 作成パラメータが不正
	ErrValidation = errors.New("validation error")
	// ErrVoucherNotFound ギフトが見つからない
	ErrVoucherNotFound = errors.New("voucher not found")
	// ErrVoucherAlreadyExists 同じIDのギフトが既に存在する
	ErrVoucherAlreadyExists = errors.New("voucher already exists")
	// ErrClaimNotFound 受取記録が見つからない
	ErrClaimNotFound = errors.New("claim not found")
	// ErrNotActive 受取可能な状態ではない
	ErrNotActive = errors.New("voucher not active")
	// ErrExpired 有効期限切れ
	ErrExpired = errors.New("voucher expired")
	// ErrExhausted 受取枠または残額がない
	ErrExhausted = errors.New("voucher exhausted")
	// ErrAlreadyClaimed 同一IDの受取回数が上限に達している
	ErrAlreadyClaimed = errors.New("already claimed")
	// ErrCancellationNotAllowed 進捗が0%でも80%以上でもないため終了できない
	ErrCancellationNotAllowed = errors.New("cancellation not allowed")
	// ErrDeleteNotAllowed 終了済み以外のギフトは削除できない
	ErrDeleteNotAllowed = errors.New("delete not allowed")
	// ErrRefundPending 払い戻しが完了していないため削除できない
	ErrRefundPending = errors.New("refund pending")
	// ErrRefundFailed 払い戻しが打ち切られているため削除できない
	ErrRefundFailed = errors.New("refund failed")
	// ErrForbidden 作成者以外の操作
	ErrForbidden = errors.New("forbidden")
	// ErrConflict 同時更新によりバージョンが一致しなかった（1回分の書き込み失敗）
	ErrConflict = errors.New("voucher write conflict")
	// ErrContention リトライ上限まで競合が続いた。呼び出し全体を再試行してよい
	ErrContention = errors.New("voucher busy, retry later")
)

// NotActiveError Active以外のギフトに対する操作を表すエラー
// 状態に応じて ErrExhausted / ErrExpired としても判定できる
type NotActiveError struct {
	Status Status
}

// Error エラーメッセージを返す
func (e *NotActiveError) Error() string {
	return fmt.Sprintf("voucher not active: %s", e.Status)
}

// Is errors.Is 用の判定
func (e *NotActiveError) Is(target error) bool {
	switch target {
	case ErrNotActive:
		return true
	case ErrExhausted:
		return e.Status == StatusExhausted
	case ErrExpired:
		return e.Status == StatusExpired
	}
	return false
}

func validationError(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// Reason エラーを機械可読な理由コードに変換（業務エラー以外は空文字）
func Reason(err error) string {
	var notActive *NotActiveError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &notActive):
		switch notActive.Status {
		case StatusExhausted:
			return "exhausted"
		case StatusExpired:
			return "expired"
		}
		return "not_active"
	case errors.Is(err, ErrExpired):
		return "expired"
	case errors.Is(err, ErrExhausted):
		return "exhausted"
	case errors.Is(err, ErrAlreadyClaimed):
		return "already_claimed"
	case errors.Is(err, ErrNotActive):
		return "not_active"
	case errors.Is(err, ErrCancellationNotAllowed):
		return "cancellation_not_allowed"
	case errors.Is(err, ErrDeleteNotAllowed):
		return "delete_not_allowed"
	case errors.Is(err, ErrRefundPending):
		return "refund_pending"
	case errors.Is(err, ErrRefundFailed):
		return "refund_failed"
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	case errors.Is(err, ErrContention):
		return "contention"
	case errors.Is(err, ErrVoucherNotFound):
		return "voucher_not_found"
	case errors.Is(err, ErrValidation):
		return "validation_error"
	case errors.Is(err, currency.ErrInsufficientBalance):
		return "insufficient_balance"
	}
	return ""
}
