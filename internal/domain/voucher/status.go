package voucher

import (
	"fmt"
)

// Status ギフトのステータス。Active以外からは遷移しない
type Status string

const (
	StatusActive    Status = "active"
	StatusExhausted Status = "exhausted"
	StatusExpired   Status = "expired"
	StatusCancelled Status = "cancelled"
)

// NewStatus 新しいStatusを作成
func NewStatus(s string) (Status, error) {
	switch s {
	case "active", "exhausted", "expired", "cancelled":
		return Status(s), nil
	default:
		return "", fmt.Errorf("invalid voucher status: %s", s)
	}
}

// String 文字列表現を返す
func (s Status) String() string {
	return string(s)
}

// IsActive 受取可能な状態かどうかを返す
func (s Status) IsActive() bool {
	return s == StatusActive
}

// RefundStatus 作成者への払い戻し状況
type RefundStatus string

const (
	RefundStatusNone      RefundStatus = "none"
	RefundStatusPending   RefundStatus = "pending"
	RefundStatusCompleted RefundStatus = "completed"
	// RefundStatusFailed 入金先や通貨が不正で再送しても成功しない。自動再送の対象外
	RefundStatusFailed RefundStatus = "failed"
)

// NewRefundStatus 新しいRefundStatusを作成
func NewRefundStatus(s string) (RefundStatus, error) {
	switch s {
	case "none", "pending", "completed", "failed":
		return RefundStatus(s), nil
	default:
		return "", fmt.Errorf("invalid refund status: %s", s)
	}
}

// String 文字列表現を返す
func (s RefundStatus) String() string {
	return string(s)
}

// PayoutStatus 受取者への入金状況
type PayoutStatus string

const (
	PayoutStatusPending   PayoutStatus = "pending"
	PayoutStatusCompleted PayoutStatus = "completed"
	// PayoutStatusFailed 再送しても成功しない入金。自動再送の対象外
	PayoutStatusFailed PayoutStatus = "failed"
)

// NewPayoutStatus 新しいPayoutStatusを作成
func NewPayoutStatus(s string) (PayoutStatus, error) {
	switch s {
	case "pending", "completed", "failed":
		return PayoutStatus(s), nil
	default:
		return "", fmt.Errorf("invalid payout status: %s", s)
	}
}

// String 文字列表現を返す
func (s PayoutStatus) String() string {
	return string(s)
}
