package voucher

import (
	"time"

	"gift-server/internal/domain/currency"

	"github.com/shopspring/decimal"
)

// Claim 1回分の受取記録
type Claim struct {
	claimID          string
	voucherID        string
	claimantID       string
	recipientAddress string
	symbol           currency.Symbol
	amount           decimal.Decimal
	payoutStatus     PayoutStatus
	claimedAt        time.Time
}

// ClaimID 受取IDを取得
func (c *Claim) ClaimID() string { return c.claimID }

// VoucherID ギフトIDを取得
func (c *Claim) VoucherID() string { return c.voucherID }

// ClaimantID 受取者IDを取得
func (c *Claim) ClaimantID() string { return c.claimantID }

// RecipientAddress 入金先を取得
func (c *Claim) RecipientAddress() string { return c.recipientAddress }

// Symbol 通貨シンボルを取得
func (c *Claim) Symbol() currency.Symbol { return c.symbol }

// Amount 受取額を取得
func (c *Claim) Amount() decimal.Decimal { return c.amount }

// PayoutStatus 入金状況を取得
func (c *Claim) PayoutStatus() PayoutStatus { return c.payoutStatus }

// ClaimedAt 受取日時を取得
func (c *Claim) ClaimedAt() time.Time { return c.claimedAt }

// MarkPaid 入金完了を記録
func (c *Claim) MarkPaid() {
	c.payoutStatus = PayoutStatusCompleted
}

// MarkFailed 入金を打ち切ったことを記録
func (c *Claim) MarkFailed() {
	c.payoutStatus = PayoutStatusFailed
}

// PayoutTransactionID 入金に使う決定的なトランザクションID
func (c *Claim) PayoutTransactionID() string {
	return "payout_" + c.claimID
}

// ReserveTransactionID ギフト作成時の引き落としに使うトランザクションID
func ReserveTransactionID(voucherID string) string {
	return "reserve_" + voucherID
}

// RefundTransactionID 払い戻しに使うトランザクションID
func RefundTransactionID(voucherID string) string {
	return "refund_" + voucherID
}
