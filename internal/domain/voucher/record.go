package voucher

import (
	"fmt"
	"time"

	"gift-server/internal/domain/currency"

	"github.com/shopspring/decimal"
)

// Record 永続化用のギフトのスナップショット
type Record struct {
	ID                   string          `json:"id"`
	CreatorID            string          `json:"creator_id"`
	Symbol               string          `json:"symbol"`
	Mode                 string          `json:"mode"`
	TotalPolicy          string          `json:"total_policy,omitempty"`
	PerClaimAmount       decimal.Decimal `json:"per_claim_amount"`
	ClaimLimit           int             `json:"claim_limit"`
	TotalAmount          decimal.Decimal `json:"total_amount"`
	TotalPeople          int             `json:"total_people,omitempty"`
	MaxClaimsPerIdentity int             `json:"max_claims_per_identity"`
	ExpiresAt            *time.Time      `json:"expires_at,omitempty"`
	Status               string          `json:"status"`
	ClaimedCount         int             `json:"claimed_count"`
	ClaimedTotal         decimal.Decimal `json:"claimed_total"`
	Claimants            map[string]int  `json:"claimants"`
	Message              string          `json:"message,omitempty"`
	Public               bool            `json:"public"`
	RefundAmount         decimal.Decimal `json:"refund_amount"`
	RefundStatus         string          `json:"refund_status"`
	Version              int             `json:"version"`
	CreatedAt            time.Time       `json:"created_at"`
	UpdatedAt            time.Time       `json:"updated_at"`
}

// Record 永続化用のスナップショットを作成
func (v *Voucher) Record() Record {
	var expiresAt *time.Time
	if v.expiresAt != nil {
		t := *v.expiresAt
		expiresAt = &t
	}
	return Record{
		ID:                   v.id,
		CreatorID:            v.creatorID,
		Symbol:               v.symbol.String(),
		Mode:                 v.mode.String(),
		TotalPolicy:          v.totalPolicy.String(),
		PerClaimAmount:       v.perClaimAmount,
		ClaimLimit:           v.claimLimit,
		TotalAmount:          v.totalAmount,
		TotalPeople:          v.totalPeople,
		MaxClaimsPerIdentity: v.maxClaimsPerIdentity,
		ExpiresAt:            expiresAt,
		Status:               v.status.String(),
		ClaimedCount:         v.claimedCount,
		ClaimedTotal:         v.claimedTotal,
		Claimants:            v.Claimants(),
		Message:              v.message,
		Public:               v.public,
		RefundAmount:         v.refundAmount,
		RefundStatus:         v.refundStatus.String(),
		Version:              v.version,
		CreatedAt:            v.createdAt,
		UpdatedAt:            v.updatedAt,
	}
}

// Restore スナップショットからギフトを復元
func Restore(r Record) (*Voucher, error) {
	symbol, err := currency.NewSymbol(r.Symbol)
	if err != nil {
		return nil, err
	}
	mode, err := NewMode(r.Mode)
	if err != nil {
		return nil, err
	}
	policy, err := NewTotalPolicy(r.TotalPolicy)
	if err != nil {
		return nil, err
	}
	status, err := NewStatus(r.Status)
	if err != nil {
		return nil, err
	}
	refundStatus := RefundStatusNone
	if r.RefundStatus != "" {
		refundStatus, err = NewRefundStatus(r.RefundStatus)
		if err != nil {
			return nil, err
		}
	}
	if r.ClaimLimit < 1 {
		return nil, fmt.Errorf("invalid claim limit in record %s: %d", r.ID, r.ClaimLimit)
	}

	claimants := make(map[string]int, len(r.Claimants))
	for k, n := range r.Claimants {
		claimants[k] = n
	}
	var expiresAt *time.Time
	if r.ExpiresAt != nil {
		t := *r.ExpiresAt
		expiresAt = &t
	}

	return &Voucher{
		id:                   r.ID,
		creatorID:            r.CreatorID,
		symbol:               symbol,
		mode:                 mode,
		totalPolicy:          policy,
		perClaimAmount:       r.PerClaimAmount,
		claimLimit:           r.ClaimLimit,
		totalAmount:          r.TotalAmount,
		totalPeople:          r.TotalPeople,
		maxClaimsPerIdentity: r.MaxClaimsPerIdentity,
		expiresAt:            expiresAt,
		status:               status,
		claimedCount:         r.ClaimedCount,
		claimedTotal:         r.ClaimedTotal,
		claimants:            claimants,
		message:              r.Message,
		public:               r.Public,
		refundAmount:         r.RefundAmount,
		refundStatus:         refundStatus,
		version:              r.Version,
		createdAt:            r.CreatedAt,
		updatedAt:            r.UpdatedAt,
	}, nil
}

// ClaimRecord 永続化用の受取記録のスナップショット
type ClaimRecord struct {
	ClaimID          string          `json:"claim_id"`
	VoucherID        string          `json:"voucher_id"`
	ClaimantID       string          `json:"claimant_id"`
	RecipientAddress string          `json:"recipient_address"`
	Symbol           string          `json:"symbol"`
	Amount           decimal.Decimal `json:"amount"`
	PayoutStatus     string          `json:"payout_status"`
	ClaimedAt        time.Time       `json:"claimed_at"`
}

// Record 永続化用のスナップショットを作成
func (c *Claim) Record() ClaimRecord {
	return ClaimRecord{
		ClaimID:          c.claimID,
		VoucherID:        c.voucherID,
		ClaimantID:       c.claimantID,
		RecipientAddress: c.recipientAddress,
		Symbol:           c.symbol.String(),
		Amount:           c.amount,
		PayoutStatus:     c.payoutStatus.String(),
		ClaimedAt:        c.claimedAt,
	}
}

// RestoreClaim スナップショットから受取記録を復元
func RestoreClaim(r ClaimRecord) (*Claim, error) {
	symbol, err := currency.NewSymbol(r.Symbol)
	if err != nil {
		return nil, err
	}
	status, err := NewPayoutStatus(r.PayoutStatus)
	if err != nil {
		return nil, err
	}
	return &Claim{
		claimID:          r.ClaimID,
		voucherID:        r.VoucherID,
		claimantID:       r.ClaimantID,
		recipientAddress: r.RecipientAddress,
		symbol:           symbol,
		amount:           r.Amount,
		payoutStatus:     status,
		claimedAt:        r.ClaimedAt,
	}, nil
}
