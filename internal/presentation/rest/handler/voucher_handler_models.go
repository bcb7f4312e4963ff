package handler

import (
	"time"

	voucherapp "gift-server/internal/application/voucher"
)

// CreateVoucherRequest ギフト作成リクエスト
// @Description ギフト作成リクエスト。金額は10進数文字列
type CreateVoucherRequest struct {
	Symbol               string     `json:"symbol" example:"USDT"`
	Mode                 string     `json:"mode" example:"total" enums:"per_claim,total"`
	TotalPolicy          string     `json:"total_policy,omitempty" example:"equal" enums:"all,equal"`
	PerClaimAmount       string     `json:"per_claim_amount,omitempty" example:"1.5"`
	ClaimLimit           int        `json:"claim_limit,omitempty" example:"10"`
	TotalAmount          string     `json:"total_amount,omitempty" example:"100"`
	TotalPeople          int        `json:"total_people,omitempty" example:"3"`
	MaxClaimsPerIdentity int        `json:"max_claims_per_identity,omitempty" example:"1"`
	ExpiresAt            *time.Time `json:"expires_at,omitempty" example:"2026-03-01T00:00:00Z"`
	Message              string     `json:"message,omitempty" example:"Happy new year"`
	Public               bool       `json:"public" example:"false"`
}

// VoucherResponse ギフト
// @Description ギフト
type VoucherResponse struct {
	ID                   string     `json:"id" example:"0b9f2c1e-6a1d-4d8e-9b61-2f7d0c8a9e31"`
	CreatorID            string     `json:"creator_id" example:"alice"`
	Symbol               string     `json:"symbol" example:"USDT"`
	Mode                 string     `json:"mode" example:"total"`
	TotalPolicy          string     `json:"total_policy,omitempty" example:"equal"`
	PerClaimAmount       string     `json:"per_claim_amount" example:"33.333333"`
	ClaimLimit           int        `json:"claim_limit" example:"3"`
	TotalAmount          string     `json:"total_amount" example:"100"`
	TotalPeople          int        `json:"total_people" example:"3"`
	MaxClaimsPerIdentity int        `json:"max_claims_per_identity" example:"1"`
	ExpiresAt            *time.Time `json:"expires_at,omitempty"`
	Status               string     `json:"status" example:"active"`
	ClaimedCount         int        `json:"claimed_count" example:"1"`
	ClaimedTotal         string     `json:"claimed_total" example:"33.333333"`
	RemainingAmount      string     `json:"remaining_amount" example:"66.666667"`
	Progress             float64    `json:"progress" example:"0.333333"`
	Message              string     `json:"message,omitempty"`
	Public               bool       `json:"public"`
	RefundAmount         string     `json:"refund_amount" example:"0"`
	RefundStatus         string     `json:"refund_status" example:"none"`
	ShareURI             string     `json:"share_uri" example:"gift://voucher/0b9f2c1e-6a1d-4d8e-9b61-2f7d0c8a9e31"`
	CreatedAt            time.Time  `json:"created_at"`
	UpdatedAt            time.Time  `json:"updated_at"`
}

// CreateVoucherResponse ギフト作成レスポンス
// @Description ギフト作成レスポンス
type CreateVoucherResponse struct {
	Voucher  VoucherResponse `json:"voucher"`
	ShareURI string          `json:"share_uri" example:"gift://voucher/0b9f2c1e-6a1d-4d8e-9b61-2f7d0c8a9e31"`
	WebLink  string          `json:"web_link,omitempty" example:"https://gift.example.com/v/0b9f2c1e-6a1d-4d8e-9b61-2f7d0c8a9e31"`
}

// VoucherListResponse ギフト一覧レスポンス
// @Description ギフト一覧レスポンス
type VoucherListResponse struct {
	Vouchers []VoucherResponse `json:"vouchers"`
	Limit    int               `json:"limit" example:"50"`
	Offset   int               `json:"offset" example:"0"`
}

// ClaimVoucherRequest 受取リクエスト
// @Description 受取リクエスト。recipient_address を省略するとトークンのユーザーに入金
type ClaimVoucherRequest struct {
	RecipientAddress string `json:"recipient_address,omitempty" example:"bob"`
}

// ClaimByURIRequest 共有URIでの受取リクエスト
// @Description 共有URIでの受取リクエスト
type ClaimByURIRequest struct {
	URI              string `json:"uri" example:"gift://voucher/0b9f2c1e-6a1d-4d8e-9b61-2f7d0c8a9e31"`
	RecipientAddress string `json:"recipient_address,omitempty" example:"bob"`
}

// ClaimVoucherResponse 受取レスポンス
// @Description 受取レスポンス。入金が遅延した場合 payout_status は pending
type ClaimVoucherResponse struct {
	ClaimID       string `json:"claim_id" example:"5f0c1d2e-3a4b-4c5d-8e9f-0a1b2c3d4e5f"`
	VoucherID     string `json:"voucher_id" example:"0b9f2c1e-6a1d-4d8e-9b61-2f7d0c8a9e31"`
	Amount        string `json:"amount" example:"33.333333"`
	Symbol        string `json:"symbol" example:"USDT"`
	PayoutStatus  string `json:"payout_status" example:"completed"`
	VoucherStatus string `json:"voucher_status" example:"active"`
}

// ClaimItem 受取記録
// @Description 受取記録
type ClaimItem struct {
	ClaimID          string    `json:"claim_id"`
	ClaimantID       string    `json:"claimant_id" example:"bob"`
	RecipientAddress string    `json:"recipient_address" example:"bob"`
	Symbol           string    `json:"symbol" example:"USDT"`
	Amount           string    `json:"amount" example:"33.333333"`
	PayoutStatus     string    `json:"payout_status" example:"completed"`
	ClaimedAt        time.Time `json:"claimed_at"`
}

// ClaimListResponse 受取記録一覧レスポンス
// @Description 受取記録一覧レスポンス
type ClaimListResponse struct {
	VoucherID string      `json:"voucher_id"`
	Claims    []ClaimItem `json:"claims"`
}

// ShareLinkResponse 共有リンクレスポンス
// @Description 共有リンクレスポンス
type ShareLinkResponse struct {
	VoucherID string `json:"voucher_id"`
	ShareURI  string `json:"share_uri" example:"gift://voucher/0b9f2c1e-6a1d-4d8e-9b61-2f7d0c8a9e31"`
	WebLink   string `json:"web_link,omitempty"`
}

// ParseURIRequest 共有URI解析リクエスト
// @Description 共有URI解析リクエスト
type ParseURIRequest struct {
	URI string `json:"uri" example:"gift://voucher/0b9f2c1e-6a1d-4d8e-9b61-2f7d0c8a9e31"`
}

// ParseURIResponse 共有URI解析レスポンス
// @Description 共有URI解析レスポンス
type ParseURIResponse struct {
	ID string `json:"id" example:"0b9f2c1e-6a1d-4d8e-9b61-2f7d0c8a9e31"`
}

func toVoucherResponse(v *voucherapp.VoucherView) VoucherResponse {
	return VoucherResponse{
		ID:                   v.ID,
		CreatorID:            v.CreatorID,
		Symbol:               v.Symbol,
		Mode:                 v.Mode,
		TotalPolicy:          v.TotalPolicy,
		PerClaimAmount:       v.PerClaimAmount,
		ClaimLimit:           v.ClaimLimit,
		TotalAmount:          v.TotalAmount,
		TotalPeople:          v.TotalPeople,
		MaxClaimsPerIdentity: v.MaxClaimsPerIdentity,
		ExpiresAt:            v.ExpiresAt,
		Status:               v.Status,
		ClaimedCount:         v.ClaimedCount,
		ClaimedTotal:         v.ClaimedTotal,
		RemainingAmount:      v.RemainingAmount,
		Progress:             v.Progress,
		Message:              v.Message,
		Public:               v.Public,
		RefundAmount:         v.RefundAmount,
		RefundStatus:         v.RefundStatus,
		ShareURI:             v.ShareURI,
		CreatedAt:            v.CreatedAt,
		UpdatedAt:            v.UpdatedAt,
	}
}

func toVoucherListResponse(views []*voucherapp.VoucherView, limit, offset int) VoucherListResponse {
	vouchers := make([]VoucherResponse, len(views))
	for i, v := range views {
		vouchers[i] = toVoucherResponse(v)
	}
	return VoucherListResponse{Vouchers: vouchers, Limit: limit, Offset: offset}
}

func toClaimVoucherResponse(r *voucherapp.ClaimVoucherResponse) ClaimVoucherResponse {
	return ClaimVoucherResponse{
		ClaimID:       r.ClaimID,
		VoucherID:     r.VoucherID,
		Amount:        r.Amount,
		Symbol:        r.Symbol,
		PayoutStatus:  r.PayoutStatus,
		VoucherStatus: r.VoucherStatus,
	}
}
