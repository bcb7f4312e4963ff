package voucher

import (
	"time"

	"gift-server/internal/domain/sharelink"
	"gift-server/internal/domain/voucher"
)

// CreateVoucherRequest ギフト作成リクエスト
// 金額は10進数文字列（空文字はゼロ扱い）
type CreateVoucherRequest struct {
	CreatorID            string
	Symbol               string
	Mode                 string // "per_claim" or "total"
	TotalPolicy          string // "all", "equal"（totalのみ）
	PerClaimAmount       string
	ClaimLimit           int
	TotalAmount          string
	TotalPeople          int
	MaxClaimsPerIdentity int
	ExpiresAt            *time.Time
	Message              string
	Public               bool
}

// CreateVoucherResponse ギフト作成レスポンス
type CreateVoucherResponse struct {
	Voucher  *VoucherView
	ShareURI string
	WebLink  string
}

// ClaimVoucherRequest 受取リクエスト
type ClaimVoucherRequest struct {
	VoucherID        string
	ClaimantID       string
	RecipientAddress string
}

// ClaimByURIRequest 共有URIでの受取リクエスト
type ClaimByURIRequest struct {
	URI              string
	ClaimantID       string
	RecipientAddress string
}

// ClaimVoucherResponse 受取レスポンス
// 入金に失敗した場合も受取自体は成立しており、PayoutStatus が pending になる
type ClaimVoucherResponse struct {
	ClaimID       string
	VoucherID     string
	Amount        string
	Symbol        string
	PayoutStatus  string
	VoucherStatus string
}

// ShareLinkResponse 共有リンク
type ShareLinkResponse struct {
	VoucherID string
	ShareURI  string
	WebLink   string
}

// SweepResult 期限切れ処理の結果
type SweepResult struct {
	Expired  int
	Refunded int
	Failed   int
}

// RetryResult 入金・払い戻しの再送結果
// Failed は次回再送する件数、Abandoned は再送しても成功しないため打ち切った件数
type RetryResult struct {
	Payouts   int
	Refunds   int
	Failed    int
	Abandoned int
}

// VoucherView ギフトの表示用データ
type VoucherView struct {
	ID                   string
	CreatorID            string
	Symbol               string
	Mode                 string
	TotalPolicy          string
	PerClaimAmount       string
	ClaimLimit           int
	TotalAmount          string
	TotalPeople          int
	MaxClaimsPerIdentity int
	ExpiresAt            *time.Time
	Status               string
	ClaimedCount         int
	ClaimedTotal         string
	RemainingAmount      string
	Progress             float64
	Message              string
	Public               bool
	RefundAmount         string
	RefundStatus         string
	ShareURI             string
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// ClaimView 受取記録の表示用データ
type ClaimView struct {
	ClaimID          string
	VoucherID        string
	ClaimantID       string
	RecipientAddress string
	Symbol           string
	Amount           string
	PayoutStatus     string
	ClaimedAt        time.Time
}

func toVoucherView(v *voucher.Voucher, codec *sharelink.Codec) *VoucherView {
	return &VoucherView{
		ID:                   v.ID(),
		CreatorID:            v.CreatorID(),
		Symbol:               v.Symbol().String(),
		Mode:                 v.Mode().String(),
		TotalPolicy:          v.TotalPolicy().String(),
		PerClaimAmount:       v.PerClaimAmount().String(),
		ClaimLimit:           v.ClaimLimit(),
		TotalAmount:          v.TotalAmount().String(),
		TotalPeople:          v.TotalPeople(),
		MaxClaimsPerIdentity: v.MaxClaimsPerIdentity(),
		ExpiresAt:            v.ExpiresAt(),
		Status:               v.Status().String(),
		ClaimedCount:         v.ClaimedCount(),
		ClaimedTotal:         v.ClaimedTotal().String(),
		RemainingAmount:      v.RemainingAmount().String(),
		Progress:             v.Progress(),
		Message:              v.Message(),
		Public:               v.Public(),
		RefundAmount:         v.RefundAmount().String(),
		RefundStatus:         v.RefundStatus().String(),
		ShareURI:             codec.Encode(v.ID()),
		CreatedAt:            v.CreatedAt(),
		UpdatedAt:            v.UpdatedAt(),
	}
}

func toVoucherViews(vs []*voucher.Voucher, codec *sharelink.Codec) []*VoucherView {
	views := make([]*VoucherView, 0, len(vs))
	for _, v := range vs {
		views = append(views, toVoucherView(v, codec))
	}
	return views
}

func toClaimView(c *voucher.Claim) *ClaimView {
	return &ClaimView{
		ClaimID:          c.ClaimID(),
		VoucherID:        c.VoucherID(),
		ClaimantID:       c.ClaimantID(),
		RecipientAddress: c.RecipientAddress(),
		Symbol:           c.Symbol().String(),
		Amount:           c.Amount().String(),
		PayoutStatus:     c.PayoutStatus().String(),
		ClaimedAt:        c.ClaimedAt(),
	}
}
