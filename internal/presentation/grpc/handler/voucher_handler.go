package handler

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	voucherapp "gift-server/internal/application/voucher"
	"gift-server/internal/domain/currency"
	"gift-server/internal/domain/sharelink"
	"gift-server/internal/domain/voucher"
	"gift-server/internal/presentation/grpc/interceptor"
)

// errorDomain ErrorInfo に載せるドメイン名
const errorDomain = "gift.v1"

// VoucherHandler gRPCギフトサービスハンドラー
type VoucherHandler struct {
	voucherService *voucherapp.VoucherApplicationService
	batchSize      int
}

// NewVoucherHandler 新しいVoucherHandlerを作成
func NewVoucherHandler(voucherService *voucherapp.VoucherApplicationService, batchSize int) *VoucherHandler {
	return &VoucherHandler{
		voucherService: voucherService,
		batchSize:      batchSize,
	}
}

// CreateVoucher ギフト作成
func (h *VoucherHandler) CreateVoucher(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	userID, err := requireUser(ctx)
	if err != nil {
		return nil, err
	}

	appReq := &voucherapp.CreateVoucherRequest{
		CreatorID:      userID,
		Symbol:         stringField(req, "symbol"),
		Mode:           stringField(req, "mode"),
		TotalPolicy:    stringField(req, "total_policy"),
		PerClaimAmount: stringField(req, "per_claim_amount"),
		TotalAmount:    stringField(req, "total_amount"),
		Message:        stringField(req, "message"),
		Public:         boolField(req, "public"),
	}
	if appReq.ClaimLimit, err = intField(req, "claim_limit"); err != nil {
		return nil, err
	}
	if appReq.TotalPeople, err = intField(req, "total_people"); err != nil {
		return nil, err
	}
	if appReq.MaxClaimsPerIdentity, err = intField(req, "max_claims_per_identity"); err != nil {
		return nil, err
	}
	if raw := stringField(req, "expires_at"); raw != "" {
		expiresAt, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return nil, status.Error(codes.InvalidArgument, "expires_at must be RFC3339")
		}
		appReq.ExpiresAt = &expiresAt
	}

	resp, err := h.voucherService.CreateVoucher(ctx, appReq)
	if err != nil {
		return nil, handleError(err)
	}

	return newStruct(map[string]interface{}{
		"voucher":   voucherFields(resp.Voucher),
		"share_uri": resp.ShareURI,
		"web_link":  resp.WebLink,
	})
}

// GetVoucher ギフト取得
func (h *VoucherHandler) GetVoucher(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	id, err := requireString(req, "id")
	if err != nil {
		return nil, err
	}

	view, err := h.voucherService.GetVoucher(ctx, id)
	if err != nil {
		return nil, handleError(err)
	}
	return newStruct(voucherFields(view))
}

// ClaimVoucher ギフト受取
// id の代わりに共有URI (uri) も受け付ける
func (h *VoucherHandler) ClaimVoucher(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	userID, err := requireUser(ctx)
	if err != nil {
		return nil, err
	}

	recipient := stringField(req, "recipient_address")
	if recipient == "" {
		recipient = userID
	}

	var resp *voucherapp.ClaimVoucherResponse
	if uri := stringField(req, "uri"); uri != "" {
		resp, err = h.voucherService.ClaimByURI(ctx, &voucherapp.ClaimByURIRequest{
			URI:              uri,
			ClaimantID:       userID,
			RecipientAddress: recipient,
		})
	} else {
		id, idErr := requireString(req, "id")
		if idErr != nil {
			return nil, idErr
		}
		resp, err = h.voucherService.ClaimVoucher(ctx, &voucherapp.ClaimVoucherRequest{
			VoucherID:        id,
			ClaimantID:       userID,
			RecipientAddress: recipient,
		})
	}
	if err != nil {
		return nil, handleError(err)
	}

	return newStruct(map[string]interface{}{
		"claim_id":       resp.ClaimID,
		"voucher_id":     resp.VoucherID,
		"amount":         resp.Amount,
		"symbol":         resp.Symbol,
		"payout_status":  resp.PayoutStatus,
		"voucher_status": resp.VoucherStatus,
	})
}

// EndVoucher ギフト終了
func (h *VoucherHandler) EndVoucher(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	userID, err := requireUser(ctx)
	if err != nil {
		return nil, err
	}
	id, err := requireString(req, "id")
	if err != nil {
		return nil, err
	}

	view, err := h.voucherService.EndVoucher(ctx, id, userID)
	if err != nil {
		return nil, handleError(err)
	}
	return newStruct(map[string]interface{}{
		"ok":      true,
		"voucher": voucherFields(view),
	})
}

// DeleteVoucher ギフト削除
func (h *VoucherHandler) DeleteVoucher(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	userID, err := requireUser(ctx)
	if err != nil {
		return nil, err
	}
	id, err := requireString(req, "id")
	if err != nil {
		return nil, err
	}

	if err := h.voucherService.DeleteVoucher(ctx, id, userID); err != nil {
		return nil, handleError(err)
	}
	return newStruct(map[string]interface{}{"ok": true})
}

// BuildClaimURI 共有URI生成
func (h *VoucherHandler) BuildClaimURI(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	id, err := requireString(req, "id")
	if err != nil {
		return nil, err
	}

	link, err := h.voucherService.BuildClaimURI(ctx, id)
	if err != nil {
		return nil, handleError(err)
	}
	return newStruct(map[string]interface{}{
		"voucher_id": link.VoucherID,
		"share_uri":  link.ShareURI,
		"web_link":   link.WebLink,
	})
}

// ParseClaimURI 共有URI解析
func (h *VoucherHandler) ParseClaimURI(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	uri, err := requireString(req, "uri")
	if err != nil {
		return nil, err
	}

	id, err := h.voucherService.ParseClaimURI(uri)
	if err != nil {
		return nil, handleError(err)
	}
	return newStruct(map[string]interface{}{"id": id})
}

// ExpireVouchers 期限切れギフトの処理（管理）
func (h *VoucherHandler) ExpireVouchers(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	limit, err := h.limit(req)
	if err != nil {
		return nil, err
	}

	result, err := h.voucherService.ExpireDueVouchers(ctx, limit)
	if err != nil {
		return nil, handleError(err)
	}
	return newStruct(map[string]interface{}{
		"expired":  result.Expired,
		"refunded": result.Refunded,
		"failed":   result.Failed,
	})
}

// RetryPayouts 入金・払い戻しの再送（管理）
func (h *VoucherHandler) RetryPayouts(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	limit, err := h.limit(req)
	if err != nil {
		return nil, err
	}

	result, err := h.voucherService.RetryPendingPayouts(ctx, limit)
	if err != nil {
		return nil, handleError(err)
	}
	return newStruct(map[string]interface{}{
		"payouts":   result.Payouts,
		"refunds":   result.Refunds,
		"failed":    result.Failed,
		"abandoned": result.Abandoned,
	})
}

func (h *VoucherHandler) limit(req *structpb.Struct) (int, error) {
	limit, err := intField(req, "limit")
	if err != nil {
		return 0, err
	}
	if limit <= 0 {
		return h.batchSize, nil
	}
	return limit, nil
}

// handleError エラーをgRPCステータスに変換
// 業務上の拒否は理由コードを ErrorInfo に載せる
func handleError(err error) error {
	if reason := voucher.Reason(err); reason != "" {
		return reasonStatus(reasonCode(reason), reason, err.Error())
	}

	switch {
	case errors.Is(err, sharelink.ErrInvalidShareURI):
		return reasonStatus(codes.InvalidArgument, "invalid_share_uri", err.Error())
	case errors.Is(err, currency.ErrInvalidAmount),
		errors.Is(err, currency.ErrInvalidSymbol),
		errors.Is(err, currency.ErrUnsupportedSymbol),
		errors.Is(err, currency.ErrInvalidOwner):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, "deadline exceeded")
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, "request canceled")
	}
	return status.Error(codes.Internal, "internal error")
}

func reasonCode(reason string) codes.Code {
	switch reason {
	case "voucher_not_found":
		return codes.NotFound
	case "validation_error":
		return codes.InvalidArgument
	case "forbidden":
		return codes.PermissionDenied
	case "contention":
		return codes.Unavailable
	}
	return codes.FailedPrecondition
}

func reasonStatus(code codes.Code, reason, message string) error {
	st := status.New(code, fmt.Sprintf("%s: %s", reason, message))
	detailed, err := st.WithDetails(&errdetails.ErrorInfo{
		Reason: reason,
		Domain: errorDomain,
	})
	if err != nil {
		return st.Err()
	}
	return detailed.Err()
}

// ReasonFromError gRPCエラーから理由コードを取り出す（クライアント・テスト用）
func ReasonFromError(err error) string {
	st, ok := status.FromError(err)
	if !ok {
		return ""
	}
	for _, d := range st.Details() {
		if info, ok := d.(*errdetails.ErrorInfo); ok && info.GetDomain() == errorDomain {
			return info.GetReason()
		}
	}
	return ""
}

func requireUser(ctx context.Context) (string, error) {
	userID := interceptor.UserIDFromContext(ctx)
	if userID == "" {
		return "", status.Error(codes.Unauthenticated, "user not authenticated")
	}
	return userID, nil
}

func requireString(req *structpb.Struct, key string) (string, error) {
	v := stringField(req, key)
	if v == "" {
		return "", status.Errorf(codes.InvalidArgument, "%s is required", key)
	}
	return v, nil
}

func stringField(req *structpb.Struct, key string) string {
	return req.GetFields()[key].GetStringValue()
}

func boolField(req *structpb.Struct, key string) bool {
	return req.GetFields()[key].GetBoolValue()
}

// intField 整数値のフィールド。未指定は0
func intField(req *structpb.Struct, key string) (int, error) {
	v, ok := req.GetFields()[key]
	if !ok {
		return 0, nil
	}
	n, ok := v.GetKind().(*structpb.Value_NumberValue)
	if !ok {
		return 0, status.Errorf(codes.InvalidArgument, "%s must be a number", key)
	}
	if n.NumberValue != math.Trunc(n.NumberValue) || math.Abs(n.NumberValue) > math.MaxInt32 {
		return 0, status.Errorf(codes.InvalidArgument, "%s must be an integer", key)
	}
	return int(n.NumberValue), nil
}

func voucherFields(v *voucherapp.VoucherView) map[string]interface{} {
	fields := map[string]interface{}{
		"id":                      v.ID,
		"creator_id":              v.CreatorID,
		"symbol":                  v.Symbol,
		"mode":                    v.Mode,
		"total_policy":            v.TotalPolicy,
		"per_claim_amount":        v.PerClaimAmount,
		"claim_limit":             v.ClaimLimit,
		"total_amount":            v.TotalAmount,
		"total_people":            v.TotalPeople,
		"max_claims_per_identity": v.MaxClaimsPerIdentity,
		"status":                  v.Status,
		"claimed_count":           v.ClaimedCount,
		"claimed_total":           v.ClaimedTotal,
		"remaining_amount":        v.RemainingAmount,
		"progress":                v.Progress,
		"message":                 v.Message,
		"public":                  v.Public,
		"refund_amount":           v.RefundAmount,
		"refund_status":           v.RefundStatus,
		"share_uri":               v.ShareURI,
		"created_at":              v.CreatedAt.Format(time.RFC3339Nano),
		"updated_at":              v.UpdatedAt.Format(time.RFC3339Nano),
	}
	if v.ExpiresAt != nil {
		fields["expires_at"] = v.ExpiresAt.Format(time.RFC3339Nano)
	}
	return fields
}

func newStruct(fields map[string]interface{}) (*structpb.Struct, error) {
	s, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "failed to build response: %v", err)
	}
	return s, nil
}
