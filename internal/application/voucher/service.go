// Package voucher ギフトの作成・受取・終了を扱うアプリケーションサービス
package voucher

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"gift-server/internal/domain/currency"
	"gift-server/internal/domain/sharelink"
	"gift-server/internal/domain/voucher"
	"gift-server/internal/infrastructure/clock"
	otelinfra "gift-server/internal/infrastructure/observability/otel"
)

// Settings サービスの動作設定
type Settings struct {
	MaxRetries     int           // 競合時の最大試行回数
	RetryBaseDelay time.Duration // 指数バックオフの初期値
	MaxClaimLimit  int           // 受取枠・人数の上限
}

// VoucherApplicationService ギフトアプリケーションサービス
type VoucherApplicationService struct {
	repo           voucher.VoucherRepository
	gateway        voucher.BalanceGateway
	codec          *sharelink.Codec
	registry       *currency.Registry
	clock          clock.Clock
	logger         *otelinfra.Logger
	metrics        *otelinfra.Metrics
	tracer         trace.Tracer
	maxRetries     int
	retryBaseDelay time.Duration
	maxClaimLimit  int
	newID          func() string
}

// NewVoucherApplicationService 新しいVoucherApplicationServiceを作成
func NewVoucherApplicationService(
	repo voucher.VoucherRepository,
	gateway voucher.BalanceGateway,
	codec *sharelink.Codec,
	registry *currency.Registry,
	clk clock.Clock,
	logger *otelinfra.Logger,
	metrics *otelinfra.Metrics,
	settings Settings,
) *VoucherApplicationService {
	if settings.MaxRetries < 1 {
		settings.MaxRetries = 5
	}
	if settings.RetryBaseDelay < 0 {
		settings.RetryBaseDelay = 0
	}
	return &VoucherApplicationService{
		repo:           repo,
		gateway:        gateway,
		codec:          codec,
		registry:       registry,
		clock:          clk,
		logger:         logger,
		metrics:        metrics,
		tracer:         otel.Tracer("voucher-service"),
		maxRetries:     settings.MaxRetries,
		retryBaseDelay: settings.RetryBaseDelay,
		maxClaimLimit:  settings.MaxClaimLimit,
		newID:          func() string { return uuid.New().String() },
	}
}

// CreateVoucher ギフトを作成する
// 総額を作成者の残高から引き当ててから保存し、保存に失敗した場合は引き当てを戻す
func (s *VoucherApplicationService) CreateVoucher(ctx context.Context, req *CreateVoucherRequest) (*CreateVoucherResponse, error) {
	ctx, span := s.tracer.Start(ctx, "VoucherApplicationService.CreateVoucher")
	defer span.End()

	span.SetAttributes(
		attribute.String("creator_id", req.CreatorID),
		attribute.String("symbol", req.Symbol),
		attribute.String("mode", req.Mode),
	)

	params, err := s.toParams(req)
	if err != nil {
		s.fail(ctx, span, "Invalid voucher parameters", err, map[string]interface{}{
			"creator_id": req.CreatorID,
		})
		return nil, err
	}

	v, err := voucher.NewVoucher(params, s.registry, s.clock.Now(), s.maxClaimLimit)
	if err != nil {
		s.fail(ctx, span, "Invalid voucher parameters", err, map[string]interface{}{
			"creator_id": req.CreatorID,
		})
		return nil, err
	}
	span.SetAttributes(attribute.String("voucher_id", v.ID()))

	s.logger.Info(ctx, "Creating voucher", map[string]interface{}{
		"voucher_id":   v.ID(),
		"creator_id":   v.CreatorID(),
		"symbol":       v.Symbol().String(),
		"mode":         v.Mode().String(),
		"total_amount": v.TotalAmount().String(),
		"claim_limit":  v.ClaimLimit(),
	})

	if err := s.gateway.Debit(ctx, v.CreatorID(), v.Symbol(), v.TotalAmount(), voucher.ReserveTransactionID(v.ID())); err != nil {
		if !errors.Is(err, currency.ErrInsufficientBalance) {
			err = fmt.Errorf("failed to reserve voucher funds: %w", err)
		}
		s.fail(ctx, span, "Failed to reserve voucher funds", err, map[string]interface{}{
			"voucher_id": v.ID(),
			"creator_id": v.CreatorID(),
		})
		return nil, err
	}

	if err := s.repo.Create(ctx, v); err != nil {
		// 引き当てを戻す
		if refundErr := s.gateway.Credit(ctx, v.CreatorID(), v.Symbol(), v.TotalAmount(), voucher.RefundTransactionID(v.ID())); refundErr != nil {
			s.logger.Error(ctx, "Failed to release reservation", refundErr, map[string]interface{}{
				"voucher_id": v.ID(),
				"creator_id": v.CreatorID(),
				"amount":     v.TotalAmount().String(),
			})
		}
		err = fmt.Errorf("failed to create voucher: %w", err)
		s.fail(ctx, span, "Failed to create voucher", err, map[string]interface{}{
			"voucher_id": v.ID(),
		})
		return nil, err
	}

	s.metrics.RecordVoucherCreated(ctx, v.Mode().String(), v.Symbol().String())
	s.logger.Info(ctx, "Voucher created successfully", map[string]interface{}{
		"voucher_id": v.ID(),
	})

	return &CreateVoucherResponse{
		Voucher:  toVoucherView(v, s.codec),
		ShareURI: s.codec.Encode(v.ID()),
		WebLink:  s.codec.WebLink(v.ID()),
	}, nil
}

func (s *VoucherApplicationService) toParams(req *CreateVoucherRequest) (voucher.Params, error) {
	symbol, err := currency.NewSymbol(req.Symbol)
	if err != nil {
		return voucher.Params{}, fmt.Errorf("%w: %v", voucher.ErrValidation, err)
	}
	mode, err := voucher.NewMode(req.Mode)
	if err != nil {
		return voucher.Params{}, fmt.Errorf("%w: %v", voucher.ErrValidation, err)
	}
	policy, err := voucher.NewTotalPolicy(req.TotalPolicy)
	if err != nil {
		return voucher.Params{}, fmt.Errorf("%w: %v", voucher.ErrValidation, err)
	}
	perClaim, err := parseAmount("per_claim_amount", req.PerClaimAmount)
	if err != nil {
		return voucher.Params{}, err
	}
	total, err := parseAmount("total_amount", req.TotalAmount)
	if err != nil {
		return voucher.Params{}, err
	}

	return voucher.Params{
		ID:                   s.newID(),
		CreatorID:            req.CreatorID,
		Symbol:               symbol,
		Mode:                 mode,
		TotalPolicy:          policy,
		PerClaimAmount:       perClaim,
		ClaimLimit:           req.ClaimLimit,
		TotalAmount:          total,
		TotalPeople:          req.TotalPeople,
		MaxClaimsPerIdentity: req.MaxClaimsPerIdentity,
		ExpiresAt:            req.ExpiresAt,
		Message:              req.Message,
		Public:               req.Public,
	}, nil
}

func parseAmount(field, raw string) (decimal.Decimal, error) {
	if raw == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: invalid %s %q", voucher.ErrValidation, field, raw)
	}
	return d, nil
}

// GetVoucher ギフトを取得
func (s *VoucherApplicationService) GetVoucher(ctx context.Context, id string) (*VoucherView, error) {
	ctx, span := s.tracer.Start(ctx, "VoucherApplicationService.GetVoucher")
	defer span.End()

	span.SetAttributes(attribute.String("voucher_id", id))

	v, err := s.repo.FindByID(ctx, id)
	if err != nil {
		s.fail(ctx, span, "Failed to get voucher", err, map[string]interface{}{
			"voucher_id": id,
		})
		return nil, err
	}
	return toVoucherView(v, s.codec), nil
}

// ClaimVoucher ギフトを受け取る
// 判定と記録は最新のギフトに対して1回の書き込みで行い、競合した場合は読み直してやり直す
func (s *VoucherApplicationService) ClaimVoucher(ctx context.Context, req *ClaimVoucherRequest) (*ClaimVoucherResponse, error) {
	ctx, span := s.tracer.Start(ctx, "VoucherApplicationService.ClaimVoucher")
	defer span.End()

	span.SetAttributes(
		attribute.String("voucher_id", req.VoucherID),
		attribute.String("claimant_id", req.ClaimantID),
	)

	claimID := s.newID()
	var claim *voucher.Claim
	v, err := s.update(ctx, "claim", req.VoucherID, func(v *voucher.Voucher) (bool, error) {
		claim = nil
		now := s.clock.Now()
		c, err := v.Claim(req.ClaimantID, req.RecipientAddress, now, claimID)
		if err != nil {
			// 期限切れはこの場で確定させる
			if errors.Is(err, voucher.ErrExpired) && v.ExpireIfDue(now) {
				return true, err
			}
			return false, err
		}
		claim = c
		return true, nil
	})
	if err != nil {
		if errors.Is(err, voucher.ErrExpired) && v != nil {
			s.deliverRefund(ctx, v, "expired")
		}
		if reason := voucher.Reason(err); reason != "" {
			s.metrics.RecordClaim(ctx, reason)
		}
		s.fail(ctx, span, "Claim rejected", err, map[string]interface{}{
			"voucher_id":  req.VoucherID,
			"claimant_id": req.ClaimantID,
		})
		return nil, err
	}

	s.metrics.RecordClaim(ctx, "success")
	amount, _ := claim.Amount().Float64()
	s.metrics.RecordPayout(ctx, claim.Symbol().String(), amount)
	s.logger.Info(ctx, "Voucher claimed", map[string]interface{}{
		"voucher_id":     v.ID(),
		"claim_id":       claim.ClaimID(),
		"claimant_id":    claim.ClaimantID(),
		"amount":         claim.Amount().String(),
		"claimed_count":  v.ClaimedCount(),
		"voucher_status": v.Status().String(),
	})

	payoutStatus := s.deliverPayout(ctx, claim)

	return &ClaimVoucherResponse{
		ClaimID:       claim.ClaimID(),
		VoucherID:     v.ID(),
		Amount:        claim.Amount().String(),
		Symbol:        claim.Symbol().String(),
		PayoutStatus:  payoutStatus.String(),
		VoucherStatus: v.Status().String(),
	}, nil
}

// ClaimByURI 共有URIからギフトを受け取る
func (s *VoucherApplicationService) ClaimByURI(ctx context.Context, req *ClaimByURIRequest) (*ClaimVoucherResponse, error) {
	id, err := s.ParseClaimURI(req.URI)
	if err != nil {
		return nil, err
	}
	return s.ClaimVoucher(ctx, &ClaimVoucherRequest{
		VoucherID:        id,
		ClaimantID:       req.ClaimantID,
		RecipientAddress: req.RecipientAddress,
	})
}

// ListVouchersByCreator 作成者のギフト一覧
func (s *VoucherApplicationService) ListVouchersByCreator(ctx context.Context, creatorID string, limit, offset int) ([]*VoucherView, error) {
	ctx, span := s.tracer.Start(ctx, "VoucherApplicationService.ListVouchersByCreator")
	defer span.End()

	span.SetAttributes(
		attribute.String("creator_id", creatorID),
		attribute.Int("limit", limit),
		attribute.Int("offset", offset),
	)

	vs, err := s.repo.FindByCreator(ctx, creatorID, limit, offset)
	if err != nil {
		err = fmt.Errorf("failed to list vouchers: %w", err)
		s.fail(ctx, span, "Failed to list vouchers", err, map[string]interface{}{
			"creator_id": creatorID,
		})
		return nil, err
	}
	return toVoucherViews(vs, s.codec), nil
}

// ListActivePublicVouchers 公開中のギフト一覧
func (s *VoucherApplicationService) ListActivePublicVouchers(ctx context.Context, limit, offset int) ([]*VoucherView, error) {
	ctx, span := s.tracer.Start(ctx, "VoucherApplicationService.ListActivePublicVouchers")
	defer span.End()

	vs, err := s.repo.FindActivePublic(ctx, limit, offset)
	if err != nil {
		err = fmt.Errorf("failed to list public vouchers: %w", err)
		s.fail(ctx, span, "Failed to list public vouchers", err, nil)
		return nil, err
	}
	return toVoucherViews(vs, s.codec), nil
}

// ListClaims ギフトの受取記録一覧
func (s *VoucherApplicationService) ListClaims(ctx context.Context, voucherID string) ([]*ClaimView, error) {
	ctx, span := s.tracer.Start(ctx, "VoucherApplicationService.ListClaims")
	defer span.End()

	span.SetAttributes(attribute.String("voucher_id", voucherID))

	if _, err := s.repo.FindByID(ctx, voucherID); err != nil {
		s.fail(ctx, span, "Failed to get voucher", err, map[string]interface{}{
			"voucher_id": voucherID,
		})
		return nil, err
	}

	claims, err := s.repo.FindClaims(ctx, voucherID)
	if err != nil {
		err = fmt.Errorf("failed to list claims: %w", err)
		s.fail(ctx, span, "Failed to list claims", err, map[string]interface{}{
			"voucher_id": voucherID,
		})
		return nil, err
	}

	views := make([]*ClaimView, 0, len(claims))
	for _, c := range claims {
		views = append(views, toClaimView(c))
	}
	return views, nil
}

// BuildClaimURI 既存ギフトの共有リンクを返す
func (s *VoucherApplicationService) BuildClaimURI(ctx context.Context, voucherID string) (*ShareLinkResponse, error) {
	if _, err := s.repo.FindByID(ctx, voucherID); err != nil {
		return nil, err
	}
	return &ShareLinkResponse{
		VoucherID: voucherID,
		ShareURI:  s.codec.Encode(voucherID),
		WebLink:   s.codec.WebLink(voucherID),
	}, nil
}

// ParseClaimURI 共有URIからギフトIDを取り出す
func (s *VoucherApplicationService) ParseClaimURI(uri string) (string, error) {
	return s.codec.Decode(uri)
}

// update 競合時に読み直しながら Update を実行する
func (s *VoucherApplicationService) update(ctx context.Context, operation, id string, fn voucher.UpdateFunc) (*voucher.Voucher, error) {
	for attempt := 0; attempt < s.maxRetries; attempt++ {
		if attempt > 0 {
			// 指数バックオフ
			backoff := time.Duration(math.Pow(2, float64(attempt-1))) * s.retryBaseDelay
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
			s.metrics.RecordRetry(ctx, operation)
		}

		v, err := s.repo.Update(ctx, id, fn)
		if !errors.Is(err, voucher.ErrConflict) {
			return v, err
		}
	}
	return nil, fmt.Errorf("%w: %s on %s after %d attempts", voucher.ErrContention, operation, id, s.maxRetries)
}

// fail スパンにエラーを記録してログを出す
// 業務上の拒否はWarn、それ以外はErrorとして扱う
func (s *VoucherApplicationService) fail(ctx context.Context, span trace.Span, message string, err error, fields map[string]interface{}) {
	span.RecordError(err)
	span.SetStatus(otelcodes.Error, err.Error())

	if fields == nil {
		fields = make(map[string]interface{})
	}
	if reason := voucher.Reason(err); reason != "" {
		fields["reason"] = reason
		fields["error"] = err.Error()
		s.logger.Warn(ctx, message, fields)
		return
	}
	s.logger.Error(ctx, message, err, fields)
	s.metrics.RecordError(ctx, "voucher_internal")
}
