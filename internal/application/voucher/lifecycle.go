package voucher

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"

	"gift-server/internal/domain/currency"
	"gift-server/internal/domain/transaction"
	"gift-server/internal/domain/voucher"
)

// EndVoucher 作成者がギフトを終了し、未受取分を払い戻す
func (s *VoucherApplicationService) EndVoucher(ctx context.Context, voucherID, requesterID string) (*VoucherView, error) {
	ctx, span := s.tracer.Start(ctx, "VoucherApplicationService.EndVoucher")
	defer span.End()

	span.SetAttributes(
		attribute.String("voucher_id", voucherID),
		attribute.String("requester_id", requesterID),
	)

	v, err := s.update(ctx, "end", voucherID, func(v *voucher.Voucher) (bool, error) {
		if err := v.End(requesterID, s.clock.Now()); err != nil {
			return false, err
		}
		return true, nil
	})
	if err != nil {
		s.fail(ctx, span, "Failed to end voucher", err, map[string]interface{}{
			"voucher_id":   voucherID,
			"requester_id": requesterID,
		})
		return nil, err
	}

	s.logger.Info(ctx, "Voucher ended", map[string]interface{}{
		"voucher_id":    v.ID(),
		"claimed_count": v.ClaimedCount(),
		"refund_amount": v.RefundAmount().String(),
	})

	if refunded := s.deliverRefund(ctx, v, "cancelled"); refunded != nil {
		v = refunded
	}
	return toVoucherView(v, s.codec), nil
}

// DeleteVoucher 終了済みで払い戻しの済んだギフトを削除する
func (s *VoucherApplicationService) DeleteVoucher(ctx context.Context, voucherID, requesterID string) error {
	ctx, span := s.tracer.Start(ctx, "VoucherApplicationService.DeleteVoucher")
	defer span.End()

	span.SetAttributes(
		attribute.String("voucher_id", voucherID),
		attribute.String("requester_id", requesterID),
	)
	fields := map[string]interface{}{
		"voucher_id":   voucherID,
		"requester_id": requesterID,
	}

	v, err := s.repo.FindByID(ctx, voucherID)
	if err != nil {
		s.fail(ctx, span, "Failed to delete voucher", err, fields)
		return err
	}
	if err := v.CanDelete(requesterID); err != nil {
		s.fail(ctx, span, "Failed to delete voucher", err, fields)
		return err
	}
	if err := s.repo.Delete(ctx, voucherID); err != nil {
		if !errors.Is(err, voucher.ErrVoucherNotFound) {
			err = fmt.Errorf("failed to delete voucher: %w", err)
		}
		s.fail(ctx, span, "Failed to delete voucher", err, fields)
		return err
	}

	s.logger.Info(ctx, "Voucher deleted", fields)
	return nil
}

// ExpireDueVouchers 期限を過ぎたActiveなギフトを失効させ、未受取分を払い戻す
func (s *VoucherApplicationService) ExpireDueVouchers(ctx context.Context, limit int) (*SweepResult, error) {
	ctx, span := s.tracer.Start(ctx, "VoucherApplicationService.ExpireDueVouchers")
	defer span.End()

	now := s.clock.Now()
	due, err := s.repo.FindExpired(ctx, now, limit)
	if err != nil {
		err = fmt.Errorf("failed to find expired vouchers: %w", err)
		s.fail(ctx, span, "Failed to sweep expired vouchers", err, nil)
		return nil, err
	}

	result := &SweepResult{}
	for _, candidate := range due {
		expired := false
		v, err := s.update(ctx, "expire", candidate.ID(), func(v *voucher.Voucher) (bool, error) {
			expired = v.ExpireIfDue(now)
			return expired, nil
		})
		if err != nil {
			result.Failed++
			s.logger.Error(ctx, "Failed to expire voucher", err, map[string]interface{}{
				"voucher_id": candidate.ID(),
			})
			continue
		}
		// 受取や終了が先に確定していた場合は何もしない
		if !expired {
			continue
		}
		result.Expired++
		if v.RefundStatus() == voucher.RefundStatusPending {
			if refunded := s.deliverRefund(ctx, v, "expired"); refunded != nil && refunded.RefundStatus() == voucher.RefundStatusCompleted {
				result.Refunded++
			} else {
				result.Failed++
			}
		}
	}

	span.SetAttributes(
		attribute.Int("expired", result.Expired),
		attribute.Int("refunded", result.Refunded),
		attribute.Int("failed", result.Failed),
	)
	if result.Expired > 0 || result.Failed > 0 {
		s.logger.Info(ctx, "Expired vouchers swept", map[string]interface{}{
			"expired":  result.Expired,
			"refunded": result.Refunded,
			"failed":   result.Failed,
		})
	}
	return result, nil
}

// RetryPendingPayouts 入金・払い戻しが未完了のものを再送する
// トランザクションIDが決定的なので、前回の入金が実は成功していても二重にはならない
func (s *VoucherApplicationService) RetryPendingPayouts(ctx context.Context, limit int) (*RetryResult, error) {
	ctx, span := s.tracer.Start(ctx, "VoucherApplicationService.RetryPendingPayouts")
	defer span.End()

	claims, err := s.repo.FindPendingClaims(ctx, limit)
	if err != nil {
		err = fmt.Errorf("failed to find pending claims: %w", err)
		s.fail(ctx, span, "Failed to retry payouts", err, nil)
		return nil, err
	}

	result := &RetryResult{}
	for _, c := range claims {
		switch s.deliverPayout(ctx, c) {
		case voucher.PayoutStatusCompleted:
			result.Payouts++
		case voucher.PayoutStatusFailed:
			result.Abandoned++
		default:
			result.Failed++
		}
	}

	refunds, err := s.repo.FindPendingRefunds(ctx, limit)
	if err != nil {
		err = fmt.Errorf("failed to find pending refunds: %w", err)
		s.fail(ctx, span, "Failed to retry refunds", err, nil)
		return nil, err
	}
	for _, v := range refunds {
		updated := s.deliverRefund(ctx, v, "retry")
		switch {
		case updated == nil:
			result.Failed++
		case updated.RefundStatus() == voucher.RefundStatusFailed:
			result.Abandoned++
		default:
			result.Refunds++
		}
	}

	span.SetAttributes(
		attribute.Int("payouts", result.Payouts),
		attribute.Int("refunds", result.Refunds),
		attribute.Int("failed", result.Failed),
		attribute.Int("abandoned", result.Abandoned),
	)
	if result.Payouts > 0 || result.Refunds > 0 || result.Failed > 0 || result.Abandoned > 0 {
		s.logger.Info(ctx, "Pending payouts retried", map[string]interface{}{
			"payouts":   result.Payouts,
			"refunds":   result.Refunds,
			"failed":    result.Failed,
			"abandoned": result.Abandoned,
		})
	}
	return result, nil
}

// deliverPayout 受取者に入金し、結果の入金状況を返す
// 成功したら completed、再送しても成功しない場合は failed を記録する。それ以外は pending のまま
func (s *VoucherApplicationService) deliverPayout(ctx context.Context, c *voucher.Claim) voucher.PayoutStatus {
	fields := map[string]interface{}{
		"voucher_id":        c.VoucherID(),
		"claim_id":          c.ClaimID(),
		"recipient_address": c.RecipientAddress(),
		"amount":            c.Amount().String(),
	}
	if err := s.gateway.Credit(ctx, c.RecipientAddress(), c.Symbol(), c.Amount(), c.PayoutTransactionID()); err != nil {
		if !isPermanentCreditError(err) {
			s.logger.Warn(ctx, "Payout failed, will retry", withError(fields, err))
			return voucher.PayoutStatusPending
		}
		s.logger.Error(ctx, "Payout abandoned", err, fields)
		if err := s.repo.MarkClaimFailed(ctx, c.ClaimID()); err != nil {
			s.logger.Error(ctx, "Failed to mark claim failed", err, fields)
			return voucher.PayoutStatusPending
		}
		c.MarkFailed()
		return voucher.PayoutStatusFailed
	}
	if err := s.repo.MarkClaimPaid(ctx, c.ClaimID()); err != nil {
		s.logger.Error(ctx, "Failed to mark claim paid", err, fields)
		return voucher.PayoutStatusPending
	}
	c.MarkPaid()
	return voucher.PayoutStatusCompleted
}

// deliverRefund 作成者に未受取分を払い戻し、成功したら払い戻し完了を記録する
// 再送しても成功しない場合は払い戻しを打ち切り、打ち切り後のギフトを返す
// 払い戻し対象でない場合と再送待ちになった場合はnilを返す
func (s *VoucherApplicationService) deliverRefund(ctx context.Context, v *voucher.Voucher, reason string) *voucher.Voucher {
	if v.RefundStatus() != voucher.RefundStatusPending {
		return nil
	}
	fields := map[string]interface{}{
		"voucher_id": v.ID(),
		"creator_id": v.CreatorID(),
		"amount":     v.RefundAmount().String(),
		"reason":     reason,
	}
	if err := s.gateway.Credit(ctx, v.CreatorID(), v.Symbol(), v.RefundAmount(), voucher.RefundTransactionID(v.ID())); err != nil {
		if !isPermanentCreditError(err) {
			s.logger.Warn(ctx, "Refund failed, will retry", withError(fields, err))
			return nil
		}
		s.logger.Error(ctx, "Refund abandoned", err, fields)
		failed, err := s.update(ctx, "refund", v.ID(), func(v *voucher.Voucher) (bool, error) {
			return v.FailRefund(s.clock.Now()), nil
		})
		if err != nil {
			s.logger.Error(ctx, "Failed to record abandoned refund", err, fields)
			return nil
		}
		return failed
	}

	updated, err := s.update(ctx, "refund", v.ID(), func(v *voucher.Voucher) (bool, error) {
		return v.CompleteRefund(s.clock.Now()), nil
	})
	if err != nil {
		s.logger.Error(ctx, "Failed to record refund", err, fields)
		return nil
	}

	s.metrics.RecordRefund(ctx, reason)
	s.logger.Info(ctx, "Refund delivered", fields)
	return updated
}

// isPermanentCreditError 入力が原因で、同じ入金を何度再送しても成功しないエラーかどうか
// 残高上限や一時的な障害は再送の対象に残す
func isPermanentCreditError(err error) bool {
	return errors.Is(err, currency.ErrInvalidOwner) ||
		errors.Is(err, currency.ErrInvalidSymbol) ||
		errors.Is(err, currency.ErrUnsupportedSymbol) ||
		errors.Is(err, currency.ErrInvalidAmount) ||
		errors.Is(err, transaction.ErrInvalidTransactionID)
}

func withError(fields map[string]interface{}, err error) map[string]interface{} {
	fields["error"] = err.Error()
	return fields
}
