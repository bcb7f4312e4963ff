package handler

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	voucherapp "gift-server/internal/application/voucher"
)

// AdminHandler 運用向けハンドラー
// 定期ジョブと同じ処理を手動で実行する
type AdminHandler struct {
	voucherService *voucherapp.VoucherApplicationService
	batchSize      int
}

// NewAdminHandler 新しいAdminHandlerを作成
func NewAdminHandler(voucherService *voucherapp.VoucherApplicationService, batchSize int) *AdminHandler {
	return &AdminHandler{
		voucherService: voucherService,
		batchSize:      batchSize,
	}
}

// ExpireVouchers 期限切れ処理ハンドラー
// @Summary 期限切れギフトを処理（管理API）
// @Description 期限を過ぎたギフトを期限切れにし、未使用分を作成者に払い戻します
// @Tags admin
// @Produce json
// @Param X-API-Key header string true "APIキー"
// @Param limit query int false "処理件数の上限"
// @Success 200 {object} SweepResponse "処理結果"
// @Router /admin/vouchers/expire [post]
func (h *AdminHandler) ExpireVouchers(c echo.Context) error {
	limit, err := h.limit(c)
	if err != nil {
		return err
	}

	result, err := h.voucherService.ExpireDueVouchers(c.Request().Context(), limit)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, SweepResponse{
		Expired:  result.Expired,
		Refunded: result.Refunded,
		Failed:   result.Failed,
	})
}

// RetryPayouts 入金再送ハンドラー
// @Summary 保留中の入金・払い戻しを再送（管理API）
// @Tags admin
// @Produce json
// @Param X-API-Key header string true "APIキー"
// @Param limit query int false "処理件数の上限"
// @Success 200 {object} RetryResponse "処理結果"
// @Router /admin/vouchers/retry-payouts [post]
func (h *AdminHandler) RetryPayouts(c echo.Context) error {
	limit, err := h.limit(c)
	if err != nil {
		return err
	}

	result, err := h.voucherService.RetryPendingPayouts(c.Request().Context(), limit)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, RetryResponse{
		Payouts:   result.Payouts,
		Refunds:   result.Refunds,
		Failed:    result.Failed,
		Abandoned: result.Abandoned,
	})
}

func (h *AdminHandler) limit(c echo.Context) (int, error) {
	limitStr := c.QueryParam("limit")
	if limitStr == "" {
		return h.batchSize, nil
	}
	limit, err := strconv.Atoi(limitStr)
	if err != nil || limit < 1 {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "invalid limit parameter")
	}
	return limit, nil
}
