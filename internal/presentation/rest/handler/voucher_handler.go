package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	voucherapp "gift-server/internal/application/voucher"
)

// VoucherHandler ギフト関連ハンドラー
type VoucherHandler struct {
	voucherService *voucherapp.VoucherApplicationService
}

// NewVoucherHandler 新しいVoucherHandlerを作成
func NewVoucherHandler(voucherService *voucherapp.VoucherApplicationService) *VoucherHandler {
	return &VoucherHandler{
		voucherService: voucherService,
	}
}

// CreateVoucher ギフト作成ハンドラー
// @Summary ギフトを作成
// @Description 作成者の残高から総額を確保してギフトを作成します
// @Tags vouchers
// @Accept json
// @Produce json
// @Security Bearer
// @Param request body CreateVoucherRequest true "ギフト作成リクエスト"
// @Success 201 {object} CreateVoucherResponse "作成成功"
// @Failure 400 {object} ErrorResponse "不正なリクエスト"
// @Failure 409 {object} ErrorResponse "残高不足"
// @Router /vouchers [post]
func (h *VoucherHandler) CreateVoucher(c echo.Context) error {
	userID, err := requireUserID(c)
	if err != nil {
		return err
	}

	var reqBody CreateVoucherRequest
	if err := c.Bind(&reqBody); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	resp, err := h.voucherService.CreateVoucher(c.Request().Context(), &voucherapp.CreateVoucherRequest{
		CreatorID:            userID,
		Symbol:               reqBody.Symbol,
		Mode:                 reqBody.Mode,
		TotalPolicy:          reqBody.TotalPolicy,
		PerClaimAmount:       reqBody.PerClaimAmount,
		ClaimLimit:           reqBody.ClaimLimit,
		TotalAmount:          reqBody.TotalAmount,
		TotalPeople:          reqBody.TotalPeople,
		MaxClaimsPerIdentity: reqBody.MaxClaimsPerIdentity,
		ExpiresAt:            reqBody.ExpiresAt,
		Message:              reqBody.Message,
		Public:               reqBody.Public,
	})
	if err != nil {
		return err
	}

	return c.JSON(http.StatusCreated, CreateVoucherResponse{
		Voucher:  toVoucherResponse(resp.Voucher),
		ShareURI: resp.ShareURI,
		WebLink:  resp.WebLink,
	})
}

// GetVoucher ギフト取得ハンドラー
// @Summary ギフトを取得
// @Tags vouchers
// @Produce json
// @Security Bearer
// @Param id path string true "ギフトID"
// @Success 200 {object} VoucherResponse "取得成功"
// @Failure 404 {object} ErrorResponse "ギフトが見つからない"
// @Router /vouchers/{id} [get]
func (h *VoucherHandler) GetVoucher(c echo.Context) error {
	view, err := h.voucherService.GetVoucher(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, toVoucherResponse(view))
}

// ClaimVoucher 受取ハンドラー
// @Summary ギフトを受け取る
// @Description 1回分の受取を行い、受取先に入金します
// @Tags vouchers
// @Accept json
// @Produce json
// @Security Bearer
// @Param id path string true "ギフトID"
// @Param request body ClaimVoucherRequest false "受取リクエスト"
// @Success 200 {object} ClaimVoucherResponse "受取成功"
// @Failure 404 {object} ErrorResponse "ギフトが見つからない"
// @Failure 409 {object} ErrorResponse "受取不可（exhausted / expired / already_claimed / not_active）"
// @Failure 429 {object} ErrorResponse "レート制限"
// @Failure 503 {object} ErrorResponse "混雑中（再試行可）"
// @Router /vouchers/{id}/claim [post]
func (h *VoucherHandler) ClaimVoucher(c echo.Context) error {
	userID, err := requireUserID(c)
	if err != nil {
		return err
	}

	var reqBody ClaimVoucherRequest
	if err := c.Bind(&reqBody); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	resp, err := h.voucherService.ClaimVoucher(c.Request().Context(), &voucherapp.ClaimVoucherRequest{
		VoucherID:        c.Param("id"),
		ClaimantID:       userID,
		RecipientAddress: recipientOrSelf(reqBody.RecipientAddress, userID),
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, toClaimVoucherResponse(resp))
}

// ClaimByURI 共有URIでの受取ハンドラー
// @Summary 共有URIでギフトを受け取る
// @Tags vouchers
// @Accept json
// @Produce json
// @Security Bearer
// @Param request body ClaimByURIRequest true "受取リクエスト"
// @Success 200 {object} ClaimVoucherResponse "受取成功"
// @Failure 400 {object} ErrorResponse "共有URIが不正"
// @Failure 409 {object} ErrorResponse "受取不可"
// @Router /vouchers/claim [post]
func (h *VoucherHandler) ClaimByURI(c echo.Context) error {
	userID, err := requireUserID(c)
	if err != nil {
		return err
	}

	var reqBody ClaimByURIRequest
	if err := c.Bind(&reqBody); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if reqBody.URI == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "uri is required")
	}

	resp, err := h.voucherService.ClaimByURI(c.Request().Context(), &voucherapp.ClaimByURIRequest{
		URI:              reqBody.URI,
		ClaimantID:       userID,
		RecipientAddress: recipientOrSelf(reqBody.RecipientAddress, userID),
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, toClaimVoucherResponse(resp))
}

// EndVoucher 終了ハンドラー
// @Summary ギフトを終了
// @Description 進捗が0%または80%以上のとき終了し、未使用分を作成者に払い戻します
// @Tags vouchers
// @Produce json
// @Security Bearer
// @Param id path string true "ギフトID"
// @Success 200 {object} VoucherResponse "終了成功"
// @Failure 403 {object} ErrorResponse "作成者以外"
// @Failure 409 {object} ErrorResponse "終了できない（cancellation_not_allowed / not_active）"
// @Router /vouchers/{id}/end [post]
func (h *VoucherHandler) EndVoucher(c echo.Context) error {
	userID, err := requireUserID(c)
	if err != nil {
		return err
	}

	view, err := h.voucherService.EndVoucher(c.Request().Context(), c.Param("id"), userID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, toVoucherResponse(view))
}

// DeleteVoucher 削除ハンドラー
// @Summary ギフトを削除
// @Description 終了済みかつ払い戻し完了のギフトを削除します
// @Tags vouchers
// @Security Bearer
// @Param id path string true "ギフトID"
// @Success 204 "削除成功"
// @Failure 403 {object} ErrorResponse "作成者以外"
// @Failure 409 {object} ErrorResponse "削除できない（delete_not_allowed / refund_pending）"
// @Router /vouchers/{id} [delete]
func (h *VoucherHandler) DeleteVoucher(c echo.Context) error {
	userID, err := requireUserID(c)
	if err != nil {
		return err
	}

	if err := h.voucherService.DeleteVoucher(c.Request().Context(), c.Param("id"), userID); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

// ListClaims 受取記録一覧ハンドラー
// @Summary ギフトの受取記録を取得
// @Tags vouchers
// @Produce json
// @Security Bearer
// @Param id path string true "ギフトID"
// @Success 200 {object} ClaimListResponse "取得成功"
// @Failure 404 {object} ErrorResponse "ギフトが見つからない"
// @Router /vouchers/{id}/claims [get]
func (h *VoucherHandler) ListClaims(c echo.Context) error {
	id := c.Param("id")
	views, err := h.voucherService.ListClaims(c.Request().Context(), id)
	if err != nil {
		return err
	}

	claims := make([]ClaimItem, len(views))
	for i, v := range views {
		claims[i] = ClaimItem{
			ClaimID:          v.ClaimID,
			ClaimantID:       v.ClaimantID,
			RecipientAddress: v.RecipientAddress,
			Symbol:           v.Symbol,
			Amount:           v.Amount,
			PayoutStatus:     v.PayoutStatus,
			ClaimedAt:        v.ClaimedAt,
		}
	}
	return c.JSON(http.StatusOK, ClaimListResponse{VoucherID: id, Claims: claims})
}

// GetShareLink 共有リンク取得ハンドラー
// @Summary 共有リンクを取得
// @Tags share
// @Produce json
// @Security Bearer
// @Param id path string true "ギフトID"
// @Success 200 {object} ShareLinkResponse "取得成功"
// @Failure 404 {object} ErrorResponse "ギフトが見つからない"
// @Router /vouchers/{id}/share [get]
func (h *VoucherHandler) GetShareLink(c echo.Context) error {
	link, err := h.voucherService.BuildClaimURI(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, ShareLinkResponse{
		VoucherID: link.VoucherID,
		ShareURI:  link.ShareURI,
		WebLink:   link.WebLink,
	})
}

// ParseShareURI 共有URI解析ハンドラー
// @Summary 共有URIからギフトIDを取り出す
// @Tags share
// @Accept json
// @Produce json
// @Security Bearer
// @Param request body ParseURIRequest true "共有URI"
// @Success 200 {object} ParseURIResponse "解析成功"
// @Failure 400 {object} ErrorResponse "共有URIが不正"
// @Router /share/parse [post]
func (h *VoucherHandler) ParseShareURI(c echo.Context) error {
	var reqBody ParseURIRequest
	if err := c.Bind(&reqBody); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	id, err := h.voucherService.ParseClaimURI(reqBody.URI)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, ParseURIResponse{ID: id})
}

// ListMyVouchers 自分が作成したギフト一覧ハンドラー
// @Summary 作成したギフトの一覧
// @Tags vouchers
// @Produce json
// @Security Bearer
// @Param limit query int false "取得件数（デフォルト: 50, 最大: 100)" default(50)
// @Param offset query int false "オフセット" default(0)
// @Success 200 {object} VoucherListResponse "取得成功"
// @Failure 400 {object} ErrorResponse "不正なリクエスト"
// @Router /me/vouchers [get]
func (h *VoucherHandler) ListMyVouchers(c echo.Context) error {
	userID, err := requireUserID(c)
	if err != nil {
		return err
	}
	limit, offset, err := parsePagination(c)
	if err != nil {
		return err
	}

	views, err := h.voucherService.ListVouchersByCreator(c.Request().Context(), userID, limit, offset)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, toVoucherListResponse(views, limit, offset))
}

// ListPublicVouchers 公開中のギフト一覧ハンドラー
// @Summary 公開中のギフトの一覧
// @Tags vouchers
// @Produce json
// @Security Bearer
// @Param limit query int false "取得件数（デフォルト: 50, 最大: 100)" default(50)
// @Param offset query int false "オフセット" default(0)
// @Success 200 {object} VoucherListResponse "取得成功"
// @Router /vouchers/public [get]
func (h *VoucherHandler) ListPublicVouchers(c echo.Context) error {
	limit, offset, err := parsePagination(c)
	if err != nil {
		return err
	}

	views, err := h.voucherService.ListActivePublicVouchers(c.Request().Context(), limit, offset)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, toVoucherListResponse(views, limit, offset))
}

func recipientOrSelf(recipient, userID string) string {
	if recipient == "" {
		return userID
	}
	return recipient
}
