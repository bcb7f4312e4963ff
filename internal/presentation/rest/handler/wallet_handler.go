package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	walletapp "gift-server/internal/application/wallet"
)

// WalletHandler 残高関連ハンドラー
type WalletHandler struct {
	walletService *walletapp.WalletApplicationService
}

// NewWalletHandler 新しいWalletHandlerを作成
func NewWalletHandler(walletService *walletapp.WalletApplicationService) *WalletHandler {
	return &WalletHandler{
		walletService: walletService,
	}
}

// GetMyBalance 残高取得ハンドラー（ユーザーAPI用）
// @Summary 残高を取得
// @Tags wallet
// @Produce json
// @Security Bearer
// @Success 200 {object} BalanceResponse "取得成功"
// @Failure 401 {object} ErrorResponse "認証エラー"
// @Router /me/balance [get]
func (h *WalletHandler) GetMyBalance(c echo.Context) error {
	userID, err := requireUserID(c)
	if err != nil {
		return err
	}
	return h.getBalance(c, userID)
}

// GetBalanceAdmin 残高取得ハンドラー（管理API用）
// @Summary 残高を取得（管理API）
// @Tags admin
// @Produce json
// @Param user_id path string true "ユーザーID"
// @Param X-API-Key header string true "APIキー"
// @Success 200 {object} BalanceResponse "取得成功"
// @Failure 400 {object} ErrorResponse "不正なユーザーID"
// @Router /admin/users/{user_id}/balance [get]
func (h *WalletHandler) GetBalanceAdmin(c echo.Context) error {
	userID := c.Param("user_id")
	if userID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "user_id is required")
	}
	return h.getBalance(c, userID)
}

func (h *WalletHandler) getBalance(c echo.Context, userID string) error {
	resp, err := h.walletService.GetBalance(c.Request().Context(), &walletapp.GetBalanceRequest{
		Owner: userID,
	})
	if err != nil {
		return err
	}

	balances := make([]BalanceItem, len(resp.Balances))
	for i, b := range resp.Balances {
		balances[i] = BalanceItem{Symbol: b.Symbol, Amount: b.Amount}
	}
	return c.JSON(http.StatusOK, BalanceResponse{
		UserID:   resp.Owner,
		Balances: balances,
	})
}

// Grant 付与ハンドラー（管理API用）
// @Summary 残高を付与（管理API）
// @Tags admin
// @Accept json
// @Produce json
// @Param user_id path string true "ユーザーID"
// @Param X-API-Key header string true "APIキー"
// @Param request body GrantRequest true "付与リクエスト"
// @Success 200 {object} GrantResponse "付与成功"
// @Failure 400 {object} ErrorResponse "不正なリクエスト"
// @Router /admin/users/{user_id}/grant [post]
func (h *WalletHandler) Grant(c echo.Context) error {
	userID := c.Param("user_id")
	if userID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "user_id is required")
	}

	var reqBody GrantRequest
	if err := c.Bind(&reqBody); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if reqBody.Symbol == "" || reqBody.Amount == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "symbol and amount are required")
	}

	resp, err := h.walletService.Grant(c.Request().Context(), &walletapp.GrantRequest{
		Owner:     userID,
		Symbol:    reqBody.Symbol,
		Amount:    reqBody.Amount,
		Reason:    reqBody.Reason,
		Requester: "admin",
		Metadata:  reqBody.Metadata,
	})
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, GrantResponse{
		TransactionID: resp.TransactionID,
		BalanceAfter:  resp.BalanceAfter,
		Status:        resp.Status,
	})
}
