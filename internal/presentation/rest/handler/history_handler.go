package handler

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	historyapp "gift-server/internal/application/history"
)

// HistoryHandler 履歴関連ハンドラー
type HistoryHandler struct {
	historyService *historyapp.HistoryApplicationService
}

// NewHistoryHandler 新しいHistoryHandlerを作成
func NewHistoryHandler(historyService *historyapp.HistoryApplicationService) *HistoryHandler {
	return &HistoryHandler{
		historyService: historyService,
	}
}

// GetTransactionHistory 履歴取得ハンドラー（ユーザーAPI用）
// @Summary 残高の増減履歴を取得
// @Description 自分の残高の増減履歴を新しい順に取得します
// @Tags history
// @Produce json
// @Security Bearer
// @Param limit query int false "取得件数（デフォルト: 50, 最大: 100)" default(50) example(50)
// @Param offset query int false "オフセット（デフォルト: 0)" default(0) example(0)
// @Param symbol query string false "通貨でフィルタ" example(USDT)
// @Param transaction_type query string false "種別でフィルタ（reserve/payout/refund/grant）" example(payout)
// @Success 200 {object} TransactionHistoryResponse "履歴取得成功"
// @Failure 400 {object} ErrorResponse "不正なリクエスト"
// @Failure 401 {object} ErrorResponse "認証エラー"
// @Router /me/transactions [get]
func (h *HistoryHandler) GetTransactionHistory(c echo.Context) error {
	userID, err := requireUserID(c)
	if err != nil {
		return err
	}
	return h.getTransactionHistory(c, userID)
}

// GetTransactionHistoryAdmin 履歴取得ハンドラー（管理API用）
// @Summary 残高の増減履歴を取得（管理API）
// @Tags admin
// @Produce json
// @Param user_id path string true "ユーザーID" example(user123)
// @Param X-API-Key header string true "APIキー"
// @Param limit query int false "取得件数（デフォルト: 50, 最大: 100)" default(50)
// @Param offset query int false "オフセット（デフォルト: 0)" default(0)
// @Param symbol query string false "通貨でフィルタ"
// @Param transaction_type query string false "種別でフィルタ"
// @Success 200 {object} TransactionHistoryResponse "履歴取得成功"
// @Failure 400 {object} ErrorResponse "不正なリクエスト"
// @Router /admin/users/{user_id}/transactions [get]
func (h *HistoryHandler) GetTransactionHistoryAdmin(c echo.Context) error {
	userID := c.Param("user_id")
	if userID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "user_id is required")
	}
	return h.getTransactionHistory(c, userID)
}

func (h *HistoryHandler) getTransactionHistory(c echo.Context, userID string) error {
	limit, offset, err := parsePagination(c)
	if err != nil {
		return err
	}

	resp, err := h.historyService.GetTransactionHistory(c.Request().Context(), &historyapp.GetTransactionHistoryRequest{
		Owner:           userID,
		Limit:           limit,
		Offset:          offset,
		Symbol:          c.QueryParam("symbol"),
		TransactionType: c.QueryParam("transaction_type"),
	})
	if err != nil {
		return err
	}

	transactions := make([]TransactionItem, len(resp.Transactions))
	for i, txn := range resp.Transactions {
		transactions[i] = TransactionItem{
			TransactionID:   txn.TransactionID(),
			TransactionType: txn.TransactionType().String(),
			Symbol:          txn.Symbol().String(),
			Amount:          txn.Amount().String(),
			BalanceBefore:   txn.BalanceBefore().String(),
			BalanceAfter:    txn.BalanceAfter().String(),
			Status:          txn.Status().String(),
			CreatedAt:       txn.CreatedAt().UTC().Format(time.RFC3339),
		}
	}

	return c.JSON(http.StatusOK, TransactionHistoryResponse{
		Transactions: transactions,
		Total:        resp.Total,
		Limit:        resp.Limit,
		Offset:       resp.Offset,
	})
}
