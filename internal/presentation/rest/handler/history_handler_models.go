package handler

// TransactionItem 残高の増減記録
// @Description 残高の増減記録
type TransactionItem struct {
	TransactionID   string `json:"transaction_id" example:"payout_5f0c1d2e-3a4b-4c5d-8e9f-0a1b2c3d4e5f"`
	TransactionType string `json:"transaction_type" example:"payout"`
	Symbol          string `json:"symbol" example:"USDT"`
	Amount          string `json:"amount" example:"33.333333"`
	BalanceBefore   string `json:"balance_before" example:"0"`
	BalanceAfter    string `json:"balance_after" example:"33.333333"`
	Status          string `json:"status" example:"completed"`
	CreatedAt       string `json:"created_at" example:"2026-02-01T09:00:00Z"`
}

// TransactionHistoryResponse 履歴レスポンス
// @Description 履歴レスポンス
type TransactionHistoryResponse struct {
	Transactions []TransactionItem `json:"transactions"`
	Total        int               `json:"total" example:"1"`
	Limit        int               `json:"limit" example:"50"`
	Offset       int               `json:"offset" example:"0"`
}
