package history

import "gift-server/internal/domain/transaction"

// GetTransactionHistoryRequest トランザクション履歴取得リクエスト
type GetTransactionHistoryRequest struct {
	Owner           string
	Limit           int
	Offset          int
	Symbol          string // optional: "ETH", "USDT" など
	TransactionType string // optional: "reserve", "payout", "refund", "grant"
}

// GetTransactionHistoryResponse トランザクション履歴取得レスポンス
type GetTransactionHistoryResponse struct {
	Transactions []*transaction.Transaction
	Total        int // フィルタ前の総件数
	Limit        int
	Offset       int
}
