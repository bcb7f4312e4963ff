package handler

// BalanceItem 通貨ごとの残高
// @Description 通貨ごとの残高
type BalanceItem struct {
	Symbol string `json:"symbol" example:"USDT"`
	Amount string `json:"amount" example:"66.666667"`
}

// BalanceResponse 残高レスポンス
// @Description 残高レスポンス（取り扱い通貨をすべて含む）
type BalanceResponse struct {
	UserID   string        `json:"user_id" example:"alice"`
	Balances []BalanceItem `json:"balances"`
}

// GrantRequest 付与リクエスト
// @Description 付与リクエスト
type GrantRequest struct {
	Symbol   string                 `json:"symbol" example:"USDT"`
	Amount   string                 `json:"amount" example:"100"`
	Reason   string                 `json:"reason,omitempty" example:"campaign"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// GrantResponse 付与レスポンス
// @Description 付与レスポンス
type GrantResponse struct {
	TransactionID string `json:"transaction_id" example:"grant_5f0c1d2e-3a4b-4c5d-8e9f-0a1b2c3d4e5f"`
	BalanceAfter  string `json:"balance_after" example:"100"`
	Status        string `json:"status" example:"completed"`
}

// SweepResponse 期限切れ処理レスポンス
// @Description 期限切れ処理レスポンス
type SweepResponse struct {
	Expired  int `json:"expired" example:"1"`
	Refunded int `json:"refunded" example:"1"`
	Failed   int `json:"failed" example:"0"`
}

// RetryResponse 入金再送レスポンス
// @Description 入金・払い戻しの再送レスポンス
type RetryResponse struct {
	Payouts   int `json:"payouts" example:"2"`
	Refunds   int `json:"refunds" example:"0"`
	Failed    int `json:"failed" example:"0"`
	Abandoned int `json:"abandoned" example:"0"`
}
