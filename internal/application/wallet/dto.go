package wallet

// GetBalanceRequest 残高取得リクエスト
type GetBalanceRequest struct {
	Owner string
}

// Balance 通貨ごとの残高
type Balance struct {
	Symbol  string
	Amount  string
	Version int
}

// GetBalanceResponse 残高取得レスポンス
type GetBalanceResponse struct {
	Owner    string
	Balances []Balance // シンボル順
}

// GrantRequest 管理者による付与リクエスト
type GrantRequest struct {
	Owner     string
	Symbol    string
	Amount    string // 10進数文字列
	Reason    string
	Requester string
	Metadata  map[string]interface{}
}

// GrantResponse 付与レスポンス
type GrantResponse struct {
	TransactionID string
	BalanceAfter  string
	Status        string
}
