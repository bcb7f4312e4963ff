package currency

import (
	"context"
)

// CurrencyRepository 残高リポジトリインターフェース
type CurrencyRepository interface {
	// FindByOwnerAndSymbol 所有者と通貨で残高を取得
	FindByOwnerAndSymbol(ctx context.Context, owner string, symbol Symbol) (*Currency, error)

	// FindByOwner 所有者の全通貨の残高を取得
	FindByOwner(ctx context.Context, owner string) ([]*Currency, error)

	// Save 残高を保存（更新、楽観的ロック対応）。成功時はバージョンが1つ進む
	Save(ctx context.Context, currency *Currency) error

	// Create 新しい残高レコードを作成。既に存在する場合は ErrCurrencyAlreadyExists
	Create(ctx context.Context, currency *Currency) error
}
