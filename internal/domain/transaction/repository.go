package transaction

import (
	"context"
)

// TransactionRepository トランザクションリポジトリインターフェース
type TransactionRepository interface {
	// Save トランザクションを保存。同じIDが既に存在する場合は ErrDuplicateTransactionID
	Save(ctx context.Context, transaction *Transaction) error

	// FindByTransactionID トランザクションIDでトランザクションを取得
	FindByTransactionID(ctx context.Context, transactionID string) (*Transaction, error)

	// FindByOwner 所有者IDでトランザクション一覧を取得（ページネーション対応）
	FindByOwner(ctx context.Context, owner string, limit, offset int) ([]*Transaction, error)

	// CountByOwner 所有者IDのトランザクション総数を取得
	CountByOwner(ctx context.Context, owner string) (int, error)
}
