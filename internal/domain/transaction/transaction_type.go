package transaction

import (
	"fmt"
)

// TransactionType トランザクションタイプを表す値オブジェクト
type TransactionType string

const (
	TransactionTypeGrant   TransactionType = "grant"   // 管理者による付与
	TransactionTypeReserve TransactionType = "reserve" // ギフト作成時の引き当て
	TransactionTypePayout  TransactionType = "payout"  // ギフト受取による入金
	TransactionTypeRefund  TransactionType = "refund"  // 終了・失効時の払い戻し
)

// Direction 残高の増減方向
type Direction int

const (
	DirectionCredit Direction = 1
	DirectionDebit  Direction = -1
)

// NewTransactionType 新しいTransactionTypeを作成
func NewTransactionType(s string) (TransactionType, error) {
	switch s {
	case "grant", "reserve", "payout", "refund":
		return TransactionType(s), nil
	default:
		return "", fmt.Errorf("invalid transaction type: %s", s)
	}
}

// String 文字列表現を返す
func (tt TransactionType) String() string {
	return string(tt)
}

// Valid 有効なトランザクションタイプかどうかを返す
func (tt TransactionType) Valid() bool {
	switch tt {
	case TransactionTypeGrant, TransactionTypeReserve, TransactionTypePayout, TransactionTypeRefund:
		return true
	default:
		return false
	}
}

// Direction 残高の増減方向を返す
func (tt TransactionType) Direction() Direction {
	if tt == TransactionTypeReserve {
		return DirectionDebit
	}
	return DirectionCredit
}
