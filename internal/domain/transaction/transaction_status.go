package transaction

import (
	"fmt"
)

// TransactionStatus 台帳記録の状態
// 記録は残高の更新と同じDBトランザクションで書き込まれるため、保存済みの記録は常に completed
type TransactionStatus string

// TransactionStatusCompleted 残高へ反映済み
const TransactionStatusCompleted TransactionStatus = "completed"

// NewTransactionStatus 保存値からTransactionStatusを復元
func NewTransactionStatus(s string) (TransactionStatus, error) {
	ts := TransactionStatus(s)
	if !ts.Valid() {
		return "", fmt.Errorf("%w: status %q", ErrInvalidTransaction, s)
	}
	return ts, nil
}

// String 文字列表現を返す
func (ts TransactionStatus) String() string {
	return string(ts)
}

// Valid 有効な状態かどうか
func (ts TransactionStatus) Valid() bool {
	return ts == TransactionStatusCompleted
}
