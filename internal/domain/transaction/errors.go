package transaction

import "errors"

var (
	// ErrTransactionNotFound 台帳に該当する記録がない
	ErrTransactionNotFound = errors.New("transaction not found")
	// ErrDuplicateTransactionID 同じIDの記録が既にある（入金・払い戻しの二重実行防止に使う）
	ErrDuplicateTransactionID = errors.New("duplicate transaction id")
	// ErrInvalidTransaction 種別・状態が不正
	ErrInvalidTransaction = errors.New("invalid transaction")
	// ErrInvalidTransactionID トランザクションIDが無効
	ErrInvalidTransactionID = errors.New("invalid transaction id")
	// ErrInvalidOwner 所有者IDが無効
	ErrInvalidOwner = errors.New("invalid owner")
	// ErrInvalidAmount 金額が無効
	ErrInvalidAmount = errors.New("invalid amount")
	// ErrBalanceMismatch 前後の残高と金額が一致しない
	ErrBalanceMismatch = errors.New("balance mismatch")
)
