package currency

import "errors"

var (
	// ErrInsufficientBalance 残高不足エラー
	ErrInsufficientBalance = errors.New("insufficient balance")
	// ErrInvalidAmount 無効な金額エラー
	ErrInvalidAmount = errors.New("invalid amount")
	// ErrCurrencyNotFound 残高レコードが見つからないエラー
	ErrCurrencyNotFound = errors.New("currency not found")
	// ErrInvalidSymbol 通貨シンボルの形式が不正
	ErrInvalidSymbol = errors.New("invalid currency symbol")
	// ErrUnsupportedSymbol 取り扱っていない通貨
	ErrUnsupportedSymbol = errors.New("unsupported currency symbol")
	// ErrOptimisticLock バージョン不一致で更新できなかった
	ErrOptimisticLock = errors.New("optimistic lock failed")
	// ErrCurrencyAlreadyExists 残高レコードが既に存在する
	ErrCurrencyAlreadyExists = errors.New("currency already exists")
)
