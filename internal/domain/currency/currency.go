package currency

import (
	"errors"
	"regexp"

	"github.com/shopspring/decimal"
)

var (
	// ErrInvalidOwner 所有者IDが無効
	ErrInvalidOwner = errors.New("invalid owner")
	// ErrBalanceOutOfRange 残高が範囲外
	ErrBalanceOutOfRange = errors.New("balance out of range")
	// ErrAmountTooLarge 金額が大きすぎる
	ErrAmountTooLarge = errors.New("amount too large")
)

// MaxAmount 1回の入出金および残高の上限
var MaxAmount = decimal.New(1, 30)

// ownerRegex ユーザーIDと受取アドレス（0x...）の両方を許可する
var ownerRegex = regexp.MustCompile(`^[a-zA-Z0-9_\-\.\@:]{1,255}$`)

// ValidOwner 所有者IDの形式が正しいかどうかを返す
func ValidOwner(owner string) bool {
	return ownerRegex.MatchString(owner)
}

// Currency 所有者ごと通貨ごとの残高エンティティ
type Currency struct {
	owner   string
	symbol  Symbol
	balance decimal.Decimal
	version int // 楽観的ロック用
}

// NewCurrency 新しいCurrencyエンティティを作成
func NewCurrency(owner string, symbol Symbol, balance decimal.Decimal, version int) (*Currency, error) {
	if !ValidOwner(owner) {
		return nil, ErrInvalidOwner
	}
	if !symbol.Valid() {
		return nil, ErrInvalidSymbol
	}
	if balance.IsNegative() || balance.GreaterThan(MaxAmount) {
		return nil, ErrBalanceOutOfRange
	}
	return &Currency{
		owner:   owner,
		symbol:  symbol,
		balance: balance,
		version: version,
	}, nil
}

// Owner 所有者IDを返す
func (c *Currency) Owner() string {
	return c.owner
}

// Symbol 通貨シンボルを返す
func (c *Currency) Symbol() Symbol {
	return c.symbol
}

// Balance 残高を返す
func (c *Currency) Balance() decimal.Decimal {
	return c.balance
}

// Version バージョンを返す（楽観的ロック用）
func (c *Currency) Version() int {
	return c.version
}

// Credit 残高を増やす
func (c *Currency) Credit(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return ErrInvalidAmount
	}
	if amount.GreaterThan(MaxAmount) {
		return ErrAmountTooLarge
	}
	next := c.balance.Add(amount)
	if next.GreaterThan(MaxAmount) {
		return ErrBalanceOutOfRange
	}
	c.balance = next
	return nil
}

// Debit 残高を減らす（マイナス残高は許可しない）
func (c *Currency) Debit(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return ErrInvalidAmount
	}
	if amount.GreaterThan(MaxAmount) {
		return ErrAmountTooLarge
	}
	if c.balance.LessThan(amount) {
		return ErrInsufficientBalance
	}
	c.balance = c.balance.Sub(amount)
	return nil
}

// IncrementVersion バージョンをインクリメント（保存成功後にリポジトリから呼ばれる）
func (c *Currency) IncrementVersion() {
	c.version++
}

// MustNewCurrency テスト用ヘルパー: NewCurrencyを呼び出し、エラーが発生した場合はpanicする
func MustNewCurrency(owner string, symbol Symbol, balance string, version int) *Currency {
	c, err := NewCurrency(owner, symbol, decimal.RequireFromString(balance), version)
	if err != nil {
		panic(err)
	}
	return c
}
