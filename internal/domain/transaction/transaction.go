package transaction

import (
	"regexp"
	"time"

	"github.com/shopspring/decimal"

	"gift-server/internal/domain/currency"
)

var idRegex = regexp.MustCompile(`^[a-zA-Z0-9_\-\.\@:]{1,255}$`)

// Transaction 残高の増減を記録するトランザクションエンティティ
type Transaction struct {
	transactionID   string
	owner           string
	transactionType TransactionType
	symbol          currency.Symbol
	amount          decimal.Decimal
	balanceBefore   decimal.Decimal
	balanceAfter    decimal.Decimal
	status          TransactionStatus
	requester       *string // リクエスト元（ギフトIDや管理者など）
	metadata        map[string]interface{}
	createdAt       time.Time
	updatedAt       time.Time
}

// NewTransaction 新しいTransactionエンティティを作成
func NewTransaction(
	transactionID string,
	owner string,
	transactionType TransactionType,
	symbol currency.Symbol,
	amount decimal.Decimal,
	balanceBefore decimal.Decimal,
	balanceAfter decimal.Decimal,
	status TransactionStatus,
	requester *string,
	metadata map[string]interface{},
) (*Transaction, error) {
	if !idRegex.MatchString(transactionID) {
		return nil, ErrInvalidTransactionID
	}
	if !currency.ValidOwner(owner) {
		return nil, ErrInvalidOwner
	}
	if !transactionType.Valid() || !status.Valid() {
		return nil, ErrInvalidTransaction
	}
	if !amount.IsPositive() {
		return nil, ErrInvalidAmount
	}
	delta := amount
	if transactionType.Direction() == DirectionDebit {
		delta = amount.Neg()
	}
	if !balanceBefore.Add(delta).Equal(balanceAfter) {
		return nil, ErrBalanceMismatch
	}

	now := time.Now()
	return &Transaction{
		transactionID:   transactionID,
		owner:           owner,
		transactionType: transactionType,
		symbol:          symbol,
		amount:          amount,
		balanceBefore:   balanceBefore,
		balanceAfter:    balanceAfter,
		status:          status,
		requester:       requester,
		metadata:        metadata,
		createdAt:       now,
		updatedAt:       now,
	}, nil
}

// TransactionID トランザクションIDを返す
func (t *Transaction) TransactionID() string {
	return t.transactionID
}

// Owner 所有者IDを返す
func (t *Transaction) Owner() string {
	return t.owner
}

// TransactionType トランザクションタイプを返す
func (t *Transaction) TransactionType() TransactionType {
	return t.transactionType
}

// Symbol 通貨シンボルを返す
func (t *Transaction) Symbol() currency.Symbol {
	return t.symbol
}

// Amount 金額を返す
func (t *Transaction) Amount() decimal.Decimal {
	return t.amount
}

// BalanceBefore 処理前の残高を返す
func (t *Transaction) BalanceBefore() decimal.Decimal {
	return t.balanceBefore
}

// BalanceAfter 処理後の残高を返す
func (t *Transaction) BalanceAfter() decimal.Decimal {
	return t.balanceAfter
}

// Status ステータスを返す
func (t *Transaction) Status() TransactionStatus {
	return t.status
}

// Requester リクエスト元を返す
func (t *Transaction) Requester() *string {
	return t.requester
}

// Metadata メタデータを返す
func (t *Transaction) Metadata() map[string]interface{} {
	return t.metadata
}

// CreatedAt 作成日時を返す
func (t *Transaction) CreatedAt() time.Time {
	return t.createdAt
}

// UpdatedAt 更新日時を返す
func (t *Transaction) UpdatedAt() time.Time {
	return t.updatedAt
}

// SetTimestamps 作成・更新日時を設定（リポジトリから読み込んだ際に使用）
func (t *Transaction) SetTimestamps(createdAt, updatedAt time.Time) {
	t.createdAt = createdAt
	t.updatedAt = updatedAt
}

// MustNewTransaction テスト用ヘルパー: NewTransactionを呼び出し、エラーが発生した場合はpanicする
func MustNewTransaction(
	transactionID string,
	owner string,
	transactionType TransactionType,
	symbol currency.Symbol,
	amount string,
	balanceBefore string,
	balanceAfter string,
) *Transaction {
	tx, err := NewTransaction(
		transactionID,
		owner,
		transactionType,
		symbol,
		decimal.RequireFromString(amount),
		decimal.RequireFromString(balanceBefore),
		decimal.RequireFromString(balanceAfter),
		TransactionStatusCompleted,
		nil,
		nil,
	)
	if err != nil {
		panic(err)
	}
	return tx
}
