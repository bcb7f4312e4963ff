package transaction

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTransaction(t *testing.T) {
	voucherID := "voucher_1"

	tests := []struct {
		name            string
		transactionID   string
		owner           string
		transactionType TransactionType
		amount          string
		balanceBefore   string
		balanceAfter    string
		wantError       error
	}{
		{
			name:            "正常系: 引き当て（残高が減る）",
			transactionID:   "reserve_abc",
			owner:           "user123",
			transactionType: TransactionTypeReserve,
			amount:          "50",
			balanceBefore:   "100",
			balanceAfter:    "50",
		},
		{
			name:            "正常系: 受取（アドレスへの入金）",
			transactionID:   "payout_abc",
			owner:           "0xdeadbeef",
			transactionType: TransactionTypePayout,
			amount:          "0.333333",
			balanceBefore:   "0",
			balanceAfter:    "0.333333",
		},
		{
			name:            "異常系: IDが不正",
			transactionID:   "bad id",
			owner:           "user123",
			transactionType: TransactionTypeGrant,
			amount:          "1",
			balanceBefore:   "0",
			balanceAfter:    "1",
			wantError:       ErrInvalidTransactionID,
		},
		{
			name:            "異常系: 金額がゼロ",
			transactionID:   "grant_1",
			owner:           "user123",
			transactionType: TransactionTypeGrant,
			amount:          "0",
			balanceBefore:   "0",
			balanceAfter:    "0",
			wantError:       ErrInvalidAmount,
		},
		{
			name:            "異常系: 残高の整合性が取れない",
			transactionID:   "refund_1",
			owner:           "user123",
			transactionType: TransactionTypeRefund,
			amount:          "10",
			balanceBefore:   "0",
			balanceAfter:    "5",
			wantError:       ErrBalanceMismatch,
		},
		{
			name:            "異常系: 不明なタイプ",
			transactionID:   "x_1",
			owner:           "user123",
			transactionType: TransactionType("consume"),
			amount:          "1",
			balanceBefore:   "1",
			balanceAfter:    "0",
			wantError:       ErrInvalidTransaction,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NewTransaction(
				tt.transactionID,
				tt.owner,
				tt.transactionType,
				"USDT",
				decimal.RequireFromString(tt.amount),
				decimal.RequireFromString(tt.balanceBefore),
				decimal.RequireFromString(tt.balanceAfter),
				TransactionStatusCompleted,
				&voucherID,
				map[string]interface{}{"voucher_id": voucherID},
			)
			if tt.wantError != nil {
				assert.ErrorIs(t, err, tt.wantError)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.transactionID, got.TransactionID())
			assert.Equal(t, tt.owner, got.Owner())
			assert.Equal(t, tt.transactionType, got.TransactionType())
			assert.Equal(t, "USDT", got.Symbol().String())
			assert.True(t, got.Amount().Equal(decimal.RequireFromString(tt.amount)))
			assert.True(t, got.BalanceAfter().Equal(decimal.RequireFromString(tt.balanceAfter)))
			require.NotNil(t, got.Requester())
			assert.Equal(t, voucherID, *got.Requester())
			assert.Equal(t, voucherID, got.Metadata()["voucher_id"])
		})
	}
}

func TestNewTransaction_InvalidStatus(t *testing.T) {
	_, err := NewTransaction(
		"grant_1", "user123", TransactionTypeGrant, "GEM",
		decimal.RequireFromString("10"), decimal.Zero, decimal.RequireFromString("10"),
		TransactionStatus("pending"), nil, nil,
	)
	assert.ErrorIs(t, err, ErrInvalidTransaction)

	txn := MustNewTransaction("grant_1", "user123", TransactionTypeGrant, "GEM", "10", "0", "10")
	assert.Equal(t, TransactionStatusCompleted, txn.Status())
}
