package redis

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/go-redis/redis/v8"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gift-server/internal/domain/currency"
	"gift-server/internal/domain/voucher"
)

var testNow = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func newTestRepo(t *testing.T) (*VoucherRepository, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewVoucherRepository(client), mr
}

func newVoucher(t *testing.T, id string, limit int, expiresAt *time.Time) *voucher.Voucher {
	t.Helper()
	v, err := voucher.NewVoucher(voucher.Params{
		ID:             id,
		CreatorID:      "creator",
		Symbol:         "USDT",
		Mode:           voucher.ModePerClaim,
		PerClaimAmount: decimal.RequireFromString("0.5"),
		ClaimLimit:     limit,
		ExpiresAt:      expiresAt,
		Public:         true,
	}, currency.MustParseRegistry("USDT:6"), testNow, 0)
	require.NoError(t, err)
	return v
}

func claimFn(who, claimID string) voucher.UpdateFunc {
	return func(v *voucher.Voucher) (bool, error) {
		if _, err := v.Claim(who, "addr-"+who, testNow.Add(time.Minute), claimID); err != nil {
			return false, err
		}
		return true, nil
	}
}

func TestVoucherRepository_CreateAndFind(t *testing.T) {
	repo, mr := newTestRepo(t)
	ctx := context.Background()
	v := newVoucher(t, "v-1", 2, nil)

	require.NoError(t, repo.Create(ctx, v))
	assert.ErrorIs(t, repo.Create(ctx, v), voucher.ErrVoucherAlreadyExists)
	assert.True(t, mr.Exists("voucher:v-1"))

	got, err := repo.FindByID(ctx, "v-1")
	require.NoError(t, err)
	assert.Equal(t, "1", got.TotalAmount().String())
	assert.True(t, got.Public())

	_, err = repo.FindByID(ctx, "missing")
	assert.ErrorIs(t, err, voucher.ErrVoucherNotFound)
}

func TestVoucherRepository_UpdateAndIndexes(t *testing.T) {
	repo, _ := newTestRepo(t)
	ctx := context.Background()
	require.NoError(t, repo.Create(ctx, newVoucher(t, "v-1", 2, nil)))

	got, err := repo.Update(ctx, "v-1", claimFn("alice", "c-1"))
	require.NoError(t, err)
	assert.Equal(t, 1, got.Version())

	_, err = repo.Update(ctx, "v-1", claimFn("alice", "c-2"))
	assert.ErrorIs(t, err, voucher.ErrAlreadyClaimed)

	public, err := repo.FindActivePublic(ctx, 10, 0)
	require.NoError(t, err)
	assert.Len(t, public, 1)

	// 最後の枠で枯渇し、公開一覧から外れる
	got, err = repo.Update(ctx, "v-1", claimFn("bob", "c-3"))
	require.NoError(t, err)
	assert.Equal(t, voucher.StatusExhausted, got.Status())

	public, err = repo.FindActivePublic(ctx, 10, 0)
	require.NoError(t, err)
	assert.Empty(t, public)

	mine, err := repo.FindByCreator(ctx, "creator", 10, 0)
	require.NoError(t, err)
	assert.Len(t, mine, 1)

	claims, err := repo.FindClaims(ctx, "v-1")
	require.NoError(t, err)
	require.Len(t, claims, 2)
	assert.Equal(t, "c-1", claims[0].ClaimID())
	assert.Equal(t, "c-3", claims[1].ClaimID())

	require.NoError(t, repo.MarkClaimPaid(ctx, "c-1"))
	assert.ErrorIs(t, repo.MarkClaimPaid(ctx, "missing"), voucher.ErrClaimNotFound)

	pending, err := repo.FindPendingClaims(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "c-3", pending[0].ClaimID())

	// 打ち切った入金は入金待ちから外れる
	require.NoError(t, repo.MarkClaimFailed(ctx, "c-3"))
	assert.ErrorIs(t, repo.MarkClaimFailed(ctx, "missing"), voucher.ErrClaimNotFound)
	pending, err = repo.FindPendingClaims(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)

	claims, err = repo.FindClaims(ctx, "v-1")
	require.NoError(t, err)
	assert.Equal(t, voucher.PayoutStatusCompleted, claims[0].PayoutStatus())
	assert.Equal(t, voucher.PayoutStatusFailed, claims[1].PayoutStatus())
}

func TestVoucherRepository_ConcurrentClaims(t *testing.T) {
	repo, _ := newTestRepo(t)
	ctx := context.Background()
	require.NoError(t, repo.Create(ctx, newVoucher(t, "v-1", 3, nil)))

	const claimants = 20
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		rejected  []error
	)
	for i := 0; i < claimants; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			who := fmt.Sprintf("user-%d", i)
			// 競合した場合は読み直してやり直す
			for {
				_, err := repo.Update(ctx, "v-1", claimFn(who, "claim-"+who))
				if errors.Is(err, voucher.ErrConflict) {
					continue
				}
				mu.Lock()
				defer mu.Unlock()
				if err != nil {
					rejected = append(rejected, err)
					return
				}
				successes++
				return
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 3, successes)
	assert.Len(t, rejected, claimants-3)
	for _, err := range rejected {
		assert.ErrorIs(t, err, voucher.ErrExhausted)
	}
	v, err := repo.FindByID(ctx, "v-1")
	require.NoError(t, err)
	assert.Equal(t, 3, v.ClaimedCount())
	assert.Equal(t, "1.5", v.ClaimedTotal().String())

	claims, err := repo.FindClaims(ctx, "v-1")
	require.NoError(t, err)
	assert.Len(t, claims, 3)
}

func TestVoucherRepository_ExpiryRefundAndDelete(t *testing.T) {
	repo, mr := newTestRepo(t)
	ctx := context.Background()
	expires := testNow.Add(time.Hour)
	require.NoError(t, repo.Create(ctx, newVoucher(t, "v-1", 4, &expires)))
	_, err := repo.Update(ctx, "v-1", claimFn("alice", "c-1"))
	require.NoError(t, err)

	expired, err := repo.FindExpired(ctx, testNow.Add(30*time.Minute), 10)
	require.NoError(t, err)
	assert.Empty(t, expired)

	later := testNow.Add(2 * time.Hour)
	expired, err = repo.FindExpired(ctx, later, 10)
	require.NoError(t, err)
	require.Len(t, expired, 1)

	_, err = repo.Update(ctx, "v-1", func(v *voucher.Voucher) (bool, error) {
		return v.ExpireIfDue(later), nil
	})
	require.NoError(t, err)

	expired, err = repo.FindExpired(ctx, later, 10)
	require.NoError(t, err)
	assert.Empty(t, expired)

	refunds, err := repo.FindPendingRefunds(ctx, 10)
	require.NoError(t, err)
	require.Len(t, refunds, 1)
	assert.Equal(t, "1.5", refunds[0].RefundAmount().String())

	_, err = repo.Update(ctx, "v-1", func(v *voucher.Voucher) (bool, error) {
		return v.FailRefund(later), nil
	})
	require.NoError(t, err)
	refunds, err = repo.FindPendingRefunds(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, refunds)
	got, err := repo.FindByID(ctx, "v-1")
	require.NoError(t, err)
	assert.Equal(t, voucher.RefundStatusFailed, got.RefundStatus())

	require.NoError(t, repo.Delete(ctx, "v-1"))
	assert.False(t, mr.Exists("voucher:v-1"))
	assert.False(t, mr.Exists("voucher_claim:c-1"))
	assert.False(t, mr.Exists("voucher:v-1:claims"))
	assert.ErrorIs(t, repo.Delete(ctx, "v-1"), voucher.ErrVoucherNotFound)

	mine, err := repo.FindByCreator(ctx, "creator", 10, 0)
	require.NoError(t, err)
	assert.Empty(t, mine)
}
