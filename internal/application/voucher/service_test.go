package voucher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"

	"gift-server/internal/domain/currency"
	"gift-server/internal/domain/sharelink"
	"gift-server/internal/domain/voucher"
	"gift-server/internal/infrastructure/clock"
	otelinfra "gift-server/internal/infrastructure/observability/otel"
	"gift-server/internal/infrastructure/persistence/memory"
)

var testStart = time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)

// fakeGateway refで冪等なインメモリ残高
type fakeGateway struct {
	mu         sync.Mutex
	balances   map[string]decimal.Decimal
	applied    map[string]bool
	failCredit map[string]bool  // 入金を一時的に失敗させる所有者
	rejects    map[string]error // 入金を恒久的に拒否する所有者
	credits    int
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		balances:   make(map[string]decimal.Decimal),
		applied:    make(map[string]bool),
		failCredit: make(map[string]bool),
		rejects:    make(map[string]error),
	}
}

func balanceKey(owner string, symbol currency.Symbol) string {
	return owner + "|" + symbol.String()
}

func (g *fakeGateway) fund(owner string, symbol currency.Symbol, amount string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.balances[balanceKey(owner, symbol)] = decimal.RequireFromString(amount)
}

func (g *fakeGateway) balance(owner string, symbol currency.Symbol) decimal.Decimal {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.balances[balanceKey(owner, symbol)]
}

func (g *fakeGateway) setFailCredit(owner string, fail bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.failCredit[owner] = fail
}

func (g *fakeGateway) setRejectCredit(owner string, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err == nil {
		delete(g.rejects, owner)
		return
	}
	g.rejects[owner] = err
}

func (g *fakeGateway) Debit(_ context.Context, owner string, symbol currency.Symbol, amount decimal.Decimal, ref string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.applied[ref] {
		return nil
	}
	key := balanceKey(owner, symbol)
	if g.balances[key].LessThan(amount) {
		return currency.ErrInsufficientBalance
	}
	g.balances[key] = g.balances[key].Sub(amount)
	g.applied[ref] = true
	return nil
}

func (g *fakeGateway) Credit(_ context.Context, owner string, symbol currency.Symbol, amount decimal.Decimal, ref string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.rejects[owner]; err != nil {
		return err
	}
	if g.failCredit[owner] {
		return errors.New("wallet unavailable")
	}
	if g.applied[ref] {
		return nil
	}
	key := balanceKey(owner, symbol)
	g.balances[key] = g.balances[key].Add(amount)
	g.applied[ref] = true
	g.credits++
	return nil
}

// conflictRepo 指定回数だけ Update を競合させる
type conflictRepo struct {
	*memory.VoucherRepository
	conflicts int
}

func (r *conflictRepo) Update(ctx context.Context, id string, fn voucher.UpdateFunc) (*voucher.Voucher, error) {
	if r.conflicts > 0 {
		r.conflicts--
		return nil, voucher.ErrConflict
	}
	return r.VoucherRepository.Update(ctx, id, fn)
}

// failingCreateRepo 保存に失敗する
type failingCreateRepo struct {
	*memory.VoucherRepository
}

func (r *failingCreateRepo) Create(context.Context, *voucher.Voucher) error {
	return errors.New("store down")
}

func newTestService(t *testing.T, repo voucher.VoucherRepository, gw voucher.BalanceGateway) (*VoucherApplicationService, *clock.Manual) {
	t.Helper()
	tracer := otel.Tracer("test")
	logger := otelinfra.NewLogger(tracer)
	metrics, err := otelinfra.NewMetrics("test")
	require.NoError(t, err)
	codec, err := sharelink.NewCodec("gift", "https://gift.example.com")
	require.NoError(t, err)

	clk := clock.NewManual(testStart)
	svc := NewVoucherApplicationService(
		repo,
		gw,
		codec,
		currency.MustParseRegistry("USDT:6,GEM:0"),
		clk,
		logger,
		metrics,
		Settings{MaxRetries: 5, MaxClaimLimit: 100},
	)
	return svc, clk
}

func perClaimRequest(amount string, limit int) *CreateVoucherRequest {
	return &CreateVoucherRequest{
		CreatorID:      "creator",
		Symbol:         "GEM",
		Mode:           "per_claim",
		PerClaimAmount: amount,
		ClaimLimit:     limit,
		Public:         true,
	}
}

func mustCreate(t *testing.T, svc *VoucherApplicationService, req *CreateVoucherRequest) *VoucherView {
	t.Helper()
	resp, err := svc.CreateVoucher(context.Background(), req)
	require.NoError(t, err)
	return resp.Voucher
}

func claimAs(svc *VoucherApplicationService, voucherID, who string) (*ClaimVoucherResponse, error) {
	return svc.ClaimVoucher(context.Background(), &ClaimVoucherRequest{
		VoucherID:        voucherID,
		ClaimantID:       who,
		RecipientAddress: "addr-" + who,
	})
}

func TestVoucherApplicationService_CreateVoucher(t *testing.T) {
	tests := []struct {
		name        string
		req         *CreateVoucherRequest
		funds       string
		wantErr     error
		wantTotal   string
		wantShare   string
		wantBalance string
	}{
		{
			name:        "正常系: 1回あたり固定額",
			req:         perClaimRequest("10", 3),
			funds:       "100",
			wantTotal:   "30",
			wantShare:   "10",
			wantBalance: "70",
		},
		{
			name: "正常系: 総額を均等分割（端数は切り捨て）",
			req: &CreateVoucherRequest{
				CreatorID:   "creator",
				Symbol:      "usdt",
				Mode:        "total",
				TotalPolicy: "equal",
				TotalAmount: "100",
				TotalPeople: 3,
			},
			funds:       "100",
			wantTotal:   "100",
			wantShare:   "33.333333",
			wantBalance: "0",
		},
		{
			name: "正常系: 総額を1人が受け取る",
			req: &CreateVoucherRequest{
				CreatorID:   "creator",
				Symbol:      "GEM",
				Mode:        "total",
				TotalPolicy: "all",
				TotalAmount: "50",
			},
			funds:       "50",
			wantTotal:   "50",
			wantShare:   "0",
			wantBalance: "0",
		},
		{
			name:        "異常系: 残高不足",
			req:         perClaimRequest("10", 3),
			funds:       "29",
			wantErr:     currency.ErrInsufficientBalance,
			wantBalance: "29",
		},
		{
			name:        "異常系: 不正な配布方式",
			req:         &CreateVoucherRequest{CreatorID: "creator", Symbol: "GEM", Mode: "random", TotalAmount: "10"},
			funds:       "100",
			wantErr:     voucher.ErrValidation,
			wantBalance: "100",
		},
		{
			name:        "異常系: 金額が数値でない",
			req:         perClaimRequest("ten", 3),
			funds:       "100",
			wantErr:     voucher.ErrValidation,
			wantBalance: "100",
		},
		{
			name:        "異常系: 最小単位より細かい金額",
			req:         perClaimRequest("0.5", 3),
			funds:       "100",
			wantErr:     voucher.ErrValidation,
			wantBalance: "100",
		},
		{
			name:        "異常系: 受取枠が上限を超える",
			req:         perClaimRequest("1", 101),
			funds:       "1000",
			wantErr:     voucher.ErrValidation,
			wantBalance: "1000",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := memory.NewVoucherRepository()
			gw := newFakeGateway()
			symbol, err := currency.NewSymbol(tt.req.Symbol)
			if err != nil {
				symbol = "GEM"
			}
			gw.fund("creator", symbol, tt.funds)
			svc, _ := newTestService(t, repo, gw)

			resp, err := svc.CreateVoucher(context.Background(), tt.req)
			assert.Equal(t, tt.wantBalance, gw.balance("creator", symbol).String())
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, resp)
				mine, err := repo.FindByCreator(context.Background(), "creator", 10, 0)
				require.NoError(t, err)
				assert.Empty(t, mine)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.wantTotal, resp.Voucher.TotalAmount)
			assert.Equal(t, tt.wantShare, resp.Voucher.PerClaimAmount)
			assert.Equal(t, "active", resp.Voucher.Status)
			assert.Equal(t, "gift://voucher/"+resp.Voucher.ID, resp.ShareURI)
			assert.Equal(t, "https://gift.example.com/v/"+resp.Voucher.ID, resp.WebLink)

			stored, err := repo.FindByID(context.Background(), resp.Voucher.ID)
			require.NoError(t, err)
			assert.Equal(t, tt.wantTotal, stored.TotalAmount().String())
		})
	}
}

func TestVoucherApplicationService_CreateVoucher_ReleasesReservationOnStoreFailure(t *testing.T) {
	gw := newFakeGateway()
	gw.fund("creator", "GEM", "100")
	svc, _ := newTestService(t, &failingCreateRepo{memory.NewVoucherRepository()}, gw)

	_, err := svc.CreateVoucher(context.Background(), perClaimRequest("10", 3))
	require.Error(t, err)
	assert.Equal(t, "100", gw.balance("creator", "GEM").String())
}

func TestVoucherApplicationService_ClaimVoucher(t *testing.T) {
	gw := newFakeGateway()
	gw.fund("creator", "GEM", "100")
	svc, _ := newTestService(t, memory.NewVoucherRepository(), gw)
	v := mustCreate(t, svc, perClaimRequest("10", 2))

	resp, err := claimAs(svc, v.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, "10", resp.Amount)
	assert.Equal(t, "GEM", resp.Symbol)
	assert.Equal(t, "completed", resp.PayoutStatus)
	assert.Equal(t, "active", resp.VoucherStatus)
	assert.Equal(t, "10", gw.balance("addr-alice", "GEM").String())

	_, err = claimAs(svc, v.ID, "alice")
	assert.ErrorIs(t, err, voucher.ErrAlreadyClaimed)

	resp, err = claimAs(svc, v.ID, "bob")
	require.NoError(t, err)
	assert.Equal(t, "exhausted", resp.VoucherStatus)

	_, err = claimAs(svc, v.ID, "carol")
	assert.ErrorIs(t, err, voucher.ErrExhausted)
	assert.ErrorIs(t, err, voucher.ErrNotActive)

	_, err = claimAs(svc, "missing", "carol")
	assert.ErrorIs(t, err, voucher.ErrVoucherNotFound)

	_, err = svc.ClaimVoucher(context.Background(), &ClaimVoucherRequest{VoucherID: v.ID, ClaimantID: "dave"})
	assert.ErrorIs(t, err, voucher.ErrValidation)

	claims, err := svc.ListClaims(context.Background(), v.ID)
	require.NoError(t, err)
	require.Len(t, claims, 2)
	assert.Equal(t, "alice", claims[0].ClaimantID)
	assert.Equal(t, "completed", claims[0].PayoutStatus)
}

func TestVoucherApplicationService_ClaimVoucher_InvalidRecipient(t *testing.T) {
	tests := []struct {
		name      string
		req       *CreateVoucherRequest
		recipient string
	}{
		{
			name:      "異常系: 固定額で入金先の形式が不正",
			req:       perClaimRequest("10", 1),
			recipient: "bob's wallet",
		},
		{
			name: "異常系: 総額受取で入金先の形式が不正",
			req: &CreateVoucherRequest{
				CreatorID:   "creator",
				Symbol:      "GEM",
				Mode:        "total",
				TotalPolicy: "all",
				TotalAmount: "10",
			},
			recipient: "bob wallet",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gw := newFakeGateway()
			gw.fund("creator", "GEM", "10")
			svc, _ := newTestService(t, memory.NewVoucherRepository(), gw)
			v := mustCreate(t, svc, tt.req)

			_, err := svc.ClaimVoucher(context.Background(), &ClaimVoucherRequest{
				VoucherID:        v.ID,
				ClaimantID:       "bob",
				RecipientAddress: tt.recipient,
			})
			assert.ErrorIs(t, err, voucher.ErrValidation)
			assert.Equal(t, "validation_error", voucher.Reason(err))

			// 拒否された受取は枠も残額も消費しない
			got, err := svc.GetVoucher(context.Background(), v.ID)
			require.NoError(t, err)
			assert.Equal(t, "active", got.Status)
			assert.Zero(t, got.ClaimedCount)
			claims, err := svc.ListClaims(context.Background(), v.ID)
			require.NoError(t, err)
			assert.Empty(t, claims)

			resp, err := claimAs(svc, v.ID, "carol")
			require.NoError(t, err)
			assert.Equal(t, "10", resp.Amount)
			assert.Equal(t, "10", gw.balance("addr-carol", "GEM").String())
		})
	}
}

func TestVoucherApplicationService_ConcurrentClaims(t *testing.T) {
	tests := []struct {
		name      string
		req       *CreateVoucherRequest
		claimants int
		sameID    bool
		wantWins  int
		wantErr   error
	}{
		{
			name:      "正常系: 最後の枠を多数で奪い合っても枠数しか成功しない",
			req:       perClaimRequest("10", 5),
			claimants: 40,
			wantWins:  5,
			wantErr:   voucher.ErrExhausted,
		},
		{
			name:      "正常系: 同じIDの同時受取は1回だけ成功",
			req:       perClaimRequest("10", 10),
			claimants: 20,
			sameID:    true,
			wantWins:  1,
			wantErr:   voucher.ErrAlreadyClaimed,
		},
		{
			name: "正常系: 同じIDの同時受取は上限回数だけ成功",
			req: func() *CreateVoucherRequest {
				r := perClaimRequest("10", 10)
				r.MaxClaimsPerIdentity = 3
				return r
			}(),
			claimants: 20,
			sameID:    true,
			wantWins:  3,
			wantErr:   voucher.ErrAlreadyClaimed,
		},
		{
			name: "正常系: 総額受取は1人だけが全額を受け取る",
			req: &CreateVoucherRequest{
				CreatorID:   "creator",
				Symbol:      "GEM",
				Mode:        "total",
				TotalPolicy: "all",
				TotalAmount: "100",
			},
			claimants: 10,
			wantWins:  1,
			wantErr:   voucher.ErrExhausted,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gw := newFakeGateway()
			gw.fund("creator", "GEM", "1000")
			svc, _ := newTestService(t, memory.NewVoucherRepository(), gw)
			v := mustCreate(t, svc, tt.req)

			var (
				wg   sync.WaitGroup
				mu   sync.Mutex
				wins []*ClaimVoucherResponse
				errs []error
			)
			for i := 0; i < tt.claimants; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					who := fmt.Sprintf("user-%d", i)
					if tt.sameID {
						who = "alice"
					}
					resp, err := claimAs(svc, v.ID, who)
					mu.Lock()
					defer mu.Unlock()
					if err != nil {
						errs = append(errs, err)
						return
					}
					wins = append(wins, resp)
				}(i)
			}
			wg.Wait()

			assert.Len(t, wins, tt.wantWins)
			assert.Len(t, errs, tt.claimants-tt.wantWins)
			for _, err := range errs {
				assert.ErrorIs(t, err, tt.wantErr)
			}

			got, err := svc.GetVoucher(context.Background(), v.ID)
			require.NoError(t, err)
			assert.Equal(t, tt.wantWins, got.ClaimedCount)

			// 受取総額は受取者への入金合計と一致し、確保額を超えない
			paid := decimal.Zero
			for _, w := range wins {
				paid = paid.Add(decimal.RequireFromString(w.Amount))
			}
			assert.Equal(t, got.ClaimedTotal, paid.String())
			assert.True(t, paid.LessThanOrEqual(decimal.RequireFromString(got.TotalAmount)))
			if tt.req.TotalPolicy == "all" {
				assert.Equal(t, "100", wins[0].Amount)
			}
		})
	}
}

func TestVoucherApplicationService_Contention(t *testing.T) {
	tests := []struct {
		name      string
		conflicts int
		wantErr   error
	}{
		{
			name:      "正常系: 競合が上限未満なら成功",
			conflicts: 4,
		},
		{
			name:      "異常系: 競合が上限に達するとErrContention",
			conflicts: 5,
			wantErr:   voucher.ErrContention,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := &conflictRepo{VoucherRepository: memory.NewVoucherRepository()}
			gw := newFakeGateway()
			gw.fund("creator", "GEM", "100")
			svc, _ := newTestService(t, repo, gw)
			v := mustCreate(t, svc, perClaimRequest("10", 3))

			repo.conflicts = tt.conflicts
			_, err := claimAs(svc, v.ID, "alice")
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Equal(t, "contention", voucher.Reason(err))
				got, err := svc.GetVoucher(context.Background(), v.ID)
				require.NoError(t, err)
				assert.Zero(t, got.ClaimedCount)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestVoucherApplicationService_PayoutRetry(t *testing.T) {
	gw := newFakeGateway()
	gw.fund("creator", "GEM", "100")
	repo := memory.NewVoucherRepository()
	svc, _ := newTestService(t, repo, gw)
	v := mustCreate(t, svc, perClaimRequest("10", 3))

	gw.setFailCredit("addr-alice", true)
	resp, err := claimAs(svc, v.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, "pending", resp.PayoutStatus)

	got, err := svc.GetVoucher(context.Background(), v.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.ClaimedCount)
	assert.True(t, gw.balance("addr-alice", "GEM").IsZero())

	// 入金先が復旧するまでは失敗として数える
	result, err := svc.RetryPendingPayouts(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, &RetryResult{Failed: 1}, result)

	gw.setFailCredit("addr-alice", false)
	result, err = svc.RetryPendingPayouts(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, &RetryResult{Payouts: 1}, result)
	assert.Equal(t, "10", gw.balance("addr-alice", "GEM").String())

	result, err = svc.RetryPendingPayouts(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, &RetryResult{}, result)
	assert.Equal(t, "10", gw.balance("addr-alice", "GEM").String())
}

func TestVoucherApplicationService_PayoutRetry_AbandonsPermanentFailures(t *testing.T) {
	const limit = 3

	gw := newFakeGateway()
	gw.fund("creator", "GEM", "100")
	svc, clk := newTestService(t, memory.NewVoucherRepository(), gw)
	v := mustCreate(t, svc, perClaimRequest("10", limit+1))

	// 先に受け取った limit 件が入金待ちの先頭を占める
	for i := 0; i < limit; i++ {
		who := fmt.Sprintf("user-%d", i)
		gw.setFailCredit("addr-"+who, true)
		resp, err := claimAs(svc, v.ID, who)
		require.NoError(t, err)
		assert.Equal(t, "pending", resp.PayoutStatus)
		clk.Advance(time.Second)
	}
	gw.setFailCredit("addr-alice", true)
	_, err := claimAs(svc, v.ID, "alice")
	require.NoError(t, err)
	gw.setFailCredit("addr-alice", false)

	// 通貨の取り扱い終了などで、先頭の入金は二度と成功しなくなる
	for i := 0; i < limit; i++ {
		gw.setRejectCredit(fmt.Sprintf("addr-user-%d", i), fmt.Errorf("%w: GEM", currency.ErrUnsupportedSymbol))
	}

	result, err := svc.RetryPendingPayouts(context.Background(), limit)
	require.NoError(t, err)
	assert.Equal(t, &RetryResult{Abandoned: limit}, result)

	result, err = svc.RetryPendingPayouts(context.Background(), limit)
	require.NoError(t, err)
	assert.Equal(t, &RetryResult{Payouts: 1}, result)
	assert.Equal(t, "10", gw.balance("addr-alice", "GEM").String())

	claims, err := svc.ListClaims(context.Background(), v.ID)
	require.NoError(t, err)
	require.Len(t, claims, limit+1)
	for _, c := range claims {
		want := "failed"
		if c.ClaimantID == "alice" {
			want = "completed"
		}
		assert.Equal(t, want, c.PayoutStatus, c.ClaimantID)
	}

	result, err = svc.RetryPendingPayouts(context.Background(), limit)
	require.NoError(t, err)
	assert.Equal(t, &RetryResult{}, result)
}

func TestVoucherApplicationService_ClaimVoucher_PermanentPayoutFailure(t *testing.T) {
	gw := newFakeGateway()
	gw.fund("creator", "GEM", "20")
	svc, _ := newTestService(t, memory.NewVoucherRepository(), gw)
	v := mustCreate(t, svc, perClaimRequest("10", 2))

	gw.setRejectCredit("addr-alice", fmt.Errorf("%w: %q", currency.ErrInvalidOwner, "addr-alice"))
	resp, err := claimAs(svc, v.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, "failed", resp.PayoutStatus)

	result, err := svc.RetryPendingPayouts(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, &RetryResult{}, result)
}

func TestVoucherApplicationService_RefundRetry_AbandonsPermanentFailures(t *testing.T) {
	gw := newFakeGateway()
	gw.fund("creator", "GEM", "30")
	svc, _ := newTestService(t, memory.NewVoucherRepository(), gw)
	v := mustCreate(t, svc, perClaimRequest("10", 3))

	gw.setFailCredit("creator", true)
	got, err := svc.EndVoucher(context.Background(), v.ID, "creator")
	require.NoError(t, err)
	assert.Equal(t, "pending", got.RefundStatus)

	gw.setFailCredit("creator", false)
	gw.setRejectCredit("creator", fmt.Errorf("%w: GEM", currency.ErrUnsupportedSymbol))
	result, err := svc.RetryPendingPayouts(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, &RetryResult{Abandoned: 1}, result)

	result, err = svc.RetryPendingPayouts(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, &RetryResult{}, result)

	got, err = svc.GetVoucher(context.Background(), v.ID)
	require.NoError(t, err)
	assert.Equal(t, "failed", got.RefundStatus)
	assert.Equal(t, "30", got.RefundAmount)
	assert.ErrorIs(t, svc.DeleteVoucher(context.Background(), v.ID, "creator"), voucher.ErrRefundFailed)
}

func TestIsPermanentCreditError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "正常系: 入金先が不正", err: fmt.Errorf("%w: %q", currency.ErrInvalidOwner, "x y"), want: true},
		{name: "正常系: 取り扱いのない通貨", err: currency.ErrUnsupportedSymbol, want: true},
		{name: "正常系: 金額が不正", err: currency.ErrInvalidAmount, want: true},
		{name: "正常系: 残高不足は再送対象", err: currency.ErrInsufficientBalance, want: false},
		{name: "正常系: 一時的な障害は再送対象", err: errors.New("wallet unavailable"), want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, isPermanentCreditError(tt.err))
		})
	}
}

func TestVoucherApplicationService_EndVoucher(t *testing.T) {
	tests := []struct {
		name       string
		claims     int
		requester  string
		wantErr    error
		wantRefund string
	}{
		{
			name:       "正常系: 未受取なら終了できる",
			claims:     0,
			requester:  "creator",
			wantRefund: "50",
		},
		{
			name:       "正常系: 80%以上なら終了できる",
			claims:     4,
			requester:  "creator",
			wantRefund: "10",
		},
		{
			name:      "異常系: 進捗が途中なら終了できない",
			claims:    2,
			requester: "creator",
			wantErr:   voucher.ErrCancellationNotAllowed,
		},
		{
			name:      "異常系: 作成者以外",
			claims:    0,
			requester: "mallory",
			wantErr:   voucher.ErrForbidden,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gw := newFakeGateway()
			gw.fund("creator", "GEM", "50")
			svc, _ := newTestService(t, memory.NewVoucherRepository(), gw)
			v := mustCreate(t, svc, perClaimRequest("10", 5))
			for i := 0; i < tt.claims; i++ {
				_, err := claimAs(svc, v.ID, fmt.Sprintf("user-%d", i))
				require.NoError(t, err)
			}

			got, err := svc.EndVoucher(context.Background(), v.ID, tt.requester)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.True(t, gw.balance("creator", "GEM").IsZero())
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "cancelled", got.Status)
			assert.Equal(t, tt.wantRefund, got.RefundAmount)
			assert.Equal(t, "completed", got.RefundStatus)
			assert.Equal(t, tt.wantRefund, gw.balance("creator", "GEM").String())

			_, err = svc.EndVoucher(context.Background(), v.ID, "creator")
			assert.ErrorIs(t, err, voucher.ErrNotActive)
		})
	}
}

func TestVoucherApplicationService_DeleteVoucher(t *testing.T) {
	gw := newFakeGateway()
	gw.fund("creator", "GEM", "30")
	svc, _ := newTestService(t, memory.NewVoucherRepository(), gw)
	v := mustCreate(t, svc, perClaimRequest("10", 3))

	assert.ErrorIs(t, svc.DeleteVoucher(context.Background(), v.ID, "creator"), voucher.ErrDeleteNotAllowed)

	// 払い戻しが届かない間は削除できない
	gw.setFailCredit("creator", true)
	got, err := svc.EndVoucher(context.Background(), v.ID, "creator")
	require.NoError(t, err)
	assert.Equal(t, "pending", got.RefundStatus)
	assert.ErrorIs(t, svc.DeleteVoucher(context.Background(), v.ID, "creator"), voucher.ErrRefundPending)

	gw.setFailCredit("creator", false)
	result, err := svc.RetryPendingPayouts(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Refunds)
	assert.Equal(t, "30", gw.balance("creator", "GEM").String())

	assert.ErrorIs(t, svc.DeleteVoucher(context.Background(), v.ID, "mallory"), voucher.ErrForbidden)
	require.NoError(t, svc.DeleteVoucher(context.Background(), v.ID, "creator"))
	_, err = svc.GetVoucher(context.Background(), v.ID)
	assert.ErrorIs(t, err, voucher.ErrVoucherNotFound)
	assert.ErrorIs(t, svc.DeleteVoucher(context.Background(), v.ID, "creator"), voucher.ErrVoucherNotFound)
}

func TestVoucherApplicationService_Expiry(t *testing.T) {
	t.Run("正常系: 期限切れの受取で失効し払い戻す", func(t *testing.T) {
		gw := newFakeGateway()
		gw.fund("creator", "GEM", "30")
		svc, clk := newTestService(t, memory.NewVoucherRepository(), gw)
		expires := testStart.Add(time.Hour)
		req := perClaimRequest("10", 3)
		req.ExpiresAt = &expires
		v := mustCreate(t, svc, req)

		_, err := claimAs(svc, v.ID, "alice")
		require.NoError(t, err)

		clk.Advance(2 * time.Hour)
		_, err = claimAs(svc, v.ID, "bob")
		assert.ErrorIs(t, err, voucher.ErrExpired)

		got, err := svc.GetVoucher(context.Background(), v.ID)
		require.NoError(t, err)
		assert.Equal(t, "expired", got.Status)
		assert.Equal(t, "20", got.RefundAmount)
		assert.Equal(t, "completed", got.RefundStatus)
		assert.Equal(t, "20", gw.balance("creator", "GEM").String())

		_, err = claimAs(svc, v.ID, "carol")
		assert.ErrorIs(t, err, voucher.ErrExpired)
		assert.Equal(t, "20", gw.balance("creator", "GEM").String())
	})

	t.Run("正常系: 定期処理で期限切れを失効させる", func(t *testing.T) {
		gw := newFakeGateway()
		gw.fund("creator", "GEM", "100")
		svc, clk := newTestService(t, memory.NewVoucherRepository(), gw)
		soon := testStart.Add(time.Hour)
		later := testStart.Add(5 * time.Hour)

		reqSoon := perClaimRequest("10", 2)
		reqSoon.ExpiresAt = &soon
		vSoon := mustCreate(t, svc, reqSoon)
		reqLater := perClaimRequest("10", 2)
		reqLater.ExpiresAt = &later
		vLater := mustCreate(t, svc, reqLater)
		assert.Equal(t, "60", gw.balance("creator", "GEM").String())

		clk.Advance(2 * time.Hour)
		result, err := svc.ExpireDueVouchers(context.Background(), 10)
		require.NoError(t, err)
		assert.Equal(t, &SweepResult{Expired: 1, Refunded: 1}, result)
		assert.Equal(t, "80", gw.balance("creator", "GEM").String())

		got, err := svc.GetVoucher(context.Background(), vSoon.ID)
		require.NoError(t, err)
		assert.Equal(t, "expired", got.Status)
		got, err = svc.GetVoucher(context.Background(), vLater.ID)
		require.NoError(t, err)
		assert.Equal(t, "active", got.Status)

		result, err = svc.ExpireDueVouchers(context.Background(), 10)
		require.NoError(t, err)
		assert.Equal(t, &SweepResult{}, result)
	})
}

func TestVoucherApplicationService_ShareLinks(t *testing.T) {
	gw := newFakeGateway()
	gw.fund("creator", "GEM", "10")
	svc, _ := newTestService(t, memory.NewVoucherRepository(), gw)
	v := mustCreate(t, svc, perClaimRequest("10", 1))

	link, err := svc.BuildClaimURI(context.Background(), v.ID)
	require.NoError(t, err)
	assert.Equal(t, "gift://voucher/"+v.ID, link.ShareURI)

	id, err := svc.ParseClaimURI(link.WebLink)
	require.NoError(t, err)
	assert.Equal(t, v.ID, id)

	resp, err := svc.ClaimByURI(context.Background(), &ClaimByURIRequest{
		URI:              "  " + link.ShareURI + " ",
		ClaimantID:       "alice",
		RecipientAddress: "0xalice",
	})
	require.NoError(t, err)
	assert.Equal(t, v.ID, resp.VoucherID)

	_, err = svc.ClaimByURI(context.Background(), &ClaimByURIRequest{URI: "https://evil.example.com/v/" + v.ID, ClaimantID: "bob", RecipientAddress: "0xbob"})
	assert.ErrorIs(t, err, sharelink.ErrInvalidShareURI)

	_, err = svc.BuildClaimURI(context.Background(), "00000000-0000-0000-0000-000000000000")
	assert.ErrorIs(t, err, voucher.ErrVoucherNotFound)
}

func TestVoucherApplicationService_Listings(t *testing.T) {
	gw := newFakeGateway()
	gw.fund("creator", "GEM", "100")
	gw.fund("other", "GEM", "100")
	svc, clk := newTestService(t, memory.NewVoucherRepository(), gw)

	first := mustCreate(t, svc, perClaimRequest("10", 1))
	clk.Advance(time.Minute)
	hidden := perClaimRequest("10", 1)
	hidden.Public = false
	second := mustCreate(t, svc, hidden)
	clk.Advance(time.Minute)
	otherReq := perClaimRequest("5", 2)
	otherReq.CreatorID = "other"
	mustCreate(t, svc, otherReq)

	mine, err := svc.ListVouchersByCreator(context.Background(), "creator", 10, 0)
	require.NoError(t, err)
	require.Len(t, mine, 2)
	assert.Equal(t, second.ID, mine[0].ID)
	assert.Equal(t, first.ID, mine[1].ID)

	_, err = claimAs(svc, first.ID, "alice")
	require.NoError(t, err)

	public, err := svc.ListActivePublicVouchers(context.Background(), 10, 0)
	require.NoError(t, err)
	require.Len(t, public, 1)
	assert.Equal(t, "other", public[0].CreatorID)

	_, err = svc.ListClaims(context.Background(), "missing")
	assert.ErrorIs(t, err, voucher.ErrVoucherNotFound)
}
