package handler

import (
	"context"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	voucherapp "gift-server/internal/application/voucher"
	walletapp "gift-server/internal/application/wallet"
)

func newVoucherTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := newTestEnv(t)
	h := NewVoucherHandler(env.voucher)

	env.echo.POST("/vouchers", h.CreateVoucher)
	env.echo.GET("/vouchers/public", h.ListPublicVouchers)
	env.echo.POST("/vouchers/claim", h.ClaimByURI)
	env.echo.GET("/vouchers/:id", h.GetVoucher)
	env.echo.DELETE("/vouchers/:id", h.DeleteVoucher)
	env.echo.POST("/vouchers/:id/claim", h.ClaimVoucher)
	env.echo.POST("/vouchers/:id/end", h.EndVoucher)
	env.echo.GET("/vouchers/:id/claims", h.ListClaims)
	env.echo.GET("/vouchers/:id/share", h.GetShareLink)
	env.echo.GET("/me/vouchers", h.ListMyVouchers)
	env.echo.POST("/share/parse", h.ParseShareURI)
	return env
}

func equalSplit(creator, amount string, people int) *voucherapp.CreateVoucherRequest {
	return &voucherapp.CreateVoucherRequest{
		CreatorID:   creator,
		Symbol:      "USDT",
		Mode:        "total",
		TotalPolicy: "equal",
		TotalAmount: amount,
		TotalPeople: people,
		Public:      true,
	}
}

func balanceOf(t *testing.T, env *testEnv, owner, symbol string) string {
	t.Helper()
	resp, err := env.wallet.GetBalance(context.Background(), &walletapp.GetBalanceRequest{Owner: owner})
	require.NoError(t, err)
	for _, b := range resp.Balances {
		if b.Symbol == symbol {
			return b.Amount
		}
	}
	t.Fatalf("symbol %s not found in balances", symbol)
	return ""
}

func TestVoucherHandler_CreateVoucher(t *testing.T) {
	tests := []struct {
		name           string
		userID         string
		body           CreateVoucherRequest
		expectedStatus int
		expectedReason string
		validate       func(*testing.T, *testEnv, CreateVoucherResponse)
	}{
		{
			name:   "正常系: 均等分割のギフトを作成",
			userID: "alice",
			body: CreateVoucherRequest{
				Symbol:      "USDT",
				Mode:        "total",
				TotalPolicy: "equal",
				TotalAmount: "100",
				TotalPeople: 3,
				Public:      true,
			},
			expectedStatus: http.StatusCreated,
			validate: func(t *testing.T, env *testEnv, resp CreateVoucherResponse) {
				assert.Equal(t, "alice", resp.Voucher.CreatorID)
				assert.Equal(t, "active", resp.Voucher.Status)
				assert.Equal(t, "33.333333", resp.Voucher.PerClaimAmount)
				assert.Equal(t, 3, resp.Voucher.ClaimLimit)
				assert.Equal(t, "gift://voucher/"+resp.Voucher.ID, resp.ShareURI)
				assert.Equal(t, "https://gift.example.com/v/"+resp.Voucher.ID, resp.WebLink)
			},
		},
		{
			name:   "正常系: 固定額のギフトを作成すると総額が引き当てられる",
			userID: "alice",
			body: CreateVoucherRequest{
				Symbol:         "GEM",
				Mode:           "per_claim",
				PerClaimAmount: "5",
				ClaimLimit:     4,
			},
			expectedStatus: http.StatusCreated,
			validate: func(t *testing.T, env *testEnv, resp CreateVoucherResponse) {
				assert.Equal(t, "20", resp.Voucher.TotalAmount)
				assert.Equal(t, "20", resp.Voucher.RemainingAmount)
				assert.False(t, resp.Voucher.Public)
				assert.Equal(t, "80", balanceOf(t, env, "alice", "GEM"))
			},
		},
		{
			name:   "異常系: 残高不足",
			userID: "alice",
			body: CreateVoucherRequest{
				Symbol:      "USDT",
				Mode:        "total",
				TotalPolicy: "all",
				TotalAmount: "1000",
			},
			expectedStatus: http.StatusConflict,
			expectedReason: "insufficient_balance",
		},
		{
			name:   "異常系: 取り扱いのない通貨",
			userID: "alice",
			body: CreateVoucherRequest{
				Symbol:         "DOGE",
				Mode:           "per_claim",
				PerClaimAmount: "1",
				ClaimLimit:     1,
			},
			expectedStatus: http.StatusBadRequest,
			expectedReason: "validation_error",
		},
		{
			name:   "異常系: 人数が多すぎて最小単位を下回る",
			userID: "alice",
			body: CreateVoucherRequest{
				Symbol:      "GEM",
				Mode:        "total",
				TotalPolicy: "equal",
				TotalAmount: "2",
				TotalPeople: 3,
			},
			expectedStatus: http.StatusBadRequest,
			expectedReason: "validation_error",
		},
		{
			name: "異常系: 認証情報なし",
			body: CreateVoucherRequest{
				Symbol:         "GEM",
				Mode:           "per_claim",
				PerClaimAmount: "1",
				ClaimLimit:     1,
			},
			expectedStatus: http.StatusUnauthorized,
			expectedReason: "Unauthorized",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newVoucherTestEnv(t)
			env.grant(t, "alice", "USDT", "100")
			env.grant(t, "alice", "GEM", "100")

			rec := env.do(t, tt.userID, http.MethodPost, "/vouchers", tt.body)
			if tt.expectedReason != "" {
				assertErrorReason(t, rec, tt.expectedStatus, tt.expectedReason)
				return
			}

			require.Equal(t, tt.expectedStatus, rec.Code, rec.Body.String())
			var resp CreateVoucherResponse
			decode(t, rec, &resp)
			tt.validate(t, env, resp)
		})
	}
}

func TestVoucherHandler_ClaimVoucher(t *testing.T) {
	env := newVoucherTestEnv(t)
	env.grant(t, "alice", "USDT", "100")
	id := env.createVoucher(t, equalSplit("alice", "100", 3))

	claim := func(userID string, body ClaimVoucherRequest) (int, ClaimVoucherResponse, string) {
		rec := env.do(t, userID, http.MethodPost, "/vouchers/"+id+"/claim", body)
		var resp ClaimVoucherResponse
		var errResp ErrorResponse
		if rec.Code == http.StatusOK {
			decode(t, rec, &resp)
		} else {
			decode(t, rec, &errResp)
		}
		return rec.Code, resp, errResp.Error
	}

	// 受取先を省略すると自分に入金される
	status, resp, _ := claim("bob", ClaimVoucherRequest{})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "33.333333", resp.Amount)
	assert.Equal(t, "USDT", resp.Symbol)
	assert.Equal(t, "completed", resp.PayoutStatus)
	assert.Equal(t, "active", resp.VoucherStatus)
	assert.Equal(t, "33.333333", balanceOf(t, env, "bob", "USDT"))

	status, _, reason := claim("bob", ClaimVoucherRequest{})
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "already_claimed", reason)

	// 入金できない受取先は枠を消費せずに拒否する
	status, _, reason = claim("carol", ClaimVoucherRequest{RecipientAddress: "carol's wallet"})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "validation_error", reason)

	status, resp, _ = claim("carol", ClaimVoucherRequest{RecipientAddress: "carol-wallet"})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "33.333333", balanceOf(t, env, "carol-wallet", "USDT"))
	assert.Equal(t, "0", balanceOf(t, env, "carol", "USDT"))

	status, resp, _ = claim("dave", ClaimVoucherRequest{})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "exhausted", resp.VoucherStatus)

	status, _, reason = claim("eve", ClaimVoucherRequest{})
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "exhausted", reason)

	rec := env.do(t, "alice", http.MethodGet, "/vouchers/"+id+"/claims", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var claims ClaimListResponse
	decode(t, rec, &claims)
	assert.Equal(t, id, claims.VoucherID)
	require.Len(t, claims.Claims, 3)
	for _, c := range claims.Claims {
		assert.Equal(t, "completed", c.PayoutStatus)
	}
}

func TestVoucherHandler_ClaimVoucher_Errors(t *testing.T) {
	tests := []struct {
		name           string
		userID         string
		setup          func(*testing.T, *testEnv) string
		expectedStatus int
		expectedReason string
	}{
		{
			name:   "異常系: 存在しないギフト",
			userID: "bob",
			setup: func(*testing.T, *testEnv) string {
				return "6f1c1f8e-7d3a-4a38-9d7c-1b2a3c4d5e6f"
			},
			expectedStatus: http.StatusNotFound,
			expectedReason: "voucher_not_found",
		},
		{
			name:   "異常系: 期限切れ",
			userID: "bob",
			setup: func(t *testing.T, env *testEnv) string {
				req := equalSplit("alice", "10", 2)
				expires := fixtureNow.Add(time.Hour)
				req.ExpiresAt = &expires
				id := env.createVoucher(t, req)
				env.clock.Advance(2 * time.Hour)
				return id
			},
			expectedStatus: http.StatusConflict,
			expectedReason: "expired",
		},
		{
			name:   "異常系: 終了済み",
			userID: "bob",
			setup: func(t *testing.T, env *testEnv) string {
				id := env.createVoucher(t, equalSplit("alice", "10", 2))
				_, err := env.voucher.EndVoucher(context.Background(), id, "alice")
				require.NoError(t, err)
				return id
			},
			expectedStatus: http.StatusConflict,
			expectedReason: "not_active",
		},
		{
			name: "異常系: 認証情報なし",
			setup: func(t *testing.T, env *testEnv) string {
				return env.createVoucher(t, equalSplit("alice", "10", 2))
			},
			expectedStatus: http.StatusUnauthorized,
			expectedReason: "Unauthorized",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newVoucherTestEnv(t)
			env.grant(t, "alice", "USDT", "100")
			id := tt.setup(t, env)

			rec := env.do(t, tt.userID, http.MethodPost, "/vouchers/"+id+"/claim", ClaimVoucherRequest{})
			assertErrorReason(t, rec, tt.expectedStatus, tt.expectedReason)
		})
	}
}

func TestVoucherHandler_ClaimByURI(t *testing.T) {
	tests := []struct {
		name           string
		uri            func(id string) string
		expectedStatus int
		expectedReason string
	}{
		{
			name:           "正常系: 共有URIで受け取る",
			uri:            func(id string) string { return "gift://voucher/" + id },
			expectedStatus: http.StatusOK,
		},
		{
			name:           "正常系: WebリンクでもOK",
			uri:            func(id string) string { return "https://gift.example.com/v/" + id },
			expectedStatus: http.StatusOK,
		},
		{
			name:           "異常系: スキームのないID",
			uri:            func(id string) string { return id },
			expectedStatus: http.StatusBadRequest,
			expectedReason: "invalid_share_uri",
		},
		{
			name:           "異常系: URIが空",
			uri:            func(string) string { return "" },
			expectedStatus: http.StatusBadRequest,
			expectedReason: "Bad Request",
		},
		{
			name:           "異常系: 別スキームのURI",
			uri:            func(id string) string { return "other://voucher/" + id },
			expectedStatus: http.StatusBadRequest,
			expectedReason: "invalid_share_uri",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newVoucherTestEnv(t)
			env.grant(t, "alice", "USDT", "100")
			id := env.createVoucher(t, equalSplit("alice", "10", 2))

			rec := env.do(t, "bob", http.MethodPost, "/vouchers/claim", ClaimByURIRequest{URI: tt.uri(id)})
			if tt.expectedReason != "" {
				assertErrorReason(t, rec, tt.expectedStatus, tt.expectedReason)
				return
			}

			require.Equal(t, tt.expectedStatus, rec.Code, rec.Body.String())
			var resp ClaimVoucherResponse
			decode(t, rec, &resp)
			assert.Equal(t, id, resp.VoucherID)
			assert.Equal(t, "5", resp.Amount)
		})
	}
}

func TestVoucherHandler_GetVoucher(t *testing.T) {
	env := newVoucherTestEnv(t)
	env.grant(t, "alice", "USDT", "100")
	id := env.createVoucher(t, equalSplit("alice", "100", 4))
	rec := env.do(t, "bob", http.MethodPost, "/vouchers/"+id+"/claim", ClaimVoucherRequest{})
	require.Equal(t, http.StatusOK, rec.Code)

	t.Run("正常系: 進捗を含めて取得", func(t *testing.T) {
		rec := env.do(t, "carol", http.MethodGet, "/vouchers/"+id, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		var resp VoucherResponse
		decode(t, rec, &resp)
		assert.Equal(t, id, resp.ID)
		assert.Equal(t, 1, resp.ClaimedCount)
		assert.Equal(t, "25", resp.ClaimedTotal)
		assert.Equal(t, "75", resp.RemainingAmount)
		assert.InDelta(t, 0.25, resp.Progress, 1e-9)
		assert.Equal(t, "gift://voucher/"+id, resp.ShareURI)
	})

	t.Run("異常系: 存在しないギフト", func(t *testing.T) {
		rec := env.do(t, "carol", http.MethodGet, "/vouchers/unknown-id", nil)
		assertErrorReason(t, rec, http.StatusNotFound, "voucher_not_found")
	})
}

func TestVoucherHandler_EndAndDelete(t *testing.T) {
	tests := []struct {
		name           string
		userID         string
		claims         []string
		endStatus      int
		endReason      string
		deleteStatus   int
		deleteReason   string
		creatorBalance string
	}{
		{
			name:           "正常系: 未受取で終了すると全額が払い戻される",
			userID:         "alice",
			endStatus:      http.StatusOK,
			deleteStatus:   http.StatusNoContent,
			creatorBalance: "100",
		},
		{
			name:           "正常系: 8割以上受け取られていれば終了できる",
			userID:         "alice",
			claims:         []string{"u1", "u2", "u3", "u4"},
			endStatus:      http.StatusOK,
			deleteStatus:   http.StatusNoContent,
			creatorBalance: "20",
		},
		{
			name:           "異常系: 受取途中は終了できない",
			userID:         "alice",
			claims:         []string{"u1"},
			endStatus:      http.StatusConflict,
			endReason:      "cancellation_not_allowed",
			deleteStatus:   http.StatusConflict,
			deleteReason:   "delete_not_allowed",
			creatorBalance: "0",
		},
		{
			name:           "異常系: 作成者以外は終了できない",
			userID:         "mallory",
			endStatus:      http.StatusForbidden,
			endReason:      "forbidden",
			deleteStatus:   http.StatusForbidden,
			deleteReason:   "forbidden",
			creatorBalance: "0",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newVoucherTestEnv(t)
			env.grant(t, "alice", "USDT", "100")
			id := env.createVoucher(t, equalSplit("alice", "100", 5))
			for _, claimant := range tt.claims {
				rec := env.do(t, claimant, http.MethodPost, "/vouchers/"+id+"/claim", ClaimVoucherRequest{})
				require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
			}

			rec := env.do(t, tt.userID, http.MethodPost, "/vouchers/"+id+"/end", nil)
			if tt.endReason != "" {
				assertErrorReason(t, rec, tt.endStatus, tt.endReason)
			} else {
				require.Equal(t, tt.endStatus, rec.Code, rec.Body.String())
				var resp VoucherResponse
				decode(t, rec, &resp)
				assert.Equal(t, "cancelled", resp.Status)
				assert.Equal(t, "completed", resp.RefundStatus)
			}

			rec = env.do(t, tt.userID, http.MethodDelete, "/vouchers/"+id, nil)
			if tt.deleteReason != "" {
				assertErrorReason(t, rec, tt.deleteStatus, tt.deleteReason)
			} else {
				require.Equal(t, tt.deleteStatus, rec.Code, rec.Body.String())
				rec = env.do(t, tt.userID, http.MethodGet, "/vouchers/"+id, nil)
				assert.Equal(t, http.StatusNotFound, rec.Code)
			}

			assert.Equal(t, tt.creatorBalance, balanceOf(t, env, "alice", "USDT"))
		})
	}
}

func TestVoucherHandler_ShareLink(t *testing.T) {
	env := newVoucherTestEnv(t)
	env.grant(t, "alice", "USDT", "100")
	id := env.createVoucher(t, equalSplit("alice", "10", 2))

	t.Run("正常系: 共有リンクを取得", func(t *testing.T) {
		rec := env.do(t, "alice", http.MethodGet, "/vouchers/"+id+"/share", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		var resp ShareLinkResponse
		decode(t, rec, &resp)
		assert.Equal(t, id, resp.VoucherID)
		assert.Equal(t, "gift://voucher/"+id, resp.ShareURI)
		assert.Equal(t, "https://gift.example.com/v/"+id, resp.WebLink)
	})

	parseTests := []struct {
		name           string
		uri            string
		expectedStatus int
		expectedReason string
	}{
		{
			name:           "正常系: 大文字のスキームも解析できる",
			uri:            "GIFT://voucher/" + id,
			expectedStatus: http.StatusOK,
		},
		{
			name:           "異常系: 不正なURI",
			uri:            "gift://voucher/",
			expectedStatus: http.StatusBadRequest,
			expectedReason: "invalid_share_uri",
		},
	}
	for _, tt := range parseTests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, "alice", http.MethodPost, "/share/parse", ParseURIRequest{URI: tt.uri})
			if tt.expectedReason != "" {
				assertErrorReason(t, rec, tt.expectedStatus, tt.expectedReason)
				return
			}
			require.Equal(t, tt.expectedStatus, rec.Code, rec.Body.String())
			var resp ParseURIResponse
			decode(t, rec, &resp)
			assert.Equal(t, id, resp.ID)
		})
	}
}

func TestVoucherHandler_Lists(t *testing.T) {
	env := newVoucherTestEnv(t)
	env.grant(t, "alice", "USDT", "100")
	env.grant(t, "bob", "USDT", "100")

	publicID := env.createVoucher(t, equalSplit("alice", "10", 2))
	privateReq := equalSplit("alice", "10", 2)
	privateReq.Public = false
	env.createVoucher(t, privateReq)
	env.createVoucher(t, equalSplit("bob", "10", 2))

	t.Run("正常系: 自分のギフト一覧", func(t *testing.T) {
		rec := env.do(t, "alice", http.MethodGet, "/me/vouchers", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		var resp VoucherListResponse
		decode(t, rec, &resp)
		assert.Len(t, resp.Vouchers, 2)
		assert.Equal(t, 50, resp.Limit)
		for _, v := range resp.Vouchers {
			assert.Equal(t, "alice", v.CreatorID)
		}
	})

	t.Run("正常系: 公開中のギフト一覧", func(t *testing.T) {
		rec := env.do(t, "carol", http.MethodGet, "/vouchers/public?limit=10", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		var resp VoucherListResponse
		decode(t, rec, &resp)
		assert.Len(t, resp.Vouchers, 2)
		ids := make([]string, 0, len(resp.Vouchers))
		for _, v := range resp.Vouchers {
			assert.True(t, v.Public)
			ids = append(ids, v.ID)
		}
		assert.Contains(t, strings.Join(ids, ","), publicID)
	})

	t.Run("異常系: limitが範囲外", func(t *testing.T) {
		rec := env.do(t, "alice", http.MethodGet, "/me/vouchers?limit=101", nil)
		assertErrorReason(t, rec, http.StatusBadRequest, "Bad Request")
	})

	t.Run("異常系: offsetが負", func(t *testing.T) {
		rec := env.do(t, "alice", http.MethodGet, "/vouchers/public?offset=-1", nil)
		assertErrorReason(t, rec, http.StatusBadRequest, "Bad Request")
	})
}
