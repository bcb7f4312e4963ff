package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	"gift-server/internal/infrastructure/config"
	otelinfra "gift-server/internal/infrastructure/observability/otel"
)

func signToken(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	tokenString, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return tokenString
}

func TestAuthMiddleware(t *testing.T) {
	cfg := &config.JWTConfig{
		Secret: "test-secret",
	}
	valid := signToken(t, cfg.Secret, jwt.MapClaims{
		"user_id": "user123",
		"exp":     time.Now().Add(time.Hour).Unix(),
	})

	tests := []struct {
		name       string
		header     string
		wantStatus int
		wantUserID string
	}{
		{
			name:       "正常系: 有効なトークン",
			header:     "Bearer " + valid,
			wantStatus: http.StatusOK,
			wantUserID: "user123",
		},
		{
			name:       "異常系: Authorizationヘッダーなし",
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "異常系: Bearer形式でない",
			header:     "InvalidFormat token",
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "異常系: 不正なトークン",
			header:     "Bearer invalid-token",
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "異常系: user_idがない",
			header:     "Bearer " + signToken(t, cfg.Secret, jwt.MapClaims{"other_claim": "value"}),
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "異常系: user_idが文字列でない",
			header:     "Bearer " + signToken(t, cfg.Secret, jwt.MapClaims{"user_id": 123}),
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "異常系: 異なるシークレット",
			header:     "Bearer " + signToken(t, "wrong-secret", jwt.MapClaims{"user_id": "user123"}),
			wantStatus: http.StatusUnauthorized,
		},
		{
			name: "異常系: 有効期限切れ",
			header: "Bearer " + signToken(t, cfg.Secret, jwt.MapClaims{
				"user_id": "user123",
				"exp":     time.Now().Add(-time.Hour).Unix(),
			}),
			wantStatus: http.StatusUnauthorized,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger := otelinfra.NewLogger(noop.NewTracerProvider().Tracer("test"))

			e := echo.New()
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			c := e.NewContext(req, rec)

			var gotUserID string
			handler := AuthMiddleware(cfg, logger)(func(c echo.Context) error {
				gotUserID = UserID(c)
				return c.String(http.StatusOK, "ok")
			})

			require.NoError(t, handler(c))
			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, tt.wantUserID, gotUserID)
		})
	}
}
