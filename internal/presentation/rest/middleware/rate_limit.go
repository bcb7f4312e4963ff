package middleware

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"golang.org/x/time/rate"

	"gift-server/internal/infrastructure/config"
	otelinfra "gift-server/internal/infrastructure/observability/otel"
)

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter 利用者ごとのレート制限
// 認証済みならユーザーID、未認証ならクライアントIPをキーにする
type RateLimiter struct {
	visitors map[string]*visitor
	mu       sync.Mutex
	rate     rate.Limit
	burst    int
	enabled  bool
	logger   *otelinfra.Logger
	now      func() time.Time
}

// NewRateLimiter 新しいRateLimiterを作成
func NewRateLimiter(cfg *config.RateLimitConfig, logger *otelinfra.Logger) *RateLimiter {
	return &RateLimiter{
		visitors: make(map[string]*visitor),
		rate:     rate.Limit(cfg.RPS),
		burst:    cfg.Burst,
		enabled:  cfg.Enabled,
		logger:   logger,
		now:      time.Now,
	}
}

func (rl *RateLimiter) limiter(key string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	v, ok := rl.visitors[key]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(rl.rate, rl.burst)}
		rl.visitors[key] = v
	}
	v.lastSeen = rl.now()
	return v.limiter
}

// Middleware echoミドルウェアを返す
func (rl *RateLimiter) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if !rl.enabled {
				return next(c)
			}

			key := UserID(c)
			if key == "" {
				key = getClientIP(c)
			}

			if !rl.limiter(key).Allow() {
				rl.logger.Warn(c.Request().Context(), "Rate limit exceeded", map[string]interface{}{
					"key":    key,
					"path":   c.Path(),
					"method": c.Request().Method,
				})
				c.Response().Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds(rl.rate)))
				return c.JSON(http.StatusTooManyRequests, ErrorResponse{
					Error:   "rate_limited",
					Message: "Too many requests",
				})
			}
			return next(c)
		}
	}
}

// Cleanup idle より長く使われていない利用者の状態を破棄する
func (rl *RateLimiter) Cleanup(_ context.Context, idle time.Duration) int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := rl.now().Add(-idle)
	removed := 0
	for key, v := range rl.visitors {
		if v.lastSeen.Before(cutoff) {
			delete(rl.visitors, key)
			removed++
		}
	}
	return removed
}

// Len 追跡中の利用者数
func (rl *RateLimiter) Len() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.visitors)
}

func retryAfterSeconds(r rate.Limit) int {
	if r <= 0 || r >= 1 {
		return 1
	}
	return int(1/float64(r) + 0.5)
}
