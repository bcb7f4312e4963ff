package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"gift-server/internal/domain/currency"
	"gift-server/internal/infrastructure/config"
	otelinfra "gift-server/internal/infrastructure/observability/otel"
)

// ErrInvalidUserID ユーザーIDが空または使えない文字を含む
var ErrInvalidUserID = errors.New("invalid user_id")

// AuthApplicationService ギフトの作成者・受取者を識別するトークンを発行する
type AuthApplicationService struct {
	jwtConfig *config.JWTConfig
	logger    *otelinfra.Logger
	tracer    trace.Tracer
	now       func() time.Time
}

// NewAuthApplicationService 新しいAuthApplicationServiceを作成
func NewAuthApplicationService(jwtConfig *config.JWTConfig, logger *otelinfra.Logger) *AuthApplicationService {
	return &AuthApplicationService{
		jwtConfig: jwtConfig,
		logger:    logger,
		tracer:    otel.Tracer("auth-service"),
		now:       time.Now,
	}
}

// GenerateToken ユーザーIDに対するアクセストークンを発行
// ユーザーIDは残高の所有者IDとしても使うため同じ形式に限る
func (s *AuthApplicationService) GenerateToken(ctx context.Context, req *GenerateTokenRequest) (*GenerateTokenResponse, error) {
	ctx, span := s.tracer.Start(ctx, "AuthApplicationService.GenerateToken")
	defer span.End()
	span.SetAttributes(attribute.String("user_id", req.UserID))

	if !currency.ValidOwner(req.UserID) {
		err := fmt.Errorf("%w: %q", ErrInvalidUserID, req.UserID)
		span.SetStatus(codes.Error, err.Error())
		s.logger.Warn(ctx, "Invalid user id", map[string]interface{}{"user_id": req.UserID})
		return nil, err
	}

	token, claims, err := IssueToken(s.jwtConfig, req.UserID, s.now())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.logger.Error(ctx, "Failed to sign token", err, map[string]interface{}{"user_id": req.UserID})
		return nil, fmt.Errorf("failed to generate token: %w", err)
	}

	expiresAt := claims.ExpiresAt.Time.UTC()
	s.logger.Info(ctx, "Token issued", map[string]interface{}{
		"user_id":    req.UserID,
		"token_id":   claims.ID,
		"expires_at": expiresAt.Unix(),
	})

	return &GenerateTokenResponse{
		Token:     token,
		ExpiresIn: int64(s.jwtConfig.Expiration.Seconds()),
		ExpiresAt: expiresAt,
		TokenType: "Bearer",
	}, nil
}
