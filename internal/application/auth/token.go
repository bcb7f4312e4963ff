package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"gift-server/internal/infrastructure/config"
)

var (
	// ErrMalformedHeader Authorizationヘッダーが "Bearer <token>" 形式でない
	ErrMalformedHeader = errors.New("invalid authorization header format")
	// ErrInvalidToken 署名・有効期限・クレームのいずれかが不正
	ErrInvalidToken = errors.New("invalid or expired token")
)

// Claims ギフトAPIのアクセストークンに載せるクレーム
// user_id は残高の所有者IDと同じ値
type Claims struct {
	UserID string `json:"user_id"`
	jwt.RegisteredClaims
}

// IssueToken userID 用のトークンを署名する
func IssueToken(cfg *config.JWTConfig, userID string, now time.Time) (string, *Claims, error) {
	claims := &Claims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   userID,
			Issuer:    cfg.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(cfg.Expiration)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(cfg.Secret))
	if err != nil {
		return "", nil, err
	}
	return signed, claims, nil
}

// BearerToken Authorizationヘッダーからトークン部分を取り出す
func BearerToken(header string) (string, error) {
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || scheme != "Bearer" || token == "" || strings.Contains(token, " ") {
		return "", ErrMalformedHeader
	}
	return token, nil
}

// VerifyToken トークンを検証してユーザーIDを返す
func VerifyToken(cfg *config.JWTConfig, tokenString string) (string, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"})}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(*jwt.Token) (interface{}, error) {
		return []byte(cfg.Secret), nil
	}, opts...)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid || claims.UserID == "" {
		return "", fmt.Errorf("%w: missing user_id", ErrInvalidToken)
	}
	return claims.UserID, nil
}
