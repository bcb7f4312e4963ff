package handler

import "time"

// GenerateTokenRequest トークン生成リクエスト
// @Description トークン生成リクエスト
type GenerateTokenRequest struct {
	UserID string `json:"user_id" example:"user123"`
}

// GenerateTokenResponse トークン生成レスポンス
// @Description トークン生成レスポンス
type GenerateTokenResponse struct {
	Token     string    `json:"token" example:"eyJhbGciOiJIUzI1NiIsInR5cCI6IkpXVCJ9.eyJ1c2VyX2lkIjoidXNlcjEyMyJ9.signature"`
	ExpiresIn int       `json:"expires_in" example:"86400"`
	ExpiresAt time.Time `json:"expires_at" example:"2026-02-02T09:00:00Z"`
	TokenType string    `json:"token_type" example:"Bearer"`
}

// ErrorResponse エラーレスポンス
// @Description エラーレスポンス（error は機械可読な理由コード）
type ErrorResponse struct {
	Error   string `json:"error" example:"exhausted"`
	Message string `json:"message" example:"voucher not active: exhausted"`
}
