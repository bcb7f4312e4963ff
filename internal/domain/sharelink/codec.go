// Package sharelink はギフトIDと共有用URIの相互変換を扱う
package sharelink

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/google/uuid"
)

const (
	// DefaultScheme 共有URIの既定スキーム
	DefaultScheme = "gift"
	host          = "voucher"
	webPathPrefix = "/v/"
)

// ErrInvalidShareURI 共有URIが不正
var ErrInvalidShareURI = errors.New("invalid share uri")

// DecodeError 共有URIの解析に失敗したことを表すエラー
type DecodeError struct {
	Input  string
	Reason string
}

// Error エラーメッセージを返す
func (e *DecodeError) Error() string {
	return fmt.Sprintf("invalid share uri %q: %s", e.Input, e.Reason)
}

// Is errors.Is 用の判定
func (e *DecodeError) Is(target error) bool {
	return target == ErrInvalidShareURI
}

// Codec 共有URIのエンコーダ/デコーダ
type Codec struct {
	scheme  string
	webBase *url.URL
}

// NewCodec 新しいCodecを作成
// webBase が空でなければ "<webBase>/v/<id>" 形式のリンクも扱う
func NewCodec(scheme, webBase string) (*Codec, error) {
	if scheme == "" {
		scheme = DefaultScheme
	}
	scheme = strings.ToLower(scheme)
	c := &Codec{scheme: scheme}
	if webBase != "" {
		u, err := url.Parse(strings.TrimRight(webBase, "/"))
		if err != nil || u.Scheme == "" || u.Host == "" {
			return nil, fmt.Errorf("invalid share link base: %q", webBase)
		}
		c.webBase = u
	}
	return c, nil
}

// Encode ギフトIDを共有URIに変換
func (c *Codec) Encode(voucherID string) string {
	return c.scheme + "://" + host + "/" + voucherID
}

// WebLink ブラウザ用のリンクを返す。ベースURL未設定の場合は空文字
func (c *Codec) WebLink(voucherID string) string {
	if c.webBase == nil {
		return ""
	}
	return c.webBase.String() + webPathPrefix + voucherID
}

// Decode 共有URIからギフトIDを取り出す
func (c *Codec) Decode(raw string) (string, error) {
	input := strings.TrimSpace(raw)
	if input == "" {
		return "", &DecodeError{Input: raw, Reason: "empty"}
	}
	u, err := url.Parse(input)
	if err != nil {
		return "", &DecodeError{Input: raw, Reason: "malformed"}
	}

	var id string
	switch {
	case strings.EqualFold(u.Scheme, c.scheme):
		if !strings.EqualFold(u.Host, host) {
			return "", &DecodeError{Input: raw, Reason: "unexpected host"}
		}
		id = strings.TrimPrefix(u.Path, "/")
	case c.webBase != nil && strings.EqualFold(u.Scheme, c.webBase.Scheme) && strings.EqualFold(u.Host, c.webBase.Host):
		prefix := strings.TrimRight(c.webBase.Path, "/") + webPathPrefix
		if !strings.HasPrefix(u.Path, prefix) {
			return "", &DecodeError{Input: raw, Reason: "unexpected path"}
		}
		id = strings.TrimPrefix(u.Path, prefix)
	default:
		return "", &DecodeError{Input: raw, Reason: "unexpected scheme"}
	}

	if id == "" || strings.Contains(id, "/") {
		return "", &DecodeError{Input: raw, Reason: "voucher id must be a single path segment"}
	}
	parsed, err := uuid.Parse(id)
	if err != nil {
		return "", &DecodeError{Input: raw, Reason: "voucher id is not a uuid"}
	}
	return parsed.String(), nil
}
