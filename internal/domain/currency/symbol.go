package currency

import (
	"fmt"
	"regexp"
	"strings"
)

var symbolRegex = regexp.MustCompile(`^[A-Z][A-Z0-9]{0,15}$`)

// Symbol 通貨シンボルを表す値オブジェクト（ETH, USDT など）
type Symbol string

// NewSymbol 新しいSymbolを作成（大文字に正規化する）
func NewSymbol(s string) (Symbol, error) {
	normalized := strings.ToUpper(strings.TrimSpace(s))
	if !symbolRegex.MatchString(normalized) {
		return "", fmt.Errorf("%w: %q", ErrInvalidSymbol, s)
	}
	return Symbol(normalized), nil
}

// String 文字列表現を返す
func (s Symbol) String() string {
	return string(s)
}

// Valid 有効なシンボル形式かどうかを返す
func (s Symbol) Valid() bool {
	return symbolRegex.MatchString(string(s))
}
