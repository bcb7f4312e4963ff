package currency

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// MaxDecimalPlaces 通貨の小数桁数の上限
const MaxDecimalPlaces = 18

// Registry 取り扱い通貨と最小単位（小数桁数）の一覧
type Registry struct {
	places map[Symbol]int32
}

// NewRegistry 新しいRegistryを作成
func NewRegistry(places map[Symbol]int32) (*Registry, error) {
	if len(places) == 0 {
		return nil, fmt.Errorf("%w: no currencies configured", ErrUnsupportedSymbol)
	}
	copied := make(map[Symbol]int32, len(places))
	for sym, p := range places {
		if !sym.Valid() {
			return nil, fmt.Errorf("%w: %q", ErrInvalidSymbol, sym)
		}
		if p < 0 || p > MaxDecimalPlaces {
			return nil, fmt.Errorf("invalid decimal places for %s: %d", sym, p)
		}
		copied[sym] = p
	}
	return &Registry{places: copied}, nil
}

// ParseRegistry "ETH:18,USDT:6,GEM:0" 形式の文字列からRegistryを作成
func ParseRegistry(spec string) (*Registry, error) {
	places := make(map[Symbol]int32)
	for _, item := range strings.Split(spec, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		name, digits, ok := strings.Cut(item, ":")
		if !ok {
			return nil, fmt.Errorf("invalid currency entry %q: expected SYMBOL:PLACES", item)
		}
		sym, err := NewSymbol(name)
		if err != nil {
			return nil, err
		}
		p, err := strconv.Atoi(strings.TrimSpace(digits))
		if err != nil {
			return nil, fmt.Errorf("invalid decimal places in %q: %w", item, err)
		}
		places[sym] = int32(p)
	}
	return NewRegistry(places)
}

// MustParseRegistry テスト用ヘルパー: ParseRegistryを呼び出し、エラーが発生した場合はpanicする
func MustParseRegistry(spec string) *Registry {
	r, err := ParseRegistry(spec)
	if err != nil {
		panic(err)
	}
	return r
}

// Places 通貨の小数桁数を返す
func (r *Registry) Places(sym Symbol) (int32, bool) {
	p, ok := r.places[sym]
	return p, ok
}

// Supports 通貨を取り扱っているかどうかを返す
func (r *Registry) Supports(sym Symbol) bool {
	_, ok := r.places[sym]
	return ok
}

// Symbols 取り扱い通貨をソートして返す
func (r *Registry) Symbols() []Symbol {
	out := make([]Symbol, 0, len(r.places))
	for sym := range r.places {
		out = append(out, sym)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// MinimumUnit 通貨の最小単位を返す（小数桁数18なら 1e-18）
func (r *Registry) MinimumUnit(sym Symbol) (decimal.Decimal, error) {
	p, ok := r.places[sym]
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: %s", ErrUnsupportedSymbol, sym)
	}
	return decimal.New(1, -p), nil
}

// ValidateAmount 金額が正で、通貨の最小単位で表現できるかを検証
func (r *Registry) ValidateAmount(sym Symbol, amount decimal.Decimal) error {
	p, ok := r.places[sym]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnsupportedSymbol, sym)
	}
	if !amount.IsPositive() {
		return ErrInvalidAmount
	}
	if !amount.Equal(amount.Truncate(p)) {
		return fmt.Errorf("%w: %s has more than %d decimal places", ErrInvalidAmount, amount.String(), p)
	}
	return nil
}

// SplitFloor 金額をn等分し、通貨の最小単位に切り捨てた1人分を返す
// 切り捨てで生じた端数は返さない
func (r *Registry) SplitFloor(sym Symbol, total decimal.Decimal, n int) (decimal.Decimal, error) {
	p, ok := r.places[sym]
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: %s", ErrUnsupportedSymbol, sym)
	}
	if n <= 0 {
		return decimal.Zero, fmt.Errorf("%w: share count must be positive", ErrInvalidAmount)
	}
	q, _ := total.QuoRem(decimal.NewFromInt(int64(n)), p)
	return q, nil
}
