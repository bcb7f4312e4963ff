package voucher

import (
	"fmt"
)

// Mode 配布方式を表す値オブジェクト
type Mode string

const (
	ModePerClaim Mode = "per_claim" // 1回あたり固定額
	ModeTotal    Mode = "total"     // 総額を配布
)

// NewMode 新しいModeを作成
func NewMode(s string) (Mode, error) {
	switch s {
	case "per_claim", "total":
		return Mode(s), nil
	default:
		return "", fmt.Errorf("invalid voucher mode: %s", s)
	}
}

// String 文字列表現を返す
func (m Mode) String() string {
	return string(m)
}

// Valid 有効な配布方式かどうかを返す
func (m Mode) Valid() bool {
	return m == ModePerClaim || m == ModeTotal
}

// TotalPolicy 総額配布時の分配ポリシー
type TotalPolicy string

const (
	TotalPolicyNone  TotalPolicy = ""
	TotalPolicyAll   TotalPolicy = "all"   // 最初の1人が残額をすべて受け取る
	TotalPolicyEqual TotalPolicy = "equal" // 人数で均等に分割
)

// NewTotalPolicy 新しいTotalPolicyを作成（空文字はポリシーなし）
func NewTotalPolicy(s string) (TotalPolicy, error) {
	switch s {
	case "", "all", "equal":
		return TotalPolicy(s), nil
	default:
		return "", fmt.Errorf("invalid total policy: %s", s)
	}
}

// String 文字列表現を返す
func (p TotalPolicy) String() string {
	return string(p)
}

// Valid 総額配布で使えるポリシーかどうかを返す
func (p TotalPolicy) Valid() bool {
	return p == TotalPolicyAll || p == TotalPolicyEqual
}
