package clock

import (
	"sync"
	"time"
)

// Clock 現在時刻の取得元
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

// NewSystem time.Now を使うClockを返す
func NewSystem() Clock {
	return systemClock{}
}

func (systemClock) Now() time.Time {
	return time.Now().UTC()
}

// Manual 手動で進めるClock（テスト用）
type Manual struct {
	mu  sync.Mutex
	now time.Time
}

// NewManual 指定時刻から始まるManualを返す
func NewManual(t time.Time) *Manual {
	return &Manual{now: t.UTC()}
}

// Now 現在時刻を返す
func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Advance 時刻を進める
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	m.now = m.now.Add(d)
	m.mu.Unlock()
}
