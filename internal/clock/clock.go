// Package clock は現在時刻の取得を抽象化する。
package clock

import (
	"sync"
	"time"
)

// Clock は現在時刻を返すインターフェース。
type Clock interface {
	Now() time.Time
}

// System はOSの時計を使うClock。
// 返す時刻はUTCかつマイクロ秒精度（PostgreSQLのtimestamptzと同じ）で、
// プロセス内で巻き戻らない。
type System struct {
	mu   sync.Mutex
	last time.Time
}

// NewSystem はSystemを生成する。
func NewSystem() *System {
	return &System{}
}

// Now は現在時刻を返す。
func (c *System) Now() time.Time {
	now := time.Now().UTC().Truncate(time.Microsecond)

	c.mu.Lock()
	defer c.mu.Unlock()
	if now.Before(c.last) {
		return c.last
	}
	c.last = now
	return now
}

// Fake はテスト用に時刻を手動で進めるClock。
type Fake struct {
	mu  sync.Mutex
	now time.Time
}

// NewFake は指定時刻から始まるFakeを生成する。
func NewFake(start time.Time) *Fake {
	return &Fake{now: start.UTC()}
}

// Now は現在の設定時刻を返す。
func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// Set は時刻を設定する。
func (f *Fake) Set(t time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = t.UTC()
}

// Advance は時刻をdだけ進める。
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}
