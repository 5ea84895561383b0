// Package antiflood はユーザーごとの連続投稿制限を提供する。
//
// 判定に使う最終投稿時刻はデータベースのプロフィール行に保存される。
// 呼び出し側はプロフィール行をロックしたトランザクション内で Check を呼び、
// 投稿の挿入と同じトランザクションで最終投稿時刻を更新すること。
package antiflood

import (
	"math"
	"time"

	"github.com/hitoshi/forumd/internal/model"
)

// DefaultMinInterval は投稿間隔の既定値。
const DefaultMinInterval = 30 * time.Second

// Gate は投稿間隔の最小値を強制する。
type Gate struct {
	MinInterval time.Duration
}

// NewGate はGateを生成する。minIntervalが0以下の場合は制限しない。
func NewGate(minInterval time.Duration) *Gate {
	return &Gate{MinInterval: minInterval}
}

// Allow は now に投稿してよいかどうかと、拒否する場合の残り時間を返す。
// lastPostAt が nil（未投稿）の場合は常に許可する。
func (g *Gate) Allow(lastPostAt *time.Time, now time.Time) (bool, time.Duration) {
	if g == nil || g.MinInterval <= 0 || lastPostAt == nil {
		return true, 0
	}
	elapsed := now.Sub(*lastPostAt)
	if elapsed >= g.MinInterval {
		return true, 0
	}
	return false, g.MinInterval - elapsed
}

// Check はプロフィールの最終投稿時刻から投稿可否を判定する。
// 拒否する場合は残り秒数（切り上げ）を持つFLOODINGエラーを返す。
func (g *Gate) Check(profile *model.ForumUserProfile, now time.Time) error {
	if profile == nil {
		return nil
	}
	ok, remaining := g.Allow(profile.LastPostAt, now)
	if ok {
		return nil
	}
	seconds := int(math.Ceil(remaining.Seconds()))
	if seconds < 1 {
		seconds = 1
	}
	return model.NewFloodingError(seconds)
}
