package model

import "time"

// TargetKind は購読・既読マーカーの対象の粒度を表す。
type TargetKind string

const (
	// TargetForum はフォーラム単位。
	TargetForum TargetKind = "forum"
	// TargetThread はスレッド単位。
	TargetThread TargetKind = "thread"
)

// Valid は定義済みの粒度かどうかを返す。
func (k TargetKind) Valid() bool {
	return k == TargetForum || k == TargetThread
}

// Subscription はユーザーのフォーラムまたはスレッドの購読を表す。
// 購読解除は Active=false の墓標として残り、メンテナンスで物理削除される。
type Subscription struct {
	Kind      TargetKind
	UserID    string
	TargetID  string
	Active    bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ReadMarker はユーザーごとの「ここまで読んだ」時刻を表す。
// Active=false のマーカーは存在しないものとして扱う。
type ReadMarker struct {
	Kind       TargetKind
	UserID     string
	TargetID   string
	LastReadAt time.Time
	Active     bool
}
