package model

import "time"

// Thread はフォーラム内のスレッドを表す。
// FirstPostID と LastPostID は作成後は常に非空で、LastPostID は
// 論理削除されていない投稿のうち last_modified_at が最新のものを指す。
type Thread struct {
	ID           string
	ForumID      string
	Slug         string
	Title        string
	Sticky       bool
	GlobalSticky bool
	Closed       bool
	Resolved     bool
	Locked       bool
	FirstPostID  string
	LastPostID   string
	DeletedAt    *time.Time
	LastModified time.Time
	CreatedAt    time.Time
}

// IsDeleted は論理削除済みかどうかを返す。
func (t *Thread) IsDeleted() bool {
	return t.DeletedAt != nil
}

// ThreadListEntry はスレッド一覧の1行を表す。
// 最終投稿の情報と、閲覧ユーザーごとの既読状態を含む。
type ThreadListEntry struct {
	Thread
	FirstPostAuthorID  string
	LastPostAuthorID   string
	LastPostModifiedAt time.Time
	ReplyCount         int
	IsRead             bool
}

// ThreadListQuery はフォーラムのスレッド一覧取得条件。
type ThreadListQuery struct {
	ForumID        string
	ViewerID       string // 空の場合は既読判定を行わない
	IncludePrivate bool   // 他フォーラムの全体固定スレッドに非公開フォーラムを含めるか
	Offset         int
	Limit          int
}
