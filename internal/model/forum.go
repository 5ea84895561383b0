package model

import "time"

// Forum はフォーラムツリーの1ノードを表す。
// SlugPath はルートから自身までのスラッグを "/" で連結した実体化パス。
type Forum struct {
	ID                string
	ParentID          *string
	Slug              string
	SlugPath          string
	Title             string
	DescriptionSource string
	DescriptionHTML   string
	DescriptionText   string
	Ordering          int
	Private           bool
	Closed            bool
	DeletedAt         *time.Time
	LastModified      time.Time
	CreatedAt         time.Time
}

// AccessibleBy はユーザーがフォーラムを閲覧できるかどうかを返す。
// 非公開フォーラムの閲覧には see_private_forum 権限が必要。
func (f *Forum) AccessibleBy(u *User) bool {
	return !f.Private || u.Has(CapSeePrivateForum)
}

// IsDeleted は論理削除済みかどうかを返す。
func (f *Forum) IsDeleted() bool {
	return f.DeletedAt != nil
}
