// Package model はドメインモデルを定義する。
package model

import "time"

// User は外部のIDプロバイダーが管理するユーザーを表す。
// フォーラムはIDと権限（capability）だけを参照する。
type User struct {
	ID          string
	Username    string
	Email       string
	Language    string
	IsActive    bool
	Permissions []string
	CreatedAt   time.Time
}

// Has はユーザーが指定された権限を持つかどうかを返す。
// 匿名ユーザー（nil）は権限を持たない。
func (u *User) Has(capability string) bool {
	if u == nil {
		return false
	}
	for _, p := range u.Permissions {
		if p == capability {
			return true
		}
	}
	return false
}

// IsAnonymous は未ログインユーザーかどうかを返す。
func (u *User) IsAnonymous() bool {
	return u == nil || u.ID == ""
}

// ForumUserProfile はフォーラム利用者ごとの設定と連続投稿制限の状態を表す。
type ForumUserProfile struct {
	UserID                 string
	NotifyOfReplyByDefault bool
	LastPostAt             *time.Time // 連続投稿制限の判定に使用する
}
