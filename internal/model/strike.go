package model

import "time"

// Strike はユーザーまたはIPアドレスに対する警告・アクセス禁止を表す。
// TargetUserID と TargetIP の少なくとも一方が設定される。
type Strike struct {
	ID             string
	AuthorID       string
	TargetUserID   *string
	TargetIP       *string
	CreatedAt      time.Time
	ExpiresAt      *time.Time
	BlockAccess    bool
	InternalReason string
	PublicReason   string
}

// ActiveAt は指定時刻に有効かどうかを返す。
func (s *Strike) ActiveAt(now time.Time) bool {
	return s.ExpiresAt == nil || s.ExpiresAt.After(now)
}
