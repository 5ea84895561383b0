package model

import "time"

// Notification は通知シンクに渡す1件の通知。
// DismissCode は同一対象の通知を重複排除するためのキー（例: "thread:<id>"）。
type Notification struct {
	ID          string
	RecipientID string
	Title       string
	TextBody    string
	HTMLBody    string
	DismissCode string
	CreatedAt   time.Time
}

// PublishEvent はスレッド作成・返信のコミット後に通知処理へ渡すイベント。
// コミット時点の値のコピーを保持する。
type PublishEvent struct {
	Forum  Forum
	Thread Thread
	Post   Post
	Author User
}
