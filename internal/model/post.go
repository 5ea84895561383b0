package model

import "time"

// Post はスレッド内の個々の投稿を表す。
// PublishedAt <= LastContentModifiedAt <= LastModifiedAt が常に成り立つ。
type Post struct {
	ID                    string
	ThreadID              string
	AuthorID              string
	PublishedAt           time.Time
	LastContentModifiedAt time.Time
	LastModifiedAt        time.Time
	LastModifiedByID      string
	ContentSource         string
	ContentHTML           string // 著者の権限でレンダリングしたキャッシュ
	ContentText           string
	SummaryHTML           string
	FootnotesHTML         string
	AuthorIP              *string
	DeletedAt             *time.Time
}

// IsDeleted は論理削除済みかどうかを返す。
func (p *Post) IsDeleted() bool {
	return p.DeletedAt != nil
}
