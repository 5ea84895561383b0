package handler

import (
	"time"

	"github.com/dustin/go-humanize"
	"github.com/hitoshi/forumd/internal/model"
	"github.com/hitoshi/forumd/internal/thread"
)

// forumResponse はフォーラム情報のAPIレスポンス。
type forumResponse struct {
	ID              string  `json:"id"`
	ParentID        *string `json:"parent_id"`
	Slug            string  `json:"slug"`
	SlugPath        string  `json:"slug_path"`
	Title           string  `json:"title"`
	DescriptionHTML string  `json:"description_html"`
	Ordering        int     `json:"ordering"`
	Private         bool    `json:"private"`
	Closed          bool    `json:"closed"`
}

func toForumResponse(f *model.Forum) forumResponse {
	return forumResponse{
		ID:              f.ID,
		ParentID:        f.ParentID,
		Slug:            f.Slug,
		SlugPath:        f.SlugPath,
		Title:           f.Title,
		DescriptionHTML: f.DescriptionHTML,
		Ordering:        f.Ordering,
		Private:         f.Private,
		Closed:          f.Closed,
	}
}

func toForumResponses(forums []*model.Forum) []forumResponse {
	out := make([]forumResponse, 0, len(forums))
	for _, f := range forums {
		out = append(out, toForumResponse(f))
	}
	return out
}

// threadResponse はスレッド本体のAPIレスポンス。
type threadResponse struct {
	ID           string    `json:"id"`
	ForumID      string    `json:"forum_id"`
	Slug         string    `json:"slug"`
	Title        string    `json:"title"`
	Sticky       bool      `json:"sticky"`
	GlobalSticky bool      `json:"global_sticky"`
	Closed       bool      `json:"closed"`
	Locked       bool      `json:"locked"`
	Resolved     bool      `json:"resolved"`
	FirstPostID  string    `json:"first_post_id"`
	LastPostID   string    `json:"last_post_id"`
	Deleted      bool      `json:"deleted"`
	CreatedAt    time.Time `json:"created_at"`
}

func toThreadResponse(t *model.Thread) threadResponse {
	return threadResponse{
		ID:           t.ID,
		ForumID:      t.ForumID,
		Slug:         t.Slug,
		Title:        t.Title,
		Sticky:       t.Sticky,
		GlobalSticky: t.GlobalSticky,
		Closed:       t.Closed,
		Locked:       t.Locked,
		Resolved:     t.Resolved,
		FirstPostID:  t.FirstPostID,
		LastPostID:   t.LastPostID,
		Deleted:      t.IsDeleted(),
		CreatedAt:    t.CreatedAt,
	}
}

// threadEntryResponse はスレッド一覧の1行のAPIレスポンス。
type threadEntryResponse struct {
	threadResponse
	FirstPostAuthorID string    `json:"first_post_author_id"`
	LastPostAuthorID  string    `json:"last_post_author_id"`
	ReplyCount        int       `json:"reply_count"`
	LastActivityAt    time.Time `json:"last_activity_at"`
	LastActivityHuman string    `json:"last_activity_human"`
	IsRead            bool      `json:"is_read"`
	IsOld             bool      `json:"is_old"`
}

func toThreadEntryResponses(entries []thread.ThreadEntry, now time.Time) []threadEntryResponse {
	out := make([]threadEntryResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, threadEntryResponse{
			threadResponse:    toThreadResponse(&e.Thread),
			FirstPostAuthorID: e.FirstPostAuthorID,
			LastPostAuthorID:  e.LastPostAuthorID,
			ReplyCount:        e.ReplyCount,
			LastActivityAt:    e.LastPostModifiedAt,
			LastActivityHuman: humanize.RelTime(e.LastPostModifiedAt, now, "ago", "from now"),
			IsRead:            e.IsRead,
			IsOld:             e.IsOld,
		})
	}
	return out
}

// threadListResponse はスレッド一覧ページのAPIレスポンス。
type threadListResponse struct {
	Forum      forumResponse         `json:"forum"`
	Threads    []threadEntryResponse `json:"threads"`
	Page       int                   `json:"page"`
	TotalPages int                   `json:"total_pages"`
	Total      int                   `json:"total"`
}

func toThreadListResponse(p *thread.ThreadPage, now time.Time) threadListResponse {
	return threadListResponse{
		Forum:      toForumResponse(p.Forum),
		Threads:    toThreadEntryResponses(p.Entries, now),
		Page:       p.Page,
		TotalPages: p.TotalPages,
		Total:      p.Total,
	}
}

// postResponse は投稿のAPIレスポンス。
// author_ip は see_post_ip 権限を持つ閲覧者にだけ含まれる。
type postResponse struct {
	ID             string    `json:"id"`
	ThreadID       string    `json:"thread_id"`
	AuthorID       string    `json:"author_id"`
	PublishedAt    time.Time `json:"published_at"`
	LastModifiedAt time.Time `json:"last_modified_at"`
	ContentHTML    string    `json:"content_html"`
	SummaryHTML    string    `json:"summary_html,omitempty"`
	FootnotesHTML  string    `json:"footnotes_html,omitempty"`
	AuthorIP       *string   `json:"author_ip,omitempty"`
	Deleted        bool      `json:"deleted"`
}

func toPostResponse(p *model.Post) postResponse {
	return postResponse{
		ID:             p.ID,
		ThreadID:       p.ThreadID,
		AuthorID:       p.AuthorID,
		PublishedAt:    p.PublishedAt,
		LastModifiedAt: p.LastModifiedAt,
		ContentHTML:    p.ContentHTML,
		SummaryHTML:    p.SummaryHTML,
		FootnotesHTML:  p.FootnotesHTML,
		AuthorIP:       p.AuthorIP,
		Deleted:        p.IsDeleted(),
	}
}

// threadPageResponse はスレッドと投稿1ページ分のAPIレスポンス。
type threadPageResponse struct {
	Forum      forumResponse  `json:"forum"`
	Thread     threadResponse `json:"thread"`
	Posts      []postResponse `json:"posts"`
	Page       int            `json:"page"`
	TotalPages int            `json:"total_pages"`
	Total      int            `json:"total"`
}

func toThreadPageResponse(p *thread.PostPage) threadPageResponse {
	posts := make([]postResponse, 0, len(p.Posts))
	for _, post := range p.Posts {
		posts = append(posts, toPostResponse(post))
	}
	return threadPageResponse{
		Forum:      toForumResponse(p.Forum),
		Thread:     toThreadResponse(p.Thread),
		Posts:      posts,
		Page:       p.Page,
		TotalPages: p.TotalPages,
		Total:      p.Total,
	}
}

// subscriptionResponse は購読のAPIレスポンス。
type subscriptionResponse struct {
	Kind      model.TargetKind `json:"kind"`
	TargetID  string           `json:"target_id"`
	CreatedAt time.Time        `json:"created_at"`
}

// profileResponse はフォーラム利用者設定のAPIレスポンス。
type profileResponse struct {
	NotifyOfReplyByDefault bool `json:"notify_of_reply_by_default"`
}

// strikeResponse は処分のAPIレスポンス。
type strikeResponse struct {
	ID             string     `json:"id"`
	TargetUserID   *string    `json:"target_user_id"`
	TargetIP       *string    `json:"target_ip"`
	CreatedAt      time.Time  `json:"created_at"`
	ExpiresAt      *time.Time `json:"expires_at"`
	BlockAccess    bool       `json:"block_access"`
	InternalReason string     `json:"internal_reason"`
	PublicReason   string     `json:"public_reason"`
}
