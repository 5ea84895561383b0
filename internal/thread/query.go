package thread

import (
	"context"
	"fmt"
	"time"

	"github.com/hitoshi/forumd/internal/model"
)

// ThreadEntry はスレッド一覧の1行に、最終活動の古さを加えたもの。
type ThreadEntry struct {
	model.ThreadListEntry
	IsOld bool
}

// ThreadPage はフォーラムのスレッド一覧の1ページ。
type ThreadPage struct {
	Forum      *model.Forum
	Entries    []ThreadEntry
	Page       int
	TotalPages int
	Total      int
}

// PostPage はスレッドの投稿一覧の1ページ。
type PostPage struct {
	Forum      *model.Forum
	Thread     *model.Thread
	Posts      []*model.Post
	Page       int
	TotalPages int
	Total      int
	// LastPostModifiedAt はスレッドを読み込んだ時点の最終投稿の更新日時。
	// 既読マーカーはこの時刻までしか進めない。
	LastPostModifiedAt time.Time
}

// Permalink は投稿の恒久リンクの解決結果。
type Permalink struct {
	ThreadID   string
	ThreadSlug string
	Page       int
	Anchor     string
}

// URL はスレッドページ上の投稿を指すURLを返す。
func (l Permalink) URL() string {
	return fmt.Sprintf("/api/threads/%s/%s?page=%d#%s", l.ThreadID, l.ThreadSlug, l.Page, l.Anchor)
}

func totalPages(total, size int) int {
	if total == 0 {
		return 1
	}
	return (total + size - 1) / size
}

func pageSize(n int) int {
	return max(n, 1)
}

// GetThread はスレッドと所属フォーラムを取得する。
// 論理削除済みのスレッドはモデレーター以外にはTHREAD_NOT_FOUNDとなる。
func (s *Service) GetThread(ctx context.Context, viewer *model.User, threadID string) (*model.Thread, *model.Forum, error) {
	t, err := s.db.Threads().FindByID(ctx, threadID)
	if err != nil {
		return nil, nil, fmt.Errorf("スレッドの取得に失敗しました: %w", err)
	}
	if t == nil || (t.IsDeleted() && !isModerator(viewer)) {
		return nil, nil, model.NewThreadNotFoundError(threadID)
	}
	f, err := s.db.Forums().FindByID(ctx, t.ForumID)
	if err != nil {
		return nil, nil, fmt.Errorf("フォーラムの取得に失敗しました: %w", err)
	}
	if f == nil || (f.IsDeleted() && !isModerator(viewer)) {
		return nil, nil, model.NewThreadNotFoundError(threadID)
	}
	if !f.AccessibleBy(viewer) {
		return nil, nil, model.NewAccessDeniedError()
	}
	return t, f, nil
}

// ListThreads はフォーラムのスレッド一覧を返す。page は1始まり。
// 閲覧できるフォーラムの全体固定スレッドはすべての一覧の先頭に並ぶ。
func (s *Service) ListThreads(ctx context.Context, viewer *model.User, forumID string, page int) (*ThreadPage, error) {
	f, err := loadForum(ctx, s.db, forumID, viewer)
	if err != nil {
		return nil, err
	}
	size := pageSize(s.cfg.ThreadsPerPage)
	page = max(page, 1)

	q := model.ThreadListQuery{
		ForumID:        f.ID,
		IncludePrivate: viewer.Has(model.CapSeePrivateForum),
		Offset:         (page - 1) * size,
		Limit:          size,
	}
	if !viewer.IsAnonymous() {
		q.ViewerID = viewer.ID
	}

	total, err := s.db.Threads().CountByForum(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("スレッド数の取得に失敗しました: %w", err)
	}
	rows, err := s.db.Threads().ListByForum(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("スレッド一覧の取得に失敗しました: %w", err)
	}

	now := s.clock.Now()
	entries := make([]ThreadEntry, len(rows))
	for i, row := range rows {
		entries[i] = ThreadEntry{
			ThreadListEntry: row,
			IsOld:           s.cfg.OldPostAge > 0 && now.Sub(row.LastPostModifiedAt) > s.cfg.OldPostAge,
		}
	}
	return &ThreadPage{
		Forum:      f,
		Entries:    entries,
		Page:       page,
		TotalPages: totalPages(total, size),
		Total:      total,
	}, nil
}

// ListPosts はスレッドの投稿を公開順に返す。page は1始まり。
// 論理削除済みの投稿は delete_post 権限者にだけ見え、投稿元IPは see_post_ip 権限者にだけ見える。
func (s *Service) ListPosts(ctx context.Context, viewer *model.User, threadID string, page int) (*PostPage, error) {
	t, f, err := s.GetThread(ctx, viewer, threadID)
	if err != nil {
		return nil, err
	}
	size := pageSize(s.cfg.PostsPerPage)
	page = max(page, 1)
	includeDeleted := viewer.Has(model.CapDeletePost)

	// 投稿一覧より先に読む。これ以降にコミットされた返信は既読にならない。
	var seenUpTo time.Time
	last, err := s.db.Posts().FindByID(ctx, t.LastPostID)
	if err != nil {
		return nil, fmt.Errorf("最終投稿の取得に失敗しました: %w", err)
	}
	if last != nil {
		seenUpTo = last.LastModifiedAt
	}

	total, err := s.db.Posts().CountByThread(ctx, t.ID, includeDeleted)
	if err != nil {
		return nil, fmt.Errorf("投稿数の取得に失敗しました: %w", err)
	}
	posts, err := s.db.Posts().ListByThread(ctx, t.ID, includeDeleted, (page-1)*size, size)
	if err != nil {
		return nil, fmt.Errorf("投稿一覧の取得に失敗しました: %w", err)
	}
	if !viewer.Has(model.CapSeePostIP) {
		for _, p := range posts {
			p.AuthorIP = nil
		}
	}
	return &PostPage{
		Forum:      f,
		Thread:     t,
		Posts:      posts,
		Page:       page,
		TotalPages: totalPages(total, size),
		Total:      total,

		LastPostModifiedAt: seenUpTo,
	}, nil
}

// ResolvePermalink は投稿IDから、その投稿が載っているスレッドのページを求める。
// 順位は閲覧者に見える投稿の中での位置で、ページは floor((順位-1)/ページサイズ)+1。
func (s *Service) ResolvePermalink(ctx context.Context, viewer *model.User, postID string) (*Permalink, error) {
	p, err := s.db.Posts().FindByID(ctx, postID)
	if err != nil {
		return nil, fmt.Errorf("投稿の取得に失敗しました: %w", err)
	}
	includeDeleted := viewer.Has(model.CapDeletePost)
	if p == nil || (p.IsDeleted() && !includeDeleted) {
		return nil, model.NewPostNotFoundError(postID)
	}
	t, _, err := s.GetThread(ctx, viewer, p.ThreadID)
	if err != nil {
		if model.HasCode(err, model.ErrCodeThreadNotFound) {
			return nil, model.NewPostNotFoundError(postID)
		}
		return nil, err
	}

	before, err := s.db.Posts().CountBefore(ctx, p, includeDeleted)
	if err != nil {
		return nil, fmt.Errorf("投稿の順位の取得に失敗しました: %w", err)
	}
	rank := before + 1
	return &Permalink{
		ThreadID:   t.ID,
		ThreadSlug: t.Slug,
		Page:       (rank-1)/pageSize(s.cfg.PostsPerPage) + 1,
		Anchor:     "post-" + p.ID,
	}, nil
}
