package memory

import (
	"cmp"
	"context"
	"slices"
	"time"

	"github.com/hitoshi/forumd/internal/model"
)

type postRepo struct{ s *store }

func (r *postRepo) FindByID(ctx context.Context, id string) (*model.Post, error) {
	st, release := r.s.acquire()
	defer release()
	p, ok := st.posts[id]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (r *postRepo) Create(ctx context.Context, p *model.Post) error {
	st, release := r.s.acquire()
	defer release()
	st.posts[p.ID] = *p
	return nil
}

func (r *postRepo) Update(ctx context.Context, p *model.Post) error {
	st, release := r.s.acquire()
	defer release()
	cur, ok := st.posts[p.ID]
	if !ok {
		return model.NewPostNotFoundError(p.ID)
	}
	cur.LastContentModifiedAt = p.LastContentModifiedAt
	cur.LastModifiedAt = p.LastModifiedAt
	cur.LastModifiedByID = p.LastModifiedByID
	cur.ContentSource = p.ContentSource
	cur.ContentHTML = p.ContentHTML
	cur.ContentText = p.ContentText
	cur.SummaryHTML = p.SummaryHTML
	cur.FootnotesHTML = p.FootnotesHTML
	cur.AuthorIP = p.AuthorIP
	st.posts[p.ID] = cur
	return nil
}

func (r *postRepo) SoftDelete(ctx context.Context, id string, at time.Time) error {
	st, release := r.s.acquire()
	defer release()
	p, ok := st.posts[id]
	if !ok || p.DeletedAt != nil {
		return nil
	}
	p.DeletedAt = &at
	st.posts[id] = p
	return nil
}

func (r *postRepo) FindNewestAlive(ctx context.Context, threadID string) (*model.Post, error) {
	st, release := r.s.acquire()
	defer release()
	var newest *model.Post
	for _, p := range st.posts {
		if p.ThreadID != threadID || p.DeletedAt != nil {
			continue
		}
		if newest == nil || cmp.Or(p.LastModifiedAt.Compare(newest.LastModifiedAt), cmp.Compare(p.ID, newest.ID)) > 0 {
			newest = &p
		}
	}
	return newest, nil
}

// comparePosts は (published_at, id) の昇順比較。
func comparePosts(a, b *model.Post) int {
	return cmp.Or(a.PublishedAt.Compare(b.PublishedAt), cmp.Compare(a.ID, b.ID))
}

func threadPosts(st *state, threadID string, includeDeleted bool) []*model.Post {
	var out []*model.Post
	for _, p := range st.posts {
		if p.ThreadID == threadID && (includeDeleted || p.DeletedAt == nil) {
			out = append(out, &p)
		}
	}
	slices.SortFunc(out, comparePosts)
	return out
}

func (r *postRepo) ListByThread(ctx context.Context, threadID string, includeDeleted bool, offset, limit int) ([]*model.Post, error) {
	st, release := r.s.acquire()
	defer release()
	return paginate(threadPosts(st, threadID, includeDeleted), offset, limit), nil
}

func (r *postRepo) CountByThread(ctx context.Context, threadID string, includeDeleted bool) (int, error) {
	st, release := r.s.acquire()
	defer release()
	return len(threadPosts(st, threadID, includeDeleted)), nil
}

func (r *postRepo) CountBefore(ctx context.Context, post *model.Post, includeDeleted bool) (int, error) {
	st, release := r.s.acquire()
	defer release()
	n := 0
	for _, p := range threadPosts(st, post.ThreadID, includeDeleted) {
		if comparePosts(p, post) < 0 {
			n++
		}
	}
	return n, nil
}
