package memory

import (
	"cmp"
	"context"
	"slices"
	"time"

	"github.com/hitoshi/forumd/internal/model"
)

type threadRepo struct{ s *store }

func (r *threadRepo) FindByID(ctx context.Context, id string) (*model.Thread, error) {
	st, release := r.s.acquire()
	defer release()
	t, ok := st.threads[id]
	if !ok {
		return nil, nil
	}
	return &t, nil
}

// FindByIDForUpdate はトランザクションがデータベース全体をロックしているためFindByIDと同じ。
func (r *threadRepo) FindByIDForUpdate(ctx context.Context, id string) (*model.Thread, error) {
	return r.FindByID(ctx, id)
}

func (r *threadRepo) Create(ctx context.Context, t *model.Thread) error {
	st, release := r.s.acquire()
	defer release()
	st.threads[t.ID] = *t
	return nil
}

func (r *threadRepo) Update(ctx context.Context, t *model.Thread) error {
	st, release := r.s.acquire()
	defer release()
	cur, ok := st.threads[t.ID]
	if !ok {
		return model.NewThreadNotFoundError(t.ID)
	}
	cur.ForumID, cur.Slug, cur.Title = t.ForumID, t.Slug, t.Title
	cur.Sticky, cur.GlobalSticky = t.Sticky, t.GlobalSticky
	cur.Closed, cur.Resolved, cur.Locked = t.Closed, t.Resolved, t.Locked
	cur.LastModified = t.LastModified
	st.threads[t.ID] = cur
	return nil
}

func (r *threadRepo) CompareAndSwapLastPost(ctx context.Context, threadID, expected, next string, now time.Time) error {
	st, release := r.s.acquire()
	defer release()
	t, ok := st.threads[threadID]
	if !ok || t.LastPostID != expected {
		return model.NewConflictError()
	}
	t.LastPostID = next
	t.LastModified = now
	st.threads[threadID] = t
	return nil
}

func (r *threadRepo) SoftDelete(ctx context.Context, id string, at time.Time) error {
	st, release := r.s.acquire()
	defer release()
	t, ok := st.threads[id]
	if !ok || t.DeletedAt != nil {
		return nil
	}
	t.DeletedAt = &at
	t.LastModified = at
	st.threads[id] = t
	return nil
}

func listable(st *state, t model.Thread, q model.ThreadListQuery) bool {
	if t.DeletedAt != nil {
		return false
	}
	if t.ForumID == q.ForumID {
		return true
	}
	if !t.GlobalSticky {
		return false
	}
	f, ok := st.forums[t.ForumID]
	return ok && f.DeletedAt == nil && (!f.Private || q.IncludePrivate)
}

func entryOf(st *state, t model.Thread, viewerID string) model.ThreadListEntry {
	e := model.ThreadListEntry{Thread: t}
	fp := st.posts[t.FirstPostID]
	lp := st.posts[t.LastPostID]
	e.FirstPostAuthorID = fp.AuthorID
	e.LastPostAuthorID = lp.AuthorID
	e.LastPostModifiedAt = lp.LastModifiedAt
	alive := 0
	for _, p := range st.posts {
		if p.ThreadID == t.ID && p.DeletedAt == nil {
			alive++
		}
	}
	e.ReplyCount = alive - 1
	if viewerID != "" {
		var latest *time.Time
		for _, key := range []targetKey{
			{model.TargetForum, viewerID, t.ForumID},
			{model.TargetThread, viewerID, t.ID},
		} {
			if m, ok := st.markers[key]; ok && m.Active {
				if latest == nil || m.LastReadAt.After(*latest) {
					at := m.LastReadAt
					latest = &at
				}
			}
		}
		e.IsRead = latest != nil && !lp.LastModifiedAt.After(*latest)
	}
	return e
}

func (r *threadRepo) ListByForum(ctx context.Context, q model.ThreadListQuery) ([]model.ThreadListEntry, error) {
	st, release := r.s.acquire()
	defer release()
	var entries []model.ThreadListEntry
	for _, t := range st.threads {
		if listable(st, t, q) {
			entries = append(entries, entryOf(st, t, q.ViewerID))
		}
	}
	slices.SortFunc(entries, func(a, b model.ThreadListEntry) int {
		return cmp.Or(
			compareBoolDesc(a.GlobalSticky, b.GlobalSticky),
			compareBoolDesc(a.Sticky, b.Sticky),
			b.LastPostModifiedAt.Compare(a.LastPostModifiedAt),
			cmp.Compare(b.ID, a.ID),
		)
	})
	return paginate(entries, q.Offset, q.Limit), nil
}

func (r *threadRepo) CountByForum(ctx context.Context, q model.ThreadListQuery) (int, error) {
	st, release := r.s.acquire()
	defer release()
	n := 0
	for _, t := range st.threads {
		if listable(st, t, q) {
			n++
		}
	}
	return n, nil
}

func (r *threadRepo) ListLatestByForum(ctx context.Context, forumID string, limit int) ([]model.ThreadListEntry, error) {
	st, release := r.s.acquire()
	defer release()
	var entries []model.ThreadListEntry
	for _, t := range st.threads {
		if t.ForumID == forumID && t.DeletedAt == nil {
			entries = append(entries, entryOf(st, t, ""))
		}
	}
	slices.SortFunc(entries, func(a, b model.ThreadListEntry) int {
		return cmp.Or(b.CreatedAt.Compare(a.CreatedAt), cmp.Compare(b.ID, a.ID))
	})
	return paginate(entries, 0, limit), nil
}

func (r *threadRepo) SetClosedByForums(ctx context.Context, forumIDs []string, closed bool, now time.Time) error {
	st, release := r.s.acquire()
	defer release()
	for id, t := range st.threads {
		if t.DeletedAt == nil && t.Closed != closed && slices.Contains(forumIDs, t.ForumID) {
			t.Closed = closed
			t.LastModified = now
			st.threads[id] = t
		}
	}
	return nil
}

func (r *threadRepo) SoftDeleteByForums(ctx context.Context, forumIDs []string, at time.Time) error {
	st, release := r.s.acquire()
	defer release()
	for id, t := range st.threads {
		if t.DeletedAt == nil && slices.Contains(forumIDs, t.ForumID) {
			t.DeletedAt = &at
			t.LastModified = at
			st.threads[id] = t
		}
	}
	return nil
}

func compareBoolDesc(a, b bool) int {
	switch {
	case a == b:
		return 0
	case a:
		return -1
	default:
		return 1
	}
}

func paginate[T any](items []T, offset, limit int) []T {
	if offset >= len(items) {
		return nil
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
