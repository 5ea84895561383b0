package memory

import (
	"cmp"
	"context"
	"slices"
	"strings"

	"github.com/hitoshi/forumd/internal/model"
)

type forumRepo struct{ s *store }

func sameParent(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func (r *forumRepo) FindByID(ctx context.Context, id string) (*model.Forum, error) {
	st, release := r.s.acquire()
	defer release()
	f, ok := st.forums[id]
	if !ok {
		return nil, nil
	}
	return &f, nil
}

func (r *forumRepo) FindBySlugPath(ctx context.Context, slugPath string) (*model.Forum, error) {
	st, release := r.s.acquire()
	defer release()
	for _, f := range st.forums {
		if f.SlugPath == slugPath {
			return &f, nil
		}
	}
	return nil, nil
}

func (r *forumRepo) FindBySlugPaths(ctx context.Context, slugPaths []string) ([]*model.Forum, error) {
	st, release := r.s.acquire()
	defer release()
	var out []*model.Forum
	for _, f := range st.forums {
		if slices.Contains(slugPaths, f.SlugPath) {
			out = append(out, &f)
		}
	}
	return out, nil
}

func (r *forumRepo) SlugExists(ctx context.Context, parentID *string, slug string, excludeID *string) (bool, error) {
	st, release := r.s.acquire()
	defer release()
	return slugTaken(st, parentID, slug, excludeID), nil
}

func slugTaken(st *state, parentID *string, slug string, excludeID *string) bool {
	for _, f := range st.forums {
		if excludeID != nil && f.ID == *excludeID {
			continue
		}
		if f.Slug == slug && sameParent(f.ParentID, parentID) {
			return true
		}
	}
	return false
}

func pathTaken(st *state, slugPath, excludeID string) bool {
	for _, f := range st.forums {
		if f.ID != excludeID && f.SlugPath == slugPath {
			return true
		}
	}
	return false
}

func (r *forumRepo) Create(ctx context.Context, f *model.Forum) error {
	st, release := r.s.acquire()
	defer release()
	if slugTaken(st, f.ParentID, f.Slug, nil) || pathTaken(st, f.SlugPath, "") {
		return model.NewSlugInUseError(f.Slug)
	}
	st.forums[f.ID] = *f
	return nil
}

func (r *forumRepo) Update(ctx context.Context, f *model.Forum) error {
	st, release := r.s.acquire()
	defer release()
	if _, ok := st.forums[f.ID]; !ok {
		return model.NewForumNotFoundError(f.ID)
	}
	if slugTaken(st, f.ParentID, f.Slug, &f.ID) || pathTaken(st, f.SlugPath, f.ID) {
		return model.NewSlugInUseError(f.Slug)
	}
	st.forums[f.ID] = *f
	return nil
}

func (r *forumRepo) ListChildren(ctx context.Context, parentID *string) ([]*model.Forum, error) {
	st, release := r.s.acquire()
	defer release()
	var out []*model.Forum
	for _, f := range st.forums {
		if f.DeletedAt == nil && sameParent(f.ParentID, parentID) {
			out = append(out, &f)
		}
	}
	slices.SortFunc(out, func(a, b *model.Forum) int {
		return cmp.Or(
			cmp.Compare(a.Ordering, b.Ordering),
			cmp.Compare(a.Title, b.Title),
			cmp.Compare(a.ID, b.ID),
		)
	})
	return out, nil
}

func (r *forumRepo) ListSubtreeForUpdate(ctx context.Context, slugPath string) ([]*model.Forum, error) {
	st, release := r.s.acquire()
	defer release()
	var out []*model.Forum
	for _, f := range st.forums {
		if f.SlugPath == slugPath || strings.HasPrefix(f.SlugPath, slugPath+"/") {
			out = append(out, &f)
		}
	}
	slices.SortFunc(out, func(a, b *model.Forum) int {
		return cmp.Or(
			cmp.Compare(len(a.SlugPath), len(b.SlugPath)),
			cmp.Compare(a.SlugPath, b.SlugPath),
		)
	})
	return out, nil
}
