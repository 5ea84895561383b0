// Package forum はフォーラムツリーのドメインロジックを提供する。
package forum

import (
	"context"
	"fmt"
	"regexp"
	"slices"
	"strings"

	"github.com/hitoshi/forumd/internal/clock"
	"github.com/hitoshi/forumd/internal/model"
	"github.com/hitoshi/forumd/internal/render"
	"github.com/hitoshi/forumd/internal/repository"
)

// MaxSlugLength はスラッグの最大長。
const MaxSlugLength = 50

var slugPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*$`)

// ValidateSlug はスラッグの形式を検証する。
func ValidateSlug(slug string) error {
	if len(slug) > MaxSlugLength || !slugPattern.MatchString(slug) {
		return model.NewInvalidSlugError(slug)
	}
	return nil
}

// HasAccess はユーザーがフォーラムを閲覧できるかどうかを返す。
func HasAccess(f *model.Forum, u *model.User) bool {
	return f.AccessibleBy(u)
}

// CreateForumInput はフォーラム作成の入力。
type CreateForumInput struct {
	ParentID          *string
	Slug              string
	Title             string
	DescriptionSource string
	Ordering          int
	Private           bool
	Closed            bool
}

// UpdateForumInput はフォーラムの表示項目の更新内容。nilの項目は変更しない。
type UpdateForumInput struct {
	Title             *string
	DescriptionSource *string
	Ordering          *int
}

// Service はフォーラムツリーのサービス層。
// ツリーを変更する操作はすべて1つのトランザクション内で行う。
type Service struct {
	db       repository.Database
	renderer render.Renderer
	clock    clock.Clock
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(db repository.Database, renderer render.Renderer, clk clock.Clock) *Service {
	return &Service{db: db, renderer: renderer, clock: clk}
}

// CreateForum はフォーラムを作成する。
func (s *Service) CreateForum(ctx context.Context, in CreateForumInput) (*model.Forum, error) {
	if err := ValidateSlug(in.Slug); err != nil {
		return nil, err
	}
	if strings.TrimSpace(in.Title) == "" {
		return nil, model.NewInvalidRequestError("タイトルは必須です")
	}
	desc, err := s.renderer.Render(in.DescriptionSource, render.DefaultCaps())
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	f := &model.Forum{
		ID:                model.NewID(),
		ParentID:          in.ParentID,
		Slug:              in.Slug,
		SlugPath:          in.Slug,
		Title:             in.Title,
		DescriptionSource: in.DescriptionSource,
		DescriptionHTML:   desc.HTML,
		DescriptionText:   desc.Text,
		Ordering:          in.Ordering,
		Private:           in.Private,
		Closed:            in.Closed,
		LastModified:      now,
		CreatedAt:         now,
	}

	err = s.db.WithinTx(ctx, func(ctx context.Context, tx repository.Store) error {
		if in.ParentID != nil {
			parent, err := aliveForum(ctx, tx, *in.ParentID)
			if err != nil {
				return err
			}
			f.SlugPath = parent.SlugPath + "/" + in.Slug
		}
		exists, err := tx.Forums().SlugExists(ctx, in.ParentID, in.Slug, nil)
		if err != nil {
			return err
		}
		if exists {
			return model.NewSlugInUseError(in.Slug)
		}
		return tx.Forums().Create(ctx, f)
	})
	if err != nil {
		return nil, err
	}
	return f, nil
}

// UpdateForum はタイトル・説明・表示順を更新する。
func (s *Service) UpdateForum(ctx context.Context, forumID string, in UpdateForumInput) (*model.Forum, error) {
	var updated *model.Forum
	err := s.db.WithinTx(ctx, func(ctx context.Context, tx repository.Store) error {
		f, err := aliveForum(ctx, tx, forumID)
		if err != nil {
			return err
		}
		if in.Title != nil {
			if strings.TrimSpace(*in.Title) == "" {
				return model.NewInvalidRequestError("タイトルは必須です")
			}
			f.Title = *in.Title
		}
		if in.DescriptionSource != nil {
			desc, err := s.renderer.Render(*in.DescriptionSource, render.DefaultCaps())
			if err != nil {
				return err
			}
			f.DescriptionSource = *in.DescriptionSource
			f.DescriptionHTML = desc.HTML
			f.DescriptionText = desc.Text
		}
		if in.Ordering != nil {
			f.Ordering = *in.Ordering
		}
		f.LastModified = s.clock.Now()
		if err := tx.Forums().Update(ctx, f); err != nil {
			return err
		}
		updated = f
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// MoveForum はフォーラムを別の親（nilの場合はルート）の下に移動する。
// 部分木の行をロックし、すべての子孫のスラッグパスを再計算する。
func (s *Service) MoveForum(ctx context.Context, forumID string, newParentID *string) (*model.Forum, error) {
	var moved *model.Forum
	err := s.db.WithinTx(ctx, func(ctx context.Context, tx repository.Store) error {
		f, err := aliveForum(ctx, tx, forumID)
		if err != nil {
			return err
		}

		newPath := f.Slug
		if newParentID != nil {
			parent, err := aliveForum(ctx, tx, *newParentID)
			if err != nil {
				return err
			}
			if parent.ID == f.ID || strings.HasPrefix(parent.SlugPath+"/", f.SlugPath+"/") {
				return model.NewInvalidStateError("フォーラムを自身の配下に移動することはできません")
			}
			newPath = parent.SlugPath + "/" + f.Slug
		}

		exists, err := tx.Forums().SlugExists(ctx, newParentID, f.Slug, &f.ID)
		if err != nil {
			return err
		}
		if exists {
			return model.NewSlugInUseError(f.Slug)
		}

		subtree, err := tx.Forums().ListSubtreeForUpdate(ctx, f.SlugPath)
		if err != nil {
			return err
		}
		now := s.clock.Now()
		oldPath := f.SlugPath
		for _, node := range subtree {
			node.SlugPath = newPath + strings.TrimPrefix(node.SlugPath, oldPath)
			node.LastModified = now
			if node.ID == f.ID {
				node.ParentID = newParentID
				moved = node
			}
			if err := tx.Forums().Update(ctx, node); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return moved, nil
}

// SetClosed はフォーラムのクローズ状態を設定する。
// cascadeToSubforums の場合は子孫フォーラムにも、cascadeToThreads の場合は
// 対象フォーラムの論理削除されていないスレッドにも同じ値を設定する。
func (s *Service) SetClosed(ctx context.Context, forumID string, closed, cascadeToThreads, cascadeToSubforums bool) error {
	return s.applyToSubtree(ctx, forumID, cascadeToSubforums, func(ctx context.Context, tx repository.Store, targets []*model.Forum) error {
		ids := make([]string, 0, len(targets))
		for _, f := range targets {
			f.Closed = closed
			ids = append(ids, f.ID)
		}
		if err := s.updateAll(ctx, tx, targets); err != nil {
			return err
		}
		if cascadeToThreads {
			return tx.Threads().SetClosedByForums(ctx, ids, closed, s.clock.Now())
		}
		return nil
	})
}

// SetPrivate はフォーラムの非公開状態を設定する。
func (s *Service) SetPrivate(ctx context.Context, forumID string, private, cascadeToSubforums bool) error {
	return s.applyToSubtree(ctx, forumID, cascadeToSubforums, func(ctx context.Context, tx repository.Store, targets []*model.Forum) error {
		for _, f := range targets {
			f.Private = private
		}
		return s.updateAll(ctx, tx, targets)
	})
}

// DeleteForum はフォーラムとその子孫、および所属スレッドを論理削除する。
// 物理削除はメンテナンスで行う。
func (s *Service) DeleteForum(ctx context.Context, forumID string) error {
	return s.applyToSubtree(ctx, forumID, true, func(ctx context.Context, tx repository.Store, targets []*model.Forum) error {
		now := s.clock.Now()
		ids := make([]string, 0, len(targets))
		for _, f := range targets {
			f.DeletedAt = &now
			ids = append(ids, f.ID)
		}
		if err := s.updateAll(ctx, tx, targets); err != nil {
			return err
		}
		return tx.Threads().SoftDeleteByForums(ctx, ids, now)
	})
}

// applyToSubtree は部分木をロックし、論理削除されていない対象フォーラムに fn を行きがけ順で適用する。
func (s *Service) applyToSubtree(ctx context.Context, forumID string, cascade bool,
	fn func(ctx context.Context, tx repository.Store, targets []*model.Forum) error) error {
	return s.db.WithinTx(ctx, func(ctx context.Context, tx repository.Store) error {
		f, err := aliveForum(ctx, tx, forumID)
		if err != nil {
			return err
		}
		subtree, err := tx.Forums().ListSubtreeForUpdate(ctx, f.SlugPath)
		if err != nil {
			return err
		}
		var targets []*model.Forum
		for _, node := range subtree {
			if node.IsDeleted() {
				continue
			}
			if node.ID == f.ID || cascade {
				targets = append(targets, node)
			}
		}
		return fn(ctx, tx, targets)
	})
}

func (s *Service) updateAll(ctx context.Context, tx repository.Store, forums []*model.Forum) error {
	now := s.clock.Now()
	for _, f := range forums {
		f.LastModified = now
		if err := tx.Forums().Update(ctx, f); err != nil {
			return err
		}
	}
	return nil
}

// Get はIDでフォーラムを取得し、閲覧権限を確認する。
func (s *Service) Get(ctx context.Context, forumID string, viewer *model.User) (*model.Forum, error) {
	f, err := aliveForum(ctx, s.db, forumID)
	if err != nil {
		return nil, err
	}
	if !HasAccess(f, viewer) {
		return nil, model.NewAccessDeniedError()
	}
	return f, nil
}

// ResolveByPath はスラッグパスからフォーラムを解決する。
// 存在しない場合と論理削除済みの場合はFORUM_NOT_FOUNDを返す。
func (s *Service) ResolveByPath(ctx context.Context, slugPath string) (*model.Forum, error) {
	slugPath = strings.Trim(slugPath, "/")
	f, err := s.db.Forums().FindBySlugPath(ctx, slugPath)
	if err != nil {
		return nil, fmt.Errorf("フォーラムの取得に失敗しました: %w", err)
	}
	if f == nil || f.IsDeleted() {
		return nil, model.NewForumNotFoundError(slugPath)
	}
	return f, nil
}

// View はスラッグパスからフォーラムを解決し、閲覧権限を確認する。
func (s *Service) View(ctx context.Context, slugPath string, viewer *model.User) (*model.Forum, error) {
	f, err := s.ResolveByPath(ctx, slugPath)
	if err != nil {
		return nil, err
	}
	if !HasAccess(f, viewer) {
		return nil, model.NewAccessDeniedError()
	}
	return f, nil
}

// ListChildren は子フォーラムを (ordering, title) 順で返す。parentIDがnilの場合はルート。
func (s *Service) ListChildren(ctx context.Context, parentID *string) ([]*model.Forum, error) {
	children, err := s.db.Forums().ListChildren(ctx, parentID)
	if err != nil {
		return nil, fmt.Errorf("子フォーラムの取得に失敗しました: %w", err)
	}
	return children, nil
}

// VisibleChildren は閲覧者がアクセスできる子フォーラムだけを返す。
func (s *Service) VisibleChildren(ctx context.Context, parentID *string, viewer *model.User) ([]*model.Forum, error) {
	children, err := s.ListChildren(ctx, parentID)
	if err != nil {
		return nil, err
	}
	return slices.DeleteFunc(children, func(f *model.Forum) bool {
		return !HasAccess(f, viewer)
	}), nil
}

// Breadcrumbs はルートから親までの祖先フォーラムを返す。
// スラッグパスの接頭辞から1回の問い合わせで取得する。
func (s *Service) Breadcrumbs(ctx context.Context, f *model.Forum) ([]*model.Forum, error) {
	parts := strings.Split(f.SlugPath, "/")
	if len(parts) <= 1 {
		return nil, nil
	}
	prefixes := make([]string, 0, len(parts)-1)
	for i := 1; i < len(parts); i++ {
		prefixes = append(prefixes, strings.Join(parts[:i], "/"))
	}
	ancestors, err := s.db.Forums().FindBySlugPaths(ctx, prefixes)
	if err != nil {
		return nil, fmt.Errorf("パンくずリストの取得に失敗しました: %w", err)
	}
	slices.SortFunc(ancestors, func(a, b *model.Forum) int {
		return len(a.SlugPath) - len(b.SlugPath)
	})
	return ancestors, nil
}

// aliveForum は論理削除されていないフォーラムを取得する。
func aliveForum(ctx context.Context, store repository.Store, forumID string) (*model.Forum, error) {
	f, err := store.Forums().FindByID(ctx, forumID)
	if err != nil {
		return nil, fmt.Errorf("フォーラムの取得に失敗しました: %w", err)
	}
	if f == nil || f.IsDeleted() {
		return nil, model.NewForumNotFoundError(forumID)
	}
	return f, nil
}
