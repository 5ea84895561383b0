package thread

import (
	"context"
	"fmt"

	"github.com/hitoshi/forumd/internal/model"
	"github.com/hitoshi/forumd/internal/repository"
)

// EditPostInput は投稿編集の入力。
type EditPostInput struct {
	Content  string
	EditorIP *string
}

// ThreadPatch はスレッドの変更内容。nilの項目は変更しない。
type ThreadPatch struct {
	Title        *string
	Sticky       *bool
	GlobalSticky *bool
	Closed       *bool
	Locked       *bool
	Resolved     *bool
	ForumID      *string
}

// onlyAuthorFields はスレッド作成者が自分で変更できる項目だけを含むかどうかを返す。
func (p ThreadPatch) onlyAuthorFields() bool {
	return p.Sticky == nil && p.GlobalSticky == nil && p.Closed == nil && p.Locked == nil && p.ForumID == nil
}

func (p ThreadPatch) empty() bool {
	return p.onlyAuthorFields() && p.Title == nil && p.Resolved == nil
}

// EditPost は投稿を編集する。投稿者本人または change_post 権限が必要。
// ロックされたスレッドでは最初の投稿以外を change_post 権限なしに編集できない。
// 本文は著者（編集者ではない）の権限で再レンダリングする。
func (s *Service) EditPost(ctx context.Context, editor *model.User, postID string, in EditPostInput) (*model.Post, error) {
	if err := requireUser(editor); err != nil {
		return nil, err
	}
	if err := validateContent(in.Content); err != nil {
		return nil, err
	}

	var edited *model.Post
	err := s.retryOnConflict(ctx, "edit_post", func() error {
		return s.db.WithinTx(ctx, func(ctx context.Context, tx repository.Store) error {
			p, t, err := lockPost(ctx, tx, postID, editor)
			if err != nil {
				return err
			}
			if t.IsDeleted() || p.IsDeleted() {
				return model.NewPostNotFoundError(postID)
			}
			isAuthor := editor.ID == p.AuthorID
			if !isAuthor && !editor.Has(model.CapChangePost) {
				return model.NewAccessDeniedError()
			}
			if t.Locked && p.ID != t.FirstPostID && !editor.Has(model.CapChangePost) {
				return model.NewThreadClosedError()
			}

			author := editor
			if !isAuthor {
				author, err = tx.Users().FindByID(ctx, p.AuthorID)
				if err != nil {
					return fmt.Errorf("投稿者の取得に失敗しました: %w", err)
				}
			}

			now := s.clock.Now()
			if in.Content != p.ContentSource {
				p.ContentSource = in.Content
				p.LastContentModifiedAt = now
			}
			if err := s.renderPost(p, author); err != nil {
				return err
			}
			p.LastModifiedAt = now
			p.LastModifiedByID = editor.ID
			if isAuthor {
				p.AuthorIP = in.EditorIP
			}
			if err := tx.Posts().Update(ctx, p); err != nil {
				return fmt.Errorf("投稿の更新に失敗しました: %w", err)
			}
			if err := refreshLastPost(ctx, tx, t, now); err != nil {
				return err
			}
			edited = p
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return edited, nil
}

// DeletePost は投稿を論理削除する。投稿者本人または delete_post 権限が必要。
// 最初の投稿の削除はスレッドの削除として扱い、threadDeleted=true を返す。
func (s *Service) DeletePost(ctx context.Context, actor *model.User, postID string) (threadDeleted bool, err error) {
	if err := requireUser(actor); err != nil {
		return false, err
	}

	err = s.retryOnConflict(ctx, "delete_post", func() error {
		threadDeleted = false
		return s.db.WithinTx(ctx, func(ctx context.Context, tx repository.Store) error {
			p, t, err := lockPost(ctx, tx, postID, actor)
			if err != nil {
				return err
			}
			if t.IsDeleted() {
				return model.NewInvalidStateError("削除済みスレッドの投稿は削除できません")
			}
			if p.IsDeleted() {
				return model.NewPostNotFoundError(postID)
			}
			if p.AuthorID != actor.ID && !actor.Has(model.CapDeletePost) {
				return model.NewAccessDeniedError()
			}

			if p.ID == t.FirstPostID {
				threadDeleted = true
				return s.deleteThread(ctx, tx, actor, t)
			}

			now := s.clock.Now()
			if err := tx.Posts().SoftDelete(ctx, p.ID, now); err != nil {
				return fmt.Errorf("投稿の削除に失敗しました: %w", err)
			}
			if p.ID != t.LastPostID {
				return nil
			}
			return refreshLastPost(ctx, tx, t, now)
		})
	})
	return threadDeleted, err
}

// DeleteThread はスレッドを論理削除する。
// 返信が1件以下なら作成者本人が、それ以外は delete_thread または delete_post 権限で削除できる。
func (s *Service) DeleteThread(ctx context.Context, actor *model.User, threadID string) error {
	if err := requireUser(actor); err != nil {
		return err
	}
	return s.retryOnConflict(ctx, "delete_thread", func() error {
		return s.db.WithinTx(ctx, func(ctx context.Context, tx repository.Store) error {
			t, err := lockThread(ctx, tx, threadID)
			if err != nil {
				return err
			}
			if _, err := threadForum(ctx, tx, t, actor); err != nil {
				return err
			}
			return s.deleteThread(ctx, tx, actor, t)
		})
	})
}

func (s *Service) deleteThread(ctx context.Context, tx repository.Store, actor *model.User, t *model.Thread) error {
	if !isModerator(actor) {
		first, err := tx.Posts().FindByID(ctx, t.FirstPostID)
		if err != nil {
			return fmt.Errorf("最初の投稿の取得に失敗しました: %w", err)
		}
		if first == nil || first.AuthorID != actor.ID {
			return model.NewAccessDeniedError()
		}
		alive, err := tx.Posts().CountByThread(ctx, t.ID, false)
		if err != nil {
			return fmt.Errorf("投稿数の取得に失敗しました: %w", err)
		}
		if alive-1 > 1 {
			return model.NewAccessDeniedError()
		}
	}
	if err := tx.Threads().SoftDelete(ctx, t.ID, s.clock.Now()); err != nil {
		return fmt.Errorf("スレッドの削除に失敗しました: %w", err)
	}
	return nil
}

// UpdateThread はスレッドのタイトル・フラグ・所属フォーラムを変更する。
// change_thread 権限が必要だが、作成者はタイトルと解決済みフラグを変更できる。
// 全体固定は固定を含意し、固定を外すと全体固定も外れる。
func (s *Service) UpdateThread(ctx context.Context, actor *model.User, threadID string, patch ThreadPatch) (*model.Thread, error) {
	if err := requireUser(actor); err != nil {
		return nil, err
	}
	if patch.empty() {
		return nil, model.NewInvalidRequestError("変更内容がありません")
	}
	if patch.Sticky != nil && !*patch.Sticky && patch.GlobalSticky != nil && *patch.GlobalSticky {
		return nil, model.NewInvalidRequestError("固定を外したまま全体固定にはできません")
	}
	var title string
	if patch.Title != nil {
		var err error
		if title, err = validateTitle(*patch.Title); err != nil {
			return nil, err
		}
	}

	var updated *model.Thread
	err := s.retryOnConflict(ctx, "update_thread", func() error {
		return s.db.WithinTx(ctx, func(ctx context.Context, tx repository.Store) error {
			t, err := lockThread(ctx, tx, threadID)
			if err != nil {
				return err
			}
			if _, err := threadForum(ctx, tx, t, actor); err != nil {
				return err
			}
			if !actor.Has(model.CapChangeThread) {
				if !patch.onlyAuthorFields() {
					return model.NewAccessDeniedError()
				}
				first, err := tx.Posts().FindByID(ctx, t.FirstPostID)
				if err != nil {
					return fmt.Errorf("最初の投稿の取得に失敗しました: %w", err)
				}
				if first == nil || first.AuthorID != actor.ID {
					return model.NewAccessDeniedError()
				}
			}

			if patch.Title != nil {
				t.Title = title
				t.Slug = Slugify(title)
			}
			if patch.Sticky != nil {
				t.Sticky = *patch.Sticky
				if !t.Sticky {
					t.GlobalSticky = false
				}
			}
			if patch.GlobalSticky != nil {
				t.GlobalSticky = *patch.GlobalSticky
				if t.GlobalSticky {
					t.Sticky = true
				}
			}
			if patch.Closed != nil {
				t.Closed = *patch.Closed
			}
			if patch.Locked != nil {
				t.Locked = *patch.Locked
			}
			if patch.Resolved != nil {
				t.Resolved = *patch.Resolved
			}
			if patch.ForumID != nil && *patch.ForumID != t.ForumID {
				target, err := loadForum(ctx, tx, *patch.ForumID, actor)
				if err != nil {
					return err
				}
				t.ForumID = target.ID
			}

			t.LastModified = s.clock.Now()
			if err := tx.Threads().Update(ctx, t); err != nil {
				return fmt.Errorf("スレッドの更新に失敗しました: %w", err)
			}
			updated = t
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// lockPost は投稿と、その所属スレッドをロックして取得する。
// 投稿が存在しない場合と所属フォーラムを閲覧できない場合はエラーを返す。
// 投稿はスレッドのロック取得後に読み直す。
func lockPost(ctx context.Context, tx repository.Store, postID string, viewer *model.User) (*model.Post, *model.Thread, error) {
	p, err := tx.Posts().FindByID(ctx, postID)
	if err != nil {
		return nil, nil, fmt.Errorf("投稿の取得に失敗しました: %w", err)
	}
	if p == nil {
		return nil, nil, model.NewPostNotFoundError(postID)
	}
	t, err := tx.Threads().FindByIDForUpdate(ctx, p.ThreadID)
	if err != nil {
		return nil, nil, fmt.Errorf("スレッドの取得に失敗しました: %w", err)
	}
	if t == nil {
		return nil, nil, model.NewPostNotFoundError(postID)
	}
	p, err = tx.Posts().FindByID(ctx, postID)
	if err != nil {
		return nil, nil, fmt.Errorf("投稿の取得に失敗しました: %w", err)
	}
	if p == nil || p.ThreadID != t.ID {
		return nil, nil, model.NewPostNotFoundError(postID)
	}
	if _, err := loadForum(ctx, tx, t.ForumID, viewer); err != nil {
		if model.HasCode(err, model.ErrCodeForumNotFound) {
			return nil, nil, model.NewPostNotFoundError(postID)
		}
		return nil, nil, err
	}
	return p, t, nil
}
