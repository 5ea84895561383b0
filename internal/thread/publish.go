package thread

import (
	"context"
	"fmt"
	"time"

	"github.com/hitoshi/forumd/internal/metrics"
	"github.com/hitoshi/forumd/internal/model"
	"github.com/hitoshi/forumd/internal/repository"
)

// CreateThreadInput はスレッド作成の入力。
type CreateThreadInput struct {
	ForumID   string
	Title     string
	Content   string
	AuthorIP  *string
	Subscribe *bool // nilの場合はプロフィールの既定値に従う
}

// ReplyInput は返信の入力。
type ReplyInput struct {
	Content   string
	AuthorIP  *string
	Subscribe *bool
}

func newPost(threadID string, author *model.User, content string, ip *string, now time.Time) *model.Post {
	return &model.Post{
		ID:                    model.NewID(),
		ThreadID:              threadID,
		AuthorID:              author.ID,
		PublishedAt:           now,
		LastContentModifiedAt: now,
		LastModifiedAt:        now,
		LastModifiedByID:      author.ID,
		ContentSource:         content,
		AuthorIP:              ip,
	}
}

// CreateThread はスレッドと最初の投稿を同一トランザクションで作成する。
func (s *Service) CreateThread(ctx context.Context, author *model.User, in CreateThreadInput) (*model.Thread, *model.Post, error) {
	if err := requireUser(author); err != nil {
		return nil, nil, err
	}
	title, err := validateTitle(in.Title)
	if err != nil {
		return nil, nil, err
	}
	if err := validateContent(in.Content); err != nil {
		return nil, nil, err
	}

	var (
		forum  *model.Forum
		thread *model.Thread
		post   *model.Post
	)
	err = s.retryOnConflict(ctx, "create_thread", func() error {
		return s.db.WithinTx(ctx, func(ctx context.Context, tx repository.Store) error {
			f, err := loadForum(ctx, tx, in.ForumID, author)
			if err != nil {
				return err
			}
			if f.Closed {
				return model.NewThreadClosedError()
			}

			now := s.clock.Now()
			profile, err := s.claimPostingSlot(ctx, tx, author.ID, now)
			if err != nil {
				return err
			}

			t := &model.Thread{
				ID:           model.NewID(),
				ForumID:      f.ID,
				Slug:         Slugify(title),
				Title:        title,
				LastModified: now,
				CreatedAt:    now,
			}
			p := newPost(t.ID, author, in.Content, in.AuthorIP, now)
			if err := s.renderPost(p, author); err != nil {
				return err
			}
			t.FirstPostID = p.ID
			t.LastPostID = p.ID

			if err := tx.Threads().Create(ctx, t); err != nil {
				return fmt.Errorf("スレッドの作成に失敗しました: %w", err)
			}
			if err := tx.Posts().Create(ctx, p); err != nil {
				return fmt.Errorf("投稿の作成に失敗しました: %w", err)
			}
			if err := subscribeAuthor(ctx, tx, profile, in.Subscribe, author.ID, t.ID, now); err != nil {
				return err
			}
			forum, thread, post = f, t, p
			return nil
		})
	})
	if err != nil {
		return nil, nil, err
	}

	s.metrics.RecordPostCreated(metrics.KindThread)
	ev := model.PublishEvent{Forum: *forum, Thread: *thread, Post: *post, Author: *author}
	if s.notifier != nil {
		s.notifier.NewThread(ctx, ev)
	}
	if s.crossPoster != nil {
		s.crossPoster.Announce(ctx, ev)
	}
	return thread, post, nil
}

// Reply はスレッドに返信する。
// スレッド行をロックし、last_post_id を比較交換で新しい投稿に置き換える。
func (s *Service) Reply(ctx context.Context, author *model.User, threadID string, in ReplyInput) (*model.Post, error) {
	if err := requireUser(author); err != nil {
		return nil, err
	}
	if err := validateContent(in.Content); err != nil {
		return nil, err
	}

	var (
		forum  *model.Forum
		thread *model.Thread
		post   *model.Post
	)
	err := s.retryOnConflict(ctx, "reply", func() error {
		return s.db.WithinTx(ctx, func(ctx context.Context, tx repository.Store) error {
			t, err := lockThread(ctx, tx, threadID)
			if err != nil {
				return err
			}
			f, err := threadForum(ctx, tx, t, author)
			if err != nil {
				return err
			}
			if t.Closed || t.Locked || f.Closed {
				return model.NewThreadClosedError()
			}

			now := s.clock.Now()
			profile, err := s.claimPostingSlot(ctx, tx, author.ID, now)
			if err != nil {
				return err
			}

			p := newPost(t.ID, author, in.Content, in.AuthorIP, now)
			if err := s.renderPost(p, author); err != nil {
				return err
			}
			if err := tx.Posts().Create(ctx, p); err != nil {
				return fmt.Errorf("投稿の作成に失敗しました: %w", err)
			}
			if err := tx.Threads().CompareAndSwapLastPost(ctx, t.ID, t.LastPostID, p.ID, now); err != nil {
				return err
			}
			t.LastPostID = p.ID
			t.LastModified = now
			if err := subscribeAuthor(ctx, tx, profile, in.Subscribe, author.ID, t.ID, now); err != nil {
				return err
			}
			forum, thread, post = f, t, p
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	s.metrics.RecordPostCreated(metrics.KindReply)
	if s.notifier != nil {
		s.notifier.NewReply(ctx, model.PublishEvent{Forum: *forum, Thread: *thread, Post: *post, Author: *author})
	}
	return post, nil
}
