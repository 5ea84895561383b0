// Package thread はスレッドと投稿のドメインロジックを提供する。
//
// 変更操作はすべて1つのトランザクション内で行い、スレッド行をロックしたうえで
// last_post_id を比較交換で更新する。競合した場合は retryOnConflict が再試行する。
// 通知とクロスポストはコミット後に行い、その失敗は投稿を失敗させない。
package thread

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/hitoshi/forumd/internal/antiflood"
	"github.com/hitoshi/forumd/internal/clock"
	"github.com/hitoshi/forumd/internal/metrics"
	"github.com/hitoshi/forumd/internal/model"
	"github.com/hitoshi/forumd/internal/render"
	"github.com/hitoshi/forumd/internal/repository"
)

// MaxTitleLength はスレッドタイトルの最大文字数。
const MaxTitleLength = 200

// Config はスレッドサービスの設定。
type Config struct {
	ThreadsPerPage     int
	PostsPerPage       int
	OldPostAge         time.Duration // 最終活動がこれより古いスレッドは is_old
	ConflictMaxRetries int
}

// DefaultConfig は既定の設定を返す。
func DefaultConfig() Config {
	return Config{
		ThreadsPerPage:     25,
		PostsPerPage:       25,
		OldPostAge:         186 * 24 * time.Hour,
		ConflictMaxRetries: 3,
	}
}

// Notifier はコミット後の購読者通知を行う。
// 実装は呼び出し元をブロックせず、エラーを返さない。
type Notifier interface {
	NewThread(ctx context.Context, ev model.PublishEvent)
	NewReply(ctx context.Context, ev model.PublishEvent)
}

// CrossPoster は新規スレッドを外部サービスへ告知する。
type CrossPoster interface {
	Announce(ctx context.Context, ev model.PublishEvent)
}

// Service はスレッドと投稿のサービス層。
type Service struct {
	db          repository.Database
	renderer    render.Renderer
	clock       clock.Clock
	gate        *antiflood.Gate
	cfg         Config
	notifier    Notifier
	crossPoster CrossPoster
	metrics     metrics.MetricsCollector
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(
	db repository.Database,
	renderer render.Renderer,
	clk clock.Clock,
	gate *antiflood.Gate,
	cfg Config,
) *Service {
	return &Service{
		db:       db,
		renderer: renderer,
		clock:    clk,
		gate:     gate,
		cfg:      cfg,
		metrics:  metrics.Nop{},
	}
}

// SetNotifier はコミット後の通知先を設定する。
func (s *Service) SetNotifier(n Notifier) {
	s.notifier = n
}

// SetCrossPoster はクロスポスト先を設定する。
func (s *Service) SetCrossPoster(c CrossPoster) {
	s.crossPoster = c
}

// SetMetrics はメトリクス収集先を設定する。
func (s *Service) SetMetrics(m metrics.MetricsCollector) {
	if m == nil {
		m = metrics.Nop{}
	}
	s.metrics = m
}

// retryOnConflict は fn がCONFLICTを返す限り、最大 ConflictMaxRetries 回まで実行する。
func (s *Service) retryOnConflict(ctx context.Context, operation string, fn func() error) error {
	attempts := max(s.cfg.ConflictMaxRetries, 1)
	var err error
	for i := 0; i < attempts; i++ {
		err = fn()
		if !model.HasCode(err, model.ErrCodeConflict) {
			return err
		}
		if ctx.Err() != nil {
			return err
		}
		s.metrics.RecordConflictRetry(operation)
	}
	return err
}

// claimPostingSlot はプロフィール行をロックして連続投稿制限を判定し、
// 許可する場合は最終投稿時刻を now に更新する。
func (s *Service) claimPostingSlot(ctx context.Context, tx repository.Store, userID string, now time.Time) (*model.ForumUserProfile, error) {
	profile, err := tx.Profiles().FindOrCreateForUpdate(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("プロフィールの取得に失敗しました: %w", err)
	}
	if err := s.gate.Check(profile, now); err != nil {
		s.metrics.RecordFloodRejected()
		return nil, err
	}
	if err := tx.Profiles().SetLastPostAt(ctx, userID, now); err != nil {
		return nil, fmt.Errorf("最終投稿時刻の更新に失敗しました: %w", err)
	}
	return profile, nil
}

// subscribeAuthor は明示指定、無ければプロフィールの既定値に従って著者をスレッドに購読させる。
func subscribeAuthor(ctx context.Context, tx repository.Store, profile *model.ForumUserProfile, requested *bool, userID, threadID string, now time.Time) error {
	want := profile.NotifyOfReplyByDefault
	if requested != nil {
		want = *requested
	}
	if !want {
		return nil
	}
	err := tx.Subscriptions().Upsert(ctx, &model.Subscription{
		Kind:      model.TargetThread,
		UserID:    userID,
		TargetID:  threadID,
		Active:    true,
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		return fmt.Errorf("スレッドの購読に失敗しました: %w", err)
	}
	return nil
}

// renderPost は著者の権限で本文をレンダリングし、投稿のキャッシュ項目に設定する。
func (s *Service) renderPost(p *model.Post, author *model.User) error {
	out, err := s.renderer.Render(p.ContentSource, render.CapsForUser(author))
	if err != nil {
		return err
	}
	p.ContentHTML = out.HTML
	p.ContentText = out.Text
	p.SummaryHTML = out.SummaryHTML
	p.FootnotesHTML = out.FootnotesHTML
	return nil
}

// loadForum は論理削除されていないフォーラムを取得し、閲覧権限を確認する。
func loadForum(ctx context.Context, store repository.Store, forumID string, viewer *model.User) (*model.Forum, error) {
	f, err := store.Forums().FindByID(ctx, forumID)
	if err != nil {
		return nil, fmt.Errorf("フォーラムの取得に失敗しました: %w", err)
	}
	if f == nil || f.IsDeleted() {
		return nil, model.NewForumNotFoundError(forumID)
	}
	if !f.AccessibleBy(viewer) {
		return nil, model.NewAccessDeniedError()
	}
	return f, nil
}

// lockThread はスレッド行をロックして取得する。論理削除済みはTHREAD_NOT_FOUND。
func lockThread(ctx context.Context, tx repository.Store, threadID string) (*model.Thread, error) {
	t, err := tx.Threads().FindByIDForUpdate(ctx, threadID)
	if err != nil {
		return nil, fmt.Errorf("スレッドの取得に失敗しました: %w", err)
	}
	if t == nil || t.IsDeleted() {
		return nil, model.NewThreadNotFoundError(threadID)
	}
	return t, nil
}

// threadForum はスレッドの所属フォーラムを取得する。
// フォーラムが論理削除されている場合はスレッドも存在しないものとして扱う。
func threadForum(ctx context.Context, store repository.Store, t *model.Thread, viewer *model.User) (*model.Forum, error) {
	f, err := loadForum(ctx, store, t.ForumID, viewer)
	if model.HasCode(err, model.ErrCodeForumNotFound) {
		return nil, model.NewThreadNotFoundError(t.ID)
	}
	return f, err
}

// refreshLastPost は last_post_id を論理削除されていない最新の投稿に合わせる。
// スレッド行のロックを保持した状態で呼ぶこと。
func refreshLastPost(ctx context.Context, tx repository.Store, t *model.Thread, now time.Time) error {
	newest, err := tx.Posts().FindNewestAlive(ctx, t.ID)
	if err != nil {
		return fmt.Errorf("最新投稿の取得に失敗しました: %w", err)
	}
	if newest == nil || newest.ID == t.LastPostID {
		return nil
	}
	if err := tx.Threads().CompareAndSwapLastPost(ctx, t.ID, t.LastPostID, newest.ID, now); err != nil {
		return err
	}
	t.LastPostID = newest.ID
	return nil
}

func requireUser(u *model.User) error {
	if u.IsAnonymous() {
		return model.NewUnauthorizedError()
	}
	return nil
}

func validateContent(content string) error {
	if strings.TrimSpace(content) == "" {
		return model.NewInvalidRequestError("本文は必須です")
	}
	return nil
}

func validateTitle(title string) (string, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return "", model.NewInvalidRequestError("タイトルは必須です")
	}
	if len([]rune(title)) > MaxTitleLength {
		return "", model.NewInvalidRequestError(fmt.Sprintf("タイトルは%d文字以内で入力してください", MaxTitleLength))
	}
	return title, nil
}

// isModerator はスレッドの削除権限を持つかどうかを返す。論理削除済みの内容も閲覧できる。
func isModerator(u *model.User) bool {
	return u.Has(model.CapDeleteThread) || u.Has(model.CapDeletePost)
}
