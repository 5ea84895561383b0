// Package subscription は購読管理と購読者への通知のドメインロジックを提供する。
package subscription

import (
	"cmp"
	"context"
	"fmt"
	"slices"

	"github.com/hitoshi/forumd/internal/clock"
	"github.com/hitoshi/forumd/internal/model"
	"github.com/hitoshi/forumd/internal/repository"
)

// Service は購読管理のサービス層。
// 購読・購読解除、購読者一覧、返信通知の既定値の設定を提供する。
type Service struct {
	store repository.Store
	clock clock.Clock
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(store repository.Store, clk clock.Clock) *Service {
	return &Service{store: store, clock: clk}
}

// Subscribe は対象を購読する。対象が存在し、閲覧できる必要がある。
// 解除済みの購読は再び有効になる。
func (s *Service) Subscribe(ctx context.Context, user *model.User, kind model.TargetKind, targetID string) error {
	if user.IsAnonymous() {
		return model.NewUnauthorizedError()
	}
	if err := s.checkTarget(ctx, user, kind, targetID); err != nil {
		return err
	}
	now := s.clock.Now()
	err := s.store.Subscriptions().Upsert(ctx, &model.Subscription{
		Kind:      kind,
		UserID:    user.ID,
		TargetID:  targetID,
		Active:    true,
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		return fmt.Errorf("購読の登録に失敗しました: %w", err)
	}
	return nil
}

// Unsubscribe は購読を解除する。行は Active=false の墓標として残る。
// 購読していない場合は何もしない。
func (s *Service) Unsubscribe(ctx context.Context, user *model.User, kind model.TargetKind, targetID string) error {
	if user.IsAnonymous() {
		return model.NewUnauthorizedError()
	}
	sub, err := s.store.Subscriptions().Find(ctx, kind, user.ID, targetID)
	if err != nil {
		return fmt.Errorf("購読の取得に失敗しました: %w", err)
	}
	if sub == nil || !sub.Active {
		return nil
	}
	sub.Active = false
	sub.UpdatedAt = s.clock.Now()
	if err := s.store.Subscriptions().Upsert(ctx, sub); err != nil {
		return fmt.Errorf("購読の解除に失敗しました: %w", err)
	}
	return nil
}

// ListSubscribers は対象を有効に購読しているユーザーIDを返す。
func (s *Service) ListSubscribers(ctx context.Context, kind model.TargetKind, targetID string) ([]string, error) {
	ids, err := s.store.Subscriptions().ListActiveSubscriberIDs(ctx, kind, targetID)
	if err != nil {
		return nil, fmt.Errorf("購読者一覧の取得に失敗しました: %w", err)
	}
	return ids, nil
}

// IsSubscribed はユーザーが対象を有効に購読しているかどうかを返す。
func (s *Service) IsSubscribed(ctx context.Context, userID string, kind model.TargetKind, targetID string) (bool, error) {
	if userID == "" {
		return false, nil
	}
	sub, err := s.store.Subscriptions().Find(ctx, kind, userID, targetID)
	if err != nil {
		return false, fmt.Errorf("購読の取得に失敗しました: %w", err)
	}
	return sub != nil && sub.Active, nil
}

// ListForUser はユーザーの有効なフォーラム購読とスレッド購読を、更新の新しい順に返す。
func (s *Service) ListForUser(ctx context.Context, userID string) ([]*model.Subscription, error) {
	var all []*model.Subscription
	for _, kind := range []model.TargetKind{model.TargetForum, model.TargetThread} {
		subs, err := s.store.Subscriptions().ListActiveByUser(ctx, kind, userID)
		if err != nil {
			return nil, fmt.Errorf("購読一覧の取得に失敗しました: %w", err)
		}
		all = append(all, subs...)
	}
	slices.SortStableFunc(all, func(a, b *model.Subscription) int {
		return cmp.Or(b.UpdatedAt.Compare(a.UpdatedAt), cmp.Compare(a.TargetID, b.TargetID))
	})
	return all, nil
}

// Profile はユーザーのフォーラムプロフィールを返す。未作成の場合は既定値を返す。
func (s *Service) Profile(ctx context.Context, userID string) (*model.ForumUserProfile, error) {
	p, err := s.store.Profiles().Find(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("プロフィールの取得に失敗しました: %w", err)
	}
	if p == nil {
		return &model.ForumUserProfile{UserID: userID, NotifyOfReplyByDefault: true}, nil
	}
	return p, nil
}

// UpdateProfile は返信通知の既定値を保存する。
func (s *Service) UpdateProfile(ctx context.Context, userID string, notifyOfReplyByDefault bool) (*model.ForumUserProfile, error) {
	if err := s.store.Profiles().SaveSettings(ctx, userID, notifyOfReplyByDefault); err != nil {
		return nil, fmt.Errorf("プロフィールの保存に失敗しました: %w", err)
	}
	return s.Profile(ctx, userID)
}

// checkTarget は購読対象が存在し、ユーザーが閲覧できることを確認する。
func (s *Service) checkTarget(ctx context.Context, user *model.User, kind model.TargetKind, targetID string) error {
	forumID := targetID
	switch kind {
	case model.TargetForum:
	case model.TargetThread:
		t, err := s.store.Threads().FindByID(ctx, targetID)
		if err != nil {
			return fmt.Errorf("スレッドの取得に失敗しました: %w", err)
		}
		if t == nil || t.IsDeleted() {
			return model.NewThreadNotFoundError(targetID)
		}
		forumID = t.ForumID
	default:
		return model.NewInvalidRequestError("不明な購読対象です: " + string(kind))
	}

	f, err := s.store.Forums().FindByID(ctx, forumID)
	if err != nil {
		return fmt.Errorf("フォーラムの取得に失敗しました: %w", err)
	}
	if f == nil || f.IsDeleted() {
		if kind == model.TargetThread {
			return model.NewThreadNotFoundError(targetID)
		}
		return model.NewForumNotFoundError(targetID)
	}
	if !f.AccessibleBy(user) {
		return model.NewAccessDeniedError()
	}
	return nil
}
