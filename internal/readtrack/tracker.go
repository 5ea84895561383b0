// Package readtrack はユーザーごとの既読状態を管理する。
//
// 既読はフォーラム単位とスレッド単位の2種類のマーカーで表す。スレッドは、
// 最終投稿の更新日時が両マーカーの新しい方以前であれば既読とみなす。
// 無効化されたマーカーは存在しないものとして扱う。
package readtrack

import (
	"context"
	"fmt"
	"time"

	"github.com/hitoshi/forumd/internal/clock"
	"github.com/hitoshi/forumd/internal/model"
	"github.com/hitoshi/forumd/internal/repository"
)

// IsReadAt は最終投稿の更新日時と2つのマーカーから既読かどうかを判定する。
func IsReadAt(lastPostModifiedAt time.Time, forumMarker, threadMarker *model.ReadMarker) bool {
	var latest *time.Time
	for _, m := range []*model.ReadMarker{forumMarker, threadMarker} {
		if m == nil || !m.Active {
			continue
		}
		if latest == nil || m.LastReadAt.After(*latest) {
			at := m.LastReadAt
			latest = &at
		}
	}
	return latest != nil && !lastPostModifiedAt.After(*latest)
}

// Tracker は既読マーカーのサービス層。
type Tracker struct {
	store repository.Store
	clock clock.Clock
}

// NewTracker はTrackerを生成する。
func NewTracker(store repository.Store, clk clock.Clock) *Tracker {
	return &Tracker{store: store, clock: clk}
}

// MarkThreadRead はスレッドを seenUpTo まで既読にする。スレッドの表示時に呼ぶ。
// seenUpTo には閲覧者が読み込んだ時点の最終投稿の更新日時を渡す。
// 読み込み後にコミットされた返信は未読のまま残る。
func (t *Tracker) MarkThreadRead(ctx context.Context, userID, threadID string, seenUpTo time.Time) error {
	if seenUpTo.IsZero() {
		return nil
	}
	return t.mark(ctx, model.TargetThread, userID, threadID, seenUpTo)
}

// MarkForumRead はフォーラムの全スレッドを現在時刻まで既読にする。
// フォーラムマーカーだけを更新し、スレッドマーカーは作らない。
func (t *Tracker) MarkForumRead(ctx context.Context, userID, forumID string) error {
	return t.mark(ctx, model.TargetForum, userID, forumID, t.clock.Now())
}

// MarkThreadUnread はスレッドマーカーを無効化する。
// フォーラムマーカーが新しい場合は既読のまま残る。
func (t *Tracker) MarkThreadUnread(ctx context.Context, userID, threadID string) error {
	if userID == "" {
		return nil
	}
	if err := t.store.ReadMarkers().Deactivate(ctx, model.TargetThread, userID, threadID); err != nil {
		return fmt.Errorf("既読マーカーの無効化に失敗しました: %w", err)
	}
	return nil
}

// IsRead はユーザーにとってスレッドが既読かどうかを返す。匿名ユーザーは常に未読。
func (t *Tracker) IsRead(ctx context.Context, userID string, thread *model.Thread) (bool, error) {
	if userID == "" {
		return false, nil
	}
	last, err := t.store.Posts().FindByID(ctx, thread.LastPostID)
	if err != nil {
		return false, fmt.Errorf("最終投稿の取得に失敗しました: %w", err)
	}
	if last == nil {
		return false, nil
	}
	fm, err := t.store.ReadMarkers().Find(ctx, model.TargetForum, userID, thread.ForumID)
	if err != nil {
		return false, fmt.Errorf("既読マーカーの取得に失敗しました: %w", err)
	}
	tm, err := t.store.ReadMarkers().Find(ctx, model.TargetThread, userID, thread.ID)
	if err != nil {
		return false, fmt.Errorf("既読マーカーの取得に失敗しました: %w", err)
	}
	return IsReadAt(last.LastModifiedAt, fm, tm), nil
}

func (t *Tracker) mark(ctx context.Context, kind model.TargetKind, userID, targetID string, at time.Time) error {
	if userID == "" {
		return nil
	}
	err := t.store.ReadMarkers().Upsert(ctx, &model.ReadMarker{
		Kind:       kind,
		UserID:     userID,
		TargetID:   targetID,
		LastReadAt: at,
		Active:     true,
	})
	if err != nil {
		return fmt.Errorf("既読マーカーの更新に失敗しました: %w", err)
	}
	return nil
}
