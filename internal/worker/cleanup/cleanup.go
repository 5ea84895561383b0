// Package cleanup はフォーラムの定期メンテナンスジョブを提供する。
// 猶予期間を過ぎた論理削除済みのスレッドと投稿、無効化された購読と既読マーカー、
// 存在しないユーザーを参照する行、空になった削除済みフォーラム、
// 既読にされた古い通知を物理削除する。
package cleanup

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/forumd/internal/clock"
	"github.com/hitoshi/forumd/internal/metrics"
)

// Executor はSQLのExecContextを抽象化するインターフェース。
// *sql.DB や *sql.Tx を受け付けることができる。
type Executor interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// 削除対象の種類。ログとメトリクスのラベルに使う。
const (
	KindThreads       = "threads"
	KindPosts         = "posts"
	KindSubscriptions = "subscriptions"
	KindReadMarkers   = "read_markers"
	KindOrphanedRows  = "orphaned_rows"
	KindForums        = "forums"
	KindNotifications = "notifications"
)

const defaultGracePeriod = 365 * 24 * time.Hour

const (
	deleteExpiredThreads = `DELETE FROM threads
		WHERE deleted_at IS NOT NULL AND deleted_at <= $1`

	// スレッドの最初・最後の投稿として参照されている行は残す
	deleteExpiredPosts = `DELETE FROM posts p
		WHERE p.deleted_at IS NOT NULL AND p.deleted_at <= $1
		AND NOT EXISTS (
			SELECT 1 FROM threads t
			WHERE t.first_post_id = p.id OR t.last_post_id = p.id
		)`

	deleteInactiveForumSubscriptions  = `DELETE FROM forum_subscriptions WHERE active = false`
	deleteInactiveThreadSubscriptions = `DELETE FROM thread_subscriptions WHERE active = false`
	deleteInactiveForumMarkers        = `DELETE FROM forum_read_markers WHERE active = false`
	deleteInactiveThreadMarkers       = `DELETE FROM thread_read_markers WHERE active = false`

	deleteOrphanedForumSubscriptions = `DELETE FROM forum_subscriptions s
		WHERE NOT EXISTS (SELECT 1 FROM users u WHERE u.id = s.user_id)`
	deleteOrphanedThreadSubscriptions = `DELETE FROM thread_subscriptions s
		WHERE NOT EXISTS (SELECT 1 FROM users u WHERE u.id = s.user_id)`
	deleteOrphanedForumMarkers = `DELETE FROM forum_read_markers m
		WHERE NOT EXISTS (SELECT 1 FROM users u WHERE u.id = m.user_id)`
	deleteOrphanedThreadMarkers = `DELETE FROM thread_read_markers m
		WHERE NOT EXISTS (SELECT 1 FROM users u WHERE u.id = m.user_id)`
	deleteOrphanedProfiles = `DELETE FROM forum_user_profiles p
		WHERE NOT EXISTS (SELECT 1 FROM users u WHERE u.id = p.user_id)`

	// 部分木（自身と子孫）にスレッドが1件も残っていない削除済みフォーラム。
	// スラッグの _ は LIKE のワイルドカードになるため前方一致は left() で判定する。
	deleteEmptyForums = `DELETE FROM forums f
		WHERE f.deleted_at IS NOT NULL
		AND NOT EXISTS (
			SELECT 1 FROM forums d
			JOIN threads t ON t.forum_id = d.id
			WHERE d.slug_path = f.slug_path
			OR left(d.slug_path, length(f.slug_path) + 1) = f.slug_path || '/'
		)`

	deleteDismissedNotifications = `DELETE FROM notifications
		WHERE dismissed_at IS NOT NULL AND dismissed_at <= $1`
)

type statement struct {
	query string
	args  []interface{}
}

type step struct {
	kind       string
	statements []statement
}

// CleanupJob はフォーラムの定期メンテナンスジョブ。
// 各ステップは冪等で、削除対象がなくてもエラーにならない。
type CleanupJob struct {
	db      Executor
	logger  *slog.Logger
	clock   clock.Clock
	metrics metrics.MetricsCollector

	ThreadGrace time.Duration // 論理削除されたスレッドの猶予期間（デフォルト: 365日）
	PostGrace   time.Duration // 論理削除された投稿の猶予期間（デフォルト: 365日）
}

// NewCleanupJob は新しいCleanupJobを生成する。
// mがnilの場合はメトリクスを記録しない。
func NewCleanupJob(db Executor, logger *slog.Logger, clk clock.Clock, m metrics.MetricsCollector) *CleanupJob {
	if m == nil {
		m = metrics.Nop{}
	}
	return &CleanupJob{
		db:          db,
		logger:      logger,
		clock:       clk,
		metrics:     m,
		ThreadGrace: defaultGracePeriod,
		PostGrace:   defaultGracePeriod,
	}
}

func (j *CleanupJob) steps(now time.Time) []step {
	threadCutoff := now.Add(-j.ThreadGrace)
	postCutoff := now.Add(-j.PostGrace)

	return []step{
		{KindThreads, []statement{{deleteExpiredThreads, []interface{}{threadCutoff}}}},
		{KindPosts, []statement{{deleteExpiredPosts, []interface{}{postCutoff}}}},
		{KindSubscriptions, []statement{
			{query: deleteInactiveForumSubscriptions},
			{query: deleteInactiveThreadSubscriptions},
		}},
		{KindReadMarkers, []statement{
			{query: deleteInactiveForumMarkers},
			{query: deleteInactiveThreadMarkers},
		}},
		{KindOrphanedRows, []statement{
			{query: deleteOrphanedForumSubscriptions},
			{query: deleteOrphanedThreadSubscriptions},
			{query: deleteOrphanedForumMarkers},
			{query: deleteOrphanedThreadMarkers},
			{query: deleteOrphanedProfiles},
		}},
		{KindForums, []statement{{query: deleteEmptyForums}}},
		{KindNotifications, []statement{{deleteDismissedNotifications, []interface{}{threadCutoff}}}},
	}
}

// Run は全ステップを順に実行する。
// 失敗したステップはログに記録して残りのステップを続行し、
// 失敗をまとめたエラーを返す。
func (j *CleanupJob) Run(ctx context.Context) error {
	start := time.Now()
	now := j.clock.Now()

	var errs []error
	var total int64
	for _, s := range j.steps(now) {
		deleted, err := j.runStep(ctx, s)
		total += deleted
		if err != nil {
			errs = append(errs, err)
		}
	}

	duration := time.Since(start)
	j.metrics.RecordCleanupDuration(duration)
	j.logger.Info("メンテナンスジョブが完了しました",
		slog.Int64("deleted_count", total),
		slog.Int("failed_steps", len(errs)),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
	)

	return errors.Join(errs...)
}

func (j *CleanupJob) runStep(ctx context.Context, s step) (int64, error) {
	start := time.Now()

	var deleted int64
	for _, st := range s.statements {
		result, err := j.db.ExecContext(ctx, st.query, st.args...)
		if err != nil {
			j.logger.Error("メンテナンスステップの実行に失敗しました",
				slog.String("kind", s.kind),
				slog.String("error", err.Error()),
			)
			return deleted, fmt.Errorf("%sのクリーンアップに失敗: %w", s.kind, err)
		}
		n, err := result.RowsAffected()
		if err != nil {
			j.logger.Error("削除件数の取得に失敗しました",
				slog.String("kind", s.kind),
				slog.String("error", err.Error()),
			)
			return deleted, fmt.Errorf("%sの削除件数の取得に失敗: %w", s.kind, err)
		}
		deleted += n
	}

	j.metrics.RecordCleanupDeleted(s.kind, deleted)
	j.logger.Info("メンテナンスステップが完了しました",
		slog.String("kind", s.kind),
		slog.Int64("deleted_count", deleted),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return deleted, nil
}
