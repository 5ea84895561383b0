package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/forumd/internal/model"
	"github.com/lib/pq"
)

const threadColumns = `t.id, t.forum_id, t.slug, t.title,
	t.sticky, t.global_sticky, t.closed, t.resolved, t.locked,
	t.first_post_id, t.last_post_id, t.deleted_at, t.last_modified, t.created_at`

// threadEntryColumns は一覧表示用に最初・最後の投稿と既読状態を結合した列。
// 既読判定: 最終投稿の更新日時 <= max(フォーラムマーカー, スレッドマーカー)。
// GREATEST は NULL を無視し、両方 NULL の場合は未読とする。
const threadEntryColumns = threadColumns + `,
	fp.author_id, lp.author_id, lp.last_modified_at,
	(SELECT COUNT(*) FROM posts p WHERE p.thread_id = t.id AND p.deleted_at IS NULL) - 1,
	COALESCE(lp.last_modified_at <= GREATEST(fm.last_read_at, tm.last_read_at), false)`

const threadEntryJoins = `
	JOIN forums f ON f.id = t.forum_id
	JOIN posts fp ON fp.id = t.first_post_id
	JOIN posts lp ON lp.id = t.last_post_id
	LEFT JOIN forum_read_markers fm
		ON fm.forum_id = t.forum_id AND fm.user_id = $2::uuid AND fm.active
	LEFT JOIN thread_read_markers tm
		ON tm.thread_id = t.id AND tm.user_id = $2::uuid AND tm.active`

// threadListFilter は所属フォーラムのスレッドと、閲覧可能な全体固定スレッドを対象にする。
const threadListFilter = `
	WHERE t.deleted_at IS NULL
	  AND (t.forum_id = $1 OR (t.global_sticky AND f.deleted_at IS NULL AND (NOT f.private OR $3)))`

// PostgresThreadRepo はPostgreSQLを使用したスレッドリポジトリ。
type PostgresThreadRepo struct {
	db DBTX
}

// NewPostgresThreadRepo はPostgresThreadRepoを生成する。
func NewPostgresThreadRepo(db DBTX) *PostgresThreadRepo {
	return &PostgresThreadRepo{db: db}
}

func scanThread(s rowScanner, extra ...any) (*model.Thread, error) {
	t := &model.Thread{}
	var deletedAt sql.NullTime
	dest := []any{
		&t.ID, &t.ForumID, &t.Slug, &t.Title,
		&t.Sticky, &t.GlobalSticky, &t.Closed, &t.Resolved, &t.Locked,
		&t.FirstPostID, &t.LastPostID, &deletedAt, &t.LastModified, &t.CreatedAt,
	}
	if err := s.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}
	t.DeletedAt = timePtr(deletedAt)
	return t, nil
}

func (r *PostgresThreadRepo) findOne(ctx context.Context, query, id string) (*model.Thread, error) {
	if !validID(id) {
		return nil, nil
	}
	t, err := scanThread(r.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("スレッドの取得に失敗しました: %w", err)
	}
	return t, nil
}

// FindByID は指定IDのスレッドを取得する。見つからない場合はnilを返す。
func (r *PostgresThreadRepo) FindByID(ctx context.Context, id string) (*model.Thread, error) {
	return r.findOne(ctx, `SELECT `+threadColumns+` FROM threads t WHERE t.id = $1`, id)
}

// FindByIDForUpdate はスレッド行をロックして取得する。
func (r *PostgresThreadRepo) FindByIDForUpdate(ctx context.Context, id string) (*model.Thread, error) {
	return r.findOne(ctx, `SELECT `+threadColumns+` FROM threads t WHERE t.id = $1 FOR UPDATE`, id)
}

// Create はスレッドを作成する。
// first_post_id / last_post_id の外部キーは遅延評価のため、最初の投稿より先に挿入してよい。
func (r *PostgresThreadRepo) Create(ctx context.Context, t *model.Thread) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO threads (id, forum_id, slug, title,
			sticky, global_sticky, closed, resolved, locked,
			first_post_id, last_post_id, deleted_at, last_modified, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		t.ID, t.ForumID, t.Slug, t.Title,
		t.Sticky, t.GlobalSticky, t.Closed, t.Resolved, t.Locked,
		t.FirstPostID, t.LastPostID, nullableTime(t.DeletedAt), t.LastModified, t.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("スレッドの作成に失敗しました: %w", err)
	}
	return nil
}

// Update はタイトル・スラッグ・所属フォーラム・各フラグ・更新日時を更新する。
func (r *PostgresThreadRepo) Update(ctx context.Context, t *model.Thread) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE threads SET
			forum_id = $2, slug = $3, title = $4,
			sticky = $5, global_sticky = $6, closed = $7, resolved = $8, locked = $9,
			last_modified = $10
		 WHERE id = $1`,
		t.ID, t.ForumID, t.Slug, t.Title,
		t.Sticky, t.GlobalSticky, t.Closed, t.Resolved, t.Locked,
		t.LastModified,
	)
	if err != nil {
		return fmt.Errorf("スレッドの更新に失敗しました: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("更新件数の取得に失敗しました: %w", err)
	}
	if rowsAffected == 0 {
		return model.NewThreadNotFoundError(t.ID)
	}
	return nil
}

// CompareAndSwapLastPost は last_post_id が expected の場合に限り next に置き換える。
func (r *PostgresThreadRepo) CompareAndSwapLastPost(ctx context.Context, threadID, expected, next string, now time.Time) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE threads SET last_post_id = $3, last_modified = $4
		 WHERE id = $1 AND last_post_id = $2`,
		threadID, expected, next, now,
	)
	if err != nil {
		return fmt.Errorf("最終投稿の更新に失敗しました: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("更新件数の取得に失敗しました: %w", err)
	}
	if rowsAffected == 0 {
		return model.NewConflictError()
	}
	return nil
}

// SoftDelete はスレッドに削除日時を設定する。
func (r *PostgresThreadRepo) SoftDelete(ctx context.Context, id string, at time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE threads SET deleted_at = $2, last_modified = $2 WHERE id = $1 AND deleted_at IS NULL`,
		id, at,
	)
	if err != nil {
		return fmt.Errorf("スレッドの削除に失敗しました: %w", err)
	}
	return nil
}

// ListByForum はフォーラムのスレッド一覧を表示順で返す。
func (r *PostgresThreadRepo) ListByForum(ctx context.Context, q model.ThreadListQuery) ([]model.ThreadListEntry, error) {
	viewer := nullableViewer(q.ViewerID)
	return r.queryEntries(ctx,
		`SELECT `+threadEntryColumns+` FROM threads t`+threadEntryJoins+threadListFilter+`
		 ORDER BY t.global_sticky DESC, t.sticky DESC, lp.last_modified_at DESC, t.id DESC
		 LIMIT $4 OFFSET $5`,
		q.ForumID, viewer, q.IncludePrivate, q.Limit, q.Offset,
	)
}

// CountByForum はListByForumの対象件数を返す。
func (r *PostgresThreadRepo) CountByForum(ctx context.Context, q model.ThreadListQuery) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM threads t
		 JOIN forums f ON f.id = t.forum_id
		 WHERE t.deleted_at IS NULL
		   AND (t.forum_id = $1 OR (t.global_sticky AND f.deleted_at IS NULL AND (NOT f.private OR $2)))`,
		q.ForumID, q.IncludePrivate,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("スレッド数の取得に失敗しました: %w", err)
	}
	return count, nil
}

// ListLatestByForum はフォーラムのスレッドを作成日時の新しい順に返す。
func (r *PostgresThreadRepo) ListLatestByForum(ctx context.Context, forumID string, limit int) ([]model.ThreadListEntry, error) {
	return r.queryEntries(ctx,
		`SELECT `+threadEntryColumns+` FROM threads t`+threadEntryJoins+`
		 WHERE t.forum_id = $1 AND t.deleted_at IS NULL
		 ORDER BY t.created_at DESC, t.id DESC
		 LIMIT $3`,
		forumID, nil, limit,
	)
}

// SetClosedByForums は指定フォーラム群のスレッドの closed を一括設定する。
func (r *PostgresThreadRepo) SetClosedByForums(ctx context.Context, forumIDs []string, closed bool, now time.Time) error {
	if len(forumIDs) == 0 {
		return nil
	}
	_, err := r.db.ExecContext(ctx,
		`UPDATE threads SET closed = $2, last_modified = $3
		 WHERE forum_id = ANY($1::uuid[]) AND deleted_at IS NULL AND closed <> $2`,
		pq.Array(forumIDs), closed, now,
	)
	if err != nil {
		return fmt.Errorf("スレッドのクローズ状態の一括更新に失敗しました: %w", err)
	}
	return nil
}

// SoftDeleteByForums は指定フォーラム群のスレッドを一括で論理削除する。
func (r *PostgresThreadRepo) SoftDeleteByForums(ctx context.Context, forumIDs []string, at time.Time) error {
	if len(forumIDs) == 0 {
		return nil
	}
	_, err := r.db.ExecContext(ctx,
		`UPDATE threads SET deleted_at = $2, last_modified = $2
		 WHERE forum_id = ANY($1::uuid[]) AND deleted_at IS NULL`,
		pq.Array(forumIDs), at,
	)
	if err != nil {
		return fmt.Errorf("スレッドの一括削除に失敗しました: %w", err)
	}
	return nil
}

func (r *PostgresThreadRepo) queryEntries(ctx context.Context, query string, args ...any) ([]model.ThreadListEntry, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("スレッド一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var entries []model.ThreadListEntry
	for rows.Next() {
		var e model.ThreadListEntry
		t, err := scanThread(rows,
			&e.FirstPostAuthorID, &e.LastPostAuthorID, &e.LastPostModifiedAt,
			&e.ReplyCount, &e.IsRead,
		)
		if err != nil {
			return nil, fmt.Errorf("スレッド行の読み取りに失敗しました: %w", err)
		}
		e.Thread = *t
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("スレッド一覧の走査に失敗しました: %w", err)
	}
	return entries, nil
}

// nullableViewer は未ログイン時にNULLを渡し、既読マーカーと結合しないようにする。
func nullableViewer(viewerID string) any {
	if viewerID == "" {
		return nil
	}
	return viewerID
}

// compile-time interface check
var _ ThreadRepository = (*PostgresThreadRepo)(nil)
