package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/forumd/internal/model"
)

const postColumns = `id, thread_id, author_id,
	published_at, last_content_modified_at, last_modified_at, last_modified_by_id,
	content_source, content_html, content_text, summary_html, footnotes_html,
	host(author_ip), deleted_at`

// PostgresPostRepo はPostgreSQLを使用した投稿リポジトリ。
type PostgresPostRepo struct {
	db DBTX
}

// NewPostgresPostRepo はPostgresPostRepoを生成する。
func NewPostgresPostRepo(db DBTX) *PostgresPostRepo {
	return &PostgresPostRepo{db: db}
}

func scanPost(s rowScanner) (*model.Post, error) {
	p := &model.Post{}
	var authorIP sql.NullString
	var deletedAt sql.NullTime
	err := s.Scan(
		&p.ID, &p.ThreadID, &p.AuthorID,
		&p.PublishedAt, &p.LastContentModifiedAt, &p.LastModifiedAt, &p.LastModifiedByID,
		&p.ContentSource, &p.ContentHTML, &p.ContentText, &p.SummaryHTML, &p.FootnotesHTML,
		&authorIP, &deletedAt,
	)
	if err != nil {
		return nil, err
	}
	p.PublishedAt = p.PublishedAt.UTC()
	p.LastContentModifiedAt = p.LastContentModifiedAt.UTC()
	p.LastModifiedAt = p.LastModifiedAt.UTC()
	p.AuthorIP = stringPtr(authorIP)
	p.DeletedAt = timePtr(deletedAt)
	return p, nil
}

// FindByID は指定IDの投稿を取得する。見つからない場合はnilを返す。
func (r *PostgresPostRepo) FindByID(ctx context.Context, id string) (*model.Post, error) {
	if !validID(id) {
		return nil, nil
	}
	p, err := scanPost(r.db.QueryRowContext(ctx,
		`SELECT `+postColumns+` FROM posts WHERE id = $1`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("投稿の取得に失敗しました: %w", err)
	}
	return p, nil
}

// Create は投稿を作成する。
func (r *PostgresPostRepo) Create(ctx context.Context, p *model.Post) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO posts (id, thread_id, author_id,
			published_at, last_content_modified_at, last_modified_at, last_modified_by_id,
			content_source, content_html, content_text, summary_html, footnotes_html,
			author_ip, deleted_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13::inet, $14)`,
		p.ID, p.ThreadID, p.AuthorID,
		p.PublishedAt, p.LastContentModifiedAt, p.LastModifiedAt, p.LastModifiedByID,
		p.ContentSource, p.ContentHTML, p.ContentText, p.SummaryHTML, p.FootnotesHTML,
		nullableString(p.AuthorIP), nullableTime(p.DeletedAt),
	)
	if err != nil {
		return fmt.Errorf("投稿の作成に失敗しました: %w", err)
	}
	return nil
}

// Update は本文・レンダリングキャッシュ・更新日時・更新者・投稿元IPを更新する。
func (r *PostgresPostRepo) Update(ctx context.Context, p *model.Post) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE posts SET
			last_content_modified_at = $2, last_modified_at = $3, last_modified_by_id = $4,
			content_source = $5, content_html = $6, content_text = $7,
			summary_html = $8, footnotes_html = $9, author_ip = $10::inet
		 WHERE id = $1`,
		p.ID,
		p.LastContentModifiedAt, p.LastModifiedAt, p.LastModifiedByID,
		p.ContentSource, p.ContentHTML, p.ContentText,
		p.SummaryHTML, p.FootnotesHTML, nullableString(p.AuthorIP),
	)
	if err != nil {
		return fmt.Errorf("投稿の更新に失敗しました: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("更新件数の取得に失敗しました: %w", err)
	}
	if rowsAffected == 0 {
		return model.NewPostNotFoundError(p.ID)
	}
	return nil
}

// SoftDelete は投稿に削除日時を設定する。
func (r *PostgresPostRepo) SoftDelete(ctx context.Context, id string, at time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE posts SET deleted_at = $2 WHERE id = $1 AND deleted_at IS NULL`,
		id, at,
	)
	if err != nil {
		return fmt.Errorf("投稿の削除に失敗しました: %w", err)
	}
	return nil
}

// FindNewestAlive は論理削除されていない投稿のうち last_modified_at が最新のものを返す。
func (r *PostgresPostRepo) FindNewestAlive(ctx context.Context, threadID string) (*model.Post, error) {
	p, err := scanPost(r.db.QueryRowContext(ctx,
		`SELECT `+postColumns+` FROM posts
		 WHERE thread_id = $1 AND deleted_at IS NULL
		 ORDER BY last_modified_at DESC, id DESC
		 LIMIT 1`,
		threadID,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("最新投稿の取得に失敗しました: %w", err)
	}
	return p, nil
}

// ListByThread はスレッドの投稿を (published_at, id) 昇順で返す。
func (r *PostgresPostRepo) ListByThread(ctx context.Context, threadID string, includeDeleted bool, offset, limit int) ([]*model.Post, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+postColumns+` FROM posts
		 WHERE thread_id = $1 AND ($2 OR deleted_at IS NULL)
		 ORDER BY published_at ASC, id ASC
		 LIMIT $3 OFFSET $4`,
		threadID, includeDeleted, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("投稿一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var posts []*model.Post
	for rows.Next() {
		p, err := scanPost(rows)
		if err != nil {
			return nil, fmt.Errorf("投稿行の読み取りに失敗しました: %w", err)
		}
		posts = append(posts, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("投稿一覧の走査に失敗しました: %w", err)
	}
	return posts, nil
}

// CountByThread はスレッドの投稿数を返す。
func (r *PostgresPostRepo) CountByThread(ctx context.Context, threadID string, includeDeleted bool) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM posts WHERE thread_id = $1 AND ($2 OR deleted_at IS NULL)`,
		threadID, includeDeleted,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("投稿数の取得に失敗しました: %w", err)
	}
	return count, nil
}

// CountBefore は同じスレッドで (published_at, id) が post より前の投稿数を返す。
func (r *PostgresPostRepo) CountBefore(ctx context.Context, p *model.Post, includeDeleted bool) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM posts
		 WHERE thread_id = $1 AND ($2 OR deleted_at IS NULL)
		   AND (published_at, id) < ($3, $4::uuid)`,
		p.ThreadID, includeDeleted, p.PublishedAt, p.ID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("投稿位置の取得に失敗しました: %w", err)
	}
	return count, nil
}

// compile-time interface check
var _ PostRepository = (*PostgresPostRepo)(nil)
