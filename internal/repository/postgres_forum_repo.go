package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/hitoshi/forumd/internal/model"
	"github.com/lib/pq"
)

const forumColumns = `id, parent_id, slug, slug_path, title,
	description_source, description_html, description_text,
	ordering, private, closed, deleted_at, last_modified, created_at`

// PostgresForumRepo はPostgreSQLを使用したフォーラムリポジトリ。
type PostgresForumRepo struct {
	db DBTX
}

// NewPostgresForumRepo はPostgresForumRepoを生成する。
func NewPostgresForumRepo(db DBTX) *PostgresForumRepo {
	return &PostgresForumRepo{db: db}
}

func scanForum(s rowScanner) (*model.Forum, error) {
	f := &model.Forum{}
	var parentID sql.NullString
	var deletedAt sql.NullTime
	err := s.Scan(
		&f.ID, &parentID, &f.Slug, &f.SlugPath, &f.Title,
		&f.DescriptionSource, &f.DescriptionHTML, &f.DescriptionText,
		&f.Ordering, &f.Private, &f.Closed, &deletedAt, &f.LastModified, &f.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	f.ParentID = stringPtr(parentID)
	f.DeletedAt = timePtr(deletedAt)
	return f, nil
}

func (r *PostgresForumRepo) queryForums(ctx context.Context, query string, args ...any) ([]*model.Forum, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("フォーラム一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var forums []*model.Forum
	for rows.Next() {
		f, err := scanForum(rows)
		if err != nil {
			return nil, fmt.Errorf("フォーラム行の読み取りに失敗しました: %w", err)
		}
		forums = append(forums, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("フォーラム一覧の走査に失敗しました: %w", err)
	}
	return forums, nil
}

// FindByID は指定IDのフォーラムを取得する。見つからない場合はnilを返す。
func (r *PostgresForumRepo) FindByID(ctx context.Context, id string) (*model.Forum, error) {
	if !validID(id) {
		return nil, nil
	}
	f, err := scanForum(r.db.QueryRowContext(ctx,
		`SELECT `+forumColumns+` FROM forums WHERE id = $1`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("フォーラムの取得に失敗しました: %w", err)
	}
	return f, nil
}

// FindBySlugPath はスラッグパスでフォーラムを取得する。見つからない場合はnilを返す。
func (r *PostgresForumRepo) FindBySlugPath(ctx context.Context, slugPath string) (*model.Forum, error) {
	f, err := scanForum(r.db.QueryRowContext(ctx,
		`SELECT `+forumColumns+` FROM forums WHERE slug_path = $1`, slugPath))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("スラッグパスによるフォーラムの取得に失敗しました: %w", err)
	}
	return f, nil
}

// FindBySlugPaths は複数のスラッグパスに一致するフォーラムを一括で取得する。
func (r *PostgresForumRepo) FindBySlugPaths(ctx context.Context, slugPaths []string) ([]*model.Forum, error) {
	if len(slugPaths) == 0 {
		return nil, nil
	}
	return r.queryForums(ctx,
		`SELECT `+forumColumns+` FROM forums WHERE slug_path = ANY($1::text[])`,
		pq.Array(slugPaths),
	)
}

// SlugExists は同じ親の下に同じスラッグのフォーラムが存在するかを返す。
func (r *PostgresForumRepo) SlugExists(ctx context.Context, parentID *string, slug string, excludeID *string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS(
			SELECT 1 FROM forums
			WHERE parent_id IS NOT DISTINCT FROM $1::uuid
			  AND slug = $2
			  AND ($3::uuid IS NULL OR id <> $3::uuid)
		)`,
		nullableString(parentID), slug, nullableString(excludeID),
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("スラッグの重複確認に失敗しました: %w", err)
	}
	return exists, nil
}

// Create はフォーラムを作成する。
// スラッグパスの一意制約違反はSLUG_IN_USEエラーに変換する。
func (r *PostgresForumRepo) Create(ctx context.Context, f *model.Forum) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO forums (`+forumColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		f.ID, nullableString(f.ParentID), f.Slug, f.SlugPath, f.Title,
		f.DescriptionSource, f.DescriptionHTML, f.DescriptionText,
		f.Ordering, f.Private, f.Closed, nullableTime(f.DeletedAt), f.LastModified, f.CreatedAt,
	)
	if isUniqueViolation(err) {
		return model.NewSlugInUseError(f.Slug)
	}
	if err != nil {
		return fmt.Errorf("フォーラムの作成に失敗しました: %w", err)
	}
	return nil
}

// Update はフォーラムの可変項目を更新する。
func (r *PostgresForumRepo) Update(ctx context.Context, f *model.Forum) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE forums SET
			parent_id = $2, slug = $3, slug_path = $4, title = $5,
			description_source = $6, description_html = $7, description_text = $8,
			ordering = $9, private = $10, closed = $11, deleted_at = $12, last_modified = $13
		 WHERE id = $1`,
		f.ID, nullableString(f.ParentID), f.Slug, f.SlugPath, f.Title,
		f.DescriptionSource, f.DescriptionHTML, f.DescriptionText,
		f.Ordering, f.Private, f.Closed, nullableTime(f.DeletedAt), f.LastModified,
	)
	if isUniqueViolation(err) {
		return model.NewSlugInUseError(f.Slug)
	}
	if err != nil {
		return fmt.Errorf("フォーラムの更新に失敗しました: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("更新件数の取得に失敗しました: %w", err)
	}
	if rowsAffected == 0 {
		return model.NewForumNotFoundError(f.ID)
	}
	return nil
}

// ListChildren は論理削除されていない子フォーラムを (ordering, title) 順で返す。
func (r *PostgresForumRepo) ListChildren(ctx context.Context, parentID *string) ([]*model.Forum, error) {
	return r.queryForums(ctx,
		`SELECT `+forumColumns+` FROM forums
		 WHERE parent_id IS NOT DISTINCT FROM $1::uuid AND deleted_at IS NULL
		 ORDER BY ordering ASC, title ASC, id ASC`,
		nullableString(parentID),
	)
}

// ListSubtreeForUpdate は指定スラッグパスのフォーラムとその子孫を行ロックして返す。
// スラッグには LIKE のワイルドカードが含まれ得るため前方一致は left() で判定する。
func (r *PostgresForumRepo) ListSubtreeForUpdate(ctx context.Context, slugPath string) ([]*model.Forum, error) {
	return r.queryForums(ctx,
		`SELECT `+forumColumns+` FROM forums
		 WHERE slug_path = $1 OR left(slug_path, length($1) + 1) = $1 || '/'
		 ORDER BY length(slug_path) ASC, slug_path ASC
		 FOR UPDATE`,
		slugPath,
	)
}

// isUniqueViolation はPostgreSQLの一意制約違反（23505）かどうかを判定する。
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

// compile-time interface check
var _ ForumRepository = (*PostgresForumRepo)(nil)
